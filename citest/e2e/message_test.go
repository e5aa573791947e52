package e2e_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/custodian/internal/diffctx"
	"github.com/opencode-ai/custodian/internal/testutil"
	"github.com/opencode-ai/custodian/pkg/types"
)

var _ = Describe("Message Workflows", func() {
	var (
		h   *harness
		ctx context.Context
		s   types.Session
	)

	Describe("with a replying agent", func() {
		BeforeEach(func() {
			ctx = context.Background()
			h = newHarness(testutil.WithAutoReply("The parser lives in internal/event."))
			h.connect()
		})

		It("creates a session on first send and streams the reply", func() {
			Expect(h.engine.SendMessage(ctx, "where is the parser?")).To(Succeed())

			Eventually(h.streaming).Should(BeFalse())
			Expect(h.texts()).To(Equal([]string{
				"user: where is the parser?",
				"assistant: The parser lives in internal/event.",
			}))

			msgs := h.engine.Snapshot().Messages
			Expect(msgs[0].IsOptimistic()).To(BeFalse(), "the server id replaces the local one")
			Expect(msgs[0].Parts).To(HaveLen(1))
			Expect(h.engine.CurrentSessionID()).To(Equal(h.srv.Sessions()[0].ID))
		})

		It("matches the history a fresh client would load", func() {
			Expect(h.engine.SendMessage(ctx, "first")).To(Succeed())
			Eventually(h.streaming).Should(BeFalse())

			history, err := h.client.Messages(ctx, h.engine.CurrentSessionID())
			Expect(err).NotTo(HaveOccurred())
			var loaded []string
			for _, m := range history {
				loaded = append(loaded, string(m.Role)+": "+m.Text())
			}
			Expect(loaded).To(Equal(h.texts()))
		})
	})

	Describe("with diff context", func() {
		BeforeEach(func() {
			ctx = context.Background()
			h = newHarness(testutil.WithAutoReply("ok"))

			root, err := os.MkdirTemp("", "custodian-diff-")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(os.RemoveAll, root)
			path := filepath.Join(root, "main.go")
			Expect(os.WriteFile(path, []byte("package main\n"), 0o644)).To(Succeed())

			diff := diffctx.NewProvider(root, []string{"**/*.lock"})
			Expect(diff.Track("main.go")).To(Succeed())
			Expect(os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0o644)).To(Succeed())

			h.useDiff(diff)
			h.connect()
		})

		It("sends the changed files ahead of the prompt", func() {
			Expect(h.engine.SendMessage(ctx, "review")).To(Succeed())
			prompts := h.srv.Requests(testutil.OpPromptAsync)
			Expect(prompts).To(HaveLen(1))
			var body struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			}
			Expect(json.Unmarshal(prompts[0].Body, &body)).To(Succeed())
			Expect(body.Parts).To(HaveLen(1))
			text := body.Parts[0].Text
			Expect(text).To(HavePrefix(`<diff_context source="working">`))
			Expect(text).To(ContainSubstring("M main.go +2/-0"))
			Expect(text).To(HaveSuffix("</diff_context>\n\nreview"))

			Eventually(h.streaming).Should(BeFalse())
			Expect(h.texts()[0]).To(Equal("user: review"), "the view shows what the user typed")
		})
	})

	Describe("with scripted events", func() {
		BeforeEach(func() {
			ctx = context.Background()
			h = newHarness()
			s = h.srv.AddSession("scripted")
			h.connect()
			Expect(h.engine.SwitchSession(ctx, s.ID)).To(Succeed())
		})

		part := func(id, messageID, text string) map[string]any {
			return map[string]any{"part": map[string]any{
				"id": id, "messageID": messageID, "sessionID": s.ID, "type": "text", "text": text,
			}}
		}
		info := func(id, role string) map[string]any {
			return map[string]any{"info": map[string]any{"id": id, "sessionID": s.ID, "role": role}}
		}

		It("buffers parts that arrive before their message", func() {
			h.srv.Emit("message.part.updated", part("prt_2", "msg_1", "second"))
			h.srv.Emit("message.part.updated", part("prt_1", "msg_1", "first"))
			Eventually(func() int { return len(h.engine.Snapshot().BufferedParts) }).Should(Equal(2))
			Expect(h.engine.Snapshot().Messages).To(BeEmpty())

			h.srv.Emit("message.updated", info("msg_1", "assistant"))
			Eventually(h.texts).Should(Equal([]string{"assistant: second\nfirst"}))
			Expect(h.engine.Snapshot().BufferedParts).To(BeEmpty())
		})

		It("appends deltas and applies removals", func() {
			h.srv.Emit("message.updated", info("msg_1", "assistant"))
			h.srv.Emit("message.part.updated", part("prt_1", "msg_1", ""))
			for _, word := range strings.SplitAfter("one two three", " ") {
				h.srv.Emit("message.part.delta", map[string]any{
					"sessionID": s.ID, "messageID": "msg_1", "partID": "prt_1", "field": "text", "delta": word,
				})
			}
			Eventually(h.texts).Should(Equal([]string{"assistant: one two three"}))

			h.srv.Emit("message.part.delta", map[string]any{
				"sessionID": s.ID, "messageID": "msg_1", "partID": "prt_missing", "delta": "lost",
			})
			h.srv.Emit("message.part.removed", map[string]any{"sessionID": s.ID, "messageID": "msg_1", "partID": "prt_1"})
			Eventually(h.texts).Should(Equal([]string{"assistant: "}))

			h.srv.Emit("message.removed", map[string]any{"sessionID": s.ID, "messageID": "msg_1"})
			Eventually(func() []types.Message { return h.engine.Snapshot().Messages }).Should(BeEmpty())
		})

		It("tracks the busy flag and surfaces session errors", func() {
			h.srv.Emit("session.status", map[string]any{"sessionID": s.ID, "status": map[string]any{"type": "busy"}})
			Eventually(h.streaming).Should(BeTrue())

			h.srv.Emit("session.error", map[string]any{"sessionID": s.ID, "error": map[string]any{"name": "APIError", "data": map[string]any{"message": "rate limited"}}})
			Eventually(h.streaming).Should(BeFalse())
			Expect(h.engine.Snapshot().Error).To(Equal("rate limited"))
		})

		It("keeps the optimistic message when the prompt fails", func() {
			h.srv.Fail(testutil.OpPromptAsync, 500)

			Expect(h.engine.Send(ctx, "will fail")).To(HaveOccurred())
			snap := h.engine.Snapshot()
			Expect(snap.IsStreaming).To(BeFalse())
			Expect(snap.Error).To(ContainSubstring("500"))
			Expect(snap.Messages).To(HaveLen(1))
			Expect(snap.Messages[0].IsOptimistic()).To(BeTrue())
		})

		It("cancels a running turn", func() {
			h.srv.Emit("session.status", map[string]any{"sessionID": s.ID, "status": map[string]any{"type": "busy"}})
			Eventually(h.streaming).Should(BeTrue())

			h.engine.Cancel(ctx)
			Expect(h.streaming()).To(BeFalse())
			aborts := h.srv.Requests(testutil.OpAbort)
			Expect(aborts).To(HaveLen(1))
			Expect(aborts[0].SessionID).To(Equal(s.ID))
		})

		It("compacts and runs commands against the current session", func() {
			Expect(h.engine.Compact(ctx)).To(Succeed())
			Expect(h.engine.RunCommand(ctx, "/review src/")).To(Succeed())

			Expect(h.srv.Requests(testutil.OpSummarize)).To(HaveLen(1))
			commands := h.srv.Requests(testutil.OpCommand)
			Expect(commands).To(HaveLen(1))
			Expect(string(commands[0].Body)).To(MatchJSON(`{"command":"review","arguments":"src/"}`))
		})
	})
})
