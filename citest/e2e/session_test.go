package e2e_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/custodian/internal/testutil"
	"github.com/opencode-ai/custodian/pkg/types"
)

func userMessage(sessionID, id, text string) testutil.StoredMessage {
	return testutil.StoredMessage{
		Info:  map[string]any{"id": id, "sessionID": sessionID, "role": "user"},
		Parts: []map[string]any{{"id": id + "_p", "messageID": id, "sessionID": sessionID, "type": "text", "text": text}},
	}
}

var _ = Describe("Session Workflows", func() {
	var (
		h   *harness
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness()
	})

	Describe("Startup", func() {
		It("restores the last used session when the server still has it", func() {
			older := h.srv.AddSession("older")
			h.srv.AddSession("newer")
			Expect(h.prefs.SetLastSessionID(older.ID)).To(Succeed())

			Expect(h.engine.AutoSelectSession(ctx)).To(Succeed())
			Expect(h.engine.CurrentSessionID()).To(Equal(older.ID))
		})

		It("falls back to the newest session and forgets a vanished one", func() {
			h.srv.AddSession("older")
			newer := h.srv.AddSession("newer")
			Expect(h.prefs.SetLastSessionID("ses_gone")).To(Succeed())

			Expect(h.engine.AutoSelectSession(ctx)).To(Succeed())
			Expect(h.engine.CurrentSessionID()).To(Equal(newer.ID))
			Expect(h.prefs.LastSessionID()).To(Equal(newer.ID))
		})

		It("stays without a session when the server has none", func() {
			Expect(h.engine.AutoSelectSession(ctx)).To(Succeed())
			Expect(h.engine.CurrentSessionID()).To(BeEmpty())
		})
	})

	Describe("Lifecycle", func() {
		It("creates a session, makes it current and remembers it", func() {
			s, err := h.engine.CreateSession(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.engine.CurrentSessionID()).To(Equal(s.ID))
			Expect(h.prefs.LastSessionID()).To(Equal(s.ID))
			Expect(h.engine.Sessions()).To(ContainElement(HaveField("ID", s.ID)))

			created := h.srv.Requests(testutil.OpCreateSession)
			Expect(created).To(HaveLen(1))
			Expect(created[0].Directory).To(Equal("/work/repo"))
		})

		It("leaves the state untouched when creation fails", func() {
			existing := h.srv.AddSession("existing")
			Expect(h.engine.SwitchSession(ctx, existing.ID)).To(Succeed())
			h.srv.Fail(testutil.OpCreateSession, 500)

			_, err := h.engine.CreateSession(ctx)
			Expect(err).To(HaveOccurred())
			Expect(h.engine.CurrentSessionID()).To(Equal(existing.ID))
		})

		It("clears the view when the current session is deleted", func() {
			s := h.srv.AddSession("doomed")
			h.srv.AddMessage(s.ID, userMessage(s.ID, "msg_1", "hello"))
			Expect(h.engine.SwitchSession(ctx, s.ID)).To(Succeed())
			Expect(h.texts()).To(Equal([]string{"user: hello"}))

			Expect(h.engine.DeleteSession(ctx, s.ID)).To(Succeed())
			Expect(h.engine.CurrentSessionID()).To(BeEmpty())
			Expect(h.engine.Snapshot().Messages).To(BeEmpty())
			Expect(h.prefs.LastSessionID()).To(BeEmpty())
		})

		It("refreshes the session list when another client creates one", func() {
			h.connect()
			Expect(h.engine.Sessions()).To(BeEmpty())

			s := h.srv.AddSession("from elsewhere")
			h.srv.Emit("session.created", map[string]any{"info": map[string]any{"id": s.ID, "title": s.Title}})

			Eventually(h.engine.Sessions).Should(ContainElement(HaveField("Title", "from elsewhere")))
		})
	})

	Describe("Switching", func() {
		It("loads history and ignores events from other sessions", func() {
			a := h.srv.AddSession("a")
			b := h.srv.AddSession("b")
			h.srv.AddMessage(a.ID, userMessage(a.ID, "msg_a1", "in a"))
			h.connect()

			Expect(h.engine.SwitchSession(ctx, a.ID)).To(Succeed())
			Expect(h.texts()).To(Equal([]string{"user: in a"}))

			h.srv.Emit("message.updated", map[string]any{"info": map[string]any{"id": "msg_b1", "sessionID": b.ID, "role": "assistant"}})
			h.srv.Emit("message.updated", map[string]any{"info": map[string]any{"id": "msg_a2", "sessionID": a.ID, "role": "assistant"}})

			Eventually(func() int { return len(h.engine.Snapshot().Messages) }).Should(Equal(2))
			Consistently(h.texts, 100*time.Millisecond).Should(Equal([]string{"user: in a", "assistant: "}))
		})

		It("discards a history that arrives after the user moved on", func() {
			a := h.srv.AddSession("a")
			b := h.srv.AddSession("b")
			h.srv.AddMessage(a.ID, userMessage(a.ID, "msg_a1", "stale"))
			h.srv.AddMessage(b.ID, userMessage(b.ID, "msg_b1", "fresh"))
			release := h.srv.HoldHistory(a.ID)

			switched := make(chan error, 1)
			go func() { switched <- h.engine.SwitchSession(ctx, a.ID) }()
			Eventually(func() int { return len(h.srv.Requests(testutil.OpMessages)) }).Should(Equal(1))

			Expect(h.engine.SwitchSession(ctx, b.ID)).To(Succeed())
			release()
			Eventually(switched).Should(Receive(BeNil()))

			Expect(h.engine.CurrentSessionID()).To(Equal(b.ID))
			Expect(h.texts()).To(Equal([]string{"user: fresh"}))
			Expect(h.prefs.LastSessionID()).To(Equal(b.ID))
		})

		It("keeps events observed while the history was loading", func() {
			a := h.srv.AddSession("a")
			h.srv.AddMessage(a.ID, userMessage(a.ID, "msg_1", "from history"))
			h.connect()
			release := h.srv.HoldHistory(a.ID)

			switched := make(chan error, 1)
			go func() { switched <- h.engine.SwitchSession(ctx, a.ID) }()
			Eventually(h.engine.CurrentSessionID).Should(Equal(a.ID))

			h.srv.Emit("message.updated", map[string]any{"info": map[string]any{"id": "msg_2", "sessionID": a.ID, "role": "assistant"}})
			h.srv.Emit("message.part.updated", map[string]any{"part": map[string]any{
				"id": "prt_2", "messageID": "msg_2", "sessionID": a.ID, "type": "text", "text": "live",
			}})
			Eventually(h.texts).Should(Equal([]string{"assistant: live"}))

			release()
			Eventually(switched).Should(Receive(BeNil()))
			Expect(h.texts()).To(Equal([]string{"user: from history", "assistant: live"}))
		})

		It("shows an empty view when the history cannot be loaded", func() {
			a := h.srv.AddSession("a")
			h.srv.Fail(testutil.OpMessages, 500)

			Expect(h.engine.SwitchSession(ctx, a.ID)).To(Succeed())
			Expect(h.engine.CurrentSessionID()).To(Equal(a.ID))
			Expect(h.engine.Snapshot().Messages).To(BeEmpty())
		})
	})

	Describe("Model selection", func() {
		It("persists the selection and sends it with prompts", func() {
			s := h.srv.AddSession("s")
			Expect(h.engine.SwitchSession(ctx, s.ID)).To(Succeed())

			h.engine.SelectModel("openai", "gpt-4o")
			Expect(h.prefs.LastModel()).To(Equal(&types.ModelRef{ProviderID: "openai", ModelID: "gpt-4o"}))

			Expect(h.engine.Send(ctx, "hi")).To(Succeed())
			prompts := h.srv.Requests(testutil.OpPromptAsync)
			Expect(prompts).To(HaveLen(1))
			Expect(string(prompts[0].Body)).To(ContainSubstring(`"modelID":"gpt-4o"`))

			h.engine.ClearModel()
			Expect(h.prefs.LastModel()).To(BeNil())
		})
	})
})
