package e2e_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/custodian/internal/testutil"
	"github.com/opencode-ai/custodian/pkg/types"
)

var _ = Describe("Permissions and Questions", func() {
	var (
		h   *harness
		ctx context.Context
		s   types.Session
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness()
		s = h.srv.AddSession("interactive")
		h.connect()
		Expect(h.engine.SwitchSession(ctx, s.ID)).To(Succeed())
	})

	askPermission := func(id, title string) {
		h.srv.Emit("permission.asked", map[string]any{
			"id": id, "sessionID": s.ID, "title": title, "permission": "bash",
			"metadata": map[string]any{"command": "ls"},
		})
	}
	permissionIDs := func() []string {
		var ids []string
		for _, p := range h.engine.Snapshot().Permissions {
			ids = append(ids, p.ID)
		}
		return ids
	}

	Describe("Permissions", func() {
		It("queues requests in arrival order and updates in place", func() {
			askPermission("per_1", "Run ls")
			askPermission("per_2", "Edit main.go")
			askPermission("per_1", "Run ls -la")

			Eventually(permissionIDs).Should(Equal([]string{"per_1", "per_2"}))
			head := h.engine.Snapshot().Permission
			Expect(head.ID).To(Equal("per_1"))
			Expect(head.Title).To(Equal("Run ls -la"))
			Expect(head.Metadata).To(HaveKeyWithValue("command", "ls"))
		})

		It("ignores requests for other sessions", func() {
			h.srv.Emit("permission.asked", map[string]any{"id": "per_x", "sessionID": "ses_other", "title": "nope"})
			askPermission("per_1", "Run ls")

			Eventually(permissionIDs).Should(Equal([]string{"per_1"}))
		})

		It("replies and drops the request immediately", func() {
			askPermission("per_1", "Run ls")
			askPermission("per_2", "Edit main.go")
			Eventually(permissionIDs).Should(HaveLen(2))

			Expect(h.engine.ReplyPermission(ctx, "per_1", types.PermissionAlways)).To(Succeed())
			Expect(permissionIDs()).To(Equal([]string{"per_2"}))

			replies := h.srv.Requests(testutil.OpPermission)
			Expect(replies).To(HaveLen(1))
			Expect(replies[0].Path).To(HaveSuffix("/permissions/per_1"))
			Expect(string(replies[0].Body)).To(MatchJSON(`{"response":"always"}`))
		})

		It("drops requests answered by another client", func() {
			askPermission("per_1", "Run ls")
			Eventually(permissionIDs).Should(HaveLen(1))

			h.srv.Emit("permission.replied", map[string]any{"sessionID": s.ID, "permissionID": "per_1", "response": "once"})
			Eventually(permissionIDs).Should(BeEmpty())
		})

		It("rejects invalid responses without calling the server", func() {
			askPermission("per_1", "Run ls")
			Eventually(permissionIDs).Should(HaveLen(1))

			Expect(h.engine.ReplyPermission(ctx, "per_1", "sometimes")).To(HaveOccurred())
			Expect(permissionIDs()).To(HaveLen(1))
			Expect(h.srv.Requests(testutil.OpPermission)).To(BeEmpty())
		})

		It("clears pending requests on cancel and on switch", func() {
			askPermission("per_1", "Run ls")
			Eventually(permissionIDs).Should(HaveLen(1))
			h.engine.Cancel(ctx)
			Expect(permissionIDs()).To(BeEmpty())

			askPermission("per_2", "Run ls")
			Eventually(permissionIDs).Should(HaveLen(1))
			other := h.srv.AddSession("other")
			Expect(h.engine.SwitchSession(ctx, other.ID)).To(Succeed())
			Expect(permissionIDs()).To(BeEmpty())
		})
	})

	Describe("Questions", func() {
		ask := func(id string) {
			h.srv.Emit("question.asked", map[string]any{"request": map[string]any{
				"id": id, "sessionID": s.ID,
				"questions": []map[string]any{{
					"header": "Scope", "question": "Which packages?", "multiple": true,
					"options": []map[string]any{{"label": "event"}, {"label": "remote", "description": "HTTP client"}},
				}},
			}})
		}

		It("exposes the head question with its options", func() {
			ask("que_1")
			Eventually(func() *types.QuestionRequest { return h.engine.Snapshot().Question }).ShouldNot(BeNil())

			q := h.engine.Snapshot().Question
			Expect(q.ID).To(Equal("que_1"))
			Expect(q.Questions).To(HaveLen(1))
			Expect(q.Questions[0].Multiple).To(BeTrue())
			Expect(q.Questions[0].Options[1]).To(Equal(types.QuestionOption{Label: "remote", Description: "HTTP client"}))
		})

		It("answers a question", func() {
			ask("que_1")
			Eventually(func() int { return len(h.engine.Snapshot().Questions) }).Should(Equal(1))

			Expect(h.engine.ReplyQuestion(ctx, "que_1", [][]string{{"event", "remote"}})).To(Succeed())
			Expect(h.engine.Snapshot().Questions).To(BeEmpty())

			replies := h.srv.Requests(testutil.OpQuestionReply)
			Expect(replies).To(HaveLen(1))
			Expect(string(replies[0].Body)).To(MatchJSON(`{"answers":[["event","remote"]]}`))
		})

		It("rejects a question and surfaces server failures", func() {
			ask("que_1")
			ask("que_2")
			Eventually(func() int { return len(h.engine.Snapshot().Questions) }).Should(Equal(2))

			Expect(h.engine.RejectQuestion(ctx, "que_1")).To(Succeed())
			Expect(h.srv.Requests(testutil.OpQuestionReject)).To(HaveLen(1))

			h.srv.Fail(testutil.OpQuestionReply, 500)
			Expect(h.engine.ReplyQuestion(ctx, "que_2", nil)).To(HaveOccurred())
			snap := h.engine.Snapshot()
			Expect(snap.Questions).To(BeEmpty())
			Expect(snap.Error).NotTo(BeEmpty())
		})
	})
})
