package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencode-ai/custodian/internal/reconcile"
	"github.com/opencode-ai/custodian/pkg/types"
)

func newTestFollower() (*follower, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return newFollower(NewRenderer(&out, &errOut, rendererOptions{NoColor: true})), &out, &errOut
}

func text(id, s string) *types.TextPart {
	return &types.TextPart{ID: id, Type: types.PartText, Text: s}
}

func TestFollower_StreamsTextOnce(t *testing.T) {
	f, out, _ := newTestFollower()

	snap := reconcile.Snapshot{
		CurrentSessionID: "ses_1",
		IsStreaming:      true,
		Messages: []types.Message{
			{ID: "user-1", Role: types.RoleUser, Parts: []types.Part{text("text-1", "hi")}},
			{ID: "msg_a", Role: types.RoleAssistant, Parts: []types.Part{text("prt_a", "Hel")}},
		},
	}
	f.render(snap)

	// The optimistic message was confirmed and the reply grew.
	snap.Messages[0].ID = "msg_u"
	snap.Messages[1].Parts = []types.Part{text("prt_a", "Hello there")}
	f.render(snap)

	snap.IsStreaming = false
	f.render(snap)
	f.render(snap)

	assert.Equal(t, "you › hi\nassistant › Hello there\n", out.String())
}

func TestFollower_ToolsAndPrompts(t *testing.T) {
	f, out, errOut := newTestFollower()

	tool := &types.ToolPart{ID: "prt_t", Type: types.PartTool, Tool: "bash", State: types.ToolState{Status: types.ToolRunning}}
	snap := reconcile.Snapshot{
		CurrentSessionID: "ses_1",
		IsStreaming:      true,
		Messages:         []types.Message{{ID: "msg_a", Role: types.RoleAssistant, Parts: []types.Part{tool}}},
		Permission:       &types.Permission{ID: "per_1", Title: "Run ls", Permission: "bash"},
	}
	f.render(snap)
	f.render(snap)

	done := *tool
	done.State = types.ToolState{Status: types.ToolCompleted, Output: "a\nb"}
	snap.Messages[0].Parts = []types.Part{&done}
	snap.Permission = nil
	snap.Question = &types.QuestionRequest{ID: "que_1", Questions: []types.Question{{Question: "Continue?", Options: []types.QuestionOption{{Label: "yes"}}}}}
	snap.Error = "model overloaded"
	f.render(snap)

	got := out.String()
	assert.Equal(t, 1, strings.Count(got, "→ tool bash (running)"))
	assert.Contains(t, got, "→ tool bash (done)\n  a\n  b\n")
	assert.Equal(t, 1, strings.Count(got, "permission › Run ls [bash]"))
	assert.Contains(t, got, "question › Continue?\n  1) yes\n")
	assert.Contains(t, errOut.String(), "error: model overloaded")
}

func TestFollower_SessionSwitchReplaysHistory(t *testing.T) {
	f, out, errOut := newTestFollower()

	f.render(reconcile.Snapshot{
		CurrentSessionID: "ses_1",
		Messages:         []types.Message{{ID: "m1", Role: types.RoleUser, Parts: []types.Part{text("p1", "first")}}},
	})
	f.render(reconcile.Snapshot{
		CurrentSessionID: "ses_2",
		Messages:         []types.Message{{ID: "m2", Role: types.RoleUser, Parts: []types.Part{text("p2", "second")}}},
	})

	assert.Equal(t, "you › first\nyou › second\n", out.String())
	assert.Contains(t, errOut.String(), "session ses_2")
}

func TestFollower_SeedSkipsExisting(t *testing.T) {
	f, out, _ := newTestFollower()
	snap := reconcile.Snapshot{
		CurrentSessionID: "ses_1",
		Messages: []types.Message{
			{ID: "m1", Role: types.RoleUser, Parts: []types.Part{text("p1", "old")}},
			{ID: "m2", Role: types.RoleAssistant, Parts: []types.Part{text("p2", "old reply")}},
		},
	}
	f.seed(snap)
	f.render(snap)
	assert.Empty(t, out.String())

	snap.Messages = append(snap.Messages, types.Message{ID: "user-9", Role: types.RoleUser, Parts: []types.Part{text("p3", "new")}})
	f.render(snap)
	assert.Equal(t, "you › new\n", out.String())
}
