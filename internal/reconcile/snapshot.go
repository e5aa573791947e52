package reconcile

import (
	"slices"

	"github.com/opencode-ai/custodian/pkg/types"
)

// Snapshot is a deep copy of the engine state. Mutating it never affects
// the engine.
type Snapshot struct {
	ConnState        ConnState
	Connected        bool
	Error            string
	IsStreaming      bool
	CurrentSessionID string
	Messages         []types.Message
	BufferedParts    []PendingPart

	// Permission and Question are the actionable heads of their queues.
	Permission  *types.Permission
	Question    *types.QuestionRequest
	Permissions []types.Permission
	Questions   []types.QuestionRequest

	SelectedModel *types.ModelRef
	Sessions      []types.Session
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		ConnState:        e.connState,
		Connected:        e.connected,
		Error:            e.errMsg,
		IsStreaming:      e.isStreaming,
		CurrentSessionID: e.currentSessionID,
		Messages:         e.store.Messages(),
		BufferedParts:    e.buffer.Entries(),
		Permissions:      e.permissions.Items(),
		Questions:        e.questions.Items(),
		Sessions:         slices.Clone(e.sessions),
	}
	if p, ok := e.permissions.Head(); ok {
		s.Permission = &p
	}
	if q, ok := e.questions.Head(); ok {
		s.Question = &q
	}
	if e.selectedModel != nil {
		m := *e.selectedModel
		s.SelectedModel = &m
	}
	return s
}

// CurrentSessionID returns the id of the current session, or "".
func (e *Engine) CurrentSessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentSessionID
}

// IsStreaming reports whether the agent is generating in the current session.
func (e *Engine) IsStreaming() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isStreaming
}
