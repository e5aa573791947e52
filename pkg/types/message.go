package types

import "strings"

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// OptimisticPrefix marks message ids synthesized locally before the server
// confirms the message.
const OptimisticPrefix = "user-"

// Message is a user or assistant message with its ordered parts.
// Session membership is implicit: the engine only keeps messages of the
// current session.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Parts     []Part `json:"parts"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

// IsOptimistic reports whether the message was created locally and has not
// been reconciled with a server id yet.
func (m *Message) IsOptimistic() bool {
	return m.Role == RoleUser && strings.HasPrefix(m.ID, OptimisticPrefix)
}

// FindPart returns the index of the part with the given id, or -1.
func (m *Message) FindPart(partID string) int {
	for i, p := range m.Parts {
		if p.PartID() == partID {
			return i
		}
	}
	return -1
}

// Text concatenates the text parts of the message.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(*TextPart); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.Parts != nil {
		out.Parts = make([]Part, len(m.Parts))
		for i, p := range m.Parts {
			out.Parts[i] = ClonePart(p)
		}
	}
	return out
}

// ModelRef references a specific model from a provider.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// String formats the reference as provider/model.
func (r ModelRef) String() string {
	return r.ProviderID + "/" + r.ModelID
}

// TokenUsage contains token usage statistics for a step.
type TokenUsage struct {
	Input     int        `json:"input"`
	Output    int        `json:"output"`
	Reasoning int        `json:"reasoning"`
	Cache     CacheUsage `json:"cache"`
}

// CacheUsage contains cache hit/write statistics.
type CacheUsage struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

// PromptRequest is the body of an outgoing prompt.
type PromptRequest struct {
	Text  string
	Model *ModelRef
	Agent string
}
