package event

import "github.com/opencode-ai/custodian/pkg/types"

// EventType represents the type of event.
type EventType string

const (
	MessagePartUpdated EventType = "message.part.updated"
	MessagePartDelta   EventType = "message.part.delta"
	MessagePartRemoved EventType = "message.part.removed"
	MessageUpdated     EventType = "message.updated"
	MessageRemoved     EventType = "message.removed"

	SessionStatus  EventType = "session.status"
	SessionIdle    EventType = "session.idle"
	SessionError   EventType = "session.error"
	SessionCreated EventType = "session.created"
	SessionUpdated EventType = "session.updated"
	SessionDeleted EventType = "session.deleted"

	PermissionUpdated EventType = "permission.updated"
	PermissionAsked   EventType = "permission.asked"
	PermissionReplied EventType = "permission.replied"

	QuestionAsked    EventType = "question.asked"
	QuestionUpdated  EventType = "question.updated"
	QuestionReplied  EventType = "question.replied"
	QuestionRejected EventType = "question.rejected"

	ServerConnected EventType = "server.connected"
	Connected       EventType = "__connected"

	// StateChanged is published locally after an action mutated engine state.
	StateChanged EventType = "custodian.state.changed"

	Unknown EventType = "unknown"
)

// Event is a decoded server event. Data holds one of the *Data types below,
// chosen by Type.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionID,omitempty"`
	Data      any       `json:"data"`
}

// Scoped reports whether the event must be filtered by session id.
func (e Event) Scoped() bool {
	switch e.Type {
	case Connected, ServerConnected, StateChanged, Unknown,
		SessionCreated, SessionUpdated, SessionDeleted,
		PermissionReplied, QuestionReplied, QuestionRejected:
		return false
	}
	return true
}

// PartUpdatedData is the data for message.part.updated events.
type PartUpdatedData struct {
	MessageID string
	Part      types.Part
}

// PartDeltaData is the data for message.part.delta events.
type PartDeltaData struct {
	MessageID string
	PartID    string
	Field     string
	Delta     string
}

// PartRemovedData is the data for message.part.removed events.
type PartRemovedData struct {
	MessageID string
	PartID    string
}

// MessageUpdatedData is the data for message.updated events.
type MessageUpdatedData struct {
	MessageID string
	Role      types.Role
}

// MessageRemovedData is the data for message.removed events.
type MessageRemovedData struct {
	MessageID string
}

// SessionStatusData is the data for session.status events.
type SessionStatusData struct {
	Status string // "busy" | "running" | "idle" | "retry"
}

// Busy reports whether the status means the agent is generating.
func (d SessionStatusData) Busy() bool {
	return d.Status == "busy" || d.Status == "running"
}

// SessionIdleData is the data for session.idle events.
type SessionIdleData struct{}

// SessionErrorData is the data for session.error events.
type SessionErrorData struct {
	Message string
}

// SessionChangedData is the data for session.created/updated/deleted events.
type SessionChangedData struct {
	Info types.Session
}

// PermissionUpdatedData is the data for permission.updated events.
type PermissionUpdatedData struct {
	Permission types.Permission
}

// PermissionRepliedData is the data for permission.replied events.
type PermissionRepliedData struct {
	PermissionID string
	Response     string
}

// QuestionAskedData is the data for question.asked/updated events.
type QuestionAskedData struct {
	Request types.QuestionRequest
}

// QuestionRepliedData is the data for question.replied/rejected events.
type QuestionRepliedData struct {
	RequestID string
}

// ConnectedData is the data for the synthetic connection event.
type ConnectedData struct{}

// StateChangedData is the data for locally published StateChanged events.
type StateChangedData struct {
	Reason string
}

// UnknownData keeps the type tag of an event the decoder does not know.
type UnknownData struct {
	RawType string
}
