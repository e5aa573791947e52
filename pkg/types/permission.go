package types

// PermissionResponse is the user's answer to a permission request.
type PermissionResponse string

const (
	PermissionOnce   PermissionResponse = "once"
	PermissionAlways PermissionResponse = "always"
	PermissionReject PermissionResponse = "reject"
)

// Valid reports whether r is one of the responses the server accepts.
func (r PermissionResponse) Valid() bool {
	switch r {
	case PermissionOnce, PermissionAlways, PermissionReject:
		return true
	}
	return false
}

// Permission is an outstanding approval request for a tool execution.
type Permission struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionID"`
	Title      string         `json:"title"`
	Permission string         `json:"permission"` // "bash" | "edit" | "webfetch" | ...
	Metadata   map[string]any `json:"metadata"`
}

// QuestionOption is one selectable answer.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Question is a single multiple-choice question.
type Question struct {
	Header   string           `json:"header,omitempty"`
	Question string           `json:"question"`
	Multiple bool             `json:"multiple"`
	Options  []QuestionOption `json:"options"`
}

// QuestionRequest groups the questions the agent is waiting on.
type QuestionRequest struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionID"`
	Questions []Question `json:"questions"`
}
