package types

// Part kinds as they appear in the "type" field on the wire.
const (
	PartText       = "text"
	PartReasoning  = "reasoning"
	PartTool       = "tool"
	PartFile       = "file"
	PartStepStart  = "step-start"
	PartStepFinish = "step-finish"
	PartPatch      = "patch"
	PartSubtask    = "subtask"
	PartRetry      = "retry"
	PartCompaction = "compaction"
)

// Tool execution states.
const (
	ToolPending   = "pending"
	ToolRunning   = "running"
	ToolCompleted = "completed"
	ToolError     = "error"
)

// Part represents a typed fragment of message content.
type Part interface {
	PartType() string
	PartID() string
}

// PartTime contains timing information for a message part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// TextPart represents a text content part.
type TextPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID,omitempty"`
	MessageID string   `json:"messageID,omitempty"`
	Type      string   `json:"type"` // always "text"
	Text      string   `json:"text"`
	Synthetic bool     `json:"synthetic,omitempty"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *TextPart) PartType() string { return PartText }
func (p *TextPart) PartID() string   { return p.ID }

// ReasoningPart represents extended thinking/reasoning content.
type ReasoningPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID,omitempty"`
	MessageID string   `json:"messageID,omitempty"`
	Type      string   `json:"type"` // always "reasoning"
	Text      string   `json:"text"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *ReasoningPart) PartType() string { return PartReasoning }
func (p *ReasoningPart) PartID() string   { return p.ID }

// ToolState is the execution state of a tool call.
type ToolState struct {
	Status      string         `json:"status"` // "pending" | "running" | "completed" | "error"
	Input       map[string]any `json:"input,omitempty"`
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Title       string         `json:"title,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Time        PartTime       `json:"time,omitempty"`
	Attachments []FilePart     `json:"attachments,omitempty"`
}

// ToolPart represents a tool call and its progress.
type ToolPart struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionID,omitempty"`
	MessageID string    `json:"messageID,omitempty"`
	Type      string    `json:"type"` // always "tool"
	CallID    string    `json:"callID,omitempty"`
	Tool      string    `json:"tool"`
	State     ToolState `json:"state"`
}

func (p *ToolPart) PartType() string { return PartTool }
func (p *ToolPart) PartID() string   { return p.ID }

// FilePart represents a file attachment.
type FilePart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID,omitempty"`
	MessageID string `json:"messageID,omitempty"`
	Type      string `json:"type"` // always "file"
	Mime      string `json:"mime,omitempty"`
	Filename  string `json:"filename,omitempty"`
	URL       string `json:"url"`
}

func (p *FilePart) PartType() string { return PartFile }
func (p *FilePart) PartID() string   { return p.ID }

// StepStartPart marks the beginning of a model step.
type StepStartPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID,omitempty"`
	MessageID string `json:"messageID,omitempty"`
	Type      string `json:"type"` // always "step-start"
}

func (p *StepStartPart) PartType() string { return PartStepStart }
func (p *StepStartPart) PartID() string   { return p.ID }

// StepFinishPart carries token and cost accounting for a model step.
type StepFinishPart struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionID,omitempty"`
	MessageID string     `json:"messageID,omitempty"`
	Type      string     `json:"type"` // always "step-finish"
	Reason    string     `json:"reason,omitempty"`
	Cost      float64    `json:"cost"`
	Tokens    TokenUsage `json:"tokens"`
}

func (p *StepFinishPart) PartType() string { return PartStepFinish }
func (p *StepFinishPart) PartID() string   { return p.ID }

// PatchPart lists the files touched by a step.
type PatchPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID,omitempty"`
	MessageID string   `json:"messageID,omitempty"`
	Type      string   `json:"type"` // always "patch"
	Hash      string   `json:"hash,omitempty"`
	Files     []string `json:"files"`
}

func (p *PatchPart) PartType() string { return PartPatch }
func (p *PatchPart) PartID() string   { return p.ID }

// SubtaskPart represents work delegated to a sub-agent.
type SubtaskPart struct {
	ID          string `json:"id"`
	SessionID   string `json:"sessionID,omitempty"`
	MessageID   string `json:"messageID,omitempty"`
	Type        string `json:"type"` // always "subtask"
	Prompt      string `json:"prompt"`
	Description string `json:"description,omitempty"`
	Agent       string `json:"agent,omitempty"`
}

func (p *SubtaskPart) PartType() string { return PartSubtask }
func (p *SubtaskPart) PartID() string   { return p.ID }

// RetryPart records a retried model call.
type RetryPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID,omitempty"`
	MessageID string   `json:"messageID,omitempty"`
	Type      string   `json:"type"` // always "retry"
	Attempt   int      `json:"attempt"`
	Error     string   `json:"error,omitempty"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *RetryPart) PartType() string { return PartRetry }
func (p *RetryPart) PartID() string   { return p.ID }

// CompactionPart marks a point where the conversation was summarized.
type CompactionPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID,omitempty"`
	MessageID string `json:"messageID,omitempty"`
	Type      string `json:"type"` // always "compaction"
	Auto      bool   `json:"auto"`
}

func (p *CompactionPart) PartType() string { return PartCompaction }
func (p *CompactionPart) PartID() string   { return p.ID }

// ClonePart returns a deep copy of p so snapshots never alias store state.
func ClonePart(p Part) Part {
	switch v := p.(type) {
	case *TextPart:
		c := *v
		c.Time = v.Time.clone()
		return &c
	case *ReasoningPart:
		c := *v
		c.Time = v.Time.clone()
		return &c
	case *ToolPart:
		c := *v
		c.State.Input = cloneMap(v.State.Input)
		c.State.Metadata = cloneMap(v.State.Metadata)
		c.State.Time = v.State.Time.clone()
		if v.State.Attachments != nil {
			c.State.Attachments = append([]FilePart(nil), v.State.Attachments...)
		}
		return &c
	case *FilePart:
		c := *v
		return &c
	case *StepStartPart:
		c := *v
		return &c
	case *StepFinishPart:
		c := *v
		return &c
	case *PatchPart:
		c := *v
		if v.Files != nil {
			c.Files = append([]string(nil), v.Files...)
		}
		return &c
	case *SubtaskPart:
		c := *v
		return &c
	case *RetryPart:
		c := *v
		c.Time = v.Time.clone()
		return &c
	case *CompactionPart:
		c := *v
		return &c
	default:
		return p
	}
}

func (t PartTime) clone() PartTime {
	var out PartTime
	if t.Start != nil {
		s := *t.Start
		out.Start = &s
	}
	if t.End != nil {
		e := *t.End
		out.End = &e
	}
	return out
}

// cloneMap copies the top level of a free-form map. Nested values are
// decoded JSON and never mutated after decode.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
