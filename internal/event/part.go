package event

import (
	"github.com/tidwall/gjson"

	"github.com/opencode-ai/custodian/pkg/types"
)

// DecodePart maps a wire part object to its typed form. Unknown kinds
// degrade to a text part carrying whatever "text" field was present. A
// missing id is synthesized so the part can still be deduplicated.
func DecodePart(v gjson.Result) types.Part {
	kind := firstOr(types.PartText, v.Get("type"))
	id := first(v.Get("id"))
	if id == "" {
		id = NewPartID(kind)
	}
	sessionID := first(v.Get("sessionID"))
	messageID := first(v.Get("messageID"))

	switch kind {
	case types.PartReasoning:
		return &types.ReasoningPart{
			ID: id, SessionID: sessionID, MessageID: messageID, Type: kind,
			Text: first(v.Get("text")),
			Time: decodeTime(v.Get("time")),
		}

	case types.PartTool:
		state := v.Get("state")
		ts := types.ToolState{
			Status:   firstOr(types.ToolPending, state.Get("status")),
			Input:    decodeMap(state.Get("input")),
			Output:   first(state.Get("output")),
			Title:    first(state.Get("title")),
			Metadata: decodeMap(state.Get("metadata")),
			Time:     decodeTime(state.Get("time")),
		}
		if errVal := state.Get("error"); present(errVal) {
			ts.Error = decodeErrorMessage(errVal, "")
		}
		for _, a := range state.Get("attachments").Array() {
			if fp, ok := DecodePart(a).(*types.FilePart); ok {
				ts.Attachments = append(ts.Attachments, *fp)
			}
		}
		return &types.ToolPart{
			ID: id, SessionID: sessionID, MessageID: messageID, Type: kind,
			CallID: first(v.Get("callID")),
			Tool:   first(v.Get("tool")),
			State:  ts,
		}

	case types.PartFile:
		return &types.FilePart{
			ID: id, SessionID: sessionID, MessageID: messageID, Type: kind,
			Mime:     first(v.Get("mime")),
			Filename: first(v.Get("filename")),
			URL:      first(v.Get("url")),
		}

	case types.PartStepStart:
		return &types.StepStartPart{ID: id, SessionID: sessionID, MessageID: messageID, Type: kind}

	case types.PartStepFinish:
		tokens := v.Get("tokens")
		return &types.StepFinishPart{
			ID: id, SessionID: sessionID, MessageID: messageID, Type: kind,
			Reason: first(v.Get("reason")),
			Cost:   v.Get("cost").Float(),
			Tokens: types.TokenUsage{
				Input:     int(tokens.Get("input").Int()),
				Output:    int(tokens.Get("output").Int()),
				Reasoning: int(tokens.Get("reasoning").Int()),
				Cache: types.CacheUsage{
					Read:  int(tokens.Get("cache.read").Int()),
					Write: int(tokens.Get("cache.write").Int()),
				},
			},
		}

	case types.PartPatch:
		files := []string{}
		for _, f := range v.Get("files").Array() {
			files = append(files, f.String())
		}
		return &types.PatchPart{
			ID: id, SessionID: sessionID, MessageID: messageID, Type: kind,
			Hash:  first(v.Get("hash")),
			Files: files,
		}

	case types.PartSubtask:
		return &types.SubtaskPart{
			ID: id, SessionID: sessionID, MessageID: messageID, Type: kind,
			Prompt:      first(v.Get("prompt")),
			Description: first(v.Get("description")),
			Agent:       first(v.Get("agent")),
		}

	case types.PartRetry:
		p := &types.RetryPart{
			ID: id, SessionID: sessionID, MessageID: messageID, Type: kind,
			Attempt: int(v.Get("attempt").Int()),
			Error:   decodeErrorMessage(v.Get("error"), ""),
		}
		if created := v.Get("time.created"); present(created) {
			c := created.Int()
			p.Time.Start = &c
		}
		return p

	case types.PartCompaction:
		return &types.CompactionPart{
			ID: id, SessionID: sessionID, MessageID: messageID, Type: kind,
			Auto: v.Get("auto").Bool(),
		}

	case types.PartText:
		return &types.TextPart{
			ID: id, SessionID: sessionID, MessageID: messageID, Type: kind,
			Text:      first(v.Get("text")),
			Synthetic: v.Get("synthetic").Bool(),
			Time:      decodeTime(v.Get("time")),
		}

	default:
		return &types.TextPart{
			ID: id, SessionID: sessionID, MessageID: messageID, Type: types.PartText,
			Text: first(v.Get("text")),
		}
	}
}

// DecodeMessage maps a history entry. Both the {info, parts} layout and a
// flat message object are accepted. Parts are deduplicated by id in order
// of first appearance.
func DecodeMessage(v gjson.Result) types.Message {
	info := v.Get("info")
	if !info.IsObject() {
		info = v
	}
	parts := v.Get("parts")
	if !parts.Exists() {
		parts = info.Get("parts")
	}

	msg := types.Message{
		ID:        first(info.Get("id")),
		Role:      decodeRole(info.Get("role")),
		Parts:     []types.Part{},
		Timestamp: firstInt(info.Get("time.created"), info.Get("timestamp")),
	}
	for _, raw := range parts.Array() {
		part := DecodePart(raw)
		if idx := msg.FindPart(part.PartID()); idx >= 0 {
			msg.Parts[idx] = part
			continue
		}
		msg.Parts = append(msg.Parts, part)
	}
	return msg
}

func decodeTime(v gjson.Result) types.PartTime {
	var t types.PartTime
	if s := v.Get("start"); present(s) {
		n := s.Int()
		t.Start = &n
	}
	if e := v.Get("end"); present(e) {
		n := e.Int()
		t.End = &n
	}
	return t
}
