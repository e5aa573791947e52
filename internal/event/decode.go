package event

import (
	"github.com/tidwall/gjson"

	"github.com/opencode-ai/custodian/pkg/types"
)

// ConnectedEnvelope is the synthetic envelope the transport emits once the
// event stream is attached.
var ConnectedEnvelope = []byte(`{"type":"__connected","properties":{}}`)

// Decode turns a raw {type, properties} envelope into a typed Event.
// It never fails: malformed input yields an Unknown event and missing
// fields fall back to zero values.
func Decode(data []byte) Event {
	if !gjson.ValidBytes(data) {
		return Event{Type: Unknown, Data: UnknownData{}}
	}
	root := gjson.ParseBytes(data)

	// The global stream wraps envelopes as {directory, payload}.
	if payload := root.Get("payload"); payload.IsObject() && payload.Get("type").Exists() {
		root = payload
	}

	rawType := root.Get("type").String()
	props := root.Get("properties")

	switch typ := EventType(rawType); typ {
	case MessagePartUpdated:
		part := props.Get("part")
		if !part.IsObject() {
			return Event{Type: Unknown, Data: UnknownData{RawType: rawType}}
		}
		return Event{
			Type:      typ,
			SessionID: first(part.Get("sessionID"), props.Get("sessionID")),
			Data: PartUpdatedData{
				MessageID: first(part.Get("messageID"), props.Get("messageID")),
				Part:      DecodePart(part),
			},
		}

	case MessagePartDelta:
		return Event{
			Type:      typ,
			SessionID: first(props.Get("sessionID")),
			Data: PartDeltaData{
				MessageID: first(props.Get("messageID")),
				PartID:    first(props.Get("partID")),
				Field:     firstOr("text", props.Get("field")),
				Delta:     first(props.Get("delta")),
			},
		}

	case MessagePartRemoved:
		return Event{
			Type:      typ,
			SessionID: first(props.Get("sessionID")),
			Data: PartRemovedData{
				MessageID: first(props.Get("messageID")),
				PartID:    first(props.Get("partID")),
			},
		}

	case MessageUpdated:
		info := props.Get("info")
		if !info.IsObject() {
			info = props
		}
		return Event{
			Type:      typ,
			SessionID: first(info.Get("sessionID"), props.Get("sessionID")),
			Data: MessageUpdatedData{
				MessageID: first(info.Get("id")),
				Role:      decodeRole(info.Get("role")),
			},
		}

	case MessageRemoved:
		return Event{
			Type:      typ,
			SessionID: first(props.Get("sessionID")),
			Data:      MessageRemovedData{MessageID: first(props.Get("messageID"))},
		}

	case SessionStatus:
		status := props.Get("status")
		var value string
		if status.IsObject() {
			value = first(status.Get("type"))
		} else {
			value = first(status)
		}
		return Event{
			Type:      typ,
			SessionID: first(props.Get("sessionID")),
			Data:      SessionStatusData{Status: value},
		}

	case SessionIdle:
		return Event{
			Type:      typ,
			SessionID: first(props.Get("sessionID")),
			Data:      SessionIdleData{},
		}

	case SessionError:
		return Event{
			Type:      typ,
			SessionID: first(props.Get("sessionID")),
			Data:      SessionErrorData{Message: decodeErrorMessage(props.Get("error"), "Session error")},
		}

	case SessionCreated, SessionUpdated, SessionDeleted:
		info := props.Get("info")
		if !info.IsObject() {
			info = props
		}
		s := DecodeSession(info)
		return Event{Type: typ, SessionID: s.ID, Data: SessionChangedData{Info: s}}

	case PermissionUpdated, PermissionAsked:
		sessionID := first(props.Get("sessionID"))
		perm := types.Permission{
			ID:         first(props.Get("id"), props.Get("permissionID")),
			SessionID:  sessionID,
			Title:      first(props.Get("title")),
			Permission: first(props.Get("type"), props.Get("permission")),
			Metadata:   decodeMap(props.Get("metadata")),
		}
		if perm.Metadata == nil {
			perm.Metadata = map[string]any{}
		}
		return Event{Type: PermissionUpdated, SessionID: sessionID, Data: PermissionUpdatedData{Permission: perm}}

	case PermissionReplied:
		return Event{
			Type:      typ,
			SessionID: first(props.Get("sessionID")),
			Data: PermissionRepliedData{
				PermissionID: first(props.Get("permissionID"), props.Get("id")),
				Response:     first(props.Get("response")),
			},
		}

	case QuestionAsked, QuestionUpdated:
		req := props.Get("request")
		if !req.IsObject() {
			req = props
		}
		sessionID := first(req.Get("sessionID"), props.Get("sessionID"))
		return Event{
			Type:      typ,
			SessionID: sessionID,
			Data:      QuestionAskedData{Request: decodeQuestionRequest(req, sessionID)},
		}

	case QuestionReplied, QuestionRejected:
		return Event{
			Type:      typ,
			SessionID: first(props.Get("sessionID")),
			Data:      QuestionRepliedData{RequestID: first(props.Get("requestID"), props.Get("id"))},
		}

	case ServerConnected, Connected:
		return Event{Type: Connected, Data: ConnectedData{}}

	default:
		if rawType == "" {
			return Event{Type: Unknown, Data: UnknownData{}}
		}
		return Event{Type: Unknown, Data: UnknownData{RawType: rawType}}
	}
}

// DecodeSession maps a session object, tolerating the flat and the
// {time: {created}} layouts.
func DecodeSession(v gjson.Result) types.Session {
	return types.Session{
		ID:        first(v.Get("id"), v.Get("sessionID")),
		Title:     first(v.Get("title")),
		CreatedAt: firstInt(v.Get("createdAt"), v.Get("time.created")),
	}
}

func decodeQuestionRequest(req gjson.Result, sessionID string) types.QuestionRequest {
	out := types.QuestionRequest{
		ID:        first(req.Get("id"), req.Get("requestID")),
		SessionID: sessionID,
		Questions: []types.Question{},
	}
	for _, q := range req.Get("questions").Array() {
		question := types.Question{
			Header:   first(q.Get("header")),
			Question: first(q.Get("question")),
			Multiple: q.Get("multiple").Bool(),
			Options:  []types.QuestionOption{},
		}
		for _, o := range q.Get("options").Array() {
			question.Options = append(question.Options, types.QuestionOption{
				Label:       first(o.Get("label")),
				Description: first(o.Get("description")),
			})
		}
		out.Questions = append(out.Questions, question)
	}
	return out
}

func decodeRole(v gjson.Result) types.Role {
	if v.String() == string(types.RoleUser) {
		return types.RoleUser
	}
	return types.RoleAssistant
}

// decodeErrorMessage accepts a plain string, {message}, {type} or the
// server's {name, data: {message}} error shape.
func decodeErrorMessage(v gjson.Result, fallback string) string {
	if !present(v) {
		return fallback
	}
	if v.IsObject() {
		return firstOr(fallback, v.Get("message"), v.Get("data.message"), v.Get("type"), v.Get("name"))
	}
	return firstOr(fallback, v)
}

func decodeMap(v gjson.Result) map[string]any {
	if !v.IsObject() {
		return nil
	}
	m, _ := v.Value().(map[string]any)
	return m
}

// present reports whether v exists and is not null.
func present(v gjson.Result) bool {
	return v.Exists() && v.Type != gjson.Null
}

// first returns the string form of the first present value.
func first(values ...gjson.Result) string {
	return firstOr("", values...)
}

func firstOr(fallback string, values ...gjson.Result) string {
	for _, v := range values {
		if present(v) {
			return v.String()
		}
	}
	return fallback
}

func firstInt(values ...gjson.Result) int64 {
	for _, v := range values {
		if present(v) {
			return v.Int()
		}
	}
	return 0
}
