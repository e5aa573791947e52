package reconcile

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/opencode-ai/custodian/pkg/types"
)

// RefreshSessions reloads the session list. Failures degrade to an empty
// list, except a canceled ctx which keeps the current one. Concurrent
// calls share one request.
func (e *Engine) RefreshSessions(ctx context.Context) []types.Session {
	v, _, _ := e.refresh.Do("sessions", func() (any, error) {
		list, err := e.remote.ListSessions(ctx)
		e.mu.Lock()
		defer e.mu.Unlock()
		if err != nil {
			if ctx.Err() != nil {
				return slices.Clone(e.sessions), nil
			}
			e.log.Warn().Err(err).Msg("list sessions failed")
			list = []types.Session{}
		}
		e.sessions = list
		return list, nil
	})
	e.notify("sessions.refreshed")
	return slices.Clone(v.([]types.Session))
}

// Sessions returns the last fetched session list.
func (e *Engine) Sessions() []types.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.sessions)
}

// CreateSession creates a session on the server and makes it current. On
// failure the state is left untouched.
func (e *Engine) CreateSession(ctx context.Context) (types.Session, error) {
	s, err := e.remote.CreateSession(ctx)
	e.metrics.Action("create_session", err)
	if err != nil {
		return types.Session{}, fmt.Errorf("create session: %w", err)
	}

	e.mu.Lock()
	e.resetLocked(s.ID)
	e.mu.Unlock()

	e.log.Info().Str("sessionID", s.ID).Msg("session created")
	e.saveLastSession(s.ID)
	e.notify("session.created")
	e.RefreshSessions(ctx)
	return s, nil
}

// SwitchSession makes id current, then loads its history. A history that
// arrives after the user moved on is discarded, even if they came back to
// id in the meantime. Events observed for id
// while the history was in flight are kept.
func (e *Engine) SwitchSession(ctx context.Context, id string) error {
	e.mu.Lock()
	e.resetLocked(id)
	gen := e.generation
	e.mu.Unlock()
	e.notify("session.switched")

	history, err := e.remote.Messages(ctx, id)
	e.metrics.Action("switch_session", err)
	if err != nil {
		e.log.Warn().Err(err).Str("sessionID", id).Msg("load history failed")
		return nil
	}

	e.mu.Lock()
	if e.generation != gen {
		current := e.currentSessionID
		e.mu.Unlock()
		e.log.Debug().
			Err(ErrStaleHistory).
			Str("sessionID", id).
			Str("currentSessionID", current).
			Msg("history discarded")
		return nil
	}
	e.mergeHistoryLocked(history)
	e.mu.Unlock()

	e.saveLastSession(id)
	e.notify("session.history")
	return nil
}

// mergeHistoryLocked replaces the message list with history. Messages seen
// through events since the switch are appended when the history lacks
// them; their parts win over the history copy. A message adopted from an
// optimistic send keeps the history parts, and an optimistic message the
// history already holds is dropped.
func (e *Engine) mergeHistoryLocked(history []types.Message) {
	merged := NewStore()
	merged.Replace(history)

	claimed := make(map[string]bool)
	for _, observed := range e.store.order {
		if _, ok := merged.Get(observed.ID); ok {
			claimed[observed.ID] = true
		}
	}

	for _, observed := range e.store.order {
		if m, ok := merged.Get(observed.ID); ok {
			if e.store.Renamed(observed.ID) {
				continue
			}
			for _, p := range observed.Parts {
				upsertPart(m, p)
			}
			continue
		}
		if observed.Role == types.RoleUser && strings.HasPrefix(observed.ID, types.OptimisticPrefix) {
			if id, ok := matchEcho(merged, observed.Text(), claimed); ok {
				claimed[id] = true
				continue
			}
		}
		merged.Append(*observed)
	}
	e.store = merged
}

// matchEcho finds the latest unclaimed user message in s whose text is
// content, possibly behind a context block.
func matchEcho(s *Store, content string, claimed map[string]bool) (string, bool) {
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.order[i]
		if m.Role != types.RoleUser || claimed[m.ID] {
			continue
		}
		if text := m.Text(); text == content || strings.HasSuffix(text, "\n\n"+content) {
			return m.ID, true
		}
	}
	return "", false
}

// DeleteSession deletes a session on the server. Deleting the current
// session clears the view.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	err := e.remote.DeleteSession(ctx, id)
	e.metrics.Action("delete_session", err)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	e.mu.Lock()
	wasCurrent := e.currentSessionID == id
	if wasCurrent {
		e.resetLocked("")
	}
	e.mu.Unlock()

	if wasCurrent && e.prefs != nil {
		if err := e.prefs.ClearLastSessionID(); err != nil {
			e.log.Warn().Err(err).Msg("clear last session failed")
		}
	}
	e.notify("session.deleted")
	e.RefreshSessions(ctx)
	return nil
}

// EnsureSession returns the current session id, creating a session when
// there is none.
func (e *Engine) EnsureSession(ctx context.Context) (string, error) {
	if id := e.CurrentSessionID(); id != "" {
		return id, nil
	}
	s, err := e.CreateSession(ctx)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// SendMessage ensures a session exists and sends content to it.
func (e *Engine) SendMessage(ctx context.Context, content string) error {
	if _, err := e.EnsureSession(ctx); err != nil {
		e.setError("Failed to create session")
		return err
	}
	return e.Send(ctx, content)
}

// Send appends an optimistic user message to the current session and
// issues the prompt. On failure the optimistic message stays visible.
func (e *Engine) Send(ctx context.Context, content string) error {
	e.mu.Lock()
	sid := e.currentSessionID
	if sid == "" {
		e.mu.Unlock()
		return ErrNoSession
	}
	ms := e.now().UnixMilli()
	for {
		if _, taken := e.store.Get(types.OptimisticPrefix + strconv.FormatInt(ms, 10)); !taken {
			break
		}
		ms++
	}
	stamp := strconv.FormatInt(ms, 10)
	e.store.Append(types.Message{
		ID:   types.OptimisticPrefix + stamp,
		Role: types.RoleUser,
		Parts: []types.Part{&types.TextPart{
			ID:   "text-" + stamp,
			Type: types.PartText,
			Text: content,
		}},
		Timestamp: ms,
	})
	e.isStreaming = true
	e.errMsg = ""
	var model *types.ModelRef
	if e.selectedModel != nil {
		m := *e.selectedModel
		model = &m
	}
	e.mu.Unlock()
	e.notify("message.sent")

	text := content
	if e.diff != nil {
		if block := e.diff.Format(); block != "" {
			text = block + "\n\n" + content
		}
	}

	err := e.remote.PromptAsync(ctx, sid, types.PromptRequest{Text: text, Model: model})
	e.metrics.Action("send", err)
	if err != nil {
		e.mu.Lock()
		if e.currentSessionID == sid {
			e.isStreaming = false
			e.errMsg = err.Error()
		}
		e.mu.Unlock()
		e.log.Warn().Err(err).Str("sessionID", sid).Msg("send failed")
		e.notify("message.failed")
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Cancel clears the streaming flag and both queues, then asks the server to
// abort. Abort failures are logged and otherwise ignored.
func (e *Engine) Cancel(ctx context.Context) {
	e.mu.Lock()
	sid := e.currentSessionID
	e.isStreaming = false
	e.permissions.Clear()
	e.questions.Clear()
	e.mu.Unlock()
	e.notify("cancelled")

	if sid == "" {
		return
	}
	err := e.remote.Abort(ctx, sid)
	e.metrics.Action("cancel", err)
	if err != nil {
		e.log.Warn().Err(err).Str("sessionID", sid).Msg("abort failed")
	}
}

// Compact asks the server to summarize the current session.
func (e *Engine) Compact(ctx context.Context) error {
	e.mu.Lock()
	sid := e.currentSessionID
	var model *types.ModelRef
	if e.selectedModel != nil {
		m := *e.selectedModel
		model = &m
	}
	e.mu.Unlock()
	if sid == "" {
		return ErrNoSession
	}

	err := e.remote.Summarize(ctx, sid, model)
	e.metrics.Action("compact", err)
	if err != nil {
		e.setError(err.Error())
		return fmt.Errorf("compact session: %w", err)
	}
	return nil
}

// RunCommand runs a slash command such as "/init" or "review src/" on the
// current session.
func (e *Engine) RunCommand(ctx context.Context, command string) error {
	sid := e.CurrentSessionID()
	if sid == "" {
		return ErrNoSession
	}
	name, args, _ := strings.Cut(strings.TrimSpace(strings.TrimPrefix(command, "/")), " ")
	if name == "" {
		return fmt.Errorf("run command: empty command")
	}

	err := e.remote.Command(ctx, sid, name, strings.TrimSpace(args))
	e.metrics.Action("command", err)
	if err != nil {
		e.setError(err.Error())
		return fmt.Errorf("run command %s: %w", name, err)
	}
	return nil
}

// ReplyPermission answers a permission request. The request leaves the
// local queue immediately.
func (e *Engine) ReplyPermission(ctx context.Context, id string, response types.PermissionResponse) error {
	if !response.Valid() {
		return fmt.Errorf("reply permission: invalid response %q", response)
	}

	e.mu.Lock()
	sid := e.currentSessionID
	if sid == "" {
		e.mu.Unlock()
		return ErrNoSession
	}
	e.permissions.Remove(id)
	e.mu.Unlock()
	e.notify("permission.replied")

	err := e.remote.ReplyPermission(ctx, sid, id, response)
	e.metrics.Action("reply_permission", err)
	if err != nil {
		e.setError(err.Error())
		return fmt.Errorf("reply permission: %w", err)
	}
	return nil
}

// ReplyQuestion answers a question request, one slice of labels per
// question. The request leaves the local queue immediately.
func (e *Engine) ReplyQuestion(ctx context.Context, id string, answers [][]string) error {
	e.removeQuestion(id)

	err := e.remote.ReplyQuestion(ctx, id, answers)
	e.metrics.Action("reply_question", err)
	if err != nil {
		e.setError(err.Error())
		return fmt.Errorf("reply question: %w", err)
	}
	e.setError("")
	return nil
}

// RejectQuestion dismisses a question request.
func (e *Engine) RejectQuestion(ctx context.Context, id string) error {
	e.removeQuestion(id)

	err := e.remote.RejectQuestion(ctx, id)
	e.metrics.Action("reject_question", err)
	if err != nil {
		e.setError(err.Error())
		return fmt.Errorf("reject question: %w", err)
	}
	e.setError("")
	return nil
}

func (e *Engine) removeQuestion(id string) {
	e.mu.Lock()
	e.questions.Remove(id)
	e.mu.Unlock()
	e.notify("question.replied")
}

// SelectModel pins subsequent prompts to a model and persists the choice.
func (e *Engine) SelectModel(providerID, modelID string) {
	ref := types.ModelRef{ProviderID: providerID, ModelID: modelID}
	e.mu.Lock()
	e.selectedModel = &ref
	e.mu.Unlock()

	if e.prefs != nil {
		if err := e.prefs.SetLastModel(ref); err != nil {
			e.log.Warn().Err(err).Msg("save model failed")
		}
	}
	e.notify("model.selected")
}

// ClearModel reverts to the server's default model.
func (e *Engine) ClearModel() {
	e.mu.Lock()
	e.selectedModel = nil
	e.mu.Unlock()

	if e.prefs != nil {
		if err := e.prefs.ClearLastModel(); err != nil {
			e.log.Warn().Err(err).Msg("clear model failed")
		}
	}
	e.notify("model.cleared")
}

// SelectedModel returns the pinned model, or nil.
func (e *Engine) SelectedModel() *types.ModelRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selectedModel == nil {
		return nil
	}
	m := *e.selectedModel
	return &m
}

// AutoSelectSession picks a session when none is current: the last used one
// if the server still lists it, otherwise the most recently created one.
func (e *Engine) AutoSelectSession(ctx context.Context) error {
	if e.CurrentSessionID() != "" {
		return nil
	}
	list := e.RefreshSessions(ctx)
	if len(list) == 0 {
		return nil
	}

	if e.prefs != nil {
		if saved := e.prefs.LastSessionID(); saved != "" {
			if _, ok := types.FindSession(list, saved); ok {
				return e.SwitchSession(ctx, saved)
			}
			if err := e.prefs.ClearLastSessionID(); err != nil {
				e.log.Warn().Err(err).Msg("clear last session failed")
			}
		}
	}

	latest, _ := types.LatestSession(list)
	return e.SwitchSession(ctx, latest.ID)
}

func (e *Engine) setError(msg string) {
	e.mu.Lock()
	e.errMsg = msg
	e.mu.Unlock()
	e.notify("error")
}

func (e *Engine) saveLastSession(id string) {
	if e.prefs == nil {
		return
	}
	if err := e.prefs.SetLastSessionID(id); err != nil {
		e.log.Warn().Err(err).Str("sessionID", id).Msg("save last session failed")
	}
}
