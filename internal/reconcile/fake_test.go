package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/custodian/internal/event"
	"github.com/opencode-ai/custodian/pkg/types"
)

type promptCall struct {
	SessionID string
	Request   types.PromptRequest
}

type fakeRemote struct {
	mu sync.Mutex

	sessions    []types.Session
	history     map[string][]types.Message
	historyGate map[string]chan struct{}
	listGate    chan struct{}
	gated       int
	nextID      int

	listErr, createErr, deleteErr, promptErr, abortErr   error
	summarizeErr, commandErr, permissionErr, questionErr error

	created           []string
	deleted           []string
	prompts           []promptCall
	aborts            []string
	summarized        []string
	commands          []string
	permissionReplies []string
	questionReplies   map[string][][]string
	rejected          []string

	events func(ctx context.Context, handler func([]byte)) error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		history:         map[string][]types.Message{},
		historyGate:     map[string]chan struct{}{},
		questionReplies: map[string][][]string{},
	}
}

func (f *fakeRemote) ListSessions(ctx context.Context) ([]types.Session, error) {
	f.mu.Lock()
	gate := f.listGate
	if gate != nil {
		f.gated++
	}
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]types.Session(nil), f.sessions...), nil
}

func (f *fakeRemote) CreateSession(ctx context.Context) (types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return types.Session{}, f.createErr
	}
	f.nextID++
	s := types.Session{ID: fmt.Sprintf("ses_new%d", f.nextID), CreatedAt: int64(f.nextID)}
	f.sessions = append(f.sessions, s)
	f.created = append(f.created, s.ID)
	return s, nil
}

func (f *fakeRemote) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeRemote) Messages(ctx context.Context, sessionID string) ([]types.Message, error) {
	f.mu.Lock()
	gate := f.historyGate[sessionID]
	if gate != nil {
		f.gated++
	}
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[sessionID], nil
}

func (f *fakeRemote) PromptAsync(ctx context.Context, sessionID string, req types.PromptRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, promptCall{SessionID: sessionID, Request: req})
	return f.promptErr
}

func (f *fakeRemote) Abort(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts = append(f.aborts, sessionID)
	return f.abortErr
}

func (f *fakeRemote) Summarize(ctx context.Context, sessionID string, model *types.ModelRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summarized = append(f.summarized, sessionID)
	return f.summarizeErr
}

func (f *fakeRemote) Command(ctx context.Context, sessionID, command, arguments string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command+"|"+arguments)
	return f.commandErr
}

func (f *fakeRemote) ReplyPermission(ctx context.Context, sessionID, permissionID string, response types.PermissionResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permissionReplies = append(f.permissionReplies, permissionID+":"+string(response))
	return f.permissionErr
}

func (f *fakeRemote) ReplyQuestion(ctx context.Context, requestID string, answers [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questionReplies[requestID] = answers
	return f.questionErr
}

func (f *fakeRemote) RejectQuestion(ctx context.Context, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, requestID)
	return f.questionErr
}

func (f *fakeRemote) Events(ctx context.Context, handler func([]byte)) error {
	if f.events != nil {
		return f.events(ctx, handler)
	}
	handler(event.ConnectedEnvelope)
	<-ctx.Done()
	return ctx.Err()
}

// gateHistory makes Messages for sessionID block until the returned func runs.
func (f *fakeRemote) gateHistory(sessionID string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.historyGate[sessionID] = ch
	f.mu.Unlock()
	return func() { close(ch) }
}

// gatedCalls counts calls that reached a gate.
func (f *fakeRemote) gatedCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gated
}

// gateList makes ListSessions block until the returned func runs.
func (f *fakeRemote) gateList() func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.listGate = ch
	f.mu.Unlock()
	return func() { close(ch) }
}

type memPrefs struct {
	mu          sync.Mutex
	lastSession string
	model       *types.ModelRef
	cleared     int
}

func (p *memPrefs) LastSessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSession
}

func (p *memPrefs) SetLastSessionID(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSession = id
	return nil
}

func (p *memPrefs) ClearLastSessionID() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSession = ""
	p.cleared++
	return nil
}

func (p *memPrefs) LastModel() *types.ModelRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

func (p *memPrefs) SetLastModel(ref types.ModelRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = &ref
	return nil
}

func (p *memPrefs) ClearLastModel() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = nil
	return nil
}

type staticDiff string

func (d staticDiff) Format() string { return string(d) }

func newTestEngine(t *testing.T) (*Engine, *fakeRemote, *memPrefs) {
	t.Helper()
	remote := newFakeRemote()
	prefs := &memPrefs{}
	logger := zerolog.Nop()
	e := New(Config{
		Remote: remote,
		Prefs:  prefs,
		Logger: &logger,
		Now:    func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
	t.Cleanup(func() { _ = e.Bus().Close() })
	return e, remote, prefs
}

func switchTo(t *testing.T, e *Engine, id string) {
	t.Helper()
	require.NoError(t, e.SwitchSession(context.Background(), id))
	require.Equal(t, id, e.CurrentSessionID())
}

func decode(t *testing.T, format string, args ...any) event.Event {
	t.Helper()
	ev := event.Decode([]byte(fmt.Sprintf(format, args...)))
	require.NotEqual(t, event.Unknown, ev.Type, "fixture must decode")
	return ev
}

func textPartUpdated(t *testing.T, sessionID, messageID, partID, text string) event.Event {
	return decode(t, `{"type":"message.part.updated","properties":{"part":{"id":%q,"messageID":%q,"sessionID":%q,"type":"text","text":%q}}}`,
		partID, messageID, sessionID, text)
}

func messageUpdated(t *testing.T, sessionID, messageID string, role types.Role) event.Event {
	return decode(t, `{"type":"message.updated","properties":{"info":{"id":%q,"sessionID":%q,"role":%q}}}`,
		messageID, sessionID, role)
}

func permissionUpdated(t *testing.T, sessionID, id, title string) event.Event {
	return decode(t, `{"type":"permission.updated","properties":{"id":%q,"sessionID":%q,"title":%q,"type":"bash"}}`,
		id, sessionID, title)
}

func questionAsked(t *testing.T, sessionID, id string) event.Event {
	return decode(t, `{"type":"question.asked","properties":{"id":%q,"sessionID":%q,"questions":[{"question":"Pick","multiple":false,"options":[{"label":"a"},{"label":"b"}]}]}}`,
		id, sessionID)
}

func partTexts(m types.Message) []string {
	out := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		if tp, ok := p.(*types.TextPart); ok {
			out = append(out, tp.ID+"="+tp.Text)
		}
	}
	return out
}
