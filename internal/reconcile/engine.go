// Package reconcile keeps a local view of the current agent session in sync
// with the server's event stream and the user's optimistic actions.
//
// All mutations, whether from the event consumer or from an action, happen
// under a single mutex. Remote calls are made with the lock released and
// their results are applied back under it.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/opencode-ai/custodian/internal/event"
	"github.com/opencode-ai/custodian/internal/logging"
	"github.com/opencode-ai/custodian/internal/metrics"
	"github.com/opencode-ai/custodian/pkg/types"
)

// ConnState is the state of the event stream consumer.
type ConnState string

const (
	ConnIdle       ConnState = "idle"
	ConnConnecting ConnState = "connecting"
	ConnStreaming  ConnState = "streaming"
	ConnErrored    ConnState = "errored"
)

// Config holds the engine's collaborators. Only Remote is required.
type Config struct {
	Remote  Remote
	Prefs   Prefs
	Diff    DiffContext
	Bus     *event.Bus
	Metrics *metrics.Metrics
	Logger  *zerolog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine reconciles server events and local actions into one session view.
type Engine struct {
	remote  Remote
	prefs   Prefs
	diff    DiffContext
	bus     *event.Bus
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time

	refresh singleflight.Group

	mu sync.Mutex

	currentSessionID string
	generation       uint64
	store            *Store
	buffer           PartBuffer
	permissions      *Queue[types.Permission]
	questions        *Queue[types.QuestionRequest]

	isStreaming   bool
	errMsg        string
	connState     ConnState
	connected     bool
	streamCancel  context.CancelFunc
	selectedModel *types.ModelRef
	sessions      []types.Session
}

// New creates an engine. The selected model is restored from Prefs.
func New(cfg Config) *Engine {
	e := &Engine{
		remote:      cfg.Remote,
		prefs:       cfg.Prefs,
		diff:        cfg.Diff,
		bus:         cfg.Bus,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
		store:       NewStore(),
		permissions: NewQueue(func(p types.Permission) string { return p.ID }),
		questions:   NewQueue(func(q types.QuestionRequest) string { return q.ID }),
		connState:   ConnIdle,
	}
	if e.bus == nil {
		e.bus = event.NewBus()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if cfg.Logger != nil {
		e.log = cfg.Logger.With().Str("component", "engine").Logger()
	} else {
		e.log = logging.Component("engine")
	}
	if e.prefs != nil {
		if ref := e.prefs.LastModel(); ref != nil {
			m := *ref
			e.selectedModel = &m
		}
	}
	return e
}

// Bus returns the bus observers subscribe to. Decoded events are published
// after they were applied; actions publish event.StateChanged.
func (e *Engine) Bus() *event.Bus {
	return e.bus
}

// Apply reconciles one decoded event into the session state.
func (e *Engine) Apply(ev event.Event) {
	e.mu.Lock()
	reason := e.applyLocked(ev)
	depth := e.buffer.Len()
	e.mu.Unlock()

	if reason != "" {
		e.metrics.EventDropped(string(ev.Type), reason)
		e.log.Debug().
			Str("eventType", string(ev.Type)).
			Str("sessionID", ev.SessionID).
			Str("reason", reason).
			Msg("event dropped")
		return
	}
	e.metrics.EventApplied(string(ev.Type))
	e.metrics.BufferDepth(depth)
}

// applyLocked returns a non-empty drop reason when the event was ignored.
func (e *Engine) applyLocked(ev event.Event) string {
	if ev.Type == event.Unknown {
		return "unknown"
	}
	if ev.Scoped() {
		if e.currentSessionID == "" {
			return "no_session"
		}
		if ev.SessionID != e.currentSessionID {
			return "foreign_session"
		}
	}

	switch data := ev.Data.(type) {
	case event.ConnectedData:
		e.connState = ConnStreaming
		e.connected = true
		e.errMsg = ""

	case event.PartUpdatedData:
		if !e.store.UpsertPart(data.MessageID, data.Part) {
			e.buffer.Push(data.MessageID, data.Part)
			e.metrics.PartBuffered(e.buffer.Len())
		}

	case event.PartDeltaData:
		e.store.AppendDelta(data.MessageID, data.PartID, data.Field, data.Delta)

	case event.PartRemovedData:
		e.store.RemovePart(data.MessageID, data.PartID)

	case event.MessageUpdatedData:
		e.applyMessageUpdated(data)

	case event.MessageRemovedData:
		e.store.Remove(data.MessageID)

	case event.SessionStatusData:
		e.isStreaming = data.Busy()

	case event.SessionIdleData:
		e.isStreaming = false

	case event.SessionErrorData:
		e.isStreaming = false
		e.errMsg = data.Message

	case event.PermissionUpdatedData:
		e.permissions.Upsert(data.Permission)

	case event.PermissionRepliedData:
		e.permissions.Remove(data.PermissionID)

	case event.QuestionAskedData:
		e.questions.Upsert(data.Request)

	case event.QuestionRepliedData:
		e.questions.Remove(data.RequestID)

	case event.SessionChangedData:
		// The consumer refreshes the session list.

	default:
		return "unhandled"
	}
	return ""
}

func (e *Engine) applyMessageUpdated(data event.MessageUpdatedData) {
	drained := e.buffer.Drain(data.MessageID)

	if m, ok := e.store.Get(data.MessageID); ok {
		for _, p := range drained {
			upsertPart(m, p)
		}
		m.Role = data.Role
		return
	}

	// Server echo of a locally sent message: adopt the server id and keep
	// the optimistic parts.
	if data.Role == types.RoleUser {
		if opt, ok := e.store.LastOptimistic(); ok {
			e.store.Rename(opt.ID, data.MessageID)
			return
		}
	}

	e.store.Append(types.Message{
		ID:        data.MessageID,
		Role:      data.Role,
		Parts:     drained,
		Timestamp: e.now().UnixMilli(),
	})
}

// resetLocked makes id the current session and clears everything scoped to
// the previous one.
func (e *Engine) resetLocked(id string) {
	e.currentSessionID = id
	e.generation++
	e.store.Clear()
	e.buffer.Clear()
	e.permissions.Clear()
	e.questions.Clear()
	e.isStreaming = false
}

// notify publishes a StateChanged event. It must be called without the lock.
func (e *Engine) notify(reason string) {
	e.bus.PublishSync(event.Event{
		Type: event.StateChanged,
		Data: event.StateChangedData{Reason: reason},
	})
}
