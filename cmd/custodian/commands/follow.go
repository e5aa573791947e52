package commands

import (
	"sync"

	"github.com/opencode-ai/custodian/internal/event"
	"github.com/opencode-ai/custodian/internal/reconcile"
	"github.com/opencode-ai/custodian/pkg/types"
)

// follower prints what changed between successive engine snapshots. It
// remembers how much of each text part it has already printed, so deltas
// and full part updates both render as a continuous stream.
type follower struct {
	out *Renderer

	mu         sync.Mutex
	session    string
	users      int
	printed    map[string]int
	toolStatus map[string]string
	openMsg    string
	permission string
	question   string
	errMsg     string
}

func newFollower(out *Renderer) *follower {
	f := &follower{out: out}
	f.reset("")
	return f
}

// attach renders after every event the engine publishes. It returns the
// unsubscribe function.
func (f *follower) attach(engine *reconcile.Engine) func() {
	f.render(engine.Snapshot())
	return engine.Bus().SubscribeAll(func(event.Event) {
		f.render(engine.Snapshot())
	})
}

func (f *follower) reset(session string) {
	f.session = session
	f.users = 0
	f.printed = make(map[string]int)
	f.toolStatus = make(map[string]string)
	f.openMsg = ""
	f.permission = ""
	f.question = ""
}

// seed marks everything in s as already printed.
func (f *follower) seed(s reconcile.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset(s.CurrentSessionID)
	for _, msg := range s.Messages {
		if msg.Role == types.RoleUser {
			f.users++
			continue
		}
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case *types.TextPart:
				f.printed[p.ID] = len(p.Text)
			case *types.ToolPart:
				f.toolStatus[p.ID] = p.State.Status
			}
		}
	}
	if s.Permission != nil {
		f.permission = s.Permission.ID
	}
	if s.Question != nil {
		f.question = s.Question.ID
	}
	f.errMsg = s.Error
}

func (f *follower) render(s reconcile.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s.CurrentSessionID != f.session {
		f.closeLine()
		f.reset(s.CurrentSessionID)
		if s.CurrentSessionID != "" {
			f.out.Notice("session %s", s.CurrentSessionID)
		}
	}

	users := 0
	for i := range s.Messages {
		msg := &s.Messages[i]
		if msg.Role == types.RoleUser {
			// Rendered by position: the optimistic copy and the confirmed
			// message share a slot.
			if users >= f.users {
				f.closeLine()
				f.out.User(msg.ID, msg.Text())
				f.users = users + 1
			}
			users++
			continue
		}
		f.renderAssistant(msg)
	}

	if !s.IsStreaming {
		f.closeLine()
	}

	if s.Permission != nil && s.Permission.ID != f.permission {
		f.closeLine()
		f.out.Permission(*s.Permission)
	}
	if s.Permission != nil {
		f.permission = s.Permission.ID
	} else {
		f.permission = ""
	}

	if s.Question != nil && s.Question.ID != f.question {
		f.closeLine()
		f.out.Question(*s.Question)
	}
	if s.Question != nil {
		f.question = s.Question.ID
	} else {
		f.question = ""
	}

	if s.Error != "" && s.Error != f.errMsg {
		f.closeLine()
		f.out.SessionError(s.Error)
	}
	f.errMsg = s.Error
}

func (f *follower) renderAssistant(msg *types.Message) {
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case *types.TextPart:
			done := f.printed[p.ID]
			if len(p.Text) <= done {
				continue
			}
			if f.openMsg != msg.ID {
				f.closeLine()
				f.out.AssistantStart(msg.ID)
				f.openMsg = msg.ID
			}
			f.out.AssistantDelta(msg.ID, p.ID, p.Text[done:])
			f.printed[p.ID] = len(p.Text)
		case *types.ToolPart:
			if f.toolStatus[p.ID] == p.State.Status {
				continue
			}
			f.closeLine()
			f.out.Tool(msg.ID, p)
			f.toolStatus[p.ID] = p.State.Status
		}
	}
}

func (f *follower) closeLine() {
	if f.openMsg != "" {
		f.out.EndLine()
		f.openMsg = ""
	}
}
