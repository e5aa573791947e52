package reconcile

import (
	"context"
	"errors"

	"github.com/opencode-ai/custodian/pkg/types"
)

var (
	// ErrAlreadyStreaming is returned by StartEventStream while another
	// consumer is attached.
	ErrAlreadyStreaming = errors.New("event stream already active")

	// ErrNoSession is returned by actions that need a current session.
	ErrNoSession = errors.New("no current session")

	// ErrStaleHistory marks a history fetch that finished after the current
	// session changed. It is logged, never returned to callers.
	ErrStaleHistory = errors.New("history belongs to a previous session")
)

// Remote is the server API the engine drives.
type Remote interface {
	ListSessions(ctx context.Context) ([]types.Session, error)
	CreateSession(ctx context.Context) (types.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Messages(ctx context.Context, sessionID string) ([]types.Message, error)
	PromptAsync(ctx context.Context, sessionID string, req types.PromptRequest) error
	Abort(ctx context.Context, sessionID string) error
	Summarize(ctx context.Context, sessionID string, model *types.ModelRef) error
	Command(ctx context.Context, sessionID, command, arguments string) error
	ReplyPermission(ctx context.Context, sessionID, permissionID string, response types.PermissionResponse) error
	ReplyQuestion(ctx context.Context, requestID string, answers [][]string) error
	RejectQuestion(ctx context.Context, requestID string) error

	// Events blocks, calling handler with every raw envelope until ctx is
	// done or the stream fails. The first envelope after attaching is the
	// synthetic connected signal.
	Events(ctx context.Context, handler func(raw []byte)) error
}

// Prefs persists the user's last session and model selection.
type Prefs interface {
	LastSessionID() string
	SetLastSessionID(id string) error
	ClearLastSessionID() error
	LastModel() *types.ModelRef
	SetLastModel(ref types.ModelRef) error
	ClearLastModel() error
}

// DiffContext supplies an optional block of text prepended to prompts.
type DiffContext interface {
	Format() string
}
