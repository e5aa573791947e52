package commands

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/custodian/internal/catalog"
	"github.com/opencode-ai/custodian/internal/config"
	"github.com/opencode-ai/custodian/internal/diffctx"
	"github.com/opencode-ai/custodian/internal/event"
	"github.com/opencode-ai/custodian/internal/logging"
	"github.com/opencode-ai/custodian/internal/metrics"
	"github.com/opencode-ai/custodian/internal/reconcile"
	"github.com/opencode-ai/custodian/internal/remote"
	"github.com/opencode-ai/custodian/internal/storage"
)

var (
	_ reconcile.Remote      = (*remote.Client)(nil)
	_ reconcile.Prefs       = (*storage.Prefs)(nil)
	_ reconcile.DiffContext = (*diffctx.Provider)(nil)
	_ catalog.Source        = (*remote.Client)(nil)
)

// errStreamClosed reports a server that ended the event stream.
var errStreamClosed = errors.New("event stream closed by server")

// app wires the engine and its collaborators for one command invocation.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	client  *remote.Client
	engine  *reconcile.Engine
	catalog *catalog.Catalog
	diff    *diffctx.Provider
	prefs   *storage.Prefs
	metrics *metrics.Metrics
	out     *Renderer
}

func newApp(cmd *cobra.Command) (*app, error) {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}

	log := logging.Component("cli")
	m := metrics.New()
	client := remote.New(remote.Config{
		BaseURL:   cfg.Server.URL,
		APIKey:    cfg.Server.APIKey,
		Directory: cfg.Server.Directory,
		Metrics:   m,
	})
	prefs := storage.OpenPrefs(storage.New(paths.StoragePath()), cfg.Server.Directory)
	diff := diffctx.NewProvider(cfg.Server.Directory, cfg.DiffContext.Exclude)
	diff.SetContextEnabled(cfg.DiffContext.IsEnabled())

	engine := reconcile.New(reconcile.Config{
		Remote:  client,
		Prefs:   prefs,
		Diff:    diff,
		Metrics: m,
	})

	return &app{
		cfg:     cfg,
		log:     log,
		client:  client,
		engine:  engine,
		catalog: catalog.New(client, nil),
		diff:    diff,
		prefs:   prefs,
		metrics: m,
		out:     NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), rendererOptions{NoColor: noColor, JSON: jsonOut}),
	}, nil
}

// stream starts the event consumer in g and waits for the connected
// signal. If the consumer fails first, the error surfaces from g.Wait.
func (a *app) stream(ctx context.Context, g *errgroup.Group) error {
	connected := make(chan struct{})
	var once sync.Once
	unsub := a.engine.Bus().Subscribe(event.Connected, func(event.Event) {
		once.Do(func() { close(connected) })
	})
	defer unsub()

	g.Go(func() error {
		if err := a.engine.StartEventStream(ctx); err != nil {
			return err
		}
		if ctx.Err() == nil {
			return errStreamClosed
		}
		return nil
	})

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serveMetrics exposes /metrics on addr until ctx is done. An empty addr
// disables it.
func (a *app) serveMetrics(ctx context.Context, g *errgroup.Group, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		a.log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// selectSession switches to id, or restores the last used session when id
// is empty.
func (a *app) selectSession(ctx context.Context, id string) error {
	if id != "" {
		return a.engine.SwitchSession(ctx, id)
	}
	return a.engine.AutoSelectSession(ctx)
}

// finish cancels the group's parent context and joins g, preferring the
// first real error.
func (a *app) finish(cancel context.CancelFunc, g *errgroup.Group, err error) error {
	cancel()
	a.engine.StopEventStream()
	werr := g.Wait()
	if werr != nil {
		return werr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
