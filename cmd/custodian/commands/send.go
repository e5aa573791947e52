package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/custodian/internal/catalog"
	"github.com/opencode-ai/custodian/internal/event"
)

var (
	sendSession string
	sendNew     bool
	sendModel   string
	sendWait    time.Duration
	sendTrack   []string
)

var sendCmd = &cobra.Command{
	Use:   "send <message...>",
	Short: "Send one prompt and print the reply",
	Long: `Send a single prompt to the current session and print the agent's reply
as it streams. The command returns once the session goes idle.

Examples:
  custodian send "explain internal/reconcile"
  custodian send --new --model anthropic/claude-sonnet-4 "write a README"
  custodian send --track main.go "review my change to main.go"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendSession, "session", "s", "", "Session to send to")
	sendCmd.Flags().BoolVar(&sendNew, "new", false, "Start a new session")
	sendCmd.Flags().StringVarP(&sendModel, "model", "m", "", "Model for this prompt (provider/model)")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 10*time.Minute, "Give up waiting for the reply after this long")
	sendCmd.Flags().StringSliceVar(&sendTrack, "track", nil, "Files whose changes are described to the agent")
}

func runSend(cmd *cobra.Command, args []string) error {
	content := strings.TrimSpace(strings.Join(args, " "))
	if content == "" {
		return errors.New("empty message")
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if len(sendTrack) > 0 {
		if err := a.diff.Track(sendTrack...); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, timeout := context.WithTimeout(ctx, sendWait)
	defer timeout()
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	if err := a.stream(gctx, g); err != nil {
		return a.finish(cancel, g, err)
	}

	if sendModel != "" {
		ref, err := catalog.ResolveModel(a.catalog.Providers(gctx), sendModel)
		if err != nil {
			return a.finish(cancel, g, err)
		}
		a.engine.SelectModel(ref.ProviderID, ref.ModelID)
	}

	switch {
	case sendNew:
		if _, err := a.engine.CreateSession(gctx); err != nil {
			return a.finish(cancel, g, err)
		}
	default:
		if err := a.selectSession(gctx, sendSession); err != nil {
			return a.finish(cancel, g, err)
		}
	}

	f := newFollower(a.out)
	f.seed(a.engine.Snapshot())
	defer f.attach(a.engine)()

	done := make(chan error, 1)
	var once sync.Once
	var armed atomic.Bool
	check := func() {
		if !armed.Load() {
			return
		}
		s := a.engine.Snapshot()
		if s.IsStreaming {
			return
		}
		once.Do(func() {
			if s.Error != "" {
				done <- errors.New(s.Error)
				return
			}
			done <- nil
		})
	}
	defer a.engine.Bus().SubscribeAll(func(event.Event) { check() })()

	if err := a.engine.SendMessage(gctx, content); err != nil {
		return a.finish(cancel, g, err)
	}
	armed.Store(true)
	check()

	select {
	case err := <-done:
		return a.finish(cancel, g, err)
	case <-gctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return a.finish(cancel, g, fmt.Errorf("no reply within %s", sendWait))
		}
		return a.finish(cancel, g, gctx.Err())
	}
}
