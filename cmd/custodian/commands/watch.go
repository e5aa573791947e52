package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	watchSession string
	watchRaw     bool
	watchMetrics string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a session as the agent works",
	Long: `Attach to the server's event stream and print the current session as it
changes: user prompts, streamed assistant text, tool calls, permission
requests and questions. Without --session the session last used in this
directory is followed, or the newest one.

Examples:
  custodian watch
  custodian watch --session ses_01j...
  custodian watch --raw                      # Print every server event
  custodian watch --metrics-addr :9090       # Expose prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchSession, "session", "s", "", "Session to follow")
	watchCmd.Flags().BoolVar(&watchRaw, "raw", false, "Print raw server events instead of the reconciled view")
	watchCmd.Flags().StringVar(&watchMetrics, "metrics-addr", "", "Serve prometheus metrics on this address")
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	a.serveMetrics(gctx, g, watchMetrics)

	if watchRaw {
		raw, err := a.engine.Bus().Tap(gctx)
		if err != nil {
			return a.finish(cancel, g, err)
		}
		g.Go(func() error {
			for data := range raw {
				a.out.Raw(data)
			}
			return nil
		})
	}

	if err := a.stream(gctx, g); err != nil {
		return a.finish(cancel, g, err)
	}
	if err := a.selectSession(gctx, watchSession); err != nil {
		return a.finish(cancel, g, err)
	}
	if !watchRaw {
		f := newFollower(a.out)
		defer f.attach(a.engine)()
	}
	a.out.Banner(a.client.BaseURL(), a.engine.CurrentSessionID())

	<-gctx.Done()
	return a.finish(cancel, g, gctx.Err())
}
