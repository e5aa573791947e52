package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/custodian/internal/catalog"
	"github.com/opencode-ai/custodian/internal/diffctx"
	"github.com/opencode-ai/custodian/pkg/types"
)

var (
	chatSession string
	chatMetrics string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent interactively",
	Long: `Start an interactive session. Type a prompt and press enter to send it;
the reply streams in as the agent works. Slash commands answer permission
requests and questions, switch sessions and pick models. Type /help for the
full list.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "Session to open")
	chatCmd.Flags().StringVar(&chatMetrics, "metrics-addr", "", "Serve prometheus metrics on this address")
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	a.serveMetrics(gctx, g, chatMetrics)
	if err := a.stream(gctx, g); err != nil {
		return a.finish(cancel, g, err)
	}
	if err := a.selectSession(gctx, chatSession); err != nil {
		return a.finish(cancel, g, err)
	}

	f := newFollower(a.out)
	defer f.attach(a.engine)()
	a.out.Banner(a.client.BaseURL(), a.engine.CurrentSessionID())

	// Reads cannot be interrupted, so the reader is left out of the group.
	lines := make(chan string)
	go readLines(cmd.InOrStdin(), a.out.out, lines)

	r := &repl{app: a}
	if w, err := diffctx.NewWatcher(a.diff, func(summary string) {
		if summary == "" {
			summary = "no changes"
		}
		a.out.Notice("tracked files changed: %s", summary)
	}); err != nil {
		a.log.Warn().Err(err).Msg("file watcher unavailable")
	} else {
		w.Start()
		defer w.Stop()
		r.watcher = w
	}
	for {
		select {
		case <-gctx.Done():
			return a.finish(cancel, g, gctx.Err())
		case line, ok := <-lines:
			if !ok {
				return a.finish(cancel, g, nil)
			}
			if r.exec(gctx, line) {
				return a.finish(cancel, g, nil)
			}
		}
	}
}

func buildPrompt() string {
	cwd, _ := os.Getwd()
	return fmt.Sprintf("%s> ", filepath.Base(cwd))
}

// readLines sends each input to lines until in is exhausted. A trailing
// backslash continues the input on the next line.
func readLines(in io.Reader, out io.Writer, lines chan<- string) {
	defer close(lines)
	reader := bufio.NewReader(in)
	for {
		line, err := readMultiline(reader, out)
		if err != nil {
			return
		}
		lines <- line
	}
}

func readMultiline(reader *bufio.Reader, out io.Writer) (string, error) {
	var lines []string
	for {
		prompt := buildPrompt()
		if len(lines) > 0 {
			prompt = "... "
		}
		fmt.Fprint(out, prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			if len(lines) == 0 && strings.TrimSpace(line) == "" {
				return "", err
			}
			return strings.Join(append(lines, strings.TrimRight(line, "\r\n")), "\n"), nil
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasSuffix(line, "\\") {
			lines = append(lines, strings.TrimSuffix(line, "\\"))
			continue
		}
		lines = append(lines, line)
		return strings.Join(lines, "\n"), nil
	}
}

// repl executes chat input against the engine.
type repl struct {
	*app
	watcher *diffctx.Watcher
}

// exec runs one line of input. It reports true when the user asked to quit.
func (r *repl) exec(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if !strings.HasPrefix(trimmed, "/") {
		if err := r.engine.SendMessage(ctx, trimmed); err != nil {
			r.log.Debug().Err(err).Msg("send failed")
		}
		return false
	}

	cmd := parseCommand(trimmed)
	if cmd.Name == "exit" || cmd.Name == "quit" {
		return true
	}
	if err := r.slash(ctx, cmd); err != nil {
		r.out.Error(err)
	}
	return false
}

func (r *repl) slash(ctx context.Context, cmd slashCommand) error {
	e := r.engine
	switch cmd.Name {
	case "help":
		r.out.Help(helpText)
	case "new":
		_, err := e.CreateSession(ctx)
		return err
	case "sessions":
		r.out.Sessions(e.RefreshSessions(ctx), e.CurrentSessionID())
	case "switch":
		if len(cmd.Args) != 1 {
			return errors.New("usage: /switch <session-id>")
		}
		id, err := matchSession(e.RefreshSessions(ctx), cmd.Args[0])
		if err != nil {
			return err
		}
		return e.SwitchSession(ctx, id)
	case "delete":
		if len(cmd.Args) != 1 {
			return errors.New("usage: /delete <session-id>")
		}
		id, err := matchSession(e.Sessions(), cmd.Args[0])
		if err != nil {
			return err
		}
		return e.DeleteSession(ctx, id)
	case "cancel":
		e.Cancel(ctx)
	case "compact":
		return e.Compact(ctx)
	case "allow", "deny":
		return r.replyPermission(ctx, cmd)
	case "answer":
		q := e.Snapshot().Question
		if q == nil {
			return errors.New("no pending question")
		}
		answers, err := parseAnswers(*q, cmd.Rest)
		if err != nil {
			return err
		}
		return e.ReplyQuestion(ctx, q.ID, answers)
	case "skip":
		q := e.Snapshot().Question
		if q == nil {
			return errors.New("no pending question")
		}
		return e.RejectQuestion(ctx, q.ID)
	case "model":
		return r.model(ctx, cmd)
	case "models":
		r.out.Models(r.catalog.Providers(ctx), e.SelectedModel())
	case "commands":
		r.out.Commands(r.catalog.Commands(ctx))
	case "run":
		return r.run(ctx, cmd)
	case "track":
		if len(cmd.Args) == 0 {
			r.out.Help(strings.Join(r.diff.Tracked(), "\n"))
			return nil
		}
		if err := r.diff.Track(cmd.Args...); err != nil {
			return err
		}
		if r.watcher != nil {
			return r.watcher.Sync()
		}
	case "untrack":
		if len(cmd.Args) == 0 {
			r.diff.Clear()
			return nil
		}
		r.diff.Untrack(cmd.Args...)
	case "context":
		return r.diffContext(cmd)
	default:
		if _, _, ok := catalog.FindCommand(r.catalog.Commands(ctx), cmd.Name); ok {
			return r.run(ctx, slashCommand{Name: "run", Args: append([]string{cmd.Name}, cmd.Args...), Rest: strings.TrimSpace(cmd.Name + " " + cmd.Rest)})
		}
		return fmt.Errorf("unknown command /%s, try /help", cmd.Name)
	}
	return nil
}

func (r *repl) replyPermission(ctx context.Context, cmd slashCommand) error {
	p := r.engine.Snapshot().Permission
	if p == nil {
		return errors.New("no pending permission request")
	}
	response := types.PermissionReject
	if cmd.Name == "allow" {
		response = types.PermissionOnce
		if len(cmd.Args) > 0 {
			response = types.PermissionResponse(strings.ToLower(cmd.Args[0]))
		}
		if response == types.PermissionReject || !response.Valid() {
			return errors.New("usage: /allow [once|always]")
		}
	}
	return r.engine.ReplyPermission(ctx, p.ID, response)
}

func (r *repl) model(ctx context.Context, cmd slashCommand) error {
	switch {
	case len(cmd.Args) == 0:
		if m := r.engine.SelectedModel(); m != nil {
			r.out.Help(m.String())
		} else {
			r.out.Help("server default")
		}
		return nil
	case cmd.Args[0] == "clear":
		r.engine.ClearModel()
		return nil
	}
	ref, err := catalog.ResolveModel(r.catalog.Providers(ctx), cmd.Args[0])
	if err != nil {
		return err
	}
	r.engine.SelectModel(ref.ProviderID, ref.ModelID)
	r.out.Notice("prompts will use %s", ref)
	return nil
}

func (r *repl) run(ctx context.Context, cmd slashCommand) error {
	if len(cmd.Args) == 0 {
		return errors.New("usage: /run <command> [args]")
	}
	name := strings.TrimPrefix(cmd.Args[0], "/")
	commands := r.catalog.Commands(ctx)
	found, suggestion, ok := catalog.FindCommand(commands, name)
	if !ok {
		if suggestion != "" {
			return fmt.Errorf("unknown command %q (did you mean %q?)", name, suggestion)
		}
		return fmt.Errorf("unknown command %q", name)
	}
	if catalog.IsBuiltin(found.Name) {
		r.out.Sessions(r.engine.RefreshSessions(ctx), r.engine.CurrentSessionID())
		return nil
	}
	_, args, _ := strings.Cut(cmd.Rest, " ")
	return r.engine.RunCommand(ctx, strings.TrimSpace(found.Name+" "+args))
}

func (r *repl) diffContext(cmd slashCommand) error {
	if len(cmd.Args) > 0 {
		switch cmd.Args[0] {
		case "on":
			r.diff.SetContextEnabled(true)
		case "off":
			r.diff.SetContextEnabled(false)
		default:
			return errors.New("usage: /context [on|off]")
		}
	}
	state := "off"
	if r.diff.Enabled() {
		state = "on"
	}
	r.diff.Refresh()
	if summary := r.diff.Summary(); summary != "" {
		state += ", " + summary
	}
	r.out.Notice("diff context %s", state)
	return nil
}
