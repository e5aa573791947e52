package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/opencode-ai/custodian/pkg/types"
)

// Renderer prints conversation progress as colored text or JSON lines.
type Renderer struct {
	opts   rendererOptions
	out    io.Writer
	errOut io.Writer

	dim    *color.Color
	user   *color.Color
	agent  *color.Color
	tool   *color.Color
	warn   *color.Color
	failed *color.Color
}

type rendererOptions struct {
	NoColor bool
	JSON    bool
	Quiet   bool
}

// lockedWriter serializes writes from the stream, input and command
// goroutines.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func NewRenderer(out, errOut io.Writer, opts rendererOptions) *Renderer {
	if opts.NoColor || opts.JSON {
		color.NoColor = true
	}
	mu := &sync.Mutex{}
	return &Renderer{
		opts:   opts,
		out:    lockedWriter{mu: mu, w: out},
		errOut: lockedWriter{mu: mu, w: errOut},
		dim:    color.New(color.FgHiBlack),
		user:   color.New(color.FgCyan, color.Bold),
		agent:  color.New(color.FgGreen, color.Bold),
		tool:   color.New(color.FgYellow),
		warn:   color.New(color.FgMagenta, color.Bold),
		failed: color.New(color.FgRed),
	}
}

func (r *Renderer) emit(v map[string]any) {
	b, _ := json.Marshal(v)
	fmt.Fprintln(r.out, string(b))
}

func (r *Renderer) Banner(url, sessionID string) {
	if r.opts.Quiet || r.opts.JSON {
		return
	}
	if sessionID == "" {
		sessionID = "none"
	}
	fmt.Fprintln(r.errOut, r.dim.Sprintf("Connected to %s (session %s)", url, sessionID))
}

func (r *Renderer) Help(text string) {
	if r.opts.Quiet {
		return
	}
	fmt.Fprintln(r.out, text)
}

// Notice prints a dimmed status line on stderr.
func (r *Renderer) Notice(format string, args ...any) {
	if r.opts.Quiet {
		return
	}
	fmt.Fprintln(r.errOut, r.dim.Sprintf(format, args...))
}

func (r *Renderer) Error(err error) {
	if r.opts.JSON {
		r.emit(map[string]any{"type": "error", "error": err.Error()})
		return
	}
	fmt.Fprintln(r.errOut, r.failed.Sprintf("error: %v", err))
}

// SessionError prints an error the engine surfaced in its snapshot.
func (r *Renderer) SessionError(msg string) {
	r.Error(fmt.Errorf("%s", msg))
}

func (r *Renderer) User(messageID, text string) {
	if r.opts.JSON {
		r.emit(map[string]any{"type": "user", "messageID": messageID, "text": text})
		return
	}
	fmt.Fprintf(r.out, "%s %s\n", r.user.Sprint("you ›"), text)
}

// AssistantStart opens a new assistant line that deltas are appended to.
func (r *Renderer) AssistantStart(messageID string) {
	if r.opts.JSON {
		return
	}
	fmt.Fprintf(r.out, "%s ", r.agent.Sprint("assistant ›"))
}

// AssistantDelta appends streamed text to the open assistant line.
func (r *Renderer) AssistantDelta(messageID, partID, delta string) {
	if r.opts.JSON {
		r.emit(map[string]any{"type": "text", "messageID": messageID, "partID": partID, "delta": delta})
		return
	}
	fmt.Fprint(r.out, delta)
}

// EndLine terminates an open assistant line.
func (r *Renderer) EndLine() {
	if r.opts.JSON {
		return
	}
	fmt.Fprintln(r.out)
}

func (r *Renderer) Tool(messageID string, part *types.ToolPart) {
	if r.opts.JSON {
		r.emit(map[string]any{
			"type":      "tool",
			"messageID": messageID,
			"tool":      part.Tool,
			"callID":    part.CallID,
			"state":     part.State,
		})
		return
	}
	label := part.Tool
	if part.State.Title != "" {
		label += " " + part.State.Title
	}
	fmt.Fprintln(r.out, r.tool.Sprintf("→ tool %s (%s)", label, describeToolState(part.State.Status)))
	switch part.State.Status {
	case types.ToolCompleted:
		if part.State.Output != "" {
			fmt.Fprintln(r.out, r.dim.Sprint(indent(part.State.Output)))
		}
	case types.ToolError:
		if part.State.Error != "" {
			fmt.Fprintln(r.errOut, r.failed.Sprintf("  error: %s", part.State.Error))
		}
	}
}

func (r *Renderer) Permission(p types.Permission) {
	if r.opts.JSON {
		r.emit(map[string]any{"type": "permission", "permission": p})
		return
	}
	title := p.Title
	if title == "" {
		title = p.Permission
	}
	fmt.Fprintf(r.out, "%s %s [%s]\n", r.warn.Sprint("permission ›"), title, p.Permission)
	fmt.Fprintln(r.out, r.dim.Sprint("  /allow once · /allow always · /deny"))
}

func (r *Renderer) Question(q types.QuestionRequest) {
	if r.opts.JSON {
		r.emit(map[string]any{"type": "question", "question": q})
		return
	}
	for i, item := range q.Questions {
		header := item.Question
		if item.Header != "" {
			header = item.Header + ": " + item.Question
		}
		if len(q.Questions) > 1 {
			header = fmt.Sprintf("%d. %s", i+1, header)
		}
		fmt.Fprintf(r.out, "%s %s\n", r.warn.Sprint("question ›"), header)
		for j, opt := range item.Options {
			line := fmt.Sprintf("  %d) %s", j+1, opt.Label)
			if opt.Description != "" {
				line += r.dim.Sprint(" - " + opt.Description)
			}
			fmt.Fprintln(r.out, line)
		}
	}
	fmt.Fprintln(r.out, r.dim.Sprint("  /answer 1,2 (use ; between questions) · /skip"))
}

// Raw prints an undecoded server envelope.
func (r *Renderer) Raw(data []byte) {
	fmt.Fprintln(r.out, string(data))
}

// Sessions prints a session table, marking current with "*".
func (r *Renderer) Sessions(list []types.Session, current string) {
	if r.opts.JSON {
		for _, s := range list {
			r.emit(map[string]any{"type": "session", "id": s.ID, "title": s.Title, "createdAt": s.CreatedAt, "current": s.ID == current})
		}
		return
	}
	if len(list) == 0 {
		fmt.Fprintln(r.out, "No sessions.")
		return
	}
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tID\tTITLE\tCREATED\t")
	for _, s := range list {
		mark := ""
		if s.ID == current {
			mark = "*"
		}
		created := ""
		if s.CreatedAt > 0 {
			created = time.UnixMilli(s.CreatedAt).Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", mark, s.ID, s.Title, created)
	}
	w.Flush()
}

// Models prints the provider/model table, marking selected with "*".
func (r *Renderer) Models(providers []types.ProviderInfo, selected *types.ModelRef) {
	if r.opts.JSON {
		for _, p := range providers {
			for _, m := range p.Models {
				r.emit(map[string]any{"type": "model", "provider": p.ID, "model": m.ID, "name": m.Name})
			}
		}
		return
	}
	if len(providers) == 0 {
		fmt.Fprintln(r.out, "No providers available.")
		return
	}
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tPROVIDER\tMODEL\tNAME\t")
	for _, p := range providers {
		for _, m := range p.Models {
			mark := ""
			if selected != nil && selected.ProviderID == p.ID && selected.ModelID == m.ID {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", mark, p.ID, m.ID, m.Name)
		}
	}
	w.Flush()
}

// Commands prints slash commands.
func (r *Renderer) Commands(list []types.SlashCommand) {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, c := range list {
		fmt.Fprintf(w, "/%s\t%s\n", c.Name, c.Description)
	}
	w.Flush()
}

func describeToolState(status string) string {
	switch status {
	case types.ToolPending:
		return "pending"
	case types.ToolRunning:
		return "running"
	case types.ToolCompleted:
		return "done"
	case types.ToolError:
		return "error"
	default:
		return "unknown"
	}
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n  ")
}
