// Package diffctx builds the block of changed-file context that is
// prepended to prompts. Files come either from an explicit set of changes
// or from tracked files on disk compared against the content they had when
// tracking started.
package diffctx

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/custodian/internal/logging"
)

// SourceWorking labels context built from tracked files.
const SourceWorking = "working"

// Provider holds the current diff context. It is safe for concurrent use.
type Provider struct {
	root    string
	exclude []string
	log     zerolog.Logger

	mu       sync.Mutex
	enabled  bool
	source   string
	files    []FileDiff
	baseline map[string]string
}

// NewProvider creates an enabled provider. Paths are relative to root and
// files matching any exclude glob (doublestar syntax) are never included.
func NewProvider(root string, exclude []string) *Provider {
	return &Provider{
		root:     root,
		exclude:  slices.Clone(exclude),
		log:      logging.Component("diffctx"),
		enabled:  true,
		baseline: make(map[string]string),
	}
}

// Excluded reports whether path matches an exclude glob.
func (p *Provider) Excluded(path string) bool {
	path = filepath.ToSlash(path)
	for _, pattern := range p.exclude {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// Update replaces the context with the given changes. Unchanged and
// excluded files are dropped.
func (p *Provider) Update(source string, changes []Change) {
	files := p.compute(changes)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = source
	p.files = files
}

// Clear drops the context and stops tracking files.
func (p *Provider) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = ""
	p.files = nil
	clear(p.baseline)
}

// Track records the current content of each path as its baseline. A path
// that does not exist yet has an empty baseline.
func (p *Provider) Track(paths ...string) error {
	for _, path := range paths {
		if p.Excluded(path) {
			return fmt.Errorf("%s is excluded from diff context", path)
		}
		content, err := p.read(path)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.baseline[path] = content
		p.mu.Unlock()
	}
	return nil
}

// Untrack stops tracking paths.
func (p *Provider) Untrack(paths ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, path := range paths {
		delete(p.baseline, path)
	}
}

// Tracked returns the tracked paths in order.
func (p *Provider) Tracked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	paths := make([]string, 0, len(p.baseline))
	for path := range p.baseline {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

// Refresh recomputes the context from tracked files. It is a no-op when
// nothing is tracked.
func (p *Provider) Refresh() {
	p.mu.Lock()
	baseline := make(map[string]string, len(p.baseline))
	for k, v := range p.baseline {
		baseline[k] = v
	}
	p.mu.Unlock()
	if len(baseline) == 0 {
		return
	}

	changes := make([]Change, 0, len(baseline))
	for path, before := range baseline {
		after, err := p.read(path)
		if err != nil {
			p.log.Warn().Err(err).Str("path", path).Msg("reading tracked file failed")
			continue
		}
		changes = append(changes, Change{Path: path, Before: before, After: after})
	}
	slices.SortFunc(changes, func(a, b Change) int { return strings.Compare(a.Path, b.Path) })
	p.Update(SourceWorking, changes)
}

// SetContextEnabled turns context inclusion on or off.
func (p *Provider) SetContextEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

// Toggle flips inclusion and returns the new state.
func (p *Provider) Toggle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = !p.enabled
	return p.enabled
}

// Enabled reports whether context is included.
func (p *Provider) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Files returns the current file diffs.
func (p *Provider) Files() []FileDiff {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.files)
}

// Summary is a one-line description such as "2 files (working)", or ""
// when disabled or empty.
func (p *Provider) Summary() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled || len(p.files) == 0 {
		return ""
	}
	plural := "s"
	if len(p.files) == 1 {
		plural = ""
	}
	return fmt.Sprintf("%d file%s (%s)", len(p.files), plural, p.source)
}

// Format returns the block prepended to prompts, or "" when disabled or
// empty. Tracked files are re-read first.
func (p *Provider) Format() string {
	if !p.Enabled() {
		return ""
	}
	p.Refresh()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.files) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<diff_context source=%q>\n", p.source)
	sb.WriteString("Changed files:\n")
	for _, f := range p.files {
		fmt.Fprintf(&sb, "  %s %s +%d/-%d", strings.ToUpper(f.Status[:1]), f.Path, f.Additions, f.Deletions)
		if len(f.Hunks) > 0 {
			ranges := make([]string, len(f.Hunks))
			for i, h := range f.Hunks {
				ranges[i] = fmt.Sprintf("L%d-%d", h.NewStart, h.NewStart+h.NewCount-1)
			}
			fmt.Fprintf(&sb, " (%s)", strings.Join(ranges, ", "))
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("</diff_context>")
	return sb.String()
}

func (p *Provider) compute(changes []Change) []FileDiff {
	var files []FileDiff
	for _, c := range changes {
		if p.Excluded(c.Path) {
			continue
		}
		if fd, ok := Compute(c); ok {
			files = append(files, fd)
		}
	}
	return files
}

func (p *Provider) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.root, path)
}

func (p *Provider) read(path string) (string, error) {
	data, err := os.ReadFile(p.abs(path))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
