package diffctx

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// File statuses.
const (
	StatusAdded    = "added"
	StatusModified = "modified"
	StatusDeleted  = "deleted"
)

// Change is one file's content before and after.
type Change struct {
	Path   string
	Before string
	After  string
}

// Hunk is a changed range in the new file, 1-based.
type Hunk struct {
	NewStart int
	NewCount int
}

// FileDiff summarizes one changed file.
type FileDiff struct {
	Path      string
	Status    string
	Additions int
	Deletions int
	Hunks     []Hunk
}

// contextLines matches unified diff's default context.
const contextLines = 3

// Compute diffs a change line by line. ok is false when the contents are
// identical.
func Compute(c Change) (FileDiff, bool) {
	if c.Before == c.After {
		return FileDiff{}, false
	}

	fd := FileDiff{Path: c.Path, Status: StatusModified}
	switch {
	case c.Before == "":
		fd.Status = StatusAdded
	case c.After == "":
		fd.Status = StatusDeleted
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(c.Before, c.After)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	// changed holds [start, end] ranges in the new file; a pure deletion is
	// the empty range at the line that follows it.
	var changed [][2]int
	line := 1
	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			line += n
		case diffmatchpatch.DiffInsert:
			fd.Additions += n
			changed = append(changed, [2]int{line, line + n - 1})
			line += n
		case diffmatchpatch.DiffDelete:
			fd.Deletions += n
			changed = append(changed, [2]int{line, line - 1})
		}
	}
	fd.Hunks = hunks(changed, countLines(c.After))
	return fd, true
}

// hunks widens each changed range by contextLines and merges ranges that
// touch.
func hunks(changed [][2]int, total int) []Hunk {
	if total == 0 {
		return nil
	}
	var out []Hunk
	for _, r := range changed {
		start := max(1, r[0]-contextLines)
		end := min(total, r[1]+contextLines)
		if end < start {
			continue
		}
		if n := len(out); n > 0 && start <= out[n-1].NewStart+out[n-1].NewCount {
			last := &out[n-1]
			last.NewCount = max(last.NewCount, end-last.NewStart+1)
			continue
		}
		out = append(out, Hunk{NewStart: start, NewCount: end - start + 1})
	}
	return out
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}
