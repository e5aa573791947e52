package diffctx

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 100 * time.Millisecond

// Watcher refreshes a Provider when a tracked file changes on disk. It
// watches the parent directories, since editors often replace files by
// rename.
type Watcher struct {
	provider *Provider
	onChange func(summary string)
	watcher  *fsnotify.Watcher

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
	dirs    map[string]bool
}

// NewWatcher creates a watcher for p. onChange receives p.Summary() after
// each refresh and may be nil.
func NewWatcher(p *Provider, onChange func(summary string)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		provider: p,
		onChange: onChange,
		watcher:  w,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		dirs:     make(map[string]bool),
	}, nil
}

// Sync starts watching the directories of every tracked file.
func (w *Watcher) Sync() error {
	for _, path := range w.provider.Tracked() {
		dir := filepath.Dir(w.provider.abs(path))
		w.mu.Lock()
		seen := w.dirs[dir]
		w.mu.Unlock()
		if seen {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.mu.Lock()
		w.dirs[dir] = true
		w.mu.Unlock()
	}
	return nil
}

// Start begins watching.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !w.tracks(ev.Name) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.provider.Refresh()
			summary := w.provider.Summary()
			w.provider.log.Debug().Str("summary", summary).Msg("tracked files changed")
			if w.onChange != nil {
				w.onChange(summary)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.provider.log.Warn().Err(err).Msg("file watcher error")
		}
	}
}

func (w *Watcher) tracks(name string) bool {
	name = filepath.Clean(name)
	for _, path := range w.provider.Tracked() {
		if filepath.Clean(w.provider.abs(path)) == name {
			return true
		}
	}
	return false
}

// Stop stops the watcher and waits for it to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}
