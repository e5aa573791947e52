package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/custodian/internal/logging"
	"github.com/opencode-ai/custodian/pkg/types"
)

// prefsDoc is the on-disk preferences document.
type prefsDoc struct {
	Directory     string          `json:"directory,omitempty"`
	LastSessionID string          `json:"lastSessionID,omitempty"`
	LastModel     *types.ModelRef `json:"lastModel,omitempty"`
}

// Prefs remembers the last session and model per project directory.
// Reads are served from memory; every change is written through.
type Prefs struct {
	store *Storage
	key   []string
	log   zerolog.Logger

	mu  sync.Mutex
	doc prefsDoc
}

// OpenPrefs loads the preferences for directory. A missing or unreadable
// document starts empty.
func OpenPrefs(store *Storage, directory string) *Prefs {
	p := &Prefs{
		store: store,
		key:   prefsKey(directory),
		log:   logging.Component("prefs"),
	}
	if err := store.Get(context.Background(), p.key, &p.doc); err != nil && !errors.Is(err, ErrNotFound) {
		p.log.Warn().Err(err).Msg("ignoring unreadable preferences")
		p.doc = prefsDoc{}
	}
	p.doc.Directory = directory
	return p
}

// prefsKey scopes preferences by a digest of the cleaned directory.
func prefsKey(directory string) []string {
	if directory == "" {
		return []string{"prefs"}
	}
	sum := sha256.Sum256([]byte(filepath.Clean(directory)))
	return []string{"projects", hex.EncodeToString(sum[:8]), "prefs"}
}

// LastSessionID returns the remembered session id, or "".
func (p *Prefs) LastSessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.LastSessionID
}

// SetLastSessionID remembers id.
func (p *Prefs) SetLastSessionID(id string) error {
	return p.update(func(d *prefsDoc) { d.LastSessionID = id })
}

// ClearLastSessionID forgets the session.
func (p *Prefs) ClearLastSessionID() error {
	return p.update(func(d *prefsDoc) { d.LastSessionID = "" })
}

// LastModel returns the remembered model, or nil.
func (p *Prefs) LastModel() *types.ModelRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc.LastModel == nil {
		return nil
	}
	ref := *p.doc.LastModel
	return &ref
}

// SetLastModel remembers ref.
func (p *Prefs) SetLastModel(ref types.ModelRef) error {
	return p.update(func(d *prefsDoc) { d.LastModel = &ref })
}

// ClearLastModel forgets the model.
func (p *Prefs) ClearLastModel() error {
	return p.update(func(d *prefsDoc) { d.LastModel = nil })
}

func (p *Prefs) update(fn func(*prefsDoc)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.doc)
	return p.store.Put(context.Background(), p.key, p.doc)
}
