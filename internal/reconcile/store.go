package reconcile

import (
	"slices"
	"strings"

	"github.com/opencode-ai/custodian/pkg/types"
)

// Store holds the ordered messages of the current session. Messages are
// indexed by id; parts keep their order of first appearance. It is not safe
// for concurrent use.
type Store struct {
	order   []*types.Message
	index   map[string]*types.Message
	renamed map[string]bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{index: make(map[string]*types.Message), renamed: make(map[string]bool)}
}

// Get returns the live message with the given id.
func (s *Store) Get(id string) (*types.Message, bool) {
	m, ok := s.index[id]
	return m, ok
}

// Append adds msg at the end. Parts sharing an id are collapsed, keeping the
// first position and the last value.
func (s *Store) Append(msg types.Message) {
	parts := msg.Parts
	msg.Parts = make([]types.Part, 0, len(parts))
	for _, p := range parts {
		upsertPart(&msg, p)
	}
	m := &msg
	s.order = append(s.order, m)
	s.index[m.ID] = m
}

// UpsertPart replaces the part with the same id or appends it. It reports
// false when the message is unknown.
func (s *Store) UpsertPart(messageID string, part types.Part) bool {
	m, ok := s.index[messageID]
	if !ok {
		return false
	}
	upsertPart(m, part)
	return true
}

// RemovePart deletes a part. Unknown messages or parts are ignored.
func (s *Store) RemovePart(messageID, partID string) bool {
	m, ok := s.index[messageID]
	if !ok {
		return false
	}
	idx := m.FindPart(partID)
	if idx < 0 {
		return false
	}
	m.Parts = slices.Delete(m.Parts, idx, idx+1)
	return true
}

// AppendDelta appends delta to the text of a text or reasoning part.
func (s *Store) AppendDelta(messageID, partID, field, delta string) bool {
	if field != "text" {
		return false
	}
	m, ok := s.index[messageID]
	if !ok {
		return false
	}
	idx := m.FindPart(partID)
	if idx < 0 {
		return false
	}
	switch p := m.Parts[idx].(type) {
	case *types.TextPart:
		p.Text += delta
	case *types.ReasoningPart:
		p.Text += delta
	default:
		return false
	}
	return true
}

// Remove deletes a message.
func (s *Store) Remove(id string) bool {
	m, ok := s.index[id]
	if !ok {
		return false
	}
	delete(s.index, id)
	delete(s.renamed, id)
	s.order = slices.DeleteFunc(s.order, func(x *types.Message) bool { return x == m })
	return true
}

// LastOptimistic returns the most recent locally created user message that
// still carries its provisional id.
func (s *Store) LastOptimistic() (*types.Message, bool) {
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.order[i]
		if m.Role == types.RoleUser && strings.HasPrefix(m.ID, types.OptimisticPrefix) {
			return m, true
		}
	}
	return nil, false
}

// Rename changes a message id in place. The message is remembered as
// renamed until the store is cleared.
func (s *Store) Rename(oldID, newID string) bool {
	m, ok := s.index[oldID]
	if !ok {
		return false
	}
	delete(s.index, oldID)
	m.ID = newID
	s.index[newID] = m
	s.renamed[newID] = true
	return true
}

// Renamed reports whether id was adopted from an optimistic message.
func (s *Store) Renamed(id string) bool {
	return s.renamed[id]
}

// Replace swaps the whole message list. A repeated id keeps its first
// position and its last value.
func (s *Store) Replace(msgs []types.Message) {
	s.Clear()
	for _, m := range msgs {
		if existing, ok := s.index[m.ID]; ok {
			existing.Role = m.Role
			existing.Timestamp = m.Timestamp
			existing.Parts = nil
			for _, p := range m.Parts {
				upsertPart(existing, p)
			}
			continue
		}
		s.Append(m)
	}
}

// Messages returns a deep copy of the messages in order.
func (s *Store) Messages() []types.Message {
	out := make([]types.Message, len(s.order))
	for i, m := range s.order {
		out[i] = m.Clone()
	}
	return out
}

func (s *Store) Len() int {
	return len(s.order)
}

func (s *Store) Clear() {
	s.order = nil
	s.index = make(map[string]*types.Message)
	s.renamed = make(map[string]bool)
}

func upsertPart(m *types.Message, part types.Part) {
	if idx := m.FindPart(part.PartID()); idx >= 0 {
		m.Parts[idx] = part
		return
	}
	m.Parts = append(m.Parts, part)
}
