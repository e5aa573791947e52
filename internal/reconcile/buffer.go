package reconcile

import "github.com/opencode-ai/custodian/pkg/types"

// PendingPart is a part whose owning message has not been observed yet.
type PendingPart struct {
	MessageID string
	Part      types.Part
}

// PartBuffer is an unbounded FIFO of pending parts. It is not safe for
// concurrent use; the Engine guards it with its mutex.
type PartBuffer struct {
	entries []PendingPart
}

// Push appends a part for messageID.
func (b *PartBuffer) Push(messageID string, part types.Part) {
	b.entries = append(b.entries, PendingPart{MessageID: messageID, Part: part})
}

// Drain removes and returns every part buffered for messageID, in the order
// they were pushed.
func (b *PartBuffer) Drain(messageID string) []types.Part {
	var drained []types.Part
	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.MessageID == messageID {
			drained = append(drained, e.Part)
			continue
		}
		kept = append(kept, e)
	}
	clear(b.entries[len(kept):])
	b.entries = kept
	return drained
}

// Len returns the number of buffered parts.
func (b *PartBuffer) Len() int {
	return len(b.entries)
}

// Entries returns a copy of the buffered entries in FIFO order.
func (b *PartBuffer) Entries() []PendingPart {
	out := make([]PendingPart, len(b.entries))
	for i, e := range b.entries {
		out[i] = PendingPart{MessageID: e.MessageID, Part: types.ClonePart(e.Part)}
	}
	return out
}

// Clear drops every buffered part.
func (b *PartBuffer) Clear() {
	b.entries = nil
}
