package event

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewPartID synthesizes an id for a part the server sent without one.
// The ULID embeds the current time and randomness, so ids from the same
// stream sort in arrival order and never collide.
func NewPartID(kind string) string {
	return kind + "-" + strings.ToLower(ulid.Make().String())
}
