package realtime

import (
	"time"

	"github.com/ArimaSeiichi/SillyTavern-Co-op/cmd/internal/ids"
)

// NewConnID returns a ULID identifying one websocket connection in logs.
func NewConnID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewParticipantID assigns an id to a participant that joined without one.
func NewParticipantID(now time.Time) (string, error) {
	return ids.NewParticipantID(now)
}
