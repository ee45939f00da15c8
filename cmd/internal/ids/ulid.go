// Package ids provides ID primitives (ULID based) shared by the server and participants.
package ids

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// participantPrefix keeps participant ids recognisable in logs and rosters.
const participantPrefix = "user_"

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable, which keeps join order readable in logs.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewParticipantID returns a participant id of the form "user_<ulid>" (lowercase).
func NewParticipantID(now time.Time) (string, error) {
	id, err := NewULID(now)
	if err != nil {
		return "", err
	}
	return participantPrefix + strings.ToLower(id), nil
}
