package ids

import (
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewULID_ParsesAndCarriesTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	s, err := NewULID(now)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(s) != 26 {
		t.Fatalf("len=%d want 26", len(s))
	}
	id, err := ulid.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	if got := ulid.Time(id.Time()); !got.Equal(now) {
		t.Fatalf("time=%v want %v", got, now)
	}
}

func TestNewParticipantID_Format(t *testing.T) {
	t.Parallel()

	a, err := NewParticipantID(time.Time{})
	if err != nil {
		t.Fatalf("NewParticipantID: %v", err)
	}
	b, err := NewParticipantID(time.Time{})
	if err != nil {
		t.Fatalf("NewParticipantID: %v", err)
	}
	if !strings.HasPrefix(a, "user_") || len(a) != len("user_")+26 {
		t.Fatalf("unexpected id %q", a)
	}
	if a != strings.ToLower(a) {
		t.Fatalf("id not lowercase: %q", a)
	}
	if a == b {
		t.Fatalf("ids must differ: %q", a)
	}
}
