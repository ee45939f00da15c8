package realtime

import (
	"errors"
	"log/slog"
	"sync"

	v1 "github.com/ArimaSeiichi/SillyTavern-Co-op/shared/contracts/coop/v1"
)

// ErrDuplicateParticipant is returned when a participant id is already present in a room.
var ErrDuplicateParticipant = errors.New("realtime: duplicate participant id")

// Room is one shared co-op session: an ordered roster, a single host seat and fan-out.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - The host seat is assigned only here, so a room never has two hosts.
type Room struct {
	log     *slog.Logger
	metrics *Metrics
	ID      string

	mu      sync.RWMutex
	members map[string]*Client
	order   []string
	hostID  string
}

// JoinResult is what the joiner needs for its welcome.
type JoinResult struct {
	IsHost bool
	Roster []v1.User
}

// NewRoom constructs an empty room.
func NewRoom(log *slog.Logger, metrics *Metrics, id string) *Room {
	return &Room{
		log:     log,
		metrics: metrics,
		ID:      id,
		members: make(map[string]*Client),
	}
}

// Join adds a client. The first client to find the host seat empty takes it.
func (r *Room) Join(c *Client) (JoinResult, error) {
	if r == nil || c == nil || c.ParticipantID == "" {
		return JoinResult{}, errors.New("realtime: invalid join")
	}

	r.mu.Lock()
	if _, exists := r.members[c.ParticipantID]; exists {
		r.mu.Unlock()
		return JoinResult{}, ErrDuplicateParticipant
	}
	r.members[c.ParticipantID] = c
	r.order = append(r.order, c.ParticipantID)
	if r.hostID == "" {
		r.hostID = c.ParticipantID
	}
	res := JoinResult{
		IsHost: r.hostID == c.ParticipantID,
		Roster: r.rosterLocked(),
	}
	r.mu.Unlock()

	r.log.Info("room.member.join", "room_id", r.ID, "participant_id", c.ParticipantID, "conn_id", c.ConnID, "is_host", res.IsHost)
	return res, nil
}

// Leave removes c if it is the current holder of its participant id.
// A departing host leaves the seat vacant for the next joiner.
func (r *Room) Leave(c *Client) (wasHost, ok bool) {
	if r == nil || c == nil || c.ParticipantID == "" {
		return false, false
	}

	r.mu.Lock()
	cur, exists := r.members[c.ParticipantID]
	if !exists || cur != c {
		r.mu.Unlock()
		return false, false
	}
	delete(r.members, c.ParticipantID)
	for i, id := range r.order {
		if id == c.ParticipantID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.hostID == c.ParticipantID {
		r.hostID = ""
		wasHost = true
	}
	r.mu.Unlock()

	r.log.Info("room.member.leave", "room_id", r.ID, "participant_id", c.ParticipantID, "was_host", wasHost)
	return wasHost, true
}

// IsHost reports whether participantID holds the host seat.
func (r *Room) IsHost(participantID string) bool {
	if r == nil || participantID == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostID == participantID
}

// Roster returns members in join order.
func (r *Room) Roster() []v1.User {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked()
}

func (r *Room) rosterLocked() []v1.User {
	out := make([]v1.User, 0, len(r.order))
	for _, id := range r.order {
		if c := r.members[id]; c != nil {
			out = append(out, c.User(id == r.hostID))
		}
	}
	return out
}

// Len returns the member count.
func (r *Room) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// SendToHost enqueues env for the current host. Returns false when the seat is
// vacant or the host queue is full.
func (r *Room) SendToHost(env v1.Envelope) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	host := r.members[r.hostID]
	r.mu.RUnlock()

	if host == nil {
		return false
	}
	if !host.offer(env) {
		r.metrics.drop()
		return false
	}
	r.metrics.out(env.Type)
	return true
}

// Broadcast fans env out to every member except exceptID.
// Non-blocking: full queues and closing clients are skipped. Returns deliveries.
func (r *Room) Broadcast(env v1.Envelope, exceptID string) int {
	if r == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for id, m := range r.members {
		if m == nil || id == exceptID {
			continue
		}
		if !m.offer(env) {
			r.metrics.drop()
			continue
		}
		r.metrics.out(env.Type)
		n++
	}
	return n
}
