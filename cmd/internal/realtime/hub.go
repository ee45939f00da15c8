package realtime

import (
	"log/slog"
	"strings"
	"sync"
)

// Hub owns the in-memory rooms. Rooms are created on first join and dropped when
// the last member leaves; nothing outlives the process.
type Hub struct {
	log     *slog.Logger
	metrics *Metrics

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub constructs a Hub instance. metrics may be nil.
func NewHub(log *slog.Logger, metrics *Metrics) *Hub {
	return &Hub{
		log:     log,
		metrics: metrics,
		rooms:   make(map[string]*Room),
	}
}

// Join places c into roomID, creating the room if needed.
func (h *Hub) Join(roomID string, c *Client) (*Room, JoinResult, error) {
	roomID = normalizeRoomID(roomID)

	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		room = NewRoom(h.log, h.metrics, roomID)
		h.rooms[roomID] = room
	}

	res, err := room.Join(c)
	if err != nil {
		if room.Len() == 0 {
			delete(h.rooms, roomID)
		}
		h.metrics.setRooms(len(h.rooms))
		return nil, JoinResult{}, err
	}
	h.metrics.setRooms(len(h.rooms))
	return room, res, nil
}

// Leave removes c from room and drops the room once empty.
func (h *Hub) Leave(room *Room, c *Client) (wasHost, ok bool) {
	if room == nil {
		return false, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	wasHost, ok = room.Leave(c)
	if room.Len() == 0 && h.rooms[room.ID] == room {
		delete(h.rooms, room.ID)
		h.log.Info("room.closed", "room_id", room.ID)
	}
	h.metrics.setRooms(len(h.rooms))
	return wasHost, ok
}

// Room returns the live room for id, or nil.
func (h *Hub) Room(id string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[normalizeRoomID(id)]
}

// Len returns the number of live rooms.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

func normalizeRoomID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return defaultRoomID
	}
	return id
}
