package gateway

import (
	"sync"

	"github.com/rs/zerolog"
)

// Hub tracks which clients are bound to which poll.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*Client]struct{}
	logger zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Join adds c to its poll's room and returns the room size.
func (h *Hub) Join(c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[c.identity.PollID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.identity.PollID] = room
	}
	room[c] = struct{}{}
	return len(room)
}

// Leave removes c from its room and returns the remaining size.
func (h *Hub) Leave(c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c)
}

func (h *Hub) leaveLocked(c *Client) int {
	room, ok := h.rooms[c.identity.PollID]
	if !ok {
		return 0
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.identity.PollID)
	}
	return len(room)
}

// Count returns the number of clients bound to pollID.
func (h *Hub) Count(pollID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[pollID])
}

// Broadcast queues msg for every client in pollID's room. Clients whose
// send buffer is full are dropped. It returns the number of recipients.
func (h *Hub) Broadcast(pollID string, msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for c := range h.rooms[pollID] {
		if c.enqueue(msg) {
			sent++
			continue
		}
		h.logger.Warn().
			Str("poll_id", pollID).
			Str("user_id", c.identity.UserID).
			Msg("dropping slow client")
		h.leaveLocked(c)
		c.close()
	}
	return sent
}

// CloseRoom disconnects every client bound to pollID after their queued
// frames are written.
func (h *Hub) CloseRoom(pollID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[pollID] {
		c.close()
	}
	delete(h.rooms, pollID)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, room := range h.rooms {
		for c := range room {
			c.close()
		}
		delete(h.rooms, id)
	}
}
