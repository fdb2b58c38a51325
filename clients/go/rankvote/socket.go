package rankvote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Server event names.
const (
	EventPollUpdated   = "poll_updated"
	EventPollCancelled = "poll_cancelled"
	EventException     = "exception"
)

// Exception is an error reported over the socket.
type Exception struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *Exception) Error() string {
	return e.Type + ": " + e.Message
}

// Event is one server frame. Poll is set for poll_updated, Exception for
// exception.
type Event struct {
	Name      string
	Poll      *Poll
	Exception *Exception
}

// Conn is a live poll session.
type Conn struct {
	ws     *websocket.Conn
	events chan Event

	mu   sync.Mutex
	done chan struct{}
	err  error
}

// Connect opens the realtime session for the saved poll.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	if c.Session == nil {
		return nil, ErrNoSession
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/polls/socket"
	u.RawQuery = url.Values{"token": {c.Session.AccessToken}}.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("connect: %w", err)
	}

	conn := &Conn{
		ws:     ws,
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}
	go conn.readLoop()
	return conn, nil
}

func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := c.ws.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}

		ev := Event{Name: frame.Event}
		switch frame.Event {
		case EventPollUpdated:
			var p Poll
			if json.Unmarshal(frame.Data, &p) == nil {
				ev.Poll = &p
			}
		case EventException:
			var e Exception
			if json.Unmarshal(frame.Data, &e) == nil {
				ev.Exception = &e
			}
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

// Events delivers server frames until the connection closes.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Err returns the error that ended the read loop, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the session.
func (c *Conn) Close() error {
	c.mu.Lock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.mu.Unlock()

	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

func (c *Conn) send(event string, data any) error {
	frame := map[string]any{"event": event}
	if data != nil {
		frame["data"] = data
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(frame)
}

// Nominate proposes an option.
func (c *Conn) Nominate(text string) error {
	return c.send("nominate", map[string]string{"text": text})
}

// RemoveNomination deletes a nomination (admin only).
func (c *Conn) RemoveNomination(id string) error {
	return c.send("remove_nomination", map[string]string{"id": id})
}

// RemoveParticipant removes a participant (admin only).
func (c *Conn) RemoveParticipant(id string) error {
	return c.send("remove_participant", map[string]string{"id": id})
}

// StartVote opens voting (admin only).
func (c *Conn) StartVote() error {
	return c.send("start_vote", nil)
}

// SubmitRankings submits a ballot of nomination IDs, best first.
func (c *Conn) SubmitRankings(ids []string) error {
	return c.send("submit_rankings", map[string][]string{"rankings": ids})
}

// ClosePoll computes results (admin only).
func (c *Conn) ClosePoll() error {
	return c.send("close_poll", nil)
}

// CancelPoll deletes the poll (admin only).
func (c *Conn) CancelPoll() error {
	return c.send("cancel_poll", nil)
}

// WaitFor returns the first event accepted by match, an exception, or an
// error when ctx ends or the connection closes.
func (c *Conn) WaitFor(ctx context.Context, match func(Event) bool) (Event, error) {
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				if err := c.Err(); err != nil {
					return Event{}, err
				}
				return Event{}, fmt.Errorf("connection closed")
			}
			if ev.Exception != nil {
				return ev, ev.Exception
			}
			if match(ev) {
				return ev, nil
			}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}
