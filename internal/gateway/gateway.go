// Package gateway binds websocket connections to polls, turns client events
// into coordinator calls and fans the updated poll out to the room.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rankvote/internal/crypto"
	"github.com/eldtechnologies/rankvote/internal/metrics"
	"github.com/eldtechnologies/rankvote/internal/models"
	"github.com/eldtechnologies/rankvote/internal/polls"
)

// opTimeout bounds a single coordinator call made on behalf of a client.
const opTimeout = 5 * time.Second

// Coordinator is the subset of the poll service the gateway drives.
type Coordinator interface {
	Bind(ctx context.Context, id crypto.Identity) (*models.Poll, error)
	Unbind(ctx context.Context, id crypto.Identity) (*models.Poll, error)
	RequireAdmin(ctx context.Context, pollID, userID string) (*models.Poll, error)
	StartPoll(ctx context.Context, pollID string) (*models.Poll, error)
	AddParticipantRankings(ctx context.Context, pollID, userID string, rankings []string) (*models.Poll, error)
	RemoveParticipant(ctx context.Context, pollID, userID string) (*models.Poll, error)
	AddNomination(ctx context.Context, pollID, userID, text string) (*models.Poll, error)
	RemoveNomination(ctx context.Context, pollID, nominationID string) (*models.Poll, error)
	ComputeResults(ctx context.Context, pollID string) (*models.Poll, error)
	CancelPoll(ctx context.Context, pollID string) error
}

// Verifier turns an access token into an identity.
type Verifier interface {
	Verify(token string) (crypto.Identity, error)
}

// Options configures a Gateway.
type Options struct {
	// AllowedOrigins lists browser origins allowed to connect. Empty or
	// containing "*" allows any origin.
	AllowedOrigins []string
}

// Gateway is the realtime endpoint for poll rooms.
type Gateway struct {
	polls    Coordinator
	verifier Verifier
	hub      *Hub
	locks    *polls.RoomLocks
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New creates a gateway.
func New(coordinator Coordinator, verifier Verifier, logger zerolog.Logger, opts Options) *Gateway {
	logger = logger.With().Str("component", "gateway").Logger()
	g := &Gateway{
		polls:    coordinator,
		verifier: verifier,
		hub:      NewHub(logger),
		locks:    polls.NewRoomLocks(),
		logger:   logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return g
}

func originChecker(allowed []string) func(*http.Request) bool {
	allowAll := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return allowAll || origin == "" || set[origin]
	}
}

// Hub exposes room membership, mainly for tests and health reporting.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Close disconnects every client.
func (g *Gateway) Close() {
	g.hub.CloseAll()
}

// tokenFromRequest reads the access token from the token query parameter,
// a token header or an Authorization bearer header.
func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if t := r.Header.Get("token"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

func forbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]any{
		"statusCode": http.StatusForbidden,
		"message":    message,
		"error":      http.StatusText(http.StatusForbidden),
	})
}

// ServeHTTP authenticates the handshake, upgrades the connection and runs
// it until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := g.verifier.Verify(tokenFromRequest(r))
	if err != nil {
		g.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("handshake rejected")
		metrics.WSEvents.WithLabelValues("connect", ExceptionUnauthorized).Inc()
		forbidden(w, err.Error())
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(conn, id, g.logger.With().
		Str("poll_id", id.PollID).
		Str("user_id", id.UserID).
		Logger())
	go c.writePump()

	if err := g.bind(c); err != nil {
		exc := exceptionFor(err)
		c.logger.Debug().Err(err).Msg("bind failed")
		c.sendEvent(EventException, exc)
		c.close()
		metrics.WSEvents.WithLabelValues("connect", exc.Type).Inc()
		return
	}
	metrics.WSEvents.WithLabelValues("connect", "ok").Inc()
	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	c.readPump(g.handle)
	g.unbind(c)
}

func (g *Gateway) bind(c *Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	unlock := g.locks.Lock(c.identity.PollID)
	defer unlock()

	poll, err := g.polls.Bind(ctx, c.identity)
	if err != nil {
		return err
	}

	n := g.hub.Join(c)
	c.logger.Info().Int("clients", n).Msg("client connected")

	g.broadcast(c.identity.PollID, EventPollUpdated, poll)
	return nil
}

func (g *Gateway) unbind(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	unlock := g.locks.Lock(c.identity.PollID)
	defer unlock()

	n := g.hub.Leave(c)
	c.close()
	c.logger.Info().Int("clients", n).Msg("client disconnected")

	poll, err := g.polls.Unbind(ctx, c.identity)
	switch {
	case errors.Is(err, polls.ErrNotFound):
		c.logger.Debug().Msg("poll gone before disconnect")
	case err != nil:
		c.logger.Error().Err(err).Msg("unbind failed")
	case poll != nil:
		g.broadcast(c.identity.PollID, EventPollUpdated, poll)
	}
}

func (g *Gateway) broadcast(pollID, event string, data any) {
	msg, err := json.Marshal(Outbound{Event: event, Data: data})
	if err != nil {
		g.logger.Error().Err(err).Str("event", event).Msg("encode broadcast")
		return
	}
	g.hub.Broadcast(pollID, msg)
	metrics.Broadcasts.WithLabelValues(event).Inc()
}

// handle processes one inbound frame. The room lock is held across the
// mutation and its fan-out.
func (g *Gateway) handle(c *Client, data []byte) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		g.fail(c, "invalid", fmt.Errorf("%w: %v", errBadFrame, err))
		return
	}

	pollID := c.identity.PollID
	c.logger.Debug().Str("event", in.Event).Msg("event received")

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	unlock := g.locks.Lock(pollID)
	defer unlock()

	event, poll, err := g.apply(ctx, c.identity, in)
	if err != nil {
		g.fail(c, in.Event, err)
		return
	}
	metrics.WSEvents.WithLabelValues(in.Event, "ok").Inc()

	switch {
	case event == EventPollCancelled:
		g.broadcast(pollID, EventPollCancelled, map[string]string{"pollID": pollID})
		g.hub.CloseRoom(pollID)
	case poll != nil:
		g.broadcast(pollID, event, poll)
	}
}

func (g *Gateway) fail(c *Client, event string, err error) {
	exc := exceptionFor(err)
	if exc.Type == ExceptionUnknown {
		c.logger.Error().Err(err).Str("event", event).Msg("event failed")
	} else {
		c.logger.Debug().Err(err).Str("event", event).Msg("event rejected")
	}
	if !isKnownEvent(event) {
		event = "invalid"
	}
	metrics.WSEvents.WithLabelValues(event, exc.Type).Inc()
	c.sendEvent(EventException, exc)
}

func isKnownEvent(event string) bool {
	switch event {
	case EventStartVote, EventSubmitRankings, EventRemoveParticipant, EventNominate,
		EventRemoveNomination, EventClosePoll, EventCancelPoll:
		return true
	}
	return false
}

// apply runs the coordinator call for in. It returns the event to fan
// out and the poll to send; a nil poll means nothing changed.
func (g *Gateway) apply(ctx context.Context, id crypto.Identity, in Inbound) (string, *models.Poll, error) {
	if !isKnownEvent(in.Event) {
		return "", nil, fmt.Errorf("%w: unknown event %q", errBadFrame, in.Event)
	}
	if adminEvents[in.Event] {
		if _, err := g.polls.RequireAdmin(ctx, id.PollID, id.UserID); err != nil {
			return "", nil, err
		}
	}

	var (
		poll *models.Poll
		err  error
	)
	switch in.Event {
	case EventStartVote:
		poll, err = g.polls.StartPoll(ctx, id.PollID)
	case EventSubmitRankings:
		var d RankingsData
		if err := decode(in.Data, &d); err != nil {
			return "", nil, err
		}
		poll, err = g.polls.AddParticipantRankings(ctx, id.PollID, id.UserID, d.Rankings)
	case EventRemoveParticipant:
		var d IDData
		if err := decode(in.Data, &d); err != nil {
			return "", nil, err
		}
		poll, err = g.polls.RemoveParticipant(ctx, id.PollID, d.ID)
	case EventNominate:
		var d NominationData
		if err := decode(in.Data, &d); err != nil {
			return "", nil, err
		}
		poll, err = g.polls.AddNomination(ctx, id.PollID, id.UserID, d.Text)
	case EventRemoveNomination:
		var d IDData
		if err := decode(in.Data, &d); err != nil {
			return "", nil, err
		}
		poll, err = g.polls.RemoveNomination(ctx, id.PollID, d.ID)
	case EventClosePoll:
		poll, err = g.polls.ComputeResults(ctx, id.PollID)
	case EventCancelPoll:
		if err := g.polls.CancelPoll(ctx, id.PollID); err != nil {
			return "", nil, err
		}
		return EventPollCancelled, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return EventPollUpdated, poll, nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing data", errBadFrame)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return nil
}
