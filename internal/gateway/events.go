package gateway

import (
	"encoding/json"
	"errors"

	"github.com/eldtechnologies/rankvote/internal/polls"
)

// Client to server events.
const (
	EventStartVote         = "start_vote"
	EventSubmitRankings    = "submit_rankings"
	EventRemoveParticipant = "remove_participant"
	EventNominate          = "nominate"
	EventRemoveNomination  = "remove_nomination"
	EventClosePoll         = "close_poll"
	EventCancelPoll        = "cancel_poll"
)

// Server to client events.
const (
	EventPollUpdated   = "poll_updated"
	EventPollCancelled = "poll_cancelled"
	EventException     = "exception"
)

// Exception types carried by the exception event.
const (
	ExceptionBadRequest   = "BadRequest"
	ExceptionUnauthorized = "Unauthorized"
	ExceptionNotFound     = "NotFound"
	ExceptionUnknown      = "Unknown"
)

// adminEvents require the caller to be the poll's admin.
var adminEvents = map[string]bool{
	EventStartVote:         true,
	EventRemoveParticipant: true,
	EventRemoveNomination:  true,
	EventClosePoll:         true,
	EventCancelPoll:        true,
}

// Inbound is a frame sent by a client.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is a frame sent to clients.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Exception is the payload of the exception event.
type Exception struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RankingsData is the payload of submit_rankings.
type RankingsData struct {
	Rankings []string `json:"rankings"`
}

// NominationData is the payload of nominate.
type NominationData struct {
	Text string `json:"text"`
}

// IDData is the payload of remove_participant and remove_nomination.
type IDData struct {
	ID string `json:"id"`
}

// errBadFrame marks malformed or unknown client frames.
var errBadFrame = errors.New("malformed event")

// exceptionFor translates a coordinator error into an exception payload.
func exceptionFor(err error) Exception {
	var vErr *polls.ValidationError
	switch {
	case errors.As(err, &vErr), errors.Is(err, polls.ErrInvalidState), errors.Is(err, errBadFrame):
		return Exception{Type: ExceptionBadRequest, Message: err.Error()}
	case errors.Is(err, polls.ErrForbidden), errors.Is(err, polls.ErrUnauthorized):
		return Exception{Type: ExceptionUnauthorized, Message: err.Error()}
	case errors.Is(err, polls.ErrNotFound):
		return Exception{Type: ExceptionNotFound, Message: err.Error()}
	default:
		return Exception{Type: ExceptionUnknown, Message: "internal error"}
	}
}
