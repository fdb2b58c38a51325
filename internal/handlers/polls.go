package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/rankvote/internal/api/middleware"
	"github.com/eldtechnologies/rankvote/internal/crypto"
	"github.com/eldtechnologies/rankvote/internal/models"
	"github.com/eldtechnologies/rankvote/internal/polls"
)

// CreatePollRequest is the body of POST /polls.
type CreatePollRequest struct {
	Topic         string `json:"topic"`
	VotesPerVoter int    `json:"votesPerVoter"`
	Name          string `json:"name"`
}

// JoinPollRequest is the body of POST /polls/join.
type JoinPollRequest struct {
	PollID string `json:"pollID"`
	Name   string `json:"name"`
}

// SessionResponse carries a poll and the caller's access token.
type SessionResponse struct {
	Poll        *models.Poll `json:"poll"`
	AccessToken string       `json:"accessToken"`
}

// PollResponse is the body of GET /polls/{id}.
type PollResponse struct {
	Poll    *models.Poll   `json:"poll"`
	Summary models.Summary `json:"summary"`
}

// CreatePoll handles poll creation. The caller becomes the admin.
func (h *Handler) CreatePoll(w http.ResponseWriter, r *http.Request) {
	var req CreatePollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	poll, userID, err := h.polls.CreatePoll(r.Context(), polls.CreatePollParams{
		Topic:         req.Topic,
		VotesPerVoter: req.VotesPerVoter,
		Name:          req.Name,
	})
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.session(w, r, http.StatusCreated, poll, userID, polls.CleanName(req.Name))
}

// JoinPoll mints a credential for a new participant of an existing poll.
func (h *Handler) JoinPoll(w http.ResponseWriter, r *http.Request) {
	var req JoinPollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	poll, userID, err := h.polls.JoinPoll(r.Context(), req.PollID, req.Name)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.session(w, r, http.StatusOK, poll, userID, polls.CleanName(req.Name))
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request, status int, poll *models.Poll, userID, name string) {
	token, err := h.tokens.Issue(crypto.Identity{PollID: poll.ID, UserID: userID, Name: name})
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, status, SessionResponse{Poll: poll, AccessToken: token})
}

// Rejoin re-registers the credential holder as a participant, e.g. after
// a page reload.
func (h *Handler) Rejoin(w http.ResponseWriter, r *http.Request) {
	h.upsertParticipant(w, r, "participant rejoined")
}

// AddParticipant registers the credential holder as a participant.
func (h *Handler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	h.upsertParticipant(w, r, "participant added")
}

func (h *Handler) upsertParticipant(w http.ResponseWriter, r *http.Request, msg string) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusForbidden, "access token required")
		return
	}

	poll, err := h.polls.AddParticipant(r.Context(), id.PollID, id.UserID, id.Name)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.logger.Info().Str("poll_id", id.PollID).Str("user_id", id.UserID).Msg(msg)
	h.JSON(w, http.StatusOK, poll)
}

// GetPoll returns the poll the credential belongs to along with values
// derived for the caller.
func (h *Handler) GetPoll(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusForbidden, "access token required")
		return
	}

	pollID := polls.NormalizePollID(chi.URLParam(r, "id"))
	if pollID != id.PollID {
		h.Fail(w, r, polls.ErrUnauthorized)
		return
	}

	poll, err := h.polls.GetPoll(r.Context(), pollID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, PollResponse{Poll: poll, Summary: models.Summarize(poll, id.UserID)})
}
