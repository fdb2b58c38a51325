package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rankvote/internal/crypto"
	"github.com/eldtechnologies/rankvote/internal/polls"
	"github.com/eldtechnologies/rankvote/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	polls     *polls.Service
	tokens    *crypto.Authority
	store     store.PollStore
	storeName string
	logger    zerolog.Logger
}

// NewHandler creates a new Handler. storeName labels the store in health
// checks ("redis" or "memory").
func NewHandler(service *polls.Service, tokens *crypto.Authority, st store.PollStore, storeName string, logger zerolog.Logger) *Handler {
	return &Handler{
		polls:     service,
		tokens:    tokens,
		store:     st,
		storeName: storeName,
		logger:    logger.With().Str("component", "handlers").Logger(),
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, ErrorResponse{
		StatusCode: status,
		Message:    message,
		Error:      http.StatusText(status),
	})
}

// Fail maps a coordinator or credential error to a response.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str("kind", polls.ErrorKind(err)).
			Msg("request failed")
		message = "internal server error"
	}
	h.Error(w, status, message)
}

func statusFor(err error) int {
	var vErr *polls.ValidationError
	switch {
	case errors.As(err, &vErr), errors.Is(err, polls.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, polls.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, polls.ErrForbidden),
		errors.Is(err, polls.ErrUnauthorized),
		errors.Is(err, crypto.ErrInvalidToken),
		errors.Is(err, crypto.ErrTokenExpired),
		errors.Is(err, crypto.ErrMissingToken):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
