package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rankvote/internal/crypto"
	"github.com/eldtechnologies/rankvote/internal/polls"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &polls.ValidationError{FieldErrors: map[string]string{"topic": "is required"}}, http.StatusBadRequest},
		{"invalid state", fmt.Errorf("rank: %w", polls.ErrInvalidState), http.StatusBadRequest},
		{"not found", fmt.Errorf("%w: ABCDEF", polls.ErrNotFound), http.StatusNotFound},
		{"forbidden", polls.ErrForbidden, http.StatusForbidden},
		{"wrong poll", polls.ErrUnauthorized, http.StatusForbidden},
		{"expired", crypto.ErrTokenExpired, http.StatusForbidden},
		{"store", fmt.Errorf("%w: get: boom", polls.ErrStoreFailure), http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFailHidesInternalErrors(t *testing.T) {
	h := NewHandler(nil, nil, nil, "memory", zerolog.Nop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/polls/ABCDEF", nil)
	h.Fail(w, r, fmt.Errorf("%w: get: dial tcp 10.0.0.1:6379", polls.ErrStoreFailure))

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusInternalServerError || resp.Message != "internal server error" {
		t.Errorf("response = %+v", resp)
	}
}

func TestHealthWithoutStore(t *testing.T) {
	h := NewHandler(nil, nil, nil, "memory", zerolog.Nop())

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
