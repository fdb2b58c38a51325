package store

import (
	"context"
	"errors"
	"time"

	"github.com/eldtechnologies/rankvote/internal/models"
)

var (
	// ErrNotFound is returned when a poll key is absent or expired.
	ErrNotFound = errors.New("store: poll not found")
	// ErrAlreadyExists is returned by Create when the key is occupied.
	ErrAlreadyExists = errors.New("store: poll already exists")
)

// PollStore holds one expiring document per poll. Both RedisStore and
// MemoryStore implement this interface.
//
// Expiry is fixed at Create; no other operation refreshes it.
type PollStore interface {
	// Connection management
	Close() error
	Ping(ctx context.Context) error

	// Create stores poll under its ID with the given TTL.
	Create(ctx context.Context, poll *models.Poll, ttl time.Duration) error
	// Get returns the stored poll.
	Get(ctx context.Context, id string) (*models.Poll, error)
	// Replace overwrites an existing poll in full.
	Replace(ctx context.Context, poll *models.Poll) error
	// Delete removes a poll. Deleting an absent poll is not an error.
	Delete(ctx context.Context, id string) error
}

// pollKey returns the key for a poll document.
func pollKey(pollID string) string {
	return "polls:" + pollID
}
