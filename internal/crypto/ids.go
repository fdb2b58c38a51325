package crypto

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/oklog/ulid/v2"
)

const (
	// PollAlphabet is the character set of poll codes.
	PollAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// PollIDLength is the fixed length of poll codes.
	PollIDLength = 6
)

// NewPollID generates a short poll code participants can type.
func NewPollID() (string, error) {
	return gonanoid.Generate(PollAlphabet, PollIDLength)
}

// NewUserID generates a time-ordered UUID v7 for a participant.
func NewUserID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewNominationID generates a ULID. ULIDs sort by creation time, which
// keeps nomination ordering stable for clients.
func NewNominationID() string {
	return ulid.Make().String()
}
