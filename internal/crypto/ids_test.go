package crypto

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestNewPollID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewPollID()
		if err != nil {
			t.Fatal(err)
		}
		if len(id) != PollIDLength {
			t.Fatalf("len(%q) = %d, want %d", id, len(id), PollIDLength)
		}
		for _, c := range id {
			if !strings.ContainsRune(PollAlphabet, c) {
				t.Fatalf("%q contains %q outside the poll alphabet", id, c)
			}
		}
		seen[id] = true
	}
	if len(seen) < 95 {
		t.Errorf("only %d distinct ids out of 100", len(seen))
	}
}

func TestNewUserID(t *testing.T) {
	id := NewUserID()
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("uuid.Parse(%q) error = %v", id, err)
	}
	if parsed.Version() != 7 {
		t.Errorf("version = %d, want 7", parsed.Version())
	}
	if NewUserID() == id {
		t.Error("duplicate user id")
	}
}

func TestNewNominationID(t *testing.T) {
	id := NewNominationID()
	if _, err := ulid.Parse(id); err != nil {
		t.Fatalf("ulid.Parse(%q) error = %v", id, err)
	}
}
