package polls

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/eldtechnologies/rankvote/internal/crypto"
	"github.com/eldtechnologies/rankvote/internal/models"
)

const (
	MaxTopicLength      = 100
	MaxNameLength       = 25
	MaxNominationLength = 100
	MinVotesPerVoter    = 1
	MaxVotesPerVoter    = 5
)

// sanitizeText trims and removes control characters.
func sanitizeText(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// CleanName returns name as it is stored for a participant.
func CleanName(name string) string {
	return sanitizeText(name)
}

func checkLength(v *ValidationError, field, value string, max int) {
	n := utf8.RuneCountInString(value)
	if n == 0 {
		v.add(field, "is required")
	} else if n > max {
		v.add(field, "must be at most "+strconv.Itoa(max)+" characters")
	}
}

// NormalizePollID upper-cases a typed poll code.
func NormalizePollID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ValidPollID reports whether id has the shape of a poll code.
func ValidPollID(id string) bool {
	if len(id) != crypto.PollIDLength {
		return false
	}
	for _, c := range id {
		if !strings.ContainsRune(crypto.PollAlphabet, c) {
			return false
		}
	}
	return true
}

func validateCreate(p CreatePollParams) *ValidationError {
	v := &ValidationError{}
	checkLength(v, "topic", p.Topic, MaxTopicLength)
	checkLength(v, "name", p.Name, MaxNameLength)
	if p.VotesPerVoter < MinVotesPerVoter || p.VotesPerVoter > MaxVotesPerVoter {
		v.add("votesPerVoter", "must be between "+strconv.Itoa(MinVotesPerVoter)+" and "+strconv.Itoa(MaxVotesPerVoter))
	}
	return v
}

func validateJoin(pollID, name string) *ValidationError {
	v := &ValidationError{}
	if !ValidPollID(pollID) {
		v.add("pollID", "must be "+strconv.Itoa(crypto.PollIDLength)+" letters or digits")
	}
	checkLength(v, "name", name, MaxNameLength)
	return v
}

func validateBallot(p *models.Poll, rankings []string) *ValidationError {
	v := &ValidationError{}
	switch {
	case len(rankings) == 0:
		v.add("rankings", "must contain at least one nomination")
		return v
	case len(rankings) > p.VotesPerVoter:
		v.add("rankings", "must contain at most "+strconv.Itoa(p.VotesPerVoter)+" nominations")
		return v
	}

	seen := make(map[string]bool, len(rankings))
	for _, id := range rankings {
		if seen[id] {
			v.add("rankings", "must not repeat a nomination")
			return v
		}
		seen[id] = true
		if _, ok := p.Nominations[id]; !ok {
			v.add("rankings", "references unknown nomination "+id)
			return v
		}
	}
	return v
}
