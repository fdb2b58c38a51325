// Package polls coordinates the lifecycle of ranked-choice polls. It is the
// only writer to the poll store.
package polls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rankvote/internal/crypto"
	"github.com/eldtechnologies/rankvote/internal/metrics"
	"github.com/eldtechnologies/rankvote/internal/models"
	"github.com/eldtechnologies/rankvote/internal/scoring"
	"github.com/eldtechnologies/rankvote/internal/store"
)

// createAttempts bounds poll ID regeneration on key collisions.
const createAttempts = 3

// IDSource produces identifiers for new polls, users and nominations.
type IDSource struct {
	PollID       func() (string, error)
	UserID       func() string
	NominationID func() string
}

// DefaultIDs returns the production identifier scheme.
func DefaultIDs() IDSource {
	return IDSource{
		PollID:       crypto.NewPollID,
		UserID:       crypto.NewUserID,
		NominationID: crypto.NewNominationID,
	}
}

// CreatePollParams is the input to CreatePoll.
type CreatePollParams struct {
	Topic         string
	VotesPerVoter int
	Name          string
}

// Service enforces poll invariants on top of a PollStore. Every
// read-modify-write runs under a per-poll lock, so concurrent mutations
// within one process never lose updates.
type Service struct {
	store  store.PollStore
	locks  *RoomLocks
	ttl    time.Duration
	ids    IDSource
	logger zerolog.Logger
}

// NewService creates a coordinator whose polls live for ttl.
func NewService(st store.PollStore, ttl time.Duration, logger zerolog.Logger) *Service {
	return NewServiceWithIDs(st, ttl, DefaultIDs(), logger)
}

// NewServiceWithIDs creates a coordinator with a custom identifier source.
func NewServiceWithIDs(st store.PollStore, ttl time.Duration, ids IDSource, logger zerolog.Logger) *Service {
	defaults := DefaultIDs()
	if ids.PollID == nil {
		ids.PollID = defaults.PollID
	}
	if ids.UserID == nil {
		ids.UserID = defaults.UserID
	}
	if ids.NominationID == nil {
		ids.NominationID = defaults.NominationID
	}
	return &Service{
		store:  st,
		locks:  NewRoomLocks(),
		ttl:    ttl,
		ids:    ids,
		logger: logger.With().Str("component", "polls").Logger(),
	}
}

// TTL returns the lifetime of new polls.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// storeError maps store errors into the coordinator taxonomy.
func (s *Service) storeError(op, pollID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, pollID)
	}
	s.logger.Error().Err(err).Str("op", op).Str("poll_id", pollID).Msg("store operation failed")
	return fmt.Errorf("%w: %s: %v", ErrStoreFailure, op, err)
}

// CreatePoll validates input and stores a new open poll. It returns the
// poll and the admin's user ID.
func (s *Service) CreatePoll(ctx context.Context, params CreatePollParams) (*models.Poll, string, error) {
	params.Topic = sanitizeText(params.Topic)
	params.Name = sanitizeText(params.Name)
	if vErr := validateCreate(params); vErr.HasErrors() {
		return nil, "", vErr
	}

	userID := s.ids.UserID()

	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		pollID, err := s.ids.PollID()
		if err != nil {
			return nil, "", fmt.Errorf("generate poll id: %w", err)
		}

		poll := models.NewPoll(pollID, params.Topic, params.VotesPerVoter, userID)
		err = s.store.Create(ctx, poll, s.ttl)
		if err == nil {
			metrics.PollsCreated.Inc()
			s.logger.Info().
				Str("poll_id", pollID).
				Str("user_id", userID).
				Int("votes_per_voter", params.VotesPerVoter).
				Msg("poll created")
			return poll, userID, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return nil, "", s.storeError("create", pollID, err)
		}

		s.logger.Warn().Str("poll_id", pollID).Int("attempt", attempt+1).Msg("poll id collision")
		lastErr = err
	}

	return nil, "", s.storeError("create", "", lastErr)
}

// JoinPoll checks that the poll exists and allocates a user ID for the
// caller. The user becomes a participant once their connection binds.
func (s *Service) JoinPoll(ctx context.Context, pollID, name string) (*models.Poll, string, error) {
	pollID = NormalizePollID(pollID)
	name = sanitizeText(name)
	if vErr := validateJoin(pollID, name); vErr.HasErrors() {
		return nil, "", vErr
	}

	poll, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return nil, "", err
	}

	userID := s.ids.UserID()
	metrics.PollsJoined.Inc()
	s.logger.Info().Str("poll_id", pollID).Str("user_id", userID).Msg("user joining poll")

	return poll, userID, nil
}

// GetPoll returns the current poll document.
func (s *Service) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	poll, err := s.store.Get(ctx, pollID)
	if err != nil {
		return nil, s.storeError("get", pollID, err)
	}
	return poll, nil
}

// mutate loads the poll under its lock, applies fn and writes the result
// if fn reports a change. It returns the resulting poll and whether it was
// written.
func (s *Service) mutate(ctx context.Context, op, pollID string, fn func(*models.Poll) (bool, error)) (*models.Poll, bool, error) {
	unlock := s.locks.Lock(pollID)
	defer unlock()

	poll, err := s.store.Get(ctx, pollID)
	if err != nil {
		return nil, false, s.storeError(op, pollID, err)
	}

	changed, err := fn(poll)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return poll, false, nil
	}

	if err := s.store.Replace(ctx, poll); err != nil {
		return nil, false, s.storeError(op, pollID, err)
	}

	s.logger.Debug().Str("op", op).Str("poll_id", pollID).Msg("poll updated")
	return poll, true, nil
}

// AddParticipant upserts a participant. Safe to call on every reconnect.
func (s *Service) AddParticipant(ctx context.Context, pollID, userID, name string) (*models.Poll, error) {
	poll, _, err := s.mutate(ctx, "add_participant", pollID, func(p *models.Poll) (bool, error) {
		if current, ok := p.Participants[userID]; ok && current == name {
			return false, nil
		}
		p.Participants[userID] = name
		return true, nil
	})
	return poll, err
}

// RemoveParticipant removes a participant while the poll is open. It
// returns a nil poll when nothing changed: voting has started (membership
// is frozen) or the user was not a participant.
func (s *Service) RemoveParticipant(ctx context.Context, pollID, userID string) (*models.Poll, error) {
	poll, changed, err := s.mutate(ctx, "remove_participant", pollID, func(p *models.Poll) (bool, error) {
		if p.HasStarted {
			return false, nil
		}
		if _, ok := p.Participants[userID]; !ok {
			return false, nil
		}
		delete(p.Participants, userID)
		return true, nil
	})
	if err != nil || !changed {
		return nil, err
	}
	return poll, nil
}

// Bind registers the identity behind a freshly authenticated connection.
func (s *Service) Bind(ctx context.Context, id crypto.Identity) (*models.Poll, error) {
	return s.AddParticipant(ctx, id.PollID, id.UserID, id.Name)
}

// Unbind is called when a connection closes. A nil poll means no fan-out
// is needed.
func (s *Service) Unbind(ctx context.Context, id crypto.Identity) (*models.Poll, error) {
	return s.RemoveParticipant(ctx, id.PollID, id.UserID)
}

// AddNomination adds a candidate option while the poll is open.
func (s *Service) AddNomination(ctx context.Context, pollID, userID, text string) (*models.Poll, error) {
	text = sanitizeText(text)
	v := &ValidationError{}
	checkLength(v, "text", text, MaxNominationLength)
	if v.HasErrors() {
		return nil, v
	}

	nominationID := s.ids.NominationID()
	poll, _, err := s.mutate(ctx, "add_nomination", pollID, func(p *models.Poll) (bool, error) {
		if p.HasStarted {
			return false, invalidState("nominations are closed once voting has started")
		}
		p.Nominations[nominationID] = models.Nomination{UserID: userID, Text: text}
		return true, nil
	})
	return poll, err
}

// RemoveNomination deletes a nomination while the poll is open. Removing
// an unknown nomination is a no-op.
func (s *Service) RemoveNomination(ctx context.Context, pollID, nominationID string) (*models.Poll, error) {
	poll, _, err := s.mutate(ctx, "remove_nomination", pollID, func(p *models.Poll) (bool, error) {
		if p.HasStarted {
			return false, invalidState("nominations are closed once voting has started")
		}
		if _, ok := p.Nominations[nominationID]; !ok {
			return false, nil
		}
		delete(p.Nominations, nominationID)
		return true, nil
	})
	return poll, err
}

// StartPoll moves the poll into the voting phase. Starting twice is
// harmless.
func (s *Service) StartPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	poll, _, err := s.mutate(ctx, "start_poll", pollID, func(p *models.Poll) (bool, error) {
		if p.HasStarted {
			return false, nil
		}
		p.HasStarted = true
		return true, nil
	})
	if err == nil {
		s.logger.Info().Str("poll_id", pollID).Msg("voting started")
	}
	return poll, err
}

// AddParticipantRankings stores userID's ballot, replacing any earlier one.
func (s *Service) AddParticipantRankings(ctx context.Context, pollID, userID string, rankings []string) (*models.Poll, error) {
	poll, _, err := s.mutate(ctx, "add_rankings", pollID, func(p *models.Poll) (bool, error) {
		if !p.HasStarted {
			return false, invalidState("poll has not started")
		}
		if p.HasEnded {
			return false, invalidState("poll has ended")
		}
		if vErr := validateBallot(p, rankings); vErr.HasErrors() {
			return false, vErr
		}
		p.Rankings[userID] = append([]string(nil), rankings...)
		return true, nil
	})
	return poll, err
}

// ComputeResults scores the submitted ballots and closes the poll. The
// poll stays readable until it expires.
func (s *Service) ComputeResults(ctx context.Context, pollID string) (*models.Poll, error) {
	poll, _, err := s.mutate(ctx, "compute_results", pollID, func(p *models.Poll) (bool, error) {
		if !p.HasStarted {
			return false, invalidState("poll has not started")
		}
		if p.HasEnded {
			return false, invalidState("poll has already been closed")
		}

		tally := scoring.Compute(p.Rankings, p.Nominations, p.VotesPerVoter)
		if len(tally.Missing) > 0 {
			s.logger.Warn().
				Str("poll_id", pollID).
				Strs("nomination_ids", tally.Missing).
				Msg("ballot entries reference removed nominations; skipped")
		}

		p.Results = tally.Results
		p.HasEnded = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PollsClosed.Inc()
	s.logger.Info().Str("poll_id", pollID).Int("results", len(poll.Results)).Msg("poll closed")
	return poll, nil
}

// CancelPoll deletes the poll without computing results.
func (s *Service) CancelPoll(ctx context.Context, pollID string) error {
	unlock := s.locks.Lock(pollID)
	defer unlock()

	if err := s.store.Delete(ctx, pollID); err != nil {
		return s.storeError("cancel", pollID, err)
	}

	metrics.PollsCancelled.Inc()
	s.logger.Info().Str("poll_id", pollID).Msg("poll cancelled")
	return nil
}

// RequireAdmin loads the poll and checks that userID is its admin. The
// check always reflects the stored document, never cached state.
func (s *Service) RequireAdmin(ctx context.Context, pollID, userID string) (*models.Poll, error) {
	poll, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if poll.AdminID != userID {
		return nil, ErrForbidden
	}
	return poll, nil
}
