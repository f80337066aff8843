// README: Rating service folds a rating into the rated user's aggregate in one transaction.
package rating

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"carpool/internal/observability"
	"carpool/internal/types"
)

var (
	ErrEventNotFound  = errors.New("rating event not found")
	ErrEventProcessed = errors.New("rating event already processed")
	ErrNotRater       = errors.New("caller is not the rater for this event")
	ErrTxConflict     = errors.New("rating transaction conflict")
)

// DefaultMaxAttempts bounds how many times a conflicting transaction is replayed.
const DefaultMaxAttempts = 3

// Tx is the read/write surface available inside one rating transaction.
// Implementations must perform all reads before any write.
type Tx interface {
	Event(ctx context.Context, id types.ID) (*TripEvent, error)
	Aggregate(ctx context.Context, userID types.ID) (UserAggregate, error)
	InsertRating(ctx context.Context, r *Rating) error
	PutAggregate(ctx context.Context, a UserAggregate) error
	MarkProcessed(ctx context.Context, eventID, ratingID types.ID, at time.Time) error
}

type Store interface {
	// InTx runs fn atomically. A lost serialization race surfaces as ErrTxConflict.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Scores(ctx context.Context, userID types.ID) ([]int, error)
	Aggregate(ctx context.Context, userID types.ID) (UserAggregate, error)
	PendingEvents(ctx context.Context, raterID types.ID) ([]TripEvent, error)
}

type Service struct {
	store       Store
	maxAttempts int
	backoff     time.Duration
	onRated     func(ctx context.Context, userID types.ID)
	logger      *slog.Logger
	now         func() time.Time
}

type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	// OnRated runs after a rating commits, with the rated user's id.
	OnRated func(ctx context.Context, userID types.ID)
	Logger  *slog.Logger
}

func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:       store,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		onRated:     opts.OnRated,
		logger:      opts.Logger,
		now:         time.Now,
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

type SubmitCommand struct {
	EventID   types.ID
	TripID    types.ID
	RaterID   types.ID
	RaterName string
	Score     int
	Comment   string
}

type Result struct {
	Rating    Rating        `json:"rating"`
	Aggregate UserAggregate `json:"aggregate"`
}

func (c SubmitCommand) validate() error {
	switch {
	case c.EventID == "":
		return types.Invalid("event_id", "required")
	case c.RaterID == "":
		return types.Invalid("rater_id", "required")
	case c.Score < MinScore || c.Score > MaxScore:
		return types.Invalid("score", "must be between 1 and 5")
	}
	return nil
}

// Submit records a rating for the event and updates the rated user's aggregate.
// Conflicting transactions are retried up to the configured attempt count.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*Result, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	var res *Result
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		res, err = s.submitOnce(ctx, cmd)
		if !errors.Is(err, ErrTxConflict) {
			break
		}
		observability.RatingConflicts.Inc()
		s.logger.Warn("rating transaction conflict", "event_id", cmd.EventID, "attempt", attempt)
		if attempt == s.maxAttempts {
			break
		}
		if s.backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * s.backoff):
			}
		}
	}
	if err != nil {
		return nil, err
	}
	observability.RatingsSubmitted.Inc()
	if s.onRated != nil {
		s.onRated(ctx, res.Rating.RatedUserID)
	}
	return res, nil
}

func (s *Service) submitOnce(ctx context.Context, cmd SubmitCommand) (*Result, error) {
	var res Result
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, err := tx.Event(ctx, cmd.EventID)
		if err != nil {
			return err
		}
		if cmd.TripID != "" && ev.TripID != cmd.TripID {
			return ErrEventNotFound
		}
		if ev.RaterID != cmd.RaterID {
			return ErrNotRater
		}
		if ev.Processed {
			return ErrEventProcessed
		}
		agg, err := tx.Aggregate(ctx, ev.RatedUserID)
		if err != nil {
			return err
		}
		agg.UserID = ev.RatedUserID

		now := s.now()
		r := Rating{
			ID:          types.NewID(),
			TripID:      ev.TripID,
			EventID:     ev.ID,
			Trigger:     ev.Type,
			RaterID:     cmd.RaterID,
			RaterName:   cmd.RaterName,
			RatedUserID: ev.RatedUserID,
			Score:       cmd.Score,
			Comment:     strings.TrimSpace(cmd.Comment),
			CreatedAt:   now,
		}
		next := Fold(agg, cmd.Score, now)

		if err := tx.InsertRating(ctx, &r); err != nil {
			return err
		}
		if err := tx.PutAggregate(ctx, next); err != nil {
			return err
		}
		if err := tx.MarkProcessed(ctx, ev.ID, r.ID, now); err != nil {
			return err
		}
		res = Result{Rating: r, Aggregate: next}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Summary computes a user's rating annotation from the raw rating records.
func (s *Service) Summary(ctx context.Context, userID types.ID) (Summary, error) {
	scores, err := s.store.Scores(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(scores), nil
}

func (s *Service) Aggregate(ctx context.Context, userID types.ID) (UserAggregate, error) {
	a, err := s.store.Aggregate(ctx, userID)
	if err != nil {
		return UserAggregate{}, err
	}
	a.UserID = userID
	return a, nil
}

// PendingEvents lists unprocessed rating triggers addressed to raterID.
func (s *Service) PendingEvents(ctx context.Context, raterID types.ID) ([]TripEvent, error) {
	return s.store.PendingEvents(ctx, raterID)
}
