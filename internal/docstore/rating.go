// README: Firestore rating transactions; contention aborts surface as rating.ErrTxConflict.
package docstore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"carpool/internal/modules/rating"
	"carpool/internal/types"
)

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx rating.Tx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &fsTx{s: s, tx: tx})
	}, firestore.MaxAttempts(1))
	if status.Code(err) == codes.Aborted {
		return fmt.Errorf("%w: %v", rating.ErrTxConflict, err)
	}
	return err
}

func (s *Store) Scores(ctx context.Context, userID types.ID) ([]int, error) {
	snaps, err := s.client.Collection(ratingsCol).
		Where("RatedUserID", "==", string(userID)).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(snaps))
	for _, snap := range snaps {
		var r rating.Rating
		if err := snap.DataTo(&r); err != nil {
			return nil, err
		}
		out = append(out, r.Score)
	}
	return out, nil
}

func (s *Store) Aggregate(ctx context.Context, userID types.ID) (rating.UserAggregate, error) {
	snap, err := s.client.Collection(aggregatesCol).Doc(string(userID)).Get(ctx)
	return decodeAggregate(snap, err, userID)
}

func (s *Store) PendingEvents(ctx context.Context, raterID types.ID) ([]rating.TripEvent, error) {
	snaps, err := s.client.Collection(tripEventsCol).
		Where("RaterID", "==", string(raterID)).
		Where("Processed", "==", false).
		OrderBy("CreatedAt", firestore.Desc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]rating.TripEvent, 0, len(snaps))
	for _, snap := range snaps {
		var e rating.TripEvent
		if err := snap.DataTo(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeAggregate(snap *firestore.DocumentSnapshot, err error, userID types.ID) (rating.UserAggregate, error) {
	if notFound(err) {
		return rating.UserAggregate{UserID: userID}, nil
	}
	if err != nil {
		return rating.UserAggregate{}, err
	}
	var a rating.UserAggregate
	if err := snap.DataTo(&a); err != nil {
		return rating.UserAggregate{}, err
	}
	return a, nil
}

type fsTx struct {
	s  *Store
	tx *firestore.Transaction
}

func (t *fsTx) event(id types.ID) *firestore.DocumentRef {
	return t.s.client.Collection(tripEventsCol).Doc(string(id))
}

func (t *fsTx) Event(_ context.Context, id types.ID) (*rating.TripEvent, error) {
	snap, err := t.tx.Get(t.event(id))
	if notFound(err) {
		return nil, rating.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	var e rating.TripEvent
	if err := snap.DataTo(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *fsTx) Aggregate(_ context.Context, userID types.ID) (rating.UserAggregate, error) {
	snap, err := t.tx.Get(t.s.client.Collection(aggregatesCol).Doc(string(userID)))
	return decodeAggregate(snap, err, userID)
}

func (t *fsTx) InsertRating(_ context.Context, r *rating.Rating) error {
	return t.tx.Create(t.s.client.Collection(ratingsCol).Doc(string(r.ID)), r)
}

func (t *fsTx) PutAggregate(_ context.Context, a rating.UserAggregate) error {
	return t.tx.Set(t.s.client.Collection(aggregatesCol).Doc(string(a.UserID)), a)
}

// MarkProcessed relies on the transaction's read of the event: a concurrent
// consumer makes the commit abort.
func (t *fsTx) MarkProcessed(_ context.Context, eventID, ratingID types.ID, at time.Time) error {
	return t.tx.Update(t.event(eventID), []firestore.Update{
		{Path: "Processed", Value: true},
		{Path: "RatingID", Value: string(ratingID)},
		{Path: "ProcessedAt", Value: at},
	})
}
