// README: Firestore-backed trip and rating store using the collections of the mobile app.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"carpool/internal/modules/trip"
	"carpool/internal/types"
)

const (
	tripsCol      = "trips"
	bookingsCol   = "bookings"
	historyCol    = "tripHistory"
	tripEventsCol = "tripEvents"
	ratingsCol    = "ratings"
	aggregatesCol = "userAggregates"
)

// errLost aborts a transaction whose precondition no longer holds.
var errLost = errors.New("conditional write lost")

// Store keeps documents under their Go field names. It satisfies trip.Repository
// and rating.Store.
type Store struct {
	client *firestore.Client
}

func New(client *firestore.Client) *Store {
	return &Store{client: client}
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (s *Store) trip(id types.ID) *firestore.DocumentRef {
	return s.client.Collection(tripsCol).Doc(string(id))
}

func (s *Store) booking(id types.ID) *firestore.DocumentRef {
	return s.client.Collection(bookingsCol).Doc(string(id))
}

func (s *Store) Create(ctx context.Context, t *trip.Trip) error {
	_, err := s.trip(t.ID).Create(ctx, t)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*trip.Trip, error) {
	snap, err := s.trip(id).Get(ctx)
	if notFound(err) {
		return nil, trip.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t trip.Trip
	if err := snap.DataTo(&t); err != nil {
		return nil, fmt.Errorf("decode trip %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) ListByStatus(ctx context.Context, st trip.Status) ([]*trip.Trip, error) {
	q := s.client.Collection(tripsCol).
		Where("Status", "==", string(st)).
		OrderBy("ScheduledAt", firestore.Asc)
	return s.queryTrips(ctx, q)
}

func (s *Store) ListByPilot(ctx context.Context, pilotID types.ID, st trip.Status) ([]*trip.Trip, error) {
	q := s.client.Collection(tripsCol).
		Where("PilotID", "==", string(pilotID)).
		Where("Status", "==", string(st)).
		OrderBy("ScheduledAt", firestore.Desc)
	return s.queryTrips(ctx, q)
}

func (s *Store) queryTrips(ctx context.Context, q firestore.Query) ([]*trip.Trip, error) {
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]*trip.Trip, 0, len(snaps))
	for _, snap := range snaps {
		var t trip.Trip
		if err := snap.DataTo(&t); err != nil {
			return nil, fmt.Errorf("decode trip %s: %w", snap.Ref.ID, err)
		}
		out = append(out, &t)
	}
	return out, nil
}

// Book assigns the buddy and creates the booking in one transaction.
func (s *Store) Book(ctx context.Context, w trip.BookingWrite) (bool, error) {
	b := w.Booking
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.trip(w.TripID)
		cur, err := readTrip(tx, ref)
		if err != nil {
			return err
		}
		if cur.Status != trip.StatusAvailable || cur.StatusVersion != w.Version {
			return errLost
		}
		buddyID, bookingID := b.BuddyID, b.ID
		if err := tx.Update(ref, []firestore.Update{
			{Path: "Status", Value: string(trip.StatusPending)},
			{Path: "StatusVersion", Value: firestore.Increment(1)},
			{Path: "BuddyID", Value: &buddyID},
			{Path: "Buddy", Value: b.Buddy},
			{Path: "Pickup", Value: b.Pickup},
			{Path: "AdjustedFare", Value: w.AdjustedFare},
			{Path: "BookingID", Value: &bookingID},
		}); err != nil {
			return err
		}
		return tx.Create(s.booking(b.ID), b)
	})
	return settle(err)
}

// Transition applies a conditional status change together with its booking
// mirror and rating triggers.
func (s *Store) Transition(ctx context.Context, tr trip.Transition) (bool, error) {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.trip(tr.TripID)
		cur, err := readTrip(tx, ref)
		if err != nil {
			return err
		}
		if cur.Status != tr.From || cur.StatusVersion != tr.Version {
			return errLost
		}
		updates := []firestore.Update{
			{Path: "Status", Value: string(tr.To)},
			{Path: "StatusVersion", Value: firestore.Increment(1)},
		}
		if field := timestampField(tr.To); field != "" {
			updates = append(updates, firestore.Update{Path: field, Value: tr.At})
		}
		if tr.ClearBuddy {
			updates = append(updates,
				firestore.Update{Path: "BuddyID", Value: nil},
				firestore.Update{Path: "Buddy", Value: nil},
				firestore.Update{Path: "Pickup", Value: nil},
			)
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		if tr.BookingID != nil {
			if err := tx.Update(s.booking(*tr.BookingID), []firestore.Update{
				{Path: "Status", Value: string(tr.To)},
			}); err != nil {
				return err
			}
		}
		for _, e := range tr.Triggers {
			if err := tx.Create(s.client.Collection(tripEventsCol).Doc(string(e.ID)), e); err != nil {
				return err
			}
		}
		return nil
	})
	return settle(err)
}

func timestampField(st trip.Status) string {
	switch st {
	case trip.StatusAccepted:
		return "AcceptedAt"
	case trip.StatusStarted:
		return "StartedAt"
	case trip.StatusFinished:
		return "FinishedAt"
	case trip.StatusCancelled:
		return "CancelledAt"
	}
	return ""
}

func readTrip(tx *firestore.Transaction, ref *firestore.DocumentRef) (*trip.Trip, error) {
	snap, err := tx.Get(ref)
	if notFound(err) {
		return nil, errLost
	}
	if err != nil {
		return nil, err
	}
	var t trip.Trip
	if err := snap.DataTo(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// settle turns a lost precondition into (false, nil).
func settle(err error) (bool, error) {
	if errors.Is(err, errLost) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) SetPayment(ctx context.Context, tripID, bookingID types.ID, ps trip.PaymentStatus) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.booking(bookingID)
		snap, err := tx.Get(ref)
		if notFound(err) {
			return trip.ErrBookingNotFound
		}
		if err != nil {
			return err
		}
		var b trip.Booking
		if err := snap.DataTo(&b); err != nil {
			return err
		}
		if b.TripID != tripID {
			return trip.ErrBookingNotFound
		}
		if err := tx.Update(ref, []firestore.Update{{Path: "PaymentStatus", Value: string(ps)}}); err != nil {
			return err
		}
		return tx.Update(s.trip(tripID), []firestore.Update{{Path: "PaymentInitiated", Value: true}})
	})
}

func (s *Store) GetBooking(ctx context.Context, id types.ID) (*trip.Booking, error) {
	snap, err := s.booking(id).Get(ctx)
	if notFound(err) {
		return nil, trip.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	var b trip.Booking
	if err := snap.DataTo(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) LatestBooking(ctx context.Context, tripID types.ID) (*trip.Booking, error) {
	q := s.client.Collection(bookingsCol).
		Where("TripID", "==", string(tripID)).
		OrderBy("CreatedAt", firestore.Desc).
		Limit(1)
	out, err := s.queryBookings(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, trip.ErrBookingNotFound
	}
	return out[0], nil
}

func (s *Store) BookingsForBuddy(ctx context.Context, buddyID types.ID) ([]*trip.Booking, error) {
	q := s.client.Collection(bookingsCol).
		Where("BuddyID", "==", string(buddyID)).
		OrderBy("CreatedAt", firestore.Desc)
	return s.queryBookings(ctx, q)
}

func (s *Store) queryBookings(ctx context.Context, q firestore.Query) ([]*trip.Booking, error) {
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]*trip.Booking, 0, len(snaps))
	for _, snap := range snaps {
		var b trip.Booking
		if err := snap.DataTo(&b); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, ids []types.ID) error {
	if len(ids) == 0 {
		return nil
	}
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(ids))
	for _, id := range ids {
		job, err := bw.Delete(s.trip(id))
		if err != nil {
			bw.End()
			return err
		}
		jobs = append(jobs, job)
	}
	bw.End()
	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil && !notFound(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) AppendEvent(ctx context.Context, e *trip.Event) error {
	ev := *e
	ev.ID = e.CreatedAt.UnixNano()
	_, _, err := s.client.Collection(historyCol).Add(ctx, ev)
	return err
}

func (s *Store) ListEvents(ctx context.Context, tripID types.ID) ([]trip.Event, error) {
	snaps, err := s.client.Collection(historyCol).
		Where("TripID", "==", string(tripID)).
		OrderBy("ID", firestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]trip.Event, 0, len(snaps))
	for _, snap := range snaps {
		var e trip.Event
		if err := snap.DataTo(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
