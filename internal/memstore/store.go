// README: In-memory trip and rating store for local runs and service tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"carpool/internal/modules/rating"
	"carpool/internal/modules/trip"
	"carpool/internal/types"
)

// Store keeps every record in maps guarded by one mutex. It satisfies both
// trip.Repository and rating.Store so trip transitions and rating triggers share
// a single consistent view.
type Store struct {
	mu         sync.Mutex
	trips      map[types.ID]trip.Trip
	bookings   map[types.ID]trip.Booking
	history    map[types.ID][]trip.Event
	eventSeq   int64
	tripEvents map[types.ID]rating.TripEvent
	ratings    map[types.ID]rating.Rating
	aggregates map[types.ID]rating.UserAggregate
}

func New() *Store {
	return &Store{
		trips:      make(map[types.ID]trip.Trip),
		bookings:   make(map[types.ID]trip.Booking),
		history:    make(map[types.ID][]trip.Event),
		tripEvents: make(map[types.ID]rating.TripEvent),
		ratings:    make(map[types.ID]rating.Rating),
		aggregates: make(map[types.ID]rating.UserAggregate),
	}
}

func (s *Store) Create(_ context.Context, t *trip.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[t.ID] = *t
	return nil
}

func (s *Store) Get(_ context.Context, id types.ID) (*trip.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, trip.ErrNotFound
	}
	return &t, nil
}

func (s *Store) ListByStatus(_ context.Context, status trip.Status) ([]*trip.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*trip.Trip
	for _, t := range s.trips {
		if t.Status == status {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *Store) ListByPilot(_ context.Context, pilotID types.ID, status trip.Status) ([]*trip.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*trip.Trip
	for _, t := range s.trips {
		if t.PilotID == pilotID && t.Status == status {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	return out, nil
}

func (s *Store) Book(_ context.Context, w trip.BookingWrite) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[w.TripID]
	if !ok || t.Status != trip.StatusAvailable || t.StatusVersion != w.Version {
		return false, nil
	}
	b := *w.Booking
	buddyID := b.BuddyID
	buddy := b.Buddy
	bookingID := b.ID
	t.Status = trip.StatusPending
	t.StatusVersion++
	t.BuddyID = &buddyID
	t.Buddy = &buddy
	t.Pickup = b.Pickup
	t.AdjustedFare = w.AdjustedFare
	t.BookingID = &bookingID
	s.trips[t.ID] = t
	s.bookings[b.ID] = b
	return true, nil
}

func (s *Store) Transition(_ context.Context, tr trip.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[tr.TripID]
	if !ok || t.Status != tr.From || t.StatusVersion != tr.Version {
		return false, nil
	}
	t.Status = tr.To
	t.StatusVersion++
	at := tr.At
	switch tr.To {
	case trip.StatusAccepted:
		t.AcceptedAt = &at
	case trip.StatusStarted:
		t.StartedAt = &at
	case trip.StatusFinished:
		t.FinishedAt = &at
	case trip.StatusCancelled:
		t.CancelledAt = &at
	}
	if tr.ClearBuddy {
		t.BuddyID = nil
		t.Buddy = nil
		t.Pickup = nil
	}
	s.trips[t.ID] = t

	if tr.BookingID != nil {
		if b, ok := s.bookings[*tr.BookingID]; ok {
			b.Status = tr.To
			s.bookings[b.ID] = b
		}
	}
	for _, e := range tr.Triggers {
		s.tripEvents[e.ID] = e
	}
	return true, nil
}

func (s *Store) SetPayment(_ context.Context, tripID, bookingID types.ID, status trip.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok || b.TripID != tripID {
		return trip.ErrBookingNotFound
	}
	b.PaymentStatus = status
	s.bookings[bookingID] = b
	if t, ok := s.trips[tripID]; ok {
		t.PaymentInitiated = true
		s.trips[tripID] = t
	}
	return nil
}

func (s *Store) GetBooking(_ context.Context, id types.ID) (*trip.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, trip.ErrBookingNotFound
	}
	return &b, nil
}

func (s *Store) LatestBooking(_ context.Context, tripID types.ID) (*trip.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *trip.Booking
	for _, b := range s.bookings {
		if b.TripID != tripID {
			continue
		}
		if latest == nil || b.CreatedAt.After(latest.CreatedAt) {
			b := b
			latest = &b
		}
	}
	if latest == nil {
		return nil, trip.ErrBookingNotFound
	}
	return latest, nil
}

func (s *Store) BookingsForBuddy(_ context.Context, buddyID types.ID) ([]*trip.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*trip.Booking
	for _, b := range s.bookings {
		if b.BuddyID == buddyID {
			b := b
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Delete(_ context.Context, ids []types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.trips, id)
	}
	return nil
}

func (s *Store) AppendEvent(_ context.Context, e *trip.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventSeq++
	ev := *e
	ev.ID = s.eventSeq
	s.history[e.TripID] = append(s.history[e.TripID], ev)
	return nil
}

func (s *Store) ListEvents(_ context.Context, tripID types.ID) ([]trip.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trip.Event, len(s.history[tripID]))
	copy(out, s.history[tripID])
	return out, nil
}

// InTx holds the store lock for the whole of fn; writes become visible only when
// fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx rating.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, r := range tx.ratings {
		s.ratings[r.ID] = r
	}
	for _, a := range tx.aggregates {
		s.aggregates[a.UserID] = a
	}
	for _, e := range tx.processed {
		s.tripEvents[e.ID] = e
	}
	return nil
}

func (s *Store) Scores(_ context.Context, userID types.ID) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, r := range s.ratings {
		if r.RatedUserID == userID {
			out = append(out, r.Score)
		}
	}
	return out, nil
}

func (s *Store) Aggregate(_ context.Context, userID types.ID) (rating.UserAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aggregates[userID]
	if !ok {
		return rating.UserAggregate{UserID: userID}, nil
	}
	return a, nil
}

func (s *Store) PendingEvents(_ context.Context, raterID types.ID) ([]rating.TripEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rating.TripEvent
	for _, e := range s.tripEvents {
		if e.RaterID == raterID && !e.Processed {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// PutTripEvent seeds a rating trigger directly.
func (s *Store) PutTripEvent(e rating.TripEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tripEvents[e.ID] = e
}

type memTx struct {
	s          *Store
	ratings    []rating.Rating
	aggregates []rating.UserAggregate
	processed  []rating.TripEvent
}

func (t *memTx) Event(_ context.Context, id types.ID) (*rating.TripEvent, error) {
	e, ok := t.s.tripEvents[id]
	if !ok {
		return nil, rating.ErrEventNotFound
	}
	return &e, nil
}

func (t *memTx) Aggregate(_ context.Context, userID types.ID) (rating.UserAggregate, error) {
	a, ok := t.s.aggregates[userID]
	if !ok {
		return rating.UserAggregate{UserID: userID}, nil
	}
	return a, nil
}

func (t *memTx) InsertRating(_ context.Context, r *rating.Rating) error {
	for _, existing := range t.s.ratings {
		if existing.EventID == r.EventID {
			return rating.ErrEventProcessed
		}
	}
	t.ratings = append(t.ratings, *r)
	return nil
}

func (t *memTx) PutAggregate(_ context.Context, a rating.UserAggregate) error {
	t.aggregates = append(t.aggregates, a)
	return nil
}

func (t *memTx) MarkProcessed(_ context.Context, eventID, ratingID types.ID, at time.Time) error {
	e, ok := t.s.tripEvents[eventID]
	if !ok {
		return rating.ErrEventNotFound
	}
	if e.Processed {
		return rating.ErrEventProcessed
	}
	rid := ratingID
	ts := at
	e.Processed = true
	e.RatingID = &rid
	e.ProcessedAt = &ts
	t.processed = append(t.processed, e)
	return nil
}
