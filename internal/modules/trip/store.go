// README: Trip store backed by PostgreSQL; route and contact snapshots live in JSONB columns.
package trip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/modules/rating"
	"carpool/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const tripColumns = `
	id, pilot_id, pilot, source, destination,
	source_lat, source_lng, dest_lat, dest_lng, scheduled_at,
	route, pickup_candidates, distance_km, distance_text,
	base_fare, rate_per_km, surcharge, status, status_version,
	buddy_id, buddy, pickup, adjusted_fare, booking_id, payment_initiated,
	created_at, accepted_at, started_at, finished_at, cancelled_at`

const bookingColumns = `
	id, trip_id, pilot_id, pilot, buddy_id, buddy, source, destination,
	fare, flexible, pickup, status, payment_status, created_at`

func (s *Store) Create(ctx context.Context, t *Trip) error {
	pilot, err := json.Marshal(t.Pilot)
	if err != nil {
		return err
	}
	waypoints, err := json.Marshal(t.Route)
	if err != nil {
		return err
	}
	candidates, err := json.Marshal(t.PickupCandidates)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO trips (
			id, pilot_id, pilot, source, destination,
			source_lat, source_lng, dest_lat, dest_lng, scheduled_at,
			route, pickup_candidates, distance_km, distance_text,
			base_fare, rate_per_km, surcharge, status, status_version,
			payment_initiated, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			FALSE, $20
		)`,
		string(t.ID), string(t.PilotID), pilot, t.Source, t.Destination,
		t.SourcePoint.Lat, t.SourcePoint.Lng, t.DestPoint.Lat, t.DestPoint.Lng, t.ScheduledAt,
		waypoints, candidates, t.DistanceKm, t.DistanceText,
		t.BaseFare, t.RatePerKm, t.Surcharge, string(t.Status), t.StatusVersion,
		t.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, string(id))
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *Store) ListByStatus(ctx context.Context, status Status) ([]*Trip, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE status = $1
		ORDER BY scheduled_at ASC`, string(status))
	if err != nil {
		return nil, err
	}
	return collectTrips(rows)
}

func (s *Store) ListByPilot(ctx context.Context, pilotID types.ID, status Status) ([]*Trip, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE pilot_id = $1 AND status = $2
		ORDER BY scheduled_at DESC`, string(pilotID), string(status))
	if err != nil {
		return nil, err
	}
	return collectTrips(rows)
}

// Book assigns the buddy and inserts the booking in one transaction.
func (s *Store) Book(ctx context.Context, w BookingWrite) (bool, error) {
	b := w.Booking
	buddy, err := json.Marshal(b.Buddy)
	if err != nil {
		return false, err
	}
	pickup, err := marshalNullable(b.Pickup)
	if err != nil {
		return false, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE trips
		SET status = 'pending',
		    status_version = status_version + 1,
		    buddy_id = $1,
		    buddy = $2,
		    pickup = $3,
		    adjusted_fare = $4,
		    booking_id = $5
		WHERE id = $6 AND status = 'available' AND status_version = $7`,
		string(b.BuddyID), buddy, pickup, w.AdjustedFare, string(b.ID),
		string(w.TripID), w.Version,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	pilot, err := json.Marshal(b.Pilot)
	if err != nil {
		return false, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		string(b.ID), string(b.TripID), string(b.PilotID), pilot, string(b.BuddyID), buddy,
		b.Source, b.Destination, b.Fare, b.Flexible, pickup,
		string(b.Status), string(b.PaymentStatus), b.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert booking: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Transition applies the status change, mirrors it onto the booking and records
// rating triggers atomically.
func (s *Store) Transition(ctx context.Context, tr Transition) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE trips
		SET status = $1,
		    status_version = status_version + 1,
		    accepted_at = CASE WHEN $1 = 'accepted' THEN $2 ELSE accepted_at END,
		    started_at = CASE WHEN $1 = 'started' THEN $2 ELSE started_at END,
		    finished_at = CASE WHEN $1 = 'finished' THEN $2 ELSE finished_at END,
		    cancelled_at = CASE WHEN $1 = 'cancelled' THEN $2 ELSE cancelled_at END,
		    buddy_id = CASE WHEN $3::boolean THEN NULL ELSE buddy_id END,
		    buddy = CASE WHEN $3::boolean THEN NULL ELSE buddy END,
		    pickup = CASE WHEN $3::boolean THEN NULL ELSE pickup END
		WHERE id = $4 AND status = $5 AND status_version = $6`,
		string(tr.To), tr.At, tr.ClearBuddy,
		string(tr.TripID), string(tr.From), tr.Version,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if tr.BookingID != nil {
		if _, err := tx.Exec(ctx, `UPDATE bookings SET status = $1 WHERE id = $2`,
			string(tr.To), string(*tr.BookingID)); err != nil {
			return false, fmt.Errorf("mirror booking status: %w", err)
		}
	}
	if err := rating.InsertEvents(ctx, tx, tr.Triggers); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) SetPayment(ctx context.Context, tripID, bookingID types.ID, status PaymentStatus) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE bookings SET payment_status = $1
		WHERE id = $2 AND trip_id = $3`,
		string(status), string(bookingID), string(tripID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrBookingNotFound
	}
	if _, err := tx.Exec(ctx, `UPDATE trips SET payment_initiated = TRUE WHERE id = $1`, string(tripID)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetBooking(ctx context.Context, id types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, string(id))
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

func (s *Store) LatestBooking(ctx context.Context, tripID types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE trip_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, string(tripID))
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

func (s *Store) BookingsForBuddy(ctx context.Context, buddyID types.ID) ([]*Booking, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE buddy_id = $1
		ORDER BY created_at DESC`, string(buddyID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, ids []types.ID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	_, err := s.db.Exec(ctx, `DELETE FROM trips WHERE id = ANY($1)`, raw)
	return err
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trip_state_events (
			trip_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.TripID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

// ListEvents returns the status history of a trip, oldest first.
func (s *Store) ListEvents(ctx context.Context, tripID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, trip_id, from_status, to_status, actor_type, actor_id, created_at
		FROM trip_state_events
		WHERE trip_id = $1
		ORDER BY id ASC`, string(tripID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.TripID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = toIDPtr(actorID)
		out = append(out, e)
	}
	return out, rows.Err()
}

func collectTrips(rows pgx.Rows) ([]*Trip, error) {
	defer rows.Close()
	var out []*Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	var pilot, waypoints, candidates, buddy, pickup []byte
	var buddyID, bookingID, distanceText *string
	err := row.Scan(
		&t.ID, &t.PilotID, &pilot, &t.Source, &t.Destination,
		&t.SourcePoint.Lat, &t.SourcePoint.Lng, &t.DestPoint.Lat, &t.DestPoint.Lng, &t.ScheduledAt,
		&waypoints, &candidates, &t.DistanceKm, &distanceText,
		&t.BaseFare, &t.RatePerKm, &t.Surcharge, &t.Status, &t.StatusVersion,
		&buddyID, &buddy, &pickup, &t.AdjustedFare, &bookingID, &t.PaymentInitiated,
		&t.CreatedAt, &t.AcceptedAt, &t.StartedAt, &t.FinishedAt, &t.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalNullable(pilot, &t.Pilot); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(waypoints, &t.Route); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(candidates, &t.PickupCandidates); err != nil {
		return nil, err
	}
	if len(buddy) > 0 {
		t.Buddy = &Contact{}
		if err := json.Unmarshal(buddy, t.Buddy); err != nil {
			return nil, err
		}
	}
	if len(pickup) > 0 {
		t.Pickup = &Pickup{}
		if err := json.Unmarshal(pickup, t.Pickup); err != nil {
			return nil, err
		}
	}
	if distanceText != nil {
		t.DistanceText = *distanceText
	}
	t.BuddyID = toIDPtr(buddyID)
	t.BookingID = toIDPtr(bookingID)
	return &t, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var pilot, buddy, pickup []byte
	err := row.Scan(
		&b.ID, &b.TripID, &b.PilotID, &pilot, &b.BuddyID, &buddy, &b.Source, &b.Destination,
		&b.Fare, &b.Flexible, &pickup, &b.Status, &b.PaymentStatus, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalNullable(pilot, &b.Pilot); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(buddy, &b.Buddy); err != nil {
		return nil, err
	}
	if len(pickup) > 0 {
		b.Pickup = &Pickup{}
		if err := json.Unmarshal(pickup, b.Pickup); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

func marshalNullable(v *Pickup) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func toStringPtr(id *types.ID) *string {
	if id == nil {
		return nil
	}
	v := string(*id)
	return &v
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
