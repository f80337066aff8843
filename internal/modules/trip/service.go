// README: Trip service implements the trip lifecycle, bookings and persistence.
package trip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"carpool/internal/modules/pricing"
	"carpool/internal/modules/rating"
	"carpool/internal/modules/route"
	"carpool/internal/notify"
	"carpool/internal/observability"
	"carpool/internal/types"
)

var (
	ErrNotFound             = errors.New("trip not found")
	ErrBookingNotFound      = errors.New("booking not found")
	ErrInvalidTransition    = errors.New("invalid trip state transition")
	ErrConflict             = errors.New("trip state conflict")
	ErrConcurrentAssignment = errors.New("trip already booked by another buddy")
	ErrForbidden            = errors.New("caller is not a participant of this trip")
)

type Planner interface {
	Plan(ctx context.Context, origin, destination string) (route.Plan, error)
}

type Pricing interface {
	Estimate(ctx context.Context, distanceKm float64) (float64, pricing.Tariff)
}

type Notifier interface {
	Notify(ctx context.Context, e notify.Event)
}

// Transition is a conditional status write: it applies only while the stored trip
// still has status From and status_version Version.
type Transition struct {
	TripID     types.ID
	From       Status
	To         Status
	Version    int
	At         time.Time
	ClearBuddy bool
	// BookingID, when set, has its status mirrored to To.
	BookingID *types.ID
	// Triggers are written in the same transaction as the status change.
	Triggers []rating.TripEvent
}

// BookingWrite assigns a buddy to an available trip and records the booking.
type BookingWrite struct {
	TripID       types.ID
	Version      int
	Booking      *Booking
	AdjustedFare *float64
}

type Repository interface {
	Create(ctx context.Context, t *Trip) error
	Get(ctx context.Context, id types.ID) (*Trip, error)
	ListByStatus(ctx context.Context, status Status) ([]*Trip, error)
	// ListByPilot returns the pilot's trips in status, latest scheduled first.
	ListByPilot(ctx context.Context, pilotID types.ID, status Status) ([]*Trip, error)
	// Book returns false when the trip is no longer available at that version.
	Book(ctx context.Context, w BookingWrite) (bool, error)
	// Transition returns false when the conditional write lost to another writer.
	Transition(ctx context.Context, tr Transition) (bool, error)
	SetPayment(ctx context.Context, tripID, bookingID types.ID, status PaymentStatus) error
	GetBooking(ctx context.Context, id types.ID) (*Booking, error)
	LatestBooking(ctx context.Context, tripID types.ID) (*Booking, error)
	BookingsForBuddy(ctx context.Context, buddyID types.ID) ([]*Booking, error)
	Delete(ctx context.Context, ids []types.ID) error
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, tripID types.ID) ([]Event, error)
}

type Service struct {
	store    Repository
	planner  Planner
	pricing  Pricing
	notifier Notifier
	retain   int
	logger   *slog.Logger
	now      func() time.Time
}

type Options struct {
	Planner  Planner
	Pricing  Pricing
	Notifier Notifier
	// RetainFinished caps the finished trips kept per pilot.
	RetainFinished int
	Logger         *slog.Logger
}

func NewService(store Repository, opts Options) *Service {
	s := &Service{
		store:    store,
		planner:  opts.Planner,
		pricing:  opts.Pricing,
		notifier: opts.Notifier,
		retain:   opts.RetainFinished,
		logger:   opts.Logger,
		now:      time.Now,
	}
	if s.retain <= 0 {
		s.retain = DefaultRetainFinished
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

type CreateCommand struct {
	PilotID     types.ID
	Pilot       Contact
	Source      string
	Destination string
	ScheduledAt time.Time
	// SourcePoint, DestPoint and DistanceKm are used when routing is unavailable.
	SourcePoint *types.Point
	DestPoint   *types.Point
	DistanceKm  float64
	// PickupIDs selects which sampled candidates are exposed; empty exposes all.
	PickupIDs []string
}

type BookCommand struct {
	TripID  types.ID
	BuddyID types.ID
	Buddy   Contact
	// Pickup is set for flexible-pickup bookings.
	Pickup *Pickup
}

type AcceptCommand struct {
	TripID  types.ID
	PilotID types.ID
}

type StartCommand struct {
	TripID  types.ID
	PilotID types.ID
}

type FinishCommand struct {
	TripID  types.ID
	PilotID types.ID
}

type CancelCommand struct {
	TripID  types.ID
	PilotID types.ID
	Reason  string
}

type PaymentCommand struct {
	TripID  types.ID
	BuddyID types.ID
}

func (c CreateCommand) validate() error {
	switch {
	case c.PilotID == "":
		return types.Invalid("pilot_id", "required")
	case Normalize(c.Source) == "":
		return types.Invalid("source", "required")
	case Normalize(c.Destination) == "":
		return types.Invalid("destination", "required")
	case c.ScheduledAt.IsZero():
		return types.Invalid("scheduled_at", "required")
	case c.DistanceKm < 0:
		return types.Invalid("distance_km", "must not be negative")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Trip, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	t := &Trip{
		ID:          types.NewID(),
		PilotID:     cmd.PilotID,
		Pilot:       cmd.Pilot,
		Source:      Normalize(cmd.Source),
		Destination: Normalize(cmd.Destination),
		ScheduledAt: cmd.ScheduledAt,
		DistanceKm:  cmd.DistanceKm,
		Status:      StatusAvailable,
		CreatedAt:   now,
	}
	if cmd.SourcePoint != nil {
		t.SourcePoint = *cmd.SourcePoint
	}
	if cmd.DestPoint != nil {
		t.DestPoint = *cmd.DestPoint
	}

	plan, err := s.plan(ctx, cmd.Source, cmd.Destination)
	if err != nil {
		// Routing failures never block creation; the trip is exact-match only.
		observability.RoutingFailures.Inc()
		s.logger.Warn("trip created without route", "pilot_id", cmd.PilotID, "error", err)
	} else {
		t.Route = plan.Waypoints
		t.PickupCandidates = exposed(plan.Candidates, cmd.PickupIDs)
		t.DistanceKm = float64(plan.DistanceMeters) / 1000
		t.DistanceText = plan.DistanceText
		t.SourcePoint = plan.Start
		t.DestPoint = plan.End
	}

	tariff := pricing.DefaultTariff()
	if s.pricing != nil {
		t.BaseFare, tariff = s.pricing.Estimate(ctx, t.DistanceKm)
	} else {
		t.BaseFare = pricing.BaseFare(t.DistanceKm, tariff.RatePerKm, tariff.Surcharge)
	}
	t.RatePerKm = tariff.RatePerKm
	t.Surcharge = tariff.Surcharge

	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create trip: %w", err)
	}
	s.appendEvent(ctx, t.ID, StatusNone, StatusAvailable, ActorPilot, &cmd.PilotID)
	s.notify(ctx, notify.KindTripCreated, t, "Trip published",
		fmt.Sprintf("%s → %s is open for buddies", t.Source, t.Destination), t.PilotID)
	return t, nil
}

func (s *Service) plan(ctx context.Context, source, destination string) (route.Plan, error) {
	if s.planner == nil {
		return route.Plan{}, route.ErrRoutingUnavailable
	}
	plan, err := s.planner.Plan(ctx, source, destination)
	if err != nil {
		return route.Plan{}, err
	}
	if plan.Empty() {
		return route.Plan{}, route.ErrRoutingUnavailable
	}
	return plan, nil
}

// exposed keeps the candidates whose ids were selected, preserving route order.
func exposed(all []route.PickupCandidate, ids []string) []route.PickupCandidate {
	if len(ids) == 0 {
		return all
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]route.PickupCandidate, 0, len(ids))
	for _, c := range all {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// Book assigns the buddy to an available trip. The first writer wins; everyone
// else gets ErrConcurrentAssignment.
func (s *Service) Book(ctx context.Context, cmd BookCommand) (*Booking, error) {
	if cmd.TripID == "" {
		return nil, types.Invalid("trip_id", "required")
	}
	if cmd.BuddyID == "" {
		return nil, types.Invalid("buddy_id", "required")
	}
	t, err := s.store.Get(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}
	if t.PilotID == cmd.BuddyID {
		return nil, types.Invalid("buddy_id", "pilots cannot book their own trip")
	}
	switch t.Status {
	case StatusAvailable:
	case StatusPending, StatusAccepted, StatusStarted:
		return nil, ErrConcurrentAssignment
	default:
		return nil, ErrInvalidTransition
	}

	fare := t.BaseFare
	var adjusted *float64
	if cmd.Pickup != nil && !t.SourcePoint.IsZero() {
		v := pricing.AdjustedFare(t.BaseFare, t.RatePerKm, cmd.Pickup.Point, t.SourcePoint)
		adjusted, fare = &v, v
	}

	b := &Booking{
		ID:            types.NewID(),
		TripID:        t.ID,
		PilotID:       t.PilotID,
		Pilot:         t.Pilot,
		BuddyID:       cmd.BuddyID,
		Buddy:         cmd.Buddy,
		Source:        t.Source,
		Destination:   t.Destination,
		Fare:          fare,
		Flexible:      cmd.Pickup != nil,
		Pickup:        cmd.Pickup,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		CreatedAt:     s.now(),
	}
	ok, err := s.store.Book(ctx, BookingWrite{TripID: t.ID, Version: t.StatusVersion, Booking: b, AdjustedFare: adjusted})
	if err != nil {
		return nil, fmt.Errorf("book trip: %w", err)
	}
	if !ok {
		observability.TripConflicts.WithLabelValues("book").Inc()
		return nil, ErrConcurrentAssignment
	}
	observability.TripTransitions.WithLabelValues(string(StatusPending)).Inc()

	s.appendEvent(ctx, t.ID, StatusAvailable, StatusPending, ActorBuddy, &cmd.BuddyID)
	s.notify(ctx, notify.KindBookingRequested, t, "New booking request",
		fmt.Sprintf("%s wants to ride with you", displayName(cmd.Buddy, cmd.BuddyID)), t.PilotID)
	return b, nil
}

func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) error {
	t, err := s.pilotTrip(ctx, cmd.TripID, cmd.PilotID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, t, StatusAccepted, ActorPilot, &cmd.PilotID, nil); err != nil {
		return err
	}
	s.notify(ctx, notify.KindBookingAccepted, t, "Booking accepted",
		fmt.Sprintf("%s accepted your ride request", displayName(t.Pilot, t.PilotID)), buddyOf(t)...)
	return nil
}

func (s *Service) Start(ctx context.Context, cmd StartCommand) error {
	t, err := s.pilotTrip(ctx, cmd.TripID, cmd.PilotID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, t, StatusStarted, ActorPilot, &cmd.PilotID, nil); err != nil {
		return err
	}
	s.notify(ctx, notify.KindTripStarted, t, "Trip started",
		"Your pilot is on the way", buddyOf(t)...)
	return nil
}

// Finish ends the trip, frees the buddy slot and asks both participants for a rating.
func (s *Service) Finish(ctx context.Context, cmd FinishCommand) error {
	t, err := s.pilotTrip(ctx, cmd.TripID, cmd.PilotID)
	if err != nil {
		return err
	}
	buddies := buddyOf(t)
	err = s.transition(ctx, t, StatusFinished, ActorPilot, &cmd.PilotID, func(tr *Transition) {
		tr.ClearBuddy = true
		if t.BuddyID != nil {
			tr.Triggers = rating.NewTriggers(t.ID, t.PilotID, *t.BuddyID, rating.TriggerTripCompleted, tr.At)
		}
	})
	if err != nil {
		return err
	}
	s.notify(ctx, notify.KindTripFinished, t, "Trip finished",
		"Thanks for riding together. Please rate your trip.", append(buddies, t.PilotID)...)
	return nil
}

// InitiatePayment flags that the buddy started an external payment.
func (s *Service) InitiatePayment(ctx context.Context, cmd PaymentCommand) error {
	t, b, err := s.buddyBooking(ctx, cmd)
	if err != nil {
		return err
	}
	switch t.Status {
	case StatusAccepted, StatusStarted, StatusFinished:
	default:
		return ErrInvalidTransition
	}
	if b.PaymentStatus == PaymentCompleted {
		return nil
	}
	return s.store.SetPayment(ctx, t.ID, b.ID, PaymentInitiated)
}

// CompletePayment records a settled payment. A trip still in progress is finished
// with the same side effects as Finish; an already finished trip only has its
// booking marked paid.
func (s *Service) CompletePayment(ctx context.Context, cmd PaymentCommand) error {
	t, b, err := s.buddyBooking(ctx, cmd)
	if err != nil {
		return err
	}
	switch t.Status {
	case StatusAccepted, StatusStarted:
		err := s.transition(ctx, t, StatusFinished, ActorBuddy, &cmd.BuddyID, func(tr *Transition) {
			tr.ClearBuddy = true
			tr.Triggers = rating.NewTriggers(t.ID, t.PilotID, cmd.BuddyID, rating.TriggerPaymentCompleted, tr.At)
		})
		if err != nil {
			return err
		}
		s.notify(ctx, notify.KindTripFinished, t, "Trip finished",
			"Payment received. Please rate your trip.", t.PilotID, cmd.BuddyID)
	case StatusFinished:
	default:
		return ErrInvalidTransition
	}
	if err := s.store.SetPayment(ctx, t.ID, b.ID, PaymentCompleted); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	s.notify(ctx, notify.KindPaymentCompleted, t, "Payment completed",
		fmt.Sprintf("%s paid %.2f %s", displayName(b.Buddy, b.BuddyID), b.Fare, types.Currency), t.PilotID)
	return nil
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	t, err := s.pilotTrip(ctx, cmd.TripID, cmd.PilotID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, t, StatusCancelled, ActorPilot, &cmd.PilotID, nil); err != nil {
		return err
	}
	body := "The pilot cancelled this trip"
	if cmd.Reason != "" {
		body = fmt.Sprintf("%s: %s", body, cmd.Reason)
	}
	s.notify(ctx, notify.KindTripCancelled, t, "Trip cancelled", body, buddyOf(t)...)
	return nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Trip, error) {
	return s.store.Get(ctx, id)
}

// History returns the trip's status log, oldest first.
func (s *Service) History(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

// ListAvailable returns every trip still open for booking.
func (s *Service) ListAvailable(ctx context.Context) ([]*Trip, error) {
	return s.store.ListByStatus(ctx, StatusAvailable)
}

// ListForPilot returns the pilot's trips in status. Listing finished trips applies
// the retention policy.
func (s *Service) ListForPilot(ctx context.Context, pilotID types.ID, status Status) ([]*Trip, error) {
	if pilotID == "" {
		return nil, types.Invalid("pilot_id", "required")
	}
	if status == StatusFinished {
		return s.FinishedForPilot(ctx, pilotID)
	}
	return s.store.ListByPilot(ctx, pilotID, status)
}

func (s *Service) BookingsForBuddy(ctx context.Context, buddyID types.ID) ([]*Booking, error) {
	if buddyID == "" {
		return nil, types.Invalid("buddy_id", "required")
	}
	return s.store.BookingsForBuddy(ctx, buddyID)
}

func (s *Service) pilotTrip(ctx context.Context, tripID, pilotID types.ID) (*Trip, error) {
	if tripID == "" {
		return nil, types.Invalid("trip_id", "required")
	}
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.PilotID != pilotID {
		return nil, ErrForbidden
	}
	return t, nil
}

// buddyBooking loads the trip and the booking that cmd.BuddyID holds on it. The
// booking outlives the buddy fields that Finish clears from the trip.
func (s *Service) buddyBooking(ctx context.Context, cmd PaymentCommand) (*Trip, *Booking, error) {
	if cmd.TripID == "" {
		return nil, nil, types.Invalid("trip_id", "required")
	}
	t, err := s.store.Get(ctx, cmd.TripID)
	if err != nil {
		return nil, nil, err
	}
	var b *Booking
	if t.BookingID != nil {
		b, err = s.store.GetBooking(ctx, *t.BookingID)
	} else {
		b, err = s.store.LatestBooking(ctx, t.ID)
	}
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, nil, ErrForbidden
		}
		return nil, nil, err
	}
	if b.BuddyID != cmd.BuddyID {
		return nil, nil, ErrForbidden
	}
	return t, b, nil
}

func (s *Service) transition(ctx context.Context, t *Trip, to Status, actorType string, actorID *types.ID, mutate func(*Transition)) error {
	if !CanTransition(t.Status, to) {
		return ErrInvalidTransition
	}
	tr := Transition{
		TripID:    t.ID,
		From:      t.Status,
		To:        to,
		Version:   t.StatusVersion,
		At:        s.now(),
		BookingID: t.BookingID,
	}
	if mutate != nil {
		mutate(&tr)
	}
	ok, err := s.store.Transition(ctx, tr)
	if err != nil {
		return fmt.Errorf("trip %s -> %s: %w", tr.From, tr.To, err)
	}
	if !ok {
		observability.TripConflicts.WithLabelValues(string(to)).Inc()
		return ErrConflict
	}
	observability.TripTransitions.WithLabelValues(string(to)).Inc()
	s.appendEvent(ctx, t.ID, tr.From, to, actorType, actorID)
	return nil
}

func (s *Service) appendEvent(ctx context.Context, tripID types.ID, from, to Status, actorType string, actorID *types.ID) {
	err := s.store.AppendEvent(ctx, &Event{
		TripID:     tripID,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.logger.Warn("append trip event failed", "trip_id", tripID, "to", to, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, kind notify.Kind, t *Trip, title, body string, recipients ...types.ID) {
	if s.notifier == nil || len(recipients) == 0 {
		return
	}
	s.notifier.Notify(ctx, notify.Event{
		ID:         string(types.NewID()),
		Kind:       kind,
		TripID:     t.ID,
		Recipients: recipients,
		Title:      title,
		Body:       body,
		Data: map[string]string{
			"source":      t.Source,
			"destination": t.Destination,
		},
		At: s.now(),
	})
}

func buddyOf(t *Trip) []types.ID {
	if t.BuddyID == nil {
		return nil
	}
	return []types.ID{*t.BuddyID}
}

func displayName(c Contact, id types.ID) string {
	if c.Name != "" {
		return c.Name
	}
	return string(id)
}
