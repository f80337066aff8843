// README: Trip aggregate, bookings and the trip status machine.
package trip

import (
	"strings"
	"time"

	"carpool/internal/modules/route"
	"carpool/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusAvailable Status = "available"
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusStarted   Status = "started"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentInitiated PaymentStatus = "initiated"
	PaymentCompleted PaymentStatus = "completed"
)

// Contact is a snapshot of a participant's public profile at booking time.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Photo string `json:"photo,omitempty"`
}

// Pickup is where a flexible-pickup buddy boards.
type Pickup struct {
	Name  string      `json:"name"`
	Point types.Point `json:"point"`
}

type Trip struct {
	ID               types.ID                `json:"id"`
	PilotID          types.ID                `json:"pilot_id"`
	Pilot            Contact                 `json:"pilot"`
	Source           string                  `json:"source"`
	Destination      string                  `json:"destination"`
	SourcePoint      types.Point             `json:"source_point"`
	DestPoint        types.Point             `json:"dest_point"`
	ScheduledAt      time.Time               `json:"scheduled_at"`
	Route            []route.Waypoint        `json:"route,omitempty"`
	PickupCandidates []route.PickupCandidate `json:"pickup_candidates,omitempty"`
	DistanceKm       float64                 `json:"distance_km"`
	DistanceText     string                  `json:"distance_text,omitempty"`
	BaseFare         float64                 `json:"base_fare"`
	RatePerKm        float64                 `json:"rate_per_km"`
	Surcharge        float64                 `json:"surcharge"`
	Status           Status                  `json:"status"`
	StatusVersion    int                     `json:"status_version"`
	BuddyID          *types.ID               `json:"buddy_id,omitempty"`
	Buddy            *Contact                `json:"buddy,omitempty"`
	Pickup           *Pickup                 `json:"pickup,omitempty"`
	AdjustedFare     *float64                `json:"adjusted_fare,omitempty"`
	BookingID        *types.ID               `json:"booking_id,omitempty"`
	PaymentInitiated bool                    `json:"payment_initiated"`
	CreatedAt        time.Time               `json:"created_at"`
	AcceptedAt       *time.Time              `json:"accepted_at,omitempty"`
	StartedAt        *time.Time              `json:"started_at,omitempty"`
	FinishedAt       *time.Time              `json:"finished_at,omitempty"`
	CancelledAt      *time.Time              `json:"cancelled_at,omitempty"`
}

// Flexible reports whether the trip has route waypoints for mid-route pickup.
func (t *Trip) Flexible() bool {
	return len(t.Route) > 0
}

// Booking is the history record of one buddy's request against a trip.
type Booking struct {
	ID            types.ID      `json:"id"`
	TripID        types.ID      `json:"trip_id"`
	PilotID       types.ID      `json:"pilot_id"`
	Pilot         Contact       `json:"pilot"`
	BuddyID       types.ID      `json:"buddy_id"`
	Buddy         Contact       `json:"buddy"`
	Source        string        `json:"source"`
	Destination   string        `json:"destination"`
	Fare          float64       `json:"fare"`
	Flexible      bool          `json:"flexible"`
	Pickup        *Pickup       `json:"pickup,omitempty"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Event is one entry of the trip's status history.
type Event struct {
	ID         int64     `json:"id"`
	TripID     types.ID  `json:"trip_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ActorType  string    `json:"actor_type"`
	ActorID    *types.ID `json:"actor_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	ActorPilot  = "pilot"
	ActorBuddy  = "buddy"
	ActorSystem = "system"
)

// AllowedTransitions represents the trip state flow as code. Statuses only move
// forward; finished and cancelled are terminal. Accepted may finish directly when
// payment settles before the pilot marks the trip started.
var AllowedTransitions = map[Status][]Status{
	StatusNone:      {StatusAvailable},
	StatusAvailable: {StatusPending, StatusCancelled},
	StatusPending:   {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusStarted, StatusFinished, StatusCancelled},
	StatusStarted:   {StatusFinished},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Normalize is how free-text places are compared: trimmed and lowercased.
func Normalize(place string) string {
	return strings.ToLower(strings.TrimSpace(place))
}
