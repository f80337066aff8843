// README: Lifecycle notification events emitted by the trip engine.
package notify

import (
	"time"

	"carpool/internal/types"
)

type Kind string

const (
	KindTripCreated      Kind = "trip_created"
	KindBookingRequested Kind = "booking_requested"
	KindBookingAccepted  Kind = "booking_accepted"
	KindTripStarted      Kind = "trip_started"
	KindTripFinished     Kind = "trip_finished"
	KindTripCancelled    Kind = "trip_cancelled"
	KindPaymentCompleted Kind = "payment_completed"
)

// Event is a lifecycle fact addressed to one or more users. Seq is assigned by the
// in-process broker and is what pollers page on.
type Event struct {
	ID         string            `json:"id"`
	Seq        uint64            `json:"seq"`
	Kind       Kind              `json:"kind"`
	TripID     types.ID          `json:"trip_id"`
	Recipients []types.ID        `json:"recipients"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data,omitempty"`
	At         time.Time         `json:"at"`
}
