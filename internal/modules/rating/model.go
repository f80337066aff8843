// README: Ratings, per-user aggregates and the trip events that trigger them.
package rating

import (
	"time"

	"carpool/internal/types"
)

type Trigger string

const (
	TriggerTripCompleted    Trigger = "trip_completed"
	TriggerPaymentCompleted Trigger = "payment_completed"
)

const (
	MinScore = 1
	MaxScore = 5
)

type Rating struct {
	ID          types.ID  `json:"id"`
	TripID      types.ID  `json:"trip_id"`
	EventID     types.ID  `json:"event_id"`
	Trigger     Trigger   `json:"trigger"`
	RaterID     types.ID  `json:"rater_id"`
	RaterName   string    `json:"rater_name"`
	RatedUserID types.ID  `json:"rated_user_id"`
	Score       int       `json:"score"`
	Comment     string    `json:"comment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserAggregate is the running rating summary of one user.
type UserAggregate struct {
	UserID        types.ID   `json:"user_id"`
	TotalRatings  int        `json:"total_ratings"`
	AverageRating float64    `json:"average_rating"`
	LastRatedAt   *time.Time `json:"last_rated_at,omitempty"`
}

// TripEvent asks one participant of a finished trip to rate the other.
// It is consumed at most once.
type TripEvent struct {
	ID          types.ID   `json:"id"`
	TripID      types.ID   `json:"trip_id"`
	Type        Trigger    `json:"type"`
	RaterID     types.ID   `json:"rater_id"`
	RatedUserID types.ID   `json:"rated_user_id"`
	Processed   bool       `json:"processed"`
	RatingID    *types.ID  `json:"rating_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// NewTriggers builds the pair of events emitted when a trip between pilot and buddy ends.
func NewTriggers(tripID, pilotID, buddyID types.ID, trigger Trigger, at time.Time) []TripEvent {
	return []TripEvent{
		{ID: types.NewID(), TripID: tripID, Type: trigger, RaterID: pilotID, RatedUserID: buddyID, CreatedAt: at},
		{ID: types.NewID(), TripID: tripID, Type: trigger, RaterID: buddyID, RatedUserID: pilotID, CreatedAt: at},
	}
}

// Fold adds score to the aggregate: the new average is rounded to one decimal.
func Fold(a UserAggregate, score int, at time.Time) UserAggregate {
	n := a.TotalRatings
	avg := (a.AverageRating*float64(n) + float64(score)) / float64(n+1)
	t := at
	return UserAggregate{
		UserID:        a.UserID,
		TotalRatings:  n + 1,
		AverageRating: types.RoundTenths(avg),
		LastRatedAt:   &t,
	}
}

// Summary is the rating annotation shown next to a pilot in search results.
type Summary struct {
	Average float64 `json:"average_rating"`
	Count   int     `json:"rating_count"`
}

// Summarize averages raw scores, rounded to one decimal; zero when there are none.
func Summarize(scores []int) Summary {
	if len(scores) == 0 {
		return Summary{}
	}
	total := 0
	for _, s := range scores {
		total += s
	}
	return Summary{
		Average: types.RoundTenths(float64(total) / float64(len(scores))),
		Count:   len(scores),
	}
}
