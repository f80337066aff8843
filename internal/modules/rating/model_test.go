package rating

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldRunningAverage(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	a := Fold(UserAggregate{UserID: "u1"}, 4, at)
	assert.Equal(t, 1, a.TotalRatings)
	assert.Equal(t, 4.0, a.AverageRating)
	require.NotNil(t, a.LastRatedAt)

	a = Fold(a, 5, at.Add(time.Minute))
	assert.Equal(t, 2, a.TotalRatings)
	assert.Equal(t, 4.5, a.AverageRating)
	assert.Equal(t, at.Add(time.Minute), *a.LastRatedAt)

	a = Fold(a, 5, at)
	assert.Equal(t, 3, a.TotalRatings)
	assert.Equal(t, 4.7, a.AverageRating)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
	assert.Equal(t, Summary{Average: 4.3, Count: 3}, Summarize([]int{4, 4, 5}))
	assert.Equal(t, Summary{Average: 1, Count: 1}, Summarize([]int{1}))
}

func TestNewTriggersAddressEachParticipant(t *testing.T) {
	evs := NewTriggers("trip1", "pilot", "buddy", TriggerTripCompleted, time.Now())
	require.Len(t, evs, 2)
	assert.Equal(t, "pilot", string(evs[0].RaterID))
	assert.Equal(t, "buddy", string(evs[0].RatedUserID))
	assert.Equal(t, "buddy", string(evs[1].RaterID))
	assert.Equal(t, "pilot", string(evs[1].RatedUserID))
	assert.NotEqual(t, evs[0].ID, evs[1].ID)
	for _, e := range evs {
		assert.False(t, e.Processed)
		assert.Equal(t, TriggerTripCompleted, e.Type)
	}
}
