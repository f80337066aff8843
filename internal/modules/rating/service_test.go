package rating_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carpool/internal/memstore"
	"carpool/internal/modules/rating"
	"carpool/internal/types"
)

func seedEvent(store *memstore.Store, id, tripID, rater, rated types.ID) {
	store.PutTripEvent(rating.TripEvent{
		ID:          id,
		TripID:      tripID,
		Type:        rating.TriggerTripCompleted,
		RaterID:     rater,
		RatedUserID: rated,
		CreatedAt:   time.Now(),
	})
}

func TestSubmitFoldsAggregate(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := rating.NewService(store, rating.Options{})
	seedEvent(store, "ev1", "trip1", "buddy1", "pilot1")
	seedEvent(store, "ev2", "trip2", "buddy2", "pilot1")

	res, err := svc.Submit(ctx, rating.SubmitCommand{EventID: "ev1", TripID: "trip1", RaterID: "buddy1", RaterName: "Asha", Score: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Aggregate.TotalRatings)
	assert.Equal(t, 4.0, res.Aggregate.AverageRating)
	assert.Equal(t, types.ID("pilot1"), res.Rating.RatedUserID)

	res, err = svc.Submit(ctx, rating.SubmitCommand{EventID: "ev2", RaterID: "buddy2", Score: 5, Comment: "  smooth ride "})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Aggregate.TotalRatings)
	assert.Equal(t, 4.5, res.Aggregate.AverageRating)
	assert.Equal(t, "smooth ride", res.Rating.Comment)

	agg, err := svc.Aggregate(ctx, "pilot1")
	require.NoError(t, err)
	assert.Equal(t, 2, agg.TotalRatings)
	assert.Equal(t, 4.5, agg.AverageRating)

	sum, err := svc.Summary(ctx, "pilot1")
	require.NoError(t, err)
	assert.Equal(t, rating.Summary{Average: 4.5, Count: 2}, sum)
}

func TestSubmitIsIdempotentPerEvent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := rating.NewService(store, rating.Options{})
	seedEvent(store, "ev1", "trip1", "buddy1", "pilot1")

	_, err := svc.Submit(ctx, rating.SubmitCommand{EventID: "ev1", RaterID: "buddy1", Score: 4})
	require.NoError(t, err)

	_, err = svc.Submit(ctx, rating.SubmitCommand{EventID: "ev1", RaterID: "buddy1", Score: 1})
	assert.ErrorIs(t, err, rating.ErrEventProcessed)

	agg, err := svc.Aggregate(ctx, "pilot1")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.TotalRatings)
	assert.Equal(t, 4.0, agg.AverageRating)

	pending, err := svc.PendingEvents(ctx, "buddy1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSubmitRejections(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := rating.NewService(store, rating.Options{})
	seedEvent(store, "ev1", "trip1", "buddy1", "pilot1")

	cases := []struct {
		name string
		cmd  rating.SubmitCommand
		want error
	}{
		{"unknown event", rating.SubmitCommand{EventID: "nope", RaterID: "buddy1", Score: 3}, rating.ErrEventNotFound},
		{"other trip", rating.SubmitCommand{EventID: "ev1", TripID: "trip9", RaterID: "buddy1", Score: 3}, rating.ErrEventNotFound},
		{"not the rater", rating.SubmitCommand{EventID: "ev1", RaterID: "pilot1", Score: 3}, rating.ErrNotRater},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tc.cmd)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	for _, score := range []int{0, 6, -1} {
		_, err := svc.Submit(ctx, rating.SubmitCommand{EventID: "ev1", RaterID: "buddy1", Score: score})
		assert.True(t, types.IsValidation(err), "score %d", score)
	}

	pending, err := svc.PendingEvents(ctx, "buddy1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestConcurrentSubmitSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := rating.NewService(store, rating.Options{})
	seedEvent(store, "ev1", "trip1", "buddy1", "pilot1")

	const attempts = 6
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(ctx, rating.SubmitCommand{EventID: "ev1", RaterID: "buddy1", Score: 5})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		require.ErrorIs(t, err, rating.ErrEventProcessed)
	}
	assert.Equal(t, 1, success)

	agg, err := svc.Aggregate(ctx, "pilot1")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.TotalRatings)
}

// flakyStore fails the first n transactions with a serialization conflict.
type flakyStore struct {
	*memstore.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) InTx(ctx context.Context, fn func(ctx context.Context, tx rating.Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return rating.ErrTxConflict
	}
	return f.Store.InTx(ctx, fn)
}

func TestSubmitRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memstore.New(), failures: 2}
	svc := rating.NewService(store, rating.Options{MaxAttempts: 3, Backoff: time.Millisecond})
	seedEvent(store.Store, "ev1", "trip1", "buddy1", "pilot1")

	res, err := svc.Submit(ctx, rating.SubmitCommand{EventID: "ev1", RaterID: "buddy1", Score: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Aggregate.TotalRatings)
	assert.Equal(t, 3, store.calls)
}

func TestSubmitSurfacesConflictAfterRetries(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memstore.New(), failures: 10}
	svc := rating.NewService(store, rating.Options{MaxAttempts: 3})
	seedEvent(store.Store, "ev1", "trip1", "buddy1", "pilot1")

	_, err := svc.Submit(ctx, rating.SubmitCommand{EventID: "ev1", RaterID: "buddy1", Score: 5})
	assert.True(t, errors.Is(err, rating.ErrTxConflict))
	assert.Equal(t, 3, store.calls)

	pending, err := svc.PendingEvents(ctx, "buddy1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
