// README: End-to-end handler tests over the in-memory store.
package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "carpool/internal/http"
	"carpool/internal/infra"
	"carpool/internal/memstore"
	"carpool/internal/modules/matching"
	"carpool/internal/modules/rating"
	"carpool/internal/modules/trip"
	"carpool/internal/notify"
)

type testAPI struct {
	router *gin.Engine
	tokens *notify.MemoryTokens
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	store := memstore.New()
	broker := notify.NewBroker(64)
	dispatcher := notify.NewDispatcher(broker, nil, notify.DispatcherOptions{Logger: logger})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go dispatcher.Run(ctx)

	ratings := rating.NewService(store, rating.Options{MaxAttempts: 3, Logger: logger})
	trips := trip.NewService(store, trip.Options{Notifier: dispatcher, Logger: logger})
	search := matching.NewService(trips, ratings, matching.Options{Logger: logger})
	tokens := notify.NewMemoryTokens()

	r := httpapi.NewRouter(httpapi.Deps{
		Trips:    trips,
		Matching: search,
		Ratings:  ratings,
		Broker:   broker,
		Tokens:   tokens,
		Verifier: infra.DevVerifier{},
		Logger:   logger,
	})
	return &testAPI{router: r, tokens: tokens}
}

func (a *testAPI) do(t *testing.T, method, path, uid string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+uid)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (a *testAPI) createTrip(t *testing.T, pilot string, at time.Time) trip.Trip {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/trips", pilot, map[string]any{
		"source":       "Coimbatore",
		"destination":  "Pollachi",
		"scheduled_at": at,
		"source_point": map[string]float64{"lat": 11.0168, "lng": 76.9558},
		"dest_point":   map[string]float64{"lat": 10.6609, "lng": 77.0048},
		"distance_km":  40,
		"pilot":        map[string]string{"name": "Asha"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[trip.Trip](t, w)
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/metrics", "", nil).Code)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodGet, "/api/me/trips", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTripLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	at := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	tr := api.createTrip(t, "pilot1", at)
	assert.Equal(t, trip.StatusAvailable, tr.Status)
	assert.Equal(t, "coimbatore", tr.Source)

	w := api.do(t, http.MethodPost, "/api/trips/search", "buddy1", map[string]any{
		"mode":        "exact",
		"source":      "coimbatore ",
		"destination": "POLLACHI",
		"time":        at.Add(10 * time.Minute),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	found := decode[struct {
		Count   int                  `json:"count"`
		Results []matching.Candidate `json:"results"`
	}](t, w)
	require.Equal(t, 1, found.Count)
	assert.Equal(t, tr.ID, found.Results[0].Trip.ID)

	path := "/api/trips/" + string(tr.ID)
	w = api.do(t, http.MethodPost, path+"/book", "buddy1", map[string]any{"buddy": map[string]string{"name": "Ravi"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(t, http.MethodPost, path+"/book", "buddy2", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(t, http.MethodPost, path+"/accept", "buddy1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	for _, step := range []string{"/accept", "/start", "/finish"} {
		w = api.do(t, http.MethodPost, path+step, "pilot1", nil)
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", step, w.Body.String())
	}

	w = api.do(t, http.MethodPost, path+"/cancel", "pilot1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(t, http.MethodGet, "/api/me/rating-events", "buddy1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode[struct {
		Events []rating.TripEvent `json:"events"`
	}](t, w)
	require.Len(t, pending.Events, 1)
	assert.Equal(t, "pilot1", string(pending.Events[0].RatedUserID))

	rate := map[string]any{"event_id": pending.Events[0].ID, "score": 5, "comment": "smooth ride"}
	w = api.do(t, http.MethodPost, path+"/ratings", "buddy1", rate)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(t, http.MethodPost, path+"/ratings", "buddy1", rate)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(t, http.MethodGet, "/api/users/pilot1/rating", "buddy1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	agg := decode[rating.UserAggregate](t, w)
	assert.Equal(t, 1, agg.TotalRatings)
	assert.Equal(t, 5.0, agg.AverageRating)

	w = api.do(t, http.MethodGet, "/api/me/trips?status=finished", "pilot1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[struct {
		Trips []trip.Trip `json:"trips"`
	}](t, w)
	require.Len(t, mine.Trips, 1)

	w = api.do(t, http.MethodGet, path+"/history", "pilot1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Events []trip.Event `json:"events"`
	}](t, w)
	assert.Len(t, history.Events, 5)
}

func TestPaymentCompletesTrip(t *testing.T) {
	api := newTestAPI(t)
	tr := api.createTrip(t, "pilot1", time.Now().Add(time.Hour))
	path := "/api/trips/" + string(tr.ID)

	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, path+"/book", "buddy1", nil).Code)

	w := api.do(t, http.MethodPost, path+"/payment/initiate", "buddy1", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "payment before acceptance")

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, path+"/accept", "pilot1", nil).Code)
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, path+"/payment/initiate", "buddy1", nil).Code)

	w = api.do(t, http.MethodPost, path+"/payment/complete", "buddy2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, http.MethodPost, path+"/payment/complete", "buddy1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(t, http.MethodGet, "/api/me/bookings", "buddy1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	bookings := decode[struct {
		Bookings []trip.Booking `json:"bookings"`
	}](t, w)
	require.Len(t, bookings.Bookings, 1)
	assert.Equal(t, trip.PaymentCompleted, bookings.Bookings[0].PaymentStatus)
	assert.Equal(t, trip.StatusFinished, bookings.Bookings[0].Status)
}

func TestRequestValidation(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/trips/not-a-valid-id", "buddy1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/trips/abc123", "buddy1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodPost, "/api/trips", "pilot1", map[string]any{"source": "Coimbatore"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/api/trips/search", "buddy1", map[string]any{
		"mode": "flexible", "destination": "pollachi", "time": time.Now(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "flexible search without pickup")

	w = api.do(t, http.MethodPost, "/api/trips/search", "buddy1", map[string]any{
		"mode": "exact", "source": "coimbatore", "destination": "pollachi", "time": time.Now(), "radius_km": 9,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "radius out of range")

	w = api.do(t, http.MethodGet, "/api/me/trips?status=bogus", "pilot1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNoMatchIsEmptyList(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodPost, "/api/trips/search", "buddy1", map[string]any{
		"mode": "exact", "source": "salem", "destination": "erode", "time": time.Now(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(mustField(t, w.Body.Bytes(), "results")))
}

func TestRouteSampleWithoutRouting(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodPost, "/api/routes/sample", "buddy1", map[string]string{
		"source": "Coimbatore", "destination": "Pollachi",
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEventsPollAndDeviceRegistration(t *testing.T) {
	api := newTestAPI(t)
	tr := api.createTrip(t, "pilot1", time.Now().Add(time.Hour))
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/trips/"+string(tr.ID)+"/book", "buddy1", nil).Code)

	var events []notify.Event
	require.Eventually(t, func() bool {
		w := api.do(t, http.MethodGet, "/api/events?after=0", "pilot1", nil)
		if w.Code != http.StatusOK {
			return false
		}
		var page struct {
			Events []notify.Event `json:"events"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
			return false
		}
		events = page.Events
		return len(events) >= 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, notify.KindTripCreated, events[0].Kind)
	assert.Equal(t, notify.KindBookingRequested, events[1].Kind)

	w := api.do(t, http.MethodGet, "/api/events?after=abc", "pilot1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/api/devices", "buddy1", map[string]string{"token": "fcm-token-1"})
	require.Equal(t, http.StatusNoContent, w.Code)
	got, err := api.tokens.Token(context.Background(), "buddy1")
	require.NoError(t, err)
	assert.Equal(t, "fcm-token-1", got)
}

func mustField(t *testing.T, body []byte, field string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	return m[field]
}
