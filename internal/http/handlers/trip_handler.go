// README: Trip handlers for publishing, booking and the lifecycle actions.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/modules/trip"
	"carpool/internal/types"
)

type TripHandler struct {
	trips *trip.Service
}

func NewTripHandler(svc *trip.Service) *TripHandler {
	return &TripHandler{trips: svc}
}

type contactReq struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Photo string `json:"photo"`
}

func (r contactReq) contact() trip.Contact {
	return trip.Contact{Name: r.Name, Email: r.Email, Phone: r.Phone, Photo: r.Photo}
}

type createTripReq struct {
	Source      string       `json:"source"`
	Destination string       `json:"destination"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	SourcePoint *types.Point `json:"source_point"`
	DestPoint   *types.Point `json:"dest_point"`
	DistanceKm  float64      `json:"distance_km"`
	PickupIDs   []string     `json:"pickup_ids"`
	Pilot       contactReq   `json:"pilot"`
}

func (h *TripHandler) Create(c *gin.Context) {
	var req createTripReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := h.trips.Create(c.Request.Context(), trip.CreateCommand{
		PilotID:     caller(c),
		Pilot:       req.Pilot.contact(),
		Source:      req.Source,
		Destination: req.Destination,
		ScheduledAt: req.ScheduledAt,
		SourcePoint: req.SourcePoint,
		DestPoint:   req.DestPoint,
		DistanceKm:  req.DistanceKm,
		PickupIDs:   req.PickupIDs,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, t)
}

func (h *TripHandler) Get(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}
	t, err := h.trips.Get(c.Request.Context(), id)
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func (h *TripHandler) History(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}
	events, err := h.trips.History(c.Request.Context(), id)
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip_id": id, "events": events})
}

type pickupReq struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

type bookTripReq struct {
	Buddy  contactReq `json:"buddy"`
	Pickup *pickupReq `json:"pickup"`
}

func (h *TripHandler) Book(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}
	var req bookTripReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	cmd := trip.BookCommand{TripID: id, BuddyID: caller(c), Buddy: req.Buddy.contact()}
	if req.Pickup != nil {
		cmd.Pickup = &trip.Pickup{
			Name:  req.Pickup.Name,
			Point: types.Point{Lat: req.Pickup.Lat, Lng: req.Pickup.Lng},
		}
	}
	b, err := h.trips.Book(c.Request.Context(), cmd)
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, b)
}

func (h *TripHandler) Accept(c *gin.Context) {
	h.pilotAction(c, trip.StatusAccepted, func(id types.ID) error {
		return h.trips.Accept(c.Request.Context(), trip.AcceptCommand{TripID: id, PilotID: caller(c)})
	})
}

func (h *TripHandler) Start(c *gin.Context) {
	h.pilotAction(c, trip.StatusStarted, func(id types.ID) error {
		return h.trips.Start(c.Request.Context(), trip.StartCommand{TripID: id, PilotID: caller(c)})
	})
}

func (h *TripHandler) Finish(c *gin.Context) {
	h.pilotAction(c, trip.StatusFinished, func(id types.ID) error {
		return h.trips.Finish(c.Request.Context(), trip.FinishCommand{TripID: id, PilotID: caller(c)})
	})
}

type cancelTripReq struct {
	Reason string `json:"reason"`
}

func (h *TripHandler) Cancel(c *gin.Context) {
	var req cancelTripReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	h.pilotAction(c, trip.StatusCancelled, func(id types.ID) error {
		return h.trips.Cancel(c.Request.Context(), trip.CancelCommand{TripID: id, PilotID: caller(c), Reason: req.Reason})
	})
}

func (h *TripHandler) pilotAction(c *gin.Context, to trip.Status, act func(types.ID) error) {
	id, ok := tripID(c)
	if !ok {
		return
	}
	if err := act(id); err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip_id": id, "status": to})
}

func (h *TripHandler) InitiatePayment(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}
	err := h.trips.InitiatePayment(c.Request.Context(), trip.PaymentCommand{TripID: id, BuddyID: caller(c)})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip_id": id, "payment_status": trip.PaymentInitiated})
}

func (h *TripHandler) CompletePayment(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}
	err := h.trips.CompletePayment(c.Request.Context(), trip.PaymentCommand{TripID: id, BuddyID: caller(c)})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip_id": id, "payment_status": trip.PaymentCompleted, "status": trip.StatusFinished})
}

// ListMine lists the caller's trips as pilot; finished lists are trimmed to the
// retention cap.
func (h *TripHandler) ListMine(c *gin.Context) {
	status := trip.Status(c.DefaultQuery("status", string(trip.StatusAvailable)))
	switch status {
	case trip.StatusAvailable, trip.StatusPending, trip.StatusAccepted,
		trip.StatusStarted, trip.StatusFinished, trip.StatusCancelled:
	default:
		writeError(c, http.StatusBadRequest, "unknown status")
		return
	}
	trips, err := h.trips.ListForPilot(c.Request.Context(), caller(c), status)
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": status, "trips": trips})
}

func (h *TripHandler) MyBookings(c *gin.Context) {
	bookings, err := h.trips.BookingsForBuddy(c.Request.Context(), caller(c))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": bookings})
}
