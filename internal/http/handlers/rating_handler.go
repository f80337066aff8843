// README: Rating handlers: submit, pending triggers and user summaries.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carpool/internal/modules/rating"
	"carpool/internal/types"
)

type RatingHandler struct {
	ratings *rating.Service
}

func NewRatingHandler(svc *rating.Service) *RatingHandler {
	return &RatingHandler{ratings: svc}
}

type submitRatingReq struct {
	EventID   string `json:"event_id"`
	Score     int    `json:"score"`
	Comment   string `json:"comment"`
	RaterName string `json:"rater_name"`
}

func (h *RatingHandler) Submit(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}
	var req submitRatingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.EventID) {
		writeError(c, http.StatusBadRequest, "invalid event id")
		return
	}
	res, err := h.ratings.Submit(c.Request.Context(), rating.SubmitCommand{
		EventID:   types.ID(req.EventID),
		TripID:    id,
		RaterID:   caller(c),
		RaterName: req.RaterName,
		Score:     req.Score,
		Comment:   req.Comment,
	})
	if err != nil {
		writeRatingError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, res)
}

// Pending lists the caller's unconsumed rating triggers, newest first.
func (h *RatingHandler) Pending(c *gin.Context) {
	events, err := h.ratings.PendingEvents(c.Request.Context(), caller(c))
	if err != nil {
		writeRatingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"events": events})
}

func (h *RatingHandler) UserRating(c *gin.Context) {
	uid := c.Param("id")
	if !isValidUserID(uid) {
		writeError(c, http.StatusBadRequest, "invalid user id")
		return
	}
	agg, err := h.ratings.Aggregate(c.Request.Context(), types.ID(uid))
	if err != nil {
		writeRatingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, agg)
}
