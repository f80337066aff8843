// README: Route sampling handler for a buddy's own route.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"carpool/internal/modules/route"
)

type Planner interface {
	Plan(ctx context.Context, origin, destination string) (route.Plan, error)
}

type RouteHandler struct {
	planner Planner
}

// NewRouteHandler accepts a nil planner; sampling then answers 503.
func NewRouteHandler(planner Planner) *RouteHandler {
	return &RouteHandler{planner: planner}
}

type sampleRouteReq struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

type sampleRouteResp struct {
	DistanceMeters int                     `json:"distance_meters"`
	DistanceText   string                  `json:"distance_text"`
	DurationText   string                  `json:"duration_text"`
	Waypoints      []route.Waypoint        `json:"waypoints"`
	Candidates     []route.PickupCandidate `json:"candidates"`
}

func (h *RouteHandler) Sample(c *gin.Context) {
	var req sampleRouteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Source) == "" || strings.TrimSpace(req.Destination) == "" {
		writeError(c, http.StatusBadRequest, "source and destination are required")
		return
	}
	if h.planner == nil {
		writeTripError(c, route.ErrRoutingUnavailable)
		return
	}
	plan, err := h.planner.Plan(c.Request.Context(), req.Source, req.Destination)
	if err == nil && plan.Empty() {
		err = route.ErrRoutingUnavailable
	}
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sampleRouteResp{
		DistanceMeters: plan.DistanceMeters,
		DistanceText:   plan.DistanceText,
		DurationText:   plan.DurationText,
		Waypoints:      plan.Waypoints,
		Candidates:     plan.Candidates,
	})
}
