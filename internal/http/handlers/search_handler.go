// README: Trip search handler (exact and flexible matching).
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/modules/matching"
	"carpool/internal/types"
)

type SearchHandler struct {
	matching *matching.Service
}

func NewSearchHandler(svc *matching.Service) *SearchHandler {
	return &SearchHandler{matching: svc}
}

type searchReq struct {
	Mode        string       `json:"mode"`
	Source      string       `json:"source"`
	Pickup      *types.Point `json:"pickup"`
	Destination string       `json:"destination"`
	Time        time.Time    `json:"time"`
	RadiusKm    float64      `json:"radius_km"`
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req searchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	mode := matching.Mode(req.Mode)
	if mode == "" {
		mode = matching.ModeExact
		if req.Pickup != nil {
			mode = matching.ModeFlexible
		}
	}
	results, err := h.matching.Search(c.Request.Context(), matching.Query{
		Mode:        mode,
		Source:      req.Source,
		Pickup:      req.Pickup,
		Destination: req.Destination,
		Time:        req.Time,
		RadiusKm:    req.RadiusKm,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"mode": mode, "count": len(results), "results": results})
}
