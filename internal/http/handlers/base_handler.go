// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"carpool/internal/http/middleware"
	"carpool/internal/modules/rating"
	"carpool/internal/modules/route"
	"carpool/internal/modules/trip"
	"carpool/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID ensures trip ids are alphanumeric and at most 32 chars (matches types.NewID).
func isValidID(v string) bool {
	return v != "" && len(v) <= 32 && alnum(v)
}

// isValidUserID accepts Firebase uids, which may be up to 128 chars.
func isValidUserID(v string) bool {
	return v != "" && len(v) <= 128 && alnum(v)
}

func alnum(v string) bool {
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// tripID reads and validates the :id path parameter.
func tripID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid trip id")
		return "", false
	}
	return types.ID(id), true
}

func caller(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

func writeTripError(c *gin.Context, err error) {
	switch {
	case types.IsValidation(err):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, trip.ErrNotFound), errors.Is(err, trip.ErrBookingNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, trip.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, trip.ErrInvalidTransition),
		errors.Is(err, trip.ErrConcurrentAssignment),
		errors.Is(err, trip.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, route.ErrRoutingUnavailable):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeRatingError(c *gin.Context, err error) {
	switch {
	case types.IsValidation(err):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, rating.ErrEventNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, rating.ErrNotRater):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, rating.ErrEventProcessed), errors.Is(err, rating.ErrTxConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
