// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carpool/internal/http/handlers"
	"carpool/internal/http/middleware"
	"carpool/internal/infra"
	"carpool/internal/modules/matching"
	"carpool/internal/modules/rating"
	"carpool/internal/modules/trip"
	"carpool/internal/notify"
)

type Deps struct {
	Trips    *trip.Service
	Matching *matching.Service
	Ratings  *rating.Service
	// Planner samples a buddy's own route; nil answers 503.
	Planner  handlers.Planner
	Broker   *notify.Broker
	Tokens   notify.TokenStore
	Verifier infra.TokenVerifier
	// AllowedOrigins enables CORS for the web client when non-empty.
	AllowedOrigins []string
	Logger         *slog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logging(logger), middleware.Recovery(logger))
	if len(d.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(d.AllowedOrigins))
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(d.Verifier))

	tripHandler := handlers.NewTripHandler(d.Trips)
	api.POST("/trips", tripHandler.Create)
	api.GET("/trips/:id", tripHandler.Get)
	api.GET("/trips/:id/history", tripHandler.History)
	api.POST("/trips/:id/book", tripHandler.Book)
	api.POST("/trips/:id/accept", tripHandler.Accept)
	api.POST("/trips/:id/start", tripHandler.Start)
	api.POST("/trips/:id/finish", tripHandler.Finish)
	api.POST("/trips/:id/cancel", tripHandler.Cancel)
	api.POST("/trips/:id/payment/initiate", tripHandler.InitiatePayment)
	api.POST("/trips/:id/payment/complete", tripHandler.CompletePayment)
	api.GET("/me/trips", tripHandler.ListMine)
	api.GET("/me/bookings", tripHandler.MyBookings)

	searchHandler := handlers.NewSearchHandler(d.Matching)
	api.POST("/trips/search", searchHandler.Search)

	ratingHandler := handlers.NewRatingHandler(d.Ratings)
	api.POST("/trips/:id/ratings", ratingHandler.Submit)
	api.GET("/me/rating-events", ratingHandler.Pending)
	api.GET("/users/:id/rating", ratingHandler.UserRating)

	routeHandler := handlers.NewRouteHandler(d.Planner)
	api.POST("/routes/sample", routeHandler.Sample)

	eventHandler := handlers.NewEventHandler(d.Broker, d.Tokens, logger)
	api.GET("/events", eventHandler.Poll)
	api.GET("/events/ws", eventHandler.Stream)
	api.POST("/devices", eventHandler.RegisterDevice)

	return r
}
