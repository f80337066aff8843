// README: Entry point; loads config, wires stores and services, starts the HTTP server and notifier.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"carpool/internal/config"
	"carpool/internal/docstore"
	httpapi "carpool/internal/http"
	"carpool/internal/infra"
	"carpool/internal/logging"
	"carpool/internal/maps"
	"carpool/internal/memstore"
	"carpool/internal/modules/matching"
	"carpool/internal/modules/pricing"
	"carpool/internal/modules/rating"
	"carpool/internal/modules/route"
	"carpool/internal/modules/trip"
	"carpool/internal/notify"
	"carpool/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("carpool-api stopped", "error", err)
		os.Exit(1)
	}
}

type backend struct {
	trips   trip.Repository
	ratings rating.Store
	tariffs pricing.TariffSource
	close   func()
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var fb *infra.Firebase
	if cfg.Firebase.Enabled() {
		var err error
		fb, err = infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
		if err != nil {
			return err
		}
	}

	verifier, err := newVerifier(ctx, cfg, fb, logger)
	if err != nil {
		return err
	}

	store, err := openBackend(ctx, cfg, fb, logger)
	if err != nil {
		return err
	}
	defer store.close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	var planner trip.Planner
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey, cfg.Maps.Language, cfg.Maps.Region)
		if err != nil {
			return err
		}
		opts := route.Options{StepMeters: cfg.Route.StepMeters, GeocodeQPS: cfg.Maps.GeocodeQPS, Logger: logger}
		if rdb != nil {
			opts.Cache = route.NewRedisLabelCache(rdb)
		}
		planner = route.NewSampler(routes, routes, opts)
	} else {
		logger.Warn("maps api key not set; trips are exact-match only")
	}

	broker := notify.NewBroker(cfg.Notify.Backlog)
	tokens, sinks, closeSinks, err := notifySinks(ctx, cfg, fb)
	if err != nil {
		return err
	}
	defer closeSinks()
	dispatcher := notify.NewDispatcher(broker, sinks, notify.DispatcherOptions{QueueSize: cfg.Notify.QueueSize, Logger: logger})
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		dispatcher.Run(ctx)
	}()

	var (
		summaries matching.SummaryCache
		onRated   func(context.Context, types.ID)
	)
	if rdb != nil {
		cache := matching.NewStore(rdb, cfg.Matching.SummaryTTL)
		summaries = cache
		onRated = func(ctx context.Context, userID types.ID) {
			if err := cache.Invalidate(ctx, userID); err != nil {
				logger.Warn("invalidate rating summary", "user_id", userID, "error", err)
			}
		}
	}

	fallback := pricing.Tariff{RatePerKm: cfg.Fare.RatePerKm, Surcharge: cfg.Fare.Surcharge, Currency: types.Currency}
	pricingSvc := pricing.NewService(store.tariffs, fallback, logger)

	ratingSvc := rating.NewService(store.ratings, rating.Options{
		MaxAttempts: cfg.Rating.MaxAttempts,
		Backoff:     cfg.Rating.Backoff,
		OnRated:     onRated,
		Logger:      logger,
	})
	tripSvc := trip.NewService(store.trips, trip.Options{
		Planner:        planner,
		Pricing:        pricingSvc,
		Notifier:       dispatcher,
		RetainFinished: cfg.Retention.FinishedPerPilot,
		Logger:         logger,
	})
	matchingSvc := matching.NewService(tripSvc, ratingSvc, matching.Options{
		Cache:           summaries,
		DefaultRadiusKm: cfg.Matching.RadiusKm,
		Fanout:          cfg.Matching.Fanout,
		Logger:          logger,
	})

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Trips:          tripSvc,
		Matching:       matchingSvc,
		Ratings:        ratingSvc,
		Planner:        planner,
		Broker:         broker,
		Tokens:         tokens,
		Verifier:       verifier,
		AllowedOrigins: cfg.HTTP.CORSOrigins,
		Logger:         logger,
	})
	server := httpapi.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, logger)

	err = server.Run(ctx)
	stop()
	<-dispatched
	return err
}

func newVerifier(ctx context.Context, cfg config.Config, fb *infra.Firebase, logger *slog.Logger) (infra.TokenVerifier, error) {
	if cfg.Auth.DevTokens {
		logger.Warn("auth.dev_tokens is enabled; bearer tokens are not verified")
		return infra.DevVerifier{}, nil
	}
	if fb == nil {
		return nil, errors.New("firebase.project_id is required unless auth.dev_tokens is set")
	}
	return fb.Verifier(ctx)
}

func openBackend(ctx context.Context, cfg config.Config, fb *infra.Firebase, logger *slog.Logger) (backend, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
		if err != nil {
			return backend{}, err
		}
		if cfg.DB.AutoMigrate {
			if err := infra.ApplyMigrations(ctx, db, cfg.DB.MigrationsDir); err != nil {
				db.Close()
				return backend{}, err
			}
		}
		return backend{
			trips:   trip.NewStore(db),
			ratings: rating.NewStore(db),
			tariffs: pricing.NewStore(db),
			close:   db.Close,
		}, nil
	case config.BackendFirestore:
		client, err := fb.Firestore(ctx)
		if err != nil {
			return backend{}, err
		}
		ds := docstore.New(client)
		return backend{trips: ds, ratings: ds, close: func() { _ = client.Close() }}, nil
	case config.BackendMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		ms := memstore.New()
		return backend{trips: ms, ratings: ms, close: func() {}}, nil
	}
	return backend{}, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// notifySinks picks the device-token registry and the external publishers that are configured.
func notifySinks(ctx context.Context, cfg config.Config, fb *infra.Firebase) (notify.TokenStore, []notify.Publisher, func(), error) {
	var (
		tokens  notify.TokenStore = notify.NewMemoryTokens()
		sinks   []notify.Publisher
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if fb != nil && cfg.Firebase.DatabaseURL != "" {
		rtdb, err := fb.Database(ctx)
		if err != nil {
			return nil, nil, closeAll, err
		}
		tokens = notify.NewRTDBTokens(rtdb)
	}
	if fb != nil {
		fcm, err := fb.Messaging(ctx)
		if err != nil {
			return nil, nil, closeAll, err
		}
		sinks = append(sinks, notify.NewFCMPublisher(fcm, tokens))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		w := infra.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		closers = append(closers, func() { _ = w.Close() })
		sinks = append(sinks, notify.NewKafkaPublisher(w))
	}
	return tokens, sinks, closeAll, nil
}
