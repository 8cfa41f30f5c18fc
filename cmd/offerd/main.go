package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tutorslots/internal/api"
	"tutorslots/internal/audit"
	"tutorslots/internal/bookingapi"
	"tutorslots/internal/config"
	"tutorslots/internal/draft"
	"tutorslots/internal/events"
	"tutorslots/internal/metrics"
	"tutorslots/internal/offer"
	"tutorslots/internal/pattern"
)

// pinger is any dependency /readyz checks.
type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	// .env is optional; real environment wins.
	_ = godotenv.Load()

	configPath := os.Getenv("OFFERD_CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	client := bookingapi.NewClient(cfg.BookingAPI.BaseURL, cfg.BookingAPI.APIKey, cfg.BookingAPITimeout(), &logger)
	if rdb != nil && cfg.BookingAPICacheTTL() > 0 {
		client.UseRedisCache(rdb, cfg.BookingAPICacheTTL())
	}
	client.UseRateLimit(cfg.BookingAPI.RatePerSecond, cfg.BookingAPI.Burst)

	store, checks, closeStore, err := buildDraftStore(ctx, cfg, rdb, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("draft store error")
	}
	defer closeStore()
	checks["booking_api"] = pingFunc(client.HealthCheck)

	bus := events.NewEventBus(&logger)
	inbox := events.NewInbox(64)
	inbox.Attach(bus, events.TypeOfferSubmitted, events.TypeSubmissionStatus, events.TypeDialogsClose)
	bus.Subscribe(events.TypeOfferSubmitted, func(e events.Event) error {
		logger.Info().Str("session", e.Session).RawJSON("payload", e.Payload).Msg("offer submitted")
		return nil
	})

	opts := []offer.Option{}
	if rdb != nil {
		opts = append(opts, offer.WithLocker(offer.NewRedisLocker(rdb), cfg.OfferLockTTL()))
	}
	var history *audit.History
	if cfg.Audit.Enabled {
		history, err = audit.NewHistory(cfg.Audit.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("offer history error")
		}
		defer history.Close()
		checks["history"] = history
		opts = append(opts, offer.WithRecorder(history))
		go history.RunRetention(ctx, cfg.AuditRetention(), &logger)
	}
	submitter := offer.NewSubmitter(client, bus, &logger, opts...)

	// The lookup policy can be flipped without a restart.
	if err := config.Watch(ctx, configPath, 30*time.Second, func(updated *config.Config) {
		policy := offer.PolicyAlwaysCreate
		if updated.Offers.LookupExisting {
			policy = offer.PolicyLookup
		}
		if submitter.Policy() != policy {
			submitter.SetPolicy(policy)
			logger.Info().Str("policy", policy.String()).Msg("offer lookup policy applied")
		}
	}); err != nil {
		logger.Error().Err(err).Msg("config watch failed")
	}

	registry := draft.NewRegistry(store, cfg.SessionTimeout(), &logger)
	go registry.Run(ctx, time.Minute)

	deps := api.Deps{
		Resolver:  pattern.NewResolver(client, &logger),
		Editor:    pattern.NewEditor(client, &logger),
		Bookings:  client,
		Registry:  registry,
		Submitter: submitter,
		Inbox:     inbox,
		Logger:    &logger,
	}
	if history != nil {
		deps.History = history
	}
	srv := api.NewHTTPServer(cfg.ServerAddress(), deps)

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, checks, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Str("drafts", cfg.Drafts.Backend).Str("policy", submitter.Policy().String()).Msg("offer service started")
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("api server error")
	}
}

// buildDraftStore assembles the configured draft backend and the readiness
// checks it contributes.
func buildDraftStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *zerolog.Logger) (draft.Store, map[string]pinger, func(), error) {
	checks := map[string]pinger{}
	if rdb != nil {
		checks["redis"] = redisPinger{rdb}
	}
	noop := func() {}

	openSQLite := func() (*draft.SQLiteStore, error) {
		s, err := draft.NewSQLiteStore(cfg.Drafts.SQLitePath)
		if err != nil {
			return nil, err
		}
		checks["sqlite"] = s
		go purgeLoop(ctx, s, cfg.DraftTTL(), logger)
		return s, nil
	}

	switch cfg.Drafts.Backend {
	case config.BackendRedis:
		return draft.NewRedisStore(rdb, cfg.DraftTTL()), checks, noop, nil
	case config.BackendSQLite:
		s, err := openSQLite()
		if err != nil {
			return nil, nil, noop, err
		}
		return s, checks, func() { _ = s.Close() }, nil
	case config.BackendFailover:
		s, err := openSQLite()
		if err != nil {
			return nil, nil, noop, err
		}
		// Redis outages degrade to SQLite rather than failing readiness.
		delete(checks, "redis")
		store := draft.NewFailoverStore(draft.NewRedisStore(rdb, cfg.DraftTTL()), s, logger)
		return store, checks, func() { _ = s.Close() }, nil
	default:
		return draft.NewMemoryStore(), checks, noop, nil
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type redisPinger struct {
	rdb *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func purgeLoop(ctx context.Context, s *draft.SQLiteStore, ttl time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeOlderThan(ctx, ttl)
			if err != nil {
				logger.Error().Err(err).Msg("draft purge failed")
			} else if n > 0 {
				logger.Info().Int64("deleted", n).Msg("purged stale drafts")
			}
		}
	}
}

func startHealthServer(ctx context.Context, port int, checks map[string]pinger, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		for name, c := range checks {
			if err := c.Ping(ctxPing); err != nil {
				http.Error(w, name+" not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
