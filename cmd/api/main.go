package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/slot-reservations/internal/app"
	"github.com/noah-isme/slot-reservations/internal/auth"
	"github.com/noah-isme/slot-reservations/internal/catalog"
	"github.com/noah-isme/slot-reservations/internal/common"
	"github.com/noah-isme/slot-reservations/internal/config"
	"github.com/noah-isme/slot-reservations/internal/events"
	"github.com/noah-isme/slot-reservations/internal/health"
	"github.com/noah-isme/slot-reservations/internal/obs"
	"github.com/noah-isme/slot-reservations/internal/promo"
	"github.com/noah-isme/slot-reservations/internal/ratelimit"
	"github.com/noah-isme/slot-reservations/internal/reservation"
	"github.com/noah-isme/slot-reservations/internal/resilience"
	"github.com/noah-isme/slot-reservations/internal/security"
)

const maxBodyBytes = 64 << 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().
		Str("env", cfg.AppEnv).
		Str("backend", cfg.StoreBackend).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.EnablePrometheus {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, prometheus.DefaultRegisterer)
		resilience.RegisterMetrics(prometheus.DefaultRegisterer)
	}
	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "slot-reservations-api",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
			StoreBackend:  cfg.StoreBackend,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	deps, err := app.Open(ctx, cfg, "slot-reservations-api", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close()
	if cfg.StoreBackend != config.BackendPostgres {
		if err := deps.Seed(ctx, time.Now().UTC()); err != nil {
			logger.Fatal().Err(err).Msg("seed inventory")
		}
	}

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Source: deps.Source,
		Slots:  deps.Store,
		Cache:  catalog.NewCache(deps.Redis, cfg.CatalogCacheTTL),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}

	promoCalc, err := promo.LoadFile(cfg.Pricing.PromoRulesFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("load promo rules")
	}

	bus := &events.Bus{Store: deps.Events}
	if deps.Redis != nil {
		opt, err := app.AsynqOpt(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse task queue url")
		}
		taskClient := asynq.NewClient(opt)
		defer taskClient.Close()
		bus.Scheduler = events.TaskScheduler{Client: taskClient}
	} else {
		logger.Warn().Msg("REDIS_URL unset; confirmation notifications are disabled")
	}
	if len(cfg.Kafka.Brokers) > 0 {
		writer := events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer writer.Close()
		bus.Notifiers = append(bus.Notifiers, events.KafkaNotifier{Writer: writer})
	}

	reservations, err := reservation.NewService(reservation.Config{
		Store:       deps.Store,
		Experiences: catalogService,
		Promo:       promoCalc,
		TaxBps:      cfg.Pricing.TaxRateBps,
		Events:      bus,
		Invalidator: catalogService,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise reservation service")
	}

	secret := cfg.JWTSecret
	if secret == "" {
		secret = auth.DevSecret
		logger.Warn().Msg("JWT_SECRET unset; using the development secret")
	}
	authMiddleware := auth.Middleware{Verifier: auth.NewVerifier(secret, cfg.JWTIssuer)}

	bookingLimiter, err := newBookingLimiter(cfg, deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	limit := ratelimit.Handler{
		Limiter: bookingLimiter,
		Key:     ratelimit.ByClientIP("bookings"),
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate_limit_unavailable") },
	}
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}

	bookingHandler := reservation.NewHandler(reservations, logger)
	catalogHandler := catalog.NewHandler(catalogService)
	promoHandler := &promo.Handler{Calc: promoCalc, Logger: logger}
	healthHandler := &health.Handler{Probes: deps.Probes(cfg)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Obs.EnablePrometheus {
		buckets := obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets)
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, buckets, prometheus.DefaultRegisterer)}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger, Subject: authMiddleware.Subject}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"Location", "Idempotent-Replayed", "X-RateLimit-Remaining"},
		MaxAge:         300,
	}))
	r.Use(security.Headers{HSTSMaxAge: 31536000}.Middleware)
	r.Use(security.BodyLimit{Max: maxBodyBytes}.Middleware)

	if cfg.Obs.EnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), os.Getenv("SECURE_PPROF_BASIC_AUTH_USER"), os.Getenv("SECURE_PPROF_BASIC_AUTH_PASS")))
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(authMiddleware.Authenticate)

		v.Get("/experiences", catalogHandler.Experiences)
		v.Get("/experiences/{id}", catalogHandler.Experience)
		v.Post("/promo/validate", promoHandler.Validate)

		v.Post("/bookings/quote", bookingHandler.Quote)
		v.With(limit.Middleware, idem.Middleware).Post("/bookings", bookingHandler.Reserve)
		v.Get("/bookings/{refId}", bookingHandler.Get)

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireRole(auth.RoleAdmin))
			admin.Get("/bookings", bookingHandler.List)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	healthHandler.Drain()
	logger.Info().Msg("server draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	logger.Info().Msg("server stopped")
}

func newBookingLimiter(cfg *config.Config, deps *app.Dependencies) (ratelimit.Limiter, error) {
	fixed, err := ratelimit.NewFixedWindow(cfg.RateLimit.Rate, deps.Redis, "rl:fixed:")
	if err != nil {
		return nil, err
	}
	if deps.Redis == nil {
		return fixed, nil
	}
	return ratelimit.All{
		fixed,
		ratelimit.SlidingWindow{
			Client: deps.Redis,
			Prefix: "rl:sliding:",
			Window: cfg.RateLimit.Window,
			Max:    cfg.RateLimit.Max,
		},
	}, nil
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
