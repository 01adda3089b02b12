package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/slot-reservations/internal/app"
	"github.com/noah-isme/slot-reservations/internal/config"
	"github.com/noah-isme/slot-reservations/internal/lock"
	"github.com/noah-isme/slot-reservations/internal/notify"
	"github.com/noah-isme/slot-reservations/internal/obs"
	"github.com/noah-isme/slot-reservations/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.EnablePrometheus {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, prometheus.DefaultRegisterer)
		resilience.RegisterMetrics(prometheus.DefaultRegisterer)
	}

	redisOpt, err := app.AsynqOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse task queue url")
	}
	redisClient, err := app.OpenRedis(ctx, cfg.RedisURL, cfg.Obs.EnablePrometheus)
	if err != nil {
		logger.Fatal().Err(err).Msg("open redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	worker := &notify.ConfirmationWorker{
		Email: notify.EmailNotifier{
			Mail:     notify.LogSender{Logger: logger, From: cfg.Notify.EmailFrom},
			Currency: cfg.Pricing.CurrencyCode,
		},
		Webhook: newWebhook(cfg, redisClient, logger),
		Locker:  lock.Locker{R: redisClient},
		LockTTL: cfg.Worker.LockTTL,
		Logger:  logger,
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      zerologAdapter{logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task_failed")
		}),
	})
	mux := asynq.NewServeMux()
	worker.Register(mux)

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Int("concurrency", cfg.Worker.Concurrency).Bool("webhook", worker.Webhook.Enabled()).Msg("worker started")
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func newWebhook(cfg *config.Config, redisClient *redis.Client, logger zerolog.Logger) *notify.Webhook {
	if cfg.Notify.WebhookURL == "" {
		return nil
	}
	return &notify.Webhook{
		URL:    cfg.Notify.WebhookURL,
		Secret: cfg.Notify.WebhookSecret,
		HTTP: resilience.HTTPClient{
			Client: notify.NewHTTPClient(10 * time.Second),
			Breaker: resilience.NewBreaker(resilience.BreakerConfig{
				Target:       "webhook",
				MinRequests:  cfg.Breaker.MinRequests,
				FailureRatio: cfg.Breaker.FailureRatio,
				OpenFor:      cfg.Breaker.OpenFor,
			}).WithLogger(logger),
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: 3,
			Jitter:      0.2,
			Timeout:     5 * time.Second,
		},
		Replay:    notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL: cfg.Notify.ReplayTTL,
	}
}

// zerologAdapter satisfies asynq.Logger.
type zerologAdapter struct {
	logger zerolog.Logger
}

func (a zerologAdapter) Debug(args ...any) { a.logger.Debug().Msg(fmt.Sprint(args...)) }
func (a zerologAdapter) Info(args ...any)  { a.logger.Info().Msg(fmt.Sprint(args...)) }
func (a zerologAdapter) Warn(args ...any)  { a.logger.Warn().Msg(fmt.Sprint(args...)) }
func (a zerologAdapter) Error(args ...any) { a.logger.Error().Msg(fmt.Sprint(args...)) }
func (a zerologAdapter) Fatal(args ...any) { a.logger.Fatal().Msg(fmt.Sprint(args...)) }
