package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/bulkwave/dispatch/internal/api"
	"github.com/bulkwave/dispatch/internal/cache"
	"github.com/bulkwave/dispatch/internal/config"
	"github.com/bulkwave/dispatch/internal/gateway"
	"github.com/bulkwave/dispatch/internal/metrics"
	"github.com/bulkwave/dispatch/internal/model"
	"github.com/bulkwave/dispatch/internal/queue"
	"github.com/bulkwave/dispatch/internal/repo"
	"github.com/bulkwave/dispatch/internal/resilience"
	"github.com/bulkwave/dispatch/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("ping postgres: %v", err)
	}

	queueRepo := repo.NewPostgresQueueRepo(db)
	accounts := repo.NewPostgresAccountRepo(db)
	contacts := repo.NewPostgresContactRepo(db)

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	gw, err := buildGateway(cfg.Gateway, met, logger)
	if err != nil {
		log.Fatalf("build gateway client: %v", err)
	}

	svc := queue.NewService(queueRepo, accounts, contacts, gw, queue.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff: model.Backoff{
			Base:       cfg.Queue.BackoffBase,
			Multiplier: cfg.Queue.BackoffMultiplier,
			Max:        cfg.Queue.BackoffMax,
		},
		StuckAfter:      cfg.Queue.StuckAfter,
		MaxPayloadRunes: cfg.Queue.MaxPayloadRunes,
	}).WithMetrics(met).WithLogger(logger)

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		svc = svc.WithSentCache(cache.NewRedisCache(rdb, cfg.Redis.TTL))
		logger.Info("redis sent-cache enabled", "addr", cfg.Redis.Address)
	}

	dispatchSched, err := scheduler.New("dispatch", cfg.Scheduler.Interval, func(ctx context.Context) {
		res, err := svc.ProcessNextBatch(ctx, cfg.Scheduler.BatchSize)
		if err != nil {
			logger.Error("dispatch tick failed", "error", err)
			return
		}
		if res.Total > 0 {
			logger.Info("dispatch tick", "sent", res.Sent, "failed", res.Failed, "total", res.Total)
		}
	})
	if err != nil {
		log.Fatalf("create dispatch scheduler: %v", err)
	}

	cleanupSched, err := scheduler.New("cleanup", 24*time.Hour, func(ctx context.Context) {
		n, err := svc.CleanupOldEntries(ctx, cfg.Queue.RetentionDays)
		if err != nil {
			logger.Error("cleanup tick failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("cleanup tick", "deleted", n)
		}
	})
	if err != nil {
		log.Fatalf("create cleanup scheduler: %v", err)
	}

	dispatchSched.Start()
	cleanupSched.Start()
	defer dispatchSched.Stop()
	defer cleanupSched.Stop()

	handler := api.NewHandler(dispatchSched, svc)
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(handler, reg)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}

func buildGateway(cfg config.GatewayConfig, met *metrics.Metrics, logger *slog.Logger) (gateway.Client, error) {
	breaker, err := resilience.NewBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		CoolDown:         cfg.Breaker.CoolDown,
		OnStateChange: func(from, to resilience.BreakerState) {
			met.BreakerTransitions.WithLabelValues(string(from), string(to)).Inc()
			logger.Warn("gateway breaker state change", "from", string(from), "to", string(to))
		},
	})
	if err != nil {
		return nil, err
	}

	retry, err := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Multiplier:  cfg.Retry.Multiplier,
		MaxDelay:    cfg.Retry.MaxDelay,
		Retryable:   gateway.IsRetryable,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			logger.Warn("gateway call retrying", "error", err, "attempt", attempt, "delay", delay.String())
		},
	})
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	raw := gateway.NewHTTPClient(cfg.URL, cfg.Token, cfg.Sender, cfg.Timeout)

	return gateway.NewResilientClient(raw, breaker, retry, limiter, logger), nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
