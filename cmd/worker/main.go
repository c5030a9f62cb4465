package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/ridereport/internal/config"
	"example.com/ridereport/internal/notify"
	"example.com/ridereport/internal/persistence/postgres"
	"example.com/ridereport/internal/report"
	"example.com/ridereport/internal/strava"
	"example.com/ridereport/internal/tokens"
	"example.com/ridereport/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	tokenManager := tokens.NewManager(repo, cfg.StravaClientID, cfg.StravaClientSecret, cfg.TokenRefreshSkew)

	var clientOpts []strava.Option
	if cfg.StravaBaseURL != "" {
		clientOpts = append(clientOpts, strava.WithBaseURL(cfg.StravaBaseURL))
	}
	client := strava.NewClient(cfg.RateLimitCooldown, cfg.RateLimitBudget, clientOpts...)

	generator := report.NewGeminiGenerator(cfg.GeminiAPIKey, cfg.GeminiModel)

	publisher := notify.NewPublisher(cfg.KafkaBrokers, cfg.ReportTopic)
	defer publisher.Close()

	w := worker.New(repo, client, tokenManager, generator, publisher, worker.Config{
		PollInterval:  cfg.WorkerPollInterval,
		MaxAttempts:   cfg.MaxAttempts,
		BackoffBase:   cfg.BackoffBase,
		BackoffCap:    cfg.BackoffCap,
		ReapThreshold: cfg.ReapThreshold,
		ReapInterval:  cfg.ReapInterval,
	})

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("worker metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	go w.Start(ctx)
	log.Printf("worker started (poll=%s, max_attempts=%d)", cfg.WorkerPollInterval, cfg.MaxAttempts)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Println("worker shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	w.Wait()
}
