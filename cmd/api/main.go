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

	"example.com/ridereport/internal/api"
	"example.com/ridereport/internal/auth"
	"example.com/ridereport/internal/backfill"
	"example.com/ridereport/internal/config"
	"example.com/ridereport/internal/persistence/postgres"
	"example.com/ridereport/internal/strava"
	"example.com/ridereport/internal/tokens"
	httptransport "example.com/ridereport/internal/transport/http"
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

	reconciler := backfill.NewReconciler(repo, client, tokenManager, cfg.BackfillPageSize, cfg.BackfillMaxPages)

	handler := api.NewHandler(repo, reconciler, cfg.StravaVerifyToken)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	// The webhook endpoints and health/metrics probes are not behind JWT:
	// the push sender authenticates via the subscription verify token.
	skipper := func(r *http.Request) bool {
		switch r.URL.Path {
		case "/strava/webhook", "/healthz", "/metrics":
			return true
		}
		return false
	}
	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, skipper)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("ride report api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
