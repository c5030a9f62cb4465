// Command seedtoken stores an initial OAuth credential for an athlete. Run it
// once after completing the authorization flow in a browser; the token
// manager keeps the credential fresh from then on.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/ridereport/internal/config"
	"example.com/ridereport/internal/domain"
	"example.com/ridereport/internal/persistence/postgres"
)

func main() {
	athleteID := flag.Int64("athlete", 0, "athlete id the credential belongs to")
	accessToken := flag.String("access-token", "", "OAuth access token")
	refreshToken := flag.String("refresh-token", "", "OAuth refresh token")
	expiresAt := flag.Int64("expires-at", 0, "access token expiry as a unix timestamp")
	flag.Parse()

	if *athleteID <= 0 || *accessToken == "" || *refreshToken == "" || *expiresAt <= 0 {
		flag.Usage()
		log.Fatal("all flags are required")
	}

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
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

	cred := domain.Credential{
		AthleteID:    *athleteID,
		AccessToken:  *accessToken,
		RefreshToken: *refreshToken,
		ExpiresAt:    time.Unix(*expiresAt, 0).UTC(),
	}
	if err := repo.UpsertCredential(ctx, cred); err != nil {
		log.Fatalf("failed to store credential: %v", err)
	}

	log.Printf("stored credential for athlete %d (expires %s)", cred.AthleteID, cred.ExpiresAt.Format(time.RFC3339))
}
