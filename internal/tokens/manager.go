// Package tokens owns the OAuth credential lifecycle: proactive refresh,
// rotation-safe persistence, and revocation detection.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/ridereport/internal/domain"
)

const defaultTokenURL = "https://www.strava.com/oauth/token"

// ErrNoCredential indicates the athlete has never completed authorization.
var ErrNoCredential = errors.New("no credential stored for athlete")

// Store is the persistence surface the manager needs.
type Store interface {
	GetCredential(ctx context.Context, athleteID int64) (*domain.Credential, error)
	RotateCredential(ctx context.Context, oldRefreshToken string, cred domain.Credential) (bool, error)
	MarkReauthRequired(ctx context.Context, athleteID int64) error
}

// Manager resolves valid credentials, refreshing them before expiry.
// Safe for concurrent Resolve calls on the same athlete: persistence is an
// atomic conditional update, and a lost rotation race falls back to
// re-reading the winner's tokens. No lock is held across the exchange.
type Manager struct {
	store        Store
	clientID     string
	clientSecret string
	tokenURL     string
	skew         time.Duration
	httpClient   *http.Client
	logger       *log.Logger
	now          func() time.Time
}

// Option configures optional behaviour for the Manager.
type Option func(*Manager)

// WithLogger overrides the logger used to report refresh activity.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithTokenURL overrides the upstream token endpoint, used by tests.
func WithTokenURL(tokenURL string) Option {
	return func(m *Manager) { m.tokenURL = tokenURL }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager constructs a Manager. skew is how close to expiry a token may
// get before Resolve refreshes it proactively.
func NewManager(store Store, clientID, clientSecret string, skew time.Duration, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     defaultTokenURL,
		skew:         skew,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       log.New(log.Writer(), "[tokens] ", log.LstdFlags),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resolve returns a credential valid for at least the configured skew,
// refreshing first when the stored one is about to expire.
func (m *Manager) Resolve(ctx context.Context, athleteID int64) (*domain.Credential, error) {
	cred, err := m.store.GetCredential(ctx, athleteID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, domain.Permanent(fmt.Errorf("athlete %d: %w", athleteID, ErrNoCredential))
	}
	if cred.ReauthRequired {
		return nil, fmt.Errorf("athlete %d: %w", athleteID, domain.ErrReauthorizationRequired)
	}
	if !cred.ExpiresWithin(m.skew, m.now()) {
		return cred, nil
	}
	return m.refresh(ctx, cred)
}

// ForceRefresh refreshes regardless of expiry. The worker calls this when a
// fetch comes back unauthorized despite a seemingly fresh token.
func (m *Manager) ForceRefresh(ctx context.Context, athleteID int64) (*domain.Credential, error) {
	cred, err := m.store.GetCredential(ctx, athleteID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, domain.Permanent(fmt.Errorf("athlete %d: %w", athleteID, ErrNoCredential))
	}
	return m.refresh(ctx, cred)
}

func (m *Manager) refresh(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	refreshed, err := m.exchange(ctx, cred.RefreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrReauthorizationRequired) {
			if markErr := m.store.MarkReauthRequired(ctx, cred.AthleteID); markErr != nil {
				m.logger.Printf("failed to flag athlete %d for re-authorization: %v", cred.AthleteID, markErr)
			}
			return nil, fmt.Errorf("athlete %d: %w", cred.AthleteID, domain.ErrReauthorizationRequired)
		}
		return nil, err
	}

	next := domain.Credential{
		AthleteID:    cred.AthleteID,
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		ExpiresAt:    refreshed.ExpiresAt,
	}

	rotated, err := m.store.RotateCredential(ctx, cred.RefreshToken, next)
	if err != nil {
		return nil, err
	}
	if !rotated {
		// A concurrent Resolve already exchanged the old refresh token and
		// persisted its result. Ours would clobber the live pair; use theirs.
		refreshRaceCounter.Inc()
		m.logger.Printf("rotation race for athlete %d, re-reading stored credential", cred.AthleteID)
		current, err := m.store.GetCredential(ctx, cred.AthleteID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, domain.Permanent(fmt.Errorf("athlete %d: %w", cred.AthleteID, ErrNoCredential))
		}
		return current, nil
	}

	refreshCounter.Inc()
	m.logger.Printf("refreshed credential for athlete %d (expires %s)", cred.AthleteID, next.ExpiresAt.Format(time.RFC3339))
	return &next, nil
}

type exchangeResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// exchange trades the current refresh token for a new token pair.
func (m *Manager) exchange(ctx context.Context, refreshToken string) (*exchangeResult, error) {
	form := url.Values{}
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if refreshTokenRevoked(resp.StatusCode, body) {
			return nil, domain.ErrReauthorizationRequired
		}
		return nil, fmt.Errorf("refresh failed with status %d", resp.StatusCode)
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		ExpiresAt    int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		return nil, fmt.Errorf("refresh response missing token fields")
	}

	expiry := time.Unix(result.ExpiresAt, 0)
	if result.ExpiresAt == 0 {
		expiry = m.now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}

	return &exchangeResult{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    expiry,
	}, nil
}

// refreshTokenRevoked distinguishes a revoked/invalid refresh token from a
// transient upstream failure. The authority reports revocation as a 4xx with
// an invalid refresh_token detail.
func refreshTokenRevoked(status int, body []byte) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	if status != http.StatusBadRequest {
		return false
	}
	var detail struct {
		Errors []struct {
			Field string `json:"field"`
			Code  string `json:"code"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &detail); err != nil {
		return false
	}
	for _, e := range detail.Errors {
		if e.Field == "refresh_token" && e.Code == "invalid" {
			return true
		}
	}
	return false
}
