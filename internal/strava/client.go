// Package strava is a stateless protocol client for the upstream activity
// platform. Credentials are supplied per call; the token lifecycle lives in
// the tokens package.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"example.com/ridereport/internal/domain"
)

const defaultBaseURL = "https://www.strava.com/api/v3"

var (
	// ErrTokenExpired reports an unauthorized response. The caller owns the
	// credential lifecycle and decides whether to force a refresh and retry.
	ErrTokenExpired = errors.New("access token rejected upstream")

	// ErrRateLimited reports that the in-client cool-down budget ran out.
	// Retryable: the queue backoff spaces the next attempt further out.
	ErrRateLimited = errors.New("rate limited beyond retry budget")

	// ErrPageExpired reports that upstream no longer honours the supplied
	// page position. The backfill reconciler restarts from page one.
	ErrPageExpired = errors.New("pagination state expired upstream")

	// ErrNotFound reports an unresolvable object identifier.
	ErrNotFound = errors.New("object not found upstream")
)

// DefaultStreamChannels are the time-series channels requested for analysis.
// Upstream omits whichever the device did not record.
var DefaultStreamChannels = []string{"time", "watts", "heartrate", "cadence", "velocity_smooth", "altitude"}

// Client talks to the upstream REST API with rate-limit handling built in.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cooldown   time.Duration
	budget     int
	logger     *log.Logger
	sleep      func(context.Context, time.Duration) error
}

// Option configures optional behaviour for the Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host, used by tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithLogger overrides the logger used to report rate-limit waits.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithSleep overrides the cool-down sleeper, used by tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient constructs a Client. cooldown is the default wait after a
// rate-limit response when upstream does not indicate one; budget bounds how
// many rate-limited attempts a single call absorbs before surfacing
// ErrRateLimited.
func NewClient(cooldown time.Duration, budget int, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    defaultBaseURL,
		cooldown:   cooldown,
		budget:     budget,
		logger:     log.New(log.Writer(), "[strava] ", log.LstdFlags),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetActivity fetches the detailed activity document.
func (c *Client) GetActivity(ctx context.Context, cred domain.Credential, objectID int64) (*domain.ActivityRecord, error) {
	body, err := c.get(ctx, cred, fmt.Sprintf("/activities/%d", objectID), nil)
	if err != nil {
		return nil, err
	}
	return &domain.ActivityRecord{
		ObjectID:  objectID,
		AthleteID: cred.AthleteID,
		Raw:       body,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// GetStreams fetches the requested time-series channels. Channels the device
// did not record are simply absent from the bundle; an activity with no
// streams at all yields an empty bundle, not an error.
func (c *Client) GetStreams(ctx context.Context, cred domain.Credential, objectID int64, channels []string) (*domain.StreamBundle, error) {
	if len(channels) == 0 {
		channels = DefaultStreamChannels
	}
	query := url.Values{}
	query.Set("keys", strings.Join(channels, ","))
	query.Set("key_by_type", "true")

	bundle := &domain.StreamBundle{
		ObjectID:  objectID,
		Channels:  map[string]json.RawMessage{},
		FetchedAt: time.Now().UTC(),
	}

	body, err := c.get(ctx, cred, fmt.Sprintf("/activities/%d/streams", objectID), query)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return bundle, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(body, &bundle.Channels); err != nil {
		return nil, fmt.Errorf("failed to decode streams for %d: %w", objectID, err)
	}
	return bundle, nil
}

// ActivitySummary is one entry from the athlete activity listing.
type ActivitySummary struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	SportType string `json:"sport_type"`
	Type      string `json:"type"`
	StartDate string `json:"start_date"`
}

// Sport returns the sport type, preferring the newer field.
func (a ActivitySummary) Sport() string {
	if a.SportType != "" {
		return a.SportType
	}
	return a.Type
}

// ListActivities fetches one page of the athlete's activity history. Pages
// start at 1. nextPage is 0 when the listing is exhausted. A rejected page
// position surfaces as ErrPageExpired so the caller can restart from the top
// instead of silently truncating.
func (c *Client) ListActivities(ctx context.Context, cred domain.Credential, page, perPage int) ([]ActivitySummary, int, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	body, err := c.get(ctx, cred, "/athlete/activities", query)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.status == http.StatusBadRequest {
			return nil, 0, fmt.Errorf("page %d: %w", page, ErrPageExpired)
		}
		return nil, 0, err
	}

	var activities []ActivitySummary
	if err := json.Unmarshal(body, &activities); err != nil {
		return nil, 0, fmt.Errorf("failed to decode activity listing: %w", err)
	}

	nextPage := 0
	if len(activities) == perPage {
		nextPage = page + 1
	}
	return activities, nextPage, nil
}

// statusError carries a non-2xx status for callers that need to branch on it.
type statusError struct {
	status int
	path   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned %d for %s", e.status, e.path)
}

func (c *Client) get(ctx context.Context, cred domain.Credential, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request %s failed: %w", path, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			rateLimitCounter.Inc()

			if attempt+1 >= c.budget {
				return nil, fmt.Errorf("%s: %w", path, ErrRateLimited)
			}
			wait := c.cooldown
			if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > 0 {
				wait = retryAfter
			}
			c.logger.Printf("rate limited on %s, cooling down %s (attempt %d/%d)", path, wait, attempt+1, c.budget)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				return nil, readErr
			}
			return body, nil
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, fmt.Errorf("%s: %w", path, ErrTokenExpired)
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		default:
			return nil, &statusError{status: resp.StatusCode, path: path}
		}
	}
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
