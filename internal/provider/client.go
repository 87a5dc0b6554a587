package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/fortuna/scoreline/internal/logging"
	"github.com/fortuna/scoreline/internal/metrics"
	"github.com/fortuna/scoreline/internal/store"
)

// ErrUpstream wraps transport failures, non-2xx statuses and non-zero
// response codes.
var ErrUpstream = errors.New("provider request failed")

const (
	endpointDetailLive = "detail_live"
	endpointDiary      = "diary"
)

// Provider is what the reconcilers need from the upstream feed.
type Provider interface {
	FetchDetailLive(ctx context.Context, matchID string) ([]LiveMatch, error)
	FetchDiary(ctx context.Context, date time.Time) ([]DiaryEntry, error)
}

// Config configures the HTTP client.
type Config struct {
	BaseURL string
	User    string
	Secret  string
	Timeout time.Duration
}

// Client talks to the upstream football data API.
type Client struct {
	baseURL    string
	user       string
	secret     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]

	// Now feeds minute computation.
	Now func() time.Time
}

var _ Provider = (*Client)(nil)

// NewClient creates a provider client guarded by a circuit breaker.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	log := logging.Component("provider")
	settings := gobreaker.Settings{
		Name:        "provider",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		user:       cfg.User,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    gobreaker.NewCircuitBreaker[[]byte](settings),
		Now:        time.Now,
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Err     string          `json:"err,omitempty"`
	Results json.RawMessage `json:"results"`
}

type diaryResult struct {
	ID            string `json:"id"`
	CompetitionID string `json:"competition_id"`
	HomeTeamID    string `json:"home_team_id"`
	AwayTeamID    string `json:"away_team_id"`
	StatusID      int    `json:"status_id"`
	MatchTime     int64  `json:"match_time"`
	HomeScores    []int  `json:"home_scores"`
	AwayScores    []int  `json:"away_scores"`
}

// FetchDetailLive returns the live state for a match. Entries whose score
// array fails validation are skipped; a match missing from the result means
// the provider no longer reports it as live.
func (c *Client) FetchDetailLive(ctx context.Context, matchID string) ([]LiveMatch, error) {
	params := url.Values{"uuid": {matchID}}
	body, err := c.get(ctx, endpointDetailLive, "/match/detail_live", params)
	if err != nil {
		return nil, err
	}

	var results []matchPayload
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("%w: decoding detail_live results: %v", ErrMalformed, err)
	}

	now := c.Now()
	log := logging.Component("provider")

	out := make([]LiveMatch, 0, len(results))
	for _, r := range results {
		lm, err := r.toLiveMatch(now)
		if err != nil {
			log.Warn().Err(err).Str("match_id", r.rawID()).Msg("skipping malformed live entry")
			continue
		}
		if lm.MalformedIncidents > 0 {
			log.Warn().Str("match_id", lm.ID).Int("dropped", lm.MalformedIncidents).Msg("dropped malformed incidents")
		}
		out = append(out, lm)
	}
	return out, nil
}

// FetchDiary returns the schedule for one provider-local calendar date.
func (c *Client) FetchDiary(ctx context.Context, date time.Time) ([]DiaryEntry, error) {
	params := url.Values{"date": {date.Format("20060102")}}
	body, err := c.get(ctx, endpointDiary, "/match/diary", params)
	if err != nil {
		return nil, err
	}

	var results []diaryResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("%w: decoding diary results: %v", ErrMalformed, err)
	}

	out := make([]DiaryEntry, 0, len(results))
	for _, r := range results {
		if r.ID == "" || r.MatchTime <= 0 {
			continue
		}
		entry := DiaryEntry{
			ID:            r.ID,
			Status:        store.StatusID(r.StatusID),
			MatchTime:     time.Unix(r.MatchTime, 0),
			HomeTeamID:    r.HomeTeamID,
			AwayTeamID:    r.AwayTeamID,
			CompetitionID: r.CompetitionID,
		}
		if len(r.HomeScores) > 0 && len(r.AwayScores) > 0 {
			entry.Score = store.Score{
				Home: ComponentsFromSlice(r.HomeScores),
				Away: ComponentsFromSlice(r.AwayScores),
			}
			entry.HasScore = true
		}
		out = append(out, entry)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values) (json.RawMessage, error) {
	if c.user != "" {
		params.Set("user", c.user)
		params.Set("secret", c.secret)
	}
	reqURL := c.baseURL + path + "?" + params.Encode()

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, reqURL)
	})
	metrics.ProviderLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ProviderRequests.WithLabelValues(endpoint, "error").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, endpoint, err)
		}
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		metrics.ProviderRequests.WithLabelValues(endpoint, "malformed").Inc()
		return nil, fmt.Errorf("%w: decoding %s envelope: %v", ErrMalformed, endpoint, err)
	}
	if env.Code != 0 {
		metrics.ProviderRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%w: %s returned code %d: %s", ErrUpstream, endpoint, env.Code, env.Err)
	}

	metrics.ProviderRequests.WithLabelValues(endpoint, "ok").Inc()
	if len(env.Results) == 0 || string(env.Results) == "null" {
		return json.RawMessage("[]"), nil
	}
	return env.Results, nil
}

func (c *Client) do(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	return body, nil
}
