package tmdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/kalambet/cinematch/internal/metrics"
)

// ErrTransport marks network, timeout, non-2xx, and open-breaker failures.
// ErrParse marks responses that arrived but could not be decoded.
var (
	ErrTransport = errors.New("transport failure")
	ErrParse     = errors.New("parse failure")
)

const maxResponseSize = 4 << 20 // 4MB

// Options configures a Client. Zero values fall back to safe defaults.
type Options struct {
	BaseURL       string
	Token         string
	Language      string
	Timeout       time.Duration // per request; defaults to 10s
	RatePerSecond float64       // client-side throttle; <= 0 disables it
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client talks to the movie database API with bearer authentication,
// client-side throttling, a per-call timeout, and a circuit breaker.
type Client struct {
	baseURL    string
	token      string
	language   string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
}

// New creates a Client from opts.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	burst := 1
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		burst = max(1, int(opts.RatePerSecond))
	}

	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		language:   opts.Language,
		timeout:    timeout,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
	c.cb = newBreaker("movie-api", logger)
	return c
}

// newBreaker opens after 60% failures over at least 20 requests and probes
// again after 30 seconds. While open every call fails fast with ErrTransport,
// which the harvester treats like any other skipped unit.
func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// statusError is a non-2xx answer from the API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// getJSON issues an authenticated GET and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.MovieAPIRequests.WithLabelValues(endpoint, "transport").Inc()
		return fmt.Errorf("%w: waiting for rate limiter: %v", ErrTransport, err)
	}

	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.fetch(ctx, path, query)
	})
	if err != nil {
		outcome := "transport"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "rejected"
		}
		metrics.MovieAPIRequests.WithLabelValues(endpoint, outcome).Inc()
		return fmt.Errorf("%w: GET %s: %v", ErrTransport, path, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		metrics.MovieAPIRequests.WithLabelValues(endpoint, "parse").Inc()
		return fmt.Errorf("%w: decoding %s: %v", ErrParse, path, err)
	}
	metrics.MovieAPIRequests.WithLabelValues(endpoint, "ok").Inc()
	return nil
}

func (c *Client) fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// DiscoverQuery holds the fixed constraints applied to every listing page.
type DiscoverQuery struct {
	IncludeAdult   bool
	MinVoteCount   int
	ReleaseDateGTE string
	SortBy         string
}

func (q DiscoverQuery) values(language string, page int) url.Values {
	v := url.Values{}
	v.Set("include_adult", strconv.FormatBool(q.IncludeAdult))
	if language != "" {
		v.Set("language", language)
	}
	v.Set("page", strconv.Itoa(page))
	if q.SortBy != "" {
		v.Set("sort_by", q.SortBy)
	}
	if q.MinVoteCount > 0 {
		v.Set("vote_count.gte", strconv.Itoa(q.MinVoteCount))
	}
	if q.ReleaseDateGTE != "" {
		v.Set("primary_release_date.gte", q.ReleaseDateGTE)
	}
	return v
}

// Discover fetches one 1-indexed listing page.
func (c *Client) Discover(ctx context.Context, page int, q DiscoverQuery) (*DiscoverPage, error) {
	var p DiscoverPage
	if err := c.getJSON(ctx, "discover", "/discover/movie", q.values(c.language, page), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Credits fetches the cast list of one movie.
func (c *Client) Credits(ctx context.Context, movieID int64) (*Credits, error) {
	v := url.Values{}
	if c.language != "" {
		v.Set("language", c.language)
	}
	var cr Credits
	path := "/movie/" + strconv.FormatInt(movieID, 10) + "/credits"
	if err := c.getJSON(ctx, "credits", path, v, &cr); err != nil {
		return nil, err
	}
	return &cr, nil
}

// Genres returns the genre id to display name table in the client language.
func (c *Client) Genres(ctx context.Context) (map[int]string, error) {
	v := url.Values{}
	if c.language != "" {
		v.Set("language", c.language)
	}
	var gl genreList
	if err := c.getJSON(ctx, "genres", "/genre/movie/list", v, &gl); err != nil {
		return nil, err
	}
	names := make(map[int]string, len(gl.Genres))
	for _, g := range gl.Genres {
		names[g.ID] = g.Name
	}
	return names, nil
}
