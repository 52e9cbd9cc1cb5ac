package planningcenter

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
	"pcanalytics.shikanime.studio/internal/config"
)

var tracer = otel.Tracer("pcanalytics/planningcenter")

const (
	// DefaultTimeout bounds a single page request.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxPages stops a collection walk that never terminates.
	DefaultMaxPages = 1000

	maxBodySize = 8 << 20
)

// NewLimiter returns a rate limiter tuned for the Planning Center API limit of
// 100 requests per 20 seconds. A disabled limiter never blocks.
func NewLimiter(enabled bool) *rate.Limiter {
	if !enabled {
		slog.Warn("Planning Center rate limiter disabled")
		return rate.NewLimiter(rate.Inf, 0)
	}
	slog.Info("Created Planning Center rate limiter", "rate", "100 requests/20s", "burst", 100)
	return rate.NewLimiter(rate.Every(200*time.Millisecond), 100)
}

// Client fetches JSON:API collections from Planning Center.
type Client struct {
	hc       *http.Client
	l        *rate.Limiter
	cb       *gobreaker.CircuitBreaker[[]byte]
	base     string
	timeout  time.Duration
	maxPages int
}

// ClientOptions configures the Planning Center client.
type ClientOptions struct {
	hc       *http.Client
	limiter  *rate.Limiter
	base     string
	timeout  time.Duration
	maxPages int
}

// ClientOption applies a configuration to ClientOptions.
type ClientOption func(*ClientOptions)

// WithHTTPClient sets the HTTP client used for page requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *ClientOptions) { o.hc = hc }
}

// WithLimiter sets the rate limiter used for API calls.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(o *ClientOptions) { o.limiter = l }
}

// WithBaseURL sets the API root resource URLs are built from.
func WithBaseURL(base string) ClientOption {
	return func(o *ClientOptions) { o.base = base }
}

// WithTimeout bounds each page request; zero disables the per-request deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) { o.timeout = d }
}

// WithMaxPages caps the number of pages followed for one collection.
func WithMaxPages(n int) ClientOption {
	return func(o *ClientOptions) { o.maxPages = n }
}

// NewClient constructs a Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	o := ClientOptions{
		base:     config.DefaultAPIBaseURL,
		timeout:  DefaultTimeout,
		maxPages: DefaultMaxPages,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.hc == nil {
		o.hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if o.limiter == nil {
		o.limiter = NewLimiter(true)
	}
	return &Client{
		hc:       o.hc,
		l:        o.limiter,
		cb:       newBreaker(),
		base:     o.base,
		timeout:  o.timeout,
		maxPages: o.maxPages,
	}
}

// NewClientForConfig constructs a Client from configuration.
func NewClientForConfig(cfg *config.Config) *Client {
	return NewClient(
		WithBaseURL(cfg.GetAPIBaseURL()),
		WithTimeout(cfg.GetRequestTimeout()),
		WithLimiter(NewLimiter(!cfg.GetRateLimitDisabled())),
	)
}

// BaseURL returns the API root the client builds resource URLs from.
func (c *Client) BaseURL() string { return c.base }

// ResourceURL returns the first-page URL of a domain on this client's API root.
func (c *Client) ResourceURL(d Domain) (string, error) { return ResourceURL(c.base, d) }

func newBreaker() *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "planningcenter",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		// Client errors say nothing about provider health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var he *HTTPError
			if errors.As(err, &he) {
				return he.StatusCode < 500 && he.StatusCode != http.StatusTooManyRequests
			}
			return false
		},
	})
}
