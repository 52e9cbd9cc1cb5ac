// Package dashboard is the session context: it owns the token, the preferences,
// the collection cache and the headline metrics, and runs the sync pipelines.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"pcanalytics.shikanime.studio/internal/cache"
	"pcanalytics.shikanime.studio/internal/config"
	"pcanalytics.shikanime.studio/internal/database"
	"pcanalytics.shikanime.studio/internal/planningcenter"
	"pcanalytics.shikanime.studio/internal/session"
)

var tracer = otel.Tracer("pcanalytics/dashboard")

// LoginPath is where a failed or missing authentication sends the user.
const LoginPath = "/login"

// DefaultTriggerTimeout bounds a background page load.
const DefaultTriggerTimeout = 5 * time.Minute

// Dashboard is the single session of a deployment.
type Dashboard struct {
	client  *planningcenter.Client
	flow    *planningcenter.OAuthFlow
	tokens  *session.TokenStore
	prefs   *session.Preferences
	cache   *cache.CollectionCache
	slots   session.SlotStore
	closer  io.Closer
	timeout time.Duration
	now     func() time.Time

	triggers   sync.WaitGroup
	refreshing atomic.Int64
	refreshGen atomic.Uint64

	mu         sync.RWMutex
	summary    summary
	summaryGen uint64
}

// Options configures a Dashboard.
type Options struct {
	client       []planningcenter.ClientOption
	oauth        []planningcenter.OAuthOption
	syncInterval string
	timeout      time.Duration
	closer       io.Closer
	now          func() time.Time
}

// Option applies a configuration to Options.
type Option func(*Options)

// WithClientOptions forwards Planning Center client options.
func WithClientOptions(opts ...planningcenter.ClientOption) Option {
	return func(o *Options) { o.client = append(o.client, opts...) }
}

// WithOAuthOptions forwards OAuth flow options.
func WithOAuthOptions(opts ...planningcenter.OAuthOption) Option {
	return func(o *Options) { o.oauth = append(o.oauth, opts...) }
}

// WithDefaultSyncInterval sets the sync interval used until the user stores one.
func WithDefaultSyncInterval(minutes string) Option {
	return func(o *Options) { o.syncInterval = minutes }
}

// WithTriggerTimeout bounds background page loads.
func WithTriggerTimeout(d time.Duration) Option {
	return func(o *Options) { o.timeout = d }
}

// WithCloser registers a resource released by Close.
func WithCloser(c io.Closer) Option {
	return func(o *Options) { o.closer = c }
}

// WithClock overrides the wall clock used for metrics and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.now = now }
}

// NewForConfig builds a Dashboard from configuration. Slots live in Postgres
// when a DSN is configured and in memory otherwise.
func NewForConfig(cfg *config.Config) (*Dashboard, error) {
	var slots session.SlotStore
	var opts []Option
	if cfg.HasDsn() {
		db, err := database.NewForConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		slots = db
		opts = append(opts, WithCloser(db))
	} else {
		slog.Warn("No DSN configured, session state will not survive restarts")
		slots = session.NewMemoryStore()
	}
	opts = append(opts,
		WithClientOptions(
			planningcenter.WithBaseURL(cfg.GetAPIBaseURL()),
			planningcenter.WithTimeout(cfg.GetRequestTimeout()),
			planningcenter.WithLimiter(planningcenter.NewLimiter(!cfg.GetRateLimitDisabled())),
		),
		WithOAuthOptions(
			planningcenter.WithCredentials(cfg.GetClientID(), cfg.GetClientSecret()),
			planningcenter.WithRedirectURI(cfg.GetRedirectURI()),
			planningcenter.WithScopes(cfg.GetScopes()...),
			planningcenter.WithProviderURL(cfg.GetAPIBaseURL()),
			planningcenter.WithExchangeTimeout(cfg.GetRequestTimeout()),
		),
		WithDefaultSyncInterval(cfg.GetSyncInterval()),
	)
	return New(slots, opts...), nil
}

// New constructs an empty, unauthenticated Dashboard over slots.
func New(slots session.SlotStore, opts ...Option) *Dashboard {
	o := Options{
		syncInterval: config.DefaultSyncInterval,
		timeout:      DefaultTriggerTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	tokens := session.NewTokenStore(slots)
	return &Dashboard{
		client:  planningcenter.NewClient(o.client...),
		flow:    planningcenter.NewOAuthFlow(tokens, o.oauth...),
		tokens:  tokens,
		prefs:   session.NewPreferences(slots, o.syncInterval),
		cache:   cache.New(),
		slots:   slots,
		closer:  o.closer,
		timeout: o.timeout,
		now:     o.now,
		summary: initialSummary(),
	}
}

// Cache exposes the collection cache for read-only use.
func (d *Dashboard) Cache() *cache.CollectionCache { return d.cache }

// Preferences exposes the user's preferences.
func (d *Dashboard) Preferences() *session.Preferences { return d.prefs }

// Close waits for background loads and releases storage.
func (d *Dashboard) Close() error {
	d.triggers.Wait()
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping verifies that durable storage is reachable.
func (d *Dashboard) Ping(ctx context.Context) error {
	p, ok := d.slots.(pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("datastore ping failed: %w", err)
	}
	return nil
}

// AuthState is the outcome of an authentication check.
type AuthState string

const (
	Authenticated   AuthState = "authenticated"
	Unauthenticated AuthState = "unauthenticated"
	AuthFailed      AuthState = "error"
)

// AuthResult tells the caller where the session stands. The caller decides
// where to navigate; RetryURL is set for failures.
type AuthResult struct {
	State    AuthState `json:"state"`
	Message  string    `json:"error,omitempty"`
	RetryURL string    `json:"retry_url,omitempty"`
}

func failed(msg string) AuthResult {
	return AuthResult{State: AuthFailed, Message: msg, RetryURL: LoginPath}
}

// AuthorizationURL returns the provider consent URL.
func (d *Dashboard) AuthorizationURL() string { return d.flow.AuthorizationURL() }

// Authenticate exchanges an authorization code for a token.
func (d *Dashboard) Authenticate(ctx context.Context, code string) AuthResult {
	ctx, span := tracer.Start(ctx, "Dashboard.Authenticate")
	defer span.End()
	if code == "" {
		return failed("Authorization code not found.")
	}
	if _, err := d.flow.ExchangeCode(ctx, code); err != nil {
		var ae *planningcenter.AuthError
		if errors.As(err, &ae) {
			return failed(ae.Message)
		}
		return failed(err.Error())
	}
	return AuthResult{State: Authenticated}
}

// Logout clears the token and every cached snapshot.
func (d *Dashboard) Logout(ctx context.Context) error {
	if err := d.flow.Logout(ctx); err != nil {
		return err
	}
	d.cache.Reset()
	d.mu.Lock()
	d.summary = initialSummary()
	d.summaryGen = d.refreshGen.Load()
	d.mu.Unlock()
	slog.InfoContext(ctx, "Logged out")
	return nil
}

// AuthStatus reports the in-memory authentication state.
func (d *Dashboard) AuthStatus() AuthResult {
	if d.tokens.Authenticated() {
		return AuthResult{State: Authenticated}
	}
	return AuthResult{State: Unauthenticated}
}

// RestoreSession loads a token persisted by a previous run.
func (d *Dashboard) RestoreSession(ctx context.Context) (AuthResult, error) {
	ok, err := d.flow.RestoreSession(ctx)
	if err != nil {
		return failed("Could not restore the previous session."), err
	}
	if !ok {
		return AuthResult{State: Unauthenticated}, nil
	}
	slog.InfoContext(ctx, "Restored previous session")
	return AuthResult{State: Authenticated}, nil
}

// bearer returns the current access token or ErrUnauthenticated.
func (d *Dashboard) bearer(ctx context.Context) (string, error) {
	tok := d.tokens.Get()
	if tok == nil || tok.Value == "" {
		return "", planningcenter.ErrUnauthenticated
	}
	if tok.Expired(d.now()) {
		slog.InfoContext(ctx, "Access token expired", "expires_at", tok.ExpiresAt)
		if err := d.tokens.Clear(ctx); err != nil {
			slog.WarnContext(ctx, "Failed to clear expired token", "error", err)
		}
		return "", planningcenter.ErrUnauthenticated
	}
	return tok.Value, nil
}
