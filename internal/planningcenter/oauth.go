package planningcenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
	"pcanalytics.shikanime.studio/internal/config"
)

// AccessToken is a bearer token issued by the authorization code exchange.
// ExpiresAt is zero when the provider did not report a lifetime.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the token lifetime has elapsed at now.
func (t *AccessToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// TokenStore persists the access token across sessions.
// Restore returns nil without error when no token was stored.
type TokenStore interface {
	Restore(ctx context.Context) (*AccessToken, error)
	Set(ctx context.Context, t *AccessToken) error
	Clear(ctx context.Context) error
}

// OAuthEndpoint returns the OAuth endpoints served under the provider root.
func OAuthEndpoint(base string) oauth2.Endpoint {
	base = strings.TrimRight(base, "/")
	return oauth2.Endpoint{
		AuthURL:   base + "/oauth/authorize",
		TokenURL:  base + "/oauth/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// BuildAuthorizationURL returns the provider authorization URL for the code grant.
func BuildAuthorizationURL(base, clientID, redirectURI string, scopes []string) string {
	c := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Scopes:      scopes,
		Endpoint:    OAuthEndpoint(base),
	}
	return c.AuthCodeURL("")
}

// ExchangeCode trades an authorization code for an access token at tokenURL.
// Failures are returned as *AuthError carrying a message fit for display.
func ExchangeCode(
	ctx context.Context,
	hc *http.Client,
	tokenURL, code, clientID, clientSecret, redirectURI string,
) (*AccessToken, error) {
	c := oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	tok, err := c.Exchange(ctx, code)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &AuthError{
				Message: "token exchange timed out",
				Err:     &TimeoutError{URL: tokenURL, Err: err},
			}
		}
		return nil, exchangeError(tokenURL, err)
	}
	return &AccessToken{Value: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
}

func exchangeError(tokenURL string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		msg := re.ErrorDescription
		if msg == "" {
			msg = strings.TrimSpace(string(re.Body))
		}
		if msg == "" && re.Response != nil {
			msg = re.Response.Status
		}
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &AuthError{
			Message: msg,
			Err:     &HTTPError{URL: tokenURL, StatusCode: status, Body: string(re.Body)},
		}
	}
	cause := classifyTransport(tokenURL, err)
	return &AuthError{
		Message: fmt.Sprintf("token exchange failed: %v", err),
		Err:     cause,
	}
}

// OAuthFlow drives the authorization code grant and owns the stored token.
type OAuthFlow struct {
	store   TokenStore
	cfg     oauth2.Config
	hc      *http.Client
	timeout time.Duration
}

// OAuthOptions configures an OAuthFlow.
type OAuthOptions struct {
	clientID     string
	clientSecret string
	redirectURI  string
	scopes       []string
	base         string
	hc           *http.Client
	timeout      time.Duration
}

// OAuthOption applies a configuration to OAuthOptions.
type OAuthOption func(*OAuthOptions)

// WithCredentials sets the OAuth application credentials.
func WithCredentials(clientID, clientSecret string) OAuthOption {
	return func(o *OAuthOptions) {
		o.clientID = clientID
		o.clientSecret = clientSecret
	}
}

// WithRedirectURI sets the callback URI registered with the provider.
func WithRedirectURI(uri string) OAuthOption {
	return func(o *OAuthOptions) { o.redirectURI = uri }
}

// WithScopes sets the requested scopes.
func WithScopes(scopes ...string) OAuthOption {
	return func(o *OAuthOptions) { o.scopes = scopes }
}

// WithProviderURL sets the root the OAuth endpoints are served under.
func WithProviderURL(base string) OAuthOption {
	return func(o *OAuthOptions) { o.base = base }
}

// WithOAuthHTTPClient sets the HTTP client used for the token exchange.
func WithOAuthHTTPClient(hc *http.Client) OAuthOption {
	return func(o *OAuthOptions) { o.hc = hc }
}

// WithExchangeTimeout bounds the token exchange request.
func WithExchangeTimeout(d time.Duration) OAuthOption {
	return func(o *OAuthOptions) { o.timeout = d }
}

// NewOAuthFlow constructs an OAuthFlow persisting tokens into store.
func NewOAuthFlow(store TokenStore, opts ...OAuthOption) *OAuthFlow {
	o := OAuthOptions{
		redirectURI: config.DefaultRedirectURI,
		scopes:      strings.Fields(config.DefaultScopes),
		base:        config.DefaultAPIBaseURL,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.hc == nil {
		o.hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if o.clientID == "" {
		slog.Warn("OAuth client id is not configured")
	}
	return &OAuthFlow{
		store: store,
		cfg: oauth2.Config{
			ClientID:     o.clientID,
			ClientSecret: o.clientSecret,
			RedirectURL:  o.redirectURI,
			Scopes:       o.scopes,
			Endpoint:     OAuthEndpoint(o.base),
		},
		hc:      o.hc,
		timeout: o.timeout,
	}
}

// OAuthFlowForConfig constructs an OAuthFlow from configuration.
func OAuthFlowForConfig(cfg *config.Config, store TokenStore) *OAuthFlow {
	return NewOAuthFlow(
		store,
		WithCredentials(cfg.GetClientID(), cfg.GetClientSecret()),
		WithRedirectURI(cfg.GetRedirectURI()),
		WithScopes(cfg.GetScopes()...),
		WithProviderURL(cfg.GetAPIBaseURL()),
		WithExchangeTimeout(cfg.GetRequestTimeout()),
	)
}

// AuthorizationURL returns the URL the user is sent to for consent.
func (f *OAuthFlow) AuthorizationURL() string {
	return f.cfg.AuthCodeURL("")
}

// ExchangeCode trades code for an access token and stores it.
// The stored token is left untouched on failure.
func (f *OAuthFlow) ExchangeCode(ctx context.Context, code string) (*AccessToken, error) {
	ctx, span := tracer.Start(ctx, "OAuthFlow.ExchangeCode")
	defer span.End()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	tok, err := ExchangeCode(
		ctx,
		f.hc,
		f.cfg.Endpoint.TokenURL,
		code,
		f.cfg.ClientID,
		f.cfg.ClientSecret,
		f.cfg.RedirectURL,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.WarnContext(ctx, "Token exchange failed", "error", err)
		return nil, err
	}
	if err := f.store.Set(ctx, tok); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}
	slog.InfoContext(ctx, "Authenticated with Planning Center", "expires_at", tok.ExpiresAt)
	return tok, nil
}

// Logout clears the stored token. Calling it without a stored token is a no-op.
func (f *OAuthFlow) Logout(ctx context.Context) error {
	if err := f.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear access token: %w", err)
	}
	return nil
}

// RestoreSession reports whether a usable token survives from a previous session.
// The token is trusted without a provider round trip; an expired token is cleared.
func (f *OAuthFlow) RestoreSession(ctx context.Context) (bool, error) {
	tok, err := f.store.Restore(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to restore access token: %w", err)
	}
	if tok == nil || tok.Value == "" {
		return false, nil
	}
	if tok.Expired(time.Now()) {
		slog.InfoContext(ctx, "Stored access token expired", "expires_at", tok.ExpiresAt)
		if err := f.store.Clear(ctx); err != nil {
			return false, fmt.Errorf("failed to clear expired access token: %w", err)
		}
		return false, nil
	}
	return true, nil
}
