package planningcenter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"pcanalytics.shikanime.studio/internal/encoding"
)

// FetchAll walks a paginated collection starting at initialURL and returns every
// page's records in page order. Any failing page abandons the whole walk.
func (c *Client) FetchAll(
	ctx context.Context,
	initialURL, token string,
) ([]encoding.Resource, error) {
	ctx, span := tracer.Start(
		ctx,
		"Client.FetchAll",
		trace.WithAttributes(attribute.String("url", initialURL)),
	)
	defer span.End()

	rs, pages, err := c.fetchAll(ctx, initialURL, token)
	span.SetAttributes(attribute.Int("pages", pages))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("records", len(rs)))
	slog.DebugContext(ctx, "Fetched collection", "url", initialURL, "pages", pages, "records", len(rs))
	return rs, nil
}

func (c *Client) fetchAll(
	ctx context.Context,
	initialURL, token string,
) ([]encoding.Resource, int, error) {
	if token == "" {
		return nil, 0, &AuthError{Message: "missing access token", Err: ErrUnauthenticated}
	}
	current, err := url.Parse(initialURL)
	if err != nil {
		return nil, 0, &PaginationError{URL: initialURL, Reason: "invalid page URL", Err: err}
	}

	visited := make(map[string]struct{})
	var out []encoding.Resource
	pages := 0
	for current != nil {
		u := current.String()
		if _, ok := visited[u]; ok {
			return nil, pages, &PaginationError{URL: u, Reason: "next link repeats a visited page"}
		}
		if c.maxPages > 0 && pages >= c.maxPages {
			return nil, pages, &PaginationError{
				URL:    u,
				Reason: fmt.Sprintf("exceeded %d pages", c.maxPages),
			}
		}
		visited[u] = struct{}{}

		doc, err := c.fetchPage(ctx, u, token)
		pages++
		if err != nil {
			return nil, pages, err
		}
		rs, err := doc.Resources()
		if err != nil {
			return nil, pages, &PaginationError{URL: u, Reason: "malformed data member", Err: err}
		}
		out = append(out, rs...)

		next, err := doc.NextURL(current)
		if err != nil {
			return nil, pages, &PaginationError{URL: u, Reason: "malformed next link", Err: err}
		}
		current = next
	}
	return out, pages, nil
}

func (c *Client) fetchPage(ctx context.Context, u, token string) (*encoding.Document, error) {
	if err := c.l.Wait(ctx); err != nil {
		return nil, classifyTransport(u, fmt.Errorf("rate limiter wait failed: %w", err))
	}
	body, err := c.cb.Execute(func() ([]byte, error) { return c.get(ctx, u, token) })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransportError{URL: u, Err: err}
		}
		return nil, err
	}
	doc, err := encoding.DecodeDocument(body)
	if err != nil {
		return nil, &TransportError{URL: u, Err: fmt.Errorf("decode page: %w", err)}
	}
	return doc, nil
}

func (c *Client) get(ctx context.Context, u, token string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &TransportError{URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, classifyTransport(u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, classifyTransport(u, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{URL: u, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
