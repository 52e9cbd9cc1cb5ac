package planningcenter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestClient(srv *httptest.Server, opts ...ClientOption) *Client {
	opts = append([]ClientOption{
		WithHTTPClient(srv.Client()),
		WithLimiter(rate.NewLimiter(rate.Inf, 0)),
		WithBaseURL(srv.URL),
	}, opts...)
	return NewClient(opts...)
}

func TestFetchAllFollowsNextLinks(t *testing.T) {
	var hits atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("offset") {
		case "":
			fmt.Fprintf(w, `{"data":[{"type":"Team","id":"1"},{"type":"Team","id":"2"}],"links":{"next":"%s/people/v2/teams?offset=2"}}`, srv.URL)
		case "2":
			fmt.Fprint(w, `{"data":[{"type":"Team","id":"3"}],"links":{"next":"/people/v2/teams?offset=3"}}`)
		case "3":
			fmt.Fprint(w, `{"data":[{"type":"Team","id":"4"}],"links":{},"meta":{"total_count":4}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	rs, err := c.FetchAll(context.Background(), srv.URL+"/people/v2/teams", "secret")
	require.NoError(t, err)
	require.Len(t, rs, 4)
	for i, r := range rs {
		assert.Equal(t, fmt.Sprint(i+1), r.ID)
	}
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetchAllSinglePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	rs, err := newTestClient(srv).FetchAll(context.Background(), srv.URL+"/x", "secret")
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestFetchAllMissingToken(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FetchAll(context.Background(), srv.URL+"/x", "")
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, hits.Load())
}

func TestFetchAllHTTPError(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"errors":[{"detail":"forbidden"}]}`)
			return
		}
		fmt.Fprintf(w, `{"data":[{"type":"Person","id":"1"}],"links":{"next":"%s/x?page=2"}}`, srv.URL)
	}))
	defer srv.Close()

	rs, err := newTestClient(srv).FetchAll(context.Background(), srv.URL+"/x", "secret")
	assert.Nil(t, rs)
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusForbidden, he.StatusCode)
	assert.Contains(t, he.Body, "forbidden")
}

func TestFetchAllRepeatedLink(t *testing.T) {
	var hits atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintf(w, `{"data":[{"type":"Person","id":"1"}],"links":{"next":"%s/x"}}`, srv.URL)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FetchAll(context.Background(), srv.URL+"/x", "secret")
	var pe *PaginationError
	require.ErrorAs(t, err, &pe)
	assert.EqualValues(t, 1, hits.Load())
}

func TestFetchAllMaxPages(t *testing.T) {
	var n atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":[],"links":{"next":"%s/x?page=%d"}}`, srv.URL, n.Add(1))
	}))
	defer srv.Close()

	_, err := newTestClient(srv, WithMaxPages(3)).FetchAll(context.Background(), srv.URL+"/x", "secret")
	var pe *PaginationError
	require.ErrorAs(t, err, &pe)
	assert.EqualValues(t, 3, n.Load())
}

func TestFetchAllMalformedPages(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		transport bool
	}{
		{name: "invalid json", body: `{"data": [`, transport: true},
		{name: "data not an array", body: `{"data": {"id": "1"}}`},
		{name: "next not a string", body: `{"data": [], "links": {"next": 7}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv).FetchAll(context.Background(), srv.URL+"/x", "secret")
			require.Error(t, err)
			if tt.transport {
				var te *TransportError
				assert.ErrorAs(t, err, &te)
				return
			}
			var pe *PaginationError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestFetchAllTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newTestClient(srv, WithTimeout(20*time.Millisecond)).
		FetchAll(context.Background(), srv.URL+"/x", "secret")
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	var he *HTTPError
	assert.False(t, errors.As(err, &he))
}

func TestFetchAllTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	u := srv.URL
	srv.Close()

	_, err := NewClient(WithLimiter(rate.NewLimiter(rate.Inf, 0))).
		FetchAll(context.Background(), u+"/x", "secret")
	var te *TransportError
	assert.ErrorAs(t, err, &te)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	for range 5 {
		_, err := c.FetchAll(context.Background(), srv.URL+"/x", "secret")
		var he *HTTPError
		require.ErrorAs(t, err, &he)
	}
	_, err := c.FetchAll(context.Background(), srv.URL+"/x", "secret")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.EqualValues(t, 5, hits.Load())
}
