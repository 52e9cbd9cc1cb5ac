// Package pctest provides an in-process fake of the Planning Center API for tests.
package pctest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	"pcanalytics.shikanime.studio/internal/planningcenter"
)

// Fixture credentials accepted by the fake provider.
const (
	ClientID     = "app-id"
	ClientSecret = "app-secret"
	Code         = "good-code"
	AccessToken  = "tok-1"
)

// Paths served by the fake provider.
const (
	PeoplePath           = "/people/v2/people"
	TeamsPath            = "/people/v2/teams"
	TeamPositionsPath    = "/people/v2/team_positions"
	FieldDefinitionsPath = "/people/v2/field_definitions"
	ServiceTypesPath     = "/services/v2/service_types"
	PlansPath            = "/services/v2/plans"
	TokenPath            = "/oauth/token"
)

// pages holds the JSON:API data arrays served per path, one entry per page.
var pages = map[string][]string{
	PeoplePath: {
		`[{"type":"Person","id":"p1","attributes":{"name":"Alice","status":"active","avatar":"https://example.com/a.png","created_at":"2026-10-10T09:00:00Z"}}]`,
		`[{"type":"Person","id":"p2","attributes":{"name":"Bob","status":"active","avatar":"https://example.com/b.png","created_at":"2020-01-01T09:00:00Z"}}]`,
	},
	TeamsPath: {
		`[{"type":"Team","id":"t1","attributes":{"name":"Worship"}},{"type":"Team","id":"t2","attributes":{"name":"Kids"}}]`,
	},
	TeamPositionsPath: {
		`[` +
			`{"type":"TeamPosition","id":"tp1","relationships":{"team":{"data":{"type":"Team","id":"t1"}},"person":{"data":{"type":"Person","id":"p1"}}}},` +
			`{"type":"TeamPosition","id":"tp2","relationships":{"team":{"data":{"type":"Team","id":"t1"}},"person":{"data":{"type":"Person","id":"p2"}}}},` +
			`{"type":"TeamPosition","id":"tp3","relationships":{"team":{"data":{"type":"Team","id":"t2"}},"person":{"data":{"type":"Person","id":"p2"}}}},` +
			`{"type":"TeamPosition","id":"tp4","relationships":{"team":{"data":{"type":"Team","id":"t2"}},"person":{"data":null}}}` +
			`]`,
	},
	FieldDefinitionsPath: {
		`[{"type":"FieldDefinition","id":"fd2","attributes":{"name":"Shirt size"}},{"type":"FieldDefinition","id":"fd1","attributes":{"name":"Allergies"}}]`,
	},
	ServiceTypesPath: {
		`[{"type":"ServiceType","id":"st1","attributes":{"name":"Sunday Service"}}]`,
	},
	PlansPath: {
		`[` +
			`{"type":"Plan","id":"pl1","attributes":{"series_title":"Advent","title":"Week 1","dates":"December 6, 2099","short_dates":"Dec 6","total_needed":5,"total_confirmed":3,"needed_positions_count":2,"sort_date":"2099-12-06T10:00:00Z"},"relationships":{"service_type":{"data":{"type":"ServiceType","id":"st1"}}}},` +
			`{"type":"Plan","id":"pl2","attributes":{"dates":"December 13, 2099","short_dates":"Dec 13","total_needed":4,"total_confirmed":3,"needed_positions_count":1},"relationships":{"service_type":{"data":{"type":"ServiceType","id":"st1"}}}}` +
			`]`,
	},
}

// Server is a fake Planning Center API.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	status map[string]int
	hits   map[string]int
}

// NewServer starts a fake provider. Close it when done.
func NewServer() *Server {
	s := &Server{status: map[string]int{}, hits: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Fail makes path answer with code. A zero code restores normal answers.
func (s *Server) Fail(path string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code == 0 {
		delete(s.status, path)
		return
	}
	s.status[path] = code
}

// Hits returns how many requests path received.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// ClientOptions points a planningcenter.Client at the fake without rate limiting.
func (s *Server) ClientOptions() []planningcenter.ClientOption {
	return []planningcenter.ClientOption{
		planningcenter.WithHTTPClient(s.Client()),
		planningcenter.WithBaseURL(s.URL),
		planningcenter.WithLimiter(rate.NewLimiter(rate.Inf, 0)),
	}
}

// OAuthOptions points an OAuthFlow at the fake.
func (s *Server) OAuthOptions() []planningcenter.OAuthOption {
	return []planningcenter.OAuthOption{
		planningcenter.WithCredentials(ClientID, ClientSecret),
		planningcenter.WithRedirectURI("http://localhost:3000/callback"),
		planningcenter.WithProviderURL(s.URL),
		planningcenter.WithOAuthHTTPClient(s.Client()),
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	code := s.status[r.URL.Path]
	s.mu.Unlock()

	if code != 0 {
		w.WriteHeader(code)
		fmt.Fprintf(w, `{"errors":[{"status":"%d"}]}`, code)
		return
	}
	if r.URL.Path == TokenPath {
		s.token(w, r)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+AccessToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	data, ok := pages[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	page := 0
	if off := r.URL.Query().Get("offset"); off != "" {
		if _, err := fmt.Sscanf(off, "%d", &page); err != nil || page >= len(data) {
			http.NotFound(w, r)
			return
		}
	}
	links := "{}"
	if page+1 < len(data) {
		links = fmt.Sprintf(`{"next":"%s?offset=%d"}`, r.URL.Path, page+1)
	}
	w.Header().Set("Content-Type", "application/vnd.api+json")
	fmt.Fprintf(w, `{"data":%s,"links":%s}`, data[page], links)
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := r.ParseForm(); err != nil ||
		r.PostForm.Get("client_id") != ClientID ||
		r.PostForm.Get("client_secret") != ClientSecret {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_client","error_description":"Client authentication failed."}`)
		return
	}
	if strings.TrimSpace(r.PostForm.Get("code")) != Code {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"The provided authorization grant is invalid."}`)
		return
	}
	fmt.Fprintf(w, `{"access_token":%q,"token_type":"bearer"}`, AccessToken)
}
