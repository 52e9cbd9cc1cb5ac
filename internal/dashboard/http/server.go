// Package http serves the dashboard session as a JSON API with a gRPC health endpoint.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"time"

	"connectrpc.com/connect"
	grpchealth "connectrpc.com/grpchealth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"pcanalytics.shikanime.studio/internal/dashboard"
	"pcanalytics.shikanime.studio/internal/encoding"
	"pcanalytics.shikanime.studio/internal/planningcenter"
	"pcanalytics.shikanime.studio/internal/session"
)

// ServiceName is the service reported by the health endpoint.
const ServiceName = "pcanalytics.v1.DashboardService"

const shutdownTimeout = 10 * time.Second

// Server holds the router and the session it serves.
type Server struct {
	d      *dashboard.Dashboard
	sched  *dashboard.Scheduler
	router *chi.Mux
}

// Option configures a Server.
type Option func(*Server)

// WithScheduler reschedules s whenever the sync interval preference changes.
func WithScheduler(s *dashboard.Scheduler) Option {
	return func(srv *Server) { srv.sched = s }
}

// NewServer mounts the dashboard API and the gRPC health handler.
func NewServer(d *dashboard.Dashboard, opts ...Option) *Server {
	s := &Server{d: d, router: chi.NewRouter()}
	for _, opt := range opts {
		opt(s)
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get(dashboard.LoginPath, s.login)
	r.Get("/callback", s.callback)
	r.Post("/logout", s.logout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.session)
		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/dashboard", s.dashboardView)
			r.Get("/people", s.peopleView)
			r.Get("/services", s.servicesView)
			r.Get("/settings", s.settingsView)
			r.Post("/settings/theme/toggle", s.toggleTheme)
			r.Put("/settings/sync-interval", s.setSyncInterval)
			r.Post("/settings/fields/{id}/toggle", s.toggleField)
			r.Post("/sync", s.sync)
		})
	})

	hpath, hhandler := grpchealth.NewHandler(HealthChecker{d: d})
	r.Handle(hpath+"*", hhandler)
	return s
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() stdhttp.Handler {
	return otelhttp.NewHandler(s.router, "http.server")
}

// Close releases the dashboard session.
func (s *Server) Close() error {
	return s.d.Close()
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &stdhttp.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "server starting", "addr", addr)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, stdhttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.InfoContext(ctx, "server shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := hs.Shutdown(sctx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	}
}

func accessLogger(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			slog.InfoContext(r.Context(), "access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) requireSession(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if s.d.AuthStatus().State != dashboard.Authenticated {
			writeError(w, r, planningcenter.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error    string `json:"error"`
	RetryURL string `json:"retry_url,omitempty"`
}

func writeJSON(w stdhttp.ResponseWriter, r *stdhttp.Request, status int, v any) {
	data, err := encoding.Marshal(v)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to encode response", "error", err)
		stdhttp.Error(w, "internal error", stdhttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
	status := stdhttp.StatusBadGateway
	resp := errorResponse{Error: err.Error()}
	var he *planningcenter.HTTPError
	switch {
	case errors.Is(err, planningcenter.ErrUnauthenticated):
		status = stdhttp.StatusUnauthorized
		resp = errorResponse{Error: "not authenticated", RetryURL: dashboard.LoginPath}
	case errors.Is(err, session.ErrInvalidSyncInterval):
		status = stdhttp.StatusBadRequest
	case errors.As(err, &he) && he.StatusCode == stdhttp.StatusUnauthorized:
		status = stdhttp.StatusUnauthorized
		resp.RetryURL = dashboard.LoginPath
	}
	writeJSON(w, r, status, resp)
}

func (s *Server) login(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	stdhttp.Redirect(w, r, s.d.AuthorizationURL(), stdhttp.StatusFound)
}

func (s *Server) callback(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		msg := q.Get("error_description")
		if msg == "" {
			msg = e
		}
		writeJSON(w, r, stdhttp.StatusUnauthorized, errorResponse{Error: msg, RetryURL: dashboard.LoginPath})
		return
	}
	res := s.d.Authenticate(r.Context(), q.Get("code"))
	if res.State != dashboard.Authenticated {
		writeJSON(w, r, stdhttp.StatusUnauthorized, errorResponse{Error: res.Message, RetryURL: res.RetryURL})
		return
	}
	s.d.Trigger(r.Context(), dashboard.PageDashboard)
	writeJSON(w, r, stdhttp.StatusOK, res)
}

func (s *Server) logout(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if err := s.d.Logout(r.Context()); err != nil {
		writeJSON(w, r, stdhttp.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(stdhttp.StatusNoContent)
}

func (s *Server) session(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	writeJSON(w, r, stdhttp.StatusOK, s.d.AuthStatus())
}

func (s *Server) dashboardView(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.d.Trigger(r.Context(), dashboard.PageDashboard)
	writeJSON(w, r, stdhttp.StatusOK, s.d.DashboardView())
}

func (s *Server) peopleView(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.d.Trigger(r.Context(), dashboard.PagePeople)
	writeJSON(w, r, stdhttp.StatusOK, s.d.PeopleView())
}

func (s *Server) servicesView(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.d.Trigger(r.Context(), dashboard.PageServices)
	writeJSON(w, r, stdhttp.StatusOK, s.d.ServicesView())
}

func (s *Server) settingsView(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.d.Trigger(r.Context(), dashboard.PageSettings)
	v, err := s.d.SettingsView(r.Context())
	if err != nil {
		writeJSON(w, r, stdhttp.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, r, stdhttp.StatusOK, v)
}

func (s *Server) toggleTheme(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	t, err := s.d.Preferences().ToggleTheme(r.Context())
	if err != nil {
		writeJSON(w, r, stdhttp.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, r, stdhttp.StatusOK, map[string]session.Theme{"theme": t})
}

type syncIntervalRequest struct {
	SyncInterval string `json:"sync_interval"`
}

func (s *Server) setSyncInterval(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeJSON(w, r, stdhttp.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var req syncIntervalRequest
	if err := encoding.Unmarshal(body, &req); err != nil {
		writeJSON(w, r, stdhttp.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := s.d.Preferences().SetSyncInterval(r.Context(), req.SyncInterval); err != nil {
		writeError(w, r, err)
		return
	}
	if s.sched != nil {
		if err := s.sched.Reschedule(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "Failed to reschedule sync", "error", err)
		}
	}
	v, _ := s.d.Preferences().SyncInterval(r.Context())
	writeJSON(w, r, stdhttp.StatusOK, syncIntervalRequest{SyncInterval: v})
}

type fieldSelection struct {
	SelectedFieldIDs   []string `json:"selected_field_ids"`
	SelectedFieldCount int      `json:"selected_field_count"`
}

func (s *Server) toggleField(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ids, err := s.d.Preferences().ToggleFieldDefinition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, r, stdhttp.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, r, stdhttp.StatusOK, fieldSelection{SelectedFieldIDs: ids, SelectedFieldCount: len(ids)})
}

func (s *Server) sync(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if err := s.d.SyncAll(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, stdhttp.StatusOK, s.d.DashboardView())
}

// HealthChecker reports health based on storage connectivity.
type HealthChecker struct{ d *dashboard.Dashboard }

// Check implements grpchealth.Checker.
func (c HealthChecker) Check(
	ctx context.Context,
	req *grpchealth.CheckRequest,
) (*grpchealth.CheckResponse, error) {
	tracer := otel.Tracer("pcanalytics/http")
	ctx, span := tracer.Start(ctx, "HealthChecker.Check")
	defer span.End()
	switch req.Service {
	case "", ServiceName:
		if err := c.d.Ping(ctx); err != nil {
			return &grpchealth.CheckResponse{Status: grpchealth.StatusNotServing}, nil
		}
		return &grpchealth.CheckResponse{Status: grpchealth.StatusServing}, nil
	default:
		return nil, connect.NewError(
			connect.CodeNotFound,
			fmt.Errorf("unknown service: %s", req.Service),
		)
	}
}
