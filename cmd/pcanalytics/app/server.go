package app

import (
	"context"
	"fmt"
	"log/slog"

	"pcanalytics.shikanime.studio/internal/config"
	"pcanalytics.shikanime.studio/internal/dashboard"
	dashboardhttp "pcanalytics.shikanime.studio/internal/dashboard/http"
)

// Server bundles the session, its periodic sync and the HTTP surface.
type Server struct {
	d     *dashboard.Dashboard
	sched *dashboard.Scheduler
	http  *dashboardhttp.Server
}

// NewServerForConfig opens storage, restores a persisted session and wires the HTTP server.
func NewServerForConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	d, err := dashboard.NewForConfig(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := d.RestoreSession(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to restore session", "error", err)
	}
	sched := dashboard.NewScheduler(d)
	return &Server{
		d:     d,
		sched: sched,
		http:  dashboardhttp.NewServer(d, dashboardhttp.WithScheduler(sched)),
	}, nil
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	if err := s.sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer s.sched.Stop()
	s.d.Trigger(ctx, dashboard.PageDashboard)
	return s.http.ListenAndServe(ctx, addr)
}

// Close releases the session and its storage.
func (s *Server) Close() error {
	return s.http.Close()
}
