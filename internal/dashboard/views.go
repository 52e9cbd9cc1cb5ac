package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"pcanalytics.shikanime.studio/internal/metrics"
	"pcanalytics.shikanime.studio/internal/planningcenter"
	"pcanalytics.shikanime.studio/internal/session"
)

// Page names a screen whose load triggers a set of pipelines.
type Page string

const (
	PageDashboard Page = "dashboard"
	PagePeople    Page = "people"
	PageServices  Page = "services"
	PageSettings  Page = "settings"
)

// Load runs the pipelines behind page and waits for them.
func (d *Dashboard) Load(ctx context.Context, page Page) error {
	switch page {
	case PageDashboard:
		return d.RefreshDashboard(ctx)
	case PagePeople:
		return d.LoadPeoplePage(ctx)
	case PageServices:
		return d.LoadServicesPage(ctx)
	case PageSettings:
		return d.LoadSettingsPage(ctx)
	default:
		return fmt.Errorf("unknown page %q", page)
	}
}

// Trigger starts Load in the background and returns immediately. The load is
// detached from ctx cancellation so it completes after the request returns.
func (d *Dashboard) Trigger(ctx context.Context, page Page) {
	if !d.tokens.Authenticated() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.triggers.Add(1)
	go func() {
		defer d.triggers.Done()
		defer cancel()
		if err := d.Load(ctx, page); err != nil && !errors.Is(err, planningcenter.ErrUnauthenticated) {
			slog.WarnContext(ctx, "Background load failed", "page", page, "error", err)
		}
	}()
}

// Wait blocks until every triggered load has finished.
func (d *Dashboard) Wait() { d.triggers.Wait() }

// DashboardView is the home screen.
type DashboardView struct {
	Metrics         []metrics.Metric               `json:"metrics"`
	Trends          map[string]metrics.MetricTrend `json:"metric_trends"`
	Insights        []metrics.Insight              `json:"insights"`
	TeamComposition []metrics.TeamComposition      `json:"team_composition"`
	LastUpdated     string                         `json:"last_updated"`
	Loading         bool                           `json:"loading"`
}

// DashboardView returns the latest headline metrics.
func (d *Dashboard) DashboardView() DashboardView {
	d.mu.RLock()
	s := d.summary
	d.mu.RUnlock()
	c := d.cache
	return DashboardView{
		Metrics:  append([]metrics.Metric(nil), s.metrics...),
		Trends:   maps.Clone(s.trends),
		Insights: append([]metrics.Insight{}, s.insights...),
		TeamComposition: metrics.ComputeTeamComposition(
			c.Teams.Get(),
			c.TeamPositions.Get(),
			c.People.Get(),
		),
		LastUpdated: s.lastUpdated,
		Loading:     d.refreshing.Load() > 0,
	}
}

// PeopleView is the people and teams screen.
type PeopleView struct {
	People          []planningcenter.Person   `json:"people"`
	Teams           []planningcenter.Team     `json:"teams"`
	TeamComposition []metrics.TeamComposition `json:"team_composition"`
	TotalVolunteers int                       `json:"total_volunteers"`
	TotalTeams      int                       `json:"total_teams"`
	Loading         bool                      `json:"loading"`
}

// PeopleView derives the people screen from the cache.
func (d *Dashboard) PeopleView() PeopleView {
	c := d.cache
	people, teams, positions := c.People.Get(), c.Teams.Get(), c.TeamPositions.Get()
	return PeopleView{
		People:          nonNil(people),
		Teams:           metrics.WithVolunteerCounts(teams, positions, people),
		TeamComposition: metrics.ComputeTeamComposition(teams, positions, people),
		TotalVolunteers: metrics.TotalVolunteers(people),
		TotalTeams:      metrics.TotalTeams(teams),
		Loading: c.AnyLoading(
			planningcenter.DomainPeople,
			planningcenter.DomainTeams,
			planningcenter.DomainTeamPositions,
		),
	}
}

// ServicesView is the services screen.
type ServicesView struct {
	ServiceTypes []planningcenter.ServiceType `json:"service_types"`
	Plans        []planningcenter.Plan        `json:"upcoming_plans"`
	Loading      bool                         `json:"loading"`
}

// ServicesView derives the services screen from the cache.
func (d *Dashboard) ServicesView() ServicesView {
	c := d.cache
	return ServicesView{
		ServiceTypes: nonNil(c.ServiceTypes.Get()),
		Plans:        nonNil(c.Plans.Get()),
		Loading:      c.AnyLoading(planningcenter.DomainServiceTypes, planningcenter.DomainPlans),
	}
}

// SettingsView is the settings screen.
type SettingsView struct {
	Theme              session.Theme                    `json:"theme"`
	SyncInterval       string                           `json:"sync_interval"`
	FieldDefinitions   []planningcenter.FieldDefinition `json:"field_definitions"`
	SelectedFieldIDs   []string                         `json:"selected_field_ids"`
	SelectedFieldCount int                              `json:"selected_field_count"`
	Loading            bool                             `json:"loading"`
}

// SettingsView reads preferences and the field definitions snapshot.
func (d *Dashboard) SettingsView(ctx context.Context) (SettingsView, error) {
	theme, err := d.prefs.Theme(ctx)
	if err != nil {
		return SettingsView{}, err
	}
	interval, err := d.prefs.SyncInterval(ctx)
	if err != nil {
		return SettingsView{}, err
	}
	ids, err := d.prefs.SelectedFieldIDs(ctx)
	if err != nil {
		return SettingsView{}, err
	}
	return SettingsView{
		Theme:              theme,
		SyncInterval:       interval,
		FieldDefinitions:   nonNil(d.cache.FieldDefinitions.Get()),
		SelectedFieldIDs:   ids,
		SelectedFieldCount: len(ids),
		Loading:            d.cache.Loading(planningcenter.DomainFieldDefinitions),
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
