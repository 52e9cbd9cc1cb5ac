package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"pcanalytics.shikanime.studio/internal/cache"
	"pcanalytics.shikanime.studio/internal/metrics"
	"pcanalytics.shikanime.studio/internal/planningcenter"
)

// runPipeline runs one pipeline: fetch, normalize, then replace the domain's snapshot.
// A failure leaves the previous snapshot in place. The loading mark is always cleared.
func runPipeline[T any](
	ctx context.Context,
	d *Dashboard,
	domain planningcenter.Domain,
	col *cache.Collection[T],
	normalize planningcenter.Normalizer[T],
	finish func([]T),
) (err error) {
	ctx, span := tracer.Start(
		ctx,
		"Dashboard.Sync",
		trace.WithAttributes(attribute.String("domain", string(domain))),
	)
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	token, err := d.bearer(ctx)
	if err != nil {
		return err
	}

	tk := col.Begin()
	defer tk.Done()

	u, err := d.client.ResourceURL(domain)
	if err != nil {
		return err
	}
	rs, err := d.client.FetchAll(ctx, u, token)
	if err != nil {
		d.rejectToken(ctx, err)
		slog.WarnContext(ctx, "Failed to fetch collection", "domain", domain, "error", err)
		return fmt.Errorf("sync %s: %w", domain, err)
	}
	items, err := planningcenter.NormalizeAll(rs, normalize)
	if err != nil {
		slog.WarnContext(ctx, "Failed to normalize collection", "domain", domain, "error", err)
		return fmt.Errorf("sync %s: %w", domain, err)
	}
	if finish != nil {
		finish(items)
	}
	if !tk.Replace(items) {
		slog.DebugContext(ctx, "Discarded stale collection", "domain", domain)
		return nil
	}
	span.SetAttributes(attribute.Int("records", len(items)))
	slog.InfoContext(ctx, "Synchronized collection", "domain", domain, "records", len(items))
	return nil
}

// rejectToken forgets a token the provider no longer accepts.
func (d *Dashboard) rejectToken(ctx context.Context, err error) {
	var he *planningcenter.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusUnauthorized {
		return
	}
	slog.WarnContext(ctx, "Access token rejected by provider")
	if cerr := d.tokens.Clear(ctx); cerr != nil {
		slog.WarnContext(ctx, "Failed to clear rejected token", "error", cerr)
	}
}

// SyncPeople refreshes the people snapshot.
func (d *Dashboard) SyncPeople(ctx context.Context) error {
	return runPipeline(ctx, d, planningcenter.DomainPeople, &d.cache.People, planningcenter.NormalizePerson, nil)
}

// SyncTeams refreshes the teams snapshot.
func (d *Dashboard) SyncTeams(ctx context.Context) error {
	return runPipeline(ctx, d, planningcenter.DomainTeams, &d.cache.Teams, planningcenter.NormalizeTeam, nil)
}

// SyncTeamPositions refreshes the team positions snapshot.
func (d *Dashboard) SyncTeamPositions(ctx context.Context) error {
	return runPipeline(
		ctx,
		d,
		planningcenter.DomainTeamPositions,
		&d.cache.TeamPositions,
		planningcenter.NormalizeTeamPosition,
		nil,
	)
}

// SyncPlans refreshes the upcoming plans snapshot.
func (d *Dashboard) SyncPlans(ctx context.Context) error {
	return runPipeline(ctx, d, planningcenter.DomainPlans, &d.cache.Plans, planningcenter.NormalizePlan, nil)
}

// SyncServiceTypes refreshes the service types snapshot.
func (d *Dashboard) SyncServiceTypes(ctx context.Context) error {
	return runPipeline(
		ctx,
		d,
		planningcenter.DomainServiceTypes,
		&d.cache.ServiceTypes,
		planningcenter.NormalizeServiceType,
		nil,
	)
}

// SyncFieldDefinitions refreshes the field definitions snapshot, sorted by name.
func (d *Dashboard) SyncFieldDefinitions(ctx context.Context) error {
	return runPipeline(
		ctx,
		d,
		planningcenter.DomainFieldDefinitions,
		&d.cache.FieldDefinitions,
		planningcenter.NormalizeFieldDefinition,
		planningcenter.SortFieldDefinitions,
	)
}

// parallel runs fns concurrently and returns every failure joined.
func parallel(ctx context.Context, fns ...func(context.Context) error) error {
	errs := make([]error, len(fns))
	wg := errgroup.Group{}
	for i, fn := range fns {
		wg.Go(func() error {
			errs[i] = fn(ctx)
			return nil
		})
	}
	_ = wg.Wait()
	return errors.Join(errs...)
}

// LoadPeoplePage refreshes people, teams and team positions.
func (d *Dashboard) LoadPeoplePage(ctx context.Context) error {
	return parallel(ctx, d.SyncPeople, d.SyncTeams, d.SyncTeamPositions)
}

// LoadServicesPage refreshes service types and plans.
func (d *Dashboard) LoadServicesPage(ctx context.Context) error {
	return parallel(ctx, d.SyncServiceTypes, d.SyncPlans)
}

// LoadSettingsPage refreshes field definitions.
func (d *Dashboard) LoadSettingsPage(ctx context.Context) error {
	return d.SyncFieldDefinitions(ctx)
}

// SyncAll refreshes every domain and then the headline metrics.
func (d *Dashboard) SyncAll(ctx context.Context) error {
	err := parallel(ctx, d.SyncTeams, d.SyncTeamPositions, d.SyncServiceTypes, d.SyncFieldDefinitions)
	return errors.Join(err, d.RefreshDashboard(ctx))
}

type summary struct {
	metrics     []metrics.Metric
	trends      map[string]metrics.MetricTrend
	insights    []metrics.Insight
	lastUpdated string
}

// LastUpdatedNever is shown before the first successful refresh.
const LastUpdatedNever = "Never"

// LastUpdatedLayout formats the last refresh time.
const LastUpdatedLayout = "Jan 02, 2006 03:04 PM UTC"

func initialSummary() summary {
	ms := metrics.DefaultMetrics()
	return summary{
		metrics:     ms,
		trends:      metrics.ComputeTrends(nil, ms),
		insights:    []metrics.Insight{},
		lastUpdated: LastUpdatedNever,
	}
}

// RefreshDashboard syncs people and plans, then recomputes the headline
// metrics against the previous ones. On failure the previous metrics stay.
func (d *Dashboard) RefreshDashboard(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Dashboard.RefreshDashboard")
	defer span.End()

	if _, err := d.bearer(ctx); err != nil {
		return err
	}
	gen := d.refreshGen.Add(1)
	d.refreshing.Add(1)
	defer d.refreshing.Add(-1)

	if err := parallel(ctx, d.SyncPeople, d.SyncPlans); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	now := d.now().UTC()
	current := metrics.ComputeHeadlineMetrics(d.cache.People.Get(), d.cache.Plans.Get(), now)

	d.mu.Lock()
	defer d.mu.Unlock()
	if gen <= d.summaryGen {
		slog.DebugContext(ctx, "Discarded stale dashboard refresh")
		return nil
	}
	insights := metrics.GenerateInsights(current)
	if insights == nil {
		insights = []metrics.Insight{}
	}
	d.summary = summary{
		metrics:     current,
		trends:      metrics.ComputeTrends(d.summary.metrics, current),
		insights:    insights,
		lastUpdated: now.Format(LastUpdatedLayout),
	}
	d.summaryGen = gen
	slog.InfoContext(ctx, "Refreshed dashboard metrics", "metrics", current)
	return nil
}
