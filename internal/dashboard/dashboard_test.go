package dashboard

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pcanalytics.shikanime.studio/internal/metrics"
	"pcanalytics.shikanime.studio/internal/planningcenter"
	"pcanalytics.shikanime.studio/internal/planningcenter/pctest"
	"pcanalytics.shikanime.studio/internal/session"
)

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newTestDashboard(t *testing.T) (*Dashboard, *pctest.Server, *session.MemoryStore) {
	t.Helper()
	srv := pctest.NewServer()
	t.Cleanup(srv.Close)
	slots := session.NewMemoryStore()
	d := New(
		slots,
		WithClientOptions(srv.ClientOptions()...),
		WithOAuthOptions(srv.OAuthOptions()...),
		WithClock(func() time.Time { return testNow }),
	)
	t.Cleanup(func() { _ = d.Close() })
	return d, srv, slots
}

func login(t *testing.T, d *Dashboard) {
	t.Helper()
	res := d.Authenticate(context.Background(), pctest.Code)
	require.Equal(t, AuthResult{State: Authenticated}, res)
}

func TestAuthenticate(t *testing.T) {
	d, _, slots := newTestDashboard(t)
	ctx := context.Background()

	assert.Equal(t, Unauthenticated, d.AuthStatus().State)
	login(t, d)
	assert.Equal(t, Authenticated, d.AuthStatus().State)

	v, ok, err := slots.GetSlot(ctx, session.SlotAccessToken)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pctest.AccessToken, v)
}

func TestAuthenticateFailures(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{name: "missing code", code: "", want: "Authorization code not found."},
		{name: "rejected grant", code: "bad-code", want: "The provided authorization grant is invalid."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, _ := newTestDashboard(t)
			res := d.Authenticate(context.Background(), tt.code)
			assert.Equal(t, AuthResult{State: AuthFailed, Message: tt.want, RetryURL: LoginPath}, res)
			assert.Equal(t, Unauthenticated, d.AuthStatus().State)
		})
	}
}

func TestRestoreSession(t *testing.T) {
	d, srv, slots := newTestDashboard(t)
	ctx := context.Background()

	res, err := d.RestoreSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, Unauthenticated, res.State)

	require.NoError(t, slots.PutSlot(ctx, session.SlotAccessToken, pctest.AccessToken))
	restored := New(
		slots,
		WithClientOptions(srv.ClientOptions()...),
		WithOAuthOptions(srv.OAuthOptions()...),
	)
	res, err = restored.RestoreSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, Authenticated, res.State)
	assert.Equal(t, Authenticated, restored.AuthStatus().State)
}

func TestPipelinesRequireAuthentication(t *testing.T) {
	d, srv, _ := newTestDashboard(t)
	ctx := context.Background()

	for _, fn := range []func(context.Context) error{
		d.SyncPeople,
		d.SyncTeams,
		d.SyncTeamPositions,
		d.SyncPlans,
		d.SyncServiceTypes,
		d.SyncFieldDefinitions,
		d.RefreshDashboard,
	} {
		assert.ErrorIs(t, fn(ctx), planningcenter.ErrUnauthenticated)
	}
	assert.False(t, d.Cache().People.Populated())
	assert.False(t, d.Cache().AnyLoading())
	assert.Zero(t, srv.Hits(pctest.PeoplePath))
}

func TestLoadPeoplePage(t *testing.T) {
	d, srv, _ := newTestDashboard(t)
	login(t, d)

	require.NoError(t, d.LoadPeoplePage(context.Background()))
	assert.Equal(t, 2, srv.Hits(pctest.PeoplePath))

	v := d.PeopleView()
	require.Len(t, v.People, 2)
	assert.Equal(t, "Alice", v.People[0].Name)
	assert.Equal(t, "Bob", v.People[1].Name)
	assert.Equal(t, 2, v.TotalVolunteers)
	assert.Equal(t, 2, v.TotalTeams)
	assert.Equal(t, []planningcenter.TeamPosition{
		{ID: "tp1", TeamID: "t1", PersonID: "p1"},
		{ID: "tp2", TeamID: "t1", PersonID: "p2"},
		{ID: "tp3", TeamID: "t2", PersonID: "p2"},
	}, d.Cache().TeamPositions.Get())
	assert.Equal(t, []metrics.TeamComposition{
		{Name: "Worship", Value: 2},
		{Name: "Kids", Value: 1},
	}, v.TeamComposition)
	assert.Equal(t, 2, v.Teams[0].VolunteerCount)
	assert.Equal(t, 1, v.Teams[1].VolunteerCount)
	assert.False(t, v.Loading)
}

func TestLoadServicesAndSettingsPages(t *testing.T) {
	d, _, _ := newTestDashboard(t)
	ctx := context.Background()
	login(t, d)

	require.NoError(t, d.Load(ctx, PageServices))
	sv := d.ServicesView()
	assert.Equal(t, []planningcenter.ServiceType{{ID: "st1", Name: "Sunday Service"}}, sv.ServiceTypes)
	require.Len(t, sv.Plans, 2)
	assert.Equal(t, "Week 1", *sv.Plans[0].PlanTitle)
	assert.Nil(t, sv.Plans[1].PlanTitle)
	assert.Equal(t, "st1", sv.Plans[1].ServiceTypeID)

	require.NoError(t, d.Load(ctx, PageSettings))
	st, err := d.SettingsView(ctx)
	require.NoError(t, err)
	assert.Equal(t, []planningcenter.FieldDefinition{
		{ID: "fd1", Name: "Allergies"},
		{ID: "fd2", Name: "Shirt size"},
	}, st.FieldDefinitions)
	assert.Equal(t, session.ThemeLight, st.Theme)
	assert.Equal(t, "15", st.SyncInterval)
	assert.Equal(t, []string{}, st.SelectedFieldIDs)

	assert.Error(t, d.Load(ctx, Page("nope")))
}

func TestFailedFetchKeepsPreviousSnapshot(t *testing.T) {
	d, srv, _ := newTestDashboard(t)
	ctx := context.Background()
	login(t, d)

	require.NoError(t, d.SyncTeams(ctx))
	before := d.Cache().Teams.Get()
	require.Len(t, before, 2)

	srv.Fail(pctest.TeamsPath, http.StatusInternalServerError)
	err := d.SyncTeams(ctx)
	var he *planningcenter.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusInternalServerError, he.StatusCode)
	assert.Equal(t, before, d.Cache().Teams.Get())
	assert.False(t, d.Cache().Teams.Loading())
	assert.Equal(t, Authenticated, d.AuthStatus().State)
}

func TestRejectedTokenIsCleared(t *testing.T) {
	d, srv, slots := newTestDashboard(t)
	ctx := context.Background()
	login(t, d)

	srv.Fail(pctest.PeoplePath, http.StatusUnauthorized)
	require.Error(t, d.SyncPeople(ctx))
	assert.Equal(t, Unauthenticated, d.AuthStatus().State)
	_, ok, err := slots.GetSlot(ctx, session.SlotAccessToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefreshDashboard(t *testing.T) {
	d, _, _ := newTestDashboard(t)
	ctx := context.Background()

	v := d.DashboardView()
	assert.Equal(t, metrics.DefaultMetrics(), v.Metrics)
	assert.Equal(t, LastUpdatedNever, v.LastUpdated)
	assert.Empty(t, v.Insights)

	login(t, d)
	require.NoError(t, d.RefreshDashboard(ctx))

	v = d.DashboardView()
	got := map[string]string{}
	for _, m := range v.Metrics {
		got[m.Title] = m.Value
	}
	assert.Equal(t, map[string]string{
		metrics.TitleTotalVolunteers:  "2",
		metrics.TitleUpcomingServices: "2",
		metrics.TitleOpenPositions:    "3",
		metrics.TitleNewMembers:       "1",
	}, got)
	for _, tr := range v.Trends {
		assert.Equal(t, metrics.DirectionNeutral, tr.Direction)
	}
	require.Len(t, v.Insights, 2)
	assert.Equal(t, "3 positions need filling across upcoming services.", v.Insights[0].Text)
	assert.Equal(t, "Oct 16, 2026 12:00 PM UTC", v.LastUpdated)
	assert.False(t, v.Loading)

	require.NoError(t, d.RefreshDashboard(ctx))
	v = d.DashboardView()
	assert.Equal(t, metrics.MetricTrend{Change: "0.0%", Direction: metrics.DirectionDown}, v.Trends[metrics.TitleTotalVolunteers])
}

func TestRefreshDashboardFailureKeepsMetrics(t *testing.T) {
	d, srv, _ := newTestDashboard(t)
	ctx := context.Background()
	login(t, d)
	require.NoError(t, d.RefreshDashboard(ctx))
	before := d.DashboardView()

	srv.Fail(pctest.PlansPath, http.StatusBadGateway)
	require.Error(t, d.RefreshDashboard(ctx))
	after := d.DashboardView()
	assert.Equal(t, before.Metrics, after.Metrics)
	assert.Equal(t, before.LastUpdated, after.LastUpdated)
}

func TestLogoutResets(t *testing.T) {
	d, _, _ := newTestDashboard(t)
	ctx := context.Background()
	login(t, d)
	require.NoError(t, d.SyncAll(ctx))
	require.True(t, d.Cache().FieldDefinitions.Populated())

	require.NoError(t, d.Logout(ctx))
	require.NoError(t, d.Logout(ctx))
	assert.Equal(t, Unauthenticated, d.AuthStatus().State)
	assert.Empty(t, d.Cache().People.Get())
	assert.False(t, d.Cache().FieldDefinitions.Populated())
	assert.Equal(t, LastUpdatedNever, d.DashboardView().LastUpdated)
	assert.ErrorIs(t, d.SyncPeople(ctx), planningcenter.ErrUnauthenticated)
}

func TestTrigger(t *testing.T) {
	d, srv, _ := newTestDashboard(t)

	ctx, cancel := context.WithCancel(context.Background())
	d.Trigger(ctx, PageServices)
	d.Wait()
	assert.Zero(t, srv.Hits(pctest.PlansPath))

	login(t, d)
	d.Trigger(ctx, PageServices)
	cancel()
	d.Wait()
	assert.Len(t, d.Cache().Plans.Get(), 2)
	assert.Len(t, d.Cache().ServiceTypes.Get(), 1)
}

func TestExpiredTokenIsCleared(t *testing.T) {
	d, srv, _ := newTestDashboard(t)
	ctx := context.Background()
	require.NoError(t, d.tokens.Set(ctx, &planningcenter.AccessToken{
		Value:     pctest.AccessToken,
		ExpiresAt: testNow.Add(-time.Minute),
	}))

	assert.ErrorIs(t, d.SyncTeams(ctx), planningcenter.ErrUnauthenticated)
	assert.Equal(t, Unauthenticated, d.AuthStatus().State)
	assert.Zero(t, srv.Hits(pctest.TeamsPath))
}

func TestScheduler(t *testing.T) {
	d, srv, _ := newTestDashboard(t)
	ctx := context.Background()

	s := NewScheduler(d)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	assert.Equal(t, 15, s.Interval())

	require.NoError(t, d.Preferences().SetSyncInterval(ctx, "5"))
	require.NoError(t, s.Reschedule(ctx))
	assert.Equal(t, 5, s.Interval())

	s.Run(ctx)
	assert.Zero(t, srv.Hits(pctest.PeoplePath))

	login(t, d)
	s.Run(ctx)
	assert.True(t, d.Cache().People.Populated())
	assert.True(t, d.Cache().FieldDefinitions.Populated())
	assert.NotEqual(t, LastUpdatedNever, d.DashboardView().LastUpdated)
}
