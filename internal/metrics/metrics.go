// Package metrics derives headline figures, trends, insights and team
// composition from cached collections. Every function is pure.
package metrics

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"pcanalytics.shikanime.studio/internal/planningcenter"
)

// Headline metric titles, in display order.
const (
	TitleTotalVolunteers  = "Total Volunteers"
	TitleUpcomingServices = "Upcoming Services"
	TitleOpenPositions    = "Open Positions"
	TitleNewMembers       = "New Members"
)

// NewMemberWindow is how far back a person's creation counts as new.
const NewMemberWindow = 30 * 24 * time.Hour

// Metric is a headline card. Value is a display string that may carry thousands separators.
type Metric struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

// Direction is the sign of a trend.
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionNeutral Direction = "neutral"
)

// MetricTrend compares a metric to its previous snapshot.
type MetricTrend struct {
	Change    string    `json:"change"`
	Direction Direction `json:"direction"`
}

// Insight is a generated sentence shown under the cards.
type Insight struct {
	Text  string `json:"text"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

// TeamComposition is one bar of the team histogram.
type TeamComposition struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func metric(title, value string) Metric {
	m := Metric{Title: title, Value: value}
	switch title {
	case TitleTotalVolunteers:
		m.Icon, m.Color = "users", "text-teal-500"
	case TitleUpcomingServices:
		m.Icon, m.Color = "calendar", "text-indigo-500"
	case TitleOpenPositions:
		m.Icon, m.Color = "user-plus", "text-amber-500"
	case TitleNewMembers:
		m.Icon, m.Color = "user-check", "text-green-500"
	}
	return m
}

// DefaultMetrics returns the cards shown before the first refresh.
func DefaultMetrics() []Metric {
	return []Metric{
		metric(TitleTotalVolunteers, "0"),
		metric(TitleUpcomingServices, "0"),
		metric(TitleOpenPositions, "0"),
		metric(TitleNewMembers, "0"),
	}
}

// ParseValue reads a metric value, ignoring thousands separators.
func ParseValue(v string) (int, error) {
	return strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(v), ",", ""))
}

// ComputeHeadlineMetrics counts active people, upcoming plans, positions still
// needed on upcoming plans, and people created in the trailing 30 days at now.
func ComputeHeadlineMetrics(
	people []planningcenter.Person,
	plans []planningcenter.Plan,
	now time.Time,
) []Metric {
	now = now.UTC()
	since := now.Add(-NewMemberWindow)

	var active, newMembers int64
	for _, p := range people {
		if p.Status == "active" {
			active++
		}
		if p.CreatedAt != nil && p.CreatedAt.After(since) && !p.CreatedAt.After(now) {
			newMembers++
		}
	}
	var upcoming, open int
	for _, p := range plans {
		if !p.Upcoming(now) {
			continue
		}
		upcoming++
		open += p.PositionsNeeded
	}
	return []Metric{
		metric(TitleTotalVolunteers, humanize.Comma(active)),
		metric(TitleUpcomingServices, strconv.Itoa(upcoming)),
		metric(TitleOpenPositions, strconv.Itoa(open)),
		metric(TitleNewMembers, strconv.FormatInt(newMembers, 10)),
	}
}

// ComputeTrends compares current against previous by title. A metric with no
// positive previous value, or a value that does not parse, is neutral.
// A zero change is reported as down.
func ComputeTrends(previous, current []Metric) map[string]MetricTrend {
	trends := make(map[string]MetricTrend, len(current))
	prev := make(map[string]int, len(previous))
	for _, m := range previous {
		if v, err := ParseValue(m.Value); err == nil {
			prev[m.Title] = v
		}
	}
	for _, m := range current {
		neutral := MetricTrend{Direction: DirectionNeutral}
		p := prev[m.Title]
		cur, err := ParseValue(m.Value)
		if p <= 0 || err != nil {
			trends[m.Title] = neutral
			continue
		}
		change := float64(cur-p) / float64(p) * 100
		dir := DirectionDown
		if change > 0 {
			dir = DirectionUp
		}
		trends[m.Title] = MetricTrend{
			Change:    fmt.Sprintf("%.1f%%", math.Abs(change)),
			Direction: dir,
		}
	}
	return trends
}

// GenerateInsights emits a staffing-gap insight for open positions and a
// growth insight for new members, in metric order.
func GenerateInsights(metrics []Metric) []Insight {
	var out []Insight
	for _, m := range metrics {
		n, err := ParseValue(m.Value)
		if err != nil || n <= 0 {
			continue
		}
		switch m.Title {
		case TitleOpenPositions:
			out = append(out, Insight{
				Text:  fmt.Sprintf("%s positions need filling across upcoming services.", m.Value),
				Icon:  "alert-circle",
				Color: "text-amber-600",
			})
		case TitleNewMembers:
			out = append(out, Insight{
				Text:  fmt.Sprintf("%s new people joined in the last 30 days.", m.Value),
				Icon:  "party-popper",
				Color: "text-green-600",
			})
		}
	}
	return out
}

// ComputeTeamComposition counts positions held by known people per team name,
// largest first. Ties keep the order in which teams first appear.
func ComputeTeamComposition(
	teams []planningcenter.Team,
	positions []planningcenter.TeamPosition,
	people []planningcenter.Person,
) []TeamComposition {
	if len(teams) == 0 || len(positions) == 0 {
		return []TeamComposition{}
	}
	names := make(map[string]string, len(teams))
	for _, t := range teams {
		names[t.ID] = t.Name
	}
	active := make(map[string]struct{}, len(people))
	for _, p := range people {
		active[p.ID] = struct{}{}
	}

	out := []TeamComposition{}
	index := make(map[string]int)
	for _, pos := range positions {
		if _, ok := active[pos.PersonID]; !ok {
			continue
		}
		name, ok := names[pos.TeamID]
		if !ok || name == "" {
			continue
		}
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, TeamComposition{Name: name})
		}
		out[i].Value++
	}
	slices.SortStableFunc(out, func(a, b TeamComposition) int { return cmp.Compare(b.Value, a.Value) })
	return out
}

// WithVolunteerCounts returns a copy of teams with VolunteerCount set to the
// number of positions held by known people.
func WithVolunteerCounts(
	teams []planningcenter.Team,
	positions []planningcenter.TeamPosition,
	people []planningcenter.Person,
) []planningcenter.Team {
	active := make(map[string]struct{}, len(people))
	for _, p := range people {
		active[p.ID] = struct{}{}
	}
	counts := make(map[string]int)
	for _, pos := range positions {
		if _, ok := active[pos.PersonID]; ok {
			counts[pos.TeamID]++
		}
	}
	out := make([]planningcenter.Team, len(teams))
	for i, t := range teams {
		t.VolunteerCount = counts[t.ID]
		out[i] = t
	}
	return out
}

// TotalVolunteers is the number of cached people.
func TotalVolunteers(people []planningcenter.Person) int { return len(people) }

// TotalTeams is the number of cached teams.
func TotalTeams(teams []planningcenter.Team) int { return len(teams) }
