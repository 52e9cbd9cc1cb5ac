package planningcenter

import (
	"fmt"
	"net/url"
	"strings"
)

// Domain names one resource category fetched by a pipeline.
type Domain string

const (
	DomainPeople           Domain = "people"
	DomainTeams            Domain = "teams"
	DomainTeamPositions    Domain = "team_positions"
	DomainPlans            Domain = "plans"
	DomainServiceTypes     Domain = "service_types"
	DomainFieldDefinitions Domain = "field_definitions"
)

// Endpoint describes the collection URL of a domain relative to the API root.
type Endpoint struct {
	Domain Domain
	Path   string
	Query  url.Values
}

// DefaultEndpoints lists the collection endpoints synchronized by the dashboard.
var DefaultEndpoints = []Endpoint{
	{
		Domain: DomainPeople,
		Path:   "/people/v2/people",
		Query:  url.Values{"where[status]": {"active"}, "per_page": {"100"}},
	},
	{
		Domain: DomainTeams,
		Path:   "/people/v2/teams",
		Query:  url.Values{"per_page": {"100"}},
	},
	{
		Domain: DomainTeamPositions,
		Path:   "/people/v2/team_positions",
		Query:  url.Values{"per_page": {"100"}},
	},
	{
		Domain: DomainFieldDefinitions,
		Path:   "/people/v2/field_definitions",
		Query:  url.Values{"per_page": {"100"}},
	},
	{
		Domain: DomainServiceTypes,
		Path:   "/services/v2/service_types",
		Query:  url.Values{"per_page": {"100"}},
	},
	{
		Domain: DomainPlans,
		Path:   "/services/v2/plans",
		Query:  url.Values{"filter": {"future"}, "per_page": {"100"}},
	},
}

// ResourceURL returns the first-page URL of a domain under base.
func ResourceURL(base string, d Domain) (string, error) {
	for _, ep := range DefaultEndpoints {
		if ep.Domain != d {
			continue
		}
		u, err := url.Parse(strings.TrimRight(base, "/") + ep.Path)
		if err != nil {
			return "", fmt.Errorf("invalid API base URL %q: %w", base, err)
		}
		u.RawQuery = ep.Query.Encode()
		return u.String(), nil
	}
	return "", fmt.Errorf("unknown domain %q", d)
}
