package planningcenter

import (
	"cmp"
	"slices"
	"time"

	"k8s.io/utils/ptr"
	"pcanalytics.shikanime.studio/internal/encoding"
)

// Person is an active member of the organization.
type Person struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	Avatar    string     `json:"avatar"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Resource converts the person back to its JSON:API record.
func (p Person) Resource() (encoding.Resource, error) {
	r := encoding.Resource{Type: "Person", ID: p.ID}
	for k, v := range map[string]string{"name": p.Name, "status": p.Status, "avatar": p.Avatar} {
		if err := r.SetAttribute(k, v); err != nil {
			return encoding.Resource{}, err
		}
	}
	if p.CreatedAt != nil {
		if err := r.SetAttribute("created_at", p.CreatedAt.Format(time.RFC3339)); err != nil {
			return encoding.Resource{}, err
		}
	}
	return r, nil
}

// Team groups positions. VolunteerCount is derived, never fetched.
type Team struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	VolunteerCount int    `json:"volunteer_count"`
}

// TeamPosition links a person to a team.
type TeamPosition struct {
	ID       string `json:"id"`
	TeamID   string `json:"team_id"`
	PersonID string `json:"person_id"`
}

// Plan is a scheduled service.
type Plan struct {
	ID              string     `json:"id"`
	SeriesTitle     *string    `json:"series_title"`
	PlanTitle       *string    `json:"plan_title"`
	Dates           string     `json:"dates"`
	ShortDates      string     `json:"short_dates"`
	TotalPositions  int        `json:"team_positions_count"`
	PositionsNeeded int        `json:"positions_needed"`
	PositionsFilled int        `json:"filled_positions_count"`
	ServiceTypeID   string     `json:"service_type"`
	SortDate        *time.Time `json:"sort_date,omitempty"`
}

// Upcoming reports whether the plan is not in the past at now.
// Plans without a sort date were already filtered by the provider.
func (p Plan) Upcoming(now time.Time) bool {
	return p.SortDate == nil || !p.SortDate.Before(now)
}

// FieldDefinition is a custom profile field.
type FieldDefinition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ServiceType is a category of service plans.
type ServiceType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Normalizer maps one raw record to an entity. keep is false when the record
// must be dropped; err is set when a required field is missing or mistyped.
type Normalizer[T any] func(r *encoding.Resource) (v T, keep bool, err error)

// NormalizeAll applies fn to every record. The first error aborts the batch.
func NormalizeAll[T any](rs []encoding.Resource, fn Normalizer[T]) ([]T, error) {
	out := make([]T, 0, len(rs))
	for i := range rs {
		v, keep, err := fn(&rs[i])
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, v)
		}
	}
	return out, nil
}

func requiredString(r *encoding.Resource, key string) (string, error) {
	s, ok, err := r.String(key)
	if err != nil {
		return "", &NormalizationError{Type: r.Type, ID: r.ID, Field: key, Err: err}
	}
	if !ok {
		return "", &NormalizationError{Type: r.Type, ID: r.ID, Field: key}
	}
	return s, nil
}

func requiredInt(r *encoding.Resource, key string) (int, error) {
	n, ok, err := r.Int(key)
	if err != nil {
		return 0, &NormalizationError{Type: r.Type, ID: r.ID, Field: key, Err: err}
	}
	if !ok {
		return 0, &NormalizationError{Type: r.Type, ID: r.ID, Field: key}
	}
	return n, nil
}

func optionalString(r *encoding.Resource, key string) (*string, error) {
	s, ok, err := r.String(key)
	if err != nil {
		return nil, &NormalizationError{Type: r.Type, ID: r.ID, Field: key, Err: err}
	}
	if !ok {
		return nil, nil
	}
	return ptr.To(s), nil
}

func optionalTime(r *encoding.Resource, key string) (*time.Time, error) {
	t, ok, err := r.Time(key)
	if err != nil {
		return nil, &NormalizationError{Type: r.Type, ID: r.ID, Field: key, Err: err}
	}
	if !ok {
		return nil, nil
	}
	return ptr.To(t.UTC()), nil
}

func requiredRelated(r *encoding.Resource, name string) (string, bool, error) {
	id, ok, err := r.Related(name)
	if err != nil {
		return "", false, &NormalizationError{Type: r.Type, ID: r.ID, Field: name, Err: err}
	}
	return id, ok, nil
}

func requireID(r *encoding.Resource) error {
	if r.ID == "" {
		return &NormalizationError{Type: r.Type, Field: "id"}
	}
	return nil
}

// NormalizePerson maps a Person record.
func NormalizePerson(r *encoding.Resource) (Person, bool, error) {
	if err := requireID(r); err != nil {
		return Person{}, false, err
	}
	p := Person{ID: r.ID}
	var err error
	if p.Name, err = requiredString(r, "name"); err != nil {
		return Person{}, false, err
	}
	if p.Status, err = requiredString(r, "status"); err != nil {
		return Person{}, false, err
	}
	if p.Avatar, err = requiredString(r, "avatar"); err != nil {
		return Person{}, false, err
	}
	if p.CreatedAt, err = optionalTime(r, "created_at"); err != nil {
		return Person{}, false, err
	}
	return p, true, nil
}

// NormalizeTeam maps a Team record.
func NormalizeTeam(r *encoding.Resource) (Team, bool, error) {
	if err := requireID(r); err != nil {
		return Team{}, false, err
	}
	name, err := requiredString(r, "name")
	if err != nil {
		return Team{}, false, err
	}
	return Team{ID: r.ID, Name: name}, true, nil
}

// NormalizeTeamPosition maps a TeamPosition record. Positions without a linked
// person are dropped.
func NormalizeTeamPosition(r *encoding.Resource) (TeamPosition, bool, error) {
	if err := requireID(r); err != nil {
		return TeamPosition{}, false, err
	}
	personID, ok, err := requiredRelated(r, "person")
	if err != nil {
		return TeamPosition{}, false, err
	}
	if !ok {
		return TeamPosition{}, false, nil
	}
	teamID, ok, err := requiredRelated(r, "team")
	if err != nil {
		return TeamPosition{}, false, err
	}
	if !ok {
		return TeamPosition{}, false, &NormalizationError{Type: r.Type, ID: r.ID, Field: "team"}
	}
	return TeamPosition{ID: r.ID, TeamID: teamID, PersonID: personID}, true, nil
}

// NormalizePlan maps a Plan record. Titles are optional; the plan title is
// read from "title" and falls back to "plan_title".
func NormalizePlan(r *encoding.Resource) (Plan, bool, error) {
	if err := requireID(r); err != nil {
		return Plan{}, false, err
	}
	p := Plan{ID: r.ID}
	var err error
	if p.SeriesTitle, err = optionalString(r, "series_title"); err != nil {
		return Plan{}, false, err
	}
	if p.PlanTitle, err = optionalString(r, "title"); err != nil {
		return Plan{}, false, err
	}
	if p.PlanTitle == nil {
		if p.PlanTitle, err = optionalString(r, "plan_title"); err != nil {
			return Plan{}, false, err
		}
	}
	if p.Dates, err = requiredString(r, "dates"); err != nil {
		return Plan{}, false, err
	}
	if p.ShortDates, err = requiredString(r, "short_dates"); err != nil {
		return Plan{}, false, err
	}
	if p.TotalPositions, err = requiredInt(r, "total_needed"); err != nil {
		return Plan{}, false, err
	}
	if p.PositionsFilled, err = requiredInt(r, "total_confirmed"); err != nil {
		return Plan{}, false, err
	}
	needed, ok, err := r.Int("needed_positions_count")
	if err != nil {
		return Plan{}, false, &NormalizationError{Type: r.Type, ID: r.ID, Field: "needed_positions_count", Err: err}
	}
	if ok {
		p.PositionsNeeded = needed
	}
	if p.SortDate, err = optionalTime(r, "sort_date"); err != nil {
		return Plan{}, false, err
	}
	st, ok, err := requiredRelated(r, "service_type")
	if err != nil {
		return Plan{}, false, err
	}
	if !ok {
		return Plan{}, false, &NormalizationError{Type: r.Type, ID: r.ID, Field: "service_type"}
	}
	p.ServiceTypeID = st
	return p, true, nil
}

// NormalizeFieldDefinition maps a FieldDefinition record.
func NormalizeFieldDefinition(r *encoding.Resource) (FieldDefinition, bool, error) {
	if err := requireID(r); err != nil {
		return FieldDefinition{}, false, err
	}
	name, err := requiredString(r, "name")
	if err != nil {
		return FieldDefinition{}, false, err
	}
	return FieldDefinition{ID: r.ID, Name: name}, true, nil
}

// NormalizeServiceType maps a ServiceType record.
func NormalizeServiceType(r *encoding.Resource) (ServiceType, bool, error) {
	if err := requireID(r); err != nil {
		return ServiceType{}, false, err
	}
	name, err := requiredString(r, "name")
	if err != nil {
		return ServiceType{}, false, err
	}
	return ServiceType{ID: r.ID, Name: name}, true, nil
}

// SortFieldDefinitions orders definitions by name in place.
func SortFieldDefinitions(defs []FieldDefinition) {
	slices.SortStableFunc(defs, func(a, b FieldDefinition) int { return cmp.Compare(a.Name, b.Name) })
}
