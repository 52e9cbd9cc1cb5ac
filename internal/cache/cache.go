// Package cache holds the last fully written snapshot of every synchronized domain.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"pcanalytics.shikanime.studio/internal/planningcenter"
)

type snapshot[T any] struct {
	items     []T
	gen       uint64
	updatedAt time.Time
}

// Collection is a single domain's snapshot. Readers never lock; a write swaps
// the whole slice so a reader sees either the old or the new snapshot.
type Collection[T any] struct {
	snap     atomic.Pointer[snapshot[T]]
	inflight atomic.Int64
	nextGen  atomic.Uint64
	mu       sync.Mutex
	floor    uint64
	now      func() time.Time
}

// Ticket is held by one pipeline run between Begin and Done.
type Ticket[T any] struct {
	c    *Collection[T]
	gen  uint64
	once sync.Once
}

// Begin marks a pipeline run as in flight and returns its ticket.
// The caller must call Done on every exit path.
func (c *Collection[T]) Begin() *Ticket[T] {
	c.inflight.Add(1)
	return &Ticket[T]{c: c, gen: c.nextGen.Add(1)}
}

// Done clears the ticket's loading mark. Extra calls are no-ops.
func (t *Ticket[T]) Done() {
	t.once.Do(func() { t.c.inflight.Add(-1) })
}

// Replace swaps the collection for items. It reports false and discards items
// when a ticket started later has already committed.
func (t *Ticket[T]) Replace(items []T) bool {
	return t.c.commit(t.gen, items)
}

// Replace swaps the collection outside any pipeline run.
func (c *Collection[T]) Replace(items []T) {
	c.commit(c.nextGen.Add(1), items)
}

func (c *Collection[T]) commit(gen uint64, items []T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen <= c.floor {
		return false
	}
	if cur := c.snap.Load(); cur != nil && cur.gen > gen {
		return false
	}
	cp := make([]T, len(items))
	copy(cp, items)
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	c.snap.Store(&snapshot[T]{items: cp, gen: gen, updatedAt: now().UTC()})
	return true
}

// Get returns the last committed snapshot, or nil if nothing was committed.
// The returned slice must not be modified.
func (c *Collection[T]) Get() []T {
	if s := c.snap.Load(); s != nil {
		return s.items
	}
	return nil
}

// Loading reports whether a pipeline run is in flight.
func (c *Collection[T]) Loading() bool { return c.inflight.Load() > 0 }

// UpdatedAt returns the commit time of the current snapshot; zero if never populated.
func (c *Collection[T]) UpdatedAt() time.Time {
	if s := c.snap.Load(); s != nil {
		return s.updatedAt
	}
	return time.Time{}
}

// Populated reports whether a snapshot was ever committed.
func (c *Collection[T]) Populated() bool { return c.snap.Load() != nil }

// Reset drops the snapshot. Runs that began before Reset can no longer commit.
func (c *Collection[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.floor = c.nextGen.Load()
	c.snap.Store(nil)
}

// CollectionCache holds one Collection per domain. Each pipeline writes only its own.
type CollectionCache struct {
	People           Collection[planningcenter.Person]
	Teams            Collection[planningcenter.Team]
	TeamPositions    Collection[planningcenter.TeamPosition]
	Plans            Collection[planningcenter.Plan]
	ServiceTypes     Collection[planningcenter.ServiceType]
	FieldDefinitions Collection[planningcenter.FieldDefinition]
}

// New returns an empty cache.
func New() *CollectionCache { return &CollectionCache{} }

type loader interface {
	Loading() bool
}

func (c *CollectionCache) collections() map[planningcenter.Domain]loader {
	return map[planningcenter.Domain]loader{
		planningcenter.DomainPeople:           &c.People,
		planningcenter.DomainTeams:            &c.Teams,
		planningcenter.DomainTeamPositions:    &c.TeamPositions,
		planningcenter.DomainPlans:            &c.Plans,
		planningcenter.DomainServiceTypes:     &c.ServiceTypes,
		planningcenter.DomainFieldDefinitions: &c.FieldDefinitions,
	}
}

// Loading reports whether the given domain has a pipeline in flight.
func (c *CollectionCache) Loading(d planningcenter.Domain) bool {
	if l, ok := c.collections()[d]; ok {
		return l.Loading()
	}
	return false
}

// AnyLoading reports whether any of the given domains is loading; with no
// domains it considers all of them.
func (c *CollectionCache) AnyLoading(domains ...planningcenter.Domain) bool {
	all := c.collections()
	if len(domains) == 0 {
		for _, l := range all {
			if l.Loading() {
				return true
			}
		}
		return false
	}
	for _, d := range domains {
		if l, ok := all[d]; ok && l.Loading() {
			return true
		}
	}
	return false
}

// Reset drops every snapshot.
func (c *CollectionCache) Reset() {
	c.People.Reset()
	c.Teams.Reset()
	c.TeamPositions.Reset()
	c.Plans.Reset()
	c.ServiceTypes.Reset()
	c.FieldDefinitions.Reset()
}
