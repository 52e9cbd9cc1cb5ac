package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"pcanalytics.shikanime.studio/internal/encoding"
)

// ErrInvalidSyncInterval is returned for a sync interval that is not a positive number of minutes.
var ErrInvalidSyncInterval = errors.New("sync interval must be a positive number of minutes")

// Theme is the dashboard color scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Preferences reads and writes the user's dashboard settings.
type Preferences struct {
	slots               SlotStore
	defaultSyncInterval string
	// serializes read-modify-write toggles
	mu sync.Mutex
}

// NewPreferences returns Preferences backed by slots. defaultSyncInterval is
// used until the user stores one.
func NewPreferences(slots SlotStore, defaultSyncInterval string) *Preferences {
	return &Preferences{slots: slots, defaultSyncInterval: defaultSyncInterval}
}

// Theme returns the stored theme; anything unrecognized reads as light.
func (p *Preferences) Theme(ctx context.Context) (Theme, error) {
	v, _, err := p.slots.GetSlot(ctx, SlotTheme)
	if err != nil {
		return ThemeLight, fmt.Errorf("failed to read %s slot: %w", SlotTheme, err)
	}
	if Theme(v) == ThemeDark {
		return ThemeDark, nil
	}
	return ThemeLight, nil
}

// ToggleTheme flips between light and dark and returns the new theme.
func (p *Preferences) ToggleTheme(ctx context.Context) (Theme, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, err := p.Theme(ctx)
	if err != nil {
		return cur, err
	}
	next := ThemeDark
	if cur == ThemeDark {
		next = ThemeLight
	}
	if err := p.slots.PutSlot(ctx, SlotTheme, string(next)); err != nil {
		return cur, fmt.Errorf("failed to write %s slot: %w", SlotTheme, err)
	}
	return next, nil
}

// ParseSyncInterval validates a sync interval in minutes.
func ParseSyncInterval(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSyncInterval, v)
	}
	return n, nil
}

// SyncInterval returns the stored interval in minutes as a string.
func (p *Preferences) SyncInterval(ctx context.Context) (string, error) {
	v, ok, err := p.slots.GetSlot(ctx, SlotSyncInterval)
	if err != nil {
		return p.defaultSyncInterval, fmt.Errorf("failed to read %s slot: %w", SlotSyncInterval, err)
	}
	if !ok {
		return p.defaultSyncInterval, nil
	}
	if _, err := ParseSyncInterval(v); err != nil {
		return p.defaultSyncInterval, nil
	}
	return v, nil
}

// SyncIntervalMinutes returns the stored interval as a number of minutes.
func (p *Preferences) SyncIntervalMinutes(ctx context.Context) (int, error) {
	v, err := p.SyncInterval(ctx)
	if err != nil {
		return 0, err
	}
	return ParseSyncInterval(v)
}

// SetSyncInterval stores a new interval after validating it.
func (p *Preferences) SetSyncInterval(ctx context.Context, v string) error {
	n, err := ParseSyncInterval(v)
	if err != nil {
		return err
	}
	if err := p.slots.PutSlot(ctx, SlotSyncInterval, strconv.Itoa(n)); err != nil {
		return fmt.Errorf("failed to write %s slot: %w", SlotSyncInterval, err)
	}
	return nil
}

// SelectedFieldIDs returns the selected field definition ids in selection order.
func (p *Preferences) SelectedFieldIDs(ctx context.Context) ([]string, error) {
	v, ok, err := p.slots.GetSlot(ctx, SlotSelectedFieldIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s slot: %w", SlotSelectedFieldIDs, err)
	}
	ids := []string{}
	if !ok || v == "" {
		return ids, nil
	}
	if err := encoding.Unmarshal([]byte(v), &ids); err != nil {
		return nil, fmt.Errorf("invalid %s slot: %w", SlotSelectedFieldIDs, err)
	}
	return ids, nil
}

// ToggleFieldDefinition adds id to the selection, or removes it when present,
// and returns the new selection.
func (p *Preferences) ToggleFieldDefinition(ctx context.Context, id string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids, err := p.SelectedFieldIDs(ctx)
	if err != nil {
		return nil, err
	}
	if i := slices.Index(ids, id); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
	} else {
		ids = append(ids, id)
	}
	raw, err := encoding.Marshal(ids)
	if err != nil {
		return nil, err
	}
	if err := p.slots.PutSlot(ctx, SlotSelectedFieldIDs, string(raw)); err != nil {
		return nil, fmt.Errorf("failed to write %s slot: %w", SlotSelectedFieldIDs, err)
	}
	return ids, nil
}

// SelectedFieldCount returns the number of selected field definitions.
func (p *Preferences) SelectedFieldCount(ctx context.Context) (int, error) {
	ids, err := p.SelectedFieldIDs(ctx)
	return len(ids), err
}
