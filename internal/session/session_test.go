package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pcanalytics.shikanime.studio/internal/planningcenter"
)

type failingStore struct{ *MemoryStore }

func (failingStore) PutSlot(context.Context, string, string) error {
	return errors.New("disk full")
}

// slotFailingStore fails writes to a single slot.
type slotFailingStore struct {
	*MemoryStore
	slot string
}

func (s slotFailingStore) PutSlot(ctx context.Context, name, value string) error {
	if name == s.slot {
		return errors.New("disk full")
	}
	return s.MemoryStore.PutSlot(ctx, name, value)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.GetSlot(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutSlot(ctx, "x", "1"))
	v, ok, err := s.GetSlot(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	require.NoError(t, s.DeleteSlot(ctx, "x"))
	require.NoError(t, s.DeleteSlot(ctx, "x"))
	_, ok, _ = s.GetSlot(ctx, "x")
	assert.False(t, ok)
}

func TestTokenStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	slots := NewMemoryStore()
	s := NewTokenStore(slots)
	assert.False(t, s.Authenticated())
	assert.Nil(t, s.Get())

	exp := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.Set(ctx, &planningcenter.AccessToken{Value: "tok", ExpiresAt: exp}))
	assert.True(t, s.Authenticated())
	assert.Equal(t, "tok", s.Get().Value)

	restored := NewTokenStore(slots)
	tok, err := restored.Restore(ctx)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "tok", tok.Value)
	assert.True(t, exp.Equal(tok.ExpiresAt))
	assert.True(t, restored.Authenticated())

	require.NoError(t, restored.Clear(ctx))
	require.NoError(t, restored.Clear(ctx))
	assert.False(t, restored.Authenticated())

	tok, err = NewTokenStore(slots).Restore(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestTokenStoreSetWithoutExpiryDropsOldExpiry(t *testing.T) {
	ctx := context.Background()
	slots := NewMemoryStore()
	s := NewTokenStore(slots)
	require.NoError(t, s.Set(ctx, &planningcenter.AccessToken{Value: "a", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, s.Set(ctx, &planningcenter.AccessToken{Value: "b"}))

	_, ok, err := slots.GetSlot(ctx, SlotAccessTokenExpiry)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenStoreSetFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore(failingStore{NewMemoryStore()})
	assert.Error(t, s.Set(ctx, &planningcenter.AccessToken{Value: "tok"}))
	assert.False(t, s.Authenticated())
	assert.Error(t, s.Set(ctx, nil))
}

func TestTokenStorePartialWriteFailureKeepsSlots(t *testing.T) {
	oldExp := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	for _, slot := range []string{SlotAccessTokenExpiry, SlotAccessToken} {
		t.Run(slot, func(t *testing.T) {
			ctx := context.Background()
			mem := NewMemoryStore()
			require.NoError(t, NewTokenStore(mem).Set(ctx, &planningcenter.AccessToken{Value: "old", ExpiresAt: oldExp}))

			s := NewTokenStore(slotFailingStore{MemoryStore: mem, slot: slot})
			_, err := s.Restore(ctx)
			require.NoError(t, err)

			err = s.Set(ctx, &planningcenter.AccessToken{Value: "new", ExpiresAt: oldExp.Add(time.Hour)})
			require.Error(t, err)
			assert.Equal(t, "old", s.Get().Value)

			v, ok, err := mem.GetSlot(ctx, SlotAccessToken)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "old", v)

			tok, err := NewTokenStore(mem).Restore(ctx)
			require.NoError(t, err)
			require.NotNil(t, tok)
			assert.Equal(t, "old", tok.Value)
			assert.True(t, oldExp.Equal(tok.ExpiresAt))
		})
	}
}

func TestTokenStoreFailedSetWithoutExpiryKeepsOldExpiry(t *testing.T) {
	ctx := context.Background()
	oldExp := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	mem := NewMemoryStore()
	require.NoError(t, NewTokenStore(mem).Set(ctx, &planningcenter.AccessToken{Value: "old", ExpiresAt: oldExp}))

	s := NewTokenStore(slotFailingStore{MemoryStore: mem, slot: SlotAccessToken})
	require.Error(t, s.Set(ctx, &planningcenter.AccessToken{Value: "new"}))

	v, ok, err := mem.GetSlot(ctx, SlotAccessTokenExpiry)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, oldExp.Format(time.RFC3339), v)
}

func TestPreferencesTheme(t *testing.T) {
	ctx := context.Background()
	p := NewPreferences(NewMemoryStore(), "15")

	th, err := p.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, th)

	th, err = p.ToggleTheme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, th)

	th, err = p.ToggleTheme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, th)
}

func TestPreferencesSyncInterval(t *testing.T) {
	ctx := context.Background()
	slots := NewMemoryStore()
	p := NewPreferences(slots, "15")

	v, err := p.SyncInterval(ctx)
	require.NoError(t, err)
	assert.Equal(t, "15", v)

	require.NoError(t, p.SetSyncInterval(ctx, " 30 "))
	n, err := p.SyncIntervalMinutes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	for _, bad := range []string{"0", "-5", "soon", ""} {
		assert.ErrorIs(t, p.SetSyncInterval(ctx, bad), ErrInvalidSyncInterval, bad)
	}
	v, _ = p.SyncInterval(ctx)
	assert.Equal(t, "30", v)

	require.NoError(t, slots.PutSlot(ctx, SlotSyncInterval, "garbage"))
	v, err = p.SyncInterval(ctx)
	require.NoError(t, err)
	assert.Equal(t, "15", v)
}

func TestPreferencesToggleFieldDefinition(t *testing.T) {
	ctx := context.Background()
	p := NewPreferences(NewMemoryStore(), "15")

	ids, err := p.SelectedFieldIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = p.ToggleFieldDefinition(ctx, "b")
	require.NoError(t, err)
	_, err = p.ToggleFieldDefinition(ctx, "a")
	require.NoError(t, err)
	ids, err = p.ToggleFieldDefinition(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, ids)

	ids, err = p.ToggleFieldDefinition(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids)

	n, err := p.SelectedFieldCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err = p.SelectedFieldIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids)
}
