// Package session keeps the per-deployment state that survives restarts:
// the access token and the user's dashboard preferences.
package session

import (
	"context"
	"sync"
)

// Durable slot names.
const (
	SlotAccessToken       = "access_token"
	SlotAccessTokenExpiry = "access_token_expiry"
	SlotTheme             = "theme"
	SlotSyncInterval      = "sync_interval"
	SlotSelectedFieldIDs  = "selected_field_ids"
)

// SlotStore is durable key/value storage addressed by named slots.
// GetSlot reports ok=false when the slot was never written.
type SlotStore interface {
	GetSlot(ctx context.Context, name string) (value string, ok bool, err error)
	PutSlot(ctx context.Context, name, value string) error
	DeleteSlot(ctx context.Context, name string) error
}

// MemoryStore is a SlotStore that lives as long as the process.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]string)}
}

func (s *MemoryStore) GetSlot(_ context.Context, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.slots[name]
	return v, ok, nil
}

func (s *MemoryStore) PutSlot(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[name] = value
	return nil
}

func (s *MemoryStore) DeleteSlot(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, name)
	return nil
}
