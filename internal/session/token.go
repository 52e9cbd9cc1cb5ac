package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"pcanalytics.shikanime.studio/internal/planningcenter"
)

// TokenStore keeps the access token in memory and mirrors it into slots.
type TokenStore struct {
	slots SlotStore
	tok   atomic.Pointer[planningcenter.AccessToken]
}

// NewTokenStore returns an empty, unauthenticated TokenStore backed by slots.
func NewTokenStore(slots SlotStore) *TokenStore {
	return &TokenStore{slots: slots}
}

// Get returns the in-memory token, or nil.
func (s *TokenStore) Get() *planningcenter.AccessToken { return s.tok.Load() }

// Authenticated reports whether a token is held.
func (s *TokenStore) Authenticated() bool {
	t := s.tok.Load()
	return t != nil && t.Value != ""
}

// Restore loads the token persisted by a previous session.
func (s *TokenStore) Restore(ctx context.Context) (*planningcenter.AccessToken, error) {
	v, ok, err := s.slots.GetSlot(ctx, SlotAccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s slot: %w", SlotAccessToken, err)
	}
	if !ok || v == "" {
		s.tok.Store(nil)
		return nil, nil
	}
	t := &planningcenter.AccessToken{Value: v}
	exp, ok, err := s.slots.GetSlot(ctx, SlotAccessTokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s slot: %w", SlotAccessTokenExpiry, err)
	}
	if ok && exp != "" {
		if t.ExpiresAt, err = time.Parse(time.RFC3339, exp); err != nil {
			return nil, fmt.Errorf("invalid %s slot %q: %w", SlotAccessTokenExpiry, exp, err)
		}
	}
	s.tok.Store(t)
	return t, nil
}

// Set persists t and marks the session authenticated. The expiry is written
// before the token and restored if the token write fails, so a failed Set
// leaves both slots and the in-memory token as they were.
func (s *TokenStore) Set(ctx context.Context, t *planningcenter.AccessToken) error {
	if t == nil || t.Value == "" {
		return errors.New("refusing to store an empty access token")
	}
	prevExp, hadExp, err := s.slots.GetSlot(ctx, SlotAccessTokenExpiry)
	if err != nil {
		return fmt.Errorf("failed to read %s slot: %w", SlotAccessTokenExpiry, err)
	}
	exp := ""
	if !t.ExpiresAt.IsZero() {
		exp = t.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if err := s.putExpiry(ctx, exp, exp != ""); err != nil {
		return fmt.Errorf("failed to write %s slot: %w", SlotAccessTokenExpiry, err)
	}
	if err := s.slots.PutSlot(ctx, SlotAccessToken, t.Value); err != nil {
		err = fmt.Errorf("failed to write %s slot: %w", SlotAccessToken, err)
		if rerr := s.putExpiry(ctx, prevExp, hadExp); rerr != nil {
			return errors.Join(err, fmt.Errorf("failed to restore %s slot: %w", SlotAccessTokenExpiry, rerr))
		}
		return err
	}
	cp := *t
	s.tok.Store(&cp)
	return nil
}

func (s *TokenStore) putExpiry(ctx context.Context, v string, ok bool) error {
	if !ok {
		return s.slots.DeleteSlot(ctx, SlotAccessTokenExpiry)
	}
	return s.slots.PutSlot(ctx, SlotAccessTokenExpiry, v)
}

// Clear forgets the token in memory and in slots. It is safe to call repeatedly.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.tok.Store(nil)
	if err := s.slots.DeleteSlot(ctx, SlotAccessToken); err != nil {
		return fmt.Errorf("failed to delete %s slot: %w", SlotAccessToken, err)
	}
	if err := s.slots.DeleteSlot(ctx, SlotAccessTokenExpiry); err != nil {
		return fmt.Errorf("failed to delete %s slot: %w", SlotAccessTokenExpiry, err)
	}
	return nil
}

var _ planningcenter.TokenStore = (*TokenStore)(nil)
