// Package dialogue tracks the single pending conversational mode of each user.
// The mode decides how the next plain message from that user is interpreted.
package dialogue

import (
	"context"
	"sync"
)

type Mode string

const (
	Idle                     Mode = "idle"
	AwaitingImagePrompt      Mode = "awaiting_image_prompt"
	AwaitingDialogueTurn     Mode = "awaiting_dialogue_turn"
	AwaitingBroadcastContent Mode = "awaiting_broadcast_content"
	AwaitingAdminSearchID    Mode = "awaiting_admin_search_id"
)

// State is one stored slot. Token identifies a particular Enter call so that
// stale timers and consumers cannot clear a newer state.
type State struct {
	Mode           Mode   `json:"mode"`
	Token          string `json:"token"`
	SubscribedOnly bool   `json:"subscribed_only,omitempty"`
}

// Store holds at most one state per user.
type Store interface {
	Get(ctx context.Context, userID int64) (State, bool, error)
	Set(ctx context.Context, userID int64, st State) error
	Delete(ctx context.Context, userID int64) error
	// DeleteIfToken removes the state only while it still carries token.
	DeleteIfToken(ctx context.Context, userID int64, token string) (bool, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	states map[int64]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[int64]State)}
}

func (s *MemoryStore) Get(_ context.Context, userID int64) (State, bool, error) {
	s.mu.RLock()
	st, ok := s.states[userID]
	s.mu.RUnlock()
	return st, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, userID int64, st State) error {
	s.mu.Lock()
	s.states[userID] = st
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	delete(s.states, userID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteIfToken(_ context.Context, userID int64, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[userID]
	if !ok || st.Token != token {
		return false, nil
	}
	delete(s.states, userID)
	return true, nil
}
