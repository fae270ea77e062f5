package profile

import (
	"errors"
	"sync"
)

// ErrInvalidProfile is returned by [Store.Set] when u fails [Validate].
var ErrInvalidProfile = errors.New("profile: invalid profile")

// ErrNotFound is returned by [Store.Get] for an unregistered user ID.
var ErrNotFound = errors.New("profile: not found")

// Store is a thread-safe, process-wide registry of validated user profiles,
// keyed by userId. It is one of the server's global composition-root
// singletons (injected into the Room Orchestrator), alongside the room
// directory and the payment-provider client.
//
// The zero value is ready to use.
type Store struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewStore returns a ready-to-use [Store].
func NewStore() *Store {
	return &Store{users: make(map[string]User)}
}

// Set validates and normalizes u, then stores it under u.UserID. Returns
// [ErrInvalidProfile] (joined with the specific violations) if u fails
// validation; the store is left unchanged in that case.
func (s *Store) Set(u User) error {
	if err := Validate(u); err != nil {
		return errors.Join(ErrInvalidProfile, err)
	}
	u = Normalize(u)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]User)
	}
	s.users[u.UserID] = u
	return nil
}

// Get returns the stored profile for userID, or [ErrNotFound].
func (s *Store) Get(userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// GetOrDefault returns the stored profile for userID, or a minimal default
// profile (normalized) when none has been set via set_profile. This lets a
// user join a room without first submitting a profile.
func (s *Store) GetOrDefault(userID string) User {
	if u, err := s.Get(userID); err == nil {
		return u
	}
	return Normalize(User{
		UserID:      userID,
		DisplayName: userID,
	})
}
