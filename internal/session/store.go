// Package session holds the admin authentication state and mirrors it to
// durable client storage.
//
// Token and profile are always set and cleared together. A store that has not
// been restored yet reports itself as not hydrated; protected views must wait
// for hydration before deciding whether the user is logged in.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/renderinc/sonymous/internal/api"
)

// Storage keys of the persisted session.
const (
	KeyToken   = "admin_token"
	KeyProfile = "admin_profile"
)

var (
	// ErrEmptyToken is returned by Login when the token is blank.
	ErrEmptyToken = errors.New("session: empty token")

	// ErrNotAuthenticated means a protected view was reached without a session.
	ErrNotAuthenticated = errors.New("session: not authenticated")
)

// Backend is durable key/value storage. SetState and DeleteState must apply
// all keys or none.
type Backend interface {
	GetState(key string) (string, bool, error)
	SetState(values map[string]string) error
	DeleteState(keys ...string) error
}

// Store is the single source of truth for the admin session.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu       sync.RWMutex
	token    string
	profile  *api.AdminProfile
	hydrated chan struct{}
	once     sync.Once
}

// New creates an unhydrated store over backend.
func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:  backend,
		logger:   logger,
		hydrated: make(chan struct{}),
	}
}

// Restore loads the persisted session. Partial or corrupted state is purged
// and the store stays logged out. The store is hydrated afterwards in every case.
func (s *Store) Restore() error {
	defer s.markHydrated()

	token, hasToken, err := s.backend.GetState(KeyToken)
	if err != nil {
		return fmt.Errorf("restore token: %w", err)
	}
	rawProfile, hasProfile, err := s.backend.GetState(KeyProfile)
	if err != nil {
		return fmt.Errorf("restore profile: %w", err)
	}

	if !hasToken && !hasProfile {
		return nil
	}

	var profile api.AdminProfile
	valid := hasToken && token != "" && hasProfile
	if valid {
		if err := json.Unmarshal([]byte(rawProfile), &profile); err != nil {
			valid = false
		}
	}

	if !valid {
		s.logger.Warn("session_restore_discarded",
			slog.Bool("has_token", hasToken),
			slog.Bool("has_profile", hasProfile),
		)
		if err := s.backend.DeleteState(KeyToken, KeyProfile); err != nil {
			return fmt.Errorf("purge session: %w", err)
		}
		return nil
	}

	s.mu.Lock()
	s.token = token
	s.profile = &profile
	s.mu.Unlock()

	s.logger.Info("session_restored", slog.Int64("admin_id", profile.ID))
	return nil
}

// Login persists and activates a session.
func (s *Store) Login(token string, profile api.AdminProfile) error {
	if token == "" {
		return ErrEmptyToken
	}

	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	if err := s.backend.SetState(map[string]string{
		KeyToken:   token,
		KeyProfile: string(raw),
	}); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.profile = &profile
	s.mu.Unlock()

	s.markHydrated()
	s.logger.Info("session_login", slog.Int64("admin_id", profile.ID))
	return nil
}

// Logout clears the session in memory and in storage. The in-memory copy is
// cleared even when storage fails.
func (s *Store) Logout() error {
	s.mu.Lock()
	s.token = ""
	s.profile = nil
	s.mu.Unlock()

	if err := s.backend.DeleteState(KeyToken, KeyProfile); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	s.logger.Info("session_logout")
	return nil
}

// Token implements api.TokenSource.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Profile returns a copy of the admin profile, or nil when logged out.
func (s *Store) Profile() *api.AdminProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil
	}
	p := *s.profile
	return &p
}

// IsAuthenticated reports whether a session is active.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.profile != nil
}

// Hydrated reports whether Restore (or Login) has completed.
func (s *Store) Hydrated() bool {
	select {
	case <-s.hydrated:
		return true
	default:
		return false
	}
}

// WaitHydrated blocks until the store is hydrated or ctx ends.
func (s *Store) WaitHydrated(ctx context.Context) error {
	select {
	case <-s.hydrated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Require is the gate of protected views: it waits for hydration and then
// fails with ErrNotAuthenticated when no session is active.
func (s *Store) Require(ctx context.Context) error {
	if err := s.WaitHydrated(ctx); err != nil {
		return err
	}
	if !s.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	return nil
}

func (s *Store) markHydrated() {
	s.once.Do(func() { close(s.hydrated) })
}
