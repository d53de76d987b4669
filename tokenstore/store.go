// Package tokenstore holds the access/refresh token pair of the current session.
//
// A Store keeps the pair in memory and writes every change through to a Backend
// (memory, token file, cookie jar or redis). Reads never touch the backend and
// never fail.
package tokenstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Token lifetimes mirrored by the persistent backends.
const (
	AccessTokenMaxAge  = time.Hour
	RefreshTokenMaxAge = 30 * 24 * time.Hour
)

// backendTimeout bounds a single write-through to the backend.
const backendTimeout = 5 * time.Second

// ErrNotFound is returned by a Backend that holds no tokens for the session.
var ErrNotFound = errors.New("tokens not found")

// Pair is the access/refresh token pair issued by the auth API.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// IsZero reports whether neither token is set.
func (p Pair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Backend persists a Pair for one session.
type Backend interface {
	Load(ctx context.Context) (Pair, error)
	Save(ctx context.Context, pair Pair) error
	Delete(ctx context.Context) error
}

// Store is the single owner of the session's token lifetime.
type Store struct {
	mu      sync.RWMutex
	pair    Pair
	setAt   time.Time
	backend Backend
	log     zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used to report backend failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// NewStore creates a Store backed by backend and loads the persisted pair.
// A nil backend keeps tokens in memory only.
func NewStore(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{
		backend: backend,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	pair, err := backend.Load(ctx)
	switch {
	case err == nil:
		s.pair = pair
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}
	return s, nil
}

// AccessToken returns the current access token, or "" when absent.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.AccessToken
}

// RefreshToken returns the current refresh token, or "" when absent.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.RefreshToken
}

// Tokens returns a consistent snapshot of both tokens.
func (s *Store) Tokens() Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

// SetAt returns when this Store last received a pair through SetTokens.
// It is zero for a pair loaded from the backend or after Clear.
func (s *Store) SetAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.setAt
}

// HasAccessToken reports whether an access token is present.
func (s *Store) HasAccessToken() bool {
	return s.AccessToken() != ""
}

// HasRefreshToken reports whether a refresh token is present.
func (s *Store) HasRefreshToken() bool {
	return s.RefreshToken() != ""
}

// IsAuthenticated reports whether the session is authenticated, which is
// derived from the presence of an access token.
func (s *Store) IsAuthenticated() bool {
	return s.HasAccessToken()
}

// SetTokens replaces both tokens at once.
func (s *Store) SetTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pair = Pair{AccessToken: access, RefreshToken: refresh}
	s.setAt = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if err := s.backend.Save(ctx, s.pair); err != nil {
		s.log.Error().Err(err).Msg("failed to persist tokens")
	}
}

// Clear removes both tokens.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pair = Pair{}
	s.setAt = time.Time{}

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if err := s.backend.Delete(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to delete persisted tokens")
	}
}
