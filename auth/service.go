// Package auth implements login, logout and current-user lookup on top of
// the authenticated API client.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/go-authgate/dashboard-client/apiclient"
	"github.com/go-authgate/dashboard-client/tokenstore"
)

const (
	LoginPath = "/auth/login"
	MePath    = "/auth/me"

	// DefaultExpiresInMins is the access token lifetime requested on login.
	DefaultExpiresInMins = 60

	// LookupTimeout bounds a shared /auth/me request.
	LookupTimeout = 30 * time.Second
)

var (
	ErrMissingCredentials = errors.New("username and password are required")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Credentials are sent to the login endpoint.
type Credentials struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	ExpiresInMins int    `json:"expiresInMins,omitempty"`
}

// User is the profile of the signed-in account.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Gender    string `json:"gender"`
	Image     string `json:"image"`
}

// FullName returns "First Last", or the username when both are empty.
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Username
}

type loginResponse struct {
	User
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Service manages the session of one user.
type Service struct {
	api       *apiclient.Client
	store     *tokenstore.Store
	navigator apiclient.Navigator
	log       zerolog.Logger
	loginPath string

	me singleflight.Group

	mu   sync.RWMutex
	user *User
}

// Option configures a Service.
type Option func(*Service)

// WithNavigator sets the navigator used by Logout.
func WithNavigator(n apiclient.Navigator) Option {
	return func(s *Service) {
		s.navigator = n
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// WithLoginPath overrides apiclient.DefaultLoginPath for Logout.
func WithLoginPath(p string) Option {
	return func(s *Service) {
		s.loginPath = p
	}
}

// NewService creates a Service sharing the client's token store.
func NewService(api *apiclient.Client, store *tokenstore.Store, opts ...Option) *Service {
	s := &Service{
		api:       api,
		store:     store,
		log:       zerolog.Nop(),
		loginPath: apiclient.DefaultLoginPath,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login exchanges credentials for a token pair and stores it.
func (s *Service) Login(ctx context.Context, creds Credentials) (*User, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, ErrMissingCredentials
	}
	if creds.ExpiresInMins <= 0 {
		creds.ExpiresInMins = DefaultExpiresInMins
	}

	resp, err := s.api.Do(ctx, apiclient.Request{
		Method:    http.MethodPost,
		Path:      LoginPath,
		Body:      creds,
		Anonymous: true,
	})
	if err != nil {
		var serr *apiclient.StatusError
		if errors.As(err, &serr) && (serr.StatusCode == http.StatusBadRequest || serr.Unauthorized()) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, serverMessage(serr.Body, serr.Error()))
		}
		return nil, fmt.Errorf("login failed: %w", err)
	}

	var out loginResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		return nil, errors.New("login response is missing tokens")
	}

	s.store.SetTokens(out.AccessToken, out.RefreshToken)
	user := out.User
	s.setUser(&user)

	s.log.Info().Str("username", user.Username).Msg("logged in")
	return &user, nil
}

// Logout clears the session and sends the navigator to the login page.
func (s *Service) Logout(ctx context.Context) error {
	s.store.Clear()
	s.setUser(nil)
	s.me.Forget(MePath)
	s.log.Info().Msg("logged out")

	if s.navigator == nil {
		return nil
	}
	return s.navigator.Navigate(ctx, s.loginPath)
}

// CurrentUser returns the signed-in user. Without an access token it returns
// nil and no error. Concurrent calls share one request, which outlives any
// single caller; a caller whose ctx ends stops waiting with ctx.Err().
func (s *Service) CurrentUser(ctx context.Context) (*User, error) {
	if !s.store.HasAccessToken() {
		return nil, nil
	}

	ch := s.me.DoChan(MePath, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LookupTimeout)
		defer cancel()

		var u User
		if err := s.api.Get(lookupCtx, MePath, nil, &u); err != nil {
			return nil, err
		}
		return &u, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		if errors.Is(res.Err, apiclient.ErrSessionExpired) {
			s.setUser(nil)
		}
		return nil, res.Err
	}
	if res.Shared {
		s.log.Debug().Msg("current user request shared")
	}

	user := res.Val.(*User)
	s.setUser(user)
	return user, nil
}

// User returns the last user seen by Login or CurrentUser.
func (s *Service) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// IsAuthenticated reports whether an access token is present.
func (s *Service) IsAuthenticated() bool {
	return s.store.IsAuthenticated()
}

func (s *Service) setUser(u *User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func serverMessage(body []byte, fallback string) string {
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
		return msg.Message
	}
	return fallback
}
