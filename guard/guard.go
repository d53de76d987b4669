// Package guard decides whether navigation to a route may proceed based on
// the tokens present in the session.
package guard

import (
	"context"
	"slices"

	"github.com/rs/zerolog"

	"github.com/go-authgate/dashboard-client/apiclient"
	"github.com/go-authgate/dashboard-client/refresh"
	"github.com/go-authgate/dashboard-client/tokenstore"
)

// HomePath is where an authenticated visit to the login page is sent.
const HomePath = "/"

// Decision is the outcome of a route check. An empty Redirect allows the
// navigation.
type Decision struct {
	Redirect string
}

// Allowed reports whether the navigation may proceed.
func (d Decision) Allowed() bool {
	return d.Redirect == ""
}

// Guard checks routes against the session.
type Guard struct {
	store     *tokenstore.Store
	coord     *refresh.Coordinator
	log       zerolog.Logger
	loginPath string
	public    []string
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Guard) {
		g.log = l
	}
}

// WithLoginPath overrides apiclient.DefaultLoginPath.
func WithLoginPath(p string) Option {
	return func(g *Guard) {
		g.loginPath = p
	}
}

// WithPublicRoutes adds routes that never require a session.
func WithPublicRoutes(paths ...string) Option {
	return func(g *Guard) {
		g.public = append(g.public, paths...)
	}
}

// New creates a Guard. The login page is always public.
func New(store *tokenstore.Store, coord *refresh.Coordinator, opts ...Option) *Guard {
	g := &Guard{
		store:     store,
		coord:     coord,
		log:       zerolog.Nop(),
		loginPath: apiclient.DefaultLoginPath,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.public = append(g.public, g.loginPath)
	return g
}

// Check decides whether navigation to path may proceed. A session that has
// only a refresh token is renewed before the decision is made.
func (g *Guard) Check(ctx context.Context, path string) Decision {
	hasAccess := g.store.HasAccessToken()

	if path == g.loginPath && hasAccess {
		return Decision{Redirect: HomePath}
	}
	if slices.Contains(g.public, path) {
		return Decision{}
	}
	if hasAccess {
		return Decision{}
	}

	if g.store.HasRefreshToken() {
		_, err := g.coord.RefreshAccessToken(ctx)
		if err == nil {
			return Decision{}
		}
		g.log.Warn().Err(err).Str("path", path).Msg("session renewal failed")
	}
	return Decision{Redirect: g.loginPath}
}
