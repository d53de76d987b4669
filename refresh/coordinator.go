// Package refresh coordinates access token refreshes so that concurrent
// callers share a single in-flight refresh request.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-authgate/dashboard-client/tokenstore"
)

// DefaultTimeout bounds one refresh network call.
const DefaultTimeout = 10 * time.Second

// Refresher performs the refresh network call.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (tokenstore.Pair, error)
}

// RefresherFunc adapts a function to a Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (tokenstore.Pair, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (tokenstore.Pair, error) {
	return f(ctx, refreshToken)
}

// Observer is notified about refresh cycles. tui.Displayer satisfies it.
type Observer interface {
	Refreshing()
	RefreshOK()
	RefreshFailed(err error)
}

type noopObserver struct{}

func (noopObserver) Refreshing()         {}
func (noopObserver) RefreshOK()          {}
func (noopObserver) RefreshFailed(error) {}

type result struct {
	token string
	err   error
}

// Coordinator guarantees at most one refresh network call at a time.
// Callers arriving while a refresh is in flight wait for its outcome.
type Coordinator struct {
	store     *tokenstore.Store
	refresher Refresher
	timeout   time.Duration
	log       zerolog.Logger
	observer  Observer
	metrics   *Metrics

	mu         sync.Mutex
	refreshing bool
	cycle      uint64
	waiters    []chan result
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the timeout of the refresh network call.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// WithObserver registers an observer for refresh cycles.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithMetrics records refresh cycles in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates a Coordinator for store. The Coordinator is the only
// component that writes tokens during a refresh; it should be shared by every
// caller of the session.
func NewCoordinator(store *tokenstore.Store, refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		refresher: refresher,
		timeout:   DefaultTimeout,
		log:       zerolog.Nop(),
		observer:  noopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsRefreshing reports whether a refresh network call is outstanding.
func (c *Coordinator) IsRefreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// RefreshAccessToken exchanges the stored refresh token for a new pair and
// returns the new access token. Calls made while a refresh is outstanding
// join it instead of starting another one; all of them observe the same
// outcome.
//
// The network call does not depend on ctx. If ctx ends first, the caller
// stops waiting and the refresh still completes for everyone else.
func (c *Coordinator) RefreshAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()

	refreshToken := c.store.RefreshToken()
	if refreshToken == "" {
		err := &Error{Cycle: c.cycle, Err: ErrNoRefreshToken}
		waiters := c.waiters
		c.waiters = nil
		c.mu.Unlock()

		settle(waiters, result{err: err})
		return "", err
	}

	ch := make(chan result, 1)
	c.waiters = append(c.waiters, ch)

	if c.refreshing {
		c.mu.Unlock()
		c.metrics.coalesced()
		c.log.Debug().Msg("refresh in flight, waiting for its outcome")
	} else {
		c.refreshing = true
		c.cycle++
		cycle := c.cycle
		c.mu.Unlock()

		go c.run(ctx, cycle, refreshToken)
	}

	select {
	case r := <-ch:
		return r.token, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// run performs one refresh cycle and settles every waiter queued for it.
func (c *Coordinator) run(ctx context.Context, cycle uint64, refreshToken string) {
	c.observer.Refreshing()
	c.log.Info().Uint64("cycle", cycle).Msg("refreshing access token")
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	pair, err := c.refresher.Refresh(reqCtx, refreshToken)

	// The store is written while refreshing is still set, so no caller can
	// observe Idle together with the old pair.
	var res result
	if err != nil {
		c.store.Clear()
		res.err = &Error{Cycle: cycle, Err: fmt.Errorf("%w: %w", ErrRefreshFailed, err)}
	} else {
		c.store.SetTokens(pair.AccessToken, pair.RefreshToken)
		res.token = pair.AccessToken
	}

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	c.mu.Unlock()

	settle(waiters, res)

	c.metrics.observe(res.err, time.Since(start), len(waiters))
	if res.err != nil {
		c.log.Warn().Err(err).Uint64("cycle", cycle).Int("waiters", len(waiters)).
			Msg("token refresh failed, session cleared")
		c.observer.RefreshFailed(res.err)
		return
	}
	c.log.Info().Uint64("cycle", cycle).Int("waiters", len(waiters)).
		Msg("access token refreshed")
	c.observer.RefreshOK()
}

// settle delivers r to waiters in arrival order. Every channel is buffered,
// so waiters that gave up do not block the others.
func settle(waiters []chan result, r result) {
	for _, ch := range waiters {
		ch <- r
	}
}
