package main

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/go-authgate/dashboard-client/apiclient"
	"github.com/go-authgate/dashboard-client/auth"
	"github.com/go-authgate/dashboard-client/guard"
	"github.com/go-authgate/dashboard-client/internal/httpclient"
	"github.com/go-authgate/dashboard-client/internal/mockapi"
	"github.com/go-authgate/dashboard-client/refresh"
	"github.com/go-authgate/dashboard-client/resources"
	"github.com/go-authgate/dashboard-client/tokenstore"
	"github.com/go-authgate/dashboard-client/tui"
)

// Mock API demo account, used when no credentials are configured.
const (
	mockUsername = "emilys"
	mockPassword = "emilyspass"
)

const redisPingTimeout = 3 * time.Second

// ErrLoginRequired is returned when the session cannot be restored and no
// credentials are configured.
var ErrLoginRequired = errors.New("login required: set USERNAME and PASSWORD")

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	initConfig()

	tty := isTTY()
	log, closer, err := newLogger(cfg, tty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}

	var runErr error
	if tty {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		runErr = run(tui.NewProgramDisplayer(p), log)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
	} else {
		runErr = run(tui.NewPlainDisplayer(os.Stderr), log)
	}

	if runErr != nil {
		if closer != nil {
			closer.Close()
		}
		os.Exit(1)
	}
}

func run(d tui.Displayer, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runSession(ctx, cfg, d, log)
}

// session holds the components wired for one run.
type session struct {
	store    *tokenstore.Store
	coord    *refresh.Coordinator
	client   *apiclient.Client
	auth     *auth.Service
	guard    *guard.Guard
	registry *prometheus.Registry
	source   string
	cleanup  []func()
}

func (s *session) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// newSession wires the token store, refresh coordinator, API client, auth
// service and route guard for c.
func newSession(ctx context.Context, c config, d tui.Displayer, log zerolog.Logger) (*session, error) {
	s := &session{registry: prometheus.NewRegistry()}

	backend, err := s.backend(ctx, c)
	if err != nil {
		s.close()
		return nil, err
	}

	s.store, err = tokenstore.NewStore(ctx, backend, tokenstore.WithLogger(log))
	if err != nil {
		s.close()
		return nil, err
	}

	base := httpclient.NewBaseClient()
	httpClient, err := httpclient.New(base, log)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}

	refresher, err := refresh.NewHTTPRefresher(c.baseURL, base, c.expiresInMins,
		refresh.WithRefresherLogger(log))
	if err != nil {
		s.close()
		return nil, err
	}

	metrics, err := refresh.NewMetrics(s.registry)
	if err != nil {
		s.close()
		return nil, err
	}

	s.coord = refresh.NewCoordinator(s.store, refresher,
		refresh.WithLogger(log),
		refresh.WithObserver(d),
		refresh.WithMetrics(metrics),
	)

	nav := apiclient.NavigatorFunc(func(_ context.Context, path string) error {
		d.Navigated(path)
		return nil
	})

	s.client, err = apiclient.New(c.baseURL, s.store, s.coord,
		apiclient.WithHTTPClient(httpClient),
		apiclient.WithNavigator(nav),
		apiclient.WithObserver(d),
		apiclient.WithLogger(log),
		apiclient.WithFallbackLocale(c.locale),
	)
	if err != nil {
		s.close()
		return nil, err
	}

	s.auth = auth.NewService(s.client, s.store, auth.WithNavigator(nav), auth.WithLogger(log))
	s.guard = guard.New(s.store, s.coord, guard.WithLogger(log))
	return s, nil
}

// backend selects the cookie jar for ephemeral runs, redis when an address is
// configured, else the token file.
func (s *session) backend(ctx context.Context, c config) (tokenstore.Backend, error) {
	if c.ephemeral {
		b, err := tokenstore.NewCookieBackend(c.baseURL, nil)
		if err != nil {
			return nil, err
		}
		s.source = "session cookies"
		return b, nil
	}
	if c.redisAddr == "" {
		s.source = c.tokenFile
		return tokenstore.NewFileBackend(c.tokenFile, c.profile), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: c.redisAddr})
	s.cleanup = append(s.cleanup, func() { rdb.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis %s: %w", c.redisAddr, err)
	}

	b := tokenstore.NewRedisBackend(rdb, "", c.profile)
	s.source = "redis " + b.Key()
	return b, nil
}

// runSession restores or creates a session, verifies it and loads the
// dashboard summary.
func runSession(ctx context.Context, c config, d tui.Displayer, log zerolog.Logger) error {
	if c.mock {
		api := mockapi.New(mockapi.Config{AccessTTL: time.Duration(c.expiresInMins) * time.Minute})
		srv := httptest.NewServer(api)
		defer srv.Close()

		c.baseURL = srv.URL
		if c.username == "" && c.password == "" {
			c.username, c.password = mockUsername, mockPassword
		}
	}
	d.Banner(c.baseURL)

	s, err := newSession(ctx, c, d, log)
	if err != nil {
		d.Fatal(err)
		return err
	}
	defer s.close()

	if s.store.Tokens().IsZero() {
		d.TokensNotFound()
	} else {
		d.TokensFound(s.source)
	}

	user, err := establish(ctx, c, s, d)
	if err != nil {
		d.Fatal(err)
		return err
	}

	d.LoadingDashboard()
	stats, err := resources.NewDashboard(s.client).Stats(ctx)
	if err != nil {
		d.Fatal(err)
		return err
	}
	d.DashboardLoaded(stats.TotalUsers, stats.TotalProducts, stats.TotalOrders)

	access := s.store.AccessToken()
	preview := access
	if len(preview) > 20 {
		preview = preview[:20]
	}
	d.Done(tui.Summary{
		User:      user.FullName(),
		Preview:   preview,
		ExpiresIn: tokenExpiresIn(s.store.SetAt(), c.expiresInMins),
		Locale:    s.client.Locale(),
		Users:     stats.TotalUsers,
		Products:  stats.TotalProducts,
		Orders:    stats.TotalOrders,
	})

	log.Debug().Float64("refresh_cycles", refreshCycles(s.registry)).Msg("session complete")
	return nil
}

// establish passes the guard for the dashboard home, logging in when it
// redirects, and verifies the session against /auth/me.
func establish(ctx context.Context, c config, s *session, d tui.Displayer) (*auth.User, error) {
	if dec := s.guard.Check(ctx, guard.HomePath); !dec.Allowed() {
		d.Navigated(dec.Redirect)
		if err := login(ctx, c, s, d); err != nil {
			return nil, err
		}
	}

	d.Verifying()
	user, err := s.auth.CurrentUser(ctx)
	if errors.Is(err, apiclient.ErrSessionExpired) {
		d.VerifyFailed(err)
		// The stored session is gone; start a new one once.
		if err := login(ctx, c, s, d); err != nil {
			return nil, err
		}
		d.Verifying()
		user, err = s.auth.CurrentUser(ctx)
	}
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrLoginRequired
	}
	d.VerifyOK(user.FullName())
	return user, nil
}

func login(ctx context.Context, c config, s *session, d tui.Displayer) error {
	if c.username == "" || c.password == "" {
		return ErrLoginRequired
	}
	d.LoggingIn(c.username)
	user, err := s.auth.Login(ctx, auth.Credentials{
		Username:      c.username,
		Password:      c.password,
		ExpiresInMins: c.expiresInMins,
	})
	if err != nil {
		return err
	}
	d.LoginOK(user.FullName())
	return nil
}

// tokenExpiresIn estimates the remaining access token lifetime from when
// this run stored the pair and the lifetime it requested. A restored pair
// reports zero.
func tokenExpiresIn(setAt time.Time, mins int) time.Duration {
	if setAt.IsZero() {
		return 0
	}
	return max(time.Until(setAt.Add(time.Duration(mins)*time.Minute)), 0)
}

// refreshCycles sums the refresh cycles recorded in reg.
func refreshCycles(reg prometheus.Gatherer) float64 {
	families, err := reg.Gather()
	if err != nil {
		return 0
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != refresh.CyclesMetric {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
