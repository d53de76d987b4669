package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/dashboard-client/apiclient"
	"github.com/go-authgate/dashboard-client/internal/mockapi"
	"github.com/go-authgate/dashboard-client/refresh"
	"github.com/go-authgate/dashboard-client/tokenstore"
)

type fixture struct {
	api     *mockapi.Server
	store   *tokenstore.Store
	svc     *Service
	navMu   sync.Mutex
	navPath []string
}

func (f *fixture) navigated() []string {
	f.navMu.Lock()
	defer f.navMu.Unlock()
	return append([]string(nil), f.navPath...)
}

func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()

	f := &fixture{}
	if handler == nil {
		f.api = mockapi.New(mockapi.Config{})
		handler = f.api
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := tokenstore.NewStore(context.Background(), nil)
	require.NoError(t, err)
	f.store = store

	refresher, err := refresh.NewHTTPRefresher(srv.URL, nil, 0)
	require.NoError(t, err)
	coord := refresh.NewCoordinator(store, refresher)

	nav := apiclient.NavigatorFunc(func(_ context.Context, path string) error {
		f.navMu.Lock()
		f.navPath = append(f.navPath, path)
		f.navMu.Unlock()
		return nil
	})
	client, err := apiclient.New(srv.URL, store, coord, apiclient.WithNavigator(nav))
	require.NoError(t, err)

	f.svc = NewService(client, store, WithNavigator(nav))
	return f
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)

	user, err := f.svc.Login(context.Background(), Credentials{Username: "emilys", Password: "emilyspass"})
	require.NoError(t, err)

	assert.Equal(t, 1, user.ID)
	assert.Equal(t, "emilys", user.Username)
	assert.Equal(t, "Emily Johnson", user.FullName())
	assert.True(t, f.svc.IsAuthenticated())
	assert.True(t, f.store.HasRefreshToken())
	assert.Equal(t, user, f.svc.User())
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Login(context.Background(), Credentials{Username: "emilys", Password: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Contains(t, err.Error(), "Invalid credentials")
	assert.False(t, f.svc.IsAuthenticated())

	_, err = f.svc.Login(context.Background(), Credentials{Username: "emilys"})
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.Equal(t, 1, f.api.LoginCalls())
}

func TestLoginIgnoresStaleSession(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SetTokens("stale-access", "stale-refresh")

	_, err := f.svc.Login(context.Background(), Credentials{Username: "emilys", Password: "emilyspass"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.api.RefreshCalls())
	assert.NotEqual(t, "stale-access", f.store.AccessToken())
}

func TestLoginSendsExpiresInMins(t *testing.T) {
	var got Credentials
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":7,"username":"u","accessToken":"a","refreshToken":"r"}`))
	})
	f := newFixture(t, handler)

	_, err := f.svc.Login(context.Background(), Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, DefaultExpiresInMins, got.ExpiresInMins)
	assert.Equal(t, "a", f.store.AccessToken())
}

func TestLoginMissingTokens(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id":7,"username":"u"}`))
	})
	f := newFixture(t, handler)

	_, err := f.svc.Login(context.Background(), Credentials{Username: "u", Password: "p"})
	require.Error(t, err)
	assert.False(t, f.svc.IsAuthenticated())
}

func TestLogout(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Login(context.Background(), Credentials{Username: "emilys", Password: "emilyspass"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background()))
	assert.True(t, f.store.Tokens().IsZero())
	assert.Nil(t, f.svc.User())
	assert.Equal(t, []string{apiclient.DefaultLoginPath}, f.navigated())
}

func TestCurrentUserWithoutSession(t *testing.T) {
	f := newFixture(t, nil)

	user, err := f.svc.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestCurrentUserRefreshesExpiredToken(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Login(context.Background(), Credentials{Username: "emilys", Password: "emilyspass"})
	require.NoError(t, err)
	f.api.ExpireAccessTokens()

	user, err := f.svc.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "emilys", user.Username)
	assert.Equal(t, 1, f.api.RefreshCalls())
}

func TestCurrentUserSessionExpired(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Login(context.Background(), Credentials{Username: "emilys", Password: "emilyspass"})
	require.NoError(t, err)
	f.api.ExpireAccessTokens()
	f.api.SetFailRefresh(true)

	_, err = f.svc.CurrentUser(context.Background())
	require.ErrorIs(t, err, apiclient.ErrSessionExpired)
	assert.Nil(t, f.svc.User())
	assert.False(t, f.svc.IsAuthenticated())
	assert.Equal(t, []string{apiclient.DefaultLoginPath}, f.navigated())
}

func TestCurrentUserCoalesced(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte(`{"id":1,"username":"emilys"}`))
	})
	f := newFixture(t, handler)
	f.store.SetTokens("a", "r")

	const n = 8
	var wg sync.WaitGroup
	users := make([]*User, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := f.svc.CurrentUser(context.Background())
			assert.NoError(t, err)
			users[i] = u
		}()
	}

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, u := range users {
		require.NotNil(t, u)
		assert.Equal(t, "emilys", u.Username)
	}
}

func TestCurrentUserSurvivesCancelledCaller(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte(`{"id":1,"username":"emilys"}`))
	})
	f := newFixture(t, handler)
	f.store.SetTokens("a", "r")

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := f.svc.CurrentUser(ctxA)
		errA <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		user *User
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		u, err := f.svc.CurrentUser(context.Background())
		resB <- result{u, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	require.NotNil(t, b.user)
	assert.Equal(t, "emilys", b.user.Username)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "emilys", f.svc.User().Username)
}
