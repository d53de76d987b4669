package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/dashboard-client/internal/mockapi"
	"github.com/go-authgate/dashboard-client/refresh"
	"github.com/go-authgate/dashboard-client/tokenstore"
)

type navRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (n *navRecorder) Navigate(_ context.Context, path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
	return nil
}

func (n *navRecorder) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

type countingObserver struct {
	rejected atomic.Int32
	retrying atomic.Int32
	expired  atomic.Int32
}

func (o *countingObserver) AccessTokenRejected()    { o.rejected.Add(1) }
func (o *countingObserver) TokenRefreshedRetrying() { o.retrying.Add(1) }
func (o *countingObserver) SessionExpired()         { o.expired.Add(1) }

func newStore(t *testing.T, access, refreshToken string) *tokenstore.Store {
	t.Helper()
	backend := tokenstore.NewMemoryBackendWith(tokenstore.Pair{
		AccessToken:  access,
		RefreshToken: refreshToken,
	})
	store, err := tokenstore.NewStore(context.Background(), backend)
	require.NoError(t, err)
	return store
}

func newClient(
	t *testing.T,
	baseURL string,
	store *tokenstore.Store,
	refresher refresh.Refresher,
	opts ...Option,
) *Client {
	t.Helper()
	coord := refresh.NewCoordinator(store, refresher)
	c, err := New(baseURL, store, coord, opts...)
	require.NoError(t, err)
	return c
}

func httpRefresher(t *testing.T, baseURL string) refresh.Refresher {
	t.Helper()
	r, err := refresh.NewHTTPRefresher(baseURL, nil, 0)
	require.NoError(t, err)
	return r
}

func unusedRefresher(t *testing.T) refresh.Refresher {
	return refresh.RefresherFunc(func(context.Context, string) (tokenstore.Pair, error) {
		t.Error("refresh must not be called")
		return tokenstore.Pair{}, errors.New("unexpected refresh")
	})
}

func TestDoSetsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	store := newStore(t, "access-1", "refresh-1")
	c := newClient(t, srv.URL, store, unusedRefresher(t))

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.Get(context.Background(), "/users", nil, &out))
	assert.True(t, out.OK)

	assert.Equal(t, "Bearer access-1", got.Get("Authorization"))
	assert.Equal(t, "uz", got.Get("Accept-Language"))
	assert.NotEmpty(t, got.Get("X-Request-ID"))
	assert.Equal(t, "application/json", got.Get("Accept"))
}

func TestDoWithoutAccessTokenSendsNoAuthorization(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, newStore(t, "", ""), unusedRefresher(t))
	_, err := c.Do(context.Background(), Request{Path: "/products"})
	require.NoError(t, err)
	assert.Equal(t, "", auth.Load())
}

func TestDoRefreshesAndRetriesOnce(t *testing.T) {
	api := mockapi.New(mockapi.Config{})
	srv := httptest.NewServer(api)
	defer srv.Close()

	access, refreshToken, err := api.IssueTokens("emilys")
	require.NoError(t, err)
	api.ExpireAccessTokens()

	store := newStore(t, access, refreshToken)
	obs := &countingObserver{}
	nav := &navRecorder{}
	c := newClient(t, srv.URL, store, httpRefresher(t, srv.URL),
		WithObserver(obs), WithNavigator(nav))

	var me struct {
		Username string `json:"username"`
	}
	require.NoError(t, c.Get(context.Background(), "/auth/me", nil, &me))

	assert.Equal(t, "emilys", me.Username)
	assert.Equal(t, 1, api.RefreshCalls())
	assert.NotEqual(t, access, store.AccessToken())
	assert.Equal(t, int32(1), obs.rejected.Load())
	assert.Equal(t, int32(1), obs.retrying.Load())
	assert.Empty(t, nav.Paths())
	assert.False(t, c.Loading())
}

func TestDoRetriedUnauthorizedIsSessionExpired(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var refreshes atomic.Int32
	refresher := refresh.RefresherFunc(func(context.Context, string) (tokenstore.Pair, error) {
		refreshes.Add(1)
		return tokenstore.Pair{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
	})

	store := newStore(t, "access-1", "refresh-1")
	nav := &navRecorder{}
	c := newClient(t, srv.URL, store, refresher, WithNavigator(nav))

	_, err := c.Do(context.Background(), Request{Path: "/carts"})
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, int32(2), hits.Load(), "exactly one retry")
	assert.Equal(t, int32(1), refreshes.Load())
	// The refresh succeeded, so the new session stays in place.
	assert.Equal(t, "access-2", store.AccessToken())
	assert.Empty(t, nav.Paths())
}

func TestDoConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	api := mockapi.New(mockapi.Config{})
	api.SetRefreshDelay(100 * time.Millisecond)
	srv := httptest.NewServer(api)
	defer srv.Close()

	access, refreshToken, err := api.IssueTokens("emilys")
	require.NoError(t, err)
	api.ExpireAccessTokens()

	store := newStore(t, access, refreshToken)
	c := newClient(t, srv.URL, store, httpRefresher(t, srv.URL))

	const n = 10
	paths := []string{"/users", "/products", "/carts", "/auth/me"}
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Do(context.Background(), Request{Path: paths[i%len(paths)]})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
	assert.Equal(t, 1, api.RefreshCalls())
	assert.False(t, c.Loading())
}

func TestDoRefreshFailureExpiresSessionOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	release := make(chan struct{})
	var refreshes atomic.Int32
	refresher := refresh.RefresherFunc(func(context.Context, string) (tokenstore.Pair, error) {
		refreshes.Add(1)
		<-release
		return tokenstore.Pair{}, errors.New("invalid refresh token")
	})

	store := newStore(t, "access-1", "refresh-1")
	obs := &countingObserver{}
	nav := &navRecorder{}
	c := newClient(t, srv.URL, store, refresher, WithObserver(obs), WithNavigator(nav))

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Do(context.Background(), Request{Path: "/users"})
		}()
	}

	require.Eventually(t, func() bool {
		return obs.rejected.Load() == n
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		assert.ErrorIs(t, err, ErrSessionExpired, "request %d", i)
		assert.ErrorIs(t, err, refresh.ErrRefreshFailed, "request %d", i)
	}
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, []string{DefaultLoginPath}, nav.Paths())
	assert.Equal(t, int32(1), obs.expired.Load())
	assert.False(t, store.IsAuthenticated())
	assert.False(t, store.HasRefreshToken())
	assert.False(t, c.Loading())
}

func TestDoRefreshFailureWithMockAPI(t *testing.T) {
	api := mockapi.New(mockapi.Config{})
	srv := httptest.NewServer(api)
	defer srv.Close()

	access, refreshToken, err := api.IssueTokens("emilys")
	require.NoError(t, err)
	api.ExpireAccessTokens()
	api.RevokeRefreshTokens()

	store := newStore(t, access, refreshToken)
	nav := &navRecorder{}
	c := newClient(t, srv.URL, store, httpRefresher(t, srv.URL),
		WithNavigator(nav), WithLoginPath("/signin"))

	_, err = c.Do(context.Background(), Request{Path: "/products"})
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, []string{"/signin"}, nav.Paths())
	assert.True(t, store.Tokens().IsZero())
}

func TestDoWithoutRefreshTokenPassesUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Token Expired!"}`))
	}))
	defer srv.Close()

	store := newStore(t, "access-1", "")
	nav := &navRecorder{}
	c := newClient(t, srv.URL, store, unusedRefresher(t), WithNavigator(nav))

	_, err := c.Do(context.Background(), Request{Path: "/users"})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrSessionExpired)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.JSONEq(t, `{"message":"Token Expired!"}`, string(serr.Body))
	assert.Equal(t, "access-1", store.AccessToken())
	assert.Empty(t, nav.Paths())
}

func TestDoNonUnauthorizedPassesThrough(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"forbidden", http.StatusForbidden},
		{"not found", http.StatusNotFound},
		{"bad request", http.StatusBadRequest},
		{"internal server error", http.StatusInternalServerError},
		{"service unavailable", http.StatusServiceUnavailable},
		{"too many requests", http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			store := newStore(t, "access-1", "refresh-1")
			c := newClient(t, srv.URL, store, unusedRefresher(t))

			_, err := c.Do(context.Background(), Request{Path: "/users/1"})
			var serr *StatusError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tt.status, serr.StatusCode)
			assert.NotErrorIs(t, err, ErrUnauthorized)
			assert.Equal(t, int32(1), hits.Load())
			assert.Equal(t, "access-1", store.AccessToken())
		})
	}
}

func TestDoStaleTokenRetriesWithoutRefresh(t *testing.T) {
	var store *tokenstore.Store
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") == "Bearer access-new" {
			w.WriteHeader(http.StatusOK)
			return
		}
		// Another caller renewed the session while this request was in flight.
		store.SetTokens("access-new", "refresh-new")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store = newStore(t, "access-old", "refresh-old")
	obs := &countingObserver{}
	c := newClient(t, srv.URL, store, unusedRefresher(t), WithObserver(obs))

	_, err := c.Do(context.Background(), Request{Path: "/users"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(0), obs.rejected.Load())
	assert.Equal(t, int32(1), obs.retrying.Load())
}

func TestDoWaiterCancelKeepsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	release := make(chan struct{})
	defer close(release)
	refresher := refresh.RefresherFunc(func(ctx context.Context, _ string) (tokenstore.Pair, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return tokenstore.Pair{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
	})

	store := newStore(t, "access-1", "refresh-1")
	nav := &navRecorder{}
	c := newClient(t, srv.URL, store, refresher, WithNavigator(nav))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, Request{Path: "/users"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrSessionExpired)
	assert.Empty(t, nav.Paths())
	assert.True(t, store.HasRefreshToken())
}

func TestLoading(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			close(entered)
			<-release
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, newStore(t, "a", "r"), unusedRefresher(t))
	assert.False(t, c.Loading())

	done := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), Request{Path: "/slow"})
		done <- err
	}()

	<-entered
	assert.True(t, c.Loading())
	close(release)
	require.Error(t, <-done)
	assert.False(t, c.Loading(), "loading flag is cleared on failure")
}

func TestLocale(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Accept-Language"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, newStore(t, "a", "r"), unusedRefresher(t))

	tests := []struct {
		in   string
		want string
	}{
		{"ru", "ru"},
		{"en-US", "en"},
		{"uz-Latn", "uz"},
	}
	for _, tt := range tests {
		require.NoError(t, c.SetLocale(tt.in))
		_, err := c.Do(context.Background(), Request{Path: "/"})
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.Load(), tt.in)
	}

	require.ErrorIs(t, c.SetLocale("fr"), ErrUnsupportedLocale)
	require.ErrorIs(t, c.SetLocale("not a tag!"), ErrUnsupportedLocale)
	assert.Equal(t, "uz", c.Locale(), "rejected locales leave the previous one in place")
}

func TestFallbackLocale(t *testing.T) {
	store := newStore(t, "", "")
	coord := refresh.NewCoordinator(store, unusedRefresher(t))

	c, err := New("http://localhost", store, coord, WithFallbackLocale("ru-RU"))
	require.NoError(t, err)
	assert.Equal(t, "ru", c.Locale())

	_, err = New("http://localhost", store, coord, WithFallbackLocale("de"))
	require.ErrorIs(t, err, ErrUnsupportedLocale)
}

func TestNewValidatesBaseURL(t *testing.T) {
	store := newStore(t, "", "")
	coord := refresh.NewCoordinator(store, unusedRefresher(t))

	for _, raw := range []string{"ftp://example.com", "example.com", "://bad"} {
		_, err := New(raw, store, coord)
		assert.Error(t, err, raw)
	}

	c, err := New("https://dummyjson.com/", store, coord)
	require.NoError(t, err)
	assert.Equal(t, "https://dummyjson.com", c.BaseURL())
}

func TestDoBodyAndAbsoluteURL(t *testing.T) {
	type payload struct {
		Title string `json:"title"`
	}

	var gotBody payload
	var gotType, gotMethod, gotQuery string
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":101,"title":"Phone"}`))
	}))
	defer other.Close()

	c := newClient(t, "http://127.0.0.1:1", newStore(t, "a", "r"), unusedRefresher(t))

	resp, err := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   other.URL + "/products/add?debug=1",
		Body:   payload{Title: "Phone"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "debug=1", gotQuery)
	assert.Equal(t, "Phone", gotBody.Title)

	var created struct {
		ID int `json:"id"`
	}
	require.NoError(t, resp.Decode(&created))
	assert.Equal(t, 101, created.ID)
}

func TestStatusErrorIs(t *testing.T) {
	err := error(&StatusError{Method: "GET", URL: "http://x/users", StatusCode: 401})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "401 Unauthorized")

	err = &StatusError{Method: "GET", URL: "http://x/users", StatusCode: 403}
	assert.NotErrorIs(t, err, ErrUnauthorized)
}
