// Package apiclient sends authenticated requests to the dashboard API.
//
// Every request carries the session's access token and locale. A 401 is
// answered with one coordinated token refresh followed by exactly one retry;
// when the session cannot be renewed the tokens are cleared, the navigator is
// sent to the login page and ErrSessionExpired is returned.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-authgate/dashboard-client/internal/httpclient"
	"github.com/go-authgate/dashboard-client/refresh"
	"github.com/go-authgate/dashboard-client/tokenstore"
)

// DefaultLoginPath is where the navigator is sent when the session expires.
const DefaultLoginPath = "/login"

// Request describes one API call. It is rebuilt on every attempt, so it can
// be sent again after a refresh.
type Request struct {
	Method string
	// Path is relative to the base URL, or an absolute http(s) URL.
	Path   string
	Query  url.Values
	Body   any
	Header http.Header

	// Anonymous requests carry no access token and skip 401 handling.
	Anonymous bool
}

// Response is a successful API response with its body read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if v == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Navigator receives the navigation signal produced on session expiry.
type Navigator interface {
	Navigate(ctx context.Context, path string) error
}

// NavigatorFunc adapts a function to a Navigator.
type NavigatorFunc func(ctx context.Context, path string) error

func (f NavigatorFunc) Navigate(ctx context.Context, path string) error {
	return f(ctx, path)
}

// Observer is notified about the 401 handling. tui.Displayer satisfies it.
type Observer interface {
	AccessTokenRejected()
	TokenRefreshedRetrying()
	SessionExpired()
}

type noopObserver struct{}

func (noopObserver) AccessTokenRejected()    {}
func (noopObserver) TokenRefreshedRetrying() {}
func (noopObserver) SessionExpired()         {}

// Client is the authenticated request wrapper.
type Client struct {
	baseURL   string
	http      *retry.Client
	store     *tokenstore.Store
	coord     *refresh.Coordinator
	navigator Navigator
	observer  Observer
	log       zerolog.Logger
	loginPath string
	fallback  string

	localeMu sync.RWMutex
	locale   string

	inflight atomic.Int32
	// lastExpired is the refresh cycle whose failure was last reported to
	// the navigator, so one expiry produces one navigation.
	lastExpired atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the go-httpretry client used for every request. It
// must hand HTTP responses back unretried; see httpclient.New.
func WithHTTPClient(rc *retry.Client) Option {
	return func(c *Client) {
		c.http = rc
	}
}

// WithNavigator sets the navigator signalled on session expiry.
func WithNavigator(n Navigator) Option {
	return func(c *Client) {
		c.navigator = n
	}
}

// WithObserver registers an observer for 401 handling.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithLoginPath overrides DefaultLoginPath.
func WithLoginPath(p string) Option {
	return func(c *Client) {
		c.loginPath = p
	}
}

// WithFallbackLocale sets the locale sent when none was chosen.
func WithFallbackLocale(tag string) Option {
	return func(c *Client) {
		c.fallback = tag
	}
}

// New creates a Client for the API at baseURL.
func New(baseURL string, store *tokenstore.Store, coord *refresh.Coordinator, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL scheme must be http or https, got: %s", u.Scheme)
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		store:     store,
		coord:     coord,
		observer:  noopObserver{},
		log:       zerolog.Nop(),
		loginPath: DefaultLoginPath,
		fallback:  DefaultLocale,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastExpired.Store(-1)

	if c.fallback, err = normalizeLocale(c.fallback); err != nil {
		return nil, err
	}
	if c.http == nil {
		if c.http, err = httpclient.New(nil, c.log); err != nil {
			return nil, fmt.Errorf("failed to create retry client: %w", err)
		}
	}
	return c, nil
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Loading reports whether any request is in flight.
func (c *Client) Loading() bool {
	return c.inflight.Load() > 0
}

// SetLocale selects the locale sent in Accept-Language.
func (c *Client) SetLocale(tag string) error {
	normalized, err := normalizeLocale(tag)
	if err != nil {
		return err
	}
	c.localeMu.Lock()
	c.locale = normalized
	c.localeMu.Unlock()
	return nil
}

// Locale returns the locale sent in Accept-Language.
func (c *Client) Locale() string {
	c.localeMu.RLock()
	defer c.localeMu.RUnlock()
	if c.locale != "" {
		return c.locale
	}
	return c.fallback
}

// Do sends req with the session credentials and handles 401 responses.
// Non-2xx responses are returned as *StatusError; transport errors are
// returned unchanged.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	c.inflight.Add(1)
	defer c.inflight.Add(-1)

	return c.execute(ctx, req, false)
}

func (c *Client) execute(ctx context.Context, req Request, retried bool) (*Response, error) {
	if req.Anonymous {
		return c.send(ctx, req, "")
	}
	token := c.store.AccessToken()

	resp, err := c.send(ctx, req, token)
	if err == nil {
		return resp, nil
	}

	var serr *StatusError
	if !errors.As(err, &serr) || !serr.Unauthorized() {
		return nil, err
	}

	if retried {
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	if !c.store.HasRefreshToken() {
		return nil, err
	}

	// Another request renewed the session while this one was in flight.
	if current := c.store.AccessToken(); current != "" && current != token {
		c.observer.TokenRefreshedRetrying()
		return c.execute(ctx, req, true)
	}

	c.observer.AccessTokenRejected()
	c.log.Debug().Str("path", req.Path).Msg("access token rejected, refreshing")

	if _, rerr := c.coord.RefreshAccessToken(ctx); rerr != nil {
		if _, ok := refresh.CycleOf(rerr); !ok {
			// The caller stopped waiting; the session may still be fine.
			return nil, rerr
		}
		return nil, c.expire(ctx, rerr)
	}

	c.observer.TokenRefreshedRetrying()
	return c.execute(ctx, req, true)
}

// expire clears the session and signals the navigator once per failed
// refresh cycle.
func (c *Client) expire(ctx context.Context, cause error) error {
	cycle, _ := refresh.CycleOf(cause)
	if c.lastExpired.Swap(int64(cycle)) != int64(cycle) {
		c.store.Clear()
		c.observer.SessionExpired()
		c.log.Warn().Err(cause).Msg("session expired")
		if c.navigator != nil {
			if err := c.navigator.Navigate(ctx, c.loginPath); err != nil {
				c.log.Error().Err(err).Str("path", c.loginPath).Msg("navigation failed")
			}
		}
	}
	return fmt.Errorf("%w: %w", ErrSessionExpired, cause)
}

func (c *Client) send(ctx context.Context, req Request, token string) (*Response, error) {
	httpReq, err := c.newRequest(ctx, req, token)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.DoWithContext(ctx, httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", httpReq.Method, httpReq.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Debug().
			Str("method", httpReq.Method).
			Str("url", httpReq.URL.String()).
			Int("status", resp.StatusCode).
			Msg("api error")
		return nil, &StatusError{
			Method:     httpReq.Method,
			URL:        httpReq.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) newRequest(ctx context.Context, req Request, token string) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(c.resolve(req.Path))
	if err != nil {
		return nil, fmt.Errorf("invalid request URL: %w", err)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		var payload []byte
		switch b := req.Body.(type) {
		case []byte:
			payload = b
		case string:
			payload = []byte(b)
		default:
			if payload, err = json.Marshal(b); err != nil {
				return nil, fmt.Errorf("failed to encode request body: %w", err)
			}
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Accept-Language", c.Locale())
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return httpReq, nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Get loads path and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.call(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

// Post sends body to path and decodes the JSON response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Put sends body to path and decodes the JSON response into out.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

// Patch sends body to path and decodes the JSON response into out.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, Request{Method: http.MethodPatch, Path: path, Body: body}, out)
}

// Delete deletes path and decodes the JSON response into out.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.call(ctx, Request{Method: http.MethodDelete, Path: path}, out)
}

func (c *Client) call(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}
