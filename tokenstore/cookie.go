package tokenstore

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Cookie names used by the dashboard.
const (
	AccessCookie  = "access"
	RefreshCookie = "refresh"
)

// CookieBackend keeps the pair as two same-site cookies of the dashboard
// origin: "access" with a one hour max-age and "refresh" with thirty days.
// Expired cookies disappear from the jar on their own.
type CookieBackend struct {
	mu     sync.Mutex
	jar    http.CookieJar
	origin *url.URL
}

// NewCookieBackend returns a CookieBackend for origin. A nil jar creates a
// fresh public-suffix aware jar.
func NewCookieBackend(origin string, jar http.CookieJar) (*CookieBackend, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid cookie origin: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("cookie origin must include a host: %q", origin)
	}
	if jar == nil {
		jar, err = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, err
		}
	}
	return &CookieBackend{jar: jar, origin: u}, nil
}

// Jar returns the underlying cookie jar.
func (b *CookieBackend) Jar() http.CookieJar {
	return b.jar
}

func (b *CookieBackend) Load(_ context.Context) (Pair, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var pair Pair
	for _, c := range b.jar.Cookies(b.origin) {
		switch c.Name {
		case AccessCookie:
			pair.AccessToken = c.Value
		case RefreshCookie:
			pair.RefreshToken = c.Value
		}
	}
	if pair.IsZero() {
		return Pair{}, ErrNotFound
	}
	return pair, nil
}

func (b *CookieBackend) Save(_ context.Context, pair Pair) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.jar.SetCookies(b.origin, []*http.Cookie{
		b.cookie(AccessCookie, pair.AccessToken, int(AccessTokenMaxAge.Seconds())),
		b.cookie(RefreshCookie, pair.RefreshToken, int(RefreshTokenMaxAge.Seconds())),
	})
	return nil
}

func (b *CookieBackend) Delete(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.jar.SetCookies(b.origin, []*http.Cookie{
		b.cookie(AccessCookie, "", -1),
		b.cookie(RefreshCookie, "", -1),
	})
	return nil
}

func (b *CookieBackend) cookie(name, value string, maxAge int) *http.Cookie {
	// An empty value is stored as a deletion.
	if value == "" {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		SameSite: http.SameSiteLaxMode,
		Secure:   b.origin.Scheme == "https",
	}
}
