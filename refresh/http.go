package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/go-authgate/dashboard-client/internal/httpclient"
	"github.com/go-authgate/dashboard-client/tokenstore"
)

// DefaultExpiresInMins is the access token lifetime requested on refresh.
const DefaultExpiresInMins = 60

// RefreshPath is the auth API refresh endpoint.
const RefreshPath = "/auth/refresh"

type refreshRequest struct {
	RefreshToken  string `json:"refreshToken"`
	ExpiresInMins int    `json:"expiresInMins,omitempty"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// HTTPRefresher calls POST /auth/refresh on the dashboard API. Each call
// makes exactly one network attempt: a rotated refresh token must never be
// replayed.
type HTTPRefresher struct {
	endpoint      string
	client        *retry.Client
	expiresInMins int
}

// RefresherOption configures an HTTPRefresher.
type RefresherOption func(*refresherOptions)

type refresherOptions struct {
	log zerolog.Logger
}

// WithRefresherLogger routes transport logs to l.
func WithRefresherLogger(l zerolog.Logger) RefresherOption {
	return func(o *refresherOptions) {
		o.log = l
	}
}

// NewHTTPRefresher returns a Refresher for the API at baseURL. base supplies
// the transport; nil uses http.DefaultClient.
func NewHTTPRefresher(
	baseURL string,
	base *http.Client,
	expiresInMins int,
	opts ...RefresherOption,
) (*HTTPRefresher, error) {
	o := refresherOptions{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	client, err := httpclient.NewSingleShot(base, o.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh client: %w", err)
	}
	if expiresInMins <= 0 {
		expiresInMins = DefaultExpiresInMins
	}
	return &HTTPRefresher{
		endpoint:      strings.TrimRight(baseURL, "/") + RefreshPath,
		client:        client,
		expiresInMins: expiresInMins,
	}, nil
}

// Refresh exchanges refreshToken for a new pair. Non-2xx responses are
// returned as *oauth2.RetrieveError.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (tokenstore.Pair, error) {
	payload, err := json.Marshal(refreshRequest{
		RefreshToken:  refreshToken,
		ExpiresInMins: r.expiresInMins,
	})
	if err != nil {
		return tokenstore.Pair{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return tokenstore.Pair{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := r.client.DoWithContext(ctx, req)
	if err != nil {
		return tokenstore.Pair{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenstore.Pair{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return tokenstore.Pair{}, &oauth2.RetrieveError{Response: resp, Body: body}
	}

	var tokenResp refreshResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return tokenstore.Pair{}, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return tokenstore.Pair{}, errors.New("refresh response has no access token")
	}

	// Servers without rotation omit the refresh token; keep the old one.
	if tokenResp.RefreshToken == "" {
		tokenResp.RefreshToken = refreshToken
	}

	return tokenstore.Pair{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
	}, nil
}
