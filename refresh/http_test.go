package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestHTTPRefresher_RotationMode(t *testing.T) {
	tests := []struct {
		name                 string
		responseRefreshToken string // empty: server does not return one
		expectedRefreshToken string
	}{
		{
			name:                 "rotation mode - server returns new refresh token",
			responseRefreshToken: "new-refresh-token",
			expectedRefreshToken: "new-refresh-token",
		},
		{
			name:                 "fixed mode - server doesn't return refresh token",
			responseRefreshToken: "",
			expectedRefreshToken: "old-refresh-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != RefreshPath || r.Method != http.MethodPost {
					http.NotFound(w, r)
					return
				}
				var body refreshRequest
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					http.Error(w, "invalid body", http.StatusBadRequest)
					return
				}
				if body.RefreshToken != "old-refresh-token" || body.ExpiresInMins != 30 {
					http.Error(w, "unexpected body", http.StatusBadRequest)
					return
				}
				if r.Header.Get("X-Request-ID") == "" {
					http.Error(w, "missing request id", http.StatusBadRequest)
					return
				}

				response := map[string]any{"accessToken": "new-access-token"}
				if tt.responseRefreshToken != "" {
					response["refreshToken"] = tt.responseRefreshToken
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(response)
			}))
			defer server.Close()

			r, err := NewHTTPRefresher(server.URL+"/", nil, 30)
			require.NoError(t, err)

			pair, err := r.Refresh(context.Background(), "old-refresh-token")
			require.NoError(t, err)
			require.Equal(t, "new-access-token", pair.AccessToken)
			require.Equal(t, tt.expectedRefreshToken, pair.RefreshToken)
		})
	}
}

func TestHTTPRefresher_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		retrieveErr bool
		errContains string
	}{
		{
			name:        "bad request",
			status:      http.StatusBadRequest,
			body:        `{"message":"Invalid refresh token"}`,
			retrieveErr: true,
		},
		{
			name:        "unauthorized",
			status:      http.StatusUnauthorized,
			body:        `{"message":"Token Expired!"}`,
			retrieveErr: true,
		},
		{
			name:        "empty access token",
			status:      http.StatusOK,
			body:        `{"accessToken":"","refreshToken":"r"}`,
			errContains: "no access token",
		},
		{
			name:        "malformed body",
			status:      http.StatusOK,
			body:        `{"accessToken":`,
			errContains: "failed to parse refresh response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			r, err := NewHTTPRefresher(server.URL, nil, 0)
			require.NoError(t, err)

			_, err = r.Refresh(context.Background(), "refresh")
			require.Error(t, err)

			var rerr *oauth2.RetrieveError
			require.Equal(t, tt.retrieveErr, errors.As(err, &rerr))
			if tt.retrieveErr {
				require.Equal(t, tt.status, rerr.Response.StatusCode)
				require.JSONEq(t, tt.body, string(rerr.Body))
			}
			if tt.errContains != "" {
				require.Contains(t, err.Error(), tt.errContains)
			}
		})
	}
}

func TestHTTPRefresher_WithCoordinator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Invalid refresh token"}`))
	}))
	defer server.Close()

	r, err := NewHTTPRefresher(server.URL, nil, 0)
	require.NoError(t, err)

	store := newStore(t, "T1", "R1")
	c := NewCoordinator(store, r)

	_, err = c.RefreshAccessToken(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)

	var rerr *oauth2.RetrieveError
	require.ErrorAs(t, err, &rerr)
	require.False(t, store.HasAccessToken())
	require.False(t, store.HasRefreshToken())
}

func TestHTTPRefresher_ServerErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accessToken":"T2","refreshToken":"R2"}`))
	}))
	defer server.Close()

	r, err := NewHTTPRefresher(server.URL, nil, 0)
	require.NoError(t, err)

	store := newStore(t, "T1", "R1")
	c := NewCoordinator(store, r)

	_, err = c.RefreshAccessToken(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)

	var rerr *oauth2.RetrieveError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, http.StatusServiceUnavailable, rerr.Response.StatusCode)
	require.Equal(t, int32(1), hits.Load())
	require.False(t, store.IsAuthenticated())
}
