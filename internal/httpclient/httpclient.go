// Package httpclient builds the go-httpretry clients used to reach the
// dashboard API.
package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/rs/zerolog"
)

// PerAttemptTimeout bounds a single HTTP attempt.
const PerAttemptTimeout = 15 * time.Second

// NewBaseClient returns the http.Client with the TLS 1.2 transport shared by
// every retry client.
func NewBaseClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// New returns a client for data requests. Connection failures are retried;
// every HTTP response, 5xx included, is returned as received.
func New(base *http.Client, log zerolog.Logger) (*retry.Client, error) {
	return retry.NewRealtimeClient(
		retry.WithHTTPClient(base),
		retry.WithPerAttemptTimeout(PerAttemptTimeout),
		retry.WithRetryableChecker(TransportErrorsOnly),
		retry.WithLogger(Logger(log)),
	)
}

// NewSingleShot returns a client that makes exactly one attempt per request.
func NewSingleShot(base *http.Client, log zerolog.Logger) (*retry.Client, error) {
	return retry.NewClient(
		retry.WithHTTPClient(base),
		retry.WithMaxRetries(0),
		retry.WithRetryableChecker(Never),
		retry.WithLogger(Logger(log)),
	)
}

// TransportErrorsOnly retries requests that produced no response, unless
// the caller gave up.
func TransportErrorsOnly(err error, _ *http.Response) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Never reports every outcome as final.
func Never(error, *http.Response) bool {
	return false
}

type zerologAdapter struct {
	log zerolog.Logger
}

// Logger adapts log to the go-httpretry logger. A disabled logger yields
// nil, which go-httpretry treats as no logging.
func Logger(log zerolog.Logger) retry.Logger {
	if log.GetLevel() == zerolog.Disabled {
		return nil
	}
	return zerologAdapter{log: log.With().Str("component", "http").Logger()}
}

func (a zerologAdapter) Debug(msg string, args ...any) { a.log.Debug().Fields(args).Msg(msg) }
func (a zerologAdapter) Info(msg string, args ...any)  { a.log.Info().Fields(args).Msg(msg) }
func (a zerologAdapter) Warn(msg string, args ...any)  { a.log.Warn().Fields(args).Msg(msg) }
func (a zerologAdapter) Error(msg string, args ...any) { a.log.Error().Fields(args).Msg(msg) }
