package httpclient_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curio-sh/curio/internal/httpclient"
)

// newTestServer creates a new test server with keep-alives disabled.
// This prevents flaky tests when running in parallel, as closing a server
// with keep-alives enabled can affect other tests sharing the HTTP transport.
func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func TestNewDefaultClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		timeout time.Duration
	}{
		{
			name:    "create client with custom timeout",
			timeout: 5 * time.Second,
		},
		{
			name:    "create client with zero timeout uses default",
			timeout: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := httpclient.NewDefaultClient(tt.timeout)

			require.NotNil(t, client, "client should not be nil")
		})
	}
}

func TestDefaultClient_Get(t *testing.T) {
	t.Parallel()

	t.Run("successful response with headers", func(t *testing.T) {
		t.Parallel()

		var receivedUserAgent string
		mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedUserAgent = r.Header.Get("User-Agent")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"message": "success"}`))
		}))
		defer mockServer.Close()

		client := httpclient.NewDefaultClient(30 * time.Second)

		data, err := client.Get(context.Background(), mockServer.URL)

		require.NoError(t, err)
		assert.Equal(t, []byte(`{"message": "success"}`), data)
		assert.Equal(t, "curio/1.0", receivedUserAgent, "User-Agent header should be set correctly")
	})

	t.Run("HTTP error statuses return HTTPError", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name          string
			statusCode    int
			errorContains string
		}{
			{
				name:          "404 not found",
				statusCode:    http.StatusNotFound,
				errorContains: "HTTP 404",
			},
			{
				name:          "500 internal server error",
				statusCode:    http.StatusInternalServerError,
				errorContains: "HTTP 500",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(tt.statusCode)
				}))
				defer mockServer.Close()

				client := httpclient.NewDefaultClient(30 * time.Second)

				_, err := client.Get(context.Background(), mockServer.URL)

				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
			})
		}
	})

	t.Run("invalid URL", func(t *testing.T) {
		t.Parallel()

		client := httpclient.NewDefaultClient(30 * time.Second)

		_, err := client.Get(context.Background(), "://invalid-url")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create request")
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		t.Parallel()

		mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(2 * time.Second)
			w.WriteHeader(http.StatusOK)
		}))
		defer mockServer.Close()

		client := httpclient.NewDefaultClient(30 * time.Second)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := client.Get(ctx, mockServer.URL)

		require.Error(t, err)
	})

	t.Run("rejects oversized Content-Length", func(t *testing.T) {
		t.Parallel()

		mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", httpclient.MaxResponseSize+1))
			w.WriteHeader(http.StatusOK)
		}))
		defer mockServer.Close()

		client := httpclient.NewDefaultClient(30 * time.Second)

		_, err := client.Get(context.Background(), mockServer.URL)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds maximum allowed size")
	})

	t.Run("rejects oversized body without Content-Length", func(t *testing.T) {
		t.Parallel()

		mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			chunk := make([]byte, 1024*1024)
			for i := 0; i < 11; i++ {
				_, _ = w.Write(chunk)
			}
		}))
		defer mockServer.Close()

		client := httpclient.NewDefaultClient(30 * time.Second)

		_, err := client.Get(context.Background(), mockServer.URL)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds maximum allowed size")
	})
}

func TestRetryingClient_Get(t *testing.T) {
	t.Parallel()

	t.Run("retries transient failures until success", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		}))
		defer mockServer.Close()

		client := httpclient.NewRetryingClient(
			httpclient.NewDefaultClient(5*time.Second), 3,
			httpclient.WithRetryInterval(10*time.Millisecond))

		data, err := client.Get(context.Background(), mockServer.URL)

		require.NoError(t, err)
		assert.Equal(t, []byte("ok"), data)
		assert.Equal(t, int32(3), calls.Load(), "server should have been called three times")
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer mockServer.Close()

		client := httpclient.NewRetryingClient(
			httpclient.NewDefaultClient(5*time.Second), 3,
			httpclient.WithRetryInterval(10*time.Millisecond))

		_, err := client.Get(context.Background(), mockServer.URL)

		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load(), "404 should not be retried")
	})

	t.Run("gives up after max tries", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer mockServer.Close()

		client := httpclient.NewRetryingClient(
			httpclient.NewDefaultClient(5*time.Second), 2,
			httpclient.WithRetryInterval(10*time.Millisecond))

		_, err := client.Get(context.Background(), mockServer.URL)

		require.Error(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})
}
