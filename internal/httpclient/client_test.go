package httpclient_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/provider-mirror/internal/httpclient"
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
		name     string
		timeout  time.Duration
		expected time.Duration
	}{
		{name: "custom timeout", timeout: 5 * time.Second, expected: 5 * time.Second},
		{name: "zero timeout uses default", timeout: 0, expected: httpclient.DefaultTimeout},
		{name: "negative timeout uses default", timeout: -time.Second, expected: httpclient.DefaultTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := httpclient.NewDefaultClient(tt.timeout)

			require.NotNil(t, client)
			assert.Equal(t, tt.expected, client.Timeout())
		})
	}
}

func TestDefaultClient_Get_Success(t *testing.T) {
	t.Parallel()

	var receivedUserAgent, receivedAccept string
	mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedUserAgent = r.Header.Get("User-Agent")
		receivedAccept = r.Header.Get("Accept")

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"versions": []}`))
	}))
	defer mockServer.Close()

	client := httpclient.NewDefaultClient(5 * time.Second)
	data, err := client.Get(context.Background(), mockServer.URL)

	require.NoError(t, err)
	assert.Equal(t, []byte(`{"versions": []}`), data)
	assert.Equal(t, "provider-mirror/1.0", receivedUserAgent, "User-Agent header should be set correctly")
	assert.Equal(t, "application/json", receivedAccept, "Accept header should be set correctly")
}

func TestDefaultClient_Get_HTTPErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
	}{
		{name: "404 Not Found", statusCode: http.StatusNotFound},
		{name: "500 Internal Server Error", statusCode: http.StatusInternalServerError},
		{name: "429 Too Many Requests", statusCode: http.StatusTooManyRequests},
		{name: "301 without redirect target", statusCode: http.StatusMovedPermanently},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer mockServer.Close()

			client := httpclient.NewDefaultClient(5 * time.Second)
			_, err := client.Get(context.Background(), mockServer.URL)

			require.Error(t, err)
			var httpErr *httpclient.HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.statusCode, httpErr.StatusCode)
			assert.Contains(t, err.Error(), fmt.Sprintf("HTTP %d", tt.statusCode))
		})
	}
}

func TestDefaultClient_Get_NetworkErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		url           string
		errorContains string
	}{
		{name: "invalid URL scheme", url: "://invalid-url", errorContains: "failed to create request"},
		{name: "unreachable host", url: "http://invalid-host-does-not-exist.local:9999", errorContains: "failed to execute request"},
		{name: "empty URL", url: "", errorContains: "failed to execute request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := httpclient.NewDefaultClient(5 * time.Second)
			_, err := client.Get(context.Background(), tt.url)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestDefaultClient_Get_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer mockServer.Close()
	defer close(release)

	client := httpclient.NewDefaultClient(100 * time.Millisecond)
	start := time.Now()
	_, err := client.Get(context.Background(), mockServer.URL)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "client timeout should bound the request")
}

func TestDefaultClient_Get_ContextCancellation(t *testing.T) {
	t.Parallel()

	mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer mockServer.Close()

	client := httpclient.NewDefaultClient(5 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Get(ctx, mockServer.URL)
	require.Error(t, err)
}

func TestDefaultClient_Get_SizeLimitExceeded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "reject via Content-Length",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Length", fmt.Sprintf("%d", httpclient.MaxResponseSize+1))
				w.WriteHeader(http.StatusOK)
			},
		},
		{
			name: "reject by actual content",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				chunk := make([]byte, 1024*1024)
				for i := 0; i < 11; i++ {
					_, _ = w.Write(chunk)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mockServer := newTestServer(tt.handler)
			defer mockServer.Close()

			client := httpclient.NewDefaultClient(10 * time.Second)
			_, err := client.Get(context.Background(), mockServer.URL)

			require.Error(t, err)
			assert.Contains(t, err.Error(), "exceeds maximum allowed size")
		})
	}
}
