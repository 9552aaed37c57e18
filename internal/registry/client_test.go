package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/provider-mirror/internal/httpclient"
)

func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func TestValidateBaseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{name: "https registry", url: "https://registry.terraform.io"},
		{name: "http with port and path", url: "http://localhost:8080/mirror/"},
		{name: "missing scheme", url: "registry.terraform.io", wantErr: "scheme must be http or https"},
		{name: "unsupported scheme", url: "ftp://registry.example.com", wantErr: "scheme must be http or https"},
		{name: "missing host", url: "https://", wantErr: "host is required"},
		{name: "empty", url: "", wantErr: "scheme must be http or https"},
		{name: "unparseable", url: "http://[::1", wantErr: "invalid registry URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateBaseURL(tt.url)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewClient_RejectsInvalidURL(t *testing.T) {
	t.Parallel()

	client, err := NewClient(httpclient.NewDefaultClient(0), "not a url")
	require.Error(t, err)
	assert.Nil(t, client)
}

func TestVersionsURL(t *testing.T) {
	t.Parallel()

	client, err := NewClient(httpclient.NewDefaultClient(0), "https://registry.terraform.io/")
	require.NoError(t, err)

	impl := client.(*httpRegistryClient)
	assert.Equal(t,
		"https://registry.terraform.io/v1/providers/hashicorp/aws/versions",
		impl.VersionsURL("hashicorp", "aws"))
	assert.Equal(t,
		"https://registry.terraform.io/v1/providers/my%20org/a%2Fb/versions",
		impl.VersionsURL("my org", "a/b"))
}

func TestFetchVersions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		expected []string
		wantErr  string
	}{
		{
			name:   "extracts version strings",
			status: http.StatusOK,
			body: `{"id": "hashicorp/aws", "versions": [
				{"version": "3.9.0", "protocols": ["5.0"], "platforms": []},
				{"version": "4.0.0"},
				{"version": "bad-version"}
			]}`,
			expected: []string{"3.9.0", "4.0.0", "bad-version"},
		},
		{
			name:     "missing versions field yields empty list",
			status:   http.StatusOK,
			body:     `{"warnings": null}`,
			expected: []string{},
		},
		{
			name:     "empty versions array",
			status:   http.StatusOK,
			body:     `{"versions": []}`,
			expected: []string{},
		},
		{
			name:    "invalid JSON",
			status:  http.StatusOK,
			body:    `{"versions": [`,
			wantErr: "invalid JSON",
		},
		{
			name:    "not found",
			status:  http.StatusNotFound,
			body:    `{"errors": ["Not Found"]}`,
			wantErr: "HTTP 404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var requestedPath string
			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requestedPath = r.URL.Path
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := NewClient(httpclient.NewDefaultClient(5*time.Second), server.URL)
			require.NoError(t, err)

			raw, err := client.FetchVersions(context.Background(), "hashicorp", "aws")

			assert.Equal(t, "/v1/providers/hashicorp/aws/versions", requestedPath)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Contains(t, err.Error(), "hashicorp/aws")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, raw)
		})
	}
}

func TestFetchVersions_HTTPErrorIsUnwrappable(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(httpclient.NewDefaultClient(5*time.Second), server.URL)
	require.NoError(t, err)

	_, err = client.FetchVersions(context.Background(), "hashicorp", "google")
	require.Error(t, err)

	var httpErr *httpclient.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}
