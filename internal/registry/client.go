package registry

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stacklok/provider-mirror/internal/httpclient"
)

const (
	// DefaultRegistryURL is the public Terraform registry
	DefaultRegistryURL = "https://registry.terraform.io"

	// versionsPathFormat is the provider versions endpoint relative to the registry URL
	versionsPathFormat = "/v1/providers/%s/%s/versions"

	// versionsQuery extracts every version string from the versions response
	versionsQuery = "versions.#.version"
)

// Client fetches the raw version list of a provider
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client
type Client interface {
	// FetchVersions returns the raw version strings published for namespace/name
	FetchVersions(ctx context.Context, namespace, name string) ([]string, error)
}

// httpRegistryClient implements Client against the registry HTTP API
type httpRegistryClient struct {
	httpClient httpclient.Client
	baseURL    string
}

// NewClient creates a registry client for baseURL. The base URL must be an absolute
// http or https URL; a trailing slash is ignored.
func NewClient(httpClient httpclient.Client, baseURL string) (Client, error) {
	if err := ValidateBaseURL(baseURL); err != nil {
		return nil, err
	}
	return &httpRegistryClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// ValidateBaseURL checks that raw is an absolute http(s) URL with a host
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid registry URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid registry URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid registry URL %q: host is required", raw)
	}
	return nil
}

// VersionsURL returns the versions endpoint for namespace/name
func (c *httpRegistryClient) VersionsURL(namespace, name string) string {
	return c.baseURL + fmt.Sprintf(versionsPathFormat, url.PathEscape(namespace), url.PathEscape(name))
}

// FetchVersions performs one GET against the versions endpoint. There is no retry and no
// pagination; the registry is expected to return the full list in one response.
func (c *httpRegistryClient) FetchVersions(ctx context.Context, namespace, name string) ([]string, error) {
	endpoint := c.VersionsURL(namespace, name)

	data, err := c.httpClient.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch versions for %s/%s: %w", namespace, name, err)
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON in versions response for %s/%s", namespace, name)
	}

	result := gjson.GetBytes(data, versionsQuery)
	raw := make([]string, 0, len(result.Array()))
	for _, entry := range result.Array() {
		raw = append(raw, entry.String())
	}

	return raw, nil
}
