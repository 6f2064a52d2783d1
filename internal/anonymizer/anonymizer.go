// Package anonymizer is the HTTP client for the Face Anonymizer API. It
// submits images and videos for face anonymization and reads the usage
// quota. Request timeouts are left to the transport defaults.
package anonymizer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client represents a client for the Face Anonymizer API.
type Client struct {
	Url       string
	parsedURL *url.URL
	rootURL   *url.URL
}

// New creates a new Face Anonymizer client for the given service base URL.
func New(rawURL string) (*Client, error) {
	root, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid anonymizer URL: %w", err)
	}

	apiURL := strings.TrimRight(rawURL, "/") + "/api"
	parsed, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid anonymizer URL: %w", err)
	}

	return &Client{Url: apiURL, parsedURL: parsed, rootURL: root}, nil
}

// resolveURL builds a full URL from the base API URL and the given path segments.
// If the last segment contains a query string (e.g. "image?method=blur"), it is
// split so JoinPath only receives the path portion and the query is appended.
func (c *Client) resolveURL(pathSegments ...string) string {
	if len(pathSegments) == 0 {
		return c.parsedURL.String()
	}
	// Check if the last segment contains a query string
	last := pathSegments[len(pathSegments)-1]
	if pathPart, query, ok := strings.Cut(last, "?"); ok {
		pathSegments[len(pathSegments)-1] = pathPart
		result := c.parsedURL.JoinPath(pathSegments...)
		result.RawQuery = query
		return result.String()
	}
	return c.parsedURL.JoinPath(pathSegments...).String()
}

// doGetJSON performs a GET request against a full URL and unmarshals the JSON
// response into the result type.
func doGetJSON[T any](ctx context.Context, rawURL string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req) //nolint:gosec // URL constructed from validated parsedURL via resolveURL
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp.StatusCode, resp.Body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}

	return &result, nil
}

// RateLimit retrieves the usage quota the service tracks for this client.
func (c *Client) RateLimit(ctx context.Context) (*RateLimit, error) {
	return doGetJSON[RateLimit](ctx, c.resolveURL("rate-limit"))
}

// Health checks service liveness. The endpoint lives at the service root,
// outside the /api prefix.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	return doGetJSON[Health](ctx, c.rootURL.JoinPath("health").String())
}
