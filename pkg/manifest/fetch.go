package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 4 << 10

// URL joins a base URL and the manifest path.
func URL(baseURL, path string) string {
	if path == "" {
		path = "/mcp.json"
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Fetch retrieves and validates the manifest at manifestURL. Transport
// failures, non-2xx statuses and malformed JSON wrap ErrUnavailable; a
// manifest without tools returns ErrEmpty.
func Fetch(ctx context.Context, client *http.Client, manifestURL, userAgent string) (*Manifest, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request for %s: %w", ErrUnavailable, manifestURL, err)
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrUnavailable, manifestURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: get %s: status %d: %s", ErrUnavailable, manifestURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrUnavailable, manifestURL, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrUnavailable, manifestURL, err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}
