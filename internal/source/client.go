package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultUserAgent  = "PharmaWatch/1.0 (+https://github.com/halcyonbio/pharmawatch)"
	responseByteLimit = 8 * 1024 * 1024
)

// getJSON fetches rawURL and decodes the JSON response into out.
// Throttle and upstream failures map onto the transient sentinels so
// the pipeline can schedule retries.
func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")

	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", hostOnly(rawURL), ErrUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("fetch %s status %d: %w", hostOnly(rawURL), resp.StatusCode, ErrRateLimited)
	case resp.StatusCode >= 500:
		return fmt.Errorf("fetch %s status %d: %w", hostOnly(rawURL), resp.StatusCode, ErrUnavailable)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("fetch %s: unexpected status %d", hostOnly(rawURL), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseByteLimit))
	if err != nil {
		return fmt.Errorf("read response: %w", ErrUnavailable)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func hostOnly(rawURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(rawURL), "https://"), "http://")
	if idx := strings.IndexAny(trimmed, "/?"); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}
