// Package asf talks to the Alaska Satellite Facility: granule search, scene download
// and the Sentinel-1 orbit file listings.
package asf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const userAgent = "sar-rtc-opera/1.0"

// get issues a GET and returns the open response body; the caller must close it.
func get(ctx context.Context, client *http.Client, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("unexpected status %s from %s, close body: %v", resp.Status, rawURL, closeErr)
		}
		return nil, fmt.Errorf("unexpected status %s from %s", resp.Status, rawURL)
	}
	return resp.Body, nil
}

func defaultClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: timeout}
}
