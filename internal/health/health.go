// Package health checks a running collector from the outside.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/snapetech/tvcollector/internal/httpclient"
)

// Endpoints are the paths a healthy server answers with 200.
var Endpoints = []string{"/healthz", "/playlist.m3u", "/catalog.json"}

// CheckEndpoints hits every path in Endpoints at baseURL and returns the first
// error or nil. The playlist must start with the #EXTM3U header.
func CheckEndpoints(ctx context.Context, baseURL string, client *http.Client) error {
	if baseURL == "" {
		return fmt.Errorf("no server URL")
	}
	if client == nil {
		client = httpclient.WithTimeout(5 * time.Second)
	}
	base := strings.TrimRight(baseURL, "/")
	for _, path := range Endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		head, _ := io.ReadAll(io.LimitReader(resp.Body, 16))
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
		}
		if path == "/playlist.m3u" && !strings.HasPrefix(string(head), "#EXTM3U") {
			return fmt.Errorf("%s: missing #EXTM3U header", path)
		}
	}
	return nil
}
