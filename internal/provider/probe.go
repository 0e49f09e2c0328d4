// Package provider pre-flights playlist sources: reachability, latency and
// whether a Cloudflare challenge sits in front of them.
package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snapetech/tvcollector/internal/httpclient"
)

const (
	previewBytes       = 512
	defaultConcurrency = 4
)

// Result is the outcome of probing one source.
type Result struct {
	URL         string
	Status      Status
	Format      Format
	StatusCode  int
	LatencyMs   int64
	BodyPreview string // first 512 bytes, lowercased, for CF detection
}

type Status string

const (
	StatusOK         Status = "ok"
	StatusCloudflare Status = "cloudflare"
	StatusBadStatus  Status = "bad_status"
	StatusTimeout    Status = "timeout"
	StatusError      Status = "error"
)

// Format is what the source's first bytes look like.
type Format string

const (
	FormatM3U     Format = "m3u"
	FormatHTML    Format = "html"
	FormatUnknown Format = "unknown"
)

// ProbeOne fetches the start of a source and classifies the result. Local
// paths and file:// URLs are checked with os.Stat.
func ProbeOne(ctx context.Context, source string, client *http.Client) Result {
	if p, ok := localPath(source); ok {
		return probeLocal(source, p)
	}
	if client == nil {
		client = httpclient.WithTimeout(15 * time.Second)
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return Result{URL: source, Status: StatusError, LatencyMs: time.Since(start).Milliseconds()}
	}
	req.Header.Set("User-Agent", httpclient.DefaultUserAgent)
	req.Header.Set("Range", "bytes=0-511")
	resp, err := client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		if isTimeout(err) {
			return Result{URL: source, Status: StatusTimeout, LatencyMs: latency}
		}
		return Result{URL: source, Status: StatusError, LatencyMs: latency}
	}
	defer resp.Body.Close()
	preview, _ := io.ReadAll(io.LimitReader(resp.Body, previewBytes))
	previewStr := strings.ToLower(string(preview))
	code := resp.StatusCode

	// Cloudflare only when sure: the Server header or a challenge page body.
	server := strings.ToLower(strings.TrimSpace(resp.Header.Get("Server")))
	isCFServer := server == "cloudflare"
	bodyHasCFChallenge := strings.Contains(previewStr, "checking your browser") ||
		strings.Contains(previewStr, "cf-bypass") ||
		strings.Contains(previewStr, "ray id")
	if code == 403 || code == 503 || code == 520 || code == 521 || code == 524 {
		if bodyHasCFChallenge || isCFServer {
			return Result{URL: source, Status: StatusCloudflare, StatusCode: code, LatencyMs: latency, BodyPreview: previewStr}
		}
	}
	if isCFServer && code != http.StatusOK && code != http.StatusPartialContent {
		return Result{URL: source, Status: StatusCloudflare, StatusCode: code, LatencyMs: latency}
	}
	if code != http.StatusOK && code != http.StatusPartialContent {
		return Result{URL: source, Status: StatusBadStatus, StatusCode: code, LatencyMs: latency}
	}
	return Result{URL: source, Status: StatusOK, Format: sniffFormat(preview), StatusCode: code, LatencyMs: latency}
}

func probeLocal(source, path string) Result {
	start := time.Now()
	f, err := os.Open(path)
	if err != nil {
		return Result{URL: source, Status: StatusError, LatencyMs: time.Since(start).Milliseconds()}
	}
	defer f.Close()
	preview, _ := io.ReadAll(io.LimitReader(f, previewBytes))
	return Result{URL: source, Status: StatusOK, Format: sniffFormat(preview), LatencyMs: time.Since(start).Milliseconds()}
}

func sniffFormat(preview []byte) Format {
	p := bytes.TrimSpace(bytes.TrimPrefix(preview, []byte("\ufeff")))
	switch {
	case bytes.HasPrefix(bytes.ToUpper(p), []byte("#EXTM3U")):
		return FormatM3U
	case bytes.HasPrefix(p, []byte("<")):
		return FormatHTML
	default:
		return FormatUnknown
	}
}

// ProbeAll probes every source concurrently and returns results sorted: OK
// first (by latency), then the rest by URL.
func ProbeAll(ctx context.Context, sources []string, client *http.Client) []Result {
	out := make([]Result, 0, len(sources))
	for _, u := range sources {
		if u != "" {
			out = append(out, Result{URL: u})
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultConcurrency)
	for i := range out {
		g.Go(func() error {
			out[i] = ProbeOne(gctx, out[i].URL, client)
			return nil
		})
	}
	_ = g.Wait()
	sort.SliceStable(out, func(i, j int) bool {
		okI := out[i].Status == StatusOK
		okJ := out[j].Status == StatusOK
		if okI != okJ {
			return okI
		}
		if okI {
			return out[i].LatencyMs < out[j].LatencyMs
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// Reachable returns the OK sources from ProbeAll in their original order, so
// deduplication precedence is unchanged. With blockCF unset, Cloudflare-fronted
// sources are kept too since the fetcher may still get through.
func Reachable(ctx context.Context, sources []string, client *http.Client, blockCF bool) []string {
	status := make(map[string]Status, len(sources))
	for _, r := range ProbeAll(ctx, sources, client) {
		status[r.URL] = r.Status
	}
	var out []string
	for _, u := range sources {
		switch status[u] {
		case StatusOK:
			out = append(out, u)
		case StatusCloudflare:
			if !blockCF {
				out = append(out, u)
			}
		}
	}
	return out
}

// BestSourceURL returns the first OK source from ProbeAll, or "" if none.
func BestSourceURL(ctx context.Context, sources []string, client *http.Client) string {
	for _, r := range ProbeAll(ctx, sources, client) {
		if r.Status == StatusOK {
			return r.URL
		}
	}
	return ""
}

func localPath(source string) (string, bool) {
	if p, ok := strings.CutPrefix(source, "file://"); ok {
		return p, true
	}
	if strings.Contains(source, "://") {
		return "", false
	}
	return source, true
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
