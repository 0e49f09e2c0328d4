package hls

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snapetech/tvcollector/internal/httpclient"
	"github.com/snapetech/tvcollector/internal/probe"
)

const (
	defaultMaxManifestBytes = 1 << 20
	defaultConcurrency      = 4
)

// Checker is the liveness test the resolver applies to the master and to each
// discovered variant. *probe.Checker satisfies it.
type Checker interface {
	Check(ctx context.Context, rawURL string) probe.Result
}

// Resolver expands manifest URLs into their live variants.
type Resolver struct {
	Checker          Checker
	Client           *http.Client
	UserAgent        string
	Timeout          time.Duration // manifest fetch; default probe.DefaultTimeout
	MaxManifestBytes int64
	// Concurrency bounds variant liveness checks per Resolve call.
	Concurrency int
	Limiter     *httpclient.HostLimiter
	Logger      *slog.Logger
}

// Resolve returns the variants of rawURL. The result is never empty and its
// first element is always Original(rawURL). Non-manifest URLs, inactive
// manifests and unreadable manifests yield only the original.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) []Variant {
	out := []Variant{Original(rawURL)}
	if probe.KindOf(rawURL) != probe.KindManifest || r.Checker == nil {
		return out
	}
	if res := r.Checker.Check(ctx, rawURL); !res.Active {
		return out
	}
	found, err := r.fetchMaster(ctx, rawURL)
	if err != nil {
		r.logger().Debug("variant manifest unreadable", "url", rawURL, "err", err)
		return out
	}
	if len(found) == 0 {
		return out
	}

	live := make([]bool, len(found))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency())
	for i, v := range found {
		if v.URL == rawURL {
			continue
		}
		g.Go(func() error {
			live[i] = r.Checker.Check(gctx, v.URL).Active
			return nil
		})
	}
	_ = g.Wait()

	seen := map[string]bool{rawURL: true}
	for i, v := range found {
		if !live[i] || seen[v.URL] {
			continue
		}
		seen[v.URL] = true
		out = append(out, v)
	}
	r.logger().Debug("variants resolved", "url", rawURL, "declared", len(found), "live", len(out)-1)
	return out
}

func (r *Resolver) fetchMaster(ctx context.Context, u string) ([]Variant, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = probe.DefaultTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	release, err := r.Limiter.Acquire(rctx, u)
	if err != nil {
		return nil, err
	}
	defer release()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	ua := r.UserAgent
	if ua == "" {
		ua = httpclient.DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	client := r.Client
	if client == nil {
		client = httpclient.Default()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest %s: status %d", u, resp.StatusCode)
	}
	limit := r.MaxManifestBytes
	if limit <= 0 {
		limit = defaultMaxManifestBytes
	}
	return ParseMaster(u, io.LimitReader(resp.Body, limit))
}

func (r *Resolver) concurrency() int {
	if r.Concurrency > 0 {
		return r.Concurrency
	}
	return defaultConcurrency
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
