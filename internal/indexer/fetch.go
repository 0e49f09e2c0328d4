package indexer

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"golang.org/x/sync/errgroup"

	"github.com/snapetech/tvcollector/internal/httpclient"
	"github.com/snapetech/tvcollector/internal/metrics"
	"github.com/snapetech/tvcollector/internal/safeurl"
)

const defaultMaxBodyBytes = 64 << 20

// Document is the raw body of one fetched source.
type Document struct {
	Source string
	Body   []byte
	// HTML is set when the body is a web page rather than a playlist; links in it
	// are read with ParseHTML.
	HTML bool
}

// Fetcher downloads playlist sources. Failures are logged and skipped; they never
// fail the batch.
type Fetcher struct {
	Client       *http.Client
	UserAgent    string
	Concurrency  int   // parallel fetches; default 4
	MaxBodyBytes int64 // per source; default 64 MiB
	Retry        httpclient.RetryPolicy
	// FollowHTML fetches playlist links (.m3u) found on HTML source pages, one level deep.
	FollowHTML bool
	Logger     *slog.Logger

	mu         sync.Mutex
	validators map[string]validator
}

// validator remembers the last good response so an unchanged source can be
// served from memory after a 304.
type validator struct {
	etag, lastModified string
	doc                Document
}

var errNotModified = errors.New("not modified")

// FetchAll fetches every source concurrently and returns the documents that
// arrived, in source order. Pages discovered through FollowHTML are appended
// after the page that linked them.
func (f *Fetcher) FetchAll(ctx context.Context, sources []string) []Document {
	docs := f.fetchRound(ctx, sources)
	if !f.FollowHTML {
		return docs
	}
	out := make([]Document, 0, len(docs))
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		seen[s] = true
	}
	for _, d := range docs {
		out = append(out, d)
		if !d.HTML {
			continue
		}
		var next []string
		for _, link := range PlaylistLinks(d.Source, bytes.NewReader(d.Body)) {
			if !seen[link] {
				seen[link] = true
				next = append(next, link)
			}
		}
		for _, nd := range f.fetchRound(ctx, next) {
			if !nd.HTML {
				out = append(out, nd)
			}
		}
	}
	return out
}

func (f *Fetcher) fetchRound(ctx context.Context, sources []string) []Document {
	slots := make([]*Document, len(sources))
	var g errgroup.Group
	g.SetLimit(f.concurrency())
	for i, src := range sources {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		g.Go(func() error {
			doc, err := f.Fetch(ctx, src)
			if err != nil {
				metrics.SourceFetchesTotal.WithLabelValues("error").Inc()
				f.logger().Warn("source fetch failed", "source", src, "error", err)
				return nil
			}
			slots[i] = &doc
			return nil
		})
	}
	_ = g.Wait()
	out := make([]Document, 0, len(sources))
	for _, d := range slots {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out
}

// Fetch reads one source: an http(s) URL, a file:// URL or a local path.
func (f *Fetcher) Fetch(ctx context.Context, source string) (Document, error) {
	if path, ok := localPath(source); ok {
		body, err := os.ReadFile(path)
		if err != nil {
			return Document{}, fmt.Errorf("read source file: %w", err)
		}
		metrics.SourceFetchesTotal.WithLabelValues("ok").Inc()
		return Document{Source: source, Body: body, HTML: looksLikeHTML(source, "", body)}, nil
	}
	if !safeurl.IsHTTPOrHTTPS(source) {
		return Document{}, fmt.Errorf("unsupported source scheme: %s", source)
	}
	doc, err := f.fetchHTTP(ctx, source)
	if errors.Is(err, errNotModified) {
		metrics.SourceFetchesTotal.WithLabelValues("not_modified").Inc()
		f.logger().Debug("source not modified", "source", source)
		return doc, nil
	}
	if err != nil {
		return Document{}, err
	}
	metrics.SourceFetchesTotal.WithLabelValues("ok").Inc()
	return doc, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, source string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return Document{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent())
	req.Header.Set("Accept-Encoding", "br, gzip")
	prev, hasPrev := f.validator(source)
	if hasPrev {
		if prev.etag != "" {
			req.Header.Set("If-None-Match", prev.etag)
		}
		if prev.lastModified != "" {
			req.Header.Set("If-Modified-Since", prev.lastModified)
		}
	}

	client := f.Client
	if client == nil {
		client = httpclient.Default()
	}
	resp, err := httpclient.DoWithRetry(ctx, client, req, f.Retry)
	if err != nil {
		return Document{}, fmt.Errorf("fetch %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && hasPrev {
		return prev.doc, errNotModified
	}
	if resp.StatusCode != http.StatusOK {
		return Document{}, &StatusError{URL: source, Code: resp.StatusCode}
	}

	body, err := decodeBody(resp)
	if err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", source, err)
	}
	defer body.Close()
	data, err := io.ReadAll(io.LimitReader(body, f.maxBodyBytes()))
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", source, err)
	}

	doc := Document{
		Source: source,
		Body:   data,
		HTML:   looksLikeHTML(source, resp.Header.Get("Content-Type"), data),
	}
	etag, lm := resp.Header.Get("ETag"), resp.Header.Get("Last-Modified")
	if etag != "" || lm != "" {
		f.mu.Lock()
		if f.validators == nil {
			f.validators = make(map[string]validator)
		}
		f.validators[source] = validator{etag: etag, lastModified: lm, doc: doc}
		f.mu.Unlock()
	}
	return doc, nil
}

func (f *Fetcher) validator(source string) (validator, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.validators[source]
	return v, ok
}

// decodeBody undoes a br or gzip Content-Encoding. Setting Accept-Encoding by
// hand disables net/http's transparent gzip, so both are handled here.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	case "gzip", "x-gzip":
		return gzip.NewReader(resp.Body)
	default:
		return io.NopCloser(resp.Body), nil
	}
}

func looksLikeHTML(source, contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	switch safeurl.Extension(source) {
	case ".html", ".htm":
		return true
	case ".m3u", ".m3u8":
		return false
	}
	head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
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

func (f *Fetcher) concurrency() int {
	if f.Concurrency > 0 {
		return f.Concurrency
	}
	return 4
}

func (f *Fetcher) maxBodyBytes() int64 {
	if f.MaxBodyBytes > 0 {
		return f.MaxBodyBytes
	}
	return defaultMaxBodyBytes
}

func (f *Fetcher) userAgent() string {
	if f.UserAgent != "" {
		return f.UserAgent
	}
	return httpclient.DefaultUserAgent
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
