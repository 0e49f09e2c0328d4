package probe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/snapetech/tvcollector/internal/httpclient"
	"github.com/snapetech/tvcollector/internal/metrics"
	"github.com/snapetech/tvcollector/internal/safeurl"
)

const (
	DefaultTimeout = 3 * time.Second
	sniffBytes     = 1024
	manifestMarker = "#EXTM3U"
)

// Result is the verdict of one liveness check.
type Result struct {
	URL    string
	Active bool
	// ResolvedURL is set when the URL only answered on the opposite scheme.
	ResolvedURL string
	Kind        Kind
	Method      string // request that decided the verdict: HEAD or GET
	StatusCode  int
	Timeout     bool
	Rejected    bool // failed the scheme/extension pre-filter; nothing was sent
	Err         error
	Duration    time.Duration
}

// Canonical returns ResolvedURL when set, else URL.
func (r Result) Canonical() string {
	if r.ResolvedURL != "" {
		return r.ResolvedURL
	}
	return r.URL
}

// Outcome is a short label for metrics and logs.
func (r Result) Outcome() string {
	switch {
	case r.Active:
		return "active"
	case r.Rejected:
		return "rejected"
	case r.Timeout:
		return "timeout"
	default:
		return "inactive"
	}
}

// Checker decides whether a stream URL currently answers.
//
// Policy, in order: reject non-http(s) URLs and unlisted extensions without
// touching the network; HEAD; for manifests that fail HEAD, GET the first KiB
// and look for #EXTM3U; for media answered 405/501, GET judged on status only;
// on a non-timeout failure, try all of that once more on the opposite scheme.
type Checker struct {
	Client    *http.Client
	Timeout   time.Duration // per request; default 3s
	UserAgent string
	// Extensions is the accepted set (lowercase, with dot). Empty accepts all;
	// callers built from config use AcceptedExtensions.
	Extensions map[string]bool
	// AllowBare accepts URLs without an extension when Extensions is set.
	AllowBare bool
	// AcceptRedirects counts a 301/302 HEAD answer as live instead of following it.
	AcceptRedirects bool
	SchemeFallback  bool
	Limiter         *httpclient.HostLimiter
	Logger          *slog.Logger

	once       sync.Once
	headClient *http.Client
	getClient  *http.Client
}

// ExtensionSet builds a Checker.Extensions value from a list like ".m3u8,mp4".
func ExtensionSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}

// AcceptedExtensions is ExtensionSet(configured), or the DefaultExtensions set
// when nothing is configured.
func AcceptedExtensions(configured []string) map[string]bool {
	if len(configured) == 0 {
		return ExtensionSet(DefaultExtensions())
	}
	return ExtensionSet(configured)
}

// Check runs the policy against rawURL. It never returns an error; failures
// are inactive results. ctx cancellation aborts in-flight requests.
func (c *Checker) Check(ctx context.Context, rawURL string) Result {
	start := time.Now()
	res := c.check(ctx, rawURL)
	res.Duration = time.Since(start)
	metrics.ProbesTotal.WithLabelValues(res.Outcome()).Inc()
	if !res.Rejected {
		metrics.ProbeDuration.Observe(res.Duration.Seconds())
	}
	c.logger().Debug("liveness check",
		"url", rawURL,
		"outcome", res.Outcome(),
		"method", res.Method,
		"status", res.StatusCode,
		"resolved", res.ResolvedURL,
		"duration", res.Duration,
	)
	return res
}

// CheckURL reports whether rawURL answers within timeout per request, using
// the default extension set, bare URLs allowed and scheme fallback on.
func CheckURL(ctx context.Context, rawURL string, timeout time.Duration) bool {
	c := &Checker{
		Timeout:        timeout,
		Extensions:     AcceptedExtensions(nil),
		AllowBare:      true,
		SchemeFallback: true,
	}
	return c.Check(ctx, rawURL).Active
}

func (c *Checker) check(ctx context.Context, rawURL string) Result {
	kind := KindOf(rawURL)
	if !safeurl.IsHTTPOrHTTPS(rawURL) || !c.accepts(rawURL) {
		return Result{URL: rawURL, Kind: kind, Rejected: true}
	}
	c.once.Do(c.initClients)

	res := c.attempt(ctx, rawURL, kind)
	if res.Active || res.Timeout || !c.SchemeFallback || ctx.Err() != nil {
		return res
	}
	alt, ok := safeurl.SwapScheme(rawURL)
	if !ok {
		return res
	}
	alt2 := c.attempt(ctx, alt, kind)
	if alt2.Active {
		alt2.URL = rawURL
		alt2.ResolvedURL = alt
		return alt2
	}
	return res
}

func (c *Checker) accepts(rawURL string) bool {
	if len(c.Extensions) == 0 {
		return true
	}
	ext := safeurl.Extension(rawURL)
	if ext == "" {
		return c.AllowBare
	}
	return c.Extensions[ext]
}

// attempt is HEAD plus the kind-specific GET fallback against one URL.
func (c *Checker) attempt(ctx context.Context, u string, kind Kind) Result {
	res := Result{URL: u, Kind: kind, Method: http.MethodHead}
	status, err := c.head(ctx, u)
	res.StatusCode = status
	if err == nil && c.headOK(status) {
		res.Active = true
		return res
	}
	res.Err = err
	res.Timeout = isTimeout(err)

	switch {
	case kind == KindManifest:
		// HEAD failed or was inconclusive; look at the content.
	case err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented):
	default:
		return res
	}
	if ctx.Err() != nil {
		return res
	}

	res.Method = http.MethodGet
	status, body, err := c.rangedGet(ctx, u, kind == KindManifest)
	res.StatusCode = status
	res.Err = err
	// A HEAD timeout still counts after the GET fails for another reason.
	res.Timeout = res.Timeout || isTimeout(err)
	if err != nil || (status != http.StatusOK && status != http.StatusPartialContent) {
		return res
	}
	if kind == KindManifest {
		res.Active = bytes.Contains(body, []byte(manifestMarker))
		return res
	}
	res.Active = true
	return res
}

func (c *Checker) headOK(status int) bool {
	if status >= 200 && status < 300 {
		return true
	}
	return c.AcceptRedirects && (status == http.StatusMovedPermanently || status == http.StatusFound)
}

func (c *Checker) head(ctx context.Context, u string) (int, error) {
	rctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	release, err := c.Limiter.Acquire(rctx, u)
	if err != nil {
		return 0, err
	}
	defer release()

	req, err := http.NewRequestWithContext(rctx, http.MethodHead, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.userAgent())
	resp, err := c.headClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// rangedGet requests the first KiB. The body is only read when sniff is set.
func (c *Checker) rangedGet(ctx context.Context, u string, sniff bool) (int, []byte, error) {
	rctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	release, err := c.Limiter.Acquire(rctx, u)
	if err != nil {
		return 0, nil, err
	}
	defer release()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", c.userAgent())
	req.Header.Set("Range", "bytes=0-1023")
	resp, err := c.getClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if !sniff {
		return resp.StatusCode, nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, sniffBytes))
	if err != nil && len(body) == 0 {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Checker) initClients() {
	base := c.Client
	if base == nil {
		base = httpclient.Default()
	}
	c.getClient = base
	c.headClient = base
	if c.AcceptRedirects {
		c.headClient = httpclient.NoRedirect(base)
	}
}

func (c *Checker) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c *Checker) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return httpclient.DefaultUserAgent
}

func (c *Checker) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
