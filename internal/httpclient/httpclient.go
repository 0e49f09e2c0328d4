package httpclient

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16

	// DefaultUserAgent is sent on source fetches and probes unless configured otherwise.
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) tvcollector/1.0"
)

var defaultClient = &http.Client{
	Timeout:   DefaultTimeout,
	Transport: newTransport(),
}

// newTransport sizes the idle pool for many concurrent probes against a
// handful of stream hosts.
func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   MaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Default returns the shared client for source fetches and probes.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with its own transport and the given overall
// request timeout.
func WithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: newTransport()}
}

// NoRedirect returns a shallow copy of c that hands 3xx responses back to the
// caller instead of following them.
func NoRedirect(c *http.Client) *http.Client {
	if c == nil {
		c = defaultClient
	}
	cp := *c
	cp.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &cp
}
