package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides which source responses are worth asking for again.
type RetryPolicy struct {
	// Retry429 waits out Retry-After, capped at Max429Wait.
	Retry429   bool
	Max429Wait time.Duration
	// Retry5xx waits Backoff5xx, doubled on every resend.
	Retry5xx   bool
	Backoff5xx time.Duration
	// MaxRetries bounds the resends. 0 means 1.
	MaxRetries int
}

// DefaultRetryPolicy is used for playlist sources: 429 (cap 60s) and 5xx
// (1s, doubling), three resends.
var DefaultRetryPolicy = RetryPolicy{
	Retry429:   true,
	Max429Wait: 60 * time.Second,
	Retry5xx:   true,
	Backoff5xx: 1 * time.Second,
	MaxRetries: 3,
}

func (p RetryPolicy) retries() int {
	if p.MaxRetries <= 0 {
		return 1
	}
	return p.MaxRetries
}

var errRetryableStatus = errors.New("retryable status")

// responseDelay is a backoff.BackOff whose next interval comes from the last
// response rather than a fixed schedule.
type responseDelay struct{ next *time.Duration }

func (d responseDelay) NextBackOff() time.Duration { return *d.next }
func (d responseDelay) Reset()                     {}

// DoWithRetry sends req and resends it after a 429 or 5xx the policy allows.
// The last response is returned whatever its status; the caller closes its
// body. Transport errors are not retried, nor are requests with a body.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	if client == nil {
		client = Default()
	}
	var (
		resp    *http.Response
		attempt int
		wait    time.Duration
	)
	op := func() error {
		r := req
		if attempt > 0 {
			r = req.Clone(ctx)
		}
		res, err := client.Do(r)
		if err != nil {
			return backoff.Permanent(err)
		}
		d, retry := retryDelay(res, policy, attempt)
		attempt++
		if !retry || req.Body != nil || attempt > policy.retries() {
			resp = res
			return nil
		}
		_, _ = io.Copy(io.Discard, res.Body)
		res.Body.Close()
		wait = d
		return errRetryableStatus
	}
	b := backoff.WithContext(backoff.WithMaxRetries(responseDelay{next: &wait}, uint64(policy.retries())), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return resp, nil
}

func retryDelay(resp *http.Response, policy RetryPolicy, attempt int) (time.Duration, bool) {
	code := resp.StatusCode
	switch {
	case code == http.StatusTooManyRequests && policy.Retry429:
		return parseRetryAfter(resp.Header.Get("Retry-After"), policy.Max429Wait), true
	case code >= 500 && policy.Retry5xx:
		return policy.Backoff5xx << attempt, true
	}
	return 0, false
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date, capped at
// limit. Missing or unreadable values mean one second.
func parseRetryAfter(s string, limit time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Second
	}
	if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
		return min(time.Duration(sec)*time.Second, limit)
	}
	t, err := http.ParseTime(s)
	if err != nil {
		return time.Second
	}
	return min(max(time.Until(t), 0), limit)
}
