package httpclient

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/snapetech/tvcollector/internal/safeurl"
)

// HostLimiter caps concurrent requests and request rate per upstream host, so a
// batch of probes against one CDN does not look like a flood.
//
//	release, err := limiter.Acquire(ctx, streamURL)
//	if err != nil { return err }
//	defer release()
type HostLimiter struct {
	mu          sync.Mutex
	hosts       map[string]*hostSlot
	concurrency int
	rps         float64
}

type hostSlot struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

// NewHostLimiter returns a limiter allowing concurrency in-flight requests per host
// and rps requests per second per host. rps <= 0 disables rate limiting.
func NewHostLimiter(concurrency int, rps float64) *HostLimiter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &HostLimiter{
		hosts:       make(map[string]*hostSlot),
		concurrency: concurrency,
		rps:         rps,
	}
}

// Acquire blocks until rawURL's host has a free slot and a rate token, or ctx is done.
// A nil limiter never blocks.
func (h *HostLimiter) Acquire(ctx context.Context, rawURL string) (func(), error) {
	if h == nil {
		return func() {}, nil
	}
	slot := h.slotFor(safeurl.HostKey(rawURL))
	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if slot.limiter != nil {
		if err := slot.limiter.Wait(ctx); err != nil {
			<-slot.sem
			return nil, err
		}
	}
	return func() { <-slot.sem }, nil
}

func (h *HostLimiter) slotFor(host string) *hostSlot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.hosts[host]
	if !ok {
		s = &hostSlot{sem: make(chan struct{}, h.concurrency)}
		if h.rps > 0 {
			burst := int(h.rps)
			if burst < 1 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(h.rps), burst)
		}
		h.hosts[host] = s
	}
	return s
}
