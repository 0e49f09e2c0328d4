package catalog

import (
	"context"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/snapetech/tvcollector/internal/hls"
	"github.com/snapetech/tvcollector/internal/indexer"
	"github.com/snapetech/tvcollector/internal/metrics"
	"github.com/snapetech/tvcollector/internal/probe"
)

const (
	FallbackName  = "Test Stream"
	FallbackURL   = "https://demo.unified-streaming.com/k8s/features/stable/video/tears-of-steel/tears-of-steel.ism/.m3u8"
	FallbackGroup = "TEST"

	defaultResolveConcurrency = 4
)

// FallbackEntry is published when nothing else survives a run.
func FallbackEntry() indexer.Entry {
	m := indexer.ParseEXTINF(`#EXTINF:-1 group-title="` + FallbackGroup + `",` + FallbackName)
	return indexer.Entry{Meta: m, URL: FallbackURL, Source: "fallback"}
}

// VariantResolver expands a URL into its variants. *hls.Resolver satisfies it.
type VariantResolver interface {
	Resolve(ctx context.Context, rawURL string) []hls.Variant
}

// SortByPriority returns entries stably ordered by stream kind: manifests,
// then media files, then archive containers, then unknown links.
func SortByPriority(entries []indexer.Entry) []indexer.Entry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b indexer.Entry) int {
		return probe.KindOf(a.URL).Priority() - probe.KindOf(b.URL).Priority()
	})
	return out
}

// Dedupe keeps the first entry for each DedupKey, in order, stopping once limit
// entries are kept (limit <= 0 means no cap). It returns the kept entries and
// the number of duplicates dropped.
func Dedupe(entries []indexer.Entry, limit int) ([]indexer.Entry, int) {
	seen := make(map[string]bool, len(entries))
	var out []indexer.Entry
	dropped := 0
	for _, e := range entries {
		if limit > 0 && len(out) >= limit {
			break
		}
		k := DedupKey(e)
		if seen[k] {
			dropped++
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out, dropped
}

// Assembler turns validated entries into the channel list handed to the
// publisher. It never writes files.
type Assembler struct {
	Resolver    VariantResolver
	MaxChannels int
	DefaultLogo string
	// Canonical maps an entry URL to the URL that validated (scheme-swapped
	// links). nil means identity.
	Canonical func(u string) string
	// Fallback replaces FallbackEntry when set.
	Fallback    *indexer.Entry
	Concurrency int
	Logger      *slog.Logger
}

// Build sorts, deduplicates and caps entries, then resolves each survivor's
// variants. The result is never empty: with no survivors the fallback channel
// is returned.
func (a *Assembler) Build(ctx context.Context, entries []indexer.Entry) []Channel {
	kept, dropped := Dedupe(SortByPriority(entries), a.MaxChannels)
	metrics.DuplicatesDroppedTotal.Add(float64(dropped))
	if len(kept) == 0 {
		fb := FallbackEntry()
		if a.Fallback != nil {
			fb = *a.Fallback
		}
		a.logger().Warn("no channels survived; publishing fallback", "url", fb.URL)
		kept = []indexer.Entry{fb}
	}

	keys := newKeyAllocator()
	channels := make([]Channel, len(kept))
	for i, e := range kept {
		channels[i] = a.channel(keys.assign(DedupKey(e), e.URL), e)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency())
	for i := range channels {
		g.Go(func() error {
			channels[i].Variants = a.variants(gctx, channels[i].CanonicalURL)
			return nil
		})
	}
	_ = g.Wait()

	a.logger().Info("channels assembled", "entries", len(entries), "channels", len(channels), "duplicates", dropped)
	return channels
}

func (a *Assembler) channel(key string, e indexer.Entry) Channel {
	m := e.Meta
	if m.Logo == "" && a.DefaultLogo != "" {
		m = m.WithLogo(a.DefaultLogo)
	}
	canonical := e.URL
	if a.Canonical != nil {
		if c := a.Canonical(e.URL); c != "" {
			canonical = c
		}
	}
	return Channel{
		Key:          key,
		Name:         m.Name,
		Group:        m.Group,
		Logo:         m.Logo,
		TVGID:        m.TVGID,
		CanonicalURL: canonical,
		SourceURL:    e.URL,
		Source:       e.Source,
		Kind:         probe.KindOf(canonical),
		EXTINF:       m.EXTINF(),
		Meta:         m,
	}
}

func (a *Assembler) variants(ctx context.Context, u string) []hls.Variant {
	if a.Resolver == nil {
		return []hls.Variant{hls.Original(u)}
	}
	vs := a.Resolver.Resolve(ctx, u)
	if len(vs) == 0 {
		return []hls.Variant{hls.Original(u)}
	}
	return vs
}

func (a *Assembler) concurrency() int {
	if a.Concurrency > 0 {
		return a.Concurrency
	}
	return defaultResolveConcurrency
}

func (a *Assembler) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
