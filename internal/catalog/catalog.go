package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/snapetech/tvcollector/internal/atomicfile"
	"github.com/snapetech/tvcollector/internal/hls"
	"github.com/snapetech/tvcollector/internal/indexer"
	"github.com/snapetech/tvcollector/internal/probe"
)

// Channel is one published stream after deduplication.
// Key is unique within a run and names the channel's sub-playlist.
type Channel struct {
	Key          string        `json:"key"`
	Name         string        `json:"name"`
	Group        string        `json:"group,omitempty"`
	Logo         string        `json:"logo,omitempty"`
	TVGID        string        `json:"tvg_id,omitempty"`
	CanonicalURL string        `json:"url"`                  // validated link, scheme-corrected when needed
	SourceURL    string        `json:"source_url,omitempty"` // link as it appeared in the source playlist
	Source       string        `json:"source,omitempty"`     // playlist the entry came from
	Kind         probe.Kind    `json:"kind"`
	Variants     []hls.Variant `json:"variants"`
	// EXTINF is the descriptor line written for this channel.
	EXTINF string `json:"extinf"`

	Meta indexer.Metadata `json:"-"`
}

// Catalog is the JSON export written next to the consolidated playlist.
type Catalog struct {
	mu          sync.RWMutex
	RunID       string    `json:"run_id,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Channels    []Channel `json:"channels"`
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{}
}

// Replace swaps in the channels of a finished run.
func (c *Catalog) Replace(runID string, at time.Time, channels []Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RunID = runID
	c.GeneratedAt = at.UTC()
	c.Channels = channels
}

// Snapshot returns a copy of the channels for read-only use.
func (c *Catalog) Snapshot() []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Channel, len(c.Channels))
	copy(out, c.Channels)
	return out
}

// Lookup returns the channel with the given key.
func (c *Catalog) Lookup(key string) (Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.Channels {
		if ch.Key == key {
			return ch, true
		}
	}
	return Channel{}, false
}

// Info returns the run that produced the current channels.
func (c *Catalog) Info() (runID string, generatedAt time.Time, channels int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RunID, c.GeneratedAt, len(c.Channels)
}

// JSON returns the catalog as indented JSON.
func (c *Catalog) JSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.MarshalIndent(c, "", "  ")
}

// Save writes the catalog to path as indented JSON, replacing any previous
// file atomically.
func (c *Catalog) Save(path string) error {
	data, err := c.JSON()
	if err != nil {
		return fmt.Errorf("catalog save: %w", err)
	}
	if err := atomicfile.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("catalog save: %w", err)
	}
	return nil
}

// Load replaces the catalog with the contents of path. Channel metadata is
// rebuilt from each channel's EXTINF line.
func (c *Catalog) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var out struct {
		RunID       string    `json:"run_id"`
		GeneratedAt time.Time `json:"generated_at"`
		Channels    []Channel `json:"channels"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("catalog load %s: %w", path, err)
	}
	for i := range out.Channels {
		out.Channels[i].Meta = indexer.ParseEXTINF(out.Channels[i].EXTINF)
	}
	c.Replace(out.RunID, out.GeneratedAt, out.Channels)
	return nil
}
