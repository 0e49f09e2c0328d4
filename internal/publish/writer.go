// Package publish renders the channel list as extended-M3U files: one
// consolidated playlist plus one variant playlist per channel.
package publish

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/snapetech/tvcollector/internal/atomicfile"
	"github.com/snapetech/tvcollector/internal/catalog"
)

const (
	DefaultPlaylistName = "playlist.m3u"
	DefaultChannelDir   = "channels"
	CatalogName         = "catalog.json"
)

// Writer writes a run's output under Dir.
type Writer struct {
	Dir          string
	PlaylistName string // default playlist.m3u
	// ChannelDir holds the per-channel playlists; relative paths are under Dir.
	ChannelDir string
	// BaseURL, when set, makes the consolidated playlist link to hosted
	// per-channel playlists (BaseURL/<key>.m3u8) instead of the stream URLs.
	BaseURL string
	Logger  *slog.Logger
}

// Result lists what a Write produced.
type Result struct {
	PlaylistPath string
	CatalogPath  string
	SubPlaylists int
	StaleRemoved int
}

// Write replaces the consolidated playlist, every per-channel playlist and the
// JSON catalog. Per-channel playlists left over from earlier runs are removed.
func (w *Writer) Write(channels []catalog.Channel, cat *catalog.Catalog) (Result, error) {
	var res Result
	chDir := w.channelDir()
	if err := os.MkdirAll(chDir, 0o755); err != nil {
		return res, fmt.Errorf("publish: %w", err)
	}

	keep := make(map[string]bool, len(channels)+1)
	if filepath.Clean(chDir) == filepath.Clean(w.Dir) {
		keep[w.playlistName()] = true
	}
	for _, ch := range channels {
		path := SubPlaylistPath(chDir, ch.Key)
		if err := writeAtomic(path, func(out io.Writer) error { return WriteSubPlaylist(out, ch) }); err != nil {
			return res, fmt.Errorf("publish: channel %s: %w", ch.Key, err)
		}
		keep[filepath.Base(path)] = true
		res.SubPlaylists++
	}

	res.PlaylistPath = filepath.Join(w.Dir, w.playlistName())
	err := writeAtomic(res.PlaylistPath, func(out io.Writer) error {
		return WritePlaylist(out, channels, w.BaseURL)
	})
	if err != nil {
		return res, fmt.Errorf("publish: playlist: %w", err)
	}

	if cat != nil {
		res.CatalogPath = filepath.Join(w.Dir, CatalogName)
		if err := cat.Save(res.CatalogPath); err != nil {
			return res, fmt.Errorf("publish: %w", err)
		}
	}

	res.StaleRemoved = w.removeStale(chDir, keep)
	w.logger().Info("playlists published",
		"playlist", res.PlaylistPath,
		"channels", len(channels),
		"sub_playlists", res.SubPlaylists,
		"stale_removed", res.StaleRemoved,
	)
	return res, nil
}

// WritePlaylist writes the consolidated playlist: a header, then one
// descriptor and link per channel.
func WritePlaylist(w io.Writer, channels []catalog.Channel, baseURL string) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("#EXTM3U\n")
	for _, ch := range channels {
		link := ch.CanonicalURL
		if baseURL != "" {
			link = SubPlaylistURL(baseURL, ch.Key)
		}
		bw.WriteString(descriptor(ch))
		bw.WriteByte('\n')
		bw.WriteString(link)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteSubPlaylist writes a master playlist listing ch's variants.
func WriteSubPlaylist(w io.Writer, ch catalog.Channel) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for _, v := range ch.Variants {
		bw.WriteString("#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=")
		bw.WriteString(strconv.Itoa(v.Bandwidth))
		if v.IsResolution() {
			bw.WriteString(",RESOLUTION=")
			bw.WriteString(v.Label)
		}
		bw.WriteByte('\n')
		bw.WriteString(v.URL)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func descriptor(ch catalog.Channel) string {
	if ch.EXTINF != "" {
		return ch.EXTINF
	}
	return ch.Meta.EXTINF()
}

func writeAtomic(path string, render func(io.Writer) error) error {
	f, err := atomicfile.NewWriter(path, 0o644)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Abort()
		return err
	}
	return f.Commit()
}

func (w *Writer) removeStale(dir string, keep map[string]bool) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger().Warn("stale playlist scan failed", "dir", dir, "err", err)
		return 0
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, subPlaylistExt) || keep[name] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			w.logger().Warn("remove stale playlist", "file", name, "err", err)
			continue
		}
		removed++
	}
	return removed
}

func (w *Writer) channelDir() string {
	d := w.ChannelDir
	if d == "" {
		d = DefaultChannelDir
	}
	if filepath.IsAbs(d) {
		return d
	}
	return filepath.Join(w.Dir, d)
}

func (w *Writer) playlistName() string {
	if w.PlaylistName != "" {
		return w.PlaylistName
	}
	return DefaultPlaylistName
}

func (w *Writer) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
