package publish

import (
	"path/filepath"
	"strings"
)

const subPlaylistExt = ".m3u8"

// SubPlaylistPath returns the file a channel's variant playlist is written to.
// Stable: the same key always maps to the same path.
func SubPlaylistPath(dir, key string) string {
	return filepath.Join(dir, sanitizeKey(key)+subPlaylistExt)
}

// SubPlaylistURL returns the public link for a channel's variant playlist.
func SubPlaylistURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + sanitizeKey(key) + subPlaylistExt
}

func sanitizeKey(key string) string {
	s := strings.ReplaceAll(key, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "_")
	s = strings.TrimLeft(s, ".")
	if s == "" {
		s = "unknown"
	}
	return s
}
