package probe

import (
	"github.com/snapetech/tvcollector/internal/safeurl"
)

// Kind classifies a stream URL by its extension.
type Kind int

const (
	KindUnknown Kind = iota
	KindManifest
	KindMedia
	KindArchive
)

func (k Kind) String() string {
	switch k {
	case KindManifest:
		return "manifest"
	case KindMedia:
		return "media"
	case KindArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// Priority orders kinds for publication: manifests first, then single-file
// media, then archival containers, then everything else.
func (k Kind) Priority() int {
	switch k {
	case KindManifest:
		return 0
	case KindMedia:
		return 1
	case KindArchive:
		return 2
	default:
		return 3
	}
}

var kindByExt = map[string]Kind{
	".m3u8": KindManifest,
	".m3u":  KindManifest,
	".mp4":  KindMedia,
	".m4v":  KindMedia,
	".ts":   KindMedia,
	".webm": KindMedia,
	".mov":  KindMedia,
	".mkv":  KindArchive,
	".ogv":  KindArchive,
	".avi":  KindArchive,
	".flv":  KindArchive,
	".wmv":  KindArchive,
}

// KindOf classifies rawURL by the extension of its path.
func KindOf(rawURL string) Kind {
	return kindByExt[safeurl.Extension(rawURL)]
}

// DefaultExtensions is every extension KindOf recognizes.
func DefaultExtensions() []string {
	out := make([]string, 0, len(kindByExt))
	for ext := range kindByExt {
		out = append(out, ext)
	}
	return out
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "manifest":
		*k = KindManifest
	case "media":
		*k = KindMedia
	case "archive":
		*k = KindArchive
	default:
		*k = KindUnknown
	}
	return nil
}
