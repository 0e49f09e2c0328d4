// Package hls reads HLS master playlists and expands a stream URL into its
// published bitrate/resolution variants.
package hls

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/snapetech/tvcollector/internal/safeurl"
)

const (
	streamInfTag = "#EXT-X-STREAM-INF:"

	// OriginalLabel marks the URL a variant list was resolved from.
	OriginalLabel = "Original"
	// OriginalBandwidth is advertised for the original URL in generated masters.
	OriginalBandwidth = 2560000
)

var resolutionRe = regexp.MustCompile(`^\d+x\d+$`)

// Variant is one selectable rendition of a channel.
type Variant struct {
	Label     string `json:"label"`
	URL       string `json:"url"`
	Bandwidth int    `json:"bandwidth"`
}

// IsResolution reports whether Label is a WxH resolution.
func (v Variant) IsResolution() bool {
	return resolutionRe.MatchString(v.Label)
}

// Original returns the variant entry for the source URL itself.
func Original(u string) Variant {
	return Variant{Label: OriginalLabel, URL: u, Bandwidth: OriginalBandwidth}
}

// ParseAttributeList splits an HLS attribute list (KEY=VALUE,KEY="V,ALUE")
// into a map keyed by upper-case attribute name. Quotes are stripped.
func ParseAttributeList(s string) map[string]string {
	out := make(map[string]string)
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToUpper(strings.TrimSpace(strings.TrimLeft(s[:eq], ",")))
		s = s[eq+1:]
		var val string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				val, s = s[1:], ""
			} else {
				val, s = s[1:end+1], s[end+2:]
			}
			if i := strings.IndexByte(s, ','); i >= 0 {
				s = s[i+1:]
			} else {
				s = ""
			}
		} else if i := strings.IndexByte(s, ','); i >= 0 {
			val, s = s[:i], s[i+1:]
		} else {
			val, s = s, ""
		}
		if key != "" {
			out[key] = strings.TrimSpace(val)
		}
	}
	return out
}

// ParseMaster scans a master playlist fetched from base for stream
// declarations. Each #EXT-X-STREAM-INF with a BANDWIDTH is paired with the next
// non-comment line, resolved against base. Streams without a RESOLUTION are
// labelled Variant_N, N counting the original as position 0. Only http(s)
// variant URLs are returned.
func ParseMaster(base string, r io.Reader) ([]Variant, error) {
	var out []Variant
	var pending map[string]string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, streamInfTag):
			pending = ParseAttributeList(line[len(streamInfTag):])
		case strings.HasPrefix(line, "#"):
		case pending != nil:
			attrs := pending
			pending = nil
			bw, err := strconv.Atoi(attrs["BANDWIDTH"])
			if err != nil || bw <= 0 {
				continue
			}
			u := safeurl.Resolve(base, line)
			if !safeurl.IsHTTPOrHTTPS(u) {
				continue
			}
			label := attrs["RESOLUTION"]
			if !resolutionRe.MatchString(label) {
				label = "Variant_" + strconv.Itoa(len(out)+1)
			}
			out = append(out, Variant{Label: label, URL: u, Bandwidth: bw})
		}
	}
	return out, sc.Err()
}
