package indexer

import "strings"

// StaticSample is parsed when no source yields a single entry, so a run always
// has something to validate.
const StaticSample = `#EXTM3U
#EXTINF:-1 tvg-logo="https://example.com/logo.png" group-title="TEST",Sample Channel
http://iptv-org.github.io/iptv/sample.m3u8
`

// StaticEntries parses StaticSample.
func StaticEntries(opts ParseOptions) []Entry {
	if opts.Source == "" {
		opts.Source = "static"
	}
	entries, _, _ := ParseAll(strings.NewReader(StaticSample), opts)
	return entries
}
