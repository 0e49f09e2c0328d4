package indexer

import (
	"bytes"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/snapetech/tvcollector/internal/safeurl"
)

// Link is an anchor scraped from a web page.
type Link struct {
	URL  string
	Text string
}

var (
	streamLinkExts = map[string]bool{
		".m3u": true, ".m3u8": true, ".ts": true, ".mp4": true, ".avi": true,
		".mkv": true, ".flv": true, ".wmv": true, ".ogv": true, ".webm": true,
	}
	excludedLinkParts = []string{"telegram", "t.me/", ".html", ".php", "github.com/", "login", "signup"}
)

// ScrapeLinks returns the stream-looking anchors of an HTML page, resolved
// against base, deduplicated, in document order.
func ScrapeLinks(base string, r io.Reader) []Link {
	z := html.NewTokenizer(r)
	seen := make(map[string]bool)
	var (
		out      []Link
		href     string
		inAnchor bool
		text     strings.Builder
	)
	flush := func() {
		if href == "" {
			return
		}
		u := safeurl.Resolve(base, href)
		if !seen[u] && isStreamLink(u) {
			seen[u] = true
			out = append(out, Link{URL: u, Text: strings.Join(strings.Fields(text.String()), " ")})
		}
		href = ""
	}
	for {
		switch z.Next() {
		case html.ErrorToken:
			if inAnchor {
				flush()
			}
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" {
				continue
			}
			if inAnchor {
				flush()
			}
			inAnchor = true
			text.Reset()
			for hasAttr {
				var k, v []byte
				k, v, hasAttr = z.TagAttr()
				if string(k) == "href" {
					href = strings.TrimSpace(string(v))
				}
			}
		case html.TextToken:
			if inAnchor {
				text.Write(z.Text())
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "a" && inAnchor {
				flush()
				inAnchor = false
			}
		}
	}
}

func isStreamLink(u string) bool {
	if !safeurl.IsHTTPOrHTTPS(u) {
		return false
	}
	lower := strings.ToLower(u)
	for _, part := range excludedLinkParts {
		if strings.Contains(lower, part) {
			return false
		}
	}
	return streamLinkExts[safeurl.Extension(u)]
}

// PlaylistLinks returns the links on a page that point at channel lists (.m3u),
// which FetchAll follows as further sources.
func PlaylistLinks(base string, r io.Reader) []string {
	var out []string
	for _, l := range ScrapeLinks(base, r) {
		if safeurl.Extension(l.URL) == ".m3u" {
			out = append(out, l.URL)
		}
	}
	return out
}

// HTMLEntries turns the direct stream links of a page into entries. The anchor
// text, or else the file name, becomes the display name.
func HTMLEntries(doc Document, opts ParseOptions) []Entry {
	var out []Entry
	for _, l := range ScrapeLinks(doc.Source, bytes.NewReader(doc.Body)) {
		if safeurl.Extension(l.URL) == ".m3u" {
			continue
		}
		m := Metadata{Duration: "-1", Name: l.Text, Group: DefaultGroup}
		if m.Name == "" {
			m.Name = linkFileName(l.URL)
		}
		if opts.DefaultLogo != "" {
			m = m.WithLogo(opts.DefaultLogo)
		}
		m = m.WithAttr("group-title", m.Group)
		src := opts.Source
		if src == "" {
			src = doc.Source
		}
		out = append(out, Entry{Meta: m, URL: l.URL, Source: src})
	}
	return out
}

func linkFileName(u string) string {
	p := u
	if parsed, err := url.Parse(u); err == nil {
		p = parsed.Path
	}
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}
