package indexer

import (
	"bufio"
	"errors"
	"strings"
	"testing"
)

func TestParseAll_empty(t *testing.T) {
	entries, stats, err := ParseAll(strings.NewReader(""), ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 || stats.Skipped() != 0 {
		t.Errorf("expected nothing; got %d entries, stats %+v", len(entries), stats)
	}
}

func TestParseAll_singleEntry(t *testing.T) {
	m3u := `#EXTM3U
#EXTINF:-1 tvg-logo="L" group-title="G",Name
http://x/a.m3u8
`
	entries, _, err := ParseAll(strings.NewReader(m3u), ParseOptions{Source: "src"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Meta.Name != "Name" || e.Meta.Logo != "L" || e.Meta.Group != "G" || e.URL != "http://x/a.m3u8" || e.Source != "src" {
		t.Errorf("entry = %+v", e)
	}
	if e.Meta.NameGenerated {
		t.Error("NameGenerated should be false")
	}
}

func TestParseAll_descriptorWithoutURLIsDropped(t *testing.T) {
	m3u := `#EXTM3U
#EXTINF:-1,Lonely
#EXTINF:-1,Second
http://x/second.m3u8
#EXTINF:-1,Trailing
`
	entries, stats, err := ParseAll(strings.NewReader(m3u), ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Meta.Name != "Second" {
		t.Fatalf("entries = %+v", entries)
	}
	if stats.Unterminated != 2 {
		t.Errorf("Unterminated = %d, want 2", stats.Unterminated)
	}
}

func TestParseAll_commentsKeepPendingDescriptor(t *testing.T) {
	m3u := `#EXTM3U
#EXTINF:-1 group-title="News",With Options
#EXTVLCOPT:http-user-agent=Foo

#EXTGRP:Other
https://x/with-options.m3u8
`
	entries, stats, err := ParseAll(strings.NewReader(m3u), ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Meta.Name != "With Options" {
		t.Fatalf("entries = %+v", entries)
	}
	if stats.Skipped() != 0 {
		t.Errorf("stats = %+v, want no skipped lines", stats)
	}
}

func TestParseAll_orphanAndUnclassified(t *testing.T) {
	m3u := `http://x/orphan.m3u8
garbage line
#EXTINF:-1,Kept
junk between
http://x/kept.m3u8
`
	entries, stats, err := ParseAll(strings.NewReader(m3u), ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].URL != "http://x/kept.m3u8" {
		t.Fatalf("entries = %+v", entries)
	}
	if stats.Orphaned != 1 || stats.Unclassified != 2 {
		t.Errorf("stats = %+v, want 1 orphaned and 2 unclassified", stats)
	}
}

func TestParseAll_defaults(t *testing.T) {
	m3u := "#EXTINF:-1,\nhttp://x/1.mp4\n#EXTINF:-1 tvg-id=\"a\"\nrtmp://x/live\n"
	entries, _, err := ParseAll(strings.NewReader(m3u), ParseOptions{DefaultLogo: "http://logo/default.png"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	for i, e := range entries {
		if !e.Meta.NameGenerated || e.Meta.Name == "" {
			t.Errorf("entry %d: want generated name, got %q", i, e.Meta.Name)
		}
		if e.Meta.Logo != "http://logo/default.png" {
			t.Errorf("entry %d: logo = %q", i, e.Meta.Logo)
		}
		if v, _ := e.Meta.Attr("tvg-logo"); v != "http://logo/default.png" {
			t.Errorf("entry %d: tvg-logo attr = %q", i, v)
		}
		if e.Meta.Group != DefaultGroup {
			t.Errorf("entry %d: group = %q", i, e.Meta.Group)
		}
	}
	if entries[0].Meta.Name == entries[1].Meta.Name {
		t.Errorf("placeholder names should differ: %q", entries[0].Meta.Name)
	}
}

func TestParser_lazyStopsEarly(t *testing.T) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for i := 0; i < 100; i++ {
		b.WriteString("#EXTINF:-1,C\nhttp://x/c.m3u8\n")
	}
	p := NewParser(strings.NewReader(b.String()), ParseOptions{})
	n := 0
	for range p.Entries() {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 || p.Stats().Entries != 3 {
		t.Errorf("n = %d, stats = %+v", n, p.Stats())
	}
}

func TestParser_byteOrderMarkAndCRLF(t *testing.T) {
	m3u := "\ufeff#EXTM3U\r\n#extinf:-1,Lower Case\r\nhttp://x/a.m3u8\r\n"
	entries, _, err := ParseAll(strings.NewReader(m3u), ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Meta.Name != "Lower Case" || entries[0].URL != "http://x/a.m3u8" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestParser_lineTooLong(t *testing.T) {
	long := "#EXTINF:-1," + strings.Repeat("x", maxLineSize+1)
	_, _, err := ParseAll(strings.NewReader(long), ParseOptions{})
	if !errors.Is(err, bufio.ErrTooLong) {
		t.Errorf("err = %v, want bufio.ErrTooLong", err)
	}
}

func TestIsURLLine(t *testing.T) {
	tests := map[string]bool{
		"http://x/a":       true,
		"https://x":        true,
		"rtmp://x/live":    true,
		"udp://@239.0.0.1": true,
		"svn+ssh://x":      true,
		"1http://x":        false,
		"/relative/path":   false,
		"://x":             false,
		"no scheme here":   false,
		"a b://x":          false,
	}
	for in, want := range tests {
		if got := isURLLine(in); got != want {
			t.Errorf("isURLLine(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestStaticEntries(t *testing.T) {
	entries := StaticEntries(ParseOptions{})
	if len(entries) != 1 || entries[0].Meta.Name != "Sample Channel" || entries[0].Source != "static" {
		t.Errorf("StaticEntries = %+v", entries)
	}
}
