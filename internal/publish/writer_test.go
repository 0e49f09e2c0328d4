package publish

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/snapetech/tvcollector/internal/catalog"
	"github.com/snapetech/tvcollector/internal/hls"
	"github.com/snapetech/tvcollector/internal/indexer"
)

func testChannel(key, name, u string, variants ...hls.Variant) catalog.Channel {
	m := indexer.ParseEXTINF(`#EXTINF:-1 tvg-id="x" tvg-logo="http://l/x.png" group-title="News, Local",` + name)
	if len(variants) == 0 {
		variants = []hls.Variant{hls.Original(u)}
	}
	return catalog.Channel{Key: key, Name: m.Name, CanonicalURL: u, Variants: variants, EXTINF: m.EXTINF(), Meta: m}
}

func TestWritePlaylist(t *testing.T) {
	chs := []catalog.Channel{
		testChannel("news", "News", "http://h/news.m3u8"),
		testChannel("sport", "Sport", "https://h/sport.mp4"),
	}
	var buf bytes.Buffer
	if err := WritePlaylist(&buf, chs, ""); err != nil {
		t.Fatal(err)
	}
	want := `#EXTM3U
#EXTINF:-1 tvg-id="x" tvg-logo="http://l/x.png" group-title="News, Local",News
http://h/news.m3u8
#EXTINF:-1 tvg-id="x" tvg-logo="http://l/x.png" group-title="News, Local",Sport
https://h/sport.mp4
`
	if buf.String() != want {
		t.Errorf("playlist:\n%s\nwant:\n%s", buf.String(), want)
	}

	buf.Reset()
	if err := WritePlaylist(&buf, chs[:1], "https://cdn.example/tv/"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(buf.String(), "\nhttps://cdn.example/tv/news.m3u8\n") {
		t.Errorf("base URL link missing:\n%s", buf.String())
	}
}

func TestWritePlaylist_reparses(t *testing.T) {
	ch := testChannel("odd", "placeholder", "http://h/odd.m3u8")
	ch.Meta.Name = "Odd, Name"
	ch.EXTINF = ch.Meta.EXTINF()
	var buf bytes.Buffer
	if err := WritePlaylist(&buf, []catalog.Channel{ch}, ""); err != nil {
		t.Fatal(err)
	}
	entries, _, err := indexer.ParseAll(&buf, indexer.ParseOptions{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("reparse: %v %+v", err, entries)
	}
	if entries[0].URL != ch.CanonicalURL || entries[0].Meta.Group != "News, Local" || entries[0].Meta.Name != "Odd  Name" {
		t.Errorf("reparsed %+v", entries[0].Meta)
	}
}

func TestWriteSubPlaylist(t *testing.T) {
	ch := testChannel("news", "News", "http://h/news.m3u8",
		hls.Original("http://h/news.m3u8"),
		hls.Variant{Label: "1280x720", URL: "http://h/720.m3u8", Bandwidth: 2000000},
		hls.Variant{Label: "Variant_2", URL: "http://h/v2.m3u8", Bandwidth: 800000},
	)
	var buf bytes.Buffer
	if err := WriteSubPlaylist(&buf, ch); err != nil {
		t.Fatal(err)
	}
	want := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=2560000
http://h/news.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=2000000,RESOLUTION=1280x720
http://h/720.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=800000
http://h/v2.m3u8
`
	if buf.String() != want {
		t.Errorf("sub playlist:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestWriter_Write(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir}

	stale := filepath.Join(dir, DefaultChannelDir, "old_channel.m3u8")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	chs := []catalog.Channel{
		testChannel("news", "News", "http://h/news.m3u8"),
		testChannel("sport", "Sport", "http://h/sport.m3u8"),
	}
	cat := catalog.New()
	cat.Replace("r1", time.Now(), chs)

	res, err := w.Write(chs, cat)
	if err != nil {
		t.Fatal(err)
	}
	if res.SubPlaylists != 2 || res.StaleRemoved != 1 {
		t.Errorf("result = %+v", res)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale playlist still present: %v", err)
	}
	for _, p := range []string{
		filepath.Join(dir, DefaultPlaylistName),
		filepath.Join(dir, CatalogName),
		SubPlaylistPath(filepath.Join(dir, DefaultChannelDir), "news"),
		SubPlaylistPath(filepath.Join(dir, DefaultChannelDir), "sport"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing %s: %v", p, err)
		}
	}
}

func TestWriter_sameDirKeepsPlaylist(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir, ChannelDir: dir, PlaylistName: "all.m3u8"}
	if _, err := w.Write([]catalog.Channel{testChannel("a", "A", "http://h/a.m3u8")}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]catalog.Channel{testChannel("b", "B", "http://h/b.m3u8")}, nil); err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string]bool{"all.m3u8": true, "a.m3u8": false, "b.m3u8": true} {
		_, err := os.Stat(filepath.Join(dir, name))
		if (err == nil) != want {
			t.Errorf("%s present=%v, want %v", name, err == nil, want)
		}
	}
}

func TestSanitizeKey(t *testing.T) {
	tests := map[string]string{
		"news_hd":  "news_hd",
		"a/b":      "a_b",
		"..hidden": "hidden",
		"":         "unknown",
	}
	for in, want := range tests {
		if got := sanitizeKey(in); got != want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}
