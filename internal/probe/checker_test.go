package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestChecker_headOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := &Checker{Client: srv.Client()}
	res := c.Check(t.Context(), srv.URL+"/live/index.m3u8")
	if !res.Active || res.Method != http.MethodHead || res.ResolvedURL != "" {
		t.Fatalf("result = %+v", res)
	}
	if res.Kind != KindManifest {
		t.Errorf("kind = %v", res.Kind)
	}
}

func TestChecker_manifestSniff(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good.m3u8":
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			gotRange = r.Header.Get("Range")
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte("#EXTM3U\n#EXT-X-VERSION:3\n"))
		case "/html.m3u8":
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte("<html>not a playlist</html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := &Checker{Client: srv.Client()}
	res := c.Check(t.Context(), srv.URL+"/good.m3u8")
	if !res.Active || res.Method != http.MethodGet || res.StatusCode != http.StatusPartialContent {
		t.Fatalf("good: %+v", res)
	}
	if gotRange != "bytes=0-1023" {
		t.Errorf("Range = %q", gotRange)
	}
	if res := c.Check(t.Context(), srv.URL+"/html.m3u8"); res.Active {
		t.Errorf("html body counted as live: %+v", res)
	}
}

func TestChecker_mediaGetOnlyAfterMethodNotAllowed(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.URL.Path == "/noheads.mp4" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := &Checker{Client: srv.Client()}
	if res := c.Check(t.Context(), srv.URL+"/noheads.mp4"); !res.Active || res.Method != http.MethodGet {
		t.Errorf("405 media: %+v", res)
	}
	if res := c.Check(t.Context(), srv.URL+"/missing.mp4"); res.Active {
		t.Errorf("404 media: %+v", res)
	}
	if n := gets.Load(); n != 1 {
		t.Errorf("GET count = %d, want 1", n)
	}
}

func TestChecker_rejectsWithoutNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := &Checker{
		Client:     srv.Client(),
		Extensions: ExtensionSet([]string{".m3u8"}),
	}
	for _, u := range []string{
		srv.URL + "/clip.mp4",
		srv.URL + "/bare",
		"rtmp://live.example/app",
		"file:///etc/passwd",
	} {
		res := c.Check(t.Context(), u)
		if res.Active || !res.Rejected {
			t.Errorf("%s: %+v", u, res)
		}
	}
	if hits.Load() != 0 {
		t.Errorf("server saw %d requests", hits.Load())
	}

	c = &Checker{Client: srv.Client(), Extensions: ExtensionSet([]string{".m3u8"}), AllowBare: true}
	if res := c.Check(t.Context(), srv.URL+"/bare"); res.Rejected {
		t.Errorf("bare URL rejected with AllowBare: %+v", res)
	}
}

func TestChecker_acceptRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moved.mp4" {
			http.Redirect(w, r, "/gone.mp4", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := &Checker{Client: srv.Client(), AcceptRedirects: true}
	if res := c.Check(t.Context(), srv.URL+"/moved.mp4"); !res.Active || res.StatusCode != http.StatusFound {
		t.Errorf("accept redirects: %+v", res)
	}
	c = &Checker{Client: srv.Client()}
	if res := c.Check(t.Context(), srv.URL+"/moved.mp4"); res.Active {
		t.Errorf("followed redirect to 404 counted as live: %+v", res)
	}
}

func TestChecker_schemeFallback(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// Plain HTTP against the TLS listener gets a 400; the https twin answers.
	plain := strings.Replace(srv.URL, "https://", "http://", 1) + "/clip.mp4"
	c := &Checker{Client: srv.Client(), SchemeFallback: true}
	res := c.Check(t.Context(), plain)
	if !res.Active {
		t.Fatalf("result = %+v", res)
	}
	if res.URL != plain || res.ResolvedURL != srv.URL+"/clip.mp4" {
		t.Errorf("URL = %q resolved = %q", res.URL, res.ResolvedURL)
	}
	if res.Canonical() != res.ResolvedURL {
		t.Errorf("Canonical = %q", res.Canonical())
	}

	c = &Checker{Client: srv.Client()}
	if res := c.Check(t.Context(), plain); res.Active {
		t.Errorf("no fallback configured but active: %+v", res)
	}
}

func TestChecker_noSchemeSwapAfterTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := &Checker{Client: srv.Client(), Timeout: 50 * time.Millisecond, SchemeFallback: true}
	res := c.Check(t.Context(), srv.URL+"/slow.mp4")
	if res.Active || !res.Timeout {
		t.Fatalf("result = %+v", res)
	}
	if res.Outcome() != "timeout" {
		t.Errorf("outcome = %q", res.Outcome())
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("requests = %d, want 1 (no swap after timeout)", n)
	}
}

func TestChecker_headTimeoutSticksAfterGetFailure(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		gets.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := &Checker{Client: srv.Client(), Timeout: 100 * time.Millisecond, SchemeFallback: true}
	res := c.Check(t.Context(), srv.URL+"/live.m3u8")
	if res.Active {
		t.Fatalf("result = %+v", res)
	}
	if !res.Timeout || res.Outcome() != "timeout" {
		t.Errorf("timeout = %v outcome = %q, want HEAD timeout kept", res.Timeout, res.Outcome())
	}
	if res.Method != http.MethodGet || res.StatusCode != http.StatusNotFound {
		t.Errorf("method = %s status = %d", res.Method, res.StatusCode)
	}
	if res.ResolvedURL != "" {
		t.Errorf("resolved = %q, want no scheme swap", res.ResolvedURL)
	}
	if n := gets.Load(); n != 1 {
		t.Errorf("GETs = %d, want 1", n)
	}
}

func TestAcceptedExtensions(t *testing.T) {
	def := AcceptedExtensions(nil)
	if !def[".m3u8"] || !def[".mp4"] || def[".html"] {
		t.Errorf("default set = %v", def)
	}
	got := AcceptedExtensions([]string{"TS"})
	if len(got) != 1 || !got[".ts"] {
		t.Errorf("configured set = %v", got)
	}
}

func TestChecker_cancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	c := &Checker{Client: srv.Client(), SchemeFallback: true}
	if res := c.Check(ctx, srv.URL+"/x.m3u8"); res.Active {
		t.Errorf("cancelled check reported active: %+v", res)
	}
}

func TestCheckURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/live.mp4" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if !CheckURL(t.Context(), srv.URL+"/live.mp4", time.Second) {
		t.Error("live.mp4 should be active")
	}
	if CheckURL(t.Context(), srv.URL+"/doc.pdf", time.Second) {
		t.Error("unlisted extension must be rejected")
	}
	if CheckURL(t.Context(), "ftp://example.com/a.mp4", time.Second) {
		t.Error("ftp must be rejected")
	}
}
