package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProbeOne_ok(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	r := ProbeOne(context.Background(), srv.URL, nil)
	if r.Status != StatusOK {
		t.Errorf("Status: %s", r.Status)
	}
	if r.StatusCode != 200 {
		t.Errorf("StatusCode: %d", r.StatusCode)
	}
	if r.Format != FormatM3U {
		t.Errorf("Format: %s", r.Format)
	}
}

func TestProbeOne_htmlPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<!doctype html><a href=\"x.m3u\">x</a>"))
	}))
	defer srv.Close()

	if r := ProbeOne(context.Background(), srv.URL, nil); r.Status != StatusOK || r.Format != FormatHTML {
		t.Errorf("got %+v", r)
	}
}

func TestProbeOne_badStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := ProbeOne(context.Background(), srv.URL, nil)
	if r.Status != StatusBadStatus {
		t.Errorf("Status: %s", r.Status)
	}
	if r.StatusCode != 404 {
		t.Errorf("StatusCode: %d", r.StatusCode)
	}
}

func TestProbeOne_cloudflare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(503)
		w.Write([]byte("Checking your browser"))
	}))
	defer srv.Close()

	r := ProbeOne(context.Background(), srv.URL, nil)
	if r.Status != StatusCloudflare {
		t.Errorf("Status: %s", r.Status)
	}
}

func TestProbeOne_timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	r := ProbeOne(context.Background(), srv.URL, &http.Client{Timeout: 50 * time.Millisecond})
	if r.Status != StatusTimeout {
		t.Errorf("Status: %s", r.Status)
	}
}

func TestProbeOne_localFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.m3u")
	if err := os.WriteFile(path, []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := ProbeOne(context.Background(), path, nil); r.Status != StatusOK || r.Format != FormatM3U {
		t.Errorf("path: %+v", r)
	}
	if r := ProbeOne(context.Background(), "file://"+path, nil); r.Status != StatusOK {
		t.Errorf("file URL: %+v", r)
	}
	if r := ProbeOne(context.Background(), path+".missing", nil); r.Status != StatusError {
		t.Errorf("missing: %+v", r)
	}
}

func TestProbeAll_sort(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer badSrv.Close()

	results := ProbeAll(context.Background(), []string{badSrv.URL, "", okSrv.URL}, nil)
	if len(results) != 2 {
		t.Fatalf("len(results)=%d", len(results))
	}
	if results[0].Status != StatusOK {
		t.Errorf("first result Status: %s", results[0].Status)
	}
	if results[1].Status != StatusBadStatus {
		t.Errorf("second result Status: %s", results[1].Status)
	}
}

func TestReachable_keepsSourceOrder(t *testing.T) {
	ok := func() *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("#EXTM3U\n"))
		}))
	}
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer slow.Close()
	fast := ok()
	defer fast.Close()
	cf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(403)
	}))
	defer cf.Close()
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer dead.Close()

	sources := []string{slow.URL, dead.URL, cf.URL, fast.URL}
	got := Reachable(context.Background(), sources, nil, true)
	if len(got) != 2 || got[0] != slow.URL || got[1] != fast.URL {
		t.Errorf("blockCF: %v", got)
	}
	got = Reachable(context.Background(), sources, nil, false)
	if len(got) != 3 || got[1] != cf.URL {
		t.Errorf("allow CF: %v", got)
	}
}

func TestBestSourceURL(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer badSrv.Close()

	if best := BestSourceURL(context.Background(), []string{badSrv.URL, okSrv.URL}, nil); best != okSrv.URL {
		t.Errorf("BestSourceURL = %q", best)
	}
	if best := BestSourceURL(context.Background(), []string{badSrv.URL}, nil); best != "" {
		t.Errorf("BestSourceURL = %q, want empty", best)
	}
}
