package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

const body = `{
  "sections": {"CS240|LEC 001": {"name": "CS240", "section": "LEC 001", "instructors": ["Biedl,Therese"],
                                 "blocks": [["2015-01-06T11:30:00", "2015-01-06T12:50:00"]]}},
  "schedules": [["CS240|LEC 001"]],
  "schedule_stats": [{"earliest": "11:30", "latest": "12:50", "instructors": ["Biedl,Therese"]}]
}`

func newTestClient(t *testing.T, baseURL string, ttl time.Duration) *Client {
	t.Helper()
	c, err := NewClient(baseURL, Options{CacheDir: t.TempDir(), TTL: ttl})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestFetchRequestPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/api/", 0)
	res, err := c.Fetch(context.Background(), "2015W", "CS240, MATH135")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/api/schedules/2015W/CS240, MATH135" {
		t.Fatalf("path = %q", gotPath)
	}
	if len(res.Schedules) != 1 || res.Sections["CS240|LEC 001"].Name != "CS240" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFetchServesFreshCacheWithoutRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Hour)
	for i := 0; i < 3; i++ {
		if _, err := c.Fetch(context.Background(), "2015W", "CS240"); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("backend hit %d times, want 1", n)
	}
}

func TestFetchRevalidatesWithETag(t *testing.T) {
	var conditional int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			atomic.AddInt32(&conditional, 1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	if _, err := c.Fetch(context.Background(), "2015W", "CS240"); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	res, err := c.Fetch(context.Background(), "2015W", "CS240")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if atomic.LoadInt32(&conditional) != 1 {
		t.Fatalf("expected one conditional request")
	}
	if len(res.Schedules) != 1 {
		t.Fatalf("cached body not decoded: %+v", res)
	}
}

func TestFetchFallsBackToCacheOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	if _, err := c.Fetch(context.Background(), "2015W", "CS240"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	fail.Store(true)
	if _, err := c.Fetch(context.Background(), "2015W", "CS240"); err != nil {
		t.Fatalf("expected cached fallback, got %v", err)
	}

	_, err := c.Fetch(context.Background(), "2015W", "MATH135")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
}

func TestFetchStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadRequest, ErrBadRequest},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := newTestClient(t, srv.URL, 0)
		_, err := c.Fetch(context.Background(), "2015W", "CS240")
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: got %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestFetchDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Hour)
	if _, err := c.Fetch(context.Background(), "2015W", "CS240"); err == nil {
		t.Fatalf("expected decode error")
	}
	// Invalid bodies are not cached.
	if _, err := loadCacheBody(c.cachePathForURL(c.URL("2015W", "CS240"))); err == nil {
		t.Fatalf("invalid body should not be cached")
	}
}

func TestFetchDoesNotCacheMalformedResult(t *testing.T) {
	const good = `{"sections": {}, "schedules": [], "schedule_stats": []}`
	cases := map[string]string{
		"bad timestamp": `{"sections": {"A": {"name": "CS1", "section": "A", "blocks": [["garbage", "x"]]}},
		                   "schedules": [["A"]], "schedule_stats": [{}]}`,
		"unknown section": `{"sections": {}, "schedules": [["NOPE"]], "schedule_stats": [{}]}`,
	}
	for name, first := range cases {
		t.Run(name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&hits, 1) == 1 {
					w.Write([]byte(first))
					return
				}
				w.Write([]byte(good))
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, time.Hour)
			if _, err := c.Fetch(context.Background(), "2015W", "CS1"); err == nil {
				t.Fatalf("expected error for malformed result")
			}
			if _, err := c.Fetch(context.Background(), "2015W", "CS1"); err != nil {
				t.Fatalf("retry should reach the backend: %v", err)
			}
			if n := atomic.LoadInt32(&hits); n != 2 {
				t.Fatalf("backend hit %d times, want 2", n)
			}
		})
	}
}

func TestFetchIgnoresUnusableCacheEntry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Hour)
	u := c.URL("2015W", "CS240")
	path := c.cachePathForURL(u)
	if err := os.MkdirAll(path, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	stale := []byte(`{"sections": {}, "schedules": [["NOPE"]], "schedule_stats": [{}]}`)
	if err := saveCache(path, cacheEntry{URL: u, UpdatedAt: c.now().UTC()}, stale); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	res, err := c.Fetch(context.Background(), "2015W", "CS240")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 || len(res.Schedules) != 1 {
		t.Fatalf("hits=%d result=%+v", atomic.LoadInt32(&hits), res)
	}
}

func TestFetchRejectsEmptyTerm(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/api/", 0)
	if _, err := c.Fetch(context.Background(), "", "CS240"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	if _, err := c.Fetch(context.Background(), "2015W", ""); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for empty courses, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Fatalf("backend hit %d times, want 0", n)
	}
}

func TestPrune(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Hour)
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return start }
	if _, err := c.Fetch(context.Background(), "2015W", "CS240"); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	c.now = func() time.Time { return start.Add(2 * time.Hour) }
	if _, err := c.Fetch(context.Background(), "2015W", "MATH135"); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	n, err := c.Prune(time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d entries, want 1", n)
	}
	entries, _ := os.ReadDir(c.cacheDir)
	if len(entries) != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", len(entries))
	}
}

func TestNewClientRejectsBadScheme(t *testing.T) {
	if _, err := NewClient("ftp://example.com", Options{}); err == nil {
		t.Fatalf("expected scheme error")
	}
}
