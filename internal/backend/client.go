// Package backend is the HTTP client for the external scheduling service.
//
// The service has a single endpoint, GET {base}/schedules/{term}/{courses},
// returning a model.SearchResult. Responses are cached on disk keyed by
// URL, honoring ETag / Last-Modified, and served without a request while
// younger than the configured TTL.
package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "courserator/internal/log"
	"courserator/internal/model"
)

var (
	ErrNotFound   = errors.New("backend: not found")
	ErrBadRequest = errors.New("backend: bad request")
)

// StatusError is returned for unexpected HTTP statuses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "backend: unexpected status " + e.Status
}

// Options configures a Client.
type Options struct {
	// CacheDir is where per-URL cache entries live. Empty disables caching.
	CacheDir string
	// TTL is how long a cached body is used without revalidation.
	TTL time.Duration
	// Timeout bounds each request when HTTPClient is nil.
	Timeout time.Duration
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Client fetches search results from the scheduling service.
type Client struct {
	base     *url.URL
	client   *http.Client
	cacheDir string
	ttl      time.Duration
	now      func() time.Time
}

// cacheEntry holds HTTP cache metadata for a single URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewClient(baseURL string, opts Options) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend: unsupported scheme %q", base.Scheme)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		base:     base,
		client:   hc,
		cacheDir: opts.CacheDir,
		ttl:      opts.TTL,
		now:      time.Now,
	}, nil
}

// URL builds the request URL for term and courses. Both are embedded as
// path segments; only the escaping net/url applies is done.
func (c *Client) URL(term, courses string) string {
	return c.base.JoinPath("schedules", term, courses).String()
}

// Fetch implements picker.Fetcher. Only bodies that decode into a valid
// model.SearchResult are written to or served from the cache.
func (c *Client) Fetch(ctx context.Context, term, courses string) (model.SearchResult, error) {
	// JoinPath drops empty segments, which would address a different path.
	if term == "" || courses == "" {
		return model.SearchResult{}, fmt.Errorf("%w: empty term or course list", ErrBadRequest)
	}
	u := c.URL(term, courses)

	var res model.SearchResult
	err := c.fetchBody(ctx, u, func(body []byte) error {
		var r model.SearchResult
		if err := json.NewDecoder(bytes.NewReader(body)).Decode(&r); err != nil {
			return fmt.Errorf("backend: decode response: %w", err)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("backend: %w", err)
		}
		res = r
		return nil
	})
	if err != nil {
		return model.SearchResult{}, err
	}
	return res, nil
}

// fetchBody resolves u to a body accepted by decode, from the cache or the
// backend. A cached body that decode rejects is treated as absent.
func (c *Client) fetchBody(ctx context.Context, u string, decode func([]byte) error) error {
	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if c.cacheDir != "" {
		cachePath = c.cachePathForURL(u)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return err
		}
		meta, _ = loadCacheMeta(cachePath)
		cachedBody, _ = loadCacheBody(cachePath)
		if len(cachedBody) > 0 {
			if err := decode(cachedBody); err != nil {
				appLog.Warn("backend cache entry unusable, ignoring", "url", redactURL(u), "err", err)
				cachedBody = nil
				meta = cacheEntry{}
			}
		}

		if len(cachedBody) > 0 && c.ttl > 0 && c.now().Sub(meta.UpdatedAt) < c.ttl {
			appLog.Debug("backend cache hit", "url", redactURL(u), "age", c.now().Sub(meta.UpdatedAt).Round(time.Second))
			return nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("backend fetch start", "url", redactURL(u))

	resp, err := c.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("backend network error, using cached body", err, "url", redactURL(u))
			return nil
		}
		return fmt.Errorf("backend: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("backend: read body: %w", err)
		}
		if err := decode(body); err != nil {
			return err
		}
		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          u,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
				UpdatedAt:    c.now().UTC(),
			}
			if err := saveCache(cachePath, newMeta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("backend cache save failed", err, "url", redactURL(u))
			}
		}
		appLog.Info("backend fetch success", "url", redactURL(u), "bytes", len(body))
		return nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return errors.New("backend: 304 Not Modified but no cached body available")
		}
		meta.UpdatedAt = c.now().UTC()
		if err := saveCache(cachePath, meta, cachedBody); err != nil {
			appLog.Error("backend cache touch failed", err, "url", redactURL(u))
		}
		appLog.Info("backend not modified; using cache", "url", redactURL(u))
		return nil

	case http.StatusNotFound:
		return ErrNotFound

	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrBadRequest

	default:
		if len(cachedBody) > 0 {
			appLog.Error("backend non-OK, using cached body", errors.New(resp.Status), "url", redactURL(u), "status", resp.StatusCode)
			return nil
		}
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
}

// Prune deletes cache entries last refreshed more than maxAge ago, along
// with entries whose metadata cannot be read. It returns the number
// removed.
func (c *Client) Prune(maxAge time.Duration) (int, error) {
	if c.cacheDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := c.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(c.cacheDir, e.Name())
		meta, err := loadCacheMeta(p)
		if err == nil && meta.UpdatedAt.After(cutoff) {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (c *Client) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	// Use first 16 hex chars as directory name.
	return filepath.Join(c.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.json"))
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.json"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides credentials embedded in the backend URL.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return "(unparseable url)"
	}
	return parsed.Redacted()
}
