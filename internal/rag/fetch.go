package rag

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog/log"
)

// fetcher issues polite, cached, robots-respecting GETs for crawl discovery
// and page retrieval, tracking per-URL failures so a page that has failed
// three times (the count is never reset) is skipped for the fetcher's lifetime.
type fetcher struct {
	client    *http.Client
	userAgent string
	cache     *PageCache
	robots    *robotsManager
	baseHost  string // authority pages must still share after any redirect

	mu         sync.Mutex
	failCount  map[string]int
	statusHist map[int]int
}

const maxFetchStrikes = 3

func newFetcher(client *http.Client, userAgent string, cache *PageCache, robots *robotsManager, baseURL string) *fetcher {
	var host string
	if u, err := url.Parse(baseURL); err == nil {
		host = u.Host
	}
	return &fetcher{
		client:     client,
		userAgent:  userAgent,
		cache:      cache,
		robots:     robots,
		baseHost:   host,
		failCount:  make(map[string]int),
		statusHist: make(map[int]int),
	}
}

// StatusHistogram returns a snapshot of response-status counts observed
// across every fetch this crawl run issued.
func (f *fetcher) StatusHistogram() map[int]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]int, len(f.statusHist))
	for k, v := range f.statusHist {
		out[k] = v
	}
	return out
}

func (f *fetcher) recordStatus(status int) {
	f.mu.Lock()
	f.statusHist[status]++
	f.mu.Unlock()
}

func (f *fetcher) skipListed(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failCount[url] >= maxFetchStrikes
}

func (f *fetcher) strike(url string) {
	f.mu.Lock()
	f.failCount[url]++
	f.mu.Unlock()
}

// Get fetches a page, honoring robots.txt, conditional-GET caching, and
// redirect confinement to http/https. Returns the cached body unmodified on
// a 304 response. Equivalent to GetFresh(ctx, url, false).
func (f *fetcher) Get(ctx context.Context, url string) ([]byte, string, error) {
	return f.GetFresh(ctx, url, false)
}

// GetFresh is Get with an explicit force-refresh flag: when forceRefresh is
// false and an unexpired page-cache entry exists, it is served straight off
// disk with no network round trip at all.
func (f *fetcher) GetFresh(ctx context.Context, url string, forceRefresh bool) ([]byte, string, error) {
	if f.skipListed(url) {
		log.Debug().Str("component", "rag.fetch").Str("url", url).Msg("skip-listed, not fetching")
		return nil, "", fmt.Errorf("fetch: %s is skip-listed after %d failures", url, maxFetchStrikes)
	}

	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, url)
		if err == nil && !allowed {
			log.Debug().Str("component", "rag.fetch").Str("url", url).Msg("disallowed by robots.txt")
			return nil, "", fmt.Errorf("fetch: disallowed by robots.txt: %s", url)
		}
	}

	var etag, lastMod string
	if f.cache != nil {
		if meta, err := f.cache.LoadMeta(ctx, url); err == nil && meta != nil {
			if !forceRefresh {
				if body, err := f.cache.LoadBody(ctx, url); err == nil {
					log.Debug().Str("component", "rag.fetch").Str("url", url).Msg("served from page cache, no network round trip")
					return body, meta.ContentType, nil
				}
			}
			etag = meta.ETag
			lastMod = meta.LastModified
		}
	}

	body, contentType, status, respETag, respLastMod, err := f.doGet(ctx, url, etag, lastMod)
	if err != nil {
		f.strike(url)
		log.Warn().Str("component", "rag.fetch").Str("url", url).Err(err).Msg("fetch failed")
		return nil, "", err
	}

	if status == http.StatusNotModified && f.cache != nil {
		cached, err := f.cache.LoadBody(ctx, url)
		if err == nil {
			log.Debug().Str("component", "rag.fetch").Str("url", url).Msg("revalidated via conditional GET, 304")
			return cached, contentType, nil
		}
	}

	if f.cache != nil && status == http.StatusOK {
		_ = f.cache.Save(ctx, url, contentType, respETag, respLastMod, body)
	}

	return body, contentType, nil
}

func (f *fetcher) doGet(ctx context.Context, url, etag, lastMod string) ([]byte, string, int, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", 0, "", "", fmt.Errorf("new request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}
	// Brotli is deliberately excluded from the requested encodings (observed
	// decode failures against some crawl targets); it's still decoded below
	// since a server may send it unasked.
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	client := f.client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second, CheckRedirect: confineRedirects}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", 0, "", "", err
	}
	defer resp.Body.Close()
	f.recordStatus(resp.StatusCode)

	if f.baseHost != "" && resp.Request != nil && resp.Request.URL != nil && resp.Request.URL.Host != f.baseHost {
		return nil, "", resp.StatusCode, "", "", fmt.Errorf("redirect confinement: %s resolved outside base authority %s to %s", url, f.baseHost, resp.Request.URL.Host)
	}

	respETag := resp.Header.Get("ETag")
	respLastMod := resp.Header.Get("Last-Modified")

	if resp.StatusCode == http.StatusNotModified {
		return nil, resp.Header.Get("Content-Type"), resp.StatusCode, respETag, respLastMod, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", resp.StatusCode, "", "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isFetchableContentType(contentType) {
		return nil, "", resp.StatusCode, "", "", fmt.Errorf("unsupported content type %q for %s", contentType, url)
	}

	body, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, "", resp.StatusCode, "", "", fmt.Errorf("decode body: %w", err)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, "", resp.StatusCode, "", "", fmt.Errorf("read body: %w", err)
	}
	return b, contentType, resp.StatusCode, respETag, respLastMod, nil
}

// decodeBody wraps body in the decompressor matching Content-Encoding. gzip
// and deflate are what the fetcher requests; brotli is handled for servers
// that reply with it despite the Accept-Encoding header above.
func decodeBody(contentEncoding string, body io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip":
		return gzip.NewReader(body)
	case "deflate":
		return flate.NewReader(body), nil
	case "br":
		return brotli.NewReader(body), nil
	default:
		return body, nil
	}
}

func confineRedirects(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return errors.New("too many redirects")
	}
	if req.URL == nil || !isHTTPScheme(req.URL) {
		return errors.New("redirect to unsupported scheme")
	}
	return nil
}

func isFetchableContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return strings.HasPrefix(ct, "text/html") ||
		strings.HasPrefix(ct, "application/xhtml+xml") ||
		strings.HasPrefix(ct, "application/xml") ||
		strings.HasPrefix(ct, "text/xml")
}
