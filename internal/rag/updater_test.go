package rag

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdater_RunOnceIndexesManualSeeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><main><h1>Welcome</h1><p>Hello from the updater test page.</p></main></body></html>"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := testRAGConfig(dir)
	cfg.BaseURL = srv.URL
	idx, err := NewIndex(cfg, dir+"/index", nil, nil, nil, nil)
	require.NoError(t, err)

	u := &Updater{
		Index:     idx,
		Discovery: DiscoveryConfig{Mode: CrawlModeManual, Seeds: []string{srv.URL}},
		BatchSize: 10,
	}

	require.NoError(t, u.runOnce(context.Background()))

	results, err := idx.Search(context.Background(), "updater test page", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestUpdater_SitemapCycleTombstonesRemovedURLs(t *testing.T) {
	var sitemapBody []byte
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write(sitemapBody)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><main><p>soon to be removed from the sitemap</p></main></body></html>"))
	})
	mux.HandleFunc("/kept", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><main><p>stays in the sitemap forever</p></main></body></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	cfg := testRAGConfig(dir)
	cfg.BaseURL = srv.URL
	idx, err := NewIndex(cfg, dir+"/index", nil, nil, nil, nil)
	require.NoError(t, err)

	u := &Updater{
		Index:     idx,
		Discovery: DiscoveryConfig{Mode: CrawlModeSitemap, BaseURL: srv.URL},
		BatchSize: 10,
	}

	sitemapBody = []byte(`<urlset><url><loc>` + srv.URL + `/gone</loc><lastmod>2026-01-01</lastmod></url>` +
		`<url><loc>` + srv.URL + `/kept</loc><lastmod>2026-01-01</lastmod></url></urlset>`)
	require.NoError(t, u.runOnce(context.Background()))

	results, err := idx.Search(context.Background(), "soon to be removed", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	// Second tick: /gone drops out of the sitemap entirely.
	sitemapBody = []byte(`<urlset><url><loc>` + srv.URL + `/kept</loc><lastmod>2026-01-01</lastmod></url></urlset>`)
	require.NoError(t, u.runOnce(context.Background()))

	results, err = idx.Search(context.Background(), "soon to be removed", 5)
	require.NoError(t, err)
	assert.Empty(t, results, "a URL dropped from the sitemap must be tombstoned out of search results")

	keptResults, err := idx.Search(context.Background(), "stays in the sitemap forever", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, keptResults)
}

func TestUpdater_SkipsWhenPaused(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewIndex(testRAGConfig(dir), dir+"/index", nil, nil, nil, nil)
	require.NoError(t, err)
	idx.Pause()

	u := &Updater{
		Index:     idx,
		Discovery: DiscoveryConfig{Mode: CrawlModeManual, Seeds: []string{"https://example.com/never-fetched"}},
		Interval:  10 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	u.Run(ctx)

	assert.Equal(t, 0, idx.ChunkCount())
}
