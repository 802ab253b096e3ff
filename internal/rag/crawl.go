package rag

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

// sitemapURLSet is the minimal shape needed out of a sitemap.xml.
type sitemapURLSet struct {
	XMLName xml.Name       `xml:"urlset"`
	URLs    []sitemapEntry `xml:"url"`
}

type sitemapEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// SitemapEntry is a discovered URL paired with its sitemap-reported lastmod,
// used by the updater to diff against the previously seen sitemap and to
// order re-fetches newest-first.
type SitemapEntry struct {
	URL     string
	LastMod string
}

type sitemapIndex struct {
	XMLName  xml.Name          `xml:"sitemapindex"`
	Sitemaps []sitemapIndexRef `xml:"sitemap"`
}

type sitemapIndexRef struct {
	Loc string `xml:"loc"`
}

// discoverSitemap returns every <loc> that discoverSitemapEntries finds
// (robots.txt-declared sitemaps first, then baseURL+"/sitemap.xml"), following
// one level of sitemap-index nesting. It discards lastmod; callers that need
// it for diffing should use discoverSitemapEntries instead.
func discoverSitemap(ctx context.Context, f *fetcher, baseURL string) ([]string, error) {
	entries, err := discoverSitemapEntries(ctx, f, baseURL)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.URL
	}
	return out, nil
}

// discoverSitemapEntries is discoverSitemap plus each URL's lastmod value, as
// reported by the sitemap itself (empty if the sitemap omits it). The sitemap
// location comes from robots.txt's Sitemap directives when declared, falling
// back to probing baseURL+"/sitemap.xml".
func discoverSitemapEntries(ctx context.Context, f *fetcher, baseURL string) ([]SitemapEntry, error) {
	var candidates []string
	if f.robots != nil {
		candidates = f.robots.SitemapURLs(ctx, baseURL)
	}
	candidates = append(candidates, strings.TrimRight(baseURL, "/")+"/sitemap.xml")

	var lastErr error
	for _, sitemapURL := range candidates {
		entries, err := fetchSitemapEntries(ctx, f, sitemapURL)
		if err != nil {
			lastErr = err
			continue
		}
		return entries, nil
	}
	return nil, fmt.Errorf("fetch sitemap: %w", lastErr)
}

func fetchSitemapEntries(ctx context.Context, f *fetcher, sitemapURL string) ([]SitemapEntry, error) {
	// The top-level sitemap is always revalidated rather than served off the
	// page cache: a cache hit here would hide removals until the TTL expired.
	// Sub-sitemaps below go through the ordinary page cache (keyed by URL,
	// bounded by its TTL); their lastmod in the index is not read.
	body, _, err := f.GetFresh(ctx, sitemapURL, true)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		log.Debug().Str("component", "rag.crawl").Int("nested_sitemaps", len(index.Sitemaps)).Msg("sitemap index, descending one level")
		var all []SitemapEntry
		for _, ref := range index.Sitemaps {
			nested, _, err := f.Get(ctx, ref.Loc)
			if err != nil {
				log.Warn().Str("component", "rag.crawl").Str("sitemap", ref.Loc).Err(err).Msg("nested sitemap fetch failed, skipping")
				continue
			}
			var set sitemapURLSet
			if err := xml.Unmarshal(nested, &set); err != nil {
				continue
			}
			for _, u := range set.URLs {
				all = append(all, SitemapEntry{URL: u.Loc, LastMod: u.LastMod})
			}
		}
		log.Info().Str("component", "rag.crawl").Int("urls", len(all)).Msg("sitemap discovery complete")
		return all, nil
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}
	out := make([]SitemapEntry, 0, len(set.URLs))
	for _, u := range set.URLs {
		out = append(out, SitemapEntry{URL: u.Loc, LastMod: u.LastMod})
	}
	log.Info().Str("component", "rag.crawl").Int("urls", len(out)).Msg("sitemap discovery complete")
	return out, nil
}

// discoverRecursive performs a breadth-first same-host link crawl starting
// from seeds, bounded by maxDepth and maxPages.
func discoverRecursive(ctx context.Context, f *fetcher, seeds []string, maxDepth, maxPages int) ([]string, error) {
	if maxPages <= 0 {
		maxPages = 200
	}
	if maxDepth <= 0 {
		maxDepth = 2
	}

	type queued struct {
		url   string
		depth int
	}

	seen := make(map[string]bool)
	var queue []queued
	for _, s := range seeds {
		if !seen[s] {
			seen[s] = true
			queue = append(queue, queued{url: s, depth: 0})
		}
	}

	var discovered []string
	for len(queue) > 0 && len(discovered) < maxPages {
		item := queue[0]
		queue = queue[1:]
		discovered = append(discovered, item.url)

		if item.depth >= maxDepth {
			continue
		}
		body, contentType, err := f.Get(ctx, item.url)
		if err != nil || !strings.HasPrefix(contentType, "text/html") {
			continue
		}
		links := extractSameHostLinks(item.url, body)
		for _, l := range links {
			if !seen[l] {
				seen[l] = true
				queue = append(queue, queued{url: l, depth: item.depth + 1})
			}
		}
	}
	return discovered, nil
}

func extractSameHostLinks(pageURL string, body []byte) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	node, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "a") {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(attr.Val)
				if err != nil {
					continue
				}
				resolved := base.ResolveReference(ref)
				if resolved.Host == base.Host && isHTTPScheme(resolved) {
					resolved.Fragment = ""
					links = append(links, resolved.String())
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return links
}
