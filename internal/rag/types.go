// Package rag implements the retrieval-augmented context index (component D):
// crawl discovery, polite fetch with page caching, readability-style
// extraction, semantic parent/child chunking, dual lexical+vector indexing
// with reciprocal-rank-fusion reranking, a background incremental updater,
// and optional contextual-retrieval enrichment.
package rag

import "time"

// Chunk is a child-level retrieval unit: small enough to embed precisely, but
// carrying enough lineage (ParentID, HeadingPath) to expand into its parent
// for synthesis.
type Chunk struct {
	ID          string    // stable sha256 of source URL + heading path + ordinal, truncated to 32 hex chars
	ParentID    string
	SourceURL   string
	HeadingPath []string
	Text        string
	TokenCount  int
	Embedding   []float32
	UpdatedAt   time.Time
	Tombstoned  bool

	// DocType classifies the chunk's dominant content: "code" when it is a
	// single code block, "table" for a table, "prose" otherwise.
	DocType string

	// CodeIdentifiers are identifier-like tokens harvested from the chunk's
	// code blocks, available to retrieval consumers as exact-match terms.
	CodeIdentifiers []string

	// IsParentAsChild is set when a parent chunk had no independent children
	// (it was too small to split further) and was materialized as a child so
	// its content stays searchable rather than being dropped from retrieval.
	IsParentAsChild bool

	// Contextualized is set once a situating prefix has been generated and
	// indexed for this chunk, so the background enrichment pass never
	// prefixes the same chunk twice.
	Contextualized bool
}

// ParentChunk is the larger context window a matched Chunk expands into for
// synthesis, grouping several sibling child chunks under one heading path.
type ParentChunk struct {
	ID          string
	SourceURL   string
	HeadingPath []string
	Text        string
	TokenCount  int
}

// Document is one crawled-and-extracted page prior to chunking.
type Document struct {
	URL       string
	Title     string
	Text      string
	FetchedAt time.Time
	ETag      string
	LastMod   string
}

// SearchResult is one ranked retrieval hit, with both levels of context
// available to the caller.
type SearchResult struct {
	Chunk  Chunk
	Parent ParentChunk
	Score  float64
}

// CrawlMode selects how page URLs are discovered.
type CrawlMode string

const (
	CrawlModeSitemap   CrawlMode = "sitemap"
	CrawlModeRecursive CrawlMode = "recursive"
	CrawlModeManual    CrawlMode = "manual"
)
