package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/llmgate/toolgate/internal/config"
)

// Embedder produces a dense vector for a piece of text. It is satisfied by a
// thin wrapper over the configured backend's embeddings call.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the RAG pipeline's runtime state: the dual lexical+vector stores,
// the crawl/fetch/extract/chunk pipeline that feeds them, and the pause flag
// the orchestrator toggles around live requests.
type Index struct {
	cfg      config.RAGConfig
	dataDir  string
	lexical  *lexicalIndex
	vector   *vectorIndex
	embedder Embedder
	reranker Reranker
	enricher *ContextualEnricher
	counter  *tokenCounter
	fetcher  *fetcher

	mu            sync.RWMutex
	parents       map[string]ParentChunk
	chunks        map[string]Chunk
	contentHashes map[string]string // sha256(extracted text) -> first URL indexed with it

	paused atomic.Bool
	logger *slog.Logger
}

// NewIndex constructs an Index bound to cfg. embedder and reranker may be
// nil pending configuration; enricher is nil unless contextual enrichment is
// enabled.
func NewIndex(cfg config.RAGConfig, dataDir string, embedder Embedder, reranker Reranker, enricher *ContextualEnricher, logger *slog.Logger) (*Index, error) {
	counter, err := newTokenCounter()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout, CheckRedirect: confineRedirects}
	cache := NewPageCache(cfg.CacheDir, cfg.PageCacheTTL)
	robots := newRobotsManager(httpClient, cache, "toolgate-rag-crawler/1.0")
	f := newFetcher(httpClient, "toolgate-rag-crawler/1.0", cache, robots, cfg.BaseURL)

	idx := &Index{
		cfg:      cfg,
		dataDir:  dataDir,
		lexical:  newLexicalIndex(),
		vector:   newVectorIndex(),
		embedder: embedder,
		reranker: reranker,
		enricher: enricher,
		counter:  counter,
		fetcher:  f,
		parents:       make(map[string]ParentChunk),
		chunks:        make(map[string]Chunk),
		contentHashes: make(map[string]string),
		logger:        logger,
	}

	if state, ok, err := Load(dataDir, cfg.EmbeddingModel); err != nil {
		// Fail closed on a corrupt or incompatible on-disk index: the RAG path
		// starts empty (and will be repopulated by the updater) rather than
		// serving retrieval results built from a different embedding space.
		logger.Warn("rag index load failed, starting empty", "error", err)
	} else if ok {
		idx.restore(state)
	}

	return idx, nil
}

func (idx *Index) restore(state persistedState) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, p := range state.Parents {
		idx.parents[p.ID] = p
	}
	for _, c := range state.Chunks {
		idx.chunks[c.ID] = c
		// Tombstoned chunks are restored into the retriever stores too: a
		// restart must not act as an implicit rebuild. Search filters them out
		// by the flag on c; only an explicit Rebuild purges them.
		idx.lexical.Add(c.ID, c.Text)
		if len(c.Embedding) > 0 {
			idx.vector.Add(c.ID, c.Embedding)
		}
	}
}

// Pause and Resume implement orchestrator.RAGPauser: the background updater
// checks Paused() before each document and, while a request holds the pause,
// stops fetching for the rest of that cycle (advisory — an update already in
// flight for one document finishes rather than aborting mid-write).
func (idx *Index) Pause()  { idx.paused.Store(true) }
func (idx *Index) Resume() { idx.paused.Store(false) }
func (idx *Index) Paused() bool { return idx.paused.Load() }

// IndexDocument runs a single document through extraction→chunk→embed→index,
// replacing any chunks previously derived from the same URL.
func (idx *Index) IndexDocument(ctx context.Context, doc Document) error {
	params := ChunkParams{
		ChildTokens:     idx.cfg.ChildChunkTokens,
		ChildMinTokens:  idx.cfg.ChildChunkMinTokens,
		ParentTokens:    idx.cfg.ParentChunkTokens,
		ParentMinTokens: idx.cfg.ParentChunkMinTokens,
	}
	// Pages whose extracted content hashes identically to an already-indexed
	// page (mirrors, print views, trailing-slash aliases) are skipped after
	// the first.
	sum := sha256.Sum256([]byte(doc.Text))
	contentHash := hex.EncodeToString(sum[:])
	idx.mu.Lock()
	if owner, seen := idx.contentHashes[contentHash]; seen && owner != doc.URL {
		idx.mu.Unlock()
		idx.logger.Debug("duplicate page content, skipping", "url", doc.URL, "duplicate_of", owner)
		return nil
	}
	idx.contentHashes[contentHash] = doc.URL
	idx.mu.Unlock()

	parents, children := ChunkDocument(doc, idx.counter, params)

	idx.removeDocument(doc.URL)

	idx.mu.Lock()
	for _, p := range parents {
		idx.parents[p.ID] = p
	}
	idx.mu.Unlock()

	for i := range children {
		c := children[i]
		text := c.Text
		if idx.enricher != nil {
			if enriched, err := idx.enricher.Enrich(ctx, doc.Text, c.Text); err == nil {
				text = enriched
				c.Contextualized = true
			} else {
				idx.logger.Warn("contextual enrichment failed, indexing raw chunk", "chunk_id", c.ID, "error", err)
			}
		}

		if idx.embedder != nil {
			emb, err := idx.embedder.Embed(ctx, text)
			if err != nil {
				idx.logger.Warn("embedding failed, chunk will only be lexically searchable", "chunk_id", c.ID, "error", err)
			} else {
				c.Embedding = emb
			}
		}
		c.UpdatedAt = time.Now()

		idx.mu.Lock()
		idx.chunks[c.ID] = c
		idx.mu.Unlock()

		idx.lexical.Add(c.ID, text)
		if len(c.Embedding) > 0 {
			idx.vector.Add(c.ID, c.Embedding)
		}
	}

	return nil
}

// removeDocument tombstones every chunk previously derived from url, ahead
// of a re-index. Tombstoning is a flag, not a deletion: the flat vector
// index has no removal operation, so a tombstoned chunk's embedding stays in
// the store and is filtered out at search time until the next rebuild.
func (idx *Index) removeDocument(url string) {
	idx.TombstoneURL(url)
}

// TombstoneURL marks every live chunk sourced from url as tombstoned,
// without touching the lexical or vector stores: both retain the entry, but
// Search excludes anything tombstoned before fusion. Used directly by the
// updater for URLs the sitemap diff reports as removed, and indirectly (via
// removeDocument) ahead of re-indexing a URL reported as updated.
func (idx *Index) TombstoneURL(url string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for id, c := range idx.chunks {
		if c.SourceURL == url && !c.Tombstoned {
			c.Tombstoned = true
			idx.chunks[id] = c
		}
	}
}

// TombstoneRatio reports tombstoned/total live-table chunks, the figure the
// updater compares against RebuildThreshold.
func (idx *Index) TombstoneRatio() float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.chunks) == 0 {
		return 0
	}
	var tombstoned int
	for _, c := range idx.chunks {
		if c.Tombstoned {
			tombstoned++
		}
	}
	return float64(tombstoned) / float64(len(idx.chunks))
}

// Rebuild physically purges tombstoned chunks from the chunk table and both
// retrievers, and drops parents no longer referenced by any live chunk. This
// is the only point at which a tombstoned chunk's vector actually leaves the
// flat ANN store.
func (idx *Index) Rebuild() {
	idx.mu.Lock()
	var toRemove []string
	liveParents := make(map[string]bool)
	for id, c := range idx.chunks {
		if c.Tombstoned {
			toRemove = append(toRemove, id)
			delete(idx.chunks, id)
			continue
		}
		liveParents[c.ParentID] = true
	}
	for id := range idx.parents {
		if !liveParents[id] {
			delete(idx.parents, id)
		}
	}
	idx.mu.Unlock()

	for _, id := range toRemove {
		idx.lexical.Remove(id)
		idx.vector.Remove(id)
	}
}

// Search runs the hybrid retriever: BM25 and vector candidate lists fused
// with Reciprocal Rank Fusion, optionally reranked by a cross-encoder, then
// expanded to parent context.
func (idx *Index) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = idx.cfg.SearchTopK
	}
	if topK <= 0 {
		topK = 8
	}
	candidateN := topK * idx.cfg.RetrieverCandidateMult
	if candidateN <= 0 {
		candidateN = topK * 4
	}

	lexHits := idx.filterTombstoned(idx.lexical.Search(query, candidateN))

	var vecHits []rankedID
	if idx.embedder != nil {
		if emb, err := idx.embedder.Embed(ctx, query); err == nil {
			vecHits = idx.filterTombstoned(idx.vector.Search(emb, candidateN))
		} else {
			idx.logger.Warn("query embedding failed, falling back to lexical-only retrieval", "error", err)
		}
	}

	fused := reciprocalRankFusion(
		weightedRankList{list: lexHits, weight: idx.cfg.HybridLexicalWeight},
		weightedRankList{list: vecHits, weight: idx.cfg.HybridSemanticWeight},
	)
	if len(fused) > candidateN {
		fused = fused[:candidateN]
	}

	if idx.reranker != nil && len(fused) > 0 {
		candidates := make([]RerankCandidate, 0, len(fused))
		idx.mu.RLock()
		for _, f := range fused {
			if c, ok := idx.chunks[f.ID]; ok {
				candidates = append(candidates, RerankCandidate{ChunkID: c.ID, Text: c.Text, Score: f.Score})
			}
		}
		idx.mu.RUnlock()

		reranked, err := idx.reranker.Rerank(ctx, query, candidates)
		if err != nil {
			idx.logger.Warn("rerank failed, using fused ranking", "error", err)
		} else {
			fused = make([]rankedID, len(reranked))
			for i, r := range reranked {
				fused[i] = rankedID{ID: r.ChunkID, Score: r.Score}
			}
			minMaxNormalize(fused)
		}
	}

	if len(fused) > topK {
		fused = fused[:topK]
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	results := make([]SearchResult, 0, len(fused))
	for _, f := range fused {
		c, ok := idx.chunks[f.ID]
		if !ok {
			continue
		}
		p := idx.parents[c.ParentID]
		results = append(results, SearchResult{Chunk: c, Parent: p, Score: f.Score})
	}
	return results, nil
}

// minMaxNormalize rescales reranker scores into [0,1] in place, so callers
// see a comparable score range regardless of which rerank model produced the
// raw values. A degenerate list (all scores equal) maps to 1.0.
func minMaxNormalize(hits []rankedID) {
	if len(hits) == 0 {
		return
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < lo {
			lo = h.Score
		}
		if h.Score > hi {
			hi = h.Score
		}
	}
	for i := range hits {
		if hi == lo {
			hits[i].Score = 1.0
			continue
		}
		hits[i].Score = (hits[i].Score - lo) / (hi - lo)
	}
}

// filterTombstoned drops any candidate whose chunk is tombstoned, so a
// soft-deleted chunk never reaches fusion even though its embedding and
// postings remain in the retriever stores until the next Rebuild.
func (idx *Index) filterTombstoned(hits []rankedID) []rankedID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := hits[:0:0]
	for _, h := range hits {
		if c, ok := idx.chunks[h.ID]; ok && c.Tombstoned {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Persist writes the current index state to disk.
func (idx *Index) Persist() error {
	idx.mu.RLock()
	state := persistedState{
		Parents: make([]ParentChunk, 0, len(idx.parents)),
		Chunks:  make([]Chunk, 0, len(idx.chunks)),
	}
	for _, p := range idx.parents {
		state.Parents = append(state.Parents, p)
	}
	for _, c := range idx.chunks {
		state.Chunks = append(state.Chunks, c)
	}
	idx.mu.RUnlock()

	if err := Save(idx.dataDir, state, idx.cfg.EmbeddingModel); err != nil {
		return fmt.Errorf("persist rag index: %w", err)
	}
	return nil
}

// ChunkCount reports the number of currently live (non-tombstoned) chunks.
func (idx *Index) ChunkCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var live int
	for _, c := range idx.chunks {
		if !c.Tombstoned {
			live++
		}
	}
	return live
}

func (idx *Index) Fetcher() *fetcher { return idx.fetcher }
