package rag

import (
	"context"
	"sort"
)

// rrfK is the Reciprocal Rank Fusion damping constant: fixed at 60 per the
// widely used RRF default, which flattens the influence of rank differences
// near the top of each list.
const rrfK = 60.0

// weightedRankList pairs a ranked ID list with the weight its rank
// contributions are scaled by before summing into the fused score (e.g.
// RAGConfig.HybridLexicalWeight/HybridSemanticWeight). A zero weight
// defaults to 1, so callers that don't care about weighting (tests,
// single-list fusion) get the unweighted behavior for free.
type weightedRankList struct {
	list   []rankedID
	weight float64
}

// reciprocalRankFusion merges weighted ranked ID lists (lexical and vector
// hits) into one fused ranking: score(id) = sum over lists containing id of
// weight/(rrfK + rank).
func reciprocalRankFusion(lists ...weightedRankList) []rankedID {
	fused := make(map[string]float64)
	for _, wl := range lists {
		w := wl.weight
		if w == 0 {
			w = 1
		}
		for rank, r := range wl.list {
			fused[r.ID] += w / (rrfK + float64(rank+1))
		}
	}
	out := make([]rankedID, 0, len(fused))
	for id, score := range fused {
		out = append(out, rankedID{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Reranker re-scores a fused candidate shortlist, typically with a
// cross-encoder model that jointly attends to the query and candidate text
// rather than comparing precomputed embeddings. It's optional: callers
// without a rerank model configured skip straight to the fused ranking.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankCandidate, error)
}

type RerankCandidate struct {
	ChunkID string
	Text    string
	Score   float64
}
