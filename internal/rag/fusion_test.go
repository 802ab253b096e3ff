package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReciprocalRankFusion_PrefersIDRankedHighInBoth(t *testing.T) {
	lex := []rankedID{{ID: "a", Score: 10}, {ID: "b", Score: 9}, {ID: "c", Score: 8}}
	vec := []rankedID{{ID: "b", Score: 0.9}, {ID: "a", Score: 0.8}, {ID: "d", Score: 0.1}}

	fused := reciprocalRankFusion(weightedRankList{list: lex, weight: 1}, weightedRankList{list: vec, weight: 1})
	require.NotEmpty(t, fused)
	assert.Contains(t, []string{"a", "b"}, fused[0].ID, "top result should be one of the two consistently highly-ranked IDs")
}

func TestReciprocalRankFusion_EmptyListsProduceEmptyResult(t *testing.T) {
	assert.Empty(t, reciprocalRankFusion(weightedRankList{}, weightedRankList{}))
}

func TestReciprocalRankFusion_SingleListPreservesOrder(t *testing.T) {
	lex := []rankedID{{ID: "a", Score: 10}, {ID: "b", Score: 5}}
	fused := reciprocalRankFusion(weightedRankList{list: lex})
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].ID)
}

func TestReciprocalRankFusion_WeightsScaleEachListsContribution(t *testing.T) {
	// "a" ranks first lexically but last semantically; with lexical weighted
	// far higher than semantic, "a" should win the fused ranking.
	lex := []rankedID{{ID: "a", Score: 10}, {ID: "b", Score: 9}, {ID: "c", Score: 8}}
	vec := []rankedID{{ID: "c", Score: 0.9}, {ID: "b", Score: 0.8}, {ID: "a", Score: 0.1}}

	fused := reciprocalRankFusion(
		weightedRankList{list: lex, weight: 0.9},
		weightedRankList{list: vec, weight: 0.1},
	)
	require.NotEmpty(t, fused)
	assert.Equal(t, "a", fused[0].ID, "heavily-weighted lexical list should dominate the fused ranking")
}
