package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/toolgate/internal/config"
)

// fakeEmbedder returns a deterministic vector derived from text length, so
// near-duplicate texts cluster without needing a real embedding model.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 4)
	for i, r := range text {
		v[i%4] += float32(r % 7)
	}
	return v, nil
}

func testRAGConfig(dir string) config.RAGConfig {
	return config.RAGConfig{
		BaseURL:                "https://example.com",
		CacheDir:               dir + "/cache",
		ChildChunkTokens:       200,
		ChildChunkMinTokens:    1,
		ParentChunkTokens:      400,
		ParentChunkMinTokens:   1,
		HybridLexicalWeight:    0.3,
		HybridSemanticWeight:   0.7,
		SearchTopK:             5,
		RetrieverCandidateMult: 4,
	}
}

func TestIndex_IndexAndSearchRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewIndex(testRAGConfig(dir), dir+"/index", fakeEmbedder{}, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, idx.IndexDocument(context.Background(), Document{
		URL:  "https://example.com/docs/install",
		Text: "# Installation\n\nDownload the binary and run the installer script.",
	}))

	results, err := idx.Search(context.Background(), "installer", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Chunk.Text, "installer")
	assert.Equal(t, "https://example.com/docs/install", results[0].Parent.SourceURL)
}

func TestIndex_ReindexReplacesStaleChunks(t *testing.T) {
	dir := t.TempDir()
	// No embedder: the vector leg returns the nearest chunk for any query, so
	// only a lexical-only index can show that the stale text is gone.
	idx, err := NewIndex(testRAGConfig(dir), dir+"/index", nil, nil, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	url := "https://example.com/docs/page"
	require.NoError(t, idx.IndexDocument(ctx, Document{URL: url, Text: "the old content about widgets"}))
	require.NoError(t, idx.IndexDocument(ctx, Document{URL: url, Text: "the new content about gadgets"}))

	oldResults, _ := idx.Search(ctx, "widgets", 5)
	assert.Empty(t, oldResults)

	newResults, _ := idx.Search(ctx, "gadgets", 5)
	require.NotEmpty(t, newResults)
}

func TestIndex_PersistAndReload(t *testing.T) {
	dataDir := t.TempDir() + "/index"
	cacheDir := t.TempDir()

	cfg := testRAGConfig(cacheDir)
	idx, err := NewIndex(cfg, dataDir, fakeEmbedder{}, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, idx.IndexDocument(context.Background(), Document{URL: "https://example.com/a", Text: "durable content about persistence"}))
	require.NoError(t, idx.Persist())

	reloaded, err := NewIndex(cfg, dataDir, fakeEmbedder{}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, idx.ChunkCount(), reloaded.ChunkCount())

	results, err := reloaded.Search(context.Background(), "persistence", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestIndex_RemoveDocumentTombstonesRatherThanDeletes(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewIndex(testRAGConfig(dir), dir+"/index", fakeEmbedder{}, nil, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	url := "https://example.com/docs/widgets"
	require.NoError(t, idx.IndexDocument(ctx, Document{URL: url, Text: "content about widgets and gizmos"}))

	var chunkID string
	idx.mu.RLock()
	for id, c := range idx.chunks {
		if c.SourceURL == url {
			chunkID = id
		}
	}
	idx.mu.RUnlock()
	require.NotEmpty(t, chunkID)

	idx.TombstoneURL(url)

	// The chunk still exists in the live table and in the retriever stores —
	// tombstoning is a flag, not a delete — but Search must not surface it.
	idx.mu.RLock()
	c, ok := idx.chunks[chunkID]
	idx.mu.RUnlock()
	require.True(t, ok)
	assert.True(t, c.Tombstoned)

	results, err := idx.Search(ctx, "widgets", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.Equal(t, 1.0, idx.TombstoneRatio())

	idx.Rebuild()

	idx.mu.RLock()
	_, stillPresent := idx.chunks[chunkID]
	idx.mu.RUnlock()
	assert.False(t, stillPresent, "rebuild must physically purge tombstoned chunks")
	assert.Equal(t, 0.0, idx.TombstoneRatio())
}

func TestIndex_DuplicateContentIndexedOnlyOnce(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewIndex(testRAGConfig(dir), dir+"/index", nil, nil, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	text := "identical content served at two different addresses"
	require.NoError(t, idx.IndexDocument(ctx, Document{URL: "https://example.com/page", Text: text}))
	countAfterFirst := idx.ChunkCount()

	require.NoError(t, idx.IndexDocument(ctx, Document{URL: "https://example.com/page/", Text: text}))
	assert.Equal(t, countAfterFirst, idx.ChunkCount(), "a byte-identical duplicate page must be skipped")

	results, err := idx.Search(ctx, "identical content", 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "https://example.com/page", r.Chunk.SourceURL)
	}
}

func TestIndex_PauseResumeTogglesFlag(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewIndex(testRAGConfig(dir), dir+"/index", nil, nil, nil, nil)
	require.NoError(t, err)

	assert.False(t, idx.Paused())
	idx.Pause()
	assert.True(t, idx.Paused())
	idx.Resume()
	assert.False(t, idx.Paused())
}
