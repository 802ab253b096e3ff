package rag

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/toolgate/internal/backend"
)

// fakeEnrichBackend answers every chat call with a fixed situating sentence.
type fakeEnrichBackend struct{ description string }

func (f fakeEnrichBackend) Name() string { return "fake-enrich" }

func (f fakeEnrichBackend) Chat(context.Context, backend.ChatParams) (backend.ChatResult, error) {
	return backend.ChatResult{Message: backend.Message{Role: backend.RoleAssistant, Content: f.description}}, nil
}

func (f fakeEnrichBackend) ChatStream(context.Context, backend.ChatParams) (<-chan backend.StreamDelta, error) {
	return nil, errors.New("not implemented")
}

func (f fakeEnrichBackend) Health(context.Context) backend.HealthResult {
	return backend.HealthResult{Status: backend.HealthOK}
}

func TestContextualEnricher_PrependsDescription(t *testing.T) {
	e := &ContextualEnricher{Backend: fakeEnrichBackend{description: "This excerpt covers installation."}}
	out, err := e.Enrich(context.Background(), "full document text", "run the installer")
	require.NoError(t, err)
	assert.Equal(t, "This excerpt covers installation.\n\nrun the installer", out)
}

func TestRunContextualPass_NoEnricherIsNoOp(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewIndex(testRAGConfig(dir), dir+"/index", nil, nil, nil, nil)
	require.NoError(t, err)

	idx.RunContextualPass(context.Background())

	assert.NoFileExists(t, filepath.Join(dir+"/index", contextualProgressFile))
}

func TestRunContextualPass_EnrichesAndCheckpointsProgress(t *testing.T) {
	dir := t.TempDir()
	dataDir := dir + "/index"
	idx, err := NewIndex(testRAGConfig(dir), dataDir, fakeEmbedder{}, nil, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, idx.IndexDocument(ctx, Document{
		URL:  "https://example.com/docs/setup",
		Text: "Run the installer and follow the prompts to finish setup.",
	}))

	// Attach the enricher after the initial build, the shape a restart takes
	// when an operator enables enrichment over an existing index.
	idx.enricher = &ContextualEnricher{Backend: fakeEnrichBackend{description: "Situating sentence about zephyrs."}}
	idx.RunContextualPass(ctx)

	idx.mu.RLock()
	for _, c := range idx.chunks {
		assert.True(t, c.Contextualized, "every live chunk should be marked enriched")
	}
	idx.mu.RUnlock()

	// The enriched text (prefix included) must be what the lexical index sees.
	results, err := idx.Search(ctx, "zephyrs", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	assert.FileExists(t, filepath.Join(dataDir, contextualProgressFile))
}

func TestRunContextualPass_SkipsAlreadyEnrichedChunks(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewIndex(testRAGConfig(dir), dir+"/index", nil, nil,
		&ContextualEnricher{Backend: fakeEnrichBackend{description: "A sentence mentioning quokkas."}}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, idx.IndexDocument(ctx, Document{
		URL:  "https://example.com/docs/once",
		Text: "Content enriched inline at index time.",
	}))

	// Inline enrichment already ran; the background pass must not stack a
	// second prefix onto the same chunks.
	idx.enricher = &ContextualEnricher{Backend: fakeEnrichBackend{description: "A sentence mentioning xylophones."}}
	idx.RunContextualPass(ctx)

	results, err := idx.Search(ctx, "xylophones", 5)
	require.NoError(t, err)
	assert.Empty(t, results, "already-enriched chunks must be skipped")
}

func TestMinMaxNormalize(t *testing.T) {
	hits := []rankedID{{ID: "a", Score: 3}, {ID: "b", Score: 1}, {ID: "c", Score: 2}}
	minMaxNormalize(hits)
	assert.Equal(t, 1.0, hits[0].Score)
	assert.Equal(t, 0.0, hits[1].Score)
	assert.InDelta(t, 0.5, hits[2].Score, 1e-9)

	single := []rankedID{{ID: "a", Score: 42}}
	minMaxNormalize(single)
	assert.Equal(t, 1.0, single[0].Score)
}
