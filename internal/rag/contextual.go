package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/llmgate/toolgate/internal/backend"
)

// ContextualEnricher implements the optional contextual-retrieval enrichment
// pass: for each child chunk, ask the backend model for a short
// (one- or two-sentence) situating description of how the chunk fits into
// its parent document, and prepend that description to the text that gets
// embedded and lexically indexed. This measurably improves retrieval recall
// for chunks that read as ambiguous in isolation (e.g. "the next step is...").
//
// It reuses the adapter's existing Chat surface rather than a bespoke client,
// since the enrichment call is just another backend completion.
type ContextualEnricher struct {
	Backend backend.Backend
}

const contextualSystemPrompt = "You write a one or two sentence description situating a document excerpt within its full document, for the purpose of improving search retrieval. Respond with only the description, nothing else."

func (e *ContextualEnricher) Enrich(ctx context.Context, documentText, chunkText string) (string, error) {
	prompt := fmt.Sprintf("Full document:\n%s\n\nExcerpt to situate:\n%s", truncateText(documentText, 6000), chunkText)

	result, err := e.Backend.Chat(ctx, backend.ChatParams{
		Messages: []backend.Message{
			{Role: backend.RoleSystem, Content: contextualSystemPrompt},
			{Role: backend.RoleUser, Content: prompt},
		},
		Temperature: 0,
		ToolChoice:  backend.ToolChoiceNone,
	})
	if err != nil {
		return "", fmt.Errorf("contextual enrichment call: %w", err)
	}

	description := strings.TrimSpace(result.Message.Content)
	if description == "" {
		return chunkText, nil
	}
	return description + "\n\n" + chunkText, nil
}

const (
	contextualProgressFile    = "contextual_progress.json"
	contextualCheckpointEvery = 50
)

type contextualProgress struct {
	Done []string `json:"done"`
}

// RunContextualPass walks every live chunk that has not yet been enriched,
// generates its situating prefix, and re-indexes it under the enriched text.
// Progress is checkpointed every contextualCheckpointEvery chunks so the pass
// is resumable across restarts, and the index stays fully searchable while it
// runs — each chunk is swapped in individually under the write lock. The pass
// observes the same pause flag as the updater and exits between chunks when
// ctx is cancelled.
func (idx *Index) RunContextualPass(ctx context.Context) {
	if idx.enricher == nil {
		return
	}

	progressPath := filepath.Join(idx.dataDir, contextualProgressFile)
	done := loadContextualProgress(progressPath)

	idx.mu.RLock()
	ids := make([]string, 0, len(idx.chunks))
	for id := range idx.chunks {
		ids = append(ids, id)
	}
	idx.mu.RUnlock()
	sort.Strings(ids)

	checkpoint := func() {
		saveContextualProgress(progressPath, done)
		if err := idx.Persist(); err != nil {
			idx.logger.Warn("contextual pass: persist failed", "error", err)
		}
	}

	processed := 0
	for _, id := range ids {
		select {
		case <-ctx.Done():
			checkpoint()
			return
		default:
		}
		for idx.Paused() {
			select {
			case <-ctx.Done():
				checkpoint()
				return
			case <-time.After(200 * time.Millisecond):
			}
		}

		idx.mu.RLock()
		c, ok := idx.chunks[id]
		parent := idx.parents[c.ParentID]
		idx.mu.RUnlock()
		if !ok || c.Tombstoned || c.Contextualized || done[id] {
			continue
		}

		enriched, err := idx.enricher.Enrich(ctx, parent.Text, c.Text)
		if err != nil {
			idx.logger.Warn("contextual pass: enrichment failed, leaving chunk as is", "chunk_id", id, "error", err)
			continue
		}

		var emb []float32
		if idx.embedder != nil {
			emb, err = idx.embedder.Embed(ctx, enriched)
			if err != nil {
				idx.logger.Warn("contextual pass: re-embedding failed, chunk keeps its original vector", "chunk_id", id, "error", err)
				emb = nil
			}
		}

		idx.mu.Lock()
		cur, stillThere := idx.chunks[id]
		if stillThere && !cur.Tombstoned {
			cur.Contextualized = true
			if len(emb) > 0 {
				cur.Embedding = emb
			}
			idx.chunks[id] = cur
		}
		idx.mu.Unlock()
		if !stillThere {
			continue
		}

		idx.lexical.Add(id, enriched)
		if len(emb) > 0 {
			idx.vector.Add(id, emb)
		}

		done[id] = true
		processed++
		if processed%contextualCheckpointEvery == 0 {
			checkpoint()
		}
	}
	checkpoint()
}

func loadContextualProgress(path string) map[string]bool {
	out := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	var p contextualProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return out
	}
	for _, id := range p.Done {
		out[id] = true
	}
	return out
}

func saveContextualProgress(path string, done map[string]bool) {
	p := contextualProgress{Done: make([]string, 0, len(done))}
	for id := range done {
		p.Done = append(p.Done, id)
	}
	sort.Strings(p.Done)
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}
