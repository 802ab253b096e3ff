package rag

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder adapts an OpenAI-compatible embeddings endpoint to the
// Embedder interface, reusing the same client library the backend adapter
// uses for its OpenAI-compatible dialect rather than a separate HTTP client.
type OpenAIEmbedder struct {
	Client *openai.Client
	Model  string
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.Client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding endpoint returned no data")
	}
	return resp.Data[0].Embedding, nil
}
