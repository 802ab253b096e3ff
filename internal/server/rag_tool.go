package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/llmgate/toolgate/internal/rag"
	"github.com/llmgate/toolgate/internal/tools"
)

// searchArgs is the declared input shape for the search_knowledge_base tool:
// a single required query string, the only parameter the retrieval core
// needs to run the hybrid lexical+vector search.
type searchArgs struct {
	Query string `json:"query" jsonschema:"required,description=the question or topic to search the knowledge base for"`
}

// ragSearchHandler adapts an *rag.Index into a tools.Handler: it decodes the
// model-supplied query, runs it through the index's hybrid retriever, and
// renders the results as plain text the model can read directly, each hit
// attributed to its source URL so an answer can cite where it came from.
func ragSearchHandler(idx *rag.Index) tools.Handler {
	return func(ctx context.Context, argsJSON string) (string, error) {
		var args searchArgs
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("decode search_knowledge_base arguments: %w", err)
		}
		if strings.TrimSpace(args.Query) == "" {
			return "", fmt.Errorf("query must not be empty")
		}

		results, err := idx.Search(ctx, args.Query, 0)
		if err != nil {
			return "", fmt.Errorf("search knowledge base: %w", err)
		}
		if len(results) == 0 {
			return "No relevant passages were found in the knowledge base.", nil
		}

		var b strings.Builder
		for i, r := range results {
			fmt.Fprintf(&b, "[%d] source: %s\n", i+1, r.Chunk.SourceURL)
			if len(r.Parent.Text) > 0 {
				b.WriteString(r.Parent.Text)
			} else {
				b.WriteString(r.Chunk.Text)
			}
			b.WriteString("\n\n")
		}
		return strings.TrimSpace(b.String()), nil
	}
}
