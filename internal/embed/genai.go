package embed

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Task types the Gemini API optimizes embeddings for. Documents and queries
// get asymmetric embeddings; indexing uses the document type, search the
// query type.
const (
	taskTypeDocument = "RETRIEVAL_DOCUMENT"
	taskTypeQuery    = "RETRIEVAL_QUERY"
)

// GoogleEmbedder implements Embedder against the Gemini embedding API.
// OutputDimensionality truncates gemini-embedding-001's native 3072
// dimensions down to the configured size (Matryoshka representation), which
// must match the vector columns in the schema.
type GoogleEmbedder struct {
	client    *genai.Client
	model     string
	dimension int32
	taskType  string
}

// NewGoogleEmbedder creates a Gemini-backed embedder.
func NewGoogleEmbedder(ctx context.Context, apiKey, model string, dimension int) (*GoogleEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key must not be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GoogleEmbedder{
		client:    client,
		model:     model,
		dimension: int32(dimension), // #nosec G115 -- dimension validated in config [1, 4096]
		taskType:  taskTypeDocument,
	}, nil
}

// ForQueries returns an embedder that shares the client but asks for
// query-optimized embeddings. The search path uses it; the receiver keeps
// embedding documents.
func (e *GoogleEmbedder) ForQueries() *GoogleEmbedder {
	q := *e
	q.taskType = taskTypeQuery
	return &q
}

// Embed returns one vector per input text, in input order.
func (e *GoogleEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType:             e.taskType,
		OutputDimensionality: genai.Ptr(e.dimension),
	})
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("embedding API returned empty vector at index %d", i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}
