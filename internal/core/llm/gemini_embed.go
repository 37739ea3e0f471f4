package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/Cardify/internal/core"
)

// maxEmbedBatch is the most contents Gemini accepts in one batch request.
const maxEmbedBatch = 100

// GeminiEmbedder embeds flashcard fronts for related-card search. Vectors are
// tuned for similarity between short texts, not for retrieval over documents.
type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedTexts returns one vector per card front, in input order.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, fronts []string) ([][]float32, error) {
	if len(fronts) == 0 {
		return nil, nil
	}

	em := g.client.EmbeddingModel(g.modelName)
	em.TaskType = genai.TaskTypeSemanticSimilarity

	out := make([][]float32, 0, len(fronts))
	for start := 0; start < len(fronts); start += maxEmbedBatch {
		end := min(start+maxEmbedBatch, len(fronts))
		batch := em.NewBatch()
		for _, f := range fronts[start:end] {
			batch.AddContent(genai.Text(f))
		}

		resp, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed flashcard fronts %d-%d: %w", start, end, err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("embed flashcard fronts: want %d vectors got %d", end-start, len(resp.Embeddings))
		}
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
	}
	return out, nil
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
