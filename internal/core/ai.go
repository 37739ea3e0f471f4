package core

import "context"

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerateOptions tunes a single completion call. Zero values keep the provider defaults.
type GenerateOptions struct {
	Temperature     float32
	MaxOutputTokens int32
	JSON            bool
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string, opts GenerateOptions) (string, error)
}
