package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/models"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewEmbedder creates the embedder selected by cfg.Provider.
func NewEmbedder(cfg *config.EmbedConfig) (*embeddings.EmbedderImpl, error) {
	if cfg.Provider == config.ProviderOllama {
		return NewOllamaEmbedder(cfg)
	}

	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating embedder")

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	return newEmbedder(llm, cfg.BatchSize)
}

// new ollama embedder
func NewOllamaEmbedder(cfg *config.EmbedConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	return newEmbedder(llm, cfg.BatchSize)
}

func newEmbedder(client embeddings.EmbedderClient, batchSize int) (*embeddings.EmbedderImpl, error) {
	opts := []embeddings.Option{embeddings.WithStripNewLines(false)}
	if batchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(batchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// EmbedChunks fills in the embedding of every chunk. A vector whose length differs
// from dimension is rejected before anything reaches the store.
func EmbedChunks(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk, dimension int) error {
	const op = "embedding.EmbedChunks"
	if len(chunks) == 0 {
		log.Info().Msg("No chunks generated from content")
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return models.NewError(models.KindRemoteFailure, op, err)
	}
	if len(vectors) != len(chunks) {
		return models.Errorf(models.KindMalformedResponse, op, "got %d embeddings for %d chunks", len(vectors), len(chunks))
	}
	for i := range chunks {
		if err := checkDimension(vectors[i], dimension); err != nil {
			return models.NewError(models.KindMalformedResponse, op, err)
		}
		chunks[i].Embedding = vectors[i]
	}
	return nil
}

// EmbedQuery embeds a single question.
func EmbedQuery(ctx context.Context, embedder embeddings.Embedder, query string, dimension int) ([]float32, error) {
	const op = "embedding.EmbedQuery"
	vector, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, models.NewError(models.KindRemoteFailure, op, err)
	}
	if err := checkDimension(vector, dimension); err != nil {
		return nil, models.NewError(models.KindMalformedResponse, op, err)
	}
	return vector, nil
}

func checkDimension(vector []float32, dimension int) error {
	if dimension > 0 && len(vector) != dimension {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(vector), dimension)
	}
	return nil
}
