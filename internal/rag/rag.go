package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/embedding"
	"multimodal-assistant/internal/llmservice"
	"multimodal-assistant/internal/models"
	"multimodal-assistant/internal/parser"
)

// VectorStore is implemented by db.Store and chromemdb.VectorDBManager.
type VectorStore interface {
	AddChunks(ctx context.Context, chunks []models.Chunk) error
	Search(ctx context.Context, queryEmbedding []float32, limit int) ([]models.Chunk, error)
	Truncate(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// RAG ingests knowledge documents and answers questions grounded on them.
type RAG struct {
	store     VectorStore
	embedder  embeddings.Embedder
	llm       llms.Model
	parser    *parser.Parser
	topK      int
	dimension int
	glob      string
}

func NewRAG(store VectorStore, embedder embeddings.Embedder, llm llms.Model, cfg *config.Config) *RAG {
	topK := cfg.RAG.TopK
	if topK <= 0 {
		topK = 3
	}
	glob := cfg.RAG.GlobPattern
	if glob == "" {
		glob = "*"
	}
	return &RAG{
		store:     store,
		embedder:  embedder,
		llm:       llm,
		parser:    parser.New(&cfg.RAG),
		topK:      topK,
		dimension: cfg.EmbedLLM.Dimension,
		glob:      glob,
	}
}

// Ingest loads, chunks, embeds and stores filePath, returning the number of chunks written.
// Re-ingesting a file stores its chunks again.
func (r *RAG) Ingest(ctx context.Context, filePath string) (int, error) {
	if kind := models.KindOfPath(filePath); !kind.IsDocument() {
		return 0, models.Errorf(models.KindUnsupportedFormat, "rag.Ingest", "unsupported file extension: %s", models.Extension(filePath))
	}

	chunks, err := r.parser.Parse(ctx, filePath)
	if err != nil {
		return 0, err
	}
	return r.insert(ctx, chunks)
}

// IngestDirectory ingests every supported file under dir whose slash-separated path
// relative to dir matches the glob pattern. "*" stays in dir itself; "**" crosses directories.
func (r *RAG) IngestDirectory(ctx context.Context, dir string) (int, error) {
	const op = "rag.IngestDirectory"
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, models.NewError(models.KindNotFound, op, err)
		}
		return 0, err
	}
	if !doublestar.ValidatePattern(r.glob) {
		return 0, fmt.Errorf("bad glob pattern %q: %w", r.glob, doublestar.ErrBadPattern)
	}

	var all []models.Chunk
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		matched, err := doublestar.Match(r.glob, filepath.ToSlash(rel))
		if err != nil {
			return fmt.Errorf("bad glob pattern %q: %w", r.glob, err)
		}
		if !matched {
			return nil
		}
		if !models.KindOfPath(path).IsDocument() {
			log.Debug().Str("file", path).Msg("Skipping unsupported file")
			return nil
		}
		chunks, err := r.parser.Parse(ctx, path)
		if err != nil {
			return err
		}
		log.Info().Str("file", path).Int("chunks", len(chunks)).Msg("Loaded file")
		all = append(all, chunks...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return r.insert(ctx, all)
}

func (r *RAG) insert(ctx context.Context, chunks []models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	start := time.Now()
	if err := embedding.EmbedChunks(ctx, r.embedder, chunks, r.dimension); err != nil {
		return 0, err
	}
	if err := r.store.AddChunks(ctx, chunks); err != nil {
		return 0, err
	}
	log.Info().Int("chunks", len(chunks)).Dur("elapsed", time.Since(start)).Msg("Inserted chunks into vector store")
	return len(chunks), nil
}

// Query retrieves the top-k chunks for question and asks the chat model with the
// prior turns in between.
func (r *RAG) Query(ctx context.Context, question string, history []models.Turn) (string, error) {
	queryEmbedding, err := embedding.EmbedQuery(ctx, r.embedder, question, r.dimension)
	if err != nil {
		return "", err
	}

	chunks, err := r.store.Search(ctx, queryEmbedding, r.topK)
	if err != nil {
		return "", err
	}
	log.Debug().Int("chunks", len(chunks)).Msg("Retrieved context")

	return llmservice.GenerateContent(ctx, r.llm, BuildMessages(BuildContext(chunks), question, history))
}

// BuildContext numbers the chunks from 1 and closes the block with a separator.
func BuildContext(chunks []models.Chunk) string {
	var sb strings.Builder
	for i, c := range chunks {
		fmt.Fprintf(&sb, "%s%d.\n%s", models.ContextSeparator, i+1, c.Content)
	}
	sb.WriteString("\n\n" + models.ContextSeparator)
	return sb.String()
}

// BuildMessages lays out the system prompt, then the history, then the question.
func BuildMessages(contextBlock, question string, history []models.Turn) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, 2*len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(models.QueryPromptTemplate, contextBlock, question)))
	for _, turn := range history {
		if turn.Human != "" {
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, turn.Human))
		}
		if turn.Assistant != "" {
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeAI, turn.Assistant))
		}
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, question))
}

// Truncate removes every stored chunk.
func (r *RAG) Truncate(ctx context.Context) error {
	log.Warn().Msg("Truncating vector store")
	return r.store.Truncate(ctx)
}

func (r *RAG) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}
