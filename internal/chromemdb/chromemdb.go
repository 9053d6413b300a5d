package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/helper"
	"multimodal-assistant/internal/models"
)

// VectorDBManager keeps chunks in a chromem-go collection, either in memory or
// persisted under a local directory.
type VectorDBManager struct {
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	dbPath         string
	compress       bool
	dimension      int
}

// NewVectorDBManager opens the database and the chunk collection.
func NewVectorDBManager(cfg *config.ChromemConfig, dimension int) (*VectorDBManager, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		if err := helper.CreateFolder(cfg.Path); err != nil {
			return nil, err
		}
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:             db,
		collectionName: cfg.Collection,
		dbPath:         cfg.Path,
		compress:       cfg.Compress,
		dimension:      dimension,
	}
	if _, err := m.GetOrCreateCollection(); err != nil {
		return nil, err
	}
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection() (*chromem.Collection, error) {
	// embeddings are always precomputed, so no embedding func is needed
	c, err := m.db.GetOrCreateCollection(m.collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

// AddChunks stores chunks with their precomputed embeddings.
func (m *VectorDBManager) AddChunks(ctx context.Context, chunks []models.Chunk) error {
	const op = "chromemdb.AddChunks"
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		if m.dimension > 0 && len(c.Embedding) != m.dimension {
			return models.Errorf(models.KindMalformedResponse, op, "chunk %d has %d dimensions, collection expects %d", i, len(c.Embedding), m.dimension)
		}
		id := c.ID
		if id == "" {
			var err error
			if id, err = helper.GenerateUUID(); err != nil {
				return err
			}
		}
		docs[i] = chromem.Document{
			ID:        id,
			Content:   c.Content,
			Metadata:  c.Metadata,
			Embedding: c.Embedding,
		}
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return models.NewError(models.KindRemoteFailure, op, err)
	}
	return nil
}

// Search returns up to limit chunks ordered by cosine similarity.
func (m *VectorDBManager) Search(ctx context.Context, queryEmbedding []float32, limit int) ([]models.Chunk, error) {
	n := min(limit, m.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := m.SearchWithQueryOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: queryEmbedding,
		NResults:       n,
	})
	if err != nil {
		return nil, models.NewError(models.KindRemoteFailure, "chromemdb.Search", err)
	}

	chunks := make([]models.Chunk, len(results))
	for i, r := range results {
		chunks[i] = models.Chunk{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    r.Similarity,
		}
	}
	return chunks, nil
}

func (m *VectorDBManager) SearchWithQueryOptions(ctx context.Context, opts chromem.QueryOptions) ([]chromem.Result, error) {
	// exit if query or embedding is not provided
	if opts.QueryText == "" && opts.QueryEmbedding == nil {
		return nil, fmt.Errorf("either query or embedding must be provided")
	}

	results, err := m.collection.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

// Truncate drops the collection and recreates it empty.
func (m *VectorDBManager) Truncate(ctx context.Context) error {
	if err := m.db.DeleteCollection(m.collectionName); err != nil {
		return models.NewError(models.KindRemoteFailure, "chromemdb.Truncate", fmt.Errorf("failed to drop collection: %w", err))
	}
	_, err := m.GetOrCreateCollection()
	return err
}

func (m *VectorDBManager) Count(ctx context.Context) (int, error) {
	return m.collection.Count(), nil
}

// Export writes the collection to a single (optionally encrypted) file.
func (m *VectorDBManager) Export(ctx context.Context, filePath, encryptionKey string) error {
	if filePath == "" {
		filePath = filepath.Join(m.dbPath, m.collectionName+".chromem")
	}
	if encryptionKey != "" && len(encryptionKey) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes, got %d", len(encryptionKey))
	}

	log.Debug().Str("collection", m.collectionName).Str("file", filePath).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(filePath, m.compress, encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads a file written by Export into the collection.
func (m *VectorDBManager) Import(ctx context.Context, filePath, encryptionKey string) error {
	if err := m.db.ImportFromFile(filePath, encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	_, err := m.GetOrCreateCollection()
	return err
}

func (m *VectorDBManager) Close() error {
	return nil
}
