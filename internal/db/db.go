package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/models"
)

// Document is one stored chunk.
type Document struct {
	bun.BaseModel `bun:"table:document_chunks,alias:d"`
	ID            int64             `bun:"id,pk,autoincrement"`
	Content       string            `bun:"content,notnull"`
	Metadata      map[string]string `bun:"metadata,type:jsonb"`
	Embedding     pgvector.Vector   `bun:"embedding,notnull,type:vector"`
	CreatedAt     time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	Distance      float32           `bun:"distance,scanonly"`
}

// Store keeps chunks in a Postgres-compatible database with the pgvector extension.
type Store struct {
	db        *bun.DB
	dimension int
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a connection pool with the configured driver.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.User == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("database user and name are required, got user=%q dbname=%q", cfg.User, cfg.DBName)
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	switch cfg.Driver {
	case config.DriverPQ:
		return sql.Open("postgres", ConnectionString(cfg))
	default:
		opts := []pgdriver.Option{
			pgdriver.WithAddr(addr),
			pgdriver.WithUser(cfg.User),
			pgdriver.WithPassword(cfg.Password),
			pgdriver.WithDatabase(cfg.DBName),
			pgdriver.WithApplicationName("multimodal-assistant"),
		}
		if cfg.SSLMode == "" || cfg.SSLMode == "disable" {
			opts = append(opts, pgdriver.WithInsecure(true))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	}
}

// ConnectionString builds a lib/pq DSN from the individual settings.
func ConnectionString(cfg *config.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)
}

// Open connects, pings and prepares the chunk table.
func Open(ctx context.Context, cfg *config.DatabaseConfig, dimension int) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqldb.SetMaxOpenConns(10)
	sqldb.SetMaxIdleConns(2)
	sqldb.SetConnMaxIdleTime(5 * time.Minute)

	store := NewStore(NewDB(sqldb, cfg.Debug), dimension)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.db.PingContext(pingCtx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := store.InitDB(ctx); err != nil {
		store.Close()
		return nil, err
	}
	log.Info().Str("host", cfg.Host).Str("driver", cfg.Driver).Str("database", cfg.DBName).Msg("Connected to vector database")
	return store, nil
}

func NewStore(db *bun.DB, dimension int) *Store {
	return &Store{db: db, dimension: dimension}
}

// InitDB creates the vector extension and the chunk table sized to the embedding dimension.
func (s *Store) InitDB(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	_, err := s.db.NewRaw(`CREATE TABLE IF NOT EXISTS ? (
		id BIGSERIAL PRIMARY KEY,
		content TEXT NOT NULL,
		metadata JSONB,
		embedding vector(?) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
	)`, bun.Ident(tableName), s.dimension).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}
	return nil
}

const tableName = "document_chunks"

// AddChunks inserts all chunks in one statement.
func (s *Store) AddChunks(ctx context.Context, chunks []models.Chunk) error {
	const op = "db.AddChunks"
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]Document, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return models.Errorf(models.KindMalformedResponse, op, "chunk %d has %d dimensions, table expects %d", i, len(c.Embedding), s.dimension)
		}
		docs[i] = Document{
			Content:   c.Content,
			Metadata:  c.Metadata,
			Embedding: pgvector.NewVector(c.Embedding),
		}
	}

	if _, err := s.db.NewInsert().Model(&docs).Exec(ctx); err != nil {
		return models.NewError(models.KindRemoteFailure, op, err)
	}
	return nil
}

// Search returns the limit nearest chunks by L2 distance.
func (s *Store) Search(ctx context.Context, queryEmbedding []float32, limit int) ([]models.Chunk, error) {
	const op = "db.Search"
	var rows []Document
	vec := pgvector.NewVector(queryEmbedding)
	err := s.db.NewSelect().
		Model(&rows).
		Column("id", "content", "metadata").
		ColumnExpr("embedding <-> ? AS distance", vec).
		OrderExpr("embedding <-> ?", vec).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, models.NewError(models.KindRemoteFailure, op, err)
	}

	chunks := make([]models.Chunk, len(rows))
	for i, r := range rows {
		chunks[i] = models.Chunk{
			ID:       strconv.FormatInt(r.ID, 10),
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    r.Distance,
		}
	}
	return chunks, nil
}

// Truncate removes every stored chunk.
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.db.NewTruncateTable().Model((*Document)(nil)).Exec(ctx); err != nil {
		return models.NewError(models.KindRemoteFailure, "db.Truncate", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().Model((*Document)(nil)).Count(ctx)
	if err != nil {
		return 0, models.NewError(models.KindRemoteFailure, "db.Count", err)
	}
	return n, nil
}

// drop table document_chunks
func (s *Store) DropDocuments(ctx context.Context) error {
	_, err := s.db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
