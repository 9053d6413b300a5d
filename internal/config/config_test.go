package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Database.User = "genai_db"
	cfg.Database.DBName = "genai_db"
	return cfg
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_USER", "genai_db")
	t.Setenv("PG_DATABASE", "genai_db")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 0, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 3, cfg.RAG.TopK)
	assert.Equal(t, "*", cfg.RAG.GlobPattern)
	assert.Equal(t, 16000, cfg.Speech.SampleRate)
	assert.True(t, cfg.Speech.EnablePunctuation)
	assert.True(t, cfg.Speech.EnableInverseNormalize)
	assert.False(t, cfg.Speech.EnableVoiceDetection)
	assert.Equal(t, "multimodal_images", cfg.OSS.Folder)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
rag:
  chunk_size: 500
  top_k: 5
  vector_store: chromem
database:
  host: yaml-host
speech:
  token_refresh_margin: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	t.Setenv("PG_HOST", "env-host")
	t.Setenv("CHUNK_OVERLAP", "50")
	t.Setenv("EMBEDDING_DIMENSION", "768")
	t.Setenv("DASHSCOPE_API_KEY", "sk-test")
	t.Setenv("OSS_BUCKET_NAME", "bucket")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.Equal(t, StoreChromem, cfg.RAG.VectorStore)
	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, 768, cfg.EmbedLLM.Dimension)
	assert.Equal(t, "sk-test", cfg.ChatLLM.Key)
	assert.Equal(t, "sk-test", cfg.VisionLLM.Key)
	assert.Equal(t, "sk-test", cfg.EmbedLLM.Key)
	assert.Equal(t, "bucket", cfg.OSS.Bucket)
	assert.Equal(t, 2*time.Minute, cfg.Speech.TokenRefreshMargin)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.RAG.ChunkSize = 0 }},
		{"overlap too large", func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize }},
		{"zero top k", func(c *Config) { c.RAG.TopK = 0 }},
		{"zero dimension", func(c *Config) { c.EmbedLLM.Dimension = 0 }},
		{"unknown store", func(c *Config) { c.RAG.VectorStore = "milvus" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "psycopg2cffi" }},
		{"postgres without user", func(c *Config) { c.Database.User = "" }},
		{"postgres without database", func(c *Config) { c.Database.DBName = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, validConfig().Validate())

	chromem := Default()
	chromem.RAG.VectorStore = StoreChromem
	assert.NoError(t, chromem.Validate(), "chromem store needs no database credentials")
}

func TestLoadConfigRejectsPostgresWithoutUser(t *testing.T) {
	t.Setenv("PG_USER", "")
	t.Setenv("PG_DATABASE", "")
	t.Setenv("VECTOR_STORE", "")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "PG_USER")
}
