package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"multimodal-assistant/internal/chromemdb"
	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/models"
)

const testDim = 4

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{1, float32(len(t) % 7), float32(strings.Count(t, "a") % 5), 0.5}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vs, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

type fakeLLM struct {
	answer string
	err    error
	got    []llms.MessageContent
	calls  int
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.got = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.answer}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

type recordingStore struct {
	added    []models.Chunk
	addCalls int
	results  []models.Chunk
	limit    int
}

func (s *recordingStore) AddChunks(_ context.Context, chunks []models.Chunk) error {
	s.addCalls++
	s.added = append(s.added, chunks...)
	return nil
}

func (s *recordingStore) Search(_ context.Context, _ []float32, limit int) ([]models.Chunk, error) {
	s.limit = limit
	return s.results, nil
}

func (s *recordingStore) Truncate(context.Context) error {
	s.added = nil
	return nil
}

func (s *recordingStore) Count(context.Context) (int, error) {
	return len(s.added), nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.EmbedLLM.Dimension = testDim
	return cfg
}

func newChromemRAG(t *testing.T, llm llms.Model) (*RAG, *chromemdb.VectorDBManager) {
	t.Helper()
	store, err := chromemdb.NewVectorDBManager(&config.ChromemConfig{Collection: "rag_test", InMemory: true}, testDim)
	require.NoError(t, err)
	return NewRAG(store, &fakeEmbedder{}, llm, testConfig()), store
}

func text(m llms.MessageContent) string {
	return m.Parts[0].(llms.TextContent).Text
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildContext(t *testing.T) {
	assert.Equal(t, "\n\n-----\n\n", BuildContext(nil))

	got := BuildContext([]models.Chunk{{Content: "alpha"}, {Content: "beta"}})
	assert.Equal(t, "-----\n\n1.\nalpha-----\n\n2.\nbeta\n\n-----\n\n", got)
}

func TestBuildMessagesOrder(t *testing.T) {
	history := []models.Turn{
		{Human: "h1", Assistant: "a1"},
		{Human: "h2"},
		{Assistant: "a3"},
	}
	msgs := BuildMessages("CTX", "q", history)
	require.Len(t, msgs, 6)

	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, "Context: CTX\n\nQuestion: q", text(msgs[0]))

	wantRoles := []llms.ChatMessageType{
		llms.ChatMessageTypeHuman, llms.ChatMessageTypeAI,
		llms.ChatMessageTypeHuman,
		llms.ChatMessageTypeAI,
		llms.ChatMessageTypeHuman,
	}
	wantText := []string{"h1", "a1", "h2", "a3", "q"}
	for i := range wantRoles {
		assert.Equal(t, wantRoles[i], msgs[i+1].Role)
		assert.Equal(t, wantText[i], text(msgs[i+1]))
	}
}

func TestIngestUnsupportedWritesNothing(t *testing.T) {
	store := &recordingStore{}
	emb := &fakeEmbedder{}
	r := NewRAG(store, emb, &fakeLLM{}, testConfig())

	n, err := r.Ingest(context.Background(), filepath.Join(t.TempDir(), "song.mp3"))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindUnsupportedFormat))
	assert.Zero(t, n)
	assert.Zero(t, store.addCalls)
	assert.Zero(t, emb.calls)
}

func TestIngestMissingFile(t *testing.T) {
	store := &recordingStore{}
	r := NewRAG(store, &fakeEmbedder{}, &fakeLLM{}, testConfig())

	_, err := r.Ingest(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.True(t, models.IsKind(err, models.KindNotFound))
	assert.Zero(t, store.addCalls)
}

func TestIngestSplitsIntoChunks(t *testing.T) {
	ctx := context.Background()
	r, store := newChromemRAG(t, &fakeLLM{})
	path := writeFile(t, t.TempDir(), "doc.txt", strings.Repeat("a", 2500))

	n, err := r.Ingest(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestIngestTwiceDuplicates(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{}
	r := NewRAG(store, &fakeEmbedder{}, &fakeLLM{}, testConfig())
	path := writeFile(t, t.TempDir(), "doc.txt", "hello world")

	_, err := r.Ingest(ctx, path)
	require.NoError(t, err)
	_, err = r.Ingest(ctx, path)
	require.NoError(t, err)

	count, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	for _, c := range store.added {
		assert.Equal(t, path, c.Source())
		assert.Len(t, c.Embedding, testDim)
	}
}

func TestIngestDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", strings.Repeat("x", 1500))
	writeFile(t, dir, "b.md", "# Title\n\nbody")
	writeFile(t, dir, "c.png", "not really an image")
	writeFile(t, dir, "sub/d.txt", "nested")

	cfg := testConfig()
	cfg.RAG.GlobPattern = "*.txt"
	store := &recordingStore{}
	r := NewRAG(store, &fakeEmbedder{}, &fakeLLM{}, cfg)

	n, err := r.IngestDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, store.addCalls)
	assert.Equal(t, map[string]bool{"a.txt": true}, ingestedFiles(store))
}

func ingestedFiles(store *recordingStore) map[string]bool {
	files := map[string]bool{}
	for _, c := range store.added {
		files[filepath.Base(c.Source())] = true
	}
	return files
}

func TestIngestDirectoryGlobPatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "top.txt", "top")
	writeFile(t, dir, "sub/nested.txt", "nested")
	writeFile(t, dir, "sub/deeper/deep.txt", "deep")
	writeFile(t, dir, "sub/notes.md", "notes")

	tests := []struct {
		glob  string
		files map[string]bool
	}{
		{"*", map[string]bool{"top.txt": true}},
		{"*.txt", map[string]bool{"top.txt": true}},
		{"**/*.txt", map[string]bool{"top.txt": true, "nested.txt": true, "deep.txt": true}},
		{"sub/*.txt", map[string]bool{"nested.txt": true}},
		{"**", map[string]bool{"top.txt": true, "nested.txt": true, "deep.txt": true, "notes.md": true}},
	}
	for _, tt := range tests {
		t.Run(tt.glob, func(t *testing.T) {
			cfg := testConfig()
			cfg.RAG.GlobPattern = tt.glob
			store := &recordingStore{}
			r := NewRAG(store, &fakeEmbedder{}, &fakeLLM{}, cfg)

			n, err := r.IngestDirectory(context.Background(), dir)
			require.NoError(t, err)
			assert.Equal(t, len(tt.files), n)
			assert.Equal(t, tt.files, ingestedFiles(store))
		})
	}
}

func TestIngestDirectoryBadGlob(t *testing.T) {
	cfg := testConfig()
	cfg.RAG.GlobPattern = "[a-"
	store := &recordingStore{}
	r := NewRAG(store, &fakeEmbedder{}, &fakeLLM{}, cfg)

	_, err := r.IngestDirectory(context.Background(), t.TempDir())
	assert.Error(t, err)
	assert.Zero(t, store.addCalls)
}

func TestIngestDirectorySkipsUnsupported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "c.png", "png")
	store := &recordingStore{}
	r := NewRAG(store, &fakeEmbedder{}, &fakeLLM{}, testConfig())

	n, err := r.IngestDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, store.addCalls)
}

func TestIngestDirectoryMissing(t *testing.T) {
	r := NewRAG(&recordingStore{}, &fakeEmbedder{}, &fakeLLM{}, testConfig())
	_, err := r.IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestQueryWithEmptyStore(t *testing.T) {
	llm := &fakeLLM{answer: "I don't know."}
	r, _ := newChromemRAG(t, llm)

	out, err := r.Query(context.Background(), "what is PAI?", nil)
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", out)

	require.Len(t, llm.got, 2)
	assert.Equal(t, "Context: \n\n-----\n\n\n\nQuestion: what is PAI?", text(llm.got[0]))
	assert.Equal(t, "what is PAI?", text(llm.got[1]))
}

func TestQueryUsesRetrievedChunks(t *testing.T) {
	store := &recordingStore{results: []models.Chunk{{Content: "PAI is a platform."}}}
	llm := &fakeLLM{answer: "PAI is a platform."}
	r := NewRAG(store, &fakeEmbedder{}, llm, testConfig())

	history := []models.Turn{{Human: "hi", Assistant: "hello"}}
	_, err := r.Query(context.Background(), "what is PAI?", history)
	require.NoError(t, err)

	assert.Equal(t, 3, store.limit)
	require.Len(t, llm.got, 4)
	assert.Contains(t, text(llm.got[0]), "-----\n\n1.\nPAI is a platform.\n\n-----\n\n")
	assert.Equal(t, "hi", text(llm.got[1]))
	assert.Equal(t, "hello", text(llm.got[2]))
	assert.Equal(t, "what is PAI?", text(llm.got[3]))
}

func TestQueryModelFailure(t *testing.T) {
	r := NewRAG(&recordingStore{}, &fakeEmbedder{}, &fakeLLM{err: errors.New("quota")}, testConfig())
	_, err := r.Query(context.Background(), "q", nil)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindRemoteFailure))
}

func TestTruncate(t *testing.T) {
	ctx := context.Background()
	r, _ := newChromemRAG(t, &fakeLLM{})
	_, err := r.Ingest(ctx, writeFile(t, t.TempDir(), "doc.txt", "some text"))
	require.NoError(t, err)

	require.NoError(t, r.Truncate(ctx))
	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
