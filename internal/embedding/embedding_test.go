package embedding

import (
	"context"
	"errors"
	"testing"

	"multimodal-assistant/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	dim   int
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = float32(len(texts[i]))
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	vs, err := f.EmbedDocuments(context.Background(), []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func TestEmbedChunks(t *testing.T) {
	chunks := []models.Chunk{{Content: "abc"}, {Content: "de"}}
	require.NoError(t, EmbedChunks(context.Background(), &fakeEmbedder{dim: 4}, chunks, 4))
	assert.Equal(t, []float32{3, 0, 0, 0}, chunks[0].Embedding)
	assert.Equal(t, []float32{2, 0, 0, 0}, chunks[1].Embedding)
}

func TestEmbedChunksEmpty(t *testing.T) {
	f := &fakeEmbedder{dim: 4}
	require.NoError(t, EmbedChunks(context.Background(), f, nil, 4))
	assert.Zero(t, f.calls)
}

func TestEmbedChunksDimensionMismatch(t *testing.T) {
	chunks := []models.Chunk{{Content: "abc"}}
	err := EmbedChunks(context.Background(), &fakeEmbedder{dim: 3}, chunks, 4)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindMalformedResponse))
	assert.Nil(t, chunks[0].Embedding)
}

func TestEmbedQueryRemoteFailure(t *testing.T) {
	_, err := EmbedQuery(context.Background(), &fakeEmbedder{err: errors.New("quota exceeded")}, "hi", 4)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindRemoteFailure))
	assert.Contains(t, err.Error(), "quota exceeded")
}
