package parser

import (
	"fmt"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// CharacterSplitter cuts text into windows of ChunkSize characters, each starting
// ChunkSize-ChunkOverlap characters after the previous one.
type CharacterSplitter struct {
	ChunkSize    int
	ChunkOverlap int
}

var _ textsplitter.TextSplitter = CharacterSplitter{}

func NewCharacterSplitter(chunkSize, chunkOverlap int) (CharacterSplitter, error) {
	if chunkSize <= 0 {
		return CharacterSplitter{}, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return CharacterSplitter{}, fmt.Errorf("chunk overlap %d must be in [0, %d)", chunkOverlap, chunkSize)
	}
	return CharacterSplitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap}, nil
}

// SplitText counts characters as runes so multi-byte text is never cut mid-character.
func (s CharacterSplitter) SplitText(text string) ([]string, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	step := s.ChunkSize - s.ChunkOverlap
	chunks := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+s.ChunkSize, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

func splitDocuments(splitter CharacterSplitter, docs []schema.Document) ([]schema.Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	return textsplitter.SplitDocuments(splitter, docs)
}
