package models

// Chunk is a span of document text stored with its embedding for similarity search.
type Chunk struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
	Score     float32
}

// Source returns the file the chunk was loaded from.
func (c Chunk) Source() string {
	return c.Metadata["source"]
}

// Turn is one exchange of a chat session as held by the browser.
type Turn struct {
	Human     string `json:"human"`
	Assistant string `json:"assistant"`
}

// Attachment is a file sent along with a chat message.
type Attachment struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type ChatRequest struct {
	Text    string       `json:"text"`
	Files   []Attachment `json:"files"`
	History []Turn       `json:"history"`
}
