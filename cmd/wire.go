package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"multimodal-assistant/internal/app"
	"multimodal-assistant/internal/audio"
	"multimodal-assistant/internal/chromemdb"
	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/db"
	"multimodal-assistant/internal/embedding"
	"multimodal-assistant/internal/llmservice"
	"multimodal-assistant/internal/oss"
	"multimodal-assistant/internal/rag"
	"multimodal-assistant/internal/speech"
)

var (
	_ rag.VectorStore = (*db.Store)(nil)
	_ rag.VectorStore = (*chromemdb.VectorDBManager)(nil)
	_ app.Knowledge   = (*rag.RAG)(nil)
)

// knowledge bundles the RAG service with whichever store backs it.
type knowledge struct {
	rag     *rag.RAG
	pg      *db.Store
	chromem *chromemdb.VectorDBManager
}

func (k *knowledge) Close() {
	var err error
	switch {
	case k.pg != nil:
		err = k.pg.Close()
	case k.chromem != nil:
		err = k.chromem.Close()
	}
	if err != nil {
		log.Warn().Err(err).Msg("Error closing vector store")
	}
}

func newKnowledge(ctx context.Context, cfg *config.Config) (*knowledge, error) {
	k := &knowledge{}
	var store rag.VectorStore
	switch cfg.RAG.VectorStore {
	case config.StoreChromem:
		m, err := chromemdb.NewVectorDBManager(&cfg.Chromem, cfg.EmbedLLM.Dimension)
		if err != nil {
			return nil, fmt.Errorf("error initializing chromem store: %w", err)
		}
		k.chromem, store = m, m
	default:
		s, err := db.Open(ctx, &cfg.Database, cfg.EmbedLLM.Dimension)
		if err != nil {
			return nil, fmt.Errorf("error connecting to database: %w", err)
		}
		k.pg, store = s, s
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		k.Close()
		return nil, err
	}
	chat, err := llmservice.NewChatModel(&cfg.ChatLLM)
	if err != nil {
		k.Close()
		return nil, err
	}

	k.rag = rag.NewRAG(store, embedder, chat, cfg)
	return k, nil
}

func newSpeechClient(cfg *config.Config) (*speech.Client, error) {
	tokens, err := speech.NewAliyunTokenSource(&cfg.Aliyun, &cfg.Speech)
	if err != nil {
		return nil, err
	}
	converter := audio.NewConverter(cfg.Speech.SampleRate, cfg.Storage.AudioDir)
	cached := speech.NewCachedTokenSource(tokens, cfg.Speech.TokenRefreshMargin)
	return speech.NewClient(&cfg.Speech, cached, converter), nil
}

type deps struct {
	knowledge *knowledge
	assistant *app.Assistant
}

func (d *deps) Close() {
	d.knowledge.Close()
}

// wire builds every service once; handlers share them for the life of the process.
func wire(ctx context.Context, cfg *config.Config) (*deps, error) {
	k, err := newKnowledge(ctx, cfg)
	if err != nil {
		return nil, err
	}
	speechClient, err := newSpeechClient(cfg)
	if err != nil {
		k.Close()
		return nil, err
	}
	uploader, err := oss.NewUploader(&cfg.Aliyun, &cfg.OSS)
	if err != nil {
		k.Close()
		return nil, err
	}
	vision := llmservice.NewVisionClient(&cfg.VisionLLM)

	return &deps{
		knowledge: k,
		assistant: app.NewAssistant(k.rag, speechClient, uploader, vision, cfg.Storage),
	}, nil
}
