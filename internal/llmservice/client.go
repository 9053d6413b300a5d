package llmservice

import (
	"context"
	"strings"

	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewChatModel creates the hosted chat model behind knowledge queries.
func NewChatModel(llmConfig *config.LLMConfig) (*openai.LLM, error) {
	log.Debug().Str("base_url", llmConfig.BaseURL).Str("model", llmConfig.Model).Msg("Creating chat model")
	llm, err := openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, models.NewError(models.KindAuthFailure, "llmservice.NewChatModel", err)
	}
	return llm, nil
}

// GenerateContent sends messages to model and returns the first choice.
func GenerateContent(ctx context.Context, model llms.Model, messages []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	const op = "llmservice.GenerateContent"
	log.Debug().Int("messages", len(messages)).Msg("Generating content")

	resp, err := model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", models.NewError(models.KindRemoteFailure, op, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", models.Errorf(models.KindMalformedResponse, op, "model returned no choices")
	}
	return resp.Choices[0].Content, nil
}
