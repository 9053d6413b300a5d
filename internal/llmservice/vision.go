package llmservice

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rs/zerolog/log"

	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/models"
)

// VisionClient asks a vision-language model about an image reachable by URL.
type VisionClient struct {
	client openai.Client
	model  string
}

func NewVisionClient(cfg *config.LLMConfig, opts ...option.RequestOption) *VisionClient {
	base := []option.RequestOption{
		option.WithAPIKey(strings.TrimPrefix(cfg.Key, "Bearer ")),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	}
	return &VisionClient{
		client: openai.NewClient(append(base, opts...)...),
		model:  cfg.Model,
	}
}

// Describe sends the image followed by the prompt as a single user message and
// returns the text of the first choice.
func (c *VisionClient) Describe(ctx context.Context, imageURL, prompt string) (string, error) {
	const op = "llmservice.Describe"
	log.Debug().Str("model", c.model).Str("image", imageURL).Msg("Calling vision model")

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: imageURL}),
				openai.TextContentPart(prompt),
			}),
		},
	})
	if err != nil {
		return "", models.NewError(models.KindRemoteFailure, op, err)
	}
	if len(completion.Choices) == 0 {
		return "", models.Errorf(models.KindMalformedResponse, op, "no completion choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}
