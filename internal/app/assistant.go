package app

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/helper"
	"multimodal-assistant/internal/models"
)

type Knowledge interface {
	Ingest(ctx context.Context, filePath string) (int, error)
	Query(ctx context.Context, question string, history []models.Turn) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type ImageUploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

type ImageDescriber interface {
	Describe(ctx context.Context, imageURL, prompt string) (string, error)
}

// Assistant routes chat input to the knowledge, speech and vision services and
// turns every outcome into display text.
type Assistant struct {
	knowledge Knowledge
	speech    Transcriber
	uploader  ImageUploader
	vision    ImageDescriber
	storage   config.StorageConfig
}

func NewAssistant(knowledge Knowledge, speech Transcriber, uploader ImageUploader, vision ImageDescriber, storage config.StorageConfig) *Assistant {
	return &Assistant{
		knowledge: knowledge,
		speech:    speech,
		uploader:  uploader,
		vision:    vision,
		storage:   storage,
	}
}

// Chat answers one chat message and renders any failure as display text.
func (a *Assistant) Chat(ctx context.Context, req models.ChatRequest) string {
	return render(a.Respond(ctx, req))
}

// Respond answers one chat message. With no attachment the text goes to the
// knowledge base; a single attachment is dispatched by kind.
func (a *Assistant) Respond(ctx context.Context, req models.ChatRequest) (string, error) {
	switch len(req.Files) {
	case 0:
		return a.knowledge.Query(ctx, req.Text, req.History)
	case 1:
	default:
		return models.MsgTooManyFiles, nil
	}

	filePath := req.Files[0].Path
	if info, err := os.Stat(filePath); err != nil || info.IsDir() {
		return models.MsgFileNotExist, nil
	}

	kind := models.KindOfPath(filePath)
	log.Debug().Str("file", filePath).Str("kind", kind.String()).Msg("Dispatching attachment")
	switch kind {
	case models.FileAudio:
		return a.answerAudio(ctx, filePath, req.History)
	case models.FileImage:
		return a.describeImage(ctx, filePath, req.Text)
	case models.FileCSV, models.FileText, models.FilePDF, models.FileHTML, models.FileMarkdown,
		models.FileWord, models.FileSpreadsheet, models.FileMacroSpreadsheet, models.FileUnknown:
		return models.MsgUnsupportedFile, nil
	}
	return models.MsgUnsupportedFile, nil
}

func (a *Assistant) answerAudio(ctx context.Context, audioPath string, history []models.Turn) (string, error) {
	text, err := a.speech.Transcribe(ctx, audioPath)
	if err != nil {
		return "", err
	}
	return a.knowledge.Query(ctx, text, history)
}

func (a *Assistant) describeImage(ctx context.Context, imagePath, caption string) (string, error) {
	saved, err := helper.CopyTimestamped(imagePath, a.storage.ImagesDir, "input_image_", models.Extension(imagePath))
	if err != nil {
		return "", err
	}
	url, err := a.uploader.Upload(ctx, saved)
	if err != nil {
		return "", err
	}
	return a.vision.Describe(ctx, url, models.VisionPromptPrefix+caption)
}

// UploadKnowledge ingests a knowledge document and renders any failure as display text.
func (a *Assistant) UploadKnowledge(ctx context.Context, filePath string) string {
	return render(a.AddKnowledge(ctx, filePath))
}

// AddKnowledge copies a knowledge document under the uploads directory and ingests it.
func (a *Assistant) AddKnowledge(ctx context.Context, filePath string) (string, error) {
	if filePath == "" {
		return models.MsgNoFileUploaded, nil
	}
	ext := models.Extension(filePath)
	if !models.KindOfPath(filePath).IsDocument() {
		return fmt.Sprintf(models.MsgUnsupportedKnowledge, ext), nil
	}

	saved, err := helper.CopyTimestamped(filePath, a.storage.UploadsDir, "uploaded_", ext)
	if err != nil {
		return "", err
	}
	n, err := a.knowledge.Ingest(ctx, saved)
	if err != nil {
		return "", err
	}
	log.Info().Str("file", saved).Int("chunks", n).Msg("Knowledge document ingested")
	return models.MsgKnowledgeUploaded, nil
}

func render(answer string, err error) string {
	if err != nil {
		return RenderError(err)
	}
	return answer
}

// RenderError is the display text for a failed request.
func RenderError(err error) string {
	log.Error().Err(err).Str("kind", models.KindOf(err).String()).Msg("Request failed")
	return fmt.Sprintf(models.MsgErrorOccurred, err.Error())
}
