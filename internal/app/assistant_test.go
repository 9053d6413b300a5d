package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/models"
)

type fakeKnowledge struct {
	answer    string
	err       error
	ingestErr error
	questions []string
	histories [][]models.Turn
	ingested  []string
}

func (f *fakeKnowledge) Ingest(_ context.Context, filePath string) (int, error) {
	f.ingested = append(f.ingested, filePath)
	return 3, f.ingestErr
}

func (f *fakeKnowledge) Query(_ context.Context, question string, history []models.Turn) (string, error) {
	f.questions = append(f.questions, question)
	f.histories = append(f.histories, history)
	return f.answer, f.err
}

type fakeSpeech struct {
	text  string
	err   error
	paths []string
}

func (f *fakeSpeech) Transcribe(_ context.Context, audioPath string) (string, error) {
	f.paths = append(f.paths, audioPath)
	return f.text, f.err
}

type fakeUploader struct {
	paths []string
	err   error
}

func (f *fakeUploader) Upload(_ context.Context, localPath string) (string, error) {
	f.paths = append(f.paths, localPath)
	return "http://bucket.endpoint/multimodal_images/" + filepath.Base(localPath), f.err
}

type fakeVision struct {
	urls    []string
	prompts []string
	answer  string
}

func (f *fakeVision) Describe(_ context.Context, imageURL, prompt string) (string, error) {
	f.urls = append(f.urls, imageURL)
	f.prompts = append(f.prompts, prompt)
	return f.answer, nil
}

type fixture struct {
	knowledge *fakeKnowledge
	speech    *fakeSpeech
	uploader  *fakeUploader
	vision    *fakeVision
	storage   config.StorageConfig
	assistant *Assistant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		knowledge: &fakeKnowledge{answer: "kb answer"},
		speech:    &fakeSpeech{text: "transcribed question"},
		uploader:  &fakeUploader{},
		vision:    &fakeVision{answer: "a cat"},
		storage: config.StorageConfig{
			UploadsDir: filepath.Join(root, "uploads"),
			ImagesDir:  filepath.Join(root, "images"),
			AudioDir:   filepath.Join(root, "audio"),
		},
	}
	f.assistant = NewAssistant(f.knowledge, f.speech, f.uploader, f.vision, f.storage)
	return f
}

func (f *fixture) downstreamCalls() int {
	return len(f.knowledge.questions) + len(f.knowledge.ingested) + len(f.speech.paths) + len(f.uploader.paths) + len(f.vision.urls)
}

func tempFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	return path
}

func TestChatTextGoesToKnowledge(t *testing.T) {
	f := newFixture(t)
	history := []models.Turn{{Human: "hi", Assistant: "hello"}}

	out := f.assistant.Chat(context.Background(), models.ChatRequest{Text: "what is PAI?", History: history})
	assert.Equal(t, "kb answer", out)
	assert.Equal(t, []string{"what is PAI?"}, f.knowledge.questions)
	assert.Equal(t, history, f.knowledge.histories[0])
}

func TestChatRejectsMultipleFiles(t *testing.T) {
	f := newFixture(t)
	req := models.ChatRequest{
		Text:  "describe",
		Files: []models.Attachment{{Path: tempFile(t, "a.png")}, {Path: tempFile(t, "b.wav")}},
	}

	assert.Equal(t, "Please provide only one file.", f.assistant.Chat(context.Background(), req))
	assert.Zero(t, f.downstreamCalls())
}

func TestChatMissingFile(t *testing.T) {
	f := newFixture(t)
	req := models.ChatRequest{Files: []models.Attachment{{Path: filepath.Join(t.TempDir(), "gone.png")}}}

	assert.Equal(t, "The file does not exist.", f.assistant.Chat(context.Background(), req))
	assert.Zero(t, f.downstreamCalls())
}

func TestChatAudio(t *testing.T) {
	f := newFixture(t)
	audioPath := tempFile(t, "Question.MP3")
	history := []models.Turn{{Human: "earlier", Assistant: "reply"}}

	out := f.assistant.Chat(context.Background(), models.ChatRequest{
		Files:   []models.Attachment{{Path: audioPath}},
		History: history,
	})
	assert.Equal(t, "kb answer", out)
	assert.Equal(t, []string{audioPath}, f.speech.paths)
	assert.Equal(t, []string{"transcribed question"}, f.knowledge.questions)
	assert.Equal(t, history, f.knowledge.histories[0])
}

func TestChatImage(t *testing.T) {
	f := newFixture(t)
	img := tempFile(t, "cat.PNG")

	out := f.assistant.Chat(context.Background(), models.ChatRequest{
		Text:  "What animal is this?",
		Files: []models.Attachment{{Path: img}},
	})
	assert.Equal(t, "a cat", out)

	require.Len(t, f.uploader.paths, 1)
	copied := f.uploader.paths[0]
	assert.Equal(t, f.storage.ImagesDir, filepath.Dir(copied))
	assert.True(t, strings.HasPrefix(filepath.Base(copied), "input_image_"))
	assert.Equal(t, ".png", filepath.Ext(copied))
	assert.FileExists(t, copied)

	assert.Equal(t, []string{"Please answer me in English. What animal is this?"}, f.vision.prompts)
	assert.Equal(t, "http://bucket.endpoint/multimodal_images/"+filepath.Base(copied), f.vision.urls[0])
	assert.Empty(t, f.knowledge.questions)
}

func TestChatUnsupportedAttachment(t *testing.T) {
	f := newFixture(t)
	out := f.assistant.Chat(context.Background(), models.ChatRequest{Files: []models.Attachment{{Path: tempFile(t, "notes.txt")}}})
	assert.Equal(t, "Unsupported file format.", out)
	assert.Zero(t, f.downstreamCalls())
}

func TestChatAudioWithoutDecoderIsUnsupported(t *testing.T) {
	f := newFixture(t)
	out := f.assistant.Chat(context.Background(), models.ChatRequest{Files: []models.Attachment{{Path: tempFile(t, "voice.m4a")}}})
	assert.Equal(t, "Unsupported file format.", out)
	assert.Zero(t, f.downstreamCalls())
}

func TestChatDispatchCoversEveryKind(t *testing.T) {
	samples := map[models.FileKind]string{
		models.FileAudio:            "a.wav",
		models.FileImage:            "a.jpg",
		models.FileCSV:              "a.csv",
		models.FileText:             "a.txt",
		models.FilePDF:              "a.pdf",
		models.FileHTML:             "a.html",
		models.FileMarkdown:         "a.md",
		models.FileWord:             "a.docx",
		models.FileSpreadsheet:      "a.xlsx",
		models.FileMacroSpreadsheet: "a.xlsm",
		models.FileUnknown:          "a.bin",
	}
	for _, kind := range append(models.AllFileKinds, models.FileUnknown) {
		name, ok := samples[kind]
		require.True(t, ok, "no sample for %s", kind)
		require.Equal(t, kind, models.KindOfPath(name))

		t.Run(kind.String(), func(t *testing.T) {
			f := newFixture(t)
			out := f.assistant.Chat(context.Background(), models.ChatRequest{Files: []models.Attachment{{Path: tempFile(t, name)}}})
			switch kind {
			case models.FileAudio:
				assert.Equal(t, "kb answer", out)
			case models.FileImage:
				assert.Equal(t, "a cat", out)
			default:
				assert.Equal(t, "Unsupported file format.", out)
			}
		})
	}
}

func TestChatRendersErrors(t *testing.T) {
	f := newFixture(t)
	f.speech.err = models.Errorf(models.KindRemoteFailure, "speech.Transcribe", "recognition failed with status %d: %s", 40000001, "TOKEN_INVALID")

	out := f.assistant.Chat(context.Background(), models.ChatRequest{Files: []models.Attachment{{Path: tempFile(t, "q.wav")}}})
	assert.Equal(t, "An error occurred: speech.Transcribe: recognition failed with status 40000001: TOKEN_INVALID", out)
	assert.Empty(t, f.knowledge.questions)

	f.knowledge.err = errors.New("model unavailable")
	out = f.assistant.Chat(context.Background(), models.ChatRequest{Text: "q"})
	assert.Equal(t, "An error occurred: model unavailable", out)
}

func TestUploadKnowledge(t *testing.T) {
	f := newFixture(t)
	doc := tempFile(t, "guide.PDF")

	out := f.assistant.UploadKnowledge(context.Background(), doc)
	assert.Equal(t, "Successfully uploaded and processed the knowledge document.", out)

	require.Len(t, f.knowledge.ingested, 1)
	saved := f.knowledge.ingested[0]
	assert.Equal(t, f.storage.UploadsDir, filepath.Dir(saved))
	assert.True(t, strings.HasPrefix(filepath.Base(saved), "uploaded_"))
	assert.Equal(t, ".pdf", filepath.Ext(saved))
	assert.FileExists(t, saved)
}

func TestUploadKnowledgeRejections(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "No file was uploaded.", f.assistant.UploadKnowledge(context.Background(), ""))
	assert.Equal(t, "Unsupported file format: .exe", f.assistant.UploadKnowledge(context.Background(), tempFile(t, "setup.exe")))
	assert.Zero(t, f.downstreamCalls())
}

func TestUploadKnowledgeIngestError(t *testing.T) {
	f := newFixture(t)
	f.knowledge.ingestErr = models.Errorf(models.KindRemoteFailure, "db.AddChunks", "connection refused")

	out := f.assistant.UploadKnowledge(context.Background(), tempFile(t, "notes.txt"))
	assert.Equal(t, "An error occurred: db.AddChunks: connection refused", out)
}
