package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"multimodal-assistant/internal/app"
	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/helper"
	"multimodal-assistant/internal/models"
)

//go:embed static/index.html
var static embed.FS

// Assistant is the part of app.Assistant the web UI drives.
type Assistant interface {
	Respond(ctx context.Context, req models.ChatRequest) (string, error)
	AddKnowledge(ctx context.Context, filePath string) (string, error)
}

type Server struct {
	assistant Assistant
	cfg       config.ServerConfig
	staging   string
	md        goldmark.Markdown
}

func New(assistant Assistant, cfg *config.Config) *Server {
	return &Server{
		assistant: assistant,
		cfg:       cfg.Server,
		staging:   cfg.Storage.StagingDir,
		md:        goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

type chatResponse struct {
	Answer string `json:"answer"`
	HTML   string `json:"html,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/knowledge", s.handleKnowledge)
	return logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("Starting web server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutting down web server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}

	req := models.ChatRequest{Text: r.FormValue("text")}
	if raw := r.FormValue("history"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.History); err != nil {
			writeJSON(w, http.StatusBadRequest, chatResponse{Answer: "Invalid history.", Error: err.Error()})
			return
		}
	}

	for _, fh := range r.MultipartForm.File["files"] {
		path, err := s.stage(fh)
		if err != nil {
			s.writeError(w, err)
			return
		}
		req.Files = append(req.Files, models.Attachment{Path: path, Name: fh.Filename})
	}

	answer, err := s.assistant.Respond(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Answer: answer, HTML: s.renderMarkdown(answer)})
}

func (s *Server) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}

	var path string
	if files := r.MultipartForm.File["file"]; len(files) > 0 {
		staged, err := s.stage(files[0])
		if err != nil {
			s.writeError(w, err)
			return
		}
		path = staged
	}

	answer, err := s.assistant.AddKnowledge(r.Context(), path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Answer: answer})
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		log.Warn().Err(err).Msg("Error parsing multipart form")
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, chatResponse{Answer: "Invalid upload.", Error: err.Error()})
		return false
	}
	return true
}

// stage saves an uploaded part under a random name that keeps its extension.
func (s *Server) stage(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	id, err := helper.GenerateUUID()
	if err != nil {
		return "", err
	}
	if err := helper.CreateFolder(s.staging); err != nil {
		return "", err
	}

	dst := filepath.Join(s.staging, id+models.Extension(fh.Filename))
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to save upload %s: %w", fh.Filename, err)
	}
	log.Debug().Str("name", fh.Filename).Str("path", dst).Int64("size", fh.Size).Msg("Staged upload")
	return dst, out.Close()
}

func (s *Server) renderMarkdown(answer string) string {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(answer), &buf); err != nil {
		log.Warn().Err(err).Msg("Failed to render answer")
		return ""
	}
	return buf.String()
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), chatResponse{
		Answer: app.RenderError(err),
		Error:  models.KindOf(err).String(),
	})
}

func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case models.KindAuthFailure:
		return http.StatusUnauthorized
	case models.KindRemoteFailure, models.KindMalformedResponse:
		return http.StatusBadGateway
	case models.KindUnknown:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error writing response")
	}
}
