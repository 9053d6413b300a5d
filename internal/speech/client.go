package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	"multimodal-assistant/internal/audio"
	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/models"
)

// AudioConverter produces the mono PCM the gateway expects.
type AudioConverter interface {
	Convert(path string) (*audio.Clip, error)
	ConvertAndSave(path string) (*audio.Clip, string, error)
}

// Client transcribes short audio files with the NLS one-sentence recognition API.
type Client struct {
	tokens     TokenSource
	converter  AudioConverter
	httpClient *http.Client
	cfg        config.SpeechConfig
	endpoint   string
}

func NewClient(cfg *config.SpeechConfig, tokens TokenSource, converter AudioConverter) *Client {
	endpoint := cfg.GatewayURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("http://nls-gateway-%s.aliyuncs.com/stream/v1/asr", cfg.Region)
	}
	return &Client{
		tokens:     tokens,
		converter:  converter,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		cfg:        *cfg,
		endpoint:   endpoint,
	}
}

type recognitionResponse struct {
	TaskID  string `json:"task_id"`
	Result  string `json:"result"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Transcribe converts audioPath to PCM and returns the recognised text.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	const op = "speech.Transcribe"
	if _, err := os.Stat(audioPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", models.NewError(models.KindNotFound, op, err)
		}
		return "", err
	}

	clip, err := c.convert(audioPath)
	if err != nil {
		return "", err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	reqURL := c.endpoint + "?" + c.query().Encode()
	log.Debug().Str("url", reqURL).Float64("seconds", clip.Duration()).Msg("Sending recognition request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(clip.PCM()))
	if err != nil {
		return "", err
	}
	req.Header.Set("X-NLS-Token", token.ID)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", models.NewError(models.KindRemoteFailure, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", models.NewError(models.KindRemoteFailure, op, err)
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := c.tokens.(Invalidator); ok {
			log.Debug().Int("http_status", resp.StatusCode).Msg("Gateway rejected token, dropping it")
			inv.Invalidate()
		}
	}

	var result recognitionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", models.Errorf(models.KindMalformedResponse, op, "response is not json (HTTP %d): %s", resp.StatusCode, body)
	}
	if result.Status != models.SpeechSuccessStatus {
		return "", models.Errorf(models.KindRemoteFailure, op, "recognition failed with status %d: %s", result.Status, result.Message)
	}

	log.Info().Str("task_id", result.TaskID).Str("result", result.Result).Msg("Recognized audio")
	return result.Result, nil
}

func (c *Client) convert(path string) (*audio.Clip, error) {
	if c.cfg.SaveConvertedAudio {
		clip, _, err := c.converter.ConvertAndSave(path)
		return clip, err
	}
	return c.converter.Convert(path)
}

func (c *Client) query() url.Values {
	q := url.Values{}
	q.Set("appkey", c.cfg.AppKey)
	q.Set("format", "pcm")
	q.Set("sample_rate", strconv.Itoa(c.cfg.SampleRate))
	if c.cfg.EnablePunctuation {
		q.Set("enable_punctuation_prediction", "true")
	}
	if c.cfg.EnableInverseNormalize {
		q.Set("enable_inverse_text_normalization", "true")
	}
	if c.cfg.EnableVoiceDetection {
		q.Set("enable_voice_detection", "true")
	}
	return q
}
