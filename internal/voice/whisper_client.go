package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xr-voice-gateway/internal/audio"
	"github.com/xr-voice-gateway/internal/config"
	"github.com/xr-voice-gateway/internal/logging"
)

// ErrNotConfigured is returned when no transcription endpoint is set.
var ErrNotConfigured = errors.New("transcription endpoint not configured")

// WhisperConfig describes one speech-to-text endpoint.
type WhisperConfig struct {
	URL      string
	Mode     string // config.ModeRaw or config.ModeOpenAI
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
	// RawSampleRate wraps clips lacking a RIFF header as 16-bit mono PCM
	// at this rate. Zero rejects such clips.
	RawSampleRate int
}

func WhisperConfigFrom(c config.TranscriptionConfig) WhisperConfig {
	return WhisperConfig{
		URL:           c.URL,
		Mode:          c.Mode,
		APIKey:        c.APIKey,
		Model:         c.Model,
		Language:      c.Language,
		Timeout:       c.GetTimeout(),
		Attempts:      c.Attempts,
		Backoff:       200 * time.Millisecond,
		RawSampleRate: c.RawSampleRate,
	}
}

// WhisperClient transcribes WAV clips over HTTP, either against a
// whisper-style ASR server (raw body) or an OpenAI compatible
// /audio/transcriptions endpoint (multipart).
type WhisperClient struct {
	cfg  WhisperConfig
	http *http.Client
}

func NewWhisperClient(cfg WhisperConfig, client *http.Client) *WhisperClient {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Mode == "" {
		cfg.Mode = config.ModeRaw
	}
	return &WhisperClient{cfg: cfg, http: client}
}

type transcription struct {
	Text string `json:"text"`
}

// Transcribe returns the recognized text for clip. Clips that are neither
// WAV nor wrappable as PCM produce empty text.
func (c *WhisperClient) Transcribe(ctx context.Context, clip []byte) (string, error) {
	if c == nil || c.cfg.URL == "" {
		return "", ErrNotConfigured
	}
	wav := clip
	if !audio.HasContainerTag(clip) {
		if c.cfg.RawSampleRate <= 0 {
			logging.WarnwCtx(ctx, "whisper: clip missing RIFF header, not sending", "bytes", len(clip))
			return "", nil
		}
		logging.DebugwCtx(ctx, "whisper: framing raw PCM as WAV", "bytes", len(clip), "sample_rate", c.cfg.RawSampleRate)
		wav = audio.BuildWAV(clip, c.cfg.RawSampleRate, 1, 16)
	}

	newReq := c.rawRequest(wav)
	if c.cfg.Mode == config.ModeOpenAI {
		var err error
		if newReq, err = c.multipartRequest(wav); err != nil {
			return "", err
		}
	}

	start := time.Now()
	body, err := doWithRetries(ctx, c.http, newReq, retryPolicy{
		Attempts: c.cfg.Attempts,
		Timeout:  c.cfg.Timeout,
		Backoff:  c.cfg.Backoff,
	})
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	var out transcription
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	text := strings.TrimSpace(out.Text)
	logging.DebugwCtx(ctx, "whisper: transcribed", "bytes", len(wav), "chars", len(text), "latency_ms", time.Since(start).Milliseconds())
	return text, nil
}

func (c *WhisperClient) rawRequest(wav []byte) requestFunc {
	target := c.cfg.URL
	if u, err := url.Parse(c.cfg.URL); err == nil {
		q := u.Query()
		if c.cfg.Language != "" {
			q.Set("language", c.cfg.Language)
		}
		q.Set("output", "json")
		u.RawQuery = q.Encode()
		target = u.String()
	}
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(wav))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "audio/wav")
		c.authorize(req)
		return req, nil
	}
}

func (c *WhisperClient) multipartRequest(wav []byte) (requestFunc, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: multipart: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisper: multipart: %w", err)
	}
	fields := map[string]string{"model": c.cfg.Model, "language": c.cfg.Language, "response_format": "json"}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("whisper: multipart: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: multipart: %w", err)
	}
	payload := buf.Bytes()
	contentType := mw.FormDataContentType()
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		c.authorize(req)
		return req, nil
	}, nil
}

func (c *WhisperClient) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}
