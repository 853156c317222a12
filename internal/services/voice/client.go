package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dramapipe/internal/config"
	"dramapipe/internal/services"
)

const defaultHTTPTimeout = 120 * time.Second

// Client wraps an ElevenLabs-style text-to-speech API. One call synthesizes
// the full narration into a single audio stream.
type Client struct {
	cfg        config.Voice
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a voice client using the supplied configuration.
func NewClient(cfg config.Voice, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// Synthesize converts narration text into audio bytes.
func (c *Client) Synthesize(ctx context.Context, text, idempotencyKey string) ([]byte, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "voice_synthesis", "synthesize", "Voice API key is not configured", nil)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, "voice_synthesis", "synthesize", "Narration text is empty", nil)
	}

	body, err := json.Marshal(synthesizeRequest{Text: text, ModelID: c.cfg.ModelID})
	if err != nil {
		return nil, fmt.Errorf("encode synthesis request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.VoiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", c.cfg.APIKey)
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, "voice_synthesis", "synthesize", "Synthesis request timed out", err)
		}
		return nil, services.Wrap(services.ErrTransient, "voice_synthesis", "synthesize", "Synthesis request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		marker := services.ClassifyHTTPStatus(resp.StatusCode)
		return nil, services.Wrap(marker, "voice_synthesis", "synthesize",
			fmt.Sprintf("Voice provider returned HTTP %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(detail))))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "voice_synthesis", "synthesize", "Read audio stream", err)
	}
	if len(audio) == 0 {
		return nil, services.Wrap(services.ErrTransient, "voice_synthesis", "synthesize", "Voice provider returned empty audio", nil)
	}
	return audio, nil
}

// HealthCheck verifies credentials and voice selection are present.
func (c *Client) HealthCheck(_ context.Context) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return errors.New("voice api key required")
	}
	if strings.TrimSpace(c.cfg.VoiceID) == "" {
		return errors.New("voice id required")
	}
	return nil
}
