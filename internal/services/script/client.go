package script

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

const (
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 60 * time.Second
)

// Client wraps an OpenAI-compatible chat completion API for script
// generation. Retries are owned by the pipeline; the client reports each
// failure with a classification marker and lets the caller decide.
type Client struct {
	cfg        config.Script
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

// NewClient constructs a script client using the supplied configuration.
func NewClient(cfg config.Script, opts ...Option) *Client {
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

// Script is the structured drama script produced by the model.
type Script struct {
	Title    string  `json:"title"`
	Synopsis string  `json:"synopsis"`
	Scenes   []Scene `json:"scenes"`
}

// Scene is one spoken beat of the script.
type Scene struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Narration joins the scene text into the block handed to voice synthesis.
func (s Script) Narration() string {
	parts := make([]string, 0, len(s.Scenes))
	for _, scene := range s.Scenes {
		if text := strings.TrimSpace(scene.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// GenerateRequest carries the creative brief for one script.
type GenerateRequest struct {
	Title          string
	Genre          string
	Description    string
	Prompt         string
	IdempotencyKey string
}

// Generate asks the model for a complete structured script.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (Script, error) {
	var empty Script
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return empty, services.Wrap(services.ErrConfiguration, "scripting", "generate", "Script API key is not configured", nil)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return empty, services.Wrap(services.ErrValidation, "scripting", "generate", "Job title is required", nil)
	}

	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(req)},
		},
		Temperature:    0.8,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}

	content, err := c.complete(ctx, payload, req.IdempotencyKey)
	if err != nil {
		return empty, err
	}

	var script Script
	if err := json.Unmarshal([]byte(content), &script); err != nil {
		return empty, services.Wrap(services.ErrTransient, "scripting", "generate", "Model returned malformed script JSON", err)
	}
	if strings.TrimSpace(script.Title) == "" {
		script.Title = title
	}
	if len(script.Scenes) == 0 || strings.TrimSpace(script.Narration()) == "" {
		return empty, services.Wrap(services.ErrRejected, "scripting", "generate", "Model returned an empty script", nil)
	}
	return script, nil
}

// HealthCheck verifies credentials are present without spending tokens.
func (c *Client) HealthCheck(_ context.Context) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return errors.New("script api key required")
	}
	return nil
}

func (c *Client) complete(ctx context.Context, payload chatCompletionRequest, idempotencyKey string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", services.Wrap(services.ErrTimeout, "scripting", "generate", "Script request timed out", err)
		}
		return "", services.Wrap(services.ErrTransient, "scripting", "generate", "Script request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "scripting", "generate", "Read script response", err)
	}
	if resp.StatusCode != http.StatusOK {
		marker := services.ClassifyHTTPStatus(resp.StatusCode)
		return "", services.Wrap(marker, "scripting", "generate",
			fmt.Sprintf("Script provider returned HTTP %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(respBody))))
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return "", services.Wrap(services.ErrTransient, "scripting", "generate", "Decode chat response", err)
	}
	if len(completion.Choices) == 0 {
		return "", services.Wrap(services.ErrTransient, "scripting", "generate", "Chat response had no choices", nil)
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", services.Wrap(services.ErrRejected, "scripting", "generate", "Model declined to produce a script", nil)
	}
	return content, nil
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}
