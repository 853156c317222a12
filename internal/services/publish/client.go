package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dramapipe/internal/config"
	"dramapipe/internal/services"
)

const defaultHTTPTimeout = 10 * time.Minute

// Client wraps the video platform's upload API. Uploads are idempotent on
// the provider side: the same idempotency key always resolves to the same
// published video, and Lookup recovers the URL for a key whose upload
// already happened.
type Client struct {
	cfg        config.Publish
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

// NewClient constructs a publish client using the supplied configuration.
func NewClient(cfg config.Publish, opts ...Option) *Client {
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

// UploadRequest carries everything needed to publish one video.
type UploadRequest struct {
	Title          string
	Description    string
	Tags           []string
	VideoPath      string
	ThumbnailPath  string
	IdempotencyKey string
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Lookup asks the platform whether an upload for the key already exists and
// returns its URL, or "" when the key is unknown.
func (c *Client) Lookup(ctx context.Context, idempotencyKey string) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", services.Wrap(services.ErrConfiguration, "publishing", "lookup", "Publish API key is not configured", nil)
	}

	endpoint := fmt.Sprintf("%s/videos?idempotency_key=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.QueryEscape(idempotencyKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build lookup request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "publishing", "lookup", "Lookup request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		// Only a 404 means "key unknown"; anything else bubbles so a
		// provider-side request problem is never mistaken for absence.
		marker := services.ClassifyHTTPStatus(resp.StatusCode)
		return "", services.Wrap(marker, "publishing", "lookup",
			fmt.Sprintf("Publish provider returned HTTP %d", resp.StatusCode), nil)
	}

	var decoded uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", services.Wrap(services.ErrTransient, "publishing", "lookup", "Decode lookup response", err)
	}
	return strings.TrimSpace(decoded.URL), nil
}

// Upload publishes a video with its thumbnail and metadata, returning the
// public URL.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", services.Wrap(services.ErrConfiguration, "publishing", "upload", "Publish API key is not configured", nil)
	}
	if strings.TrimSpace(req.VideoPath) == "" {
		return "", services.Wrap(services.ErrValidation, "publishing", "upload", "Video artifact is required", nil)
	}

	body, contentType, err := c.buildMultipart(req)
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/videos"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", services.Wrap(services.ErrTimeout, "publishing", "upload", "Upload timed out", err)
		}
		return "", services.Wrap(services.ErrTransient, "publishing", "upload", "Upload request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "publishing", "upload", "Read upload response", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		marker := services.ClassifyHTTPStatus(resp.StatusCode)
		return "", services.Wrap(marker, "publishing", "upload",
			fmt.Sprintf("Publish provider returned HTTP %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(respBody))))
	}

	var decoded uploadResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", services.Wrap(services.ErrTransient, "publishing", "upload", "Decode upload response", err)
	}
	publishedURL := strings.TrimSpace(decoded.URL)
	if publishedURL == "" {
		return "", services.Wrap(services.ErrTransient, "publishing", "upload", "Upload response had no URL", nil)
	}
	return publishedURL, nil
}

// HealthCheck verifies credentials are present.
func (c *Client) HealthCheck(_ context.Context) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return errors.New("publish api key required")
	}
	return nil
}

func (c *Client) buildMultipart(req UploadRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"title":       req.Title,
		"description": req.Description,
		"privacy":     c.cfg.Privacy,
		"category_id": c.cfg.CategoryID,
		"tags":        strings.Join(append(append([]string{}, c.cfg.Tags...), req.Tags...), ","),
	}
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", name, err)
		}
	}
	if err := writeFilePart(writer, "video", req.VideoPath); err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(req.ThumbnailPath) != "" {
		if err := writeFilePart(writer, "thumbnail", req.ThumbnailPath); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize multipart body: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func writeFilePart(writer *multipart.Writer, field, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrValidation, "publishing", "upload",
			fmt.Sprintf("Artifact %s missing on disk", field), err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}
