package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/clients"
)

const service = "openai"

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	cb     *gobreaker.CircuitBreaker[[]byte]
	logger *zap.SugaredLogger

	// transcription backoff; tests shrink it
	retryBase time.Duration
}

func New(cfg Config, logger *zap.SugaredLogger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:       cfg,
		http:      &http.Client{},
		cb:        clients.NewBreaker(service, logger),
		logger:    logger,
		retryBase: 500 * time.Millisecond,
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.cfg.APIKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete runs a single-turn chat completion and returns the reply text.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	return c.chat(ctx, chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "system", Content: system}, {Role: "user", Content: prompt}},
		Temperature: 0.7,
	})
}

// CompleteJSON asks for a JSON object reply and decodes it into dest.
func (c *Client) CompleteJSON(ctx context.Context, system, prompt string, dest interface{}) error {
	text, err := c.chat(ctx, chatRequest{
		Model:          c.cfg.Model,
		Messages:       []chatMessage{{Role: "system", Content: system}, {Role: "user", Content: prompt}},
		Temperature:    0.7,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFences(text)), dest); err != nil {
		return fmt.Errorf("openai: decode json reply: %w", err)
	}
	return nil
}

func (c *Client) chat(ctx context.Context, payload chatRequest) (string, error) {
	if !c.Configured() {
		return "", clients.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := clients.NewJSONRequest(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", payload)
	if err != nil {
		return "", err
	}
	c.authorize(req)

	body, err := clients.Do(c.cb, c.http, service, req)
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("openai: decode chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for input.
func (c *Client) Embed(ctx context.Context, input string) ([]float64, error) {
	if !c.Configured() {
		return nil, clients.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := clients.NewJSONRequest(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", map[string]string{
		"model": c.cfg.EmbeddingModel,
		"input": input,
	})
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	body, err := clients.Do(c.cb, c.http, service, req)
	if err != nil {
		return nil, err
	}
	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("openai: decode embedding response: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("openai: empty embedding")
	}
	return resp.Data[0].Embedding, nil
}

// Transcribe converts recorded audio to text. Transient failures are retried
// up to three times with jittered exponential backoff.
func (c *Client) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if !c.Configured() {
		return "", clients.ErrNotConfigured
	}
	if len(audio) == 0 {
		return "", errors.New("openai: empty audio")
	}

	backoff := retry.NewExponential(c.retryBase)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(3, backoff)

	var text string
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		out, err := c.transcribeOnce(ctx, filename, audio)
		if err != nil {
			if clients.IsTemporary(err) && !errors.Is(err, gobreaker.ErrOpenState) {
				c.logger.Warnw("Transcription attempt failed", "attempt", attempt, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *Client) transcribeOnce(ctx context.Context, filename string, audio []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", "whisper-1"); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	body, err := clients.Do(c.cb, c.http, service, req)
	if err != nil {
		return "", err
	}
	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("openai: decode transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
}

// stripFences removes a ```json fence some models wrap replies in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
