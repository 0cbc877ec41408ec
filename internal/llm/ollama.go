package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nugget/studywithme/internal/httpkit"
)

// OllamaClient calls a local Ollama server's /api/generate endpoint.
type OllamaClient struct {
	baseURL    string
	model      string
	options    ollamaOptions
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates an Ollama client. An empty BaseURL means
// http://localhost:11434.
func NewOllamaClient(opts Options) *OllamaClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL: base,
		model:   opts.Model,
		options: ollamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxOutputTokens,
		},
		httpClient: opts.client(),
		logger:     opts.logger("ollama"),
	}
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (c *OllamaClient) fail(status int, err error) error {
	return &BackendError{Provider: "ollama", StatusCode: status, Err: err}
}

// Generate runs a non-streaming completion.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Options: c.options,
	})
	if err != nil {
		return "", c.fail(0, fmt.Errorf("marshal request: %w", err))
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", c.fail(0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.fail(0, fmt.Errorf("request failed: %w", err))
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 2048)
		c.logger.Warn("API error", "status", resp.StatusCode, "body", errBody)
		return "", c.fail(resp.StatusCode, errors.New(strings.TrimSpace(errBody)))
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", c.fail(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return "", c.fail(resp.StatusCode, errors.New(out.Error))
	}
	c.logger.Debug("generation complete", "eval_count", out.EvalCount)
	return out.Response, nil
}
