package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/nugget/studywithme/internal/httpkit"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient calls the Gemini generateContent endpoint.
type GeminiClient struct {
	baseURL    string
	apiKey     string
	model      string
	gen        geminiGenerationConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGeminiClient creates a Gemini client. An empty BaseURL uses the
// public v1beta endpoint.
func NewGeminiClient(opts Options) *GeminiClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = geminiDefaultBaseURL
	}
	return &GeminiClient{
		baseURL: base,
		apiKey:  opts.APIKey,
		model:   opts.Model,
		gen: geminiGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxOutputTokens,
		},
		httpClient: opts.client(),
		logger:     opts.logger("gemini"),
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (c *GeminiClient) fail(status int, err error) error {
	return &BackendError{Provider: "gemini", StatusCode: status, Err: err}
}

// Generate sends prompt as a single user turn and returns the text of
// the first candidate.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: c.gen,
	})
	if err != nil {
		return "", c.fail(0, fmt.Errorf("marshal request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", c.fail(0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

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

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", c.fail(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Candidates) == 0 {
		reason := out.PromptFeedback.BlockReason
		if reason == "" {
			reason = "none given"
		}
		return "", c.fail(resp.StatusCode, fmt.Errorf("no candidates (block reason: %s)", reason))
	}

	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	if b.Len() == 0 {
		return "", c.fail(resp.StatusCode, fmt.Errorf("empty candidate (finish reason: %s)", out.Candidates[0].FinishReason))
	}
	return b.String(), nil
}
