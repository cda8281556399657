// Package llm calls an OpenAI-compatible chat completion API to turn
// collected context values into narrative text.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lcalmbach/open-data-insights-sub000/internal/contracts"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/httputil"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

// Client is a chat-completions text generator.
type Client struct {
	httpClient   *httputil.Client
	logger       *logger.Logger
	apiKey       string
	baseURL      string
	defaultModel string
}

// NewClient creates an LLM client against an OpenAI-compatible endpoint.
func NewClient(httpClient *httputil.Client, log *logger.Logger, apiKey, baseURL, defaultModel string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		httpClient:   httpClient,
		logger:       log,
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
	}
}

// IsConfigured reports whether an API key is present.
func (c *Client) IsConfigured() bool { return c.apiKey != "" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionBody struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one chat completion request and returns the generated
// text. An empty completion is an error so callers never persist blank
// stories.
func (c *Client) Complete(ctx context.Context, req contracts.CompletionRequest) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: text generator API key not configured", contracts.ErrGeneration)
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	body := completionBody{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, message{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, message{Role: "user", Content: req.User})

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	resp, err := c.httpClient.PostJSON(ctx, c.baseURL+"/chat/completions", body, headers)
	if err != nil {
		return "", fmt.Errorf("%w: %v", contracts.ErrGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: completion API returned %d: %s",
			contracts.ErrGeneration, resp.StatusCode, truncate(string(respBody), 300))
	}

	var result completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decoding completion: %v", contracts.ErrGeneration, err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("%w: %s", contracts.ErrGeneration, result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in completion response", contracts.ErrGeneration)
	}

	text := strings.TrimSpace(result.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: completion returned empty content", contracts.ErrGeneration)
	}

	c.logger.WithFields(map[string]interface{}{
		"model": model,
		"chars": len(text),
	}).Debug("Completion received")
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
