package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ELICE-01/line/core"
)

// systemPrompt frames the assistant the way the chat bot presents itself.
const systemPrompt = "You are a considerate personal assistant."

// Client calls an OpenAI-compatible chat-completions endpoint. It is the
// relay's core.Completer.
type Client struct {
	log     *slog.Logger
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func NewClient(log *slog.Logger, baseURL, apiKey, model string) *Client {
	return &Client{
		log:     log,
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends the prompt and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: completion: %v", core.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: completion: HTTP %d: %s", core.ErrUpstreamUnavailable, resp.StatusCode, string(respBody))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%w: completion: %s", core.ErrUpstreamUnavailable, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: completion: no choices returned", core.ErrUpstreamUnavailable)
	}

	reply := strings.TrimSpace(out.Choices[0].Message.Content)
	c.log.Debug("completion produced", "model", c.model, "length", len(reply))
	return reply, nil
}

var _ core.Completer = (*Client)(nil)
