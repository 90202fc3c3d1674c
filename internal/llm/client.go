// Package llm proxies staff questions to an OpenAI-compatible chat
// completions API with a per-identity daily quota.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	defaultModel   = "llama-3.3-70b-versatile"
	requestTimeout = 10 * time.Second
	maxTokens      = 512
	temperature    = 0.2
)

// Client calls the upstream completions API.
type Client struct {
	url    string
	apiKey string
	model  string
	http   *http.Client
}

func NewClient(url, apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		url:    url,
		apiKey: apiKey,
		model:  model,
		http:   &http.Client{Timeout: requestTimeout},
	}
}

// AskRequest carries one question plus optional knowledge-base context
// the client gathered for grounding.
type AskRequest struct {
	Question  string `json:"question"`
	KBContext string `json:"kbContext,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

const systemPrompt = "You are a helpful assistant for Dubbo Christian School. Use the following DCS context if relevant, and say \"I'm not sure\" if you don't know.\n"

// Ask forwards one question upstream and returns the answer text.
// Failures come back as one of the package's closed error kinds.
func (c *Client) Ask(ctx context.Context, req AskRequest) (string, error) {
	if c.apiKey == "" {
		return "", &HTTPError{Status: http.StatusServiceUnavailable, Message: "no LLM API key configured"}
	}

	system := systemPrompt
	if req.KBContext != "" {
		system += "DCS Context:\n" + req.KBContext
	}

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: req.Question},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var decoded chatError
		message := "LLM API error"
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil && decoded.Error.Message != "" {
			message = decoded.Error.Message
		}
		return "", &HTTPError{Status: resp.StatusCode, Message: message}
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &NetworkError{Err: fmt.Errorf("decode chat response: %w", err)}
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == "" {
		return "No answer from LLM.", nil
	}
	return decoded.Choices[0].Message.Content, nil
}
