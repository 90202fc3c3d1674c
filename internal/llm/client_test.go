package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientAsk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer auth, got %q", r.Header.Get("Authorization"))
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != defaultModel {
			t.Errorf("model = %q, want %q", req.Model, defaultModel)
		}
		if req.MaxTokens != maxTokens {
			t.Errorf("max_tokens = %d, want %d", req.MaxTokens, maxTokens)
		}
		if len(req.Messages) != 2 || req.Messages[1].Content != "What time is assembly?" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "Assembly is at 9am."}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "")
	answer, err := client.Ask(context.Background(), AskRequest{Question: "What time is assembly?"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer != "Assembly is at 9am." {
		t.Fatalf("answer = %q", answer)
	}
}

func TestClientAskEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "")
	answer, err := client.Ask(context.Background(), AskRequest{Question: "anything"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer != "No answer from LLM." {
		t.Fatalf("answer = %q", answer)
	}
}

func TestClientAskHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limit reached"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "")
	_, err := client.Ask(context.Background(), AskRequest{Question: "anything"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Ask() error = %v, want HTTPError", err)
	}
	if httpErr.Status != http.StatusTooManyRequests || httpErr.Message != "rate limit reached" {
		t.Fatalf("unexpected HTTPError: %+v", httpErr)
	}
}

func TestClientAskNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL, "test-key", "")
	_, err := client.Ask(context.Background(), AskRequest{Question: "anything"})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Ask() error = %v, want NetworkError", err)
	}
}

func TestClientAskMissingKey(t *testing.T) {
	client := NewClient("http://unused", "", "")
	_, err := client.Ask(context.Background(), AskRequest{Question: "anything"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Ask() error = %v, want HTTPError", err)
	}
	if httpErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", httpErr.Status)
	}
}
