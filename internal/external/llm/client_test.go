package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lcalmbach/open-data-insights-sub000/internal/contracts"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/httputil"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

func testGenerator(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	hc := httputil.New(logger.NewNop(), 5*time.Second).DisableRetry()
	return NewClient(hc, logger.NewNop(), "test-key", srv.URL, "gpt-4o-mini")
}

func TestCompleteSendsMessagesAndParameters(t *testing.T) {
	var got completionBody
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{"choices": [{"message": {"content": "  A cold February in Basel.  "}}]}`))
	})
	c := testGenerator(t, handler)

	text, err := c.Complete(context.Background(), contracts.CompletionRequest{
		System:      "You are a data journalist.",
		User:        "Summarize the data.",
		Model:       "gpt-4o",
		Temperature: 0.4,
		MaxTokens:   3000,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "A cold February in Basel." {
		t.Errorf("text = %q, want trimmed completion", text)
	}

	if got.Model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", got.Model)
	}
	if got.Temperature != 0.4 {
		t.Errorf("temperature = %v", got.Temperature)
	}
	if got.MaxTokens != 3000 {
		t.Errorf("max_tokens = %d", got.MaxTokens)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestCompleteFallsBackToDefaultModel(t *testing.T) {
	var got completionBody
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	})
	c := testGenerator(t, handler)

	_, err := c.Complete(context.Background(), contracts.CompletionRequest{User: "hi"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want default gpt-4o-mini", got.Model)
	}
	if len(got.Messages) != 1 {
		t.Errorf("messages = %+v, want user message only", got.Messages)
	}
}

func TestCompleteEmptyContentIsGenerationError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [{"message": {"content": "   "}}]}`))
	})
	c := testGenerator(t, handler)

	_, err := c.Complete(context.Background(), contracts.CompletionRequest{User: "hi"})
	if !errors.Is(err, contracts.ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestCompleteAPIErrorSurfaces(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited", "type": "rate_limit"}}`))
	})
	c := testGenerator(t, handler)

	_, err := c.Complete(context.Background(), contracts.CompletionRequest{User: "hi"})
	if !errors.Is(err, contracts.ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestCompleteWithoutAPIKey(t *testing.T) {
	hc := httputil.New(logger.NewNop(), time.Second)
	c := NewClient(hc, logger.NewNop(), "", "", "gpt-4o-mini")
	if c.IsConfigured() {
		t.Error("IsConfigured() = true without key")
	}
	_, err := c.Complete(context.Background(), contracts.CompletionRequest{User: "hi"})
	if !errors.Is(err, contracts.ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}
