package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{APIKey: "test-key", Model: "test/model", Endpoint: srv.URL, Providers: []string{"openai"}})
	c.sleep = noSleep
	return c
}

func TestAnswerValidation(t *testing.T) {
	tests := []struct {
		name string
		c    *Client
	}{
		{"nil client", nil},
		{"missing key", New(Config{Model: "m"})},
		{"missing model", New(Config{APIKey: "k"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.c.Answer(context.Background(), []byte{1}); !errors.Is(err, ErrNotConfigured) {
				t.Errorf("Expected ErrNotConfigured, got %v", err)
			}
		})
	}
}

func TestAnswerSendsImageAndPrompt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test/model" || len(req.Messages) != 1 {
			t.Fatalf("unexpected request %+v", req)
		}
		parts := req.Messages[0].Content
		if parts[0].Text != AnswerPrompt {
			t.Errorf("expected the answer prompt")
		}
		if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
			t.Errorf("expected a PNG data URL, got %q", parts[1].ImageURL.URL)
		}
		if req.Provider == nil || req.Provider.Order[0] != "openai" {
			t.Errorf("expected provider order, got %+v", req.Provider)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Answer: B  "}}]}`))
	})

	got, err := c.Answer(context.Background(), []byte("\x89PNG"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got != "Answer: B" {
		t.Fatalf("expected trimmed answer, got %q", got)
	}
}

func TestAnswerRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream","type":"server","code":502}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	got, err := c.Answer(context.Background(), []byte{1})
	if err != nil || got != "ok" {
		t.Fatalf("expected ok after retries, got %q, %v", got, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestAnswerGivesUp(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{}`))
	})
	if _, err := c.Answer(context.Background(), []byte{1}); err == nil {
		t.Fatal("expected error after retries")
	}
}

func TestAnswerEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"   "}}]}`))
	})
	if _, err := c.Answer(context.Background(), []byte{1}); !errors.Is(err, ErrEmptyAnswer) {
		t.Fatalf("expected ErrEmptyAnswer, got %v", err)
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"p"}}]}`))
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	var nilClient *Client
	if err := nilClient.Ping(context.Background()); err == nil {
		t.Error("Expected error when not configured")
	}
}
