package suggest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func fakeGenerationServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("expected api key in query, got %q", r.URL.RawQuery)
		}
		var body generateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": reply}}}},
			},
		})
	}))
}

func TestGenerateSplitsLines(t *testing.T) {
	server := fakeGenerationServer(t, "Read a grammar primer\n\n  Practice 10 flashcards daily  \nFind a conversation partner\n")
	defer server.Close()

	svc := New(server.URL, "test-key")
	tasks, err := svc.Generate(context.Background(), "learn spanish", 0)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	want := []string{"Read a grammar primer", "Practice 10 flashcards daily", "Find a conversation partner"}
	if len(tasks) != len(want) {
		t.Fatalf("expected %d tasks, got %d: %v", len(want), len(tasks), tasks)
	}
	for i := range want {
		if tasks[i] != want[i] {
			t.Errorf("task %d: expected %q, got %q", i, want[i], tasks[i])
		}
	}
}

func TestGenerateNotActionable(t *testing.T) {
	server := fakeGenerationServer(t, "false\n")
	defer server.Close()

	svc := New(server.URL, "test-key")
	tasks, err := svc.Generate(context.Background(), "asdfgh", 0)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if tasks != nil {
		t.Fatalf("expected nil tasks for non-actionable topic, got %v", tasks)
	}
}

func TestGeneratePromptIncludesCount(t *testing.T) {
	var gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body generateRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotPrompt = body.Contents[0].Parts[0].Text
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	svc := New(server.URL, "test-key")
	if _, err := svc.Generate(context.Background(), "run a marathon", 5); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(gotPrompt, "a list of 5 concise") {
		t.Errorf("expected count in prompt, got %q", gotPrompt)
	}
}

func TestGenerateUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	svc := New(server.URL, "test-key")
	if _, err := svc.Generate(context.Background(), "learn go", 0); err == nil {
		t.Fatal("expected error for upstream failure")
	}
}

func TestIsConfigured(t *testing.T) {
	if New("http://example.com", "").IsConfigured() {
		t.Error("expected unconfigured without api key")
	}
	if !New("http://example.com", "k").IsConfigured() {
		t.Error("expected configured with api key")
	}
}
