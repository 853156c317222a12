package script

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"dramapipe/internal/config"
	"dramapipe/internal/services"
)

func chatResponse(t *testing.T, content any) string {
	t.Helper()
	payload, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("marshal script: %v", err)
	}
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": string(payload)}, "finish_reason": "stop"},
		},
	}
	out, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return string(out)
}

func testScript() Script {
	return Script{
		Title:    "Midnight Harbor",
		Synopsis: "A detective questions the tide.",
		Scenes: []Scene{
			{Speaker: "Narrator", Text: "The fog rolled in before the evidence did."},
			{Speaker: "Mara", Text: "Someone moved the boat."},
		},
	}
}

func TestGenerateParsesScript(t *testing.T) {
	var gotAuth, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %#v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse(t, testScript())))
	}))
	defer server.Close()

	client := NewClient(config.Script{APIKey: "sk-test", BaseURL: server.URL, Model: "gpt-test"})
	script, err := client.Generate(context.Background(), GenerateRequest{
		Title:          "Midnight Harbor",
		Genre:          "mystery",
		IdempotencyKey: "job-1-scripting",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(script.Scenes) != 2 {
		t.Fatalf("scenes = %d, want 2", len(script.Scenes))
	}
	if script.Narration() == "" {
		t.Fatal("expected narration text")
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotKey != "job-1-scripting" {
		t.Fatalf("idempotency header = %q", gotKey)
	}
}

func TestGenerateClassifiesProviderErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		marker error
	}{
		{"throttled", http.StatusTooManyRequests, services.ErrRateLimited},
		{"server error", http.StatusBadGateway, services.ErrTransient},
		{"bad credentials", http.StatusUnauthorized, services.ErrConfiguration},
		{"rejected input", http.StatusUnprocessableEntity, services.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer server.Close()

			client := NewClient(config.Script{APIKey: "sk-test", BaseURL: server.URL, Model: "gpt-test"})
			_, err := client.Generate(context.Background(), GenerateRequest{Title: "T"})
			if !errors.Is(err, tc.marker) {
				t.Fatalf("error = %v, want %v", err, tc.marker)
			}
		})
	}
}

func TestGenerateRejectsEmptyScript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatResponse(t, Script{Title: "Empty"})))
	}))
	defer server.Close()

	client := NewClient(config.Script{APIKey: "sk-test", BaseURL: server.URL, Model: "gpt-test"})
	_, err := client.Generate(context.Background(), GenerateRequest{Title: "T"})
	if !errors.Is(err, services.ErrRejected) {
		t.Fatalf("error = %v, want ErrRejected", err)
	}
}

func TestGenerateRequiresCredentialsAndTitle(t *testing.T) {
	client := NewClient(config.Script{})
	if _, err := client.Generate(context.Background(), GenerateRequest{Title: "T"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("missing key: %v", err)
	}
	client = NewClient(config.Script{APIKey: "sk-test"})
	if _, err := client.Generate(context.Background(), GenerateRequest{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("missing title: %v", err)
	}
}
