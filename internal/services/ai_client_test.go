package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAIClientSuccess(t *testing.T) {
	var got aiRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"action": "CHAT",
			"data":   map[string]any{"answers": []string{"hello"}},
		})
	}))
	defer srv.Close()

	client := NewAIClient(testLogger(t))
	cfg := AIConfig{
		APIEndpoint:    srv.URL,
		TimeoutSeconds: 5,
		AuthRequired:   true,
		AuthToken:      "secret",
	}
	messages := []ParsedMessage{
		{Role: "user", Content: "hi", Timestamp: 1},
		{Role: "bot", Content: "hello", Timestamp: 2},
	}

	res := client.Process(context.Background(), cfg, "conv-1", messages, map[string]any{"page": "x"}, "123456")
	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	if res.Action != "CHAT" {
		t.Fatalf("action = %q, want CHAT", res.Action)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if got.Index != 123456 {
		t.Fatalf("index = %d, want the numeric lock id", got.Index)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("wire messages = %d, want 2", len(got.Messages))
	}
	// Bot messages go out under the assistant role.
	if got.Messages[1].Role != "assistant" {
		t.Fatalf("bot role on the wire = %q, want assistant", got.Messages[1].Role)
	}
	if got.Resource["page"] != "x" {
		t.Fatalf("resource not forwarded: %+v", got.Resource)
	}
}

func TestAIClientSessionIDExpansion(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{"action": "CHAT", "data": map[string]any{}})
	}))
	defer srv.Close()

	client := NewAIClient(testLogger(t))
	cfg := AIConfig{APIEndpoint: srv.URL + "/sessions/{session_id}/chat", TimeoutSeconds: 5}
	res := client.Process(context.Background(), cfg, "conv-42", nil, nil, "1")
	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	if gotPath != "/sessions/conv-42/chat" {
		t.Fatalf("path = %q, session id not expanded", gotPath)
	}
}

func TestAIClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("e", 300)))
	}))
	defer srv.Close()

	client := NewAIClient(testLogger(t))
	res := client.Process(context.Background(), AIConfig{APIEndpoint: srv.URL, TimeoutSeconds: 5}, "conv-1", nil, nil, "1")
	if res.Success {
		t.Fatalf("expected failure")
	}
	if !strings.HasPrefix(res.Error, "AI service returned 502: ") {
		t.Fatalf("error = %q", res.Error)
	}
	// Body snippet is capped at 100 characters.
	if len(res.Error) > len("AI service returned 502: ")+100 {
		t.Fatalf("error snippet too long: %d chars", len(res.Error))
	}
}

func TestAIClientUnreachable(t *testing.T) {
	client := NewAIClient(testLogger(t))
	res := client.Process(context.Background(), AIConfig{APIEndpoint: "http://127.0.0.1:1", TimeoutSeconds: 5}, "conv-1", nil, nil, "1")
	if res.Success {
		t.Fatalf("expected failure against a closed port")
	}
	if res.Error == "" {
		t.Fatalf("failure must carry an error message")
	}
}

func TestLockIndexFallback(t *testing.T) {
	if got := lockIndex("987654"); got != 987654 {
		t.Fatalf("numeric lock id should parse, got %d", got)
	}
	// Non-numeric ids substitute a plausible unix timestamp.
	got := lockIndex("not-a-number")
	if got < 1_600_000_000 {
		t.Fatalf("fallback index looks wrong: %d", got)
	}
}
