package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatResponse(content string) string {
	quoted, _ := json.Marshal(content)
	return `{"choices":[{"message":{"content":` + string(quoted) + `}}]}`
}

func TestChatProviderGenerate(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(chatResponse("the remote answer.")))
	}))
	defer srv.Close()

	p := NewChatProvider("test-key", srv.URL, "test-model")
	prompt := p.Encode("what is the answer?")
	out, err := p.Generate(context.Background(), prompt, 32)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := p.Decode(out); got != "the remote answer." {
		t.Fatalf("unexpected reply: %q", got)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("missing bearer auth: %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotBody["model"] != "test-model" {
		t.Fatalf("unexpected model: %v", gotBody["model"])
	}
	msgs, ok := gotBody["messages"].([]interface{})
	if !ok || len(msgs) != 1 {
		t.Fatalf("unexpected messages: %v", gotBody["messages"])
	}
	msg := msgs[0].(map[string]interface{})
	if !strings.Contains(msg["content"].(string), "what is the answer") {
		t.Fatalf("prompt text missing from request: %v", msg["content"])
	}
}

func TestChatProviderTruncatesReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatResponse("one two three four five six.")))
	}))
	defer srv.Close()

	p := NewChatProvider("", srv.URL, "")
	out, err := p.Generate(context.Background(), nil, 2)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(out))
	}
}

func TestChatProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewChatProvider("", srv.URL, "")
	if _, err := p.Generate(context.Background(), nil, 8); err == nil {
		t.Fatal("non-200 status must fail")
	} else if !strings.Contains(err.Error(), "429") {
		t.Fatalf("error should carry the status: %v", err)
	}
}

func TestChatProviderEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewChatProvider("", srv.URL, "")
	out, err := p.Generate(context.Background(), nil, 8)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != nil {
		t.Fatalf("empty choices should yield no tokens, got %v", out)
	}
}

func TestChatProviderRequiresAPIBase(t *testing.T) {
	p := NewChatProvider("key", "", "model")
	if _, err := p.Generate(context.Background(), nil, 8); err == nil {
		t.Fatal("missing API base must fail")
	}
}

func TestChatProviderDefaultModel(t *testing.T) {
	p := NewChatProvider("", "http://localhost", "  ")
	if p.ModelName() != defaultChatModel {
		t.Fatalf("blank model should default, got %q", p.ModelName())
	}
}
