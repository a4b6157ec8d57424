package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"```json\n[{\"a\":1}]\n```": `[{"a":1}]`,
		"```\n{}\n```":              "{}",
		"  [] ":                     "[]",
		"```[]```":                  "[]",
	}
	for in, want := range cases {
		if got := StripFences(in); got != want {
			t.Errorf("StripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	var out map[string]any
	if err := DecodeJSON("```json\n{\"summary\":\"x\"}\n```", &out); err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	if out["summary"] != "x" {
		t.Errorf("summary = %v", out["summary"])
	}
	if err := DecodeJSON("not json", &out); err == nil {
		t.Error("expected error")
	}
}

func TestGeminiGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/v1beta/models/gemini-test:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		body, _ := io.ReadAll(r.Body)
		var req geminiRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if got := req.Contents[0].Parts[0].Text; got != "hello" {
			t.Errorf("prompt = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"[\"a\","},{"text":"\"b\"]"}]},"finishReason":"STOP"}]}`))
	}))
	defer server.Close()

	c := NewGeminiClient("secret", "gemini-test", server.URL, 5*time.Second)
	got, err := c.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != `["a","b"]` {
		t.Errorf("Generate() = %q", got)
	}
}

func TestGeminiErrorPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	}))
	defer server.Close()

	c := NewGeminiClient("bad", "m", server.URL, 5*time.Second)
	_, err := c.Generate(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "API key not valid") {
		t.Fatalf("err = %v", err)
	}
}

func TestGeminiTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewGeminiClient("k", "m", server.URL, 50*time.Millisecond)
	if _, err := c.Generate(context.Background(), "x"); err == nil {
		t.Fatal("expected timeout error")
	}
}
