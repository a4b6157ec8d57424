package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yourorg/vibecheck/internal/model"
)

func sampleFinding() model.Finding {
	return model.Finding{
		Severity:    model.SeverityHigh,
		Category:    "sql_injection",
		Title:       "SQL Injection via string concatenation",
		Description: "d",
		Remediation: "Use parameters.",
		Location:    &model.Location{File: "app.py", Line: 4},
	}
}

func TestBuildDocumentStableID(t *testing.T) {
	scope := Scope{AssessmentID: "asm_1", Mode: model.ModeLightweight, RepoURL: "https://github.com/o/r"}
	a := BuildDocument(scope, sampleFinding())
	scope.AssessmentID = "asm_2"
	b := BuildDocument(scope, sampleFinding())
	if a.CustomID != b.CustomID {
		t.Errorf("custom id changed across assessments: %s vs %s", a.CustomID, b.CustomID)
	}
	if !strings.HasPrefix(a.CustomID, "vibecheck:lightweight:"+Fingerprint("https://github.com/o/r")+":") {
		t.Errorf("custom id = %s", a.CustomID)
	}
	want := []string{"vibecheck", "security-finding", "mode:lightweight", "severity:high", "category:sql_injection", "repo:https://github.com/o/r"}
	if diff := cmp.Diff(want, a.ContainerTags); diff != "" {
		t.Errorf("tags (-want +got):\n%s", diff)
	}
	if !strings.Contains(a.Content, "Assessment ID: asm_1\n") {
		t.Errorf("content = %q", a.Content)
	}
	if len(Fingerprint("x")) != 20 {
		t.Error("fingerprint length")
	}
}

func TestTrimVersion(t *testing.T) {
	for in, want := range map[string]string{
		"https://api.supermemory.ai/v3/": "https://api.supermemory.ai",
		"https://api.supermemory.ai/v4":  "https://api.supermemory.ai",
		"http://localhost:8080":          "http://localhost:8080",
	} {
		if got := trimVersion(in); got != want {
			t.Errorf("trimVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIngestFallsBackToV3(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path == "/v4/memories" {
			http.NotFound(w, r)
			return
		}
		var doc Document
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil || doc.CustomID == "" {
			t.Errorf("v3 payload: %+v %v", doc, err)
		}
		w.Write([]byte(`{"id":"m1"}`))
	}))
	defer srv.Close()

	c := New("k", srv.URL+"/v3", time.Second)
	scope := Scope{AssessmentID: "asm_1", Mode: model.ModeRobust, TargetURL: "https://t"}
	if err := c.IngestFinding(context.Background(), scope, sampleFinding()); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"/v4/memories", "/v3/memories"}, paths); diff != "" {
		t.Errorf("paths (-want +got):\n%s", diff)
	}
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["containerTag"] != "mode:robust" || body["q"] != "cors" {
			t.Errorf("body = %v", body)
		}
		w.Write([]byte(`{"results":[{"id":"a","content":"x"}]}`))
	}))
	defer srv.Close()
	got := New("k", srv.URL, time.Second).Search(context.Background(), "cors", 5, []string{"mode:robust", "target:x"})
	if !got.Enabled || len(got.Results) != 1 || got.Results[0]["id"] != "a" {
		t.Errorf("results = %+v", got)
	}
}

func TestSearchDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	got := New("k", srv.URL, time.Second).Search(context.Background(), "q", 5, nil)
	if !got.Enabled || got.Results == nil || len(got.Results) != 0 {
		t.Errorf("results = %+v", got)
	}

	disabled := New("", srv.URL, time.Second)
	if disabled.Enabled() {
		t.Error("client without key should be disabled")
	}
	if r := disabled.Search(context.Background(), "q", 5, nil); r.Enabled {
		t.Errorf("disabled search = %+v", r)
	}
	if err := disabled.IngestFinding(context.Background(), Scope{}, sampleFinding()); err != nil {
		t.Errorf("disabled ingest = %v", err)
	}
}
