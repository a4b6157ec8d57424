package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yourorg/vibecheck/internal/model"
	"github.com/yourorg/vibecheck/internal/probe"
)

func runAgent(t *testing.T, name string, depth Depth, h http.HandlerFunc) ([]model.Finding, error) {
	t.Helper()
	srv := httptest.NewServer(h)
	defer srv.Close()
	rec := &Recorder{}
	a, ok := New(name, Config{
		AssessmentID: "asm_test",
		TargetURL:    srv.URL,
		Depth:        depth,
		Prober:       probe.New(2 * time.Second),
		Sink:         rec,
	})
	if !ok {
		t.Fatalf("agent %q not registered", name)
	}
	err := a.Run(context.Background())
	return rec.Findings, err
}

func titles(fs []model.Finding) []string {
	var out []string
	for _, f := range fs {
		out = append(out, f.Title)
	}
	return out
}

func TestRegistry(t *testing.T) {
	if diff := cmp.Diff([]string{"headers", "cors", "exposure", "methods"}, Names()); diff != "" {
		t.Errorf("Names (-want +got):\n%s", diff)
	}
	if _, ok := New("sqlmap", Config{}); ok {
		t.Error("unknown agent resolved")
	}
}

func TestParseDepth(t *testing.T) {
	for in, want := range map[string]Depth{"": DepthStandard, "Quick": DepthQuick, "deep": DepthDeep} {
		got, err := ParseDepth(in)
		if err != nil || got != want {
			t.Errorf("ParseDepth(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDepth("extreme"); err == nil {
		t.Error("expected error for unknown depth")
	}
}

func TestHeadersAgent(t *testing.T) {
	got, err := runAgent(t, "headers", DepthStandard, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "nginx/1.18.0")
		if r.URL.Path == "/" {
			w.Header().Add("Set-Cookie", "sid=abc; Path=/")
			w.Write([]byte("home"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Traceback (most recent call last):\n  File \"app.py\""))
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"Missing Content-Security-Policy header",
		"Missing clickjacking protection",
		"Missing X-Content-Type-Options header",
		"Missing Referrer-Policy header",
		"Target served over plain HTTP",
		"Server header discloses software version",
		"Cookie sid missing HttpOnly, SameSite",
		"Error page exposes stack trace",
	}
	if diff := cmp.Diff(want, titles(got)); diff != "" {
		t.Errorf("titles (-want +got):\n%s", diff)
	}
	for _, f := range got {
		if f.Agent != "headers" || f.AssessmentID != "asm_test" || f.Location == nil || f.Location.URL == "" {
			t.Errorf("finding not stamped: %+v", f)
		}
	}
}

func TestHeadersHardenedQuick(t *testing.T) {
	got, err := runAgent(t, "headers", DepthQuick, func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Server", "nginx")
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Target served over plain HTTP"}, titles(got)); diff != "" {
		t.Errorf("titles (-want +got):\n%s", diff)
	}
}

func TestCORSReflectedWithCredentials(t *testing.T) {
	got, err := runAgent(t, "cors", DepthQuick, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", r.Header.Get("Origin"))
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Severity != model.SeverityHigh || got[0].Category != "cors_misconfiguration" {
		t.Fatalf("findings = %+v", got)
	}
}

func TestCORSStandardChecksNullOrigin(t *testing.T) {
	got, err := runAgent(t, "cors", DepthStandard, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Origin") == "null" {
			w.Header().Set("Access-Control-Allow-Origin", "null")
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"CORS trusts the null origin"}, titles(got)); diff != "" {
		t.Errorf("titles (-want +got):\n%s", diff)
	}
}

func TestExposureNeedsSignature(t *testing.T) {
	got, err := runAgent(t, "exposure", DepthQuick, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.env" {
			w.Write([]byte("DATABASE_URL=postgres://u:p@db/app\n"))
			return
		}
		w.Write([]byte("<html>catch-all</html>"))
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Severity != model.SeverityCritical || got[0].Location.URL == "" {
		t.Fatalf("findings = %+v", got)
	}
	if _, ok := got[0].Evidence["bytes"]; !ok {
		t.Errorf("evidence = %v", got[0].Evidence)
	}
}

type failingProber struct{ calls int }

func (f *failingProber) Request(context.Context, string, string, string, ...probe.Option) (*probe.Response, error) {
	f.calls++
	return nil, errors.New("connection reset")
}

func TestExposureFailsWhenEveryProbeFails(t *testing.T) {
	p := &failingProber{}
	a, _ := New("exposure", Config{TargetURL: "http://x", Depth: DepthQuick, Prober: p, Sink: &Recorder{}})
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if p.calls != 2 {
		t.Errorf("calls = %d, want 2 quick probes", p.calls)
	}
}

func TestMethodsAgent(t *testing.T) {
	got, err := runAgent(t, "methods", DepthStandard, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodOptions:
			w.Header().Set("Allow", "GET, POST, TRACE, delete")
		case http.MethodTrace:
			w.Write([]byte("TRACE / HTTP/1.1\r\nHost: x\r\n"))
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"HTTP TRACE advertised on /", "HTTP DELETE advertised on /", "HTTP TRACE echoes requests"}
	if diff := cmp.Diff(want, titles(got)); diff != "" {
		t.Errorf("titles (-want +got):\n%s", diff)
	}
}

func TestRecorderRejectsInvalidSeverity(t *testing.T) {
	r := &Recorder{}
	if err := r.Record(model.Finding{Severity: "urgent"}); err == nil {
		t.Fatal("expected error")
	}
	if len(r.Findings) != 0 {
		t.Error("invalid finding kept")
	}
}
