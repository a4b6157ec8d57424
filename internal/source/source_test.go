package source

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/yourorg/vibecheck/internal/apperr"
	"github.com/yourorg/vibecheck/internal/model"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadDirFilters(t *testing.T) {
	root := t.TempDir()
	write(t, root, "app.py", "print('hi')")
	write(t, root, "Dockerfile", "FROM alpine")
	write(t, root, ".env.production", "SECRET=1")
	write(t, root, "node_modules/lib/index.js", "x")
	write(t, root, ".git/config", "[core]")
	write(t, root, "docs/readme.md", "# docs")
	write(t, root, "big.js", strings.Repeat("a", MaxFileChars+1))
	write(t, root, "fixtures/data.json", "{}")

	files, err := ReadDir(root, []string{"fixtures/**"})
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var got []string
	for _, f := range files {
		got = append(got, f.Path)
	}
	want := []string{".env.production", "Dockerfile", "app.py"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("paths mismatch:\n%s", diff)
	}
}

func TestFilterInline(t *testing.T) {
	in := []model.File{
		{Path: "a.py", Content: "x=1"},
		{Path: "huge.py", Content: strings.Repeat("b", MaxFileChars+1)},
		{Path: "", Content: "orphan"},
	}
	out := FilterInline(in)
	if len(out) != 1 || out[0].Path != "a.py" {
		t.Fatalf("FilterInline = %+v", out)
	}
	if len(in) != 3 {
		t.Fatal("input mutated")
	}
}

func TestAllowed(t *testing.T) {
	for p, want := range map[string]bool{
		"src/main.go":    true,
		"Makefile":       true,
		".env":           true,
		".env.local":     true,
		"image.png":      false,
		"notes/todo.txt": false,
	} {
		if got := Allowed(p); got != want {
			t.Errorf("Allowed(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestFetchCloneFailure(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	a := NewAcquirer(t.TempDir(), 30*time.Second)
	_, err := a.Fetch(context.Background(), filepath.Join(t.TempDir(), "missing-repo"), "asm_test", nil)
	if err == nil {
		t.Fatal("expected clone failure")
	}
	if code := apperr.CodeOf(err); code != apperr.CodeCloneFailed {
		t.Fatalf("code = %q", code)
	}
	if err := a.Cleanup("asm_test"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(a.Dir("asm_test")); !os.IsNotExist(err) {
		t.Fatalf("working dir still present: %v", err)
	}
}
