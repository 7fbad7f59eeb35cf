package skills

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := NewWorkspace(filepath.Join(t.TempDir(), "files"))
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	return w
}

func TestWorkspaceReadWrite(t *testing.T) {
	w := newTestWorkspace(t)
	if err := w.Write("notes/today.txt", "hello"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := w.Read("notes/today.txt")
	if err != nil || got != "hello" {
		t.Fatalf("Read = %q, %v", got, err)
	}
	if _, err := w.Read("missing.txt"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Read missing err = %v", err)
	}
}

func TestWorkspaceReadTruncates(t *testing.T) {
	w := newTestWorkspace(t)
	w.Write("big.txt", strings.Repeat("x", maxReadBytes+10))
	got, err := w.Read("big.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(got, "[... truncated ...]") {
		t.Errorf("no truncation marker")
	}
}

func TestWorkspaceEscapes(t *testing.T) {
	w := newTestWorkspace(t)
	outside := t.TempDir()
	os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0o644)
	if err := os.Symlink(outside, filepath.Join(w.Root(), "link")); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{"../escape.txt", "a/../../escape.txt", "/etc/passwd", filepath.Join(outside, "secret"), "link/secret", "link/new.txt"} {
		if _, err := w.Read(p); err == nil || !strings.Contains(err.Error(), "outside the workspace") {
			t.Errorf("Read(%q) err = %v", p, err)
		}
		if err := w.Write(p, "x"); err == nil {
			t.Errorf("Write(%q) succeeded", p)
		}
	}
	if _, err := w.Copy("../x", "y"); err == nil {
		t.Error("Copy from outside succeeded")
	}
	if err := w.Delete("../x"); err == nil {
		t.Error("Delete outside succeeded")
	}
}

func TestWorkspaceAbsoluteInside(t *testing.T) {
	w := newTestWorkspace(t)
	w.Write("a.txt", "A")
	got, err := w.Read(filepath.Join(w.Root(), "a.txt"))
	if err != nil || got != "A" {
		t.Errorf("Read absolute = %q, %v", got, err)
	}
}

func TestWorkspaceList(t *testing.T) {
	w := newTestWorkspace(t)
	w.Write("a.txt", "")
	w.Write("sub/b.txt", "")

	got, err := w.List("")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"a.txt", "sub/"}) {
		t.Errorf("List = %v", got)
	}
	if _, err := w.List("nope"); err == nil {
		t.Error("List of missing dir succeeded")
	}
}

func TestWorkspaceSearch(t *testing.T) {
	w := newTestWorkspace(t)
	for _, p := range []string{"a.txt", "b.md", "notes/c.txt", "notes/deep/d.md", "notes/deep/e.txt"} {
		w.Write(p, "x")
	}

	tests := []struct {
		pattern string
		want    []string
	}{
		{"*.txt", []string{"a.txt", "notes/c.txt", "notes/deep/e.txt"}},
		{"notes/*.txt", []string{"notes/c.txt"}},
		{"notes/**.md", []string{"notes/deep/d.md"}},
		{"{a,b}.*", []string{"a.txt", "b.md"}},
	}
	for _, tt := range tests {
		got, err := w.Search(t.Context(), tt.pattern, 0)
		if err != nil {
			t.Fatalf("Search(%q): %v", tt.pattern, err)
		}
		slices.Sort(got)
		if !slices.Equal(got, tt.want) {
			t.Errorf("Search(%q) = %v, want %v", tt.pattern, got, tt.want)
		}
	}

	if got, _ := w.Search(t.Context(), "*", 2); len(got) != 2 {
		t.Errorf("limit not applied: %v", got)
	}
	if _, err := w.Search(t.Context(), "[", 0); err == nil {
		t.Error("invalid pattern accepted")
	}
}

func TestWorkspaceCopyDelete(t *testing.T) {
	w := newTestWorkspace(t)
	w.Write("source.txt", "data")
	os.MkdirAll(filepath.Join(w.Root(), "backup"), 0o755)

	to, err := w.Copy("source.txt", "backup")
	if err != nil || to != "backup/source.txt" {
		t.Fatalf("Copy into dir = %q, %v", to, err)
	}
	to, err = w.Copy("source.txt", "renamed/copy.txt")
	if err != nil || to != "renamed/copy.txt" {
		t.Fatalf("Copy rename = %q, %v", to, err)
	}
	if got, _ := w.Read("renamed/copy.txt"); got != "data" {
		t.Errorf("copied content = %q", got)
	}

	if err := w.Delete("renamed/copy.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := w.Delete("renamed/copy.txt"); err == nil {
		t.Error("second Delete succeeded")
	}
	if err := w.Delete("backup"); err == nil {
		t.Error("Delete of directory succeeded")
	}
	if _, err := w.Copy("nope.txt", "x.txt"); err == nil {
		t.Error("Copy of missing file succeeded")
	}
}

func TestFileSkillsThroughRegistry(t *testing.T) {
	w := newTestWorkspace(t)
	r := NewRegistry(nil, quietLogger())
	if err := RegisterBuiltins(r, Deps{Workspace: w}); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Execute(t.Context(), "write_file", `{"path":"x/y.txt","content":"hi"}`); err != nil {
		t.Fatalf("write_file: %v", err)
	}
	got, err := r.Execute(t.Context(), "search_files", `{"pattern":"*.txt"}`)
	if err != nil || got != "x/y.txt" {
		t.Errorf("search_files = %q, %v", got, err)
	}
	got, err = r.Execute(t.Context(), "read_file", `{"path":"x/y.txt"}`)
	if err != nil || got != "hi" {
		t.Errorf("read_file = %q, %v", got, err)
	}
	got, _ = r.Execute(t.Context(), "list_files", `{"path":"x"}`)
	if got != "y.txt" {
		t.Errorf("list_files = %q", got)
	}
}
