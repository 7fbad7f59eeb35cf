package secure

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "secrets")
	s, err := Open(dir, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	if names, err := s.List(); err != nil || len(names) != 0 {
		t.Fatalf("List on empty store = %v, %v", names, err)
	}
	if err := s.Set("openai", "sk-one"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("deepseek", "ds-two"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("openai", "sk-three"); err != nil {
		t.Fatal(err)
	}

	// A second handle on the same directory sees the same data.
	s2, err := Open(dir, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	got, err := s2.Get("openai")
	if err != nil || got != "sk-three" {
		t.Errorf("Get = %q, %v", got, err)
	}
	names, _ := s2.List()
	if !slices.Equal(names, []string{"deepseek", "openai"}) {
		t.Errorf("List = %v", names)
	}

	if err := s2.Delete("deepseek"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("deepseek"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete err = %v", err)
	}
	if err := s.Delete("deepseek"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v", err)
	}
}

func TestStore_FilesAreSealed(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("openai", "plaintext-marker"); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{keyFile, secretsFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("%s perm = %o, want 600", name, perm)
		}
	}
	sealed, _ := os.ReadFile(filepath.Join(dir, secretsFile))
	if bytes.Contains(sealed, []byte("plaintext-marker")) || bytes.Contains(sealed, []byte("openai")) {
		t.Error("secrets file contains plaintext")
	}
}

func TestStore_WrongKey(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, keyFile), bytes.Repeat([]byte{7}, keySize), 0o600); err != nil {
		t.Fatal(err)
	}
	s2, err := Open(dir, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s2.Get("a"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Get with replaced key err = %v, want ErrCorrupt", err)
	}
}

func TestOpen_BadKeyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, keyFile), []byte("short"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir, quietLogger()); err == nil {
		t.Error("expected error for truncated key file")
	}
}

func TestStore_SetRequiresName(t *testing.T) {
	s, err := Open(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("", "x"); err == nil {
		t.Error("expected error for empty name")
	}
}
