package download

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-webdav"
	gogithub "github.com/google/go-github/v69/github"

	"github.com/nugget/jarvis-core/internal/config"
	"github.com/nugget/jarvis-core/internal/resource"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var llama = resource.Remote{
	Repository: "QuantFactory/Meta-Llama-3-8B-Instruct-GGUF",
	Filename:   "Meta-Llama-3-8B-Instruct.Q4_K_M.gguf",
}

func TestHuggingFace_URL(t *testing.T) {
	h := NewHuggingFace("https://mirror.example/", "", quietLogger())
	tests := []struct {
		remote resource.Remote
		want   string
	}{
		{llama, "https://mirror.example/QuantFactory/Meta-Llama-3-8B-Instruct-GGUF/resolve/main/Meta-Llama-3-8B-Instruct.Q4_K_M.gguf"},
		{resource.Remote{Repository: "o/r", Revision: "v1.0", Filename: "sub dir/m.gguf"}, "https://mirror.example/o/r/resolve/v1.0/sub%20dir/m.gguf"},
	}
	for _, tt := range tests {
		if got := h.URL(tt.remote); got != tt.want {
			t.Errorf("URL(%v) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestHuggingFace_Fetch(t *testing.T) {
	payload := bytes.Repeat([]byte("gguf"), 1000)
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	var last resource.Progress
	h := NewHuggingFace(srv.URL, "hf_token", quietLogger())
	path, err := h.Fetch(t.Context(), llama, dir, func(p resource.Progress) { last = p })
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if want := filepath.Join(dir, llama.Filename); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, payload) {
		t.Errorf("content mismatch: %d bytes", len(data))
	}
	if gotAuth != "Bearer hf_token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/QuantFactory/Meta-Llama-3-8B-Instruct-GGUF/resolve/main/Meta-Llama-3-8B-Instruct.Q4_K_M.gguf" {
		t.Errorf("request path = %q", gotPath)
	}
	if last.Done != int64(len(payload)) || last.Total != int64(len(payload)) {
		t.Errorf("last progress = %+v", last)
	}
	assertNoPartials(t, dir)
}

func TestHuggingFace_StatusErrorIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Entry not found", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := NewHuggingFace(srv.URL, "", quietLogger()).Fetch(t.Context(), llama, dir, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := resource.Classify(err); got != resource.OutcomeNetworkFailure {
		t.Errorf("Classify = %v, want network_failure", got)
	}
	assertNoPartials(t, dir)
}

func TestHuggingFace_ShortBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write([]byte("only a little"))
		// Returning early makes the server close the connection with the
		// body incomplete.
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := NewHuggingFace(srv.URL, "", quietLogger()).Fetch(t.Context(), llama, dir, nil)
	if err == nil {
		t.Fatal("expected error for truncated body")
	}
	if _, statErr := os.Stat(filepath.Join(dir, llama.Filename)); !os.IsNotExist(statErr) {
		t.Errorf("truncated download left at final path: %v", statErr)
	}
	assertNoPartials(t, dir)
}

func TestHuggingFace_Subdirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	remote := resource.Remote{Repository: "o/r", Filename: "q4/m.gguf"}
	path, err := NewHuggingFace(srv.URL, "", quietLogger()).Fetch(t.Context(), remote, dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "q4", "m.gguf"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"m.gguf", filepath.Join("/d", "m.gguf"), false},
		{"a/b.gguf", filepath.Join("/d", "a", "b.gguf"), false},
		{"a/../b.gguf", filepath.Join("/d", "b.gguf"), false},
		{"../escape.gguf", "", true},
		{"/abs.gguf", "", true},
		{"dir/", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := localPath("/d", tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("localPath(%q) err = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, resource.ErrValidation) {
			t.Errorf("localPath(%q) error should wrap ErrValidation", tt.name)
		}
		if got != tt.want {
			t.Errorf("localPath(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestGitHubRelease_Fetch(t *testing.T) {
	payload := []byte("release asset bytes")
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/models/releases/tags/v2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"tag_name": "v2",
			"assets": []map[string]any{
				{"id": 7, "name": "other.gguf", "size": 1},
				{"id": 9, "name": "m.gguf", "size": len(payload)},
			},
		})
	})
	mux.HandleFunc("GET /repos/acme/models/releases/assets/9", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/octet-stream" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(payload)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := newTestGitHub(t, srv.URL)
	dir := t.TempDir()
	path, err := g.Fetch(t.Context(), resource.Remote{Repository: "acme/models", Revision: "v2", Filename: "m.gguf"}, dir, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, payload) {
		t.Errorf("content = %q", data)
	}
}

func TestGitHubRelease_MissingAsset(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/models/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tag_name": "v3", "assets": []any{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := newTestGitHub(t, srv.URL)
	_, err := g.Fetch(t.Context(), resource.Remote{Repository: "acme/models", Filename: "m.gguf"}, t.TempDir(), nil)
	if !errors.Is(err, errNotFound) {
		t.Fatalf("err = %v, want errNotFound", err)
	}
	if resource.Classify(err) != resource.OutcomeNetworkFailure {
		t.Error("missing remote asset should classify as network failure")
	}
}

func TestGitHubRelease_BadRepository(t *testing.T) {
	g := newTestGitHub(t, "http://127.0.0.1:1")
	_, err := g.Fetch(t.Context(), resource.Remote{Repository: "noslash", Filename: "m.gguf"}, t.TempDir(), nil)
	if resource.Classify(err) != resource.OutcomeValidationFailure {
		t.Errorf("Classify(%v) should be validation failure", err)
	}
}

func newTestGitHub(t *testing.T, base string) *GitHubRelease {
	t.Helper()
	g, err := NewGitHubRelease("", "", quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(base + "/")
	if err != nil {
		t.Fatal(err)
	}
	g.client = gogithub.NewClient(g.http)
	g.client.BaseURL = u
	return g
}

func TestWebDAV_Fetch(t *testing.T) {
	share := t.TempDir()
	if err := os.MkdirAll(filepath.Join(share, "llama"), 0o755); err != nil {
		t.Fatal(err)
	}
	payload := bytes.Repeat([]byte{1, 2, 3}, 500)
	os.WriteFile(filepath.Join(share, "llama", "m.gguf"), payload, 0o644)

	srv := httptest.NewServer(&webdav.Handler{FileSystem: webdav.LocalFileSystem(share)})
	defer srv.Close()

	w, err := NewWebDAV(srv.URL, "", "", quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	var calls int
	path, err := w.Fetch(t.Context(), resource.Remote{Repository: "llama", Filename: "m.gguf"}, dir, func(resource.Progress) { calls++ })
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, payload) {
		t.Errorf("content mismatch")
	}
	if calls == 0 {
		t.Error("no progress reported")
	}

	_, err = w.Fetch(t.Context(), resource.Remote{Repository: "llama", Filename: "absent.gguf"}, dir, nil)
	if !errors.Is(err, errNotFound) {
		t.Errorf("absent file err = %v, want errNotFound", err)
	}
}

func TestWebDAV_BasicAuth(t *testing.T) {
	share := t.TempDir()
	os.WriteFile(filepath.Join(share, "m.gguf"), []byte("weights"), 0o644)

	dav := &webdav.Handler{FileSystem: webdav.LocalFileSystem(share)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "mirror" || p != "s3cret" {
			w.Header().Set("WWW-Authenticate", `Basic realm="models"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		dav.ServeHTTP(w, r)
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		user     string
		password string
		wantErr  bool
	}{
		{"correct credentials", "mirror", "s3cret", false},
		{"wrong password", "mirror", "nope", true},
		{"anonymous", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWebDAV(srv.URL, tt.user, tt.password, quietLogger())
			if err != nil {
				t.Fatal(err)
			}
			_, err = w.Fetch(t.Context(), resource.Remote{Filename: "m.gguf"}, t.TempDir(), nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("Fetch err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_SelectsBySource(t *testing.T) {
	tests := []struct {
		source  string
		want    string
		wantErr bool
	}{
		{"", "*download.HuggingFace", false},
		{config.SourceHuggingFace, "*download.HuggingFace", false},
		{config.SourceGitHub, "*download.GitHubRelease", false},
		{config.SourceWebDAV, "", true}, // no endpoint
		{"ftp", "", true},
	}
	for _, tt := range tests {
		f, err := New(config.ModelConfig{Source: tt.source}, "", quietLogger())
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) err = %v", tt.source, err)
			continue
		}
		if err == nil {
			if got := fmt.Sprintf("%T", f); got != tt.want {
				t.Errorf("New(%q) = %s, want %s", tt.source, got, tt.want)
			}
		}
	}
}

func TestFormatProgress(t *testing.T) {
	got := FormatProgress("model", resource.Progress{Done: 512 * 1024 * 1024, Total: 2 * 1024 * 1024 * 1024}, 2*time.Second)
	for _, want := range []string{"model: ", "512 MiB", "/ 2.0 GiB", "(25.0%)", "256 MiB/s"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatProgress = %q, missing %q", got, want)
		}
	}
	if got := FormatProgress("", resource.Progress{Done: 10}, 0); got != "10 B" {
		t.Errorf("unknown total = %q, want \"10 B\"", got)
	}
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter(&buf, "dl")
	p.Done() // nothing printed yet
	if buf.Len() != 0 {
		t.Fatalf("Done before Update wrote %q", buf.String())
	}
	p.Update(resource.Progress{Done: 1, Total: 4})
	p.Update(resource.Progress{Done: 4, Total: 4})
	p.Done()

	out := buf.String()
	if !strings.HasPrefix(out, "\rdl: ") || !strings.HasSuffix(out, "\n") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "(100.0%)") {
		t.Errorf("completed transfer not drawn: %q", out)
	}
}

func assertNoPartials(t *testing.T, dir string) {
	t.Helper()
	filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err == nil && strings.HasSuffix(p, ".part") {
			t.Errorf("partial file left behind: %s", p)
		}
		return nil
	})
}

var _ resource.Fetcher = (*HuggingFace)(nil)
var _ resource.Fetcher = (*GitHubRelease)(nil)
var _ resource.Fetcher = (*WebDAV)(nil)
