package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testEnv writes a config file rooted in a temp directory and returns
// options pointing at it.
func testEnv(t *testing.T, settings string) (options, string) {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := strings.Join([]string{
		"data_dir: " + dataDir,
		"model:",
		"  dir: " + filepath.Join(dir, "models"),
		"skills:",
		"  workspace: " + filepath.Join(dir, "files"),
		"  app_paths_file: " + filepath.Join(dir, "app_paths.yaml"),
		"log_level: error",
		"",
	}, "\n")
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	if settings != "" {
		if err := os.WriteFile(filepath.Join(dataDir, "settings.yaml"), []byte(settings), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return options{configPath: cfgPath, environ: []string{"HOME=" + dir}, stdin: strings.NewReader("")}, dir
}

func runTest(t *testing.T, opts options, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := runWith(t.Context(), &stdout, &stderr, args, opts)
	return stdout.String(), err
}

func TestRun_Version(t *testing.T) {
	out, err := runTest(t, options{}, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "version:") {
		t.Errorf("text output missing version line:\n%s", out)
	}

	out, err = runTest(t, options{}, "-o", "json", "version")
	if err != nil {
		t.Fatalf("version json: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("json output: %v\n%s", err, out)
	}
	if info["version"] == "" {
		t.Errorf("json output has no version: %v", info)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"unknown flag", []string{"-verbose", "version"}, "unknown flag"},
		{"bad output", []string{"-o", "xml", "version"}, "unknown output format"},
		{"model sub", []string{"model", "delete"}, "usage: jarvis model"},
		{"skill no name", []string{"skill"}, "usage: jarvis skill"},
		{"missing config", []string{"-config", "/nonexistent/config.yaml", "model", "status"}, "config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runTest(t, options{}, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		out, err := runTest(t, options{}, args...)
		if err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		if !strings.Contains(out, "Usage: jarvis") || !strings.Contains(out, "model fetch") {
			t.Errorf("%v: unexpected usage text:\n%s", args, out)
		}
	}
}

func TestRun_Init(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jarvis")
	if _, err := runTest(t, options{}, "init", dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, name := range []string{"config.yaml", "settings.yaml", "app_paths.yaml"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("%s not written: %v", name, err)
		}
		if name == "config.yaml" && info.Mode().Perm() != 0o600 {
			t.Errorf("config.yaml perm = %v, want 0600", info.Mode().Perm())
		}
	}

	// A second run keeps edited files.
	custom := []byte("log_level: debug\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), custom, 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := runTest(t, options{}, "init", dir)
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if !strings.Contains(out, "exists, kept") {
		t.Errorf("second init output:\n%s", out)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if !bytes.Equal(got, custom) {
		t.Errorf("config.yaml overwritten: %q", got)
	}
}

func TestRun_ModelStatus(t *testing.T) {
	model := filepath.Join(t.TempDir(), "weights.gguf")
	if err := os.WriteFile(model, []byte("GGUF"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		settings string
		environ  []string
		status   string
		source   string
		path     string
	}{
		{
			name:     "explicit ready",
			settings: "llm_model_path: " + model + "\n",
			status:   "ready",
			source:   "explicit",
			path:     model,
		},
		{
			name:     "explicit missing",
			settings: "llm_model_path: " + model + ".nope\n",
			status:   "invalid",
			source:   "explicit",
			path:     model + ".nope",
		},
		{
			name:   "default missing",
			status: "missing",
			source: "default",
		},
		{
			name:    "model dir from environment",
			environ: []string{"MODEL_DIR=" + filepath.Dir(model)},
			status:  "missing",
			source:  "default",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, _ := testEnv(t, tt.settings)
			opts.environ = append(opts.environ, tt.environ...)

			out, err := runTest(t, opts, "-o", "json", "model", "status")
			if err != nil {
				t.Fatalf("model status: %v", err)
			}
			var st struct {
				Artifact struct {
					Status string `json:"status"`
					Path   string `json:"path"`
					Source string `json:"source"`
				} `json:"artifact"`
				ModelDir string `json:"model_dir"`
			}
			if err := json.Unmarshal([]byte(out), &st); err != nil {
				t.Fatalf("decode: %v\n%s", err, out)
			}
			if st.Artifact.Status != tt.status {
				t.Errorf("status = %q, want %q", st.Artifact.Status, tt.status)
			}
			if st.Artifact.Source != tt.source {
				t.Errorf("source = %q, want %q", st.Artifact.Source, tt.source)
			}
			if tt.path != "" && st.Artifact.Path != tt.path {
				t.Errorf("path = %q, want %q", st.Artifact.Path, tt.path)
			}
			if len(tt.environ) > 0 && st.ModelDir != filepath.Dir(model) {
				t.Errorf("model_dir = %q, want %q", st.ModelDir, filepath.Dir(model))
			}
		})
	}
}

func TestRun_ModelStatusText(t *testing.T) {
	opts, _ := testEnv(t, "")
	out, err := runTest(t, opts, "model", "status")
	if err != nil {
		t.Fatalf("model status: %v", err)
	}
	for _, want := range []string{"Model: missing", "source:", "model dir:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_Secrets(t *testing.T) {
	opts, _ := testEnv(t, "")

	if _, err := runTest(t, opts, "secret", "set", "openai", "sk-test"); err != nil {
		t.Fatalf("set: %v", err)
	}
	stdinOpts := opts
	stdinOpts.stdin = strings.NewReader("gem-key\n")
	if _, err := runTest(t, stdinOpts, "secret", "set", "gemini"); err != nil {
		t.Fatalf("set from stdin: %v", err)
	}

	out, err := runTest(t, opts, "secret", "get", "openai")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if strings.TrimSpace(out) != "sk-test" {
		t.Errorf("get = %q", out)
	}

	out, err = runTest(t, opts, "secret", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "gemini\nopenai" {
		t.Errorf("list = %q", out)
	}

	if _, err := runTest(t, opts, "secret", "delete", "openai"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := runTest(t, opts, "secret", "get", "openai"); err == nil {
		t.Error("get after delete succeeded")
	}
	if _, err := runTest(t, opts, "secret", "set", "empty"); err == nil {
		t.Error("set with no value succeeded")
	}
}

func TestRun_Skill(t *testing.T) {
	opts, _ := testEnv(t, "")

	out, err := runTest(t, opts, "skill", "calculate", `{"expression": "5 * (3 + 1)"}`)
	if err != nil {
		t.Fatalf("skill: %v", err)
	}
	if strings.TrimSpace(out) != "5 * (3 + 1) = 20" {
		t.Errorf("calculate = %q", out)
	}

	out, err = runTest(t, opts, "skills")
	if err != nil {
		t.Fatalf("skills: %v", err)
	}
	if !strings.Contains(out, "calculate") {
		t.Errorf("skills list missing calculate:\n%s", out)
	}

	if _, err := runTest(t, opts, "skill", "no_such_skill", "{}"); err == nil {
		t.Error("unknown skill succeeded")
	}
}

func TestRun_History(t *testing.T) {
	opts, dir := testEnv(t, "storage_mode: local\nlocal_storage_path: "+filepath.Join(t.TempDir(), "hist")+"\n")

	out, err := runTest(t, opts, "history", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "No history (local storage)") {
		t.Errorf("show on empty store = %q", out)
	}

	export := filepath.Join(dir, "history.html")
	if _, err := runTest(t, opts, "history", "export", export); err != nil {
		t.Fatalf("export: %v", err)
	}
	if data, err := os.ReadFile(export); err != nil || !strings.Contains(string(data), "<html") {
		t.Errorf("export file: %v %q", err, data)
	}

	out, err = runTest(t, opts, "history", "clear")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !strings.Contains(out, "History cleared") {
		t.Errorf("clear = %q", out)
	}

	if _, err := runTest(t, opts, "history", "rewind"); err == nil {
		t.Error("unknown history command succeeded")
	}
}
