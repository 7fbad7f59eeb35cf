package config

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("model:\n  token: ${JARVIS_TEST_TOKEN}\n"), 0600)
	t.Setenv("JARVIS_TEST_TOKEN", "hf_secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Model.Token != "hf_secret123" {
		t.Errorf("token = %q, want %q", cfg.Model.Token, "hf_secret123")
	}
}

func TestLoad_DefaultsSurviveSparseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("log_level: debug\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Model.Source != SourceHuggingFace {
		t.Errorf("model.source = %q, want %q", cfg.Model.Source, SourceHuggingFace)
	}
	if cfg.Model.Repository != "QuantFactory/Meta-Llama-3-8B-Instruct-GGUF" {
		t.Errorf("model.repository = %q", cfg.Model.Repository)
	}
	if cfg.Listen.Port != 8765 {
		t.Errorf("listen.port = %d, want 8765", cfg.Listen.Port)
	}
	if cfg.MQTT.TopicPrefix != "jarvis" {
		t.Errorf("mqtt.topic_prefix = %q, want jarvis", cfg.MQTT.TopicPrefix)
	}
}

func TestLoad_SettingsFileFollowsDataDir(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "state")
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("data_dir: "+data+"\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if want := filepath.Join(data, "settings.yaml"); cfg.SettingsFile != want {
		t.Errorf("settings_file = %q, want %q", cfg.SettingsFile, want)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown source", "model:\n  source: ftp\n", "model.source"},
		{"webdav without endpoint", "model:\n  source: webdav\n", "model.endpoint"},
		{"negative timeout", "model:\n  download_timeout_sec: -1\n", "download_timeout_sec"},
		{"bad log format", "log_format: xml\n", "log_format"},
		{"bad log level", "log_level: loud\n", "unknown log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			os.WriteFile(path, []byte(tt.yaml), 0600)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestModelDir(t *testing.T) {
	cfg := Default()

	if got, want := cfg.ModelDir("/opt/jarvis"), filepath.Join("/opt/jarvis", "models"); got != want {
		t.Errorf("ModelDir = %q, want %q", got, want)
	}

	cfg.Model.Dir = "/srv/weights/"
	if got := cfg.ModelDir("/opt/jarvis"); got != "/srv/weights" {
		t.Errorf("ModelDir(abs) = %q, want /srv/weights", got)
	}

	cfg.Model.Dir = ""
	if got, want := cfg.ModelDir("/r"), filepath.Join("/r", "models"); got != want {
		t.Errorf("ModelDir(empty) = %q, want %q", got, want)
	}
}

func TestMQTTConfigured(t *testing.T) {
	var c MQTTConfig
	if c.Configured() {
		t.Error("empty broker should not be configured")
	}
	c.Broker = "mqtt://localhost:1883"
	if !c.Configured() {
		t.Error("broker set should be configured")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadSettings_Missing(t *testing.T) {
	s := LoadSettings(filepath.Join(t.TempDir(), "nope.yaml"), discardLogger())
	if s.StorageMode != StorageLocal {
		t.Errorf("storage_mode = %q, want %q", s.StorageMode, StorageLocal)
	}
	if s.HistoryFilename != "jarvis_chat_history.json" {
		t.Errorf("history_filename = %q", s.HistoryFilename)
	}
	if _, ok := s.Setting(KeyLLMModelPath); ok {
		t.Error("llm_model_path should be unset by default")
	}
}

func TestLoadSettings_MergesProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	os.WriteFile(path, []byte(`
llm_model_path: models:custom.gguf
api_providers:
  openai:
    enabled: true
    model: gpt-4o
`), 0600)

	s := LoadSettings(path, discardLogger())
	if v, ok := s.Setting(KeyLLMModelPath); !ok || v != "models:custom.gguf" {
		t.Errorf("Setting(llm_model_path) = %q, %v", v, ok)
	}
	if p := s.APIProviders["openai"]; !p.Enabled || p.Model != "gpt-4o" {
		t.Errorf("openai = %+v", p)
	}
	if p := s.APIProviders["deepseek"]; p.Model != "deepseek-chat" {
		t.Errorf("deepseek default lost: %+v", p)
	}
	if s.StorageMode != StorageLocal {
		t.Errorf("storage_mode default lost: %q", s.StorageMode)
	}
}

func TestLoadSettings_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	os.WriteFile(path, []byte("storage_mode: [unterminated\n"), 0600)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := LoadSettings(path, logger)
	if s.StorageMode != StorageLocal {
		t.Errorf("storage_mode = %q, want default", s.StorageMode)
	}
	if !strings.Contains(buf.String(), "failed to parse settings") {
		t.Errorf("expected parse error to be logged, got %q", buf.String())
	}
}

func TestSettingsSave_RoundTripAndMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	s := DefaultSettings()
	s.StorageMode = StorageGoogleDrive
	s.LLMModelPath = "/srv/m.gguf"

	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}

	got := LoadSettings(path, discardLogger())
	if got.StorageMode != StorageGoogleDrive || got.LLMModelPath != "/srv/m.gguf" {
		t.Errorf("reloaded = %+v", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected no temp files left behind, found %d entries", len(entries))
	}
}

func TestSettingNilReceiver(t *testing.T) {
	var s *Settings
	if _, ok := s.Setting(KeyStorageMode); ok {
		t.Error("nil settings should report unset")
	}
}

func TestSnapshotEnv(t *testing.T) {
	env := SnapshotEnv([]string{
		"MODEL_DIR=/srv/models",
		"EMPTY=",
		"EQUALS=a=b",
		"garbage",
		"MODEL_DIR=/override",
	})

	if v, ok := env.Lookup(EnvModelDir); !ok || v != "/override" {
		t.Errorf("Lookup(MODEL_DIR) = %q, %v", v, ok)
	}
	if _, ok := env.Lookup("EMPTY"); ok {
		t.Error("empty variable should count as unset")
	}
	if got := env.Get("EQUALS"); got != "a=b" {
		t.Errorf("Get(EQUALS) = %q, want a=b", got)
	}
	if got := env.Get("garbage"); got != "" {
		t.Errorf("Get(garbage) = %q, want empty", got)
	}
}

func TestEnvFromMap_CopiesAndFlags(t *testing.T) {
	m := map[string]string{EnvUseGPU: "1", EnvUseMlock: "true"}
	env := EnvFromMap(m)
	m[EnvUseGPU] = "0"

	if !env.Flag(EnvUseGPU) {
		t.Error("USE_GPU=1 should be set; map mutation leaked into snapshot")
	}
	if env.Flag(EnvUseMlock) {
		t.Error("only \"1\" enables a flag")
	}
	var zero Environment
	if _, ok := zero.Lookup(EnvModelDir); ok {
		t.Error("zero Environment should have no variables")
	}
}
