package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Setting keys understood by [Settings.Setting].
const (
	KeyLLMModelPath               = "llm_model_path"
	KeySystemPromptPath           = "system_prompt_path"
	KeyStorageMode                = "storage_mode"
	KeyLocalStoragePath           = "local_storage_path"
	KeyGoogleDriveCredentialsFile = "google_drive_credentials_file"
	KeyGoogleDriveTokenFile       = "google_drive_token_file"
	KeyGoogleDriveFolderName      = "google_drive_folder_name"
	KeyHistoryFilename            = "history_filename"
	KeyActiveLLMProvider          = "active_llm_provider"
)

// History storage modes.
const (
	StorageLocal       = "local"
	StorageGoogleDrive = "google_drive"
	StorageWebDAV      = "webdav"
)

// Settings holds the user-editable settings written by the settings
// panel. API keys are never stored here; see package secure.
type Settings struct {
	LLMModelPath               string                 `yaml:"llm_model_path"`
	SystemPromptPath           string                 `yaml:"system_prompt_path"`
	StorageMode                string                 `yaml:"storage_mode"`
	LocalStoragePath           string                 `yaml:"local_storage_path"`
	GoogleDriveCredentialsFile string                 `yaml:"google_drive_credentials_file"`
	GoogleDriveTokenFile       string                 `yaml:"google_drive_token_file"`
	GoogleDriveFolderName      string                 `yaml:"google_drive_folder_name"`
	HistoryFilename            string                 `yaml:"history_filename"`
	ActiveLLMProvider          string                 `yaml:"active_llm_provider"`
	APIProviders               map[string]APIProvider `yaml:"api_providers"`
}

// APIProvider describes a hosted LLM provider the user may switch to.
type APIProvider struct {
	Enabled  bool   `yaml:"enabled"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// DefaultSettings returns the settings used when no settings file
// exists, and the base onto which a loaded file is merged.
func DefaultSettings() *Settings {
	return &Settings{
		StorageMode:                StorageLocal,
		GoogleDriveCredentialsFile: "credentials.json",
		GoogleDriveTokenFile:       "token.json",
		GoogleDriveFolderName:      "Jarvis-Core History",
		HistoryFilename:            "jarvis_chat_history.json",
		ActiveLLMProvider:          "local",
		APIProviders: map[string]APIProvider{
			"openai":   {Model: "gpt-4"},
			"deepseek": {Model: "deepseek-chat"},
		},
	}
}

// LoadSettings reads settings from path and merges them onto
// [DefaultSettings]. A missing file yields the defaults. A malformed
// file is logged and also yields the defaults, so a bad hand edit never
// prevents startup.
func LoadSettings(path string, logger *slog.Logger) *Settings {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("settings file not found, using defaults", "path", path)
		} else {
			logger.Error("failed to read settings, using defaults", "path", path, "error", err)
		}
		return s
	}

	loaded := &Settings{}
	if err := yaml.Unmarshal(data, loaded); err != nil {
		logger.Error("failed to parse settings, using defaults", "path", path, "error", err)
		return s
	}
	s.merge(loaded)
	return s
}

// merge overlays non-empty values from o onto s. Providers are merged
// per name so that a file listing only "openai" keeps the default
// "deepseek" entry.
func (s *Settings) merge(o *Settings) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&s.LLMModelPath, o.LLMModelPath)
	set(&s.SystemPromptPath, o.SystemPromptPath)
	set(&s.StorageMode, o.StorageMode)
	set(&s.LocalStoragePath, o.LocalStoragePath)
	set(&s.GoogleDriveCredentialsFile, o.GoogleDriveCredentialsFile)
	set(&s.GoogleDriveTokenFile, o.GoogleDriveTokenFile)
	set(&s.GoogleDriveFolderName, o.GoogleDriveFolderName)
	set(&s.HistoryFilename, o.HistoryFilename)
	set(&s.ActiveLLMProvider, o.ActiveLLMProvider)

	if s.APIProviders == nil {
		s.APIProviders = make(map[string]APIProvider)
	}
	for name, p := range o.APIProviders {
		s.APIProviders[name] = p
	}
}

// Save writes the settings to path atomically with owner-only
// permissions, creating the parent directory if needed.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return WriteFileAtomic(path, data, 0o600)
}

// Setting implements read-only key/value access for consumers that
// should not depend on the struct layout. Empty values report false.
func (s *Settings) Setting(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	var v string
	switch key {
	case KeyLLMModelPath:
		v = s.LLMModelPath
	case KeySystemPromptPath:
		v = s.SystemPromptPath
	case KeyStorageMode:
		v = s.StorageMode
	case KeyLocalStoragePath:
		v = s.LocalStoragePath
	case KeyGoogleDriveCredentialsFile:
		v = s.GoogleDriveCredentialsFile
	case KeyGoogleDriveTokenFile:
		v = s.GoogleDriveTokenFile
	case KeyGoogleDriveFolderName:
		v = s.GoogleDriveFolderName
	case KeyHistoryFilename:
		v = s.HistoryFilename
	case KeyActiveLLMProvider:
		v = s.ActiveLLMProvider
	}
	return v, v != ""
}

// WriteFileAtomic writes data to a temporary file in the destination
// directory and renames it into place, so readers never observe a
// partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
