package history

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/nugget/jarvis-core/internal/config"
)

// LocalStore keeps the transcript in a JSON file.
type LocalStore struct {
	path   string
	logger *slog.Logger
}

// NewLocalStore stores the transcript at path.
func NewLocalStore(path string, logger *slog.Logger) *LocalStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{path: path, logger: logger}
}

// Path returns the history file location.
func (s *LocalStore) Path() string { return s.path }

// Backend implements [Store].
func (s *LocalStore) Backend() string { return config.StorageLocal }

// Load implements [Store].
func (s *LocalStore) Load(context.Context) ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(data, s.path, s.logger), nil
}

// Save implements [Store].
func (s *LocalStore) Save(_ context.Context, entries []Entry) error {
	data, err := encode(entries)
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(s.path, data, 0o600)
}

// Clear implements [Store].
func (s *LocalStore) Clear(context.Context) error {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
