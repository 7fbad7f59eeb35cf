package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/emersion/go-webdav"

	"github.com/nugget/jarvis-core/internal/config"
	"github.com/nugget/jarvis-core/internal/download"
)

// WebDAVStore keeps the transcript on a WebDAV share.
type WebDAVStore struct {
	client *webdav.Client
	dir    string
	name   string
	logger *slog.Logger
}

// NewWebDAVStore stores filename under dir on the share described by
// cfg. An empty URL is [ErrNotConfigured].
func NewWebDAVStore(cfg config.WebDAVConfig, filename string, logger *slog.Logger) (*WebDAVStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: storage.webdav.url is empty", ErrNotConfigured)
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := download.NewWebDAVClient(cfg.URL, cfg.Username, cfg.Password)
	if err != nil {
		return nil, err
	}
	return &WebDAVStore{
		client: client,
		dir:    path.Join("/", cfg.Dir),
		name:   filename,
		logger: logger,
	}, nil
}

func (s *WebDAVStore) remote() string { return path.Join(s.dir, s.name) }

// Backend implements [Store].
func (s *WebDAVStore) Backend() string { return config.StorageWebDAV }

// Load implements [Store].
func (s *WebDAVStore) Load(ctx context.Context) ([]Entry, error) {
	rc, err := s.client.Open(ctx, s.remote())
	if err != nil {
		if download.IsWebDAVNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", s.remote(), err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.remote(), err)
	}
	return decode(data, s.remote(), s.logger), nil
}

// Save implements [Store].
func (s *WebDAVStore) Save(ctx context.Context, entries []Entry) error {
	data, err := encode(entries)
	if err != nil {
		return err
	}
	if s.dir != "/" {
		if _, err := s.client.Stat(ctx, s.dir); err != nil {
			if !download.IsWebDAVNotFound(err) {
				return fmt.Errorf("stat %s: %w", s.dir, err)
			}
			if err := s.client.Mkdir(ctx, s.dir); err != nil {
				return fmt.Errorf("create %s: %w", s.dir, err)
			}
		}
	}
	w, err := s.client.Create(ctx, s.remote())
	if err != nil {
		return fmt.Errorf("create %s: %w", s.remote(), err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", s.remote(), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", s.remote(), err)
	}
	return nil
}

// Clear implements [Store].
func (s *WebDAVStore) Clear(ctx context.Context) error {
	err := s.client.RemoveAll(ctx, s.remote())
	if err != nil && !download.IsWebDAVNotFound(err) {
		return fmt.Errorf("remove %s: %w", s.remote(), err)
	}
	return nil
}
