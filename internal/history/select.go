package history

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/nugget/jarvis-core/internal/config"
	"github.com/nugget/jarvis-core/internal/paths"
)

// LocalPath returns the local history file for settings: the file
// named by history_filename under local_storage_path, or under
// <dataDir>/history when no path is set.
func LocalPath(s *config.Settings, dataDir string) string {
	dir := paths.ExpandHome(s.LocalStoragePath)
	if dir == "" {
		dir = filepath.Join(dataDir, "history")
	}
	return filepath.Join(dir, historyFilename(s))
}

func historyFilename(s *config.Settings) string {
	if s.HistoryFilename == "" {
		return config.DefaultSettings().HistoryFilename
	}
	return s.HistoryFilename
}

// DriveAuthFor returns the OAuth file locations for settings. Relative
// names are taken relative to dataDir.
func DriveAuthFor(s *config.Settings, dataDir string, logger *slog.Logger) *DriveAuth {
	abs := func(p, def string) string {
		if p == "" {
			p = def
		}
		p = paths.ExpandHome(p)
		if !filepath.IsAbs(p) {
			p = filepath.Join(dataDir, p)
		}
		return p
	}
	d := config.DefaultSettings()
	return &DriveAuth{
		CredentialsFile: abs(s.GoogleDriveCredentialsFile, d.GoogleDriveCredentialsFile),
		TokenFile:       abs(s.GoogleDriveTokenFile, d.GoogleDriveTokenFile),
		Logger:          logger,
	}
}

// New opens the store selected by the storage_mode setting.
func New(ctx context.Context, s *config.Settings, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mode := s.StorageMode
	if mode == "" {
		mode = config.StorageLocal
	}
	switch mode {
	case config.StorageLocal:
		return NewLocalStore(LocalPath(s, cfg.DataDir), logger), nil
	case config.StorageGoogleDrive:
		client, err := DriveAuthFor(s, cfg.DataDir, logger).Client(ctx)
		if err != nil {
			return nil, err
		}
		folder := s.GoogleDriveFolderName
		if folder == "" {
			folder = config.DefaultSettings().GoogleDriveFolderName
		}
		return NewDriveStore(ctx, client, folder, historyFilename(s), logger)
	case config.StorageWebDAV:
		return NewWebDAVStore(cfg.Storage.WebDAV, historyFilename(s), logger)
	}
	return nil, fmt.Errorf("unknown storage_mode %q", mode)
}
