package download

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/emersion/go-webdav"

	"github.com/nugget/jarvis-core/internal/httpkit"
	"github.com/nugget/jarvis-core/internal/resource"
)

// WebDAV downloads model files from a WebDAV share, typically a LAN
// mirror. The remote repository is a directory on the share and the
// filename is relative to it.
type WebDAV struct {
	client *webdav.Client
	logger *slog.Logger
}

// NewWebDAV connects to the share at endpoint. Credentials are optional.
func NewWebDAV(endpoint, username, password string, logger *slog.Logger) (*WebDAV, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := NewWebDAVClient(endpoint, username, password)
	if err != nil {
		return nil, err
	}
	return &WebDAV{client: client, logger: logger}, nil
}

// NewWebDAVClient builds a go-webdav client on the shared transport.
// History sync uses it too.
func NewWebDAVClient(endpoint, username, password string) (*webdav.Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("webdav endpoint is required")
	}
	hc := httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithBasicAuth(username, password))
	client, err := webdav.NewClient(hc, endpoint)
	if err != nil {
		return nil, fmt.Errorf("webdav %s: %w", endpoint, err)
	}
	return client, nil
}

// RemotePath returns the path on the share for remote.
func RemotePath(remote resource.Remote) string {
	return path.Join("/", remote.Repository, remote.Filename)
}

// Fetch implements resource.Fetcher.
func (w *WebDAV) Fetch(ctx context.Context, remote resource.Remote, dir string, progress resource.ProgressFunc) (string, error) {
	dest, err := localPath(dir, path.Base(remote.Filename))
	if err != nil {
		return "", err
	}
	p := RemotePath(remote)

	info, err := w.client.Stat(ctx, p)
	if err != nil {
		if IsWebDAVNotFound(err) {
			return "", fmt.Errorf("%s: %w", p, errNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir {
		return "", fmt.Errorf("%s is a collection, not a file: %w", p, resource.ErrValidation)
	}

	rc, err := w.client.Open(ctx, p)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", p, err)
	}
	defer rc.Close()

	w.logger.Debug("downloading from webdav", "path", p, "size", info.Size)
	if _, err := writeFile(dest, rc, info.Size, progress); err != nil {
		return "", err
	}
	return dest, nil
}

// IsWebDAVNotFound reports whether err is a 404 from the share. The
// library does not export its HTTP error type, so this matches on the
// message.
func IsWebDAVNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "404")
}
