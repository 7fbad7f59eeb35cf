// Package download implements the fetch primitives model acquisition
// runs on: Hugging Face, GitHub release assets and a WebDAV mirror. Each
// type satisfies resource.Fetcher. Transfers stream into a temporary
// file next to the destination and are renamed into place only once
// complete, so a crash never leaves a truncated file under the final
// name.
package download

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/nugget/jarvis-core/internal/config"
	"github.com/nugget/jarvis-core/internal/resource"
)

// DefaultHuggingFaceEndpoint is the public Hugging Face hub.
const DefaultHuggingFaceEndpoint = "https://huggingface.co"

// New builds the fetcher selected by mc.Source. token falls back to
// mc.Token when empty; callers pass HF_TOKEN from the environment here.
func New(mc config.ModelConfig, token string, logger *slog.Logger) (resource.Fetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if mc.Token != "" {
		token = mc.Token
	}
	switch mc.Source {
	case config.SourceHuggingFace, "":
		return NewHuggingFace(mc.Endpoint, token, logger), nil
	case config.SourceGitHub:
		return NewGitHubRelease(mc.Endpoint, token, logger)
	case config.SourceWebDAV:
		return NewWebDAV(mc.Endpoint, mc.Username, mc.Password, logger)
	}
	return nil, fmt.Errorf("unknown model source %q", mc.Source)
}

// localPath maps a slash-separated remote filename to a path under dir,
// refusing names that would escape it.
func localPath(dir, filename string) (string, error) {
	if filename == "" || strings.HasSuffix(filename, "/") {
		return "", fmt.Errorf("remote filename %q is not a file: %w", filename, resource.ErrValidation)
	}
	rel := path.Clean(filename)
	if path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("remote filename %q escapes the target directory: %w", filename, resource.ErrValidation)
	}
	return filepath.Join(dir, filepath.FromSlash(rel)), nil
}

// writeFile streams r into dest through a temporary sibling file and
// renames it into place. total is the expected size, or <= 0 when
// unknown; a body shorter than a known total is an error.
func writeFile(dest string, r io.Reader, total int64, progress resource.ProgressFunc) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	cw := &countingWriter{w: tmp, total: total, progress: progress}
	n, err := io.Copy(cw, r)
	if err != nil {
		return n, err
	}
	if total > 0 && n != total {
		return n, fmt.Errorf("short transfer: got %d of %d bytes: %w", n, total, io.ErrUnexpectedEOF)
	}
	if err := tmp.Sync(); err != nil {
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return n, err
	}
	committed = true
	return n, nil
}

// countingWriter reports cumulative bytes written.
type countingWriter struct {
	w        io.Writer
	n        int64
	total    int64
	progress resource.ProgressFunc
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if c.progress != nil && n > 0 {
		c.progress(resource.Progress{Done: c.n, Total: c.total})
	}
	return n, err
}

// errNotFound is wrapped by fetchers when the remote has no such file.
var errNotFound = errors.New("not found on remote")
