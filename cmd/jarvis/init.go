package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/jarvis-core/examples"
)

// runInit writes example config.yaml, settings.yaml and app_paths.yaml
// into dir. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Jarvis configuration in %s\n", dir)

	for _, sub := range []string{"models", "history"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	files := []struct {
		name    string
		content []byte
		perm    os.FileMode
	}{
		// config.yaml may hold broker and WebDAV passwords.
		{"config.yaml", examples.ConfigYAML, 0o600},
		{"settings.yaml", examples.SettingsYAML, 0o644},
		{"app_paths.yaml", examples.AppPathsYAML, 0o644},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		wrote, err := writeIfMissing(path, f.content, f.perm)
		if err != nil {
			return err
		}
		if wrote {
			fmt.Fprintf(w, "  ✓ %s\n", path)
		} else {
			fmt.Fprintf(w, "  - %s (exists, kept)\n", path)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml to choose where the model is downloaded from,")
	fmt.Fprintln(w, "then run `jarvis model fetch`.")
	return nil
}

// writeIfMissing writes content to path only if the file does not already
// exist, and reports whether it wrote.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
