// Package paths resolves user-supplied filesystem paths. Settings may
// refer to well-known directories through named prefixes ("models:",
// "data:") and to the home directory through a leading tilde; a single
// [Resolver] built at startup turns those into absolute paths.
package paths

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resolver maps named prefixes to absolute directory paths. It is
// nil-safe: calling [Resolver.Resolve] on a nil *Resolver still expands
// home references and makes the path absolute.
type Resolver struct {
	prefixes map[string]string // "models:" -> "/abs/path/to/models"
	sorted   []string          // prefixes sorted by descending length
}

// New creates a Resolver from a prefix-to-directory map. Keys are
// prefix names without the trailing colon (e.g., "models", not
// "models:"). Home directory tildes (~) in values are expanded at
// construction time. Returns nil if the map is empty or nil.
func New(prefixes map[string]string) *Resolver {
	if len(prefixes) == 0 {
		return nil
	}
	m := make(map[string]string, len(prefixes))
	sorted := make([]string, 0, len(prefixes))
	for name, dir := range prefixes {
		key := name
		if !strings.HasSuffix(key, ":") {
			key += ":"
		}
		m[key] = ExpandHome(dir)
		sorted = append(sorted, key)
	}
	// Longer prefixes first so "model:" never steals "models:".
	sort.Slice(sorted, func(i, j int) bool {
		return len(sorted[i]) > len(sorted[j])
	})
	return &Resolver{prefixes: m, sorted: sorted}
}

// Expand replaces a registered prefix with its directory. If no prefix
// matches, the path is returned unchanged. A bare prefix (e.g.,
// "models:" with no trailing path) returns the root directory for that
// prefix.
func (r *Resolver) Expand(path string) string {
	if r == nil {
		return path
	}
	for _, prefix := range r.sorted {
		if strings.HasPrefix(path, prefix) {
			rel := strings.TrimPrefix(path, prefix)
			base := r.prefixes[prefix]
			if rel == "" {
				return base
			}
			return filepath.Join(base, rel)
		}
	}
	return path
}

// Resolve normalizes a user-supplied path: prefix expansion, then home
// expansion, then conversion to an absolute, cleaned path. The file is
// not required to exist.
func (r *Resolver) Resolve(path string) (string, error) {
	p := ExpandHome(r.Expand(strings.TrimSpace(path)))
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
// "~user" forms are left alone.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}
