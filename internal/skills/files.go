package skills

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// maxReadBytes caps what read_file returns.
const maxReadBytes = 50 << 10

// Workspace confines file skills to one directory tree.
type Workspace struct {
	root string
}

// NewWorkspace creates the workspace rooted at root, creating the
// directory if needed.
func NewWorkspace(root string) (*Workspace, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace not configured")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string { return w.root }

// resolve maps a workspace-relative path to an absolute one, refusing
// anything that would land outside the root, including through a
// symlink that already exists.
func (w *Workspace) resolve(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		rel = "."
	}
	var p string
	if filepath.IsAbs(rel) {
		p = filepath.Clean(rel)
	} else {
		p = filepath.Join(w.root, rel)
	}
	if !w.contains(p) {
		return "", fmt.Errorf("path %q is outside the workspace", rel)
	}

	// Follow the longest existing prefix so a symlink inside the
	// workspace cannot point out of it.
	existing := p
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	if real, err := filepath.EvalSymlinks(existing); err == nil && !w.contains(real) {
		return "", fmt.Errorf("path %q is outside the workspace", rel)
	}
	return p, nil
}

func (w *Workspace) contains(p string) bool {
	r, err := filepath.Rel(w.root, p)
	if err != nil {
		return false
	}
	return r == "." || (r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator)))
}

func (w *Workspace) rel(p string) string {
	if r, err := filepath.Rel(w.root, p); err == nil {
		return filepath.ToSlash(r)
	}
	return p
}

// Read returns the contents of a file, truncated to 50 KB.
func (w *Workspace) Read(path string) (string, error) {
	p, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n\n[... truncated ...]", nil
	}
	return string(data), nil
}

// Write replaces the file's contents, creating parent directories.
func (w *Workspace) Write(path, content string) error {
	p, err := w.resolve(path)
	if err != nil {
		return err
	}
	if p == w.root {
		return fmt.Errorf("cannot write to the workspace root")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// List returns the entries of a directory; subdirectories end in "/".
func (w *Workspace) List(path string) ([]string, error) {
	p, err := w.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("directory not found: %s", path)
		}
		return nil, fmt.Errorf("read directory %s: %w", path, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		out = append(out, name)
	}
	return out, nil
}

// Search returns workspace-relative paths of files matching pattern,
// in walk order, up to limit. Patterns use glob syntax with "**"
// crossing directories; a pattern without "/" matches base names.
func (w *Workspace) Search(ctx context.Context, pattern string, limit int) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	byBase := !strings.Contains(pattern, "/")
	if limit <= 0 {
		limit = 100
	}

	var out []string
	err = filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		rel := w.rel(p)
		subject := rel
		if byBase {
			subject = d.Name()
		}
		if g.Match(subject) {
			out = append(out, rel)
			if len(out) >= limit {
				return fs.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Copy copies a file. When dst is an existing directory the file keeps
// its name inside it.
func (w *Workspace) Copy(src, dst string) (string, error) {
	from, err := w.resolve(src)
	if err != nil {
		return "", err
	}
	to, err := w.resolve(dst)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(from)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("file not found: %s", src)
		}
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", src)
	}
	if st, err := os.Stat(to); err == nil && st.IsDir() {
		to = filepath.Join(to, filepath.Base(from))
	}
	if !w.contains(to) {
		return "", fmt.Errorf("path %q is outside the workspace", dst)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	in, err := os.Open(from)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	_ = os.Chtimes(to, info.ModTime(), info.ModTime())
	return w.rel(to), nil
}

// Delete removes a file. Directories are refused.
func (w *Workspace) Delete(path string) error {
	p, err := w.resolve(path)
	if err != nil {
		return err
	}
	info, err := os.Lstat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("file not found: %s", path)
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return os.Remove(p)
}

// FileSkills returns the file skills bound to w.
func FileSkills(w *Workspace) []*Skill {
	pathParam := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	return []*Skill{
		{
			Name:        "read_file",
			Description: "Read a text file from the user's file area.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": pathParam("Path relative to the file area.")},
				"required":   []string{"path"},
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				return w.Read(stringArg(args, "path"))
			},
		},
		{
			Name:        "write_file",
			Description: "Create or overwrite a text file in the user's file area.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    pathParam("Path relative to the file area."),
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"path", "content"},
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				content, _ := args["content"].(string)
				path := stringArg(args, "path")
				if err := w.Write(path, content); err != nil {
					return "", err
				}
				return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
			},
		},
		{
			Name:        "list_files",
			Description: "List a directory in the user's file area.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": pathParam("Directory relative to the file area. Default: the top level.")},
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				names, err := w.List(stringArg(args, "path"))
				if err != nil {
					return "", err
				}
				if len(names) == 0 {
					return "(empty)", nil
				}
				return strings.Join(names, "\n"), nil
			},
		},
		{
			Name:        "search_files",
			Description: "Find files in the user's file area by glob pattern, e.g. *.txt or notes/**/*.md.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern": map[string]any{"type": "string", "minLength": 1},
					"limit":   map[string]any{"type": "integer", "minimum": 1},
				},
				"required": []string{"pattern"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				found, err := w.Search(ctx, stringArg(args, "pattern"), intArg(args, "limit", 100))
				if err != nil {
					return "", err
				}
				if len(found) == 0 {
					return "No matching files.", nil
				}
				return strings.Join(found, "\n"), nil
			},
		},
		{
			Name:        "copy_file",
			Description: "Copy a file within the user's file area.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source":      pathParam("File to copy."),
					"destination": pathParam("Target file or existing directory."),
				},
				"required": []string{"source", "destination"},
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				src := stringArg(args, "source")
				to, err := w.Copy(src, stringArg(args, "destination"))
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Copied %s to %s", src, to), nil
			},
		},
		{
			Name:        "delete_file",
			Description: "Delete a file from the user's file area.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": pathParam("File to delete.")},
				"required":   []string{"path"},
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				path := stringArg(args, "path")
				if err := w.Delete(path); err != nil {
					return "", err
				}
				return "Deleted " + path, nil
			},
		},
	}
}
