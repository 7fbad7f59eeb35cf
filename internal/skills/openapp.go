package skills

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppTable maps an operating system name (Windows, Linux, Darwin) to
// application names and their executable paths.
type AppTable map[string]map[string]string

type appTableFile struct {
	OpenApp struct {
		Paths AppTable `yaml:"paths"`
	} `yaml:"open_app"`
}

// ParseAppTable decodes an app_paths.yaml document.
func ParseAppTable(data []byte) (AppTable, error) {
	var f appTableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse app paths: %w", err)
	}
	if f.OpenApp.Paths == nil {
		return AppTable{}, nil
	}
	return f.OpenApp.Paths, nil
}

// LoadAppTable reads path, falling back to fallback when the file is
// missing. A malformed file is an error.
func LoadAppTable(path string, fallback []byte) (AppTable, error) {
	if path == "" {
		return ParseAppTable(fallback)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ParseAppTable(fallback)
	}
	if err != nil {
		return nil, fmt.Errorf("read app paths: %w", err)
	}
	return ParseAppTable(data)
}

// OSName returns the table key for goos.
func OSName(goos string) string {
	switch goos {
	case "windows":
		return "Windows"
	case "darwin":
		return "Darwin"
	case "linux":
		return "Linux"
	}
	return goos
}

// Lookup finds app for osName, ignoring case in the application name.
func (t AppTable) Lookup(osName, app string) (string, bool) {
	for name, path := range t[osName] {
		if strings.EqualFold(name, app) {
			return path, true
		}
	}
	return "", false
}

// Launcher starts programs without waiting for them. Launched programs
// outlive the request that started them, so there is no context.
type Launcher interface {
	// LaunchPath starts the executable at path.
	LaunchPath(path string) error
	// LaunchName starts an application by name, as the shell would.
	LaunchName(name string) error
}

// ExecLauncher launches with the platform's native mechanism: start on
// Windows, open on macOS, and a direct exec elsewhere.
type ExecLauncher struct {
	GOOS string
}

func (l ExecLauncher) goos() string {
	if l.GOOS == "" {
		return runtime.GOOS
	}
	return l.GOOS
}

// LaunchPath implements [Launcher].
func (l ExecLauncher) LaunchPath(path string) error {
	switch l.goos() {
	case "windows":
		return start(exec.Command("cmd", "/C", "start", "/B", "", path))
	case "darwin":
		return start(exec.Command("open", path))
	}
	return start(exec.Command(path))
}

// LaunchName implements [Launcher].
func (l ExecLauncher) LaunchName(name string) error {
	switch l.goos() {
	case "windows":
		return start(exec.Command("cmd", "/C", "start", "/B", "", strings.ToLower(name)))
	case "darwin":
		return start(exec.Command("open", "-a", name))
	}
	bin, err := exec.LookPath(strings.ToLower(name))
	if err != nil {
		return err
	}
	return start(exec.Command(bin))
}

// ExpandVars replaces $VAR, ${VAR} and Windows-style %VAR% references
// with values from lookup. Unknown variables are left in place, so a
// path that still contains one fails visibly instead of collapsing to a
// different path.
func ExpandVars(s string, lookup func(string) (string, bool)) string {
	s = expandPercent(s, lookup)
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(name string) string {
		if v, ok := lookup(name); ok {
			return v
		}
		return "$" + name
	})
}

// expandPercent handles the %VAR% form. A % with no closing partner, or
// an unknown name between two, is copied through.
func expandPercent(s string, lookup func(string) (string, bool)) string {
	if strings.Count(s, "%") < 2 {
		return s
	}
	var b strings.Builder
	for {
		i := strings.IndexByte(s, '%')
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+1:], '%')
		if j < 0 {
			break
		}
		b.WriteString(s[:i])
		name := s[i+1 : i+1+j]
		if v, ok := lookup(name); ok && name != "" {
			b.WriteString(v)
			s = s[i+2+j:]
			continue
		}
		// The closing % may open the next reference.
		b.WriteByte('%')
		s = s[i+1:]
	}
	b.WriteString(s)
	return b.String()
}

// start runs cmd detached from our stdio and reaps it in the
// background.
func start(cmd *exec.Cmd) error {
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait() //nolint:errcheck
	return nil
}

// AppOpener implements the open_app skill.
type AppOpener struct {
	Table    AppTable
	OS       string
	Launcher Launcher
	// Expand resolves environment references in configured paths.
	// Defaults to [ExpandVars] over the process environment.
	Expand func(string) string
	Logger *slog.Logger
}

// Open launches app. A configured path is tried first; if it cannot be
// started the name is tried as a command on the search path. Permission
// errors on a configured path are final.
func (o *AppOpener) Open(app string) (string, error) {
	app = strings.TrimSpace(app)
	if app == "" {
		return "", fmt.Errorf("application name is required")
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	osName := o.OS
	if osName == "" {
		osName = OSName(runtime.GOOS)
	}
	expand := o.Expand
	if expand == nil {
		expand = func(s string) string { return ExpandVars(s, os.LookupEnv) }
	}

	if path, ok := o.Table.Lookup(osName, app); ok {
		path = expand(path)
		err := o.Launcher.LaunchPath(path)
		if err == nil {
			logger.Info("application launched", "app", app, "path", path)
			return fmt.Sprintf("Launched %s.", app), nil
		}
		if errors.Is(err, fs.ErrPermission) {
			return "", fmt.Errorf("permission denied launching %s at %s", app, path)
		}
		logger.Warn("configured application failed to start, trying search path", "app", app, "path", path, "error", err)
	} else {
		logger.Debug("application not in table, trying search path", "app", app, "os", osName)
	}

	if err := o.Launcher.LaunchName(app); err != nil {
		return "", fmt.Errorf("%s is not configured and could not be started from the search path: %w", app, err)
	}
	logger.Info("application launched from search path", "app", app)
	return fmt.Sprintf("Launched %s (found on the search path).", app), nil
}

// Skill returns the open_app skill.
func (o *AppOpener) Skill() *Skill {
	return &Skill{
		Name:        "open_app",
		Description: "Open an application on this computer, e.g. Firefox, Notepad, Calculator.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"app": map[string]any{"type": "string", "minLength": 1, "description": "Application name."},
			},
			"required": []string{"app"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return o.Open(stringArg(args, "app"))
		},
	}
}
