package skills

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrNoClipboard is returned when no clipboard utility is installed.
var ErrNoClipboard = errors.New("no clipboard utility available")

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, text string) error
}

// CommandClipboard drives the clipboard through an external copy and
// paste command pair.
type CommandClipboard struct {
	Copy  []string
	Paste []string
}

// clipboardCommands lists candidate command pairs per platform, in
// preference order.
var clipboardCommands = map[string][]CommandClipboard{
	"darwin": {{Copy: []string{"pbcopy"}, Paste: []string{"pbpaste"}}},
	"windows": {{
		Copy:  []string{"clip.exe"},
		Paste: []string{"powershell.exe", "-NoProfile", "-Command", "Get-Clipboard"},
	}},
	"linux": {
		{Copy: []string{"wl-copy"}, Paste: []string{"wl-paste", "--no-newline"}},
		{Copy: []string{"xclip", "-selection", "clipboard"}, Paste: []string{"xclip", "-selection", "clipboard", "-o"}},
		{Copy: []string{"xsel", "--clipboard", "--input"}, Paste: []string{"xsel", "--clipboard", "--output"}},
	},
}

// DetectClipboard picks the first command pair for goos whose tools are
// on the search path. lookPath is exec.LookPath outside tests.
func DetectClipboard(goos string, lookPath func(string) (string, error)) (*CommandClipboard, error) {
	if goos == "" {
		goos = runtime.GOOS
	}
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, c := range clipboardCommands[goos] {
		if _, err := lookPath(c.Copy[0]); err != nil {
			continue
		}
		if _, err := lookPath(c.Paste[0]); err != nil {
			continue
		}
		return &c, nil
	}
	return nil, fmt.Errorf("%w on %s", ErrNoClipboard, goos)
}

// Read implements [Clipboard].
func (c *CommandClipboard) Read(ctx context.Context) (string, error) {
	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Paste[0], c.Paste[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", c.Paste[0], err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}

// Write implements [Clipboard].
func (c *CommandClipboard) Write(ctx context.Context, text string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Copy[0], c.Copy[1:]...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", c.Copy[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ClipboardSkills returns write_clipboard and read_clipboard over cb.
func ClipboardSkills(cb Clipboard) []*Skill {
	return []*Skill{
		{
			Name:        "write_clipboard",
			Description: "Copy text to the system clipboard.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"text": map[string]any{"type": "string"}},
				"required":   []string{"text"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				text, _ := args["text"].(string)
				if err := cb.Write(ctx, text); err != nil {
					return "", err
				}
				return fmt.Sprintf("Copied %d characters to the clipboard.", len([]rune(text))), nil
			},
		},
		{
			Name:        "read_clipboard",
			Description: "Read the text currently on the system clipboard.",
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				return cb.Read(ctx)
			},
		},
	}
}
