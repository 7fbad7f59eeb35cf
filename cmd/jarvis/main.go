// Jarvis is a local assistant core: it locates, downloads and validates
// the LLM weights file, exposes the assistant's skills, and keeps the
// conversation history in local or remote storage.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]); user settings live in
// a separate settings.yaml under the data directory.
//
// Usage:
//
//	jarvis model status          Show where the model is and whether it is usable
//	jarvis model fetch           Download the model if it is missing
//	jarvis skills                List available skills
//	jarvis skill <name> [json]   Run a skill with JSON arguments
//	jarvis history show          Print the conversation history
//	jarvis history export [file] Write the history as HTML
//	jarvis history clear         Erase the history
//	jarvis history auth          Authorize Google Drive access
//	jarvis secret <cmd> ...      Manage provider API keys
//	jarvis serve                 Run the status server
//	jarvis init [dir]            Write example config files
//	jarvis version               Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nugget/jarvis-core/internal/buildinfo"
	"github.com/nugget/jarvis-core/internal/config"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run].
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options holds the global flags.
type options struct {
	configPath string
	output     string // "text" or "json"
	stdin      io.Reader
	environ    []string
}

// run is the real entry point. Arguments are parsed by hand so that run
// can be called concurrently from tests without the flag package's
// global state.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	opts := options{stdin: os.Stdin, environ: os.Environ()}
	return runWith(ctx, stdout, stderr, args, opts)
}

func runWith(ctx context.Context, stdout, stderr io.Writer, args []string, opts options) error {
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.output = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.output = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.output = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if opts.output == "" {
		opts.output = "text"
	}
	if opts.output != "text" && opts.output != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.output)
	}

	sub := ""
	if len(cmdArgs) > 0 {
		sub = cmdArgs[0]
	}

	switch command {
	case "model":
		switch sub {
		case "status", "":
			return runModelStatus(ctx, stdout, stderr, opts)
		case "fetch":
			return runModelFetch(ctx, stdout, stderr, opts)
		}
		return fmt.Errorf("usage: jarvis model status|fetch")
	case "skills":
		return runSkills(ctx, stdout, stderr, opts)
	case "skill":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: jarvis skill <name> [json-arguments]")
		}
		return runSkill(ctx, stdout, stderr, opts, cmdArgs[0], strings.Join(cmdArgs[1:], " "))
	case "history":
		return runHistory(ctx, stdout, stderr, opts, cmdArgs)
	case "secret":
		return runSecret(ctx, stdout, stderr, opts, cmdArgs)
	case "serve":
		return runServe(ctx, stdout, stderr, opts)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, opts.output)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Jarvis - local assistant core")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: jarvis [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  model status             Show the resolved model file")
	fmt.Fprintln(w, "  model fetch              Download the model if missing")
	fmt.Fprintln(w, "  skills                   List available skills")
	fmt.Fprintln(w, "  skill <name> [json]      Run a skill")
	fmt.Fprintln(w, "  history show             Print the conversation history")
	fmt.Fprintln(w, "  history export [file]    Export the history as HTML")
	fmt.Fprintln(w, "  history clear            Erase the history")
	fmt.Fprintln(w, "  history auth             Authorize Google Drive storage")
	fmt.Fprintln(w, "  secret set <name> [val]  Store an API key (reads stdin without val)")
	fmt.Fprintln(w, "  secret get|delete <name> Read or remove an API key")
	fmt.Fprintln(w, "  secret list              List stored key names")
	fmt.Fprintln(w, "  serve                    Run the status server")
	fmt.Fprintln(w, "  init [dir]               Write example config files (default: .)")
	fmt.Fprintln(w, "  version                  Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

// loadConfig locates and parses the configuration. With no explicit
// path and nothing found on the search path, the built-in defaults are
// used so that read-only commands work out of the box.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// newLogger builds the process logger from the configuration. Logs go to
// stderr so that command output on stdout stays machine-readable.
func newLogger(stderr io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	if cfg.LogLevel != "" {
		// Validated by config.Load.
		level, _ = config.ParseLogLevel(cfg.LogLevel)
	}
	return config.NewLogger(stderr, level, cfg.LogFormat)
}
