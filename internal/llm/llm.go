// Package llm prepares the local model for the inference runtime: it
// reads the runtime tuning knobs from the environment, obtains the
// weights through the resource resolver and checks that the file is a
// GGUF container before handing it over.
package llm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/nugget/jarvis-core/internal/config"
	"github.com/nugget/jarvis-core/internal/resource"
)

// DefaultThreads is used when N_THREADS is unset or unusable.
const DefaultThreads = 8

// ggufMagic is the first four bytes of every GGUF file.
var ggufMagic = [4]byte{'G', 'G', 'U', 'F'}

// ErrNotGGUF is returned when the resolved file is not a GGUF container.
var ErrNotGGUF = errors.New("not a GGUF file")

// ErrUnavailable is returned when the model could not be made ready.
// The wrapped message carries the resolver's reason.
var ErrUnavailable = errors.New("model unavailable")

// Options are the runtime knobs read from the environment.
type Options struct {
	UseGPU    bool
	GPULayers int
	UseMlock  bool
	Threads   int
}

// Env is the read-only environment view. [config.Environment] satisfies
// it.
type Env interface {
	resource.Env
	Flag(key string) bool
}

// LoadOptionsFromEnv reads USE_GPU, N_GPU_LAYERS, USE_MLOCK and
// N_THREADS. GPU layers are only honoured when USE_GPU is set; a value
// that is not a non-negative integer becomes 0 with a warning. Threads
// must be positive and default to [DefaultThreads].
func LoadOptionsFromEnv(env Env, logger *slog.Logger) Options {
	if logger == nil {
		logger = slog.Default()
	}
	opts := Options{
		UseGPU:   env.Flag(config.EnvUseGPU),
		UseMlock: env.Flag(config.EnvUseMlock),
		Threads:  DefaultThreads,
	}

	if opts.UseGPU {
		if raw, ok := env.Lookup(config.EnvGPULayers); ok {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || n < 0 {
				logger.Warn("invalid GPU layer count, offloading none",
					"var", config.EnvGPULayers, "value", raw)
				n = 0
			}
			opts.GPULayers = n
		}
	}

	if raw, ok := env.Lookup(config.EnvThreads); ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n <= 0 {
			logger.Warn("invalid thread count, using default",
				"var", config.EnvThreads, "value", raw, "default", DefaultThreads)
		} else {
			opts.Threads = n
		}
	}
	return opts
}

// Model describes weights ready to be mapped by the runtime.
type Model struct {
	Path        string
	Variant     string
	Source      resource.Source
	Size        int64
	GGUFVersion uint32
	Options     Options
}

// Loader turns settings and environment into a ready [Model].
type Loader struct {
	resolver *resource.Resolver
	logger   *slog.Logger
}

// NewLoader creates a loader backed by resolver.
func NewLoader(resolver *resource.Resolver, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{resolver: resolver, logger: logger}
}

// Load obtains the model, downloading it if needed, and validates its
// header. A failure to obtain the file wraps [ErrUnavailable]; a file
// that is present but not GGUF wraps [ErrNotGGUF].
func (l *Loader) Load(ctx context.Context, settings resource.Settings, env Env) (*Model, error) {
	a := l.resolver.GetOrAcquire(ctx, settings, env)
	if !a.Ready() {
		reason := a.Reason
		if reason == "" {
			reason = fmt.Sprintf("%s is %s", a.Path, a.Status)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, reason)
	}

	version, size, err := readHeader(a.Path)
	if err != nil {
		return nil, err
	}

	m := &Model{
		Path:        a.Path,
		Variant:     a.Variant,
		Source:      a.Source,
		Size:        size,
		GGUFVersion: version,
		Options:     LoadOptionsFromEnv(env, l.logger),
	}
	l.logger.Info("model ready",
		"path", m.Path,
		"variant", m.Variant,
		"gguf_version", m.GGUFVersion,
		"gpu", m.Options.UseGPU,
		"gpu_layers", m.Options.GPULayers,
		"threads", m.Options.Threads,
	)
	return m, nil
}

// readHeader checks the GGUF magic and returns the format version and
// file size.
func readHeader(path string) (uint32, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("stat model: %w", err)
	}

	var hdr struct {
		Magic   [4]byte
		Version uint32
	}
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, 0, fmt.Errorf("%s: %w: file too short", path, ErrNotGGUF)
		}
		return 0, 0, fmt.Errorf("read model header: %w", err)
	}
	if hdr.Magic != ggufMagic {
		return 0, 0, fmt.Errorf("%s: %w: magic %q", path, ErrNotGGUF, hdr.Magic[:])
	}
	return hdr.Version, info.Size(), nil
}
