package llm

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nugget/jarvis-core/internal/config"
	"github.com/nugget/jarvis-core/internal/resource"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ggufBytes(version uint32) []byte {
	b := []byte("GGUF")
	b = binary.LittleEndian.AppendUint32(b, version)
	return append(b, make([]byte, 64)...)
}

func TestLoadOptionsFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want Options
	}{
		{"defaults", nil, Options{Threads: DefaultThreads}},
		{"gpu with layers", map[string]string{"USE_GPU": "1", "N_GPU_LAYERS": "33"}, Options{UseGPU: true, GPULayers: 33, Threads: 8}},
		{"layers ignored without gpu", map[string]string{"N_GPU_LAYERS": "33"}, Options{Threads: 8}},
		{"negative layers", map[string]string{"USE_GPU": "1", "N_GPU_LAYERS": "-4"}, Options{UseGPU: true, Threads: 8}},
		{"garbage layers", map[string]string{"USE_GPU": "1", "N_GPU_LAYERS": "all"}, Options{UseGPU: true, Threads: 8}},
		{"gpu flag must be 1", map[string]string{"USE_GPU": "true"}, Options{Threads: 8}},
		{"mlock and threads", map[string]string{"USE_MLOCK": "1", "N_THREADS": "16"}, Options{UseMlock: true, Threads: 16}},
		{"zero threads", map[string]string{"N_THREADS": "0"}, Options{Threads: 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LoadOptionsFromEnv(config.EnvFromMap(tt.env), quietLogger())
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func newLoader(t *testing.T, fetch resource.FetcherFunc) *Loader {
	t.Helper()
	r := resource.NewResolver(resource.Config{
		Descriptor: resource.DescriptorOptions{InstallRoot: t.TempDir(), Logger: quietLogger()},
		Fetcher:    fetch,
	})
	return NewLoader(r, quietLogger())
}

func TestLoadExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.gguf")
	if err := os.WriteFile(path, ggufBytes(3), 0o644); err != nil {
		t.Fatal(err)
	}
	l := newLoader(t, func(context.Context, resource.Remote, string, resource.ProgressFunc) (string, error) {
		t.Fatal("fetcher called for explicit path")
		return "", nil
	})

	m, err := l.Load(t.Context(), resource.MapSettings{resource.SettingModelPath: path}, config.EnvFromMap(map[string]string{"N_THREADS": "4"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Path != path || m.GGUFVersion != 3 || m.Source != resource.SourceExplicit || m.Options.Threads != 4 {
		t.Errorf("model = %+v", m)
	}
}

func TestLoadAcquires(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	l := newLoader(t, func(_ context.Context, remote resource.Remote, target string, _ resource.ProgressFunc) (string, error) {
		calls++
		p := filepath.Join(target, remote.Filename)
		return p, os.WriteFile(p, ggufBytes(3), 0o644)
	})

	env := config.EnvFromMap(map[string]string{"MODEL_DIR": dir, "LLM_QUANT_PREFERENCE": "Q8_0"})
	m, err := l.Load(t.Context(), nil, env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if calls != 1 || m.Variant != "Q8_0" || filepath.Dir(m.Path) != dir {
		t.Errorf("calls = %d, model = %+v", calls, m)
	}
}

func TestLoadUnavailable(t *testing.T) {
	l := newLoader(t, func(context.Context, resource.Remote, string, resource.ProgressFunc) (string, error) {
		return "", errors.New("connection reset")
	})
	_, err := l.Load(t.Context(), nil, config.EnvFromMap(map[string]string{"MODEL_DIR": t.TempDir()}))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestLoadRejectsNonGGUF(t *testing.T) {
	dir := t.TempDir()
	tests := map[string][]byte{
		"wrong magic": []byte("PK\x03\x04 this is a zip"),
		"too short":   []byte("GG"),
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".gguf")
			if err := os.WriteFile(path, content, 0o644); err != nil {
				t.Fatal(err)
			}
			l := newLoader(t, nil)
			_, err := l.Load(t.Context(), resource.MapSettings{resource.SettingModelPath: path}, config.EnvFromMap(nil))
			if !errors.Is(err, ErrNotGGUF) {
				t.Errorf("err = %v, want ErrNotGGUF", err)
			}
		})
	}
}
