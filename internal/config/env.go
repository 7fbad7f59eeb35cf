package config

import (
	"strings"
)

// Environment variables read by the model loader.
const (
	EnvModelDir        = "MODEL_DIR"
	EnvQuantPreference = "LLM_QUANT_PREFERENCE"
	EnvUseGPU          = "USE_GPU"
	EnvGPULayers       = "N_GPU_LAYERS"
	EnvUseMlock        = "USE_MLOCK"
	EnvThreads         = "N_THREADS"
	EnvHFToken         = "HF_TOKEN"
)

// Environment is an immutable snapshot of the process environment.
// It is captured once in main and passed explicitly to the components
// that need it, so nothing reads os.Getenv at arbitrary points and
// tests can supply any environment they like.
type Environment struct {
	vars map[string]string
}

// SnapshotEnv builds an Environment from "KEY=value" pairs as returned
// by os.Environ. Later duplicates win, matching getenv semantics.
func SnapshotEnv(environ []string) Environment {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = v
	}
	return Environment{vars: vars}
}

// EnvFromMap builds an Environment from a map. The map is copied.
func EnvFromMap(m map[string]string) Environment {
	vars := make(map[string]string, len(m))
	for k, v := range m {
		vars[k] = v
	}
	return Environment{vars: vars}
}

// Lookup returns the value of key and whether it was set. A variable
// set to the empty string counts as unset.
func (e Environment) Lookup(key string) (string, bool) {
	v, ok := e.vars[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Get returns the value of key, or "" when unset.
func (e Environment) Get(key string) string {
	v, _ := e.Lookup(key)
	return v
}

// Flag reports whether key is set to "1", the convention used for the
// boolean toggles (USE_GPU, USE_MLOCK).
func (e Environment) Flag(key string) bool {
	return e.Get(key) == "1"
}
