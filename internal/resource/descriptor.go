package resource

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/nugget/jarvis-core/internal/events"
	"github.com/nugget/jarvis-core/internal/paths"
)

// Descriptor is the effective configuration for the model file after
// all layers have been merged.
type Descriptor struct {
	// ExplicitPath is the user-configured file. When set it is the only
	// candidate; the variant fields are ignored by [Resolve].
	ExplicitPath string
	// BaseDir holds default variant files.
	BaseDir    string
	VariantKey string
	Variants   VariantTable
	// Repository and Revision identify the remote collection the
	// variant files are fetched from.
	Repository string
	Revision   string
}

// Variant returns the selected variant, falling back to the table
// default for a key the table does not know.
func (d Descriptor) Variant() Variant {
	if v, ok := d.Variants.Lookup(d.VariantKey); ok {
		return v
	}
	return d.Variants.Default()
}

// Remote returns the remote identifier of the selected variant.
func (d Descriptor) Remote() Remote {
	return Remote{
		Repository: d.Repository,
		Revision:   d.Revision,
		Filename:   d.Variant().Filename,
	}
}

// DescriptorOptions carries the fixed inputs to [BuildDescriptor] that
// come from the operator configuration rather than from the user.
type DescriptorOptions struct {
	// Variants is the closed set of selectable variants. Empty means
	// [DefaultVariants].
	Variants VariantTable
	// InstallRoot anchors a relative DefaultDir.
	InstallRoot string
	// DefaultDir is the base directory when MODEL_DIR is unset. Empty
	// means [DefaultModelDir].
	DefaultDir string
	// Repository defaults to [DefaultRepository].
	Repository string
	Revision   string
	// Paths expands named prefixes ("models:") in the explicit path.
	Paths  *paths.Resolver
	Bus    *events.Bus
	Logger *slog.Logger
}

// BuildDescriptor merges settings and environment into a descriptor.
// Neither input is modified, and nothing else is consulted.
//
// Priority, highest first: the llm_model_path setting; the variant key
// from LLM_QUANT_PREFERENCE, which must name a variant in the table; the
// base directory from MODEL_DIR, else DefaultDir under InstallRoot.
//
// An unknown variant key is replaced by the table default. That
// substitution is logged at warn level and published once as a
// variant_substituted event. There is no error return: every input is
// optional.
func BuildDescriptor(settings Settings, env Env, opts DescriptorOptions) Descriptor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	table := opts.Variants
	if table.Len() == 0 {
		table = DefaultVariants()
	}
	d := Descriptor{
		Variants:   table,
		VariantKey: table.Default().Key,
		Repository: opts.Repository,
		Revision:   opts.Revision,
	}
	if d.Repository == "" {
		d.Repository = DefaultRepository
	}

	if settings != nil {
		if p, ok := settings.Setting(SettingModelPath); ok {
			if p = strings.TrimSpace(p); p != "" {
				d.ExplicitPath = p
				if abs, err := opts.Paths.Resolve(p); err == nil {
					d.ExplicitPath = abs
				}
			}
		}
	}

	if env != nil {
		if key, ok := env.Lookup(EnvVariant); ok {
			if _, known := table.Lookup(key); known {
				d.VariantKey = key
			} else {
				logger.Warn("unknown model variant, using default",
					"requested", key,
					"default", d.VariantKey,
					"valid", strings.Join(table.Keys(), ","),
				)
				opts.Bus.Emit(events.SourceResource, events.KindVariantSubstituted, map[string]any{
					"requested": key,
					"used":      d.VariantKey,
				})
			}
		}
	}
	d.BaseDir = baseDir(env, opts)

	return d
}

// baseDir returns MODEL_DIR when set, else DefaultDir anchored at
// InstallRoot.
func baseDir(env Env, opts DescriptorOptions) string {
	if env != nil {
		if dir, ok := env.Lookup(EnvModelDir); ok && strings.TrimSpace(dir) != "" {
			return strings.TrimSpace(dir)
		}
	}
	dir := opts.DefaultDir
	if dir == "" {
		dir = DefaultModelDir
	}
	dir = paths.ExpandHome(dir)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(opts.InstallRoot, dir)
	}
	return dir
}

// Remote identifies a file in a remote collection.
type Remote struct {
	Repository string
	Revision   string
	Filename   string
}

// String renders the identifier as repository/filename@revision, which
// is what failure reasons and logs show the user.
func (r Remote) String() string {
	s := fmt.Sprintf("%s/%s", r.Repository, r.Filename)
	if r.Revision != "" {
		s += "@" + r.Revision
	}
	return s
}
