package resource

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nugget/jarvis-core/internal/paths"
)

// Resolve maps a descriptor to an artifact. It reads the filesystem but
// never writes to it, so two calls with no change in between return
// equal values.
//
// An explicit path is authoritative: if it does not name an existing
// regular file the result is Invalid, never a fall back to the default
// variant. Without one, the candidate is BaseDir joined with the
// variant's filename. It is Ready when it is a non-empty regular file
// and Missing otherwise. Empty files are leftovers of an interrupted
// download and count as missing.
func Resolve(d Descriptor) Artifact {
	if d.ExplicitPath != "" {
		return resolveExplicit(d.ExplicitPath)
	}

	v := d.Variant()
	if v.Filename == "" {
		return Artifact{
			Status: StatusInvalid,
			Source: SourceDefault,
			Reason: "no model variant is configured",
		}
	}

	base, err := absPath(d.BaseDir)
	if err != nil {
		return Artifact{
			Status:  StatusInvalid,
			Path:    d.BaseDir,
			Source:  SourceDefault,
			Variant: v.Key,
			Reason:  fmt.Sprintf("model directory %s: %v", d.BaseDir, err),
		}
	}
	candidate := filepath.Join(base, v.Filename)

	a := Artifact{Path: candidate, Source: SourceDefault, Variant: v.Key}
	if err := checkFile(candidate); err != nil {
		a.Status = StatusMissing
		a.Reason = fmt.Sprintf("model %s not found at %s", v.Key, candidate)
		return a
	}
	a.Status = StatusReady
	return a
}

func resolveExplicit(raw string) Artifact {
	p, err := absPath(raw)
	if err != nil {
		return Artifact{
			Status: StatusInvalid,
			Path:   raw,
			Source: SourceExplicit,
			Reason: fmt.Sprintf("configured model path %s cannot be resolved: %v", raw, err),
		}
	}

	a := Artifact{Path: p, Source: SourceExplicit}
	info, err := os.Stat(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		a.Status = StatusInvalid
		a.Reason = fmt.Sprintf("configured model path %s does not exist", p)
	case err != nil:
		a.Status = StatusInvalid
		a.Reason = fmt.Sprintf("configured model path %s is not usable: %v", p, err)
	case !info.Mode().IsRegular():
		a.Status = StatusInvalid
		a.Reason = fmt.Sprintf("configured model path %s is not a regular file", p)
	default:
		a.Status = StatusReady
	}
	return a
}

// inspect builds the artifact for a file produced by acquisition.
func inspect(path string, variant string) Artifact {
	a := Artifact{Path: path, Source: SourcePostAcquisition, Variant: variant}
	if err := checkFile(path); err != nil {
		a.Status = StatusInvalid
		a.Reason = err.Error()
		return a
	}
	a.Status = StatusReady
	return a
}

// checkFile returns nil when path is a non-empty regular file.
func checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}

// absPath expands ~ and makes p absolute. A nil resolver has no
// prefixes; BuildDescriptor has already applied those.
func absPath(p string) (string, error) {
	var r *paths.Resolver
	return r.Resolve(p)
}
