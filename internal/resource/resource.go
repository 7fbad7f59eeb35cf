// Package resource locates the model weights file Jarvis runs on and
// acquires it when it is absent.
//
// Three steps cooperate. [BuildDescriptor] merges the user's settings
// and the environment snapshot into a [Descriptor]. [Resolve] turns the
// descriptor into an [Artifact] that is Ready, Missing or Invalid
// without touching the network. When it is Missing, an [Acquirer]
// downloads the file through a [Fetcher]. [Resolver.GetOrAcquire] ties
// the three together and is what callers use.
//
// None of the contracts in this package return errors or panic on bad
// input: every failure is a value ([Status], [OutcomeKind]) the caller
// inspects.
package resource

import (
	"encoding/json"
	"fmt"
)

// Setting and environment keys read by [BuildDescriptor].
const (
	SettingModelPath = "llm_model_path"
	EnvModelDir      = "MODEL_DIR"
	EnvVariant       = "LLM_QUANT_PREFERENCE"
)

// DefaultModelDir is the base directory, relative to the installation
// root, used when MODEL_DIR is not set.
const DefaultModelDir = "models"

// Settings is read-only access to user settings.
type Settings interface {
	Setting(key string) (string, bool)
}

// Env is read-only access to an environment snapshot.
type Env interface {
	Lookup(key string) (string, bool)
}

// MapSettings adapts a map to [Settings]. Empty values count as unset.
type MapSettings map[string]string

// Setting implements [Settings].
func (m MapSettings) Setting(key string) (string, bool) {
	v, ok := m[key]
	return v, ok && v != ""
}

// MapEnv adapts a map to [Env]. Empty values count as unset.
type MapEnv map[string]string

// Lookup implements [Env].
func (m MapEnv) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok && v != ""
}

// Status is the state of a resolved artifact.
type Status int

const (
	// StatusMissing means the artifact is not on disk yet. It is the
	// normal precursor to acquisition, not an error.
	StatusMissing Status = iota
	// StatusReady means Path names a usable regular file.
	StatusReady
	// StatusInvalid means the configuration cannot produce a usable
	// file: an explicit path that does not exist, or an acquisition that
	// failed for a local reason.
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusMissing:
		return "missing"
	case StatusReady:
		return "ready"
	case StatusInvalid:
		return "invalid"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Source names the layer that produced an artifact's path.
type Source string

const (
	SourceExplicit        Source = "explicit"
	SourceDefault         Source = "default"
	SourcePostAcquisition Source = "post-acquisition"
)

// Artifact is the result of one resolution. It is a plain value: every
// resolution builds a new one and nothing mutates it afterwards.
type Artifact struct {
	Status Status
	// Path is the concrete file when Ready, the expected download
	// location when Missing, and the offending path when Invalid.
	Path   string
	Source Source
	// Variant is the variant key behind a default path. Empty for
	// explicit paths.
	Variant string
	// Reason explains a Missing or Invalid status for the user.
	Reason string
	// Failure is the kind of the acquisition that produced this
	// artifact, when one ran and failed.
	Failure OutcomeKind
}

// Ready reports whether the artifact can be used.
func (a Artifact) Ready() bool { return a.Status == StatusReady }

// MarshalJSON renders enumerations by name.
func (a Artifact) MarshalJSON() ([]byte, error) {
	out := struct {
		Status  string `json:"status"`
		Path    string `json:"path"`
		Source  Source `json:"source"`
		Variant string `json:"variant,omitempty"`
		Reason  string `json:"reason,omitempty"`
		Failure string `json:"failure,omitempty"`
	}{
		Status:  a.Status.String(),
		Path:    a.Path,
		Source:  a.Source,
		Variant: a.Variant,
		Reason:  a.Reason,
	}
	if a.Failure != OutcomePending {
		out.Failure = a.Failure.String()
	}
	return json.Marshal(out)
}
