// Package skills defines the actions the assistant can take on the
// user's machine. Skills are registered explicitly; nothing is
// discovered from the filesystem.
package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nugget/jarvis-core/internal/events"
)

// Handler runs a skill with decoded arguments and returns text for the
// user.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Skill is one callable action.
type Skill struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`

	schema *jsonschema.Schema
}

// ErrSkillUnavailable is returned when a call names a skill that is not
// registered, either because it never existed or because configuration
// disabled it.
type ErrSkillUnavailable struct {
	Name string
}

func (e *ErrSkillUnavailable) Error() string {
	return fmt.Sprintf("skill %q is not available", e.Name)
}

// ArgumentError reports arguments that do not satisfy the skill's
// parameter schema.
type ArgumentError struct {
	Skill string
	Err   error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Skill, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// Registry holds the registered skills.
type Registry struct {
	skills   map[string]*Skill
	disabled map[string]bool
	bus      *events.Bus
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. Names in disabled are silently
// skipped by [Registry.Register].
func NewRegistry(bus *events.Bus, logger *slog.Logger, disabled ...string) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		skills:   make(map[string]*Skill),
		disabled: make(map[string]bool),
		bus:      bus,
		logger:   logger,
	}
	for _, name := range disabled {
		r.disabled[strings.TrimSpace(name)] = true
	}
	return r
}

// Register adds s, compiling its parameter schema. A second skill with
// the same name replaces the first.
func (r *Registry) Register(s *Skill) error {
	if s.Name == "" || s.Handler == nil {
		return fmt.Errorf("skill needs a name and a handler")
	}
	if r.disabled[s.Name] {
		r.logger.Debug("skill disabled by configuration", "skill", s.Name)
		return nil
	}
	if s.Parameters == nil {
		s.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	sch, err := compileSchema(s.Name, s.Parameters)
	if err != nil {
		return fmt.Errorf("skill %s: %w", s.Name, err)
	}
	s.schema = sch
	r.skills[s.Name] = s
	return nil
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse parameters: %w", err)
	}
	url := "skills/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}

// Get returns the named skill or nil.
func (r *Registry) Get(name string) *Skill {
	return r.skills[name]
}

// Names returns the registered skill names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.skills))
	for n := range r.skills {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// List returns the registered skills sorted by name.
func (r *Registry) List() []*Skill {
	out := make([]*Skill, 0, len(r.skills))
	for _, n := range r.Names() {
		out = append(out, r.skills[n])
	}
	return out
}

// Execute validates argsJSON against the skill's schema and runs it.
// An empty argsJSON is treated as {}.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	s := r.skills[name]
	if s == nil {
		return "", &ErrSkillUnavailable{Name: name}
	}

	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(argsJSON))
	if err != nil {
		return "", &ArgumentError{Skill: name, Err: err}
	}
	if err := s.schema.Validate(inst); err != nil {
		return "", &ArgumentError{Skill: name, Err: err}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", &ArgumentError{Skill: name, Err: err}
	}

	r.bus.Emit(events.SourceSkills, events.KindSkillCall, map[string]any{"skill": name})
	start := time.Now()
	out, err := s.Handler(ctx, args)
	elapsed := time.Since(start)

	r.bus.Emit(events.SourceSkills, events.KindSkillDone, map[string]any{
		"skill":       name,
		"ok":          err == nil,
		"duration_ms": elapsed.Milliseconds(),
	})
	if err != nil {
		r.logger.Warn("skill failed", "skill", name, "error", err, "elapsed", elapsed)
		return "", err
	}
	r.logger.Debug("skill done", "skill", name, "elapsed", elapsed)
	return out, nil
}

// stringArg returns args[key] as a trimmed string.
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// intArg returns args[key] as an int, or def when absent.
func intArg(args map[string]any, key string, def int) int {
	if f, ok := args[key].(float64); ok {
		return int(f)
	}
	return def
}
