package skills

import (
	"github.com/nugget/jarvis-core/internal/fetch"
)

// Deps holds what the built-in skills act on. A nil field leaves its
// skills out.
type Deps struct {
	Workspace  *Workspace
	Opener     *AppOpener
	Clipboard  Clipboard
	Web        *fetch.Reader
	SystemInfo *SystemInfo
	Calculator *Calculator
}

// RegisterBuiltins registers every skill whose dependency is present.
func RegisterBuiltins(r *Registry, d Deps) error {
	var all []*Skill
	if d.Workspace != nil {
		all = append(all, FileSkills(d.Workspace)...)
	}
	if d.Opener != nil {
		all = append(all, d.Opener.Skill())
	}
	if d.Clipboard != nil {
		all = append(all, ClipboardSkills(d.Clipboard)...)
	}
	if d.Web != nil {
		all = append(all, WebSkills(d.Web)...)
	}
	if d.SystemInfo != nil {
		all = append(all, d.SystemInfo.Skills()...)
	}
	if d.Calculator != nil {
		all = append(all, d.Calculator.Skill())
	}
	for _, s := range all {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}
