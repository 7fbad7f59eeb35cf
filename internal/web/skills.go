package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/nugget/jarvis-core/internal/skills"
)

// maxSkillArgs bounds a skill call's request body.
const maxSkillArgs = 1 << 20

func (s *Server) handleSkillList(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Skills == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "skills not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": s.cfg.Skills.List()}, s.logger)
}

// handleSkillCall runs a skill with the request body as its JSON
// arguments.
func (s *Server) handleSkillCall(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Skills == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "skills not configured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSkillArgs+1))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "read body: %v", err)
		return
	}
	if len(body) > maxSkillArgs {
		s.errorResponse(w, http.StatusRequestEntityTooLarge, "arguments exceed %d bytes", maxSkillArgs)
		return
	}

	name := r.PathValue("name")
	result, err := s.cfg.Skills.Execute(r.Context(), name, string(body))
	if err != nil {
		var unavailable *skills.ErrSkillUnavailable
		var argErr *skills.ArgumentError
		switch {
		case errors.As(err, &unavailable):
			s.errorResponse(w, http.StatusNotFound, "%v", err)
		case errors.As(err, &argErr):
			s.errorResponse(w, http.StatusBadRequest, "%v", err)
		default:
			s.errorResponse(w, http.StatusInternalServerError, "%v", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"skill": name, "result": result}, s.logger)
}
