package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/jarvis-core/internal/resource"
)

// ModelResponse is the body of GET /v1/model.
type ModelResponse struct {
	Artifact  resource.Artifact `json:"artifact"`
	ModelDir  string            `json:"model_dir"`
	Acquiring bool              `json:"acquiring"`
}

func (s *Server) handleModel(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Model == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "model resolver not configured")
		return
	}
	writeJSON(w, http.StatusOK, ModelResponse{
		Artifact:  s.cfg.Model.Status(s.cfg.Settings(), s.cfg.Env),
		ModelDir:  s.cfg.Model.ModelDir(s.cfg.Env),
		Acquiring: s.acquiring.Load(),
	}, s.logger)
}

// handleAcquire starts an acquisition in the background and answers 202,
// or with ?wait=true blocks and answers with the final artifact. A model
// that is already present is reported with 200 either way.
func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Model == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "model resolver not configured")
		return
	}
	settings := s.cfg.Settings()
	if a := s.cfg.Model.Status(settings, s.cfg.Env); a.Status != resource.StatusMissing {
		writeJSON(w, http.StatusOK, ModelResponse{Artifact: a, ModelDir: s.cfg.Model.ModelDir(s.cfg.Env)}, s.logger)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		a := s.cfg.Model.GetOrAcquire(r.Context(), settings, s.cfg.Env)
		code := http.StatusOK
		if !a.Ready() {
			code = http.StatusBadGateway
			if a.Status == resource.StatusInvalid {
				code = http.StatusUnprocessableEntity
			}
		}
		writeJSON(w, code, ModelResponse{Artifact: a, ModelDir: s.cfg.Model.ModelDir(s.cfg.Env)}, s.logger)
		return
	}

	started := s.acquiring.CompareAndSwap(false, true)
	if started {
		go func() {
			defer s.acquiring.Store(false)
			s.cfg.Model.GetOrAcquire(s.base, settings, s.cfg.Env)
		}()
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"started":   started,
		"acquiring": true,
	}, s.logger)
}

// AcquisitionView is one row of GET /v1/model/acquisitions.
type AcquisitionView struct {
	JobID     string `json:"job_id"`
	Variant   string `json:"variant,omitempty"`
	Remote    string `json:"remote"`
	Outcome   string `json:"outcome"`
	Path      string `json:"path,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Bytes     int64  `json:"bytes"`
	ElapsedMS int64  `json:"elapsed_ms"`
	At        string `json:"at"`
}

func (s *Server) handleAcquisitions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ledger == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "acquisition ledger not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.cfg.Ledger.Recent(limit)
	if err != nil {
		s.logger.Error("ledger query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "ledger query failed")
		return
	}
	out := make([]AcquisitionView, 0, len(entries))
	for _, e := range entries {
		out = append(out, AcquisitionView{
			JobID:     e.JobID,
			Variant:   e.Variant,
			Remote:    e.Remote,
			Outcome:   e.Outcome,
			Path:      e.Path,
			Reason:    e.Reason,
			Bytes:     e.Bytes,
			ElapsedMS: e.Elapsed.Milliseconds(),
			At:        e.At.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"acquisitions": out}, s.logger)
}
