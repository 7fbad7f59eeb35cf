package web

import (
	"html/template"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nugget/jarvis-core/internal/buildinfo"
	"github.com/nugget/jarvis-core/internal/ledger"
	"github.com/nugget/jarvis-core/internal/resource"
)

var dashboardTemplate = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"bytes": func(n int64) string { return humanize.IBytes(uint64(max(n, 0))) },
	"ago":   func(t time.Time) string { return humanize.Time(t) },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Jarvis</title>
<style>body{font-family:sans-serif;margin:2rem}td,th{padding:.2rem .8rem;text-align:left}.ready{color:#080}.missing{color:#a60}.invalid{color:#c00}</style>
</head>
<body>
<h1>Jarvis</h1>
<p>{{.Version}} &middot; up {{.Uptime}}</p>
<h2>Model</h2>
{{with .Artifact}}<p class="{{.Status}}"><strong>{{.Status}}</strong> {{.Path}}{{if .Variant}} ({{.Variant}}){{end}}</p>
{{if .Reason}}<p>{{.Reason}}</p>{{end}}{{end}}
<p>Model directory: {{.ModelDir}}</p>
{{if .Acquisitions}}<h2>Recent acquisitions</h2>
<table><tr><th>When</th><th>Remote</th><th>Outcome</th><th>Size</th></tr>
{{range .Acquisitions}}<tr><td>{{ago .At}}</td><td>{{.Remote}}</td><td>{{.Outcome}}</td><td>{{bytes .Bytes}}</td></tr>
{{end}}</table>{{end}}
{{if .Skills}}<h2>Skills</h2><ul>{{range .Skills}}<li>{{.}}</li>{{end}}</ul>{{end}}
</body>
</html>
`))

// DashboardData is the template context for the overview page.
type DashboardData struct {
	Version      string
	Uptime       time.Duration
	Artifact     *resource.Artifact
	ModelDir     string
	Acquisitions []ledger.Entry
	Skills       []string
}

// handleDashboard renders the overview page at "/". Every other
// unmatched path is a 404.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data := DashboardData{
		Version: buildinfo.Version,
		Uptime:  buildinfo.Uptime().Truncate(time.Second),
	}
	if s.cfg.Model != nil {
		a := s.cfg.Model.Status(s.cfg.Settings(), s.cfg.Env)
		data.Artifact = &a
		data.ModelDir = s.cfg.Model.ModelDir(s.cfg.Env)
	}
	if s.cfg.Ledger != nil {
		if entries, err := s.cfg.Ledger.Recent(5); err == nil {
			data.Acquisitions = entries
		} else {
			s.logger.Warn("ledger query failed", "error", err)
		}
	}
	if s.cfg.Skills != nil {
		data.Skills = s.cfg.Skills.Names()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, data); err != nil {
		s.logger.Error("template render failed", "error", err)
	}
}
