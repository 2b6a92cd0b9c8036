package api

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("").ParseFS(templateFS, "templates/*.html"))

// renderPage executes a template into a buffer first so a failure still
// produces a clean error response.
func (s *Server) renderPage(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		s.log.Error("render page", "template", name, "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

type capabilityOption struct {
	Value string
	Label string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, "index.html", map[string]any{
		"Capabilities": []capabilityOption{
			{Value: "text", Label: "Text"},
			{Value: "tables", Label: "Tables"},
			{Value: "figures", Label: "Figures"},
		},
		"MaxUploadMB": s.cfg.MaxUploadBytes >> 20,
	})
}
