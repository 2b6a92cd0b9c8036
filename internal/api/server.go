package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/pdfdrop/internal/config"
	"github.com/dgallion1/pdfdrop/internal/extract"
	"github.com/dgallion1/pdfdrop/internal/pipeline"
	"github.com/dgallion1/pdfdrop/internal/workspace"
)

// Server is the HTTP front end: the upload page, the upload endpoint and
// the bundle viewer/editor.
type Server struct {
	router chi.Router
	runner *pipeline.Runner
	ws     *workspace.Workspace
	stats  *extract.ServiceStats
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server. stats may be nil.
func NewServer(runner *pipeline.Runner, ws *workspace.Workspace, stats *extract.ServiceStats, log *slog.Logger, cfg config.Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = config.DefaultMaxUploadBytes
	}
	s := &Server{
		runner: runner,
		ws:     ws,
		stats:  stats,
		log:    log,
		cfg:    cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Post("/upload", s.handleUpload)
	r.Get("/bundles/{runID}", s.handleBundlePage)

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs/{runID}", s.handleRunStatus)
		r.Get("/stats/extract", s.handleExtractStats)

		r.Route("/bundles/{runID}", func(r chi.Router) {
			r.Get("/text", s.handleGetText)
			r.Put("/text", s.handlePutText)
			r.Get("/structured", s.handleGetStructured)
			r.Put("/structured", s.handlePutStructured)
			r.Get("/tables/{file}", s.handleAsset)
			r.Get("/figures/{file}", s.handleAsset)
			r.Get("/export/text.docx", s.handleExportDOCX)
			r.Get("/export/tables.xlsx", s.handleExportXLSX)
			r.Post("/publish", s.handleRepublish)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
