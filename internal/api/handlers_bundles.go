package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/pdfdrop/internal/bundle"
	"github.com/dgallion1/pdfdrop/internal/pipeline"
	"github.com/dgallion1/pdfdrop/internal/publish"
	"github.com/dgallion1/pdfdrop/internal/render"
	"github.com/dgallion1/pdfdrop/internal/workspace"
)

const (
	docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	run := s.runner.GetRun(chi.URLParam(r, "runID"))
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

type tableView struct {
	ID     string
	Data   *render.Table
	CSVURL string
	PNGURL string
}

type figureView struct {
	ID  string
	URL string
}

func (s *Server) handleBundlePage(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	b, err := s.ws.Load(runID)
	if err != nil {
		s.bundleError(w, err)
		return
	}

	textHTML, err := render.Markdown(b.Text())
	if err != nil {
		s.log.Warn("render markdown", "run_id", runID, "error", err)
		textHTML = template.HTML(template.HTMLEscapeString(b.Text()))
	}

	base := "/api/bundles/" + runID
	var tables []tableView
	for _, t := range b.Tables() {
		if t.CSV == nil && t.PNG == nil {
			continue
		}
		tv := tableView{ID: t.ID}
		if t.CSV != nil {
			tv.CSVURL = base + "/" + bundle.TableFile(t.ID, ".csv")
			if parsed, err := render.ParseCSV(t.CSV); err == nil {
				tv.Data = parsed
			}
		}
		if t.PNG != nil {
			tv.PNGURL = base + "/" + bundle.TableFile(t.ID, ".png")
		}
		tables = append(tables, tv)
	}
	var figures []figureView
	for _, f := range b.Figures() {
		if f.PNG == nil {
			continue
		}
		figures = append(figures, figureView{ID: f.ID, URL: base + "/" + bundle.FigureFile(f.ID)})
	}

	var run *pipeline.RunSnapshot
	title := "Extraction " + runID
	if rr := s.runner.GetRun(runID); rr != nil {
		snap := rr.Snapshot()
		run = &snap
		if snap.Filename != "" {
			title = snap.Filename
		}
	}

	pages, _ := b.Manifest().PageCount()

	s.renderPage(w, "bundle.html", map[string]any{
		"Title":    title,
		"Pages":    pages,
		"Run":      run,
		"Text":     b.Text(),
		"TextHTML": textHTML,
		"Tables":   tables,
		"Figures":  figures,
		"APIBase":  base,
		"DOCXURL":  base + "/export/text.docx",
		"XLSXURL":  base + "/export/tables.xlsx",
	})
}

func (s *Server) handleGetText(w http.ResponseWriter, r *http.Request) {
	text, err := s.ws.Text(chi.URLParam(r, "runID"))
	if err != nil {
		s.bundleError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(text))
}

// handlePutText accepts the new text either as the raw body or as
// {"text": "..."} when sent as JSON.
func (s *Server) handlePutText(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	text := string(body)
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		var req struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.Text == nil {
			jsonError(w, `expected {"text": "..."}`, http.StatusBadRequest)
			return
		}
		text = *req.Text
	}

	if err := s.ws.ReplaceText(r.Context(), chi.URLParam(r, "runID"), text); err != nil {
		s.bundleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "chars": len(text)})
}

func (s *Server) handleGetStructured(w http.ResponseWriter, r *http.Request) {
	data, err := s.ws.Structured(chi.URLParam(r, "runID"))
	if err != nil {
		s.bundleError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handlePutStructured(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := s.ws.ReplaceStructured(r.Context(), chi.URLParam(r, "runID"), body); err != nil {
		s.bundleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAsset serves tables/{file} and figures/{file}.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	dir := path.Base(path.Dir(r.URL.Path))
	p, err := s.ws.AssetPath(chi.URLParam(r, "runID"), dir, chi.URLParam(r, "file"))
	if err != nil {
		s.bundleError(w, err)
		return
	}
	http.ServeFile(w, r, p)
}

func (s *Server) handleExportDOCX(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	text, err := s.ws.Text(runID)
	if err != nil {
		s.bundleError(w, err)
		return
	}
	title := "Extracted text"
	if run := s.runner.GetRun(runID); run != nil && run.Filename != "" {
		title = strings.TrimSuffix(run.Filename, path.Ext(run.Filename))
	}

	var buf bytes.Buffer
	if err := render.WriteDOCX(&buf, title, text); err != nil {
		s.log.Error("export docx", "run_id", runID, "error", err)
		jsonError(w, "failed to build document", http.StatusInternalServerError)
		return
	}
	attachment(w, docxContentType, "text.docx", buf.Bytes())
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	b, err := s.ws.Load(runID)
	if err != nil {
		s.bundleError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := render.WriteXLSX(&buf, b.Tables()); err != nil {
		if errors.Is(err, render.ErrNoTables) {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		s.log.Error("export xlsx", "run_id", runID, "error", err)
		jsonError(w, "failed to build workbook", http.StatusInternalServerError)
		return
	}
	attachment(w, xlsxContentType, "tables.xlsx", buf.Bytes())
}

func (s *Server) handleRepublish(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	m, err := s.runner.Republish(r.Context(), runID)
	switch {
	case errors.Is(err, pipeline.ErrNoPublisher):
		jsonError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, workspace.ErrNotFound):
		jsonError(w, "bundle not found", http.StatusNotFound)
		return
	case err != nil && m == nil:
		writeJSON(w, http.StatusBadGateway, map[string]any{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, republishResponse(m, err))
}

func republishResponse(m *publish.Manifest, err error) map[string]any {
	resp := map[string]any{
		"status":         "success",
		"message":        "Bundle published",
		"dropbox_folder": m.Folder,
		"files_uploaded": len(m.Entries),
		"shared_link":    m.SharedLink,
		"view_link":      m.ViewLink,
	}
	if err != nil {
		resp["message"] = "Bundle published with failures"
		resp["dropbox_error"] = err.Error()
		resp["failed_uploads"] = m.Failures
	}
	return resp
}

// readBody reads a request body bounded by the upload limit.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		jsonError(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (s *Server) bundleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		jsonError(w, "bundle not found", http.StatusNotFound)
	case errors.Is(err, workspace.ErrInvalidStructured):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error("bundle request failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func attachment(w http.ResponseWriter, contentType, name string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(data)
}
