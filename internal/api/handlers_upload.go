package api

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dgallion1/pdfdrop/internal/bundle"
	"github.com/dgallion1/pdfdrop/internal/extract"
	"github.com/dgallion1/pdfdrop/internal/pdfcheck"
	"github.com/dgallion1/pdfdrop/internal/pipeline"
)

// uploadError writes the error shape the upload page understands.
func uploadError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]any{"status": "error", "message": msg})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Extra 1MB for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			uploadError(w, fmt.Sprintf("File exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		uploadError(w, "No file selected", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		uploadError(w, "No file selected", http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		uploadError(w, "Invalid file type. Please upload a PDF file.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		uploadError(w, "Failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		uploadError(w, fmt.Sprintf("File exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	info, err := pdfcheck.Inspect(data)
	if err != nil {
		uploadError(w, "Invalid PDF file format", http.StatusBadRequest)
		return
	}

	caps, err := extract.ParseCapabilities(r.MultipartForm.Value["capabilities"])
	if err != nil {
		uploadError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(caps) == 0 {
		caps = extract.AllCapabilities
	}

	s.log.Info("upload accepted", "filename", filename, "bytes", len(data), "pages", info.Pages)

	res, err := s.runner.Run(r.Context(), pipeline.Input{
		Filename:     filename,
		PDF:          data,
		Capabilities: caps,
	})
	if err != nil {
		resp := map[string]any{
			"status":  "error",
			"message": "PDF processing failed: " + err.Error(),
		}
		var runErr *pipeline.RunError
		if errors.As(err, &runErr) {
			resp["run_id"] = runErr.RunID
		}
		writeJSON(w, errorStatus(err), resp)
		return
	}

	writeJSON(w, http.StatusOK, s.uploadResponse(res, info))
}

func (s *Server) uploadResponse(res *pipeline.Result, info pdfcheck.Info) map[string]any {
	resp := map[string]any{
		"status":        "success",
		"message":       "PDF processed successfully",
		"run_id":        res.Run.ID,
		"run_status":    res.Run.Status,
		"output_folder": s.ws.Dir(res.Run.ID),
		"view_url":      "/bundles/" + res.Run.ID,
		"pages":         info.Pages,
		"counts":        res.Run.Counts,
	}

	m := res.Publish
	if m != nil {
		resp["dropbox_folder"] = m.Folder
		resp["shared_link"] = m.SharedLink
		resp["view_link"] = m.ViewLink
		resp["files_uploaded"] = len(m.Entries)
		resp["clickable_link"] = cmp.Or(m.ViewLink, m.SharedLink)
	}

	switch {
	case res.PublishErr != nil:
		// Extraction succeeded; the bundle is still viewable locally.
		resp["message"] = "PDF processed successfully, but upload failed"
		resp["dropbox_error"] = res.PublishErr.Error()
		if m != nil && len(m.Failures) > 0 {
			resp["failed_uploads"] = m.Failures
		}
	case m != nil:
		resp["message"] = "PDF processed and uploaded successfully!"
	}
	return resp
}

// errorStatus maps a run failure to an HTTP status.
func errorStatus(err error) int {
	var unpackErr *bundle.UnpackError
	switch {
	case errors.Is(err, extract.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &unpackErr):
		return http.StatusBadGateway
	}
	switch extract.KindOf(err) {
	case extract.KindServiceRejected:
		return http.StatusUnprocessableEntity
	case extract.KindAuth, extract.KindTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func sanitizeFilename(name string) string {
	// Browsers on Windows may send the full client path.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed.pdf"
	}
	return name
}
