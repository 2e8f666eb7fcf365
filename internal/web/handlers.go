package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/classkit/roster/internal/importer"
	"github.com/classkit/roster/internal/logging"
	"github.com/go-chi/chi/v5"
)

// handleStartImport accepts a multipart upload and starts a parse job.
// Form fields: file (the workbook), mode (import|edit), standard_id,
// division_id. Responds with the job id for progress polling.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(importer.MaxFileSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	mode := importer.Mode(r.FormValue("mode"))
	if mode == "" {
		mode = importer.ModeImport
	}
	if mode != importer.ModeImport && mode != importer.ModeEdit {
		writeError(w, http.StatusBadRequest, "mode must be \"import\" or \"edit\"")
		return
	}

	standardID := strings.TrimSpace(r.FormValue("standard_id"))
	divisionID := strings.TrimSpace(r.FormValue("division_id"))
	if standardID == "" || divisionID == "" {
		writeError(w, http.StatusBadRequest, "standard_id and division_id are required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file upload")
		return
	}
	defer file.Close()

	if header.Size > importer.MaxFileSize {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %dMB limit", importer.MaxFileSize/(1024*1024)))
		return
	}
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".xlsx") {
		writeError(w, http.StatusBadRequest, "only .xlsx files are supported")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, importer.MaxFileSize+1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}
	if int64(len(data)) > importer.MaxFileSize {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %dMB limit", importer.MaxFileSize/(1024*1024)))
		return
	}

	log := logging.WithFields(r.Context(), "division_id", divisionID, "file", header.Filename)

	jobID, err := s.service.Start(r.Context(), mode, standardID, divisionID, header.Filename, data)
	if err != nil {
		if errors.Is(err, importer.ErrTooManyImports) {
			w.Header().Set("Retry-After", "30")
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		log.Error("start import job", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info("import job started", "job_id", jobID, "mode", mode)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"jobId": jobID})
}

// handleProgress streams job progress as server-sent events until the job
// reaches a terminal phase or the client disconnects.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	updates, err := s.service.SubscribeProgress(jobID)
	if err != nil {
		writeJobError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case p, open := <-updates:
			if !open {
				return
			}
			payload, err := json.Marshal(p)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			if p.Phase.Terminal() {
				return
			}
		}
	}
}

// handlePreview returns the parsed batch awaiting confirmation.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	importBatch, editBatch, progress, err := s.service.Preview(jobID)
	if err != nil {
		writeJobError(w, err)
		return
	}

	resp := map[string]any{
		"jobId": jobID,
		"mode":  progress.Mode,
		"phase": progress.Phase,
	}
	if importBatch != nil {
		resp["import"] = importBatch
	}
	if editBatch != nil {
		resp["edit"] = editBatch
	}
	writeJSON(w, resp)
}

// handleConfirm moves a previewed job into the applying phase.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if err := s.service.Confirm(jobID); err != nil {
		writeJobError(w, err)
		return
	}
	logging.FromContext(r.Context()).Info("import job confirmed", "job_id", jobID)
	writeJSON(w, map[string]string{"jobId": jobID, "status": "applying"})
}

// handleCancel aborts a parsing or previewed job.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if err := s.service.Cancel(jobID); err != nil {
		writeJobError(w, err)
		return
	}
	logging.FromContext(r.Context()).Info("import job cancelled", "job_id", jobID)
	writeJSON(w, map[string]string{"jobId": jobID, "status": "cancelled"})
}

// handleResult blocks until the job settles and returns the final outcome.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	result, err := s.service.Result(r.Context(), jobID)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeJobError(w, err)
		return
	}
	writeJSON(w, result)
}

// handleHistory lists past import jobs for a division, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "import history is not enabled")
		return
	}

	divisionID := chi.URLParam(r, "divisionID")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	entries, err := s.history.ListByDivision(r.Context(), divisionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, map[string]any{"divisionId": divisionID, "jobs": entries})
}

// writeJobError maps service errors onto HTTP status codes.
func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, importer.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, importer.ErrWrongPhase):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
