package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/invoice-pipeline/internal/document"
	"github.com/jonathan/invoice-pipeline/internal/store"
	"github.com/jonathan/invoice-pipeline/internal/types"
	"github.com/jonathan/invoice-pipeline/internal/worker"
)

// createInvoiceResponse is returned when an upload has been accepted.
type createInvoiceResponse struct {
	RunID  uuid.UUID `json:"run_id"`
	Status string    `json:"status"`
}

// invoiceStatusResponse combines run state with the result once available.
type invoiceStatusResponse struct {
	RunID       uuid.UUID        `json:"run_id"`
	Document    string           `json:"document"`
	Status      string           `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Result      *types.RunResult `json:"result,omitempty"`
}

// handleCreateInvoice accepts a multipart upload, stages the file on disk
// and queues a pipeline run. Responds 202 with the run id.
func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart request: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "missing form field: file")
		return
	}
	defer file.Close()

	if !document.IsSupported(header.Filename) {
		s.errorResponse(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("unsupported file type: %s", filepath.Ext(header.Filename)))
		return
	}

	runID := uuid.New()
	dest := filepath.Join(s.uploadDir, runID.String()+filepath.Ext(header.Filename))
	if err := saveUpload(file, dest); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("failed to store upload: %v", err))
		return
	}

	run := &types.PipelineRun{
		ID:        runID,
		Document:  dest,
		Status:    types.RunStatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateRun(r.Context(), run); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("failed to create run: %v", err))
		return
	}

	if err := s.pool.Submit(run); err != nil {
		// The run record stays around so the rejection is observable.
		run.Status = types.RunStatusFailed
		now := time.Now()
		run.CompletedAt = &now
		_ = s.store.UpdateRun(r.Context(), run)
		if errors.Is(err, worker.ErrQueueFull) {
			s.errorResponse(w, http.StatusServiceUnavailable, "task queue is full, retry later")
			return
		}
		s.errorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.jsonResponse(w, http.StatusAccepted, createInvoiceResponse{RunID: runID, Status: run.Status})
}

// handleGetInvoice returns the run status and, when terminal, its result.
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "run not found")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := invoiceStatusResponse{
		RunID:       run.ID,
		Document:    filepath.Base(run.Document),
		Status:      run.Status,
		CreatedAt:   run.CreatedAt,
		CompletedAt: run.CompletedAt,
	}
	if run.Terminal() {
		if result, err := s.store.GetResult(r.Context(), id); err == nil {
			resp.Result = result
		}
	}

	s.jsonResponse(w, http.StatusOK, resp)
}

// handleListInvoices returns all runs, newest first.
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]invoiceStatusResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, invoiceStatusResponse{
			RunID:       run.ID,
			Document:    filepath.Base(run.Document),
			Status:      run.Status,
			CreatedAt:   run.CreatedAt,
			CompletedAt: run.CompletedAt,
		})
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": out})
}

// handleDeleteInvoice cancels an in-flight run and removes its stored
// state and staged document.
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "run not found")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.pool.Cancel(id)
	_ = os.Remove(run.Document)

	if err := s.store.DeleteRun(r.Context(), id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func saveUpload(src io.Reader, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		os.Remove(dest)
		return err
	}
	return nil
}
