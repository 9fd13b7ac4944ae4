package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"labpipe/internal/domain"
	"labpipe/internal/kinderrors"
	"labpipe/internal/objectstore"
)

type uploadResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
}

// handleUpload validates the file (size + MIME), puts it via the Storage
// Gateway, creates the Document record, and spawns the orchestrator.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, s.logger, kinderrors.New(kinderrors.InputInvalid, "httpapi.handleUpload", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, s.logger, kinderrors.New(kinderrors.InputInvalid, "httpapi.handleUpload", err))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	mimeKind, ok := mimeKindFromContentType(contentType)
	if !ok {
		writeError(w, s.logger, kinderrors.New(kinderrors.InputInvalid, "httpapi.handleUpload", nil))
		return
	}

	body, err := io.ReadAll(file)
	if err != nil {
		writeError(w, s.logger, kinderrors.New(kinderrors.InputInvalid, "httpapi.handleUpload", err))
		return
	}

	if mimeKind == domain.MimePDF {
		if err := objectstore.ValidatePDF(body); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}

	storageRef, fetchURL, err := s.storage.Put(r.Context(), body, header.Filename, contentType)
	if err != nil {
		writeError(w, s.logger, kinderrors.New(kinderrors.StorageUnavailable, "httpapi.handleUpload", err))
		return
	}

	documentID := newDocumentID()
	doc, err := s.store.CreateDocument(r.Context(), documentID, header.Filename, mimeKind, storageRef, fetchURL)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.orch.Start(doc.ID, doc.MimeKind)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(uploadResponse{DocumentID: doc.ID, Filename: doc.Filename})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDelete cancels any live orchestrator task, deletes the record, and
// best-effort deletes the underlying object — storage cleanup never blocks
// the record delete (spec.md §7).
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.orch.Cancel(id)

	if err := s.store.DeleteDocument(r.Context(), id); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.storage.Delete(r.Context(), doc.StorageRef); err != nil {
		s.logger.Warn("best-effort object delete failed", "document_id", id, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Cancel any still-live task before the reset write lands, not after —
	// otherwise a live task's in-flight progress write can race the reset
	// and strand the document past the new task's first, lower-progress
	// write (store.go's decrease check then rejects it).
	s.orch.Cancel(id)

	if err := s.store.ResetForRetry(r.Context(), id); err != nil {
		writeError(w, s.logger, err)
		return
	}

	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.orch.Start(id, doc.MimeKind)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetDocument(r.Context(), id); err != nil {
		writeError(w, s.logger, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if err := s.sse.Stream(r.Context(), id, w, flusher.Flush); err != nil {
		s.logger.Warn("sse stream ended with error", "document_id", id, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
