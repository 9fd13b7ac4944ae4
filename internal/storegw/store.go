// Package storegw implements the Record Store Gateway (C2): CRUD on the
// Document aggregate and its AnalysisResult/HealthMarker children, with the
// atomic status/progress updates the orchestrator and watchdog rely on.
package storegw

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"labpipe/internal/data"
	"labpipe/internal/domain"
	"labpipe/internal/kinderrors"
)

// Store is the Record Store Gateway, backed by SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New wraps an opened, schema-initialized database.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// CreateDocument inserts a new Document in status=processing,
// stage=ocr_extraction, progress=0. Idempotent: calling it again with an id
// whose row already exists inserts nothing and returns the stored Document
// as it is now (the upload handler calls this once per freshly minted id;
// retries go through ResetForRetry).
func (s *Store) CreateDocument(ctx context.Context, id string, filename string, mimeKind domain.MimeKind, storageRef, fetchURL string) (domain.Document, error) {
	docID, err := data.ParseID(id)
	if err != nil {
		return domain.Document{}, kinderrors.New(kinderrors.InputInvalid, "storegw.CreateDocument", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, mime_kind, uploaded_at, status, processing_stage, progress, storage_ref, fetch_url)
		VALUES (?, ?, ?, ?, 'processing', 'ocr_extraction', 0, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		docID, filename, string(mimeKind), now, storageRef, fetchURL)
	if err != nil {
		return domain.Document{}, kinderrors.New(kinderrors.RecordStoreUnavailable, "storegw.CreateDocument", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.GetDocument(ctx, id)
	}

	return domain.Document{
		ID:              id,
		Filename:        filename,
		MimeKind:        mimeKind,
		UploadedAt:      now,
		StorageRef:      storageRef,
		FetchURL:        fetchURL,
		Status:          domain.StatusProcessing,
		ProcessingStage: domain.StageOCRExtraction,
		Progress:        0,
	}, nil
}

// UpdateProgress sets stage/progress for a processing Document. It rejects a
// decrease with InvariantViolation — the only way progress legitimately
// drops is ResetForRetry's own dedicated UPDATE, which writes status and
// error state this method never touches and so does not go through it.
func (s *Store) UpdateProgress(ctx context.Context, documentID string, stage domain.Stage, progress int) error {
	docID, err := data.ParseID(documentID)
	if err != nil {
		return kinderrors.New(kinderrors.InputInvalid, "storegw.UpdateProgress", err)
	}

	current, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if progress < current.Progress {
		return kinderrors.New(kinderrors.InvariantViolation, "storegw.UpdateProgress",
			fmt.Errorf("progress would decrease from %d to %d", current.Progress, progress))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET processing_stage = ?, progress = ? WHERE id = ? AND status = 'processing'`,
		string(stage), progress, docID)
	if err != nil {
		return kinderrors.New(kinderrors.RecordStoreUnavailable, "storegw.UpdateProgress", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kinderrors.New(kinderrors.NotFound, "storegw.UpdateProgress", nil)
	}

	s.appendTrace(ctx, documentID, stage, progress, "")
	return nil
}

// WriteAnalysis persists the AnalysisResult and its markers and flips the
// Document to complete/complete/100 in one transaction, so later readers
// observe either all of it or none of it.
func (s *Store) WriteAnalysis(ctx context.Context, documentID, rawText string, insights domain.HealthInsights) error {
	docID, err := data.ParseID(documentID)
	if err != nil {
		return kinderrors.New(kinderrors.InputInvalid, "storegw.WriteAnalysis", err)
	}

	err = data.RunTransaction(s.db, func(tx *sql.Tx) error {
		analysisID := data.NewID()

		findings, _ := json.Marshal(insights.KeyFindings)
		recs, _ := json.Marshal(insights.Recommendations)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO analysis_results (id, document_id, summary, key_findings, recommendations, disclaimer, document_type, test_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			analysisID, docID, insights.Summary, string(findings), string(recs), insights.Disclaimer,
			insights.Data.DocumentType, insights.Data.TestDate); err != nil {
			return fmt.Errorf("insert analysis_results: %w", err)
		}

		for i, m := range insights.Data.Markers {
			markerID := data.NewID()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO health_markers (id, analysis_id, marker, value, unit, reference_range, ordinal)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				markerID, analysisID, m.Marker, m.Value, m.Unit, m.ReferenceRange, i); err != nil {
				return fmt.Errorf("insert health_markers: %w", err)
			}
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE documents SET status = 'complete', processing_stage = 'complete', progress = 100,
				processed_at = ?, raw_text = ? WHERE id = ?`,
			now, rawText, docID)
		if err != nil {
			return fmt.Errorf("update documents: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return kinderrors.New(kinderrors.NotFound, "storegw.WriteAnalysis", nil)
		}
		return nil
	})
	if err != nil {
		if kinderrors.KindOf(err) != "" {
			return err
		}
		return kinderrors.New(kinderrors.RecordStoreUnavailable, "storegw.WriteAnalysis", err)
	}

	s.appendTrace(ctx, documentID, domain.StageComplete, 100, "")
	return nil
}

// MarkError sets status=error and error_message, leaving stage/progress as
// they were at the moment of failure.
func (s *Store) MarkError(ctx context.Context, documentID, message string) error {
	docID, err := data.ParseID(documentID)
	if err != nil {
		return kinderrors.New(kinderrors.InputInvalid, "storegw.MarkError", err)
	}
	if message == "" {
		message = "unknown error"
	}

	res, err := s.db.ExecContext(ctx, `UPDATE documents SET status = 'error', error_message = ? WHERE id = ?`, message, docID)
	if err != nil {
		return kinderrors.New(kinderrors.RecordStoreUnavailable, "storegw.MarkError", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kinderrors.New(kinderrors.NotFound, "storegw.MarkError", nil)
	}

	s.appendTrace(ctx, documentID, domain.StageNone, -1, message)
	return nil
}

// ResetForRetry clears error state and restarts the stage/progress at
// ocr_extraction/0. Rejects complete documents with NotRetryable.
func (s *Store) ResetForRetry(ctx context.Context, documentID string) error {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status == domain.StatusComplete {
		return kinderrors.New(kinderrors.NotRetryable, "storegw.ResetForRetry", nil)
	}

	docID, _ := data.ParseID(documentID)
	_, err = s.db.ExecContext(ctx, `
		UPDATE documents SET status = 'processing', processing_stage = 'ocr_extraction', progress = 0,
			error_message = '', processed_at = NULL WHERE id = ?`, docID)
	if err != nil {
		return kinderrors.New(kinderrors.RecordStoreUnavailable, "storegw.ResetForRetry", err)
	}
	return nil
}

// ListDocuments returns every Document, most recently uploaded first.
func (s *Store) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, mime_kind, uploaded_at, status, processing_stage, progress,
			storage_ref, fetch_url, raw_text, error_message, processed_at
		FROM documents ORDER BY uploaded_at DESC`)
	if err != nil {
		return nil, kinderrors.New(kinderrors.RecordStoreUnavailable, "storegw.ListDocuments", err)
	}
	defer data.SafeClose(s.logger, rows, "storegw.ListDocuments rows")

	var docs []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, kinderrors.New(kinderrors.RecordStoreUnavailable, "storegw.ListDocuments", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// GetDocument fetches one Document by id, or NotFound.
func (s *Store) GetDocument(ctx context.Context, documentID string) (domain.Document, error) {
	docID, err := data.ParseID(documentID)
	if err != nil {
		return domain.Document{}, kinderrors.New(kinderrors.InputInvalid, "storegw.GetDocument", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, mime_kind, uploaded_at, status, processing_stage, progress,
			storage_ref, fetch_url, raw_text, error_message, processed_at
		FROM documents WHERE id = ?`, docID)

	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return domain.Document{}, kinderrors.New(kinderrors.NotFound, "storegw.GetDocument", nil)
	}
	if err != nil {
		return domain.Document{}, kinderrors.New(kinderrors.RecordStoreUnavailable, "storegw.GetDocument", err)
	}
	return d, nil
}

// DeleteDocument removes a Document and cascades to its AnalysisResult and
// HealthMarkers (via ON DELETE CASCADE).
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	docID, err := data.ParseID(documentID)
	if err != nil {
		return kinderrors.New(kinderrors.InputInvalid, "storegw.DeleteDocument", err)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID)
	if err != nil {
		return kinderrors.New(kinderrors.RecordStoreUnavailable, "storegw.DeleteDocument", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kinderrors.New(kinderrors.NotFound, "storegw.DeleteDocument", nil)
	}
	return nil
}

// FindStuck returns the ids of documents still processing whose stage/last
// progress write predates olderThan. Since SQLite has no per-row
// "updated_at" here, the watchdog passes olderThan against pipeline_trace's
// most recent entry per document; a document with no trace rows (crashed
// before its first write) is considered stuck if it was uploaded before
// olderThan.
func (s *Store) FindStuck(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id FROM documents d
		WHERE d.status = 'processing'
		AND COALESCE(
			(SELECT MAX(t.started_at) FROM pipeline_trace t WHERE t.document_id = d.id),
			d.uploaded_at
		) < ?`, olderThan)
	if err != nil {
		return nil, kinderrors.New(kinderrors.RecordStoreUnavailable, "storegw.FindStuck", err)
	}
	defer data.SafeClose(s.logger, rows, "storegw.FindStuck rows")

	var ids []string
	for rows.Next() {
		var id data.ID
		if err := rows.Scan(&id); err != nil {
			return nil, kinderrors.New(kinderrors.RecordStoreUnavailable, "storegw.FindStuck", err)
		}
		ids = append(ids, id.String())
	}
	return ids, rows.Err()
}

// GetAnalysis fetches the AnalysisResult and its markers for a document, if any.
func (s *Store) GetAnalysis(ctx context.Context, documentID string) (*domain.AnalysisResult, error) {
	docID, err := data.ParseID(documentID)
	if err != nil {
		return nil, kinderrors.New(kinderrors.InputInvalid, "storegw.GetAnalysis", err)
	}

	var analysisID data.ID
	var res domain.AnalysisResult
	var findingsJSON, recsJSON string
	var testDate sql.NullString

	row := s.db.QueryRowContext(ctx, `
		SELECT id, summary, key_findings, recommendations, disclaimer, document_type, test_date
		FROM analysis_results WHERE document_id = ?`, docID)
	if err := row.Scan(&analysisID, &res.Summary, &findingsJSON, &recsJSON, &res.Disclaimer, &res.DocumentType, &testDate); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, kinderrors.New(kinderrors.RecordStoreUnavailable, "storegw.GetAnalysis", err)
	}
	res.DocumentID = documentID
	if testDate.Valid {
		res.TestDate = &testDate.String
	}
	json.Unmarshal([]byte(findingsJSON), &res.KeyFindings)
	json.Unmarshal([]byte(recsJSON), &res.Recommendations)

	rows, err := s.db.QueryContext(ctx, `
		SELECT marker, value, unit, reference_range FROM health_markers
		WHERE analysis_id = ? ORDER BY ordinal ASC`, analysisID)
	if err != nil {
		return nil, kinderrors.New(kinderrors.RecordStoreUnavailable, "storegw.GetAnalysis", err)
	}
	defer data.SafeClose(s.logger, rows, "storegw.GetAnalysis marker rows")

	for rows.Next() {
		var m domain.HealthMarker
		if err := rows.Scan(&m.Marker, &m.Value, &m.Unit, &m.ReferenceRange); err != nil {
			return nil, kinderrors.New(kinderrors.RecordStoreUnavailable, "storegw.GetAnalysis", err)
		}
		res.Markers = append(res.Markers, m)
	}

	return &res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var d domain.Document
	var id data.ID
	var mimeKind, status, stage string
	var processedAt sql.NullTime

	err := row.Scan(&id, &d.Filename, &mimeKind, &d.UploadedAt, &status, &stage, &d.Progress,
		&d.StorageRef, &d.FetchURL, &d.RawText, &d.ErrorMessage, &processedAt)
	if err != nil {
		return domain.Document{}, err
	}

	d.ID = id.String()
	d.MimeKind = domain.MimeKind(mimeKind)
	d.Status = domain.Status(status)
	d.ProcessingStage = domain.Stage(stage)
	if processedAt.Valid {
		t := processedAt.Time
		d.ProcessedAt = &t
	}
	return d, nil
}

// appendTrace writes one observability row; failures are logged, never
// propagated — the trace table is ambient audit, not part of the aggregate.
func (s *Store) appendTrace(ctx context.Context, documentID string, stage domain.Stage, progress int, errMsg string) {
	docID, err := data.ParseID(documentID)
	if err != nil {
		return
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_trace (document_id, stage, progress, started_at, error)
		VALUES (?, ?, ?, ?, ?)`, docID, string(stage), progress, time.Now().UTC(), errMsg); err != nil {
		s.logger.Warn("failed to append pipeline trace", "document_id", documentID, "error", err)
	}
}
