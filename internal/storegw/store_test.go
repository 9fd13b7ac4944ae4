package storegw

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"labpipe/internal/data"
	"labpipe/internal/domain"
	"labpipe/internal/kinderrors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := data.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := InitSchema(db); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateDocumentStartsAtOCRExtractionZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, data.NewID().String(), "report.pdf", domain.MimePDF, "ref", "http://fetch.invalid/report.pdf")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.Status != domain.StatusProcessing || doc.ProcessingStage != domain.StageOCRExtraction || doc.Progress != 0 {
		t.Fatalf("unexpected initial state: %+v", doc)
	}
}

func TestUpdateProgressRejectsDecrease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, data.NewID().String(), "report.pdf", domain.MimePDF, "ref", "http://fetch.invalid/report.pdf")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := s.UpdateProgress(ctx, doc.ID, domain.StageAIAnalysis, 50); err != nil {
		t.Fatalf("UpdateProgress to 50: %v", err)
	}

	err = s.UpdateProgress(ctx, doc.ID, domain.StageOCRExtraction, 10)
	if !kinderrors.Is(err, kinderrors.InvariantViolation) {
		t.Fatalf("expected InvariantViolation for progress decrease, got %v", err)
	}
}

func TestWriteAnalysisFlipsToCompleteAndPersistsMarkers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, data.NewID().String(), "report.pdf", domain.MimePDF, "ref", "http://fetch.invalid/report.pdf")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	insights := domain.HealthInsights{
		Data: domain.HealthDataExtraction{
			Markers:      []domain.HealthMarker{{Marker: "Hemoglobin", Value: "14.5", Unit: "g/dL", ReferenceRange: "13.5-17.5"}},
			DocumentType: "Blood Test Report",
		},
		Summary:         "All values normal.",
		KeyFindings:     []string{"Hemoglobin is normal"},
		Recommendations: []string{"Routine follow-up"},
		Disclaimer:      "This is not professional medical advice.",
	}
	if err := s.WriteAnalysis(ctx, doc.ID, "raw ocr text", insights); err != nil {
		t.Fatalf("WriteAnalysis: %v", err)
	}

	got, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != domain.StatusComplete || got.ProcessingStage != domain.StageComplete || got.Progress != 100 {
		t.Fatalf("expected complete/complete/100, got %+v", got)
	}
	if got.ProcessedAt == nil {
		t.Error("expected processed_at to be set")
	}

	analysis, err := s.GetAnalysis(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetAnalysis: %v", err)
	}
	if analysis == nil || len(analysis.Markers) != 1 || analysis.Markers[0].Marker != "Hemoglobin" {
		t.Fatalf("analysis markers = %+v", analysis)
	}
}

func TestResetForRetryRejectsCompleteDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, data.NewID().String(), "report.pdf", domain.MimePDF, "ref", "http://fetch.invalid/report.pdf")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	insights := domain.HealthInsights{Summary: "ok", Disclaimer: "not professional medical advice"}
	if err := s.WriteAnalysis(ctx, doc.ID, "raw", insights); err != nil {
		t.Fatalf("WriteAnalysis: %v", err)
	}

	err = s.ResetForRetry(ctx, doc.ID)
	if !kinderrors.Is(err, kinderrors.NotRetryable) {
		t.Fatalf("expected NotRetryable, got %v", err)
	}
}

func TestResetForRetryRestartsErroredDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, data.NewID().String(), "report.pdf", domain.MimePDF, "ref", "http://fetch.invalid/report.pdf")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := s.MarkError(ctx, doc.ID, "ocr failed"); err != nil {
		t.Fatalf("MarkError: %v", err)
	}

	if err := s.ResetForRetry(ctx, doc.ID); err != nil {
		t.Fatalf("ResetForRetry: %v", err)
	}

	got, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != domain.StatusProcessing || got.ProcessingStage != domain.StageOCRExtraction || got.Progress != 0 {
		t.Fatalf("expected reset to processing/ocr_extraction/0, got %+v", got)
	}
	if got.ErrorMessage != "" {
		t.Errorf("expected error_message cleared, got %q", got.ErrorMessage)
	}
}

func TestDeleteDocumentCascadesToAnalysis(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, data.NewID().String(), "report.pdf", domain.MimePDF, "ref", "http://fetch.invalid/report.pdf")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	insights := domain.HealthInsights{
		Data:       domain.HealthDataExtraction{Markers: []domain.HealthMarker{{Marker: "Hemoglobin", Value: "14.5"}}},
		Summary:    "ok",
		Disclaimer: "not professional medical advice",
	}
	if err := s.WriteAnalysis(ctx, doc.ID, "raw", insights); err != nil {
		t.Fatalf("WriteAnalysis: %v", err)
	}
	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	_, err = s.GetDocument(ctx, doc.ID)
	if !kinderrors.Is(err, kinderrors.NotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
	analysis, err := s.GetAnalysis(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetAnalysis: %v", err)
	}
	if analysis != nil {
		t.Fatalf("expected analysis deleted with its document, got %+v", analysis)
	}
	var markers int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM health_markers`).Scan(&markers); err != nil {
		t.Fatalf("count health_markers: %v", err)
	}
	if markers != 0 {
		t.Fatalf("expected markers deleted with their analysis, got %d rows", markers)
	}
}

func TestFindStuckIgnoresRecentDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateDocument(ctx, data.NewID().String(), "fresh.pdf", domain.MimePDF, "ref", "http://fetch.invalid/fresh.pdf")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	ids, err := s.FindStuck(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("FindStuck: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no stuck documents within the hour, got %v", ids)
	}
}

func TestFindStuckFindsOldProcessingDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, data.NewID().String(), "stuck.pdf", domain.MimePDF, "ref", "http://fetch.invalid/stuck.pdf")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	ids, err := s.FindStuck(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("FindStuck: %v", err)
	}
	if len(ids) != 1 || ids[0] != doc.ID {
		t.Fatalf("expected [%s], got %v", doc.ID, ids)
	}
}
