// Package pipeline implements the Pipeline Orchestrator (C8) and the
// Stuck-Document Watchdog (C9): the per-document state machine that drives
// C1→C3→C4→C5→C2, publishing to the Progress Bus at every transition, and
// the background sweep that recovers documents abandoned mid-flight.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"labpipe/internal/agents"
	"labpipe/internal/domain"
	"labpipe/internal/kinderrors"
	"labpipe/internal/objectstore"
	"labpipe/internal/progressbus"
	"labpipe/internal/storegw"
)

const savingResultsDwell = 500 * time.Millisecond

// ocrRetryBackoffs are the exponential backoff delays for OCRTransient,
// per spec.md §4.8: 2 retries at 1s then 4s.
var ocrRetryBackoffs = []time.Duration{1 * time.Second, 4 * time.Second}

// Orchestrator owns the task lifetime of every in-flight document and is
// the sole writer to its progress/status row while processing. A
// cancellation registry guarantees only one live task per document id
// (the single-writer invariant spec.md §5 requires on delete/retry).
type Orchestrator struct {
	store     *storegw.Store
	bus       *progressbus.Bus
	storage   objectstore.Gateway
	ocr       *agents.OCRAgent
	extractor *agents.ExtractionAgent
	insight   *agents.InsightAgent
	logger    *slog.Logger
	deadline  time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func New(
	store *storegw.Store,
	bus *progressbus.Bus,
	storage objectstore.Gateway,
	ocr *agents.OCRAgent,
	extractor *agents.ExtractionAgent,
	insight *agents.InsightAgent,
	logger *slog.Logger,
	deadline time.Duration,
) *Orchestrator {
	return &Orchestrator{
		store:     store,
		bus:       bus,
		storage:   storage,
		ocr:       ocr,
		extractor: extractor,
		insight:   insight,
		logger:    logger,
		deadline:  deadline,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Start spawns a new orchestrator task for documentID, cancelling any task
// already running for it first (the caller is responsible for having
// already created or reset the document's record before calling Start).
func (o *Orchestrator) Start(documentID string, mimeKind domain.MimeKind) {
	o.cancelExisting(documentID)

	ctx, cancel := context.WithTimeout(context.Background(), o.deadline)
	o.mu.Lock()
	o.cancels[documentID] = cancel
	o.mu.Unlock()

	go o.run(ctx, documentID, mimeKind)
}

// Cancel aborts the live task for documentID, if any, at its next
// suspension point. Used on delete.
func (o *Orchestrator) Cancel(documentID string) {
	o.cancelExisting(documentID)
}

func (o *Orchestrator) cancelExisting(documentID string) {
	o.mu.Lock()
	cancel, ok := o.cancels[documentID]
	delete(o.cancels, documentID)
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

func (o *Orchestrator) finish(documentID string) {
	o.mu.Lock()
	delete(o.cancels, documentID)
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, documentID string, mimeKind domain.MimeKind) {
	defer o.finish(documentID)

	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		// The record is gone (deleted mid-start); nothing to do.
		return
	}

	rawText, ok := o.stageOCR(ctx, documentID, doc.FetchURL, mimeKind)
	if !ok {
		return
	}

	extraction, ok := o.stageExtraction(ctx, documentID, rawText)
	if !ok {
		return
	}

	insights, ok := o.stageInsight(ctx, documentID, extraction)
	if !ok {
		return
	}

	o.stageSave(ctx, documentID, rawText, insights)
}

// stageOCR runs C3 with the retry policy spec.md §4.8 requires: up to 2
// retries on OCRTransient with 1s/4s backoff, then treated as permanent.
func (o *Orchestrator) stageOCR(ctx context.Context, documentID, fetchURL string, mimeKind domain.MimeKind) (string, bool) {
	if !o.enterStage(ctx, documentID, domain.StageOCRExtraction, 10) {
		return "", false
	}

	var lastErr error
	attempts := append([]time.Duration{0}, ocrRetryBackoffs...)
	for _, delay := range attempts {
		if delay > 0 {
			select {
			case <-ctx.Done():
				o.fail(ctx, documentID, kinderrors.New(kinderrors.Timeout, "pipeline.stageOCR", ctx.Err()))
				return "", false
			case <-time.After(delay):
			}
		}

		text, err := o.ocr.ExtractText(ctx, fetchURL, mimeKind)
		if err == nil {
			return text, true
		}
		lastErr = err
		if kinderrors.KindOf(err) != kinderrors.OCRTransient {
			break
		}
		o.logger.Warn("ocr transient failure, retrying", "document_id", documentID, "error", err)
	}

	o.fail(ctx, documentID, lastErr)
	return "", false
}

func (o *Orchestrator) stageExtraction(ctx context.Context, documentID, rawText string) (domain.HealthDataExtraction, bool) {
	if !o.enterStage(ctx, documentID, domain.StageAIAnalysis, 50) {
		return domain.HealthDataExtraction{}, false
	}

	extraction, err := o.extractor.Extract(ctx, rawText)
	if err != nil {
		o.fail(ctx, documentID, err)
		return domain.HealthDataExtraction{}, false
	}
	if len(extraction.Markers) == 0 {
		o.logger.Info("extraction returned zero markers", "document_id", documentID)
	}
	return extraction, true
}

func (o *Orchestrator) stageInsight(ctx context.Context, documentID string, extraction domain.HealthDataExtraction) (domain.HealthInsights, bool) {
	insights, err := o.insight.Generate(ctx, extraction)
	if err != nil {
		o.fail(ctx, documentID, err)
		return domain.HealthInsights{}, false
	}
	return insights, true
}

func (o *Orchestrator) stageSave(ctx context.Context, documentID, rawText string, insights domain.HealthInsights) {
	if !o.enterStage(ctx, documentID, domain.StageSavingResults, 90) {
		return
	}

	select {
	case <-ctx.Done():
		o.fail(ctx, documentID, kinderrors.New(kinderrors.Timeout, "pipeline.stageSave", ctx.Err()))
		return
	case <-time.After(savingResultsDwell):
	}

	err := o.store.WriteAnalysis(ctx, documentID, rawText, insights)
	if err != nil {
		o.logger.Warn("write_analysis failed, retrying once", "document_id", documentID, "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(1 * time.Second):
		}
		err = o.store.WriteAnalysis(ctx, documentID, rawText, insights)
	}
	if err != nil {
		o.markErrorAndPublish(ctx, documentID, "persistence failure")
		return
	}

	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return
	}
	snapshot := domain.SnapshotFromDocument(doc)
	snapshot.ExtractedData = &insights.Data
	snapshot.AIInsights = &insights
	o.bus.Publish(documentID, snapshot)
}

// enterStage writes (stage, progress) via the store before publishing, per
// spec.md §4.8's "write before publish" rule. Returns false if the document
// is gone (deleted mid-flight) so the caller aborts without further writes.
func (o *Orchestrator) enterStage(ctx context.Context, documentID string, stage domain.Stage, progress int) bool {
	select {
	case <-ctx.Done():
		o.fail(ctx, documentID, kinderrors.New(kinderrors.Timeout, "pipeline.enterStage", ctx.Err()))
		return false
	default:
	}

	if err := o.store.UpdateProgress(ctx, documentID, stage, progress); err != nil {
		if kinderrors.Is(err, kinderrors.NotFound) {
			return false
		}
		o.logger.Error("update_progress failed", "document_id", documentID, "stage", stage, "error", err)
		return false
	}

	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return false
	}
	o.bus.Publish(documentID, domain.SnapshotFromDocument(doc))
	return true
}

// fail marks the document as error, with the kinderrors Kind preserved in
// the human-readable message, and publishes the terminal snapshot.
func (o *Orchestrator) fail(ctx context.Context, documentID string, err error) {
	message := errorMessage(err)
	o.markErrorAndPublish(ctx, documentID, message)
}

func (o *Orchestrator) markErrorAndPublish(ctx context.Context, documentID, message string) {
	// Use a fresh background context: ctx may already be cancelled (deadline
	// or delete), but the error write must still land.
	writeCtx := context.Background()
	if err := o.store.MarkError(writeCtx, documentID, message); err != nil {
		o.logger.Error("mark_error failed", "document_id", documentID, "error", err)
		return
	}
	doc, err := o.store.GetDocument(writeCtx, documentID)
	if err != nil {
		return
	}
	o.bus.Publish(documentID, domain.SnapshotFromDocument(doc))
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
