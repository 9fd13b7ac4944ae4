package pipeline

import (
	"context"
	"testing"
	"time"

	"labpipe/internal/data"
	"labpipe/internal/domain"
	"labpipe/internal/progressbus"
)

func TestWatchdogFlipsStuckDocumentToError(t *testing.T) {
	logger := newTestLogger()
	store := newTestStore(t)
	bus := progressbus.New(progressbus.DefaultCapacity)

	ctx := context.Background()
	doc, err := store.CreateDocument(ctx, data.NewID().String(), "stuck.pdf", domain.MimePDF, "ref", "http://example.invalid/file")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	// No orchestrator task is running for doc — simulate "OCR call hangs and
	// never returns" by just never calling orch.Start. A nil-agent
	// orchestrator is enough since the watchdog never calls into it beyond
	// Cancel, which is a no-op when nothing is registered.
	orch := New(store, bus, nil, nil, nil, nil, logger, time.Minute)

	events, unsubscribe := bus.Subscribe(doc.ID)
	defer unsubscribe()

	watchdog := NewWatchdog(store, bus, orch, logger, 50*time.Millisecond, 0)

	wctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchdog.Start(wctx)

	select {
	case ev := <-events:
		if ev.Status != domain.StatusError {
			t.Fatalf("expected error status, got %s", ev.Status)
		}
		if ev.ErrorMessage != "processing timed out" {
			t.Errorf("error_message = %q", ev.ErrorMessage)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watchdog to flip stuck document")
	}
}

func TestWatchdogNeverResurrectsCompletedDocument(t *testing.T) {
	logger := newTestLogger()
	store := newTestStore(t)
	bus := progressbus.New(progressbus.DefaultCapacity)

	ctx := context.Background()
	doc, err := store.CreateDocument(ctx, data.NewID().String(), "done.pdf", domain.MimePDF, "ref", "http://example.invalid/file")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	insights := domain.HealthInsights{
		Data:       domain.HealthDataExtraction{DocumentType: "Panel"},
		Summary:    "ok",
		Disclaimer: "not professional medical advice",
	}
	if err := store.WriteAnalysis(ctx, doc.ID, "raw", insights); err != nil {
		t.Fatalf("WriteAnalysis: %v", err)
	}

	orch := New(store, bus, nil, nil, nil, nil, logger, time.Minute)
	watchdog := NewWatchdog(store, bus, orch, logger, 20*time.Millisecond, 0)
	watchdog.sweep(ctx)

	got, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != domain.StatusComplete {
		t.Fatalf("expected status still complete, got %s", got.Status)
	}
}
