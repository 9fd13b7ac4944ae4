package pipeline

import (
	"context"
	"log/slog"
	"time"

	"labpipe/internal/domain"
	"labpipe/internal/progressbus"
	"labpipe/internal/storegw"
)

// Watchdog is the Stuck-Document Watchdog (C9): a periodic sweep that flips
// abandoned in-flight documents to error. It never resurrects a task;
// recovery is always explicit, via retry.
type Watchdog struct {
	store    *storegw.Store
	bus      *progressbus.Bus
	orch     *Orchestrator
	logger   *slog.Logger
	interval time.Duration
	stale    time.Duration
}

func NewWatchdog(store *storegw.Store, bus *progressbus.Bus, orch *Orchestrator, logger *slog.Logger, interval, staleThreshold time.Duration) *Watchdog {
	return &Watchdog{
		store:    store,
		bus:      bus,
		orch:     orch,
		logger:   logger,
		interval: interval,
		stale:    staleThreshold,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (w *Watchdog) Start(ctx context.Context) {
	w.logger.Info("stuck-document watchdog starting", "interval", w.interval, "stale_threshold", w.stale)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stuck-document watchdog stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Watchdog) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.stale)
	ids, err := w.store.FindStuck(ctx, cutoff)
	if err != nil {
		w.logger.Error("watchdog: find_stuck failed", "error", err)
		return
	}

	for _, id := range ids {
		// The orchestrator, if it still believes it owns this document,
		// must stop writing to it the moment the watchdog takes over —
		// cancel its task first so the two never race on the same row.
		w.orch.Cancel(id)

		if err := w.store.MarkError(ctx, id, "processing timed out"); err != nil {
			w.logger.Error("watchdog: mark_error failed", "document_id", id, "error", err)
			continue
		}
		doc, err := w.store.GetDocument(ctx, id)
		if err != nil {
			w.logger.Error("watchdog: get_document after mark_error failed", "document_id", id, "error", err)
			continue
		}
		w.bus.Publish(id, domain.SnapshotFromDocument(doc))
		w.logger.Info("watchdog: flipped stuck document to error", "document_id", id)
	}
}
