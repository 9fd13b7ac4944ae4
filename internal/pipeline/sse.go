package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"labpipe/internal/domain"
	"labpipe/internal/progressbus"
	"labpipe/internal/storegw"
)

const heartbeatInterval = 15 * time.Second

// SSESerializer implements C10: wire-frame ProgressEvents for one document's
// HTTP stream consumer. It is deliberately transport-agnostic — it writes
// through an io.Writer plus a flush hook, so the HTTP handler supplies the
// actual http.ResponseWriter/http.Flusher pair.
type SSESerializer struct {
	store  *storegw.Store
	bus    *progressbus.Bus
	logger *slog.Logger
}

func NewSSESerializer(store *storegw.Store, bus *progressbus.Bus, logger *slog.Logger) *SSESerializer {
	return &SSESerializer{store: store, bus: bus, logger: logger}
}

// Stream writes the catch-up event, then forwards bus events until a
// terminal event is emitted or ctx is cancelled (client disconnect),
// calling flush after every write. Returns when the stream should close.
// Stream subscribes to the bus and unsubscribes itself before returning;
// the caller has nothing to tear down.
func (s *SSESerializer) Stream(ctx context.Context, documentID string, w io.Writer, flush func()) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	catchUp := domain.SnapshotFromDocument(doc)
	if err := writeEvent(w, catchUp); err != nil {
		return err
	}
	flush()

	if catchUp.Status.IsTerminal() {
		return nil
	}

	events, unsubscribe := s.bus.Subscribe(documentID)
	defer unsubscribe()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(w, ev); err != nil {
				return err
			}
			flush()
			if ev.Status.IsTerminal() {
				return nil
			}
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ":\n\n"); err != nil {
				return err
			}
			flush()
		}
	}
}

func writeEvent(w io.Writer, ev domain.ProgressEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", body)
	return err
}
