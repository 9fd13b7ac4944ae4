package data

import (
	"database/sql"
	"io"
	"log/slog"
)

// SafeClose closes closer, logging rather than silently discarding a failure.
// A failed close usually means a leaked file descriptor or a saturated
// connection pool, not a harmless no-op.
func SafeClose(logger *slog.Logger, closer io.Closer, context string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource", "context", context, "error", err)
	}
}

// SafeTxRollback rolls back tx, logging unless the transaction was already
// finished (sql.ErrTxDone is expected after a successful commit).
func SafeTxRollback(logger *slog.Logger, tx *sql.Tx, context string) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logger.Warn("failed to rollback transaction", "context", context, "error", err)
	}
}
