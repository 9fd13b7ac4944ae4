package data

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// OpenDB opens a SQLite connection tuned for a single-process, many-goroutine
// writer: WAL journaling so readers never block on the writer, and a
// generous busy_timeout so the backing database's row-level locking (relied
// on by the record store's single-writer-per-document invariant) degrades to
// waiting rather than failing outright under brief contention.
func OpenDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

const maxRetries = 3

// RunTransaction runs fn inside a transaction, retrying the whole attempt on
// SQLITE_BUSY (commit or begin contention) up to maxRetries times.
func RunTransaction(db *sql.DB, fn func(*sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		tx, err := db.Begin()
		if err != nil {
			lastErr = err
			continue
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			if isBusyError(err) && attempt < maxRetries-1 {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isBusyError(err) && attempt < maxRetries-1 {
				lastErr = err
				continue
			}
			return fmt.Errorf("commit transaction: %w", err)
		}

		return nil
	}
	return fmt.Errorf("transaction failed after %d retries: %w", maxRetries, lastErr)
}

// ExecWithRetry runs db.Exec, retrying on SQLITE_BUSY.
func ExecWithRetry(db *sql.DB, query string, args ...any) (sql.Result, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		result, err := db.Exec(query, args...)
		if err != nil {
			if isBusyError(err) && attempt < maxRetries-1 {
				lastErr = err
				continue
			}
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("exec failed after %d retries: %w", maxRetries, lastErr)
}

// QueryWithRetry runs db.Query, retrying on SQLITE_BUSY.
func QueryWithRetry(db *sql.DB, query string, args ...any) (*sql.Rows, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		rows, err := db.Query(query, args...)
		if err != nil {
			if isBusyError(err) && attempt < maxRetries-1 {
				lastErr = err
				continue
			}
			return nil, err
		}
		return rows, nil
	}
	return nil, fmt.Errorf("query failed after %d retries: %w", maxRetries, lastErr)
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
