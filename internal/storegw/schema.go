package storegw

import "database/sql"

// InitSchema creates the three relations the core owns plus the
// observability-only trace table, along with the indexes §6 names:
// by status, by uploaded_at desc, and by (status, processing_stage)
// filtered to status='processing'.
func InitSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id BLOB PRIMARY KEY,
			filename TEXT NOT NULL,
			mime_kind TEXT NOT NULL CHECK (mime_kind IN ('pdf','png','jpeg')),
			uploaded_at DATETIME NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('processing','complete','error')),
			processing_stage TEXT NOT NULL CHECK (processing_stage IN ('ocr_extraction','ai_analysis','saving_results','complete','none')),
			progress INTEGER NOT NULL DEFAULT 0 CHECK (progress >= 0 AND progress <= 100),
			storage_ref TEXT NOT NULL DEFAULT '',
			fetch_url TEXT NOT NULL DEFAULT '',
			raw_text TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			processed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_status_stage_processing
			ON documents(status, processing_stage) WHERE status = 'processing'`,

		`CREATE TABLE IF NOT EXISTS analysis_results (
			id BLOB PRIMARY KEY,
			document_id BLOB NOT NULL UNIQUE REFERENCES documents(id) ON DELETE CASCADE,
			summary TEXT NOT NULL,
			key_findings TEXT NOT NULL DEFAULT '[]',
			recommendations TEXT NOT NULL DEFAULT '[]',
			disclaimer TEXT NOT NULL,
			document_type TEXT NOT NULL DEFAULT '',
			test_date TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS health_markers (
			id BLOB PRIMARY KEY,
			analysis_id BLOB NOT NULL REFERENCES analysis_results(id) ON DELETE CASCADE,
			marker TEXT NOT NULL,
			value TEXT NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			reference_range TEXT NOT NULL DEFAULT '',
			ordinal INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_markers_analysis ON health_markers(analysis_id, ordinal)`,

		// Ambient observability addition (SPEC_FULL.md "Audit trail of stage
		// transitions"), adapted from the teacher's workflow tracer: not part
		// of the Document aggregate, queried by nothing the core requires.
		`CREATE TABLE IF NOT EXISTS pipeline_trace (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id BLOB NOT NULL,
			stage TEXT NOT NULL,
			progress INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_trace_document ON pipeline_trace(document_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
