// Package domain holds the data model shared by every pipeline component:
// the Document aggregate, its children, and the transient shapes that pass
// between the OCR/extraction/insight agents and the progress bus.
package domain

import "time"

// MimeKind is the set of upload kinds the pipeline accepts.
type MimeKind string

const (
	MimePDF  MimeKind = "pdf"
	MimePNG  MimeKind = "png"
	MimeJPEG MimeKind = "jpeg"
)

// Status is the coarse lifecycle state of a Document.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Stage is the fine-grained pipeline stage within StatusProcessing.
type Stage string

const (
	StageOCRExtraction  Stage = "ocr_extraction"
	StageAIAnalysis     Stage = "ai_analysis"
	StageSavingResults  Stage = "saving_results"
	StageComplete       Stage = "complete"
	StageNone           Stage = "none"
)

// Document is the aggregate root: one uploaded lab report.
type Document struct {
	ID              string     `json:"document_id"`
	Filename        string     `json:"filename"`
	MimeKind        MimeKind   `json:"mime_kind"`
	UploadedAt      time.Time  `json:"uploaded_at"`
	StorageRef      string     `json:"storage_ref,omitempty"`
	FetchURL        string     `json:"fetch_url,omitempty"`
	Status          Status     `json:"status"`
	ProcessingStage Stage      `json:"processing_stage"`
	Progress        int        `json:"progress"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	RawText         string     `json:"raw_text,omitempty"`
}

// AnalysisResult is the persisted output of one completed pipeline run.
type AnalysisResult struct {
	DocumentID      string         `json:"document_id"`
	Summary         string         `json:"summary"`
	KeyFindings     []string       `json:"key_findings"`
	Recommendations []string       `json:"recommendations"`
	Disclaimer      string         `json:"disclaimer"`
	DocumentType    string         `json:"document_type"`
	TestDate        *string        `json:"test_date,omitempty"` // ISO-8601 date, best-effort parsed
	Markers         []HealthMarker `json:"markers"`
}

// HealthMarker is one lab value, stored verbatim: value is never coerced to
// a number by the core, only preserved as the extractor emitted it.
type HealthMarker struct {
	Marker         string `json:"marker"`
	Value          string `json:"value"`
	Unit           string `json:"unit,omitempty"`
	ReferenceRange string `json:"reference_range,omitempty"`
}

// HealthDataExtraction is the transient output of the extraction agent (C4).
type HealthDataExtraction struct {
	Markers      []HealthMarker `json:"markers"`
	DocumentType string         `json:"document_type"`
	TestDate     *string        `json:"test_date,omitempty"`
}

// HealthInsights is the transient output of the insight agent (C5).
type HealthInsights struct {
	Data            HealthDataExtraction `json:"data"`
	Summary         string               `json:"summary"`
	KeyFindings     []string             `json:"key_findings"`
	Recommendations []string             `json:"recommendations"`
	Disclaimer      string               `json:"disclaimer"`
}

// ProgressEvent is a complete, self-sufficient snapshot of a Document's
// state at the moment it was published — enough for a subscriber joining
// mid-flight to render current state without any prior event.
type ProgressEvent struct {
	DocumentID      string     `json:"document_id"`
	Status          Status     `json:"status"`
	ProcessingStage Stage      `json:"processing_stage"`
	Progress        int        `json:"progress"`
	Filename        string     `json:"filename"`
	UploadedAt      time.Time  `json:"uploaded_at"`
	RawText         string     `json:"raw_text,omitempty"`
	ExtractedData   *HealthDataExtraction `json:"extracted_data,omitempty"`
	AIInsights      *HealthInsights       `json:"ai_insights,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// SnapshotFromDocument builds the catch-up / terminal event shape from the
// current Document row alone (no extraction/insight payload attached).
func SnapshotFromDocument(d Document) ProgressEvent {
	return ProgressEvent{
		DocumentID:      d.ID,
		Status:          d.Status,
		ProcessingStage: d.ProcessingStage,
		Progress:        d.Progress,
		Filename:        d.Filename,
		UploadedAt:      d.UploadedAt,
		RawText:         d.RawText,
		ErrorMessage:    d.ErrorMessage,
		ProcessedAt:     d.ProcessedAt,
	}
}

// IsTerminal reports whether status ends a Document's processing lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}
