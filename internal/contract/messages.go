// SPDX-License-Identifier: MIT

// Package contract defines the fixed message shapes exchanged with the
// upstream pipeline stages and downstream status consumers. No logic
// lives here; both sides of every boundary parse these shapes verbatim.
package contract

import "github.com/decluttered-ai/reportd/internal/session"

// StageResult is the inbound per-image result produced by an upstream
// processing stage.
type StageResult struct {
	SourcePath    string                    `json:"source_path"`
	Timestamp     int64                     `json:"timestamp"`
	SessionID     string                    `json:"session_id"`
	Categories    []string                  `json:"categories"`
	ArtifactNames []string                  `json:"artifact_names"`
	Details       map[string]session.Detail `json:"per_category_detail"`
	ItemCount     int                       `json:"item_count"`
}

// StartRequest is the inbound session-start signal. SessionID is
// optional; the coordinator assigns one when absent.
type StartRequest struct {
	SessionID       string  `json:"session_id,omitempty"`
	DurationSeconds int     `json:"duration_seconds"`
	MaxCaptures     int     `json:"max_captures"`
	CooldownSeconds float64 `json:"cooldown_seconds"`
}

// StopRequest is the explicit completion signal for a session.
type StopRequest struct {
	SessionID string `json:"session_id"`
}

// StatusSignal is the periodic outbound system status.
type StatusSignal struct {
	ActiveSessions    int    `json:"active_sessions"`
	PendingWork       int    `json:"pending_work"`
	Health            string `json:"health"`
	TotalSessionsSeen int64  `json:"total_sessions_seen"`
	MostRecentSession string `json:"most_recent_session"`
}

// ReportData summarizes a finalized session for downstream consumers.
type ReportData struct {
	SessionID            string `json:"session_id"`
	TotalImagesProcessed int    `json:"total_images_processed"`
	TotalUniqueObjects   int    `json:"total_unique_objects"`
	TotalArtifacts       int    `json:"total_cropped_files"`
	FinalReportPath      string `json:"final_report_path"`
}
