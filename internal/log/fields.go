// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldOutcome   = "outcome"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"

	// Path fields
	FieldPath       = "path"
	FieldSourcePath = "source_path"
	FieldReportPath = "report_path"
)
