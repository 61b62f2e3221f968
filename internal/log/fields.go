// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldTaskKind  = "task_kind"

	// Pipeline fields
	FieldComponent = "component"
	FieldPhase     = "phase"
	FieldSegment   = "segment"
	FieldQueue     = "queue"

	// Musical fields
	FieldBPM     = "bpm"
	FieldCamelot = "camelot"

	// Path fields
	FieldPath       = "path"
	FieldSessionDir = "session_dir"
)
