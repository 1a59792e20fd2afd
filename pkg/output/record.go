// Package output provides JSONL reports for audit runs.
//
// Output is structured as typed record envelopes containing findings,
// commits, errors, and a final summary. Each line is a self-contained JSON
// object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: treeaudit.<type>.v<version>
const (
	// TypeFinding identifies a legacy attribute occurrence.
	TypeFinding = "treeaudit.finding.v1"

	// TypeCommit identifies a persisted batch of repairs.
	TypeCommit = "treeaudit.commit.v1"

	// TypeError identifies error records.
	TypeError = "treeaudit.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "treeaudit.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "treeaudit.finding.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this audit run.
	RunID string `json:"run_id"`

	// Store identifies the store backend (e.g., "sqlite", "s3").
	Store string `json:"store"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// FindingRecord is the data payload for a string-typed attribute found on a
// target leaf.
type FindingRecord struct {
	// Path is the path of the target leaf.
	Path string `json:"path"`

	// Property is the inspected attribute name.
	Property string `json:"property"`

	// Raw is the legacy string value as stored.
	Raw string `json:"raw"`

	// Parsed is the date the value was (or would be) rewritten to.
	Parsed time.Time `json:"parsed"`

	// Fallback is true when Raw did not parse and the fallback date was used.
	Fallback bool `json:"fallback,omitempty"`

	// Fixed is true when the repair was staged.
	Fixed bool `json:"fixed"`
}

// CommitRecord is the data payload for a persisted batch.
type CommitRecord struct {
	// LeavesFixed is the running fixed count at commit time.
	LeavesFixed int64 `json:"leaves_fixed"`

	// Final is true for the trailing commit after the walk.
	Final bool `json:"final,omitempty"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Path is the entity path related to this error, if applicable.
	Path string `json:"path,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeInvalidCredentials indicates session authentication failure.
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"

	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the root or an entity was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeUnavailable indicates the store could not be reached.
	ErrCodeUnavailable = "UNAVAILABLE"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	// Phase is the terminal phase of the run ("Done" or "Failed").
	Phase string `json:"phase"`

	// Root is the path the walk started from.
	Root string `json:"root"`

	// Repair reports whether repairs were enabled.
	Repair bool `json:"repair"`

	NodesVisited int64 `json:"nodes_visited"`
	LeavesSeen   int64 `json:"leaves_seen"`
	LeavesFixed  int64 `json:"leaves_fixed"`

	// Stopped is true when the walk ended on a stop request.
	Stopped bool `json:"stopped,omitempty"`

	// Error is the failure message for failed runs.
	Error string `json:"error,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
