// Copyright 2025 ProvChain Authors
//
// Database types for the integrity-report history store (C6/C7).
// These map directly to the schema in migrations/001_integrity_reports.sql.

package database

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IntegrityReportRecord is one persisted C6 run, keyed by namespace and
// timestamp. The four component statuses and recommendation list are
// stored as a single JSON snapshot (RawReport) alongside the summary
// columns a dashboard or CLI would filter/sort on without deserializing
// the whole thing, mirroring how the teacher's proof/attestation tables
// kept a queryable column set plus a json.RawMessage payload column for
// the parts no query needed to index.
type IntegrityReportRecord struct {
	ReportID          uuid.UUID       `db:"report_id" json:"report_id"`
	Namespace         string          `db:"namespace" json:"namespace"`
	OverallStatus     string          `db:"overall_status" json:"overall_status"`
	TotalIssues       int             `db:"total_issues" json:"total_issues"`
	CriticalIssues    int             `db:"critical_issues" json:"critical_issues"`
	WarningIssues     int             `db:"warning_issues" json:"warning_issues"`
	AutoFixableIssues int             `db:"auto_fixable_issues" json:"auto_fixable_issues"`
	RawReport         json.RawMessage `db:"raw_report" json:"raw_report"`
	RunAt             time.Time       `db:"run_at" json:"run_at"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// NewIntegrityReportRecord is the input to RecordReport.
type NewIntegrityReportRecord struct {
	Namespace         string
	OverallStatus     string
	TotalIssues       int
	CriticalIssues    int
	WarningIssues     int
	AutoFixableIssues int
	RawReport         json.RawMessage
	RunAt             time.Time
}

// nullableTime converts a zero time to an invalid sql.NullTime. Nothing
// in this package calls it.
func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// ParseUUID parses a string into a UUID.
func ParseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// NewUUID generates a new random UUID.
func NewUUID() uuid.UUID {
	return uuid.New()
}
