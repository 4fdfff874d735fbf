// Copyright 2025 ProvChain Authors
//
// Integrity report repository - persists C6 run history so C7's
// dashboard and CLI surfaces can query past reports without holding
// the whole monitor process's in-memory ring buffer. Adapted from the
// teacher's anchor-record repository: same raw-SQL $1,$2... style and
// client.QueryRowContext/QueryContext plumbing, repointed at a single
// integrity_reports table instead of a per-chain anchor ledger.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IntegrityReportRepository handles integrity report history operations.
type IntegrityReportRepository struct {
	client *Client
}

// NewIntegrityReportRepository creates a new integrity report repository.
func NewIntegrityReportRepository(client *Client) *IntegrityReportRepository {
	return &IntegrityReportRepository{client: client}
}

// ============================================================================
// INTEGRITY REPORT OPERATIONS
// ============================================================================

// RecordReport persists one completed C6 run.
func (r *IntegrityReportRepository) RecordReport(ctx context.Context, input *NewIntegrityReportRecord) (*IntegrityReportRecord, error) {
	rec := &IntegrityReportRecord{
		ReportID:          uuid.New(),
		Namespace:         input.Namespace,
		OverallStatus:     input.OverallStatus,
		TotalIssues:       input.TotalIssues,
		CriticalIssues:    input.CriticalIssues,
		WarningIssues:     input.WarningIssues,
		AutoFixableIssues: input.AutoFixableIssues,
		RawReport:         input.RawReport,
		RunAt:             input.RunAt,
		CreatedAt:         time.Now(),
	}

	query := `
		INSERT INTO integrity_reports (
			report_id, namespace, overall_status, total_issues, critical_issues,
			warning_issues, auto_fixable_issues, raw_report, run_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING report_id, created_at`

	err := r.client.QueryRowContext(ctx, query,
		rec.ReportID, rec.Namespace, rec.OverallStatus, rec.TotalIssues, rec.CriticalIssues,
		rec.WarningIssues, rec.AutoFixableIssues, rec.RawReport, rec.RunAt, rec.CreatedAt,
	).Scan(&rec.ReportID, &rec.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to record integrity report: %w", err)
	}

	return rec, nil
}

// GetReport retrieves a single report by ID.
func (r *IntegrityReportRepository) GetReport(ctx context.Context, reportID uuid.UUID) (*IntegrityReportRecord, error) {
	query := `
		SELECT report_id, namespace, overall_status, total_issues, critical_issues,
			warning_issues, auto_fixable_issues, raw_report, run_at, created_at
		FROM integrity_reports
		WHERE report_id = $1`

	rec := &IntegrityReportRecord{}
	err := r.client.QueryRowContext(ctx, query, reportID).Scan(
		&rec.ReportID, &rec.Namespace, &rec.OverallStatus, &rec.TotalIssues, &rec.CriticalIssues,
		&rec.WarningIssues, &rec.AutoFixableIssues, &rec.RawReport, &rec.RunAt, &rec.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrIntegrityReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integrity report: %w", err)
	}

	return rec, nil
}

// GetLatestReport returns the most recent report for a namespace.
func (r *IntegrityReportRepository) GetLatestReport(ctx context.Context, namespace string) (*IntegrityReportRecord, error) {
	query := `
		SELECT report_id, namespace, overall_status, total_issues, critical_issues,
			warning_issues, auto_fixable_issues, raw_report, run_at, created_at
		FROM integrity_reports
		WHERE namespace = $1
		ORDER BY run_at DESC
		LIMIT 1`

	rec := &IntegrityReportRecord{}
	err := r.client.QueryRowContext(ctx, query, namespace).Scan(
		&rec.ReportID, &rec.Namespace, &rec.OverallStatus, &rec.TotalIssues, &rec.CriticalIssues,
		&rec.WarningIssues, &rec.AutoFixableIssues, &rec.RawReport, &rec.RunAt, &rec.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrIntegrityReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest integrity report: %w", err)
	}

	return rec, nil
}

// GetRecentReports returns the most recent reports for a namespace, newest first.
func (r *IntegrityReportRepository) GetRecentReports(ctx context.Context, namespace string, limit int) ([]*IntegrityReportRecord, error) {
	query := `
		SELECT report_id, namespace, overall_status, total_issues, critical_issues,
			warning_issues, auto_fixable_issues, raw_report, run_at, created_at
		FROM integrity_reports
		WHERE namespace = $1
		ORDER BY run_at DESC
		LIMIT $2`

	rows, err := r.client.QueryContext(ctx, query, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent integrity reports: %w", err)
	}
	defer rows.Close()

	var reports []*IntegrityReportRecord
	for rows.Next() {
		rec := &IntegrityReportRecord{}
		err := rows.Scan(
			&rec.ReportID, &rec.Namespace, &rec.OverallStatus, &rec.TotalIssues, &rec.CriticalIssues,
			&rec.WarningIssues, &rec.AutoFixableIssues, &rec.RawReport, &rec.RunAt, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integrity report: %w", err)
		}
		reports = append(reports, rec)
	}

	return reports, rows.Err()
}

// GetReportsByStatus returns reports for a namespace matching an overall status
// (e.g. "Critical"), newest first, for alert-history and audit views.
func (r *IntegrityReportRepository) GetReportsByStatus(ctx context.Context, namespace, overallStatus string, limit int) ([]*IntegrityReportRecord, error) {
	query := `
		SELECT report_id, namespace, overall_status, total_issues, critical_issues,
			warning_issues, auto_fixable_issues, raw_report, run_at, created_at
		FROM integrity_reports
		WHERE namespace = $1 AND overall_status = $2
		ORDER BY run_at DESC
		LIMIT $3`

	rows, err := r.client.QueryContext(ctx, query, namespace, overallStatus, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrity reports by status: %w", err)
	}
	defer rows.Close()

	var reports []*IntegrityReportRecord
	for rows.Next() {
		rec := &IntegrityReportRecord{}
		err := rows.Scan(
			&rec.ReportID, &rec.Namespace, &rec.OverallStatus, &rec.TotalIssues, &rec.CriticalIssues,
			&rec.WarningIssues, &rec.AutoFixableIssues, &rec.RawReport, &rec.RunAt, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integrity report: %w", err)
		}
		reports = append(reports, rec)
	}

	return reports, rows.Err()
}

// PruneOlderThan deletes reports run before cutoff, returning the count removed.
// Retention is the operator's concern, not the monitor's bounded in-memory
// history (pkg/monitor.Monitor.History trims independently in memory).
func (r *IntegrityReportRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.client.ExecContext(ctx, `DELETE FROM integrity_reports WHERE run_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune integrity reports: %w", err)
	}
	return result.RowsAffected()
}

// CountByNamespace returns the total number of reports recorded for a namespace.
func (r *IntegrityReportRepository) CountByNamespace(ctx context.Context, namespace string) (int64, error) {
	var count int64
	err := r.client.QueryRowContext(ctx, `SELECT COUNT(*) FROM integrity_reports WHERE namespace = $1`, namespace).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count integrity reports: %w", err)
	}
	return count, nil
}
