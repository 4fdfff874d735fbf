// Copyright 2025 ProvChain Authors
//
// Package database provides sentinel errors for repository operations.

package database

import "errors"

// Sentinel errors for database operations.
var (
	// ErrNotFound is returned when a requested entity is not found in the database.
	ErrNotFound = errors.New("entity not found")

	// ErrIntegrityReportNotFound is returned when an integrity report is not found.
	ErrIntegrityReportNotFound = errors.New("integrity report not found")
)
