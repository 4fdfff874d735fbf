// Copyright 2025 ProvChain Authors
//
// Repositories - convenience wrapper for all database repositories.
// Provides a single point of access to all repository types.

package database

// Repositories holds all repository instances.
type Repositories struct {
	IntegrityReports *IntegrityReportRepository
}

// NewRepositories creates all repositories with the given client.
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		IntegrityReports: NewIntegrityReportRepository(client),
	}
}
