// Copyright 2025 Certen Protocol
//
// Shared PBFT types: validator roster metadata and small helpers.
// ValidatorInfo keeps the field shape of the teacher's original
// business-level type, trimmed to what spec.md §4.4's fixed,
// known-in-advance validator set needs.

package consensus

import "time"

// ValidatorInfo describes one member of the fixed validator set.
type ValidatorInfo struct {
	ValidatorID string    `json:"validator_id"`
	PublicKey   []byte    `json:"public_key"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Logger is the minimal logging surface pkg/consensus depends on,
// satisfied directly by *log.Logger.
type Logger interface {
	Printf(format string, args ...interface{})
}

// FaultTolerance returns f for a validator set of size n, per spec.md
// §4.4's N = 3f+1 requirement. pkg/config.Config.Validate rejects only
// sizes divisible by 3; for any other n, f is (n-1)/3 rounded down.
func FaultTolerance(n int) int {
	return (n - 1) / 3
}

// Primary returns the validator index that is primary for view v in a
// roster of size n, per spec.md §4.4: "chosen by v mod N".
func Primary(view uint64, n int) int {
	return int(view % uint64(n))
}
