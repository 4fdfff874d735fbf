// Copyright 2025 ProvChain Authors
//
// Component error kinds from spec.md §7, modeled as a single tagged
// Kind enum attached to a ProvChainError, per §9's preference for
// tagged variants over polymorphism outside of C2. Mirrors the
// sentinel-error-plus-%w-wrapping style of pkg/database/errors.go and
// the deleted pkg/ledger/errors.go.

package provchainerr

import (
	"errors"
	"fmt"
)

// Kind tags the class of failure a ProvChainError represents.
type Kind string

const (
	KindParse                 Kind = "ParseError"
	KindCanonicalizationBound Kind = "CanonicalizationExceeded"
	KindStore                 Kind = "StoreError"
	KindSignatureInvalid      Kind = "SignatureInvalid"
	KindConsensusTimeout      Kind = "ConsensusTimeout"
	KindViewChangeInProgress  Kind = "ViewChangeInProgress"
	KindChainLinkBroken       Kind = "ChainLinkBroken"
	KindHashMismatch          Kind = "HashMismatch"
	KindKeyRotationRequired   Kind = "KeyRotationRequired"
	KindIntegrityDrift        Kind = "IntegrityDrift"
)

// ProvChainError carries a Kind alongside the usual wrapped cause, so
// callers that need to branch on failure class (e.g. the CLI's exit
// code mapping, or C6 classifying a recommendation) don't need to
// errors.Is against every sentinel individually.
type ProvChainError struct {
	Kind Kind
	// Detail is a short human-readable description, never secret
	// material (wallet key errors must not leak key bytes, per
	// spec.md §7's user-visible-behavior clause).
	Detail string
	Err    error
}

func New(kind Kind, detail string) *ProvChainError {
	return &ProvChainError{Kind: kind, Detail: detail}
}

func Wrap(kind Kind, detail string, err error) *ProvChainError {
	return &ProvChainError{Kind: kind, Detail: detail, Err: err}
}

func (e *ProvChainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ProvChainError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, provchainerr.New(provchainerr.KindX, "")) style checks work by
// comparing Kind rather than identity, since callers rarely hold a
// reference to a specific *ProvChainError value to compare against.
func (e *ProvChainError) Is(target error) bool {
	var other *ProvChainError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind of err if it is (or wraps) a ProvChainError,
// and ok=false otherwise. Used by the CLI to map errors to exit codes.
func KindOf(err error) (Kind, bool) {
	var pe *ProvChainError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}
