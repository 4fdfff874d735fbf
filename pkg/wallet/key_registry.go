// Copyright 2025 ProvChain Authors
//
// Registry is the (validator_id -> public_key) cache spec.md §4.4
// says every PBFT peer keeps for stateless signature verification. It
// implements pkg/chain.Verifier directly, and tolerates a rotation
// overlap window by accepting a validator's previous key until
// RegisterRotation's overlapUntil elapses, per spec.md §4.5.

package wallet

import (
	"crypto/ed25519"
	"sync"
	"time"
)

type keyEntry struct {
	current            ed25519.PublicKey
	previous           ed25519.PublicKey
	previousValidUntil time.Time
}

// Registry is safe for concurrent use; reads (Verify) are far more
// frequent than writes (Register/RegisterRotation), matching the
// read-heavy IRI intern table pattern in pkg/rdf.
type Registry struct {
	mu   sync.RWMutex
	keys map[string]keyEntry
}

func NewRegistry() *Registry {
	return &Registry{keys: make(map[string]keyEntry)}
}

// Register records validatorID's current public key, discarding any
// previous-key overlap entry. Used for initial validator-set setup.
func (r *Registry) Register(validatorID string, pub ed25519.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[validatorID] = keyEntry{current: pub}
}

// RegisterRotation records that validatorID rotated from oldPub to
// newPub: newPub becomes current immediately, and oldPub remains
// acceptable until overlapUntil, per spec.md §4.5's "notifies C4 to
// treat both keys as valid during a short overlap window".
func (r *Registry) RegisterRotation(validatorID string, oldPub, newPub ed25519.PublicKey, overlapUntil time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[validatorID] = keyEntry{current: newPub, previous: oldPub, previousValidUntil: overlapUntil}
}

// Verify implements pkg/chain.Verifier, and is also used directly by
// the PBFT message-acceptance path in pkg/consensus.
func (r *Registry) Verify(validatorID string, data, signature []byte) (bool, error) {
	r.mu.RLock()
	entry, ok := r.keys[validatorID]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if ed25519.Verify(entry.current, data, signature) {
		return true, nil
	}
	if entry.previous != nil && time.Now().Before(entry.previousValidUntil) {
		return ed25519.Verify(entry.previous, data, signature), nil
	}
	return false, nil
}
