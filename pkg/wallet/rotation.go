// Copyright 2025 ProvChain Authors
//
// Key rotation (spec.md §4.5). The overlap window is measured in
// wall-clock time, not PBFT seq count — see SPEC_FULL.md Open Question
// Resolution 3, cross-checked against
// original_source/tests/key_rotation_tests.rs.

package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/provchain/provchain/pkg/provchainerr"
)

// RotationRecord documents one completed rotation: the old key signs
// over the new key and the rotation time, so any third party holding
// the old public key can audit that a rotation was authorized by the
// previous key holder rather than an attacker who merely obtained the
// new encrypted blob.
type RotationRecord struct {
	OldPublicKey ed25519.PublicKey
	NewPublicKey ed25519.PublicKey
	RotatedAt    time.Time
	OverlapUntil time.Time
	Signature    []byte
}

// rotationMessage is the canonical byte form signed by the old key
// during rotation: oldPub || newPub || rotatedAt (big-endian Unix
// nanos), per spec.md §6's general convention of fixed-endianness
// binary encodings for signed wire fields.
func rotationMessage(oldPub, newPub ed25519.PublicKey, rotatedAt time.Time) []byte {
	buf := make([]byte, 0, len(oldPub)+len(newPub)+8)
	buf = append(buf, oldPub...)
	buf = append(buf, newPub...)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(rotatedAt.UnixNano()))
	return append(buf, tsBuf[:]...)
}

// Rotate generates a fresh keypair, signs a rotation record with the
// outgoing key, and atomically persists the new encrypted blob. On any
// failure after the pre-rotation blob is read, the on-disk file is
// left untouched (save only overwrites it on full success), satisfying
// spec.md §4.5's "rotation failures roll back the blob to the
// pre-rotation file".
func (w *Wallet) Rotate(overlapWindow time.Duration) (*RotationRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	preRotationBlob, err := os.ReadFile(w.path)
	if err != nil {
		return nil, provchainerr.Wrap(provchainerr.KindStore, "read pre-rotation wallet file", err)
	}

	oldPub := ed25519.PublicKey(append([]byte(nil), w.rec.PublicKey...))
	oldPriv := ed25519.PrivateKey(w.rec.PrivateKey)

	newPub, newPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, provchainerr.Wrap(provchainerr.KindStore, "generate rotated key", err)
	}

	rotatedAt := time.Now().UTC()
	sig := ed25519.Sign(oldPriv, rotationMessage(oldPub, newPub, rotatedAt))

	previousRec := w.rec
	w.rec.PublicKey = newPub
	w.rec.PrivateKey = newPriv
	w.rec.LastRotationAt = rotatedAt

	if err := w.save(); err != nil {
		// Roll back in-memory state and restore the original file
		// verbatim; a failed rewrite must never leave a half-rotated
		// wallet on disk.
		w.rec = previousRec
		if restoreErr := os.WriteFile(w.path, preRotationBlob, 0600); restoreErr != nil {
			return nil, provchainerr.Wrap(provchainerr.KindStore, fmt.Sprintf("rotation failed (%v) and rollback also failed", err), restoreErr)
		}
		return nil, provchainerr.Wrap(provchainerr.KindStore, "persist rotated wallet", err)
	}

	return &RotationRecord{
		OldPublicKey: oldPub,
		NewPublicKey: newPub,
		RotatedAt:    rotatedAt,
		OverlapUntil: rotatedAt.Add(overlapWindow),
		Signature:    sig,
	}, nil
}
