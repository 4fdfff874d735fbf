// Copyright 2025 Certen Protocol
//
// The five signed PBFT message types of spec.md §4.4, as tagged structs
// rather than an interface hierarchy, per spec.md §9's stated preference
// for tagged variants outside of C2. Each carries SenderID plus a
// Signature/PublicKey pair so a peer can verify it statelessly against
// its own (validator_id -> public_key) cache (pkg/wallet.Registry)
// without consulting anyone else, per spec.md §4.4's cryptography
// paragraph.
//
// Wire encoding follows spec.md §6's general convention for signed
// protocol messages: big-endian integers, length-prefixed strings and
// byte slices. The signed image (see encode.go) starts with the message
// kind and SenderID, then the message's own view/sequence/hash fields;
// it omits Signature and PublicKey, and covers an embedded *chain.Block
// only through BlockHash (PayloadRDF is not part of it).

package consensus

import (
	"github.com/provchain/provchain/pkg/chain"
)

// Kind tags a decoded wire message so a dispatcher can switch on it
// before type-asserting, mirroring pkg/provchainerr.Kind's string-enum
// shape.
type Kind string

const (
	KindPrePrepare Kind = "pre_prepare"
	KindPrepare    Kind = "prepare"
	KindCommit     Kind = "commit"
	KindViewChange Kind = "view_change"
	KindNewView    Kind = "new_view"
)

// PrePrepare is broadcast by the primary of View to propose Block at
// sequence Seq. PayloadRDF is included (rather than only BlockHash) so
// that backups can independently recompute payload_hash via C1 and
// reject a primary that lies about its own block's fields, without
// touching C2 before the block is actually committed.
type PrePrepare struct {
	View       uint64
	Seq        uint64
	BlockHash  string
	Block      *chain.Block
	PayloadRDF string

	SenderID  string
	PublicKey []byte
	Signature []byte
}

// Prepare is broadcast by every replica (including the primary, in most
// PBFT write-ups) once it accepts a PrePrepare, per spec.md §4.4.
type Prepare struct {
	View      uint64
	Seq       uint64
	BlockHash string

	SenderID  string
	PublicKey []byte
	Signature []byte
}

// Commit is broadcast once a replica reaches the prepared state (a
// matching PrePrepare plus 2f matching Prepares from distinct senders).
type Commit struct {
	View      uint64
	Seq       uint64
	BlockHash string

	SenderID  string
	PublicKey []byte
	Signature []byte
}

// PreparedEntry is one (seq, block) pair a replica can prove it had
// reached the prepared state on before the view changed, carried inside
// a ViewChange message so the new primary can safely re-propose it.
type PreparedEntry struct {
	Seq       uint64
	BlockHash string
	Block     *chain.Block
}

// ViewChange is broadcast by a replica that gives up on the current
// view (primary timeout or equivocation) and wants to move to NewView,
// per spec.md §4.4's view-change sub-protocol. PreparedSet carries
// every (seq, block) this replica had already prepared, so no
// already-prepared work is silently lost across the view boundary.
type ViewChange struct {
	NewView              uint64
	LastStableCheckpoint uint64
	PreparedSet          []PreparedEntry

	SenderID  string
	PublicKey []byte
	Signature []byte
}

// NewView is broadcast by the primary of NewView once it collects 2f+1
// ViewChange messages, carrying the proofs it relied on and the set of
// entries it is re-proposing at the new view so every correct replica
// can catch up to the same log.
type NewView struct {
	NewView           uint64
	ViewChangeProofs  []ViewChange
	ReproposedEntries []PrePrepare

	SenderID  string
	PublicKey []byte
	Signature []byte
}
