// Copyright 2025 Certen Protocol
//
// Replica is the per-node PBFT state machine of spec.md §4.4: the
// (view, sequence, phase, log, checkpoint) tuple of spec.md §5,
// advanced purely by feeding it signed messages and reading back the
// outbound message (if any) each transition produces. It never touches
// a network socket itself — wiring Replica's inbound/outbound messages
// to an actual transport is left to the caller, matching the style of
// the teacher's *bft_integration.go*, whose ABCI/CometBFT plumbing kept
// node wiring and consensus bookkeeping in separate layers.
//
// A Replica only ever asks C3 to persist a block once it reaches
// committed-local (2f+1 matching Commits), per spec.md §4.4 step 4 —
// BuildCandidate is used to propose without committing, and Commit is
// called exactly once, from HandleCommit, when quorum is first reached.

package consensus

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/provchain/provchain/pkg/chain"
	"github.com/provchain/provchain/pkg/provchainerr"
	"github.com/provchain/provchain/pkg/rdf"
)

// Signer extends chain.Signer with the public key a Replica must embed
// in every outbound message, per spec.md §4.4's "each message includes
// the sender's public key for stateless verification". Satisfied
// structurally by *pkg/wallet.Wallet.
type Signer interface {
	chain.Signer
	PublicKey() ed25519.PublicKey
}

type logEntry struct {
	seq            uint64
	prePrepare     *PrePrepare
	quads          []rdf.Quad
	prepares       map[string]*Prepare
	commits        map[string]*Commit
	prepared       bool
	committedLocal bool
}

// Replica runs one validator's PBFT state machine against a Chain (C3)
// and a Verifier (satisfied by pkg/wallet.Registry).
type Replica struct {
	mu sync.Mutex

	selfID     string
	signer     Signer
	verifier   chain.Verifier
	validators []string // sorted validator IDs; index is the PBFT roster position
	pubKeys    map[string]ed25519.PublicKey
	f          int

	view                  uint64
	lastStableCheckpoint  uint64
	entries               map[uint64]*logEntry
	pendingViewChanges    map[uint64]map[string]*ViewChange

	chain  *chain.Chain
	logger *log.Logger
}

// NewReplica builds a Replica for selfID over a fixed validator roster.
// roster must list every validator (including selfID) with its current
// public key; order is normalized (sorted by ValidatorID) so every
// correct replica computes the same Primary(view, N) independent of
// the order roster was supplied in.
func NewReplica(selfID string, roster []ValidatorInfo, signer Signer, verifier chain.Verifier, c *chain.Chain) (*Replica, error) {
	if len(roster) < 4 {
		return nil, provchainerr.New(provchainerr.KindStore, fmt.Sprintf("PBFT requires N=3f+1 >= 4 validators, got %d", len(roster)))
	}
	ids := make([]string, 0, len(roster))
	pubKeys := make(map[string]ed25519.PublicKey, len(roster))
	for _, v := range roster {
		ids = append(ids, v.ValidatorID)
		pubKeys[v.ValidatorID] = ed25519.PublicKey(v.PublicKey)
	}
	sort.Strings(ids)

	found := false
	for _, id := range ids {
		if id == selfID {
			found = true
			break
		}
	}
	if !found {
		return nil, provchainerr.New(provchainerr.KindStore, fmt.Sprintf("self %q is not a member of the validator roster", selfID))
	}

	return &Replica{
		selfID:             selfID,
		signer:             signer,
		verifier:           verifier,
		validators:         ids,
		pubKeys:            pubKeys,
		f:                  FaultTolerance(len(ids)),
		entries:            make(map[uint64]*logEntry),
		pendingViewChanges: make(map[uint64]map[string]*ViewChange),
		chain:              c,
		logger:             log.New(os.Stdout, fmt.Sprintf("[pbft %s] ", selfID), log.LstdFlags|log.Lmicroseconds),
	}, nil
}

// View returns the replica's current view number.
func (r *Replica) View() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

// IsPrimary reports whether selfID is the primary for the replica's
// current view.
func (r *Replica) IsPrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isPrimaryLocked(r.view)
}

func (r *Replica) isPrimaryLocked(view uint64) bool {
	return r.validators[Primary(view, len(r.validators))] == r.selfID
}

func (r *Replica) getOrCreateEntryLocked(seq uint64) *logEntry {
	e, ok := r.entries[seq]
	if !ok {
		e = &logEntry{seq: seq, prepares: map[string]*Prepare{}, commits: map[string]*Commit{}}
		r.entries[seq] = e
	}
	return e
}

// verify checks a message's embedded public key against this replica's
// cached roster entry (rejecting any mismatch outright, per spec.md
// §4.4) and then checks the signature itself via the shared Verifier.
func (r *Replica) verify(senderID string, pub []byte, signedBytes, signature []byte) error {
	cached, ok := r.pubKeys[senderID]
	if !ok {
		return provchainerr.New(provchainerr.KindSignatureInvalid, fmt.Sprintf("unknown sender %q", senderID))
	}
	if !bytes.Equal(cached, pub) {
		return provchainerr.New(provchainerr.KindSignatureInvalid, fmt.Sprintf("sender %q public key does not match cached roster entry", senderID))
	}
	ok2, err := r.verifier.Verify(senderID, signedBytes, signature)
	if err != nil {
		return provchainerr.Wrap(provchainerr.KindSignatureInvalid, "verify message signature", err)
	}
	if !ok2 {
		return provchainerr.New(provchainerr.KindSignatureInvalid, fmt.Sprintf("invalid signature from %q", senderID))
	}
	return nil
}

// ProposePrePrepare builds a candidate block for seq over payloadRDF
// and signs it, per spec.md §4.4 step 1. Only valid when selfID is
// primary for the current view; callers broadcast the result and also
// feed it back into HandlePrePrepare (self-delivery) like any other
// peer's message.
func (r *Replica) ProposePrePrepare(seq uint64, payloadRDF string) (*PrePrepare, error) {
	r.mu.Lock()
	view := r.view
	if !r.isPrimaryLocked(view) {
		r.mu.Unlock()
		return nil, provchainerr.New(provchainerr.KindConsensusTimeout, fmt.Sprintf("%s is not primary for view %d", r.selfID, view))
	}
	if e, ok := r.entries[seq]; ok && e.prePrepare != nil && e.prePrepare.View == view {
		r.mu.Unlock()
		return nil, provchainerr.New(provchainerr.KindStore, fmt.Sprintf("seq %d already proposed this view", seq))
	}
	r.mu.Unlock()

	b, quads, err := r.chain.BuildCandidate(r.signer, payloadRDF)
	if err != nil {
		return nil, err
	}

	msg := &PrePrepare{
		View:       view,
		Seq:        seq,
		BlockHash:  b.Hash,
		Block:      b,
		PayloadRDF: payloadRDF,
		SenderID:   r.selfID,
		PublicKey:  r.signer.PublicKey(),
	}
	sig, err := r.signer.Sign(msg.SignedBytes())
	if err != nil {
		return nil, provchainerr.Wrap(provchainerr.KindSignatureInvalid, "sign PrePrepare", err)
	}
	msg.Signature = sig

	r.mu.Lock()
	e := r.getOrCreateEntryLocked(seq)
	e.prePrepare = msg
	e.quads = quads
	r.mu.Unlock()

	return msg, nil
}

// HandlePrePrepare implements spec.md §4.4 step 2: validate, and on
// acceptance return a Prepare to broadcast.
func (r *Replica) HandlePrePrepare(msg *PrePrepare) (*Prepare, error) {
	if err := r.verify(msg.SenderID, msg.PublicKey, msg.SignedBytes(), msg.Signature); err != nil {
		return nil, err
	}

	r.mu.Lock()
	view := r.view
	if msg.SenderID != r.validators[Primary(msg.View, len(r.validators))] {
		r.mu.Unlock()
		return nil, provchainerr.New(provchainerr.KindSignatureInvalid, fmt.Sprintf("%q is not primary for view %d", msg.SenderID, msg.View))
	}
	if msg.View != view {
		r.mu.Unlock()
		return nil, provchainerr.New(provchainerr.KindViewChangeInProgress, fmt.Sprintf("PrePrepare view %d does not match replica view %d", msg.View, view))
	}
	if e, ok := r.entries[msg.Seq]; ok && e.prePrepare != nil && e.prePrepare.View == msg.View && e.prePrepare.BlockHash != msg.BlockHash {
		r.mu.Unlock()
		return nil, provchainerr.New(provchainerr.KindConsensusTimeout, fmt.Sprintf("seq %d already has a different PrePrepare this view", msg.Seq))
	}
	tip := r.chain.Tip()
	r.mu.Unlock()

	if tip == nil {
		return nil, provchainerr.New(provchainerr.KindStore, "no genesis block to extend")
	}
	if err := msg.Block.VerifyAgainst(r.chain.Namespace(), tip.Hash, r.verifier); err != nil {
		return nil, err
	}
	if msg.BlockHash != msg.Block.Hash {
		return nil, provchainerr.New(provchainerr.KindHashMismatch, "PrePrepare block_hash does not match embedded block's hash")
	}

	var quads []rdf.Quad
	if msg.PayloadRDF != "" || msg.Seq == 0 {
		var err error
		quads, err = rdf.ParseNQuads(bytes.NewReader([]byte(msg.PayloadRDF)), msg.Block.PayloadGraphIRI)
		if err != nil {
			return nil, provchainerr.Wrap(provchainerr.KindParse, "parse PrePrepare payload", err)
		}
		payloadHash, _, err := rdf.CanonicalHash(quads)
		if err != nil {
			return nil, provchainerr.Wrap(provchainerr.KindCanonicalizationBound, "canonicalize PrePrepare payload", err)
		}
		if payloadHash != msg.Block.PayloadHash {
			return nil, provchainerr.New(provchainerr.KindHashMismatch, "recomputed payload_hash does not match block.payload_hash")
		}
	} else {
		r.logger.Printf("seq %d: reproposed PrePrepare carries no payload text; accepting block on signature alone, deferring commit until payload is available", msg.Seq)
	}

	r.mu.Lock()
	e := r.getOrCreateEntryLocked(msg.Seq)
	if e.prePrepare == nil || e.prePrepare.View != msg.View {
		// A fresh round for this seq (first PrePrepare, or one
		// reproposed under a new view per spec.md §4.4's view-change
		// sub-protocol) starts its own prepare/commit quorum count.
		e.prepares = map[string]*Prepare{}
		e.commits = map[string]*Commit{}
		e.prepared = false
		e.committedLocal = false
	}
	e.prePrepare = msg
	e.quads = quads
	r.mu.Unlock()

	prep := &Prepare{
		View:      msg.View,
		Seq:       msg.Seq,
		BlockHash: msg.BlockHash,
		SenderID:  r.selfID,
		PublicKey: r.signer.PublicKey(),
	}
	sig, err := r.signer.Sign(prep.SignedBytes())
	if err != nil {
		return nil, provchainerr.Wrap(provchainerr.KindSignatureInvalid, "sign Prepare", err)
	}
	prep.Signature = sig
	return prep, nil
}

// HandlePrepare implements spec.md §4.4 step 3. Returns a non-nil
// Commit exactly once, the first time 2f matching Prepares have been
// collected for msg.Seq.
func (r *Replica) HandlePrepare(msg *Prepare) (*Commit, error) {
	if err := r.verify(msg.SenderID, msg.PublicKey, msg.SignedBytes(), msg.Signature); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[msg.Seq]
	if !ok || e.prePrepare == nil || e.prePrepare.View != msg.View {
		return nil, fmt.Errorf("consensus: prepare for seq %d view %d arrived before a matching PrePrepare", msg.Seq, msg.View)
	}
	if msg.BlockHash != e.prePrepare.BlockHash {
		return nil, fmt.Errorf("consensus: prepare for seq %d has block_hash %s, expected %s", msg.Seq, msg.BlockHash, e.prePrepare.BlockHash)
	}
	e.prepares[msg.SenderID] = msg

	if e.prepared || len(e.prepares) < 2*r.f {
		return nil, nil
	}
	e.prepared = true

	commit := &Commit{
		View:      msg.View,
		Seq:       msg.Seq,
		BlockHash: msg.BlockHash,
		SenderID:  r.selfID,
		PublicKey: r.signer.PublicKey(),
	}
	sig, err := r.signer.Sign(commit.SignedBytes())
	if err != nil {
		return nil, provchainerr.Wrap(provchainerr.KindSignatureInvalid, "sign Commit", err)
	}
	commit.Signature = sig
	e.commits[r.selfID] = commit
	return commit, nil
}

// HandleCommit implements spec.md §4.4 step 4. Once 2f+1 matching
// Commits are in (including the replica's own), it commits the block
// to C3/C2 exactly once and returns it with justCommitted=true.
func (r *Replica) HandleCommit(msg *Commit) (block *chain.Block, justCommitted bool, err error) {
	if err := r.verify(msg.SenderID, msg.PublicKey, msg.SignedBytes(), msg.Signature); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	e, ok := r.entries[msg.Seq]
	if !ok || e.prePrepare == nil || e.prePrepare.View != msg.View {
		r.mu.Unlock()
		return nil, false, fmt.Errorf("consensus: commit for seq %d view %d arrived before a matching PrePrepare", msg.Seq, msg.View)
	}
	if msg.BlockHash != e.prePrepare.BlockHash {
		r.mu.Unlock()
		return nil, false, fmt.Errorf("consensus: commit for seq %d has block_hash %s, expected %s", msg.Seq, msg.BlockHash, e.prePrepare.BlockHash)
	}
	e.commits[msg.SenderID] = msg

	if e.committedLocal || len(e.commits) < 2*r.f+1 {
		r.mu.Unlock()
		return nil, false, nil
	}
	if e.quads == nil {
		r.mu.Unlock()
		return nil, false, provchainerr.New(provchainerr.KindStore, fmt.Sprintf("seq %d reached committed-local but this replica never received the payload text", msg.Seq))
	}
	e.committedLocal = true
	b, quads := e.prePrepare.Block, e.quads
	r.mu.Unlock()

	if err := r.chain.Commit(b, quads); err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// StartViewChange abandons the current view (primary timeout or
// equivocation) and returns a ViewChange to broadcast, carrying proofs
// of every still-in-flight prepared entry, per spec.md §4.4's liveness
// sub-protocol.
func (r *Replica) StartViewChange() (*ViewChange, error) {
	r.mu.Lock()
	newView := r.view + 1
	var prepared []PreparedEntry
	for seq, e := range r.entries {
		if e.prepared && !e.committedLocal && e.prePrepare != nil {
			prepared = append(prepared, PreparedEntry{Seq: seq, BlockHash: e.prePrepare.BlockHash, Block: e.prePrepare.Block})
		}
	}
	sort.Slice(prepared, func(i, j int) bool { return prepared[i].Seq < prepared[j].Seq })
	lastStable := r.lastStableCheckpoint
	r.mu.Unlock()

	msg := &ViewChange{
		NewView:              newView,
		LastStableCheckpoint: lastStable,
		PreparedSet:          prepared,
		SenderID:             r.selfID,
		PublicKey:            r.signer.PublicKey(),
	}
	sig, err := r.signer.Sign(msg.SignedBytes())
	if err != nil {
		return nil, provchainerr.Wrap(provchainerr.KindSignatureInvalid, "sign ViewChange", err)
	}
	msg.Signature = sig

	r.mu.Lock()
	if r.pendingViewChanges[newView] == nil {
		r.pendingViewChanges[newView] = map[string]*ViewChange{}
	}
	r.pendingViewChanges[newView][r.selfID] = msg
	r.mu.Unlock()

	return msg, nil
}

// HandleViewChange collects ViewChange votes; once 2f+1 are in and
// selfID is primary for the target view, it returns a NewView to
// broadcast (spec.md §4.4). Otherwise returns nil, nil.
func (r *Replica) HandleViewChange(msg *ViewChange) (*NewView, error) {
	if err := r.verify(msg.SenderID, msg.PublicKey, msg.SignedBytes(), msg.Signature); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.pendingViewChanges[msg.NewView] == nil {
		r.pendingViewChanges[msg.NewView] = map[string]*ViewChange{}
	}
	r.pendingViewChanges[msg.NewView][msg.SenderID] = msg
	votes := r.pendingViewChanges[msg.NewView]

	if len(votes) < 2*r.f+1 || !r.isPrimaryLocked(msg.NewView) {
		r.mu.Unlock()
		return nil, nil
	}

	proofs := make([]ViewChange, 0, len(votes))
	bestBySeq := map[uint64]PreparedEntry{}
	for _, vc := range votes {
		proofs = append(proofs, *vc)
		for _, pe := range vc.PreparedSet {
			if _, already := bestBySeq[pe.Seq]; !already {
				bestBySeq[pe.Seq] = pe
			}
		}
	}
	sort.Slice(proofs, func(i, j int) bool { return proofs[i].SenderID < proofs[j].SenderID })

	seqs := make([]uint64, 0, len(bestBySeq))
	for seq := range bestBySeq {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	reproposed := make([]PrePrepare, 0, len(seqs))
	for _, seq := range seqs {
		pe := bestBySeq[seq]
		payloadRDF := ""
		if e, ok := r.entries[seq]; ok && e.prePrepare != nil && e.prePrepare.BlockHash == pe.BlockHash {
			payloadRDF = e.prePrepare.PayloadRDF
		} else {
			r.logger.Printf("new view %d: reproposing seq %d without local payload text; backups that also lack it must defer commit", msg.NewView, seq)
		}
		reproposed = append(reproposed, PrePrepare{
			View:       msg.NewView,
			Seq:        pe.Seq,
			BlockHash:  pe.BlockHash,
			Block:      pe.Block,
			PayloadRDF: payloadRDF,
			SenderID:   r.selfID,
			PublicKey:  r.signer.PublicKey(),
		})
	}
	r.mu.Unlock()

	for i := range reproposed {
		sig, err := r.signer.Sign(reproposed[i].SignedBytes())
		if err != nil {
			return nil, provchainerr.Wrap(provchainerr.KindSignatureInvalid, "sign reproposed PrePrepare", err)
		}
		reproposed[i].Signature = sig
	}

	nv := &NewView{
		NewView:           msg.NewView,
		ViewChangeProofs:  proofs,
		ReproposedEntries: reproposed,
		SenderID:          r.selfID,
		PublicKey:         r.signer.PublicKey(),
	}
	sig, err := r.signer.Sign(nv.SignedBytes())
	if err != nil {
		return nil, provchainerr.Wrap(provchainerr.KindSignatureInvalid, "sign NewView", err)
	}
	nv.Signature = sig
	return nv, nil
}

// ApplyNewView advances the replica to NewView.NewView and re-enters
// every reproposed entry through the normal PrePrepare acceptance path,
// per spec.md §4.4's "replicas resume from that state". Returns the
// Prepares to broadcast in response, one per reproposed entry this
// replica accepted.
func (r *Replica) ApplyNewView(msg *NewView) ([]*Prepare, error) {
	if err := r.verify(msg.SenderID, msg.PublicKey, msg.SignedBytes(), msg.Signature); err != nil {
		return nil, err
	}
	if len(msg.ViewChangeProofs) < 2*r.f+1 {
		return nil, provchainerr.New(provchainerr.KindViewChangeInProgress, "NewView carries fewer than 2f+1 ViewChange proofs")
	}
	for _, vc := range msg.ViewChangeProofs {
		if err := r.verify(vc.SenderID, vc.PublicKey, vc.SignedBytes(), vc.Signature); err != nil {
			return nil, provchainerr.Wrap(provchainerr.KindSignatureInvalid, "verify embedded ViewChange proof", err)
		}
	}

	r.mu.Lock()
	r.view = msg.NewView
	r.mu.Unlock()

	var prepares []*Prepare
	for i := range msg.ReproposedEntries {
		pp := msg.ReproposedEntries[i]
		prep, err := r.HandlePrePrepare(&pp)
		if err != nil {
			r.logger.Printf("new view %d: seq %d reproposal rejected: %v", msg.NewView, pp.Seq, err)
			continue
		}
		prepares = append(prepares, prep)
	}
	return prepares, nil
}

// ViewChangeTimeout returns a capped exponential backoff for the view
// change occurring after numPriorAttempts failed attempts at ordering
// the current seq, per spec.md §4.4's "exponential, capped" requirement.
func ViewChangeTimeout(base time.Duration, numPriorAttempts int, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < numPriorAttempts && d < cap; i++ {
		d *= 2
	}
	if d > cap {
		d = cap
	}
	return d
}
