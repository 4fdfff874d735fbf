// Copyright 2025 ProvChain Authors
//
// Chain ties C1 (payload hashing), C2 (persistence) and a Signer
// (satisfied by pkg/wallet) together into the three operations of
// spec.md §4.3: append, validate, reconstruct_from_store. Kept as a
// single write-locked struct per spec.md §5 ("the chain tip ... [is]
// a single logically-shared resource"), matching the teacher's
// pkg/consensus state-machine's sync.Mutex-guarded style.

package chain

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/provchain/provchain/pkg/merkle"
	"github.com/provchain/provchain/pkg/provchainerr"
	"github.com/provchain/provchain/pkg/rdf"
	"github.com/provchain/provchain/pkg/store"
)

// Signer produces a signature over an arbitrary byte payload on behalf
// of a single validator identity. Implemented by pkg/wallet; modeled
// as an interface here (rather than importing pkg/wallet directly) so
// C3 stays testable without a wallet and so C3 never depends upward on
// C5, matching the dependency order in spec.md §9.
type Signer interface {
	ValidatorID() string
	Sign(data []byte) ([]byte, error)
}

// Verifier checks a signature against the claimed validator's public
// key. Split from Signer because validate() must check signatures from
// validators other than the local one.
type Verifier interface {
	Verify(validatorID string, data, signature []byte) (bool, error)
}

// Status is the overall health classification for a Report.
type Status string

const (
	StatusHealthy  Status = "Healthy"
	StatusWarning  Status = "Warning"
	StatusCritical Status = "Critical"
)

// Report is the output of Chain.Validate, per spec.md §4.3/§4.6.
type Report struct {
	Status Status
	Issues []Issue
}

// Issue names one invariant violation found during validation.
type Issue struct {
	BlockIndex uint64
	Kind       provchainerr.Kind
	Detail     string
}

// Chain is the in-memory, append-only block list plus its backing store.
type Chain struct {
	mu        sync.Mutex
	namespace string
	s         store.Store
	blocks    []*Block
	log       *log.Logger
}

// New creates an empty Chain over an already-open Store. Callers
// typically follow this with either Genesis (fresh deployment) or
// ReconstructFromStore (restart).
func New(namespace string, s store.Store) *Chain {
	return &Chain{
		namespace: namespace,
		s:         s,
		log:       log.New(os.Stdout, "[chain] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// Genesis installs block 0: index 0, the well-known GenesisPrevHash and
// an empty payload graph, signed by signer. A non-empty ontologyRDF is
// stored in the ontology graph, not the payload graph. The block's
// timestamp is the time of the call and its signature comes from
// signer, so the genesis hash is not a fixed constant: two Genesis
// calls produce different genesis blocks.
func (c *Chain) Genesis(signer Signer, ontologyRDF string) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) != 0 {
		return nil, provchainerr.New(provchainerr.KindStore, "genesis called on non-empty chain")
	}

	if ontologyRDF != "" {
		quads, err := rdf.ParseNQuads(strings.NewReader(ontologyRDF), store.OntologyGraphIRI(c.namespace))
		if err != nil {
			return nil, provchainerr.Wrap(provchainerr.KindParse, "parse ontology bootstrap", err)
		}
		if err := c.s.PutGraph(store.OntologyGraphIRI(c.namespace), quads); err != nil {
			return nil, provchainerr.Wrap(provchainerr.KindStore, "put ontology graph", err)
		}
	}

	b, quads, err := c.buildCandidateLocked(signer, "", 0)
	if err != nil {
		return nil, err
	}
	if err := c.commitLocked(b, quads); err != nil {
		return nil, err
	}
	return b, nil
}

// Append is the convenience path used outside full PBFT (single-node
// runs, tests): build a candidate over the current tip and commit it
// immediately. A PBFT replica instead calls BuildCandidate on its own
// and defers Commit until 2f+1 matching Commit messages are in, per
// spec.md §4.4.
func (c *Chain) Append(signer Signer, payloadRDF string) (*Block, error) {
	b, quads, err := c.BuildCandidate(signer, payloadRDF)
	if err != nil {
		return nil, err
	}
	if err := c.Commit(b, quads); err != nil {
		return nil, err
	}
	return b, nil
}

// BuildCandidate computes a fully signed, hashed block for the next
// chain slot — payload_hash via C1, prev_hash from the current tip,
// state_root over everything committed so far plus this candidate —
// without writing anything to the store. Safe to call concurrently
// with other BuildCandidate calls (the tip and state_root inputs are
// read under lock), but only one of the resulting candidates may ever
// be Committed, since Commit rejects an index that's no longer next.
func (c *Chain) BuildCandidate(signer Signer, payloadRDF string) (*Block, []rdf.Quad, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) == 0 {
		return nil, nil, provchainerr.New(provchainerr.KindStore, "build candidate called before genesis")
	}
	return c.buildCandidateLocked(signer, payloadRDF, c.tipLocked().Index+1)
}

func (c *Chain) buildCandidateLocked(signer Signer, payloadRDF string, index uint64) (*Block, []rdf.Quad, error) {
	graphIRI := store.PayloadGraphIRI(c.namespace, index)
	quads, err := rdf.ParseNQuads(strings.NewReader(payloadRDF), graphIRI)
	if err != nil {
		return nil, nil, provchainerr.Wrap(provchainerr.KindParse, fmt.Sprintf("parse payload for block %d", index), err)
	}

	payloadHash, fallback, err := rdf.CanonicalHash(quads)
	if err != nil {
		return nil, nil, provchainerr.Wrap(provchainerr.KindCanonicalizationBound, fmt.Sprintf("canonicalize payload for block %d", index), err)
	}
	if fallback {
		c.log.Printf("block %d: canonicalization fell back to sorted-triples hash", index)
	}

	prevHash := GenesisPrevHash
	if index > 0 {
		prevHash = c.tipLocked().Hash
	}

	stateRoot, err := c.computeStateRootLocked(payloadHash)
	if err != nil {
		return nil, nil, provchainerr.Wrap(provchainerr.KindStore, fmt.Sprintf("compute state root for block %d", index), err)
	}

	b := &Block{
		Index:            index,
		Timestamp:        time.Now().UTC(),
		PayloadGraphIRI:  graphIRI,
		PayloadHash:      payloadHash,
		PrevHash:         prevHash,
		StateRoot:        stateRoot,
		ValidatorID:      signer.ValidatorID(),
		TransactionCount: len(quads),
	}

	sig, err := signer.Sign(b.signedBytes(c.namespace))
	if err != nil {
		return nil, nil, provchainerr.Wrap(provchainerr.KindSignatureInvalid, fmt.Sprintf("sign block %d", index), err)
	}
	b.Signature = sig
	b.Hash = b.computeHash(c.namespace)

	return b, quads, nil
}

// Commit persists a block built by BuildCandidate (or reconstructed
// identically by a PBFT backup from the same payload) to the payload
// graph and the metadata graph, and appends it to the in-memory chain.
// It rejects a block whose index is not exactly the current tip+1,
// which also rejects double-commits of the same candidate.
func (c *Chain) Commit(b *Block, quads []rdf.Quad) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitLocked(b, quads)
}

func (c *Chain) commitLocked(b *Block, quads []rdf.Quad) error {
	if b.Index != uint64(len(c.blocks)) {
		return provchainerr.New(provchainerr.KindChainLinkBroken, fmt.Sprintf("commit block %d: chain is at height %d", b.Index, len(c.blocks)))
	}
	if err := c.s.PutGraph(b.PayloadGraphIRI, quads); err != nil {
		return provchainerr.Wrap(provchainerr.KindStore, fmt.Sprintf("commit payload graph for block %d", b.Index), err)
	}
	if err := c.appendMetadataLocked(b); err != nil {
		return err
	}
	c.blocks = append(c.blocks, b)
	return nil
}

func (c *Chain) appendMetadataLocked(b *Block) error {
	metaGraph := store.MetadataGraphIRI(c.namespace)
	existing, err := c.s.GetGraph(metaGraph)
	if err != nil {
		return provchainerr.Wrap(provchainerr.KindStore, "read metadata graph", err)
	}
	merged := append(existing, b.persistedQuads(c.namespace)...)
	if err := c.s.PutGraph(metaGraph, merged); err != nil {
		return provchainerr.Wrap(provchainerr.KindStore, fmt.Sprintf("persist metadata for block %d", b.Index), err)
	}
	return nil
}

// computeStateRootLocked is the Merkle root (Open Question 1) over the
// ontology graph's canonical hash followed by every payload hash from
// block 0 through the block currently being built.
func (c *Chain) computeStateRootLocked(newPayloadHash string) (string, error) {
	ontologyQuads, err := c.s.GetGraph(store.OntologyGraphIRI(c.namespace))
	if err != nil {
		return "", fmt.Errorf("read ontology graph: %w", err)
	}
	ontologyHash, _, err := rdf.CanonicalHash(ontologyQuads)
	if err != nil {
		return "", fmt.Errorf("hash ontology graph: %w", err)
	}

	leaves := make([][]byte, 0, len(c.blocks)+2)
	leaf, err := hexLeaf(ontologyHash)
	if err != nil {
		return "", err
	}
	leaves = append(leaves, leaf)
	for _, b := range c.blocks {
		l, err := hexLeaf(b.PayloadHash)
		if err != nil {
			return "", err
		}
		leaves = append(leaves, l)
	}
	newLeaf, err := hexLeaf(newPayloadHash)
	if err != nil {
		return "", err
	}
	leaves = append(leaves, newLeaf)

	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return "", fmt.Errorf("build state root tree: %w", err)
	}
	return tree.RootHex(), nil
}

func hexLeaf(h string) ([]byte, error) {
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("decode leaf hash %q: %w", h, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("leaf hash %q is %d bytes, want 32", h, len(b))
	}
	return b, nil
}

func (c *Chain) tipLocked() *Block {
	return c.blocks[len(c.blocks)-1]
}

// Namespace returns the chain's configured namespace, needed by callers
// (e.g. pkg/consensus) that verify a Block's signed bytes themselves.
func (c *Chain) Namespace() string {
	return c.namespace
}

// Store returns the backing C2 store, needed by callers (e.g.
// pkg/integrity's transaction-count and SPARQL-visibility checks) that
// must read payload graphs directly rather than through Chain's own
// validation path.
func (c *Chain) Store() store.Store {
	return c.s
}

// Tip returns the current chain head, or nil before genesis.
func (c *Chain) Tip() *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.blocks) == 0 {
		return nil
	}
	return c.tipLocked()
}

// Len returns the number of blocks in the chain, including genesis.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// Block returns the block at index, or nil if out of range.
func (c *Chain) Block(index uint64) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= uint64(len(c.blocks)) {
		return nil
	}
	return c.blocks[index]
}

// ReconstructFromStore rebuilds the in-memory chain from the metadata
// graph on startup, per spec.md §4.3's reconstruct_from_store.
func (c *Chain) ReconstructFromStore() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	quads, err := c.s.GetGraph(store.MetadataGraphIRI(c.namespace))
	if err != nil {
		return provchainerr.Wrap(provchainerr.KindStore, "read metadata graph", err)
	}

	byIndex := map[uint64][]rdf.Quad{}
	for _, q := range quads {
		idx, ok := indexFromRecordSubject(q.Subject)
		if !ok {
			continue
		}
		byIndex[idx] = append(byIndex[idx], q)
	}

	indices := make([]uint64, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	blocks := make([]*Block, 0, len(indices))
	for i, idx := range indices {
		if uint64(i) != idx {
			return provchainerr.New(provchainerr.KindChainLinkBroken, fmt.Sprintf("metadata graph has a gap before index %d", idx))
		}
		b, err := metadataToBlock(idx, byIndex[idx])
		if err != nil {
			return provchainerr.Wrap(provchainerr.KindStore, fmt.Sprintf("decode block %d", idx), err)
		}
		blocks = append(blocks, b)
	}

	c.blocks = blocks
	c.log.Printf("reconstructed %d blocks from store", len(blocks))
	return nil
}

// InspectMetadata scans the metadata graph directly — independent of
// the in-memory block list ReconstructFromStore populates — and
// reports which block indices it finds and which, if any, fail to
// decode. Used by pkg/integrity's C6 check 1 (blockchain integrity,
// spec.md §4.6) to compare chain length against the persisted block
// count without mutating chain state.
func (c *Chain) InspectMetadata() (indices []uint64, decodeErrors map[uint64]string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	quads, getErr := c.s.GetGraph(store.MetadataGraphIRI(c.namespace))
	if getErr != nil {
		return nil, nil, provchainerr.Wrap(provchainerr.KindStore, "read metadata graph", getErr)
	}

	byIndex := map[uint64][]rdf.Quad{}
	for _, q := range quads {
		idx, ok := indexFromRecordSubject(q.Subject)
		if !ok {
			continue
		}
		byIndex[idx] = append(byIndex[idx], q)
	}

	decodeErrors = map[uint64]string{}
	for idx, qs := range byIndex {
		indices = append(indices, idx)
		if _, derr := metadataToBlock(idx, qs); derr != nil {
			decodeErrors[idx] = derr.Error()
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices, decodeErrors, nil
}

func indexFromRecordSubject(t rdf.Term) (uint64, bool) {
	if t.Kind != rdf.KindIRI {
		return 0, false
	}
	s := t.IRI.String()
	const midMarker = "/block/"
	i := strings.Index(s, midMarker)
	if i < 0 {
		return 0, false
	}
	rest := s[i+len(midMarker):]
	j := strings.IndexByte(rest, '#')
	if j < 0 {
		return 0, false
	}
	var idx uint64
	if _, err := fmt.Sscanf(rest[:j], "%d", &idx); err != nil {
		return 0, false
	}
	return idx, true
}

// Validate recomputes every invariant of spec.md §4.3 across the whole
// chain: payload_hash agreement with C2, block hash recomputation,
// signature verification, prev_hash linkage and monotonic index.
func (c *Chain) Validate(verifier Verifier) (*Report, error) {
	c.mu.Lock()
	blocks := make([]*Block, len(c.blocks))
	copy(blocks, c.blocks)
	c.mu.Unlock()

	report := &Report{Status: StatusHealthy}

	for i, b := range blocks {
		if b.Index != uint64(i) {
			report.addIssue(b.Index, provchainerr.KindChainLinkBroken, "index is not monotonic")
			continue
		}

		wantPrev := GenesisPrevHash
		if i > 0 {
			wantPrev = blocks[i-1].Hash
		}
		if err := b.VerifyAgainst(c.namespace, wantPrev, verifier); err != nil {
			kind, _ := provchainerr.KindOf(err)
			report.addIssue(b.Index, kind, err.Error())
		}

		storedQuads, err := c.s.GetGraph(b.PayloadGraphIRI)
		if err != nil {
			report.addIssue(b.Index, provchainerr.KindStore, fmt.Sprintf("read payload graph: %v", err))
			continue
		}
		recomputed, _, err := rdf.CanonicalHash(storedQuads)
		if err != nil {
			report.addIssue(b.Index, provchainerr.KindCanonicalizationBound, fmt.Sprintf("recompute payload hash: %v", err))
		} else if recomputed != b.PayloadHash {
			report.addIssue(b.Index, provchainerr.KindHashMismatch, fmt.Sprintf("stored payload_hash %s, recomputed %s", b.PayloadHash, recomputed))
		}
	}

	return report, nil
}

func (r *Report) addIssue(index uint64, kind provchainerr.Kind, detail string) {
	r.Issues = append(r.Issues, Issue{BlockIndex: index, Kind: kind, Detail: detail})
	if kind == provchainerr.KindHashMismatch || kind == provchainerr.KindChainLinkBroken || kind == provchainerr.KindSignatureInvalid {
		r.Status = StatusCritical
	} else if r.Status == StatusHealthy {
		r.Status = StatusWarning
	}
}
