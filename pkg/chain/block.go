// Copyright 2025 ProvChain Authors
//
// Block & chain (C3): builds, links and validates blocks whose payload
// hash comes from C1 (pkg/rdf) and whose payload lives in C2
// (pkg/store). Grounded on original_source/tests/pbft_message_signing_tests.rs's
// Block field shape and on the deleted pkg/ledger/store.go's
// KV-key-layout idiom, now expressed as metadata-graph triples per
// spec.md §6 rather than as a JSON record.

package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/provchain/provchain/pkg/provchainerr"
	"github.com/provchain/provchain/pkg/rdf"
	"github.com/provchain/provchain/pkg/store"
)

// Ontology namespace for the fixed block-metadata predicates of
// spec.md §6. A constant rather than configuration: the wire format is
// pinned by the spec, not by deployment.
const ontologyNS = "http://provchain.org/ns#"

var (
	predHasIndex        = rdf.InternIRI(ontologyNS + "hasIndex")
	predHasPrevHash     = rdf.InternIRI(ontologyNS + "hasPrevHash")
	predHasPayloadHash  = rdf.InternIRI(ontologyNS + "hasPayloadHash")
	predHasPayloadGraph = rdf.InternIRI(ontologyNS + "hasPayloadGraph")
	predHasStateRoot    = rdf.InternIRI(ontologyNS + "hasStateRoot")
	predHasValidator    = rdf.InternIRI(ontologyNS + "hasValidator")
	predHasSignature    = rdf.InternIRI(ontologyNS + "hasSignature")
	predHasHash         = rdf.InternIRI(ontologyNS + "hasHash")
	predHasTimestamp    = rdf.InternIRI(ontologyNS + "hasTimestamp")
	predHasTripleCount  = rdf.InternIRI(ontologyNS + "hasTripleCount")
)

const (
	xsdDateTime = "http://www.w3.org/2001/XMLSchema#dateTime"
	xsdInteger  = "http://www.w3.org/2001/XMLSchema#integer"
)

// GenesisPrevHash is the well-known constant spec.md §6 requires for
// block 0's prev_hash: 64 '0' characters, the hex width of a SHA-256 sum.
var GenesisPrevHash = strings.Repeat("0", sha256.Size*2)

// Block is one append-only chain entry. Never mutated after Hash is set.
type Block struct {
	Index           uint64
	Timestamp       time.Time
	PayloadGraphIRI *rdf.IRI
	PayloadHash     string
	PrevHash        string
	StateRoot       string
	ValidatorID     string
	Signature       []byte
	Hash            string
	// TransactionCount is the number of triples the builder parsed out
	// of the raw payload text at BuildCandidate time. C6 check 2
	// (transaction counting, spec.md §4.6) compares this reported count
	// against an independent re-parse of the payload graph from C2.
	TransactionCount int
}

// recordIRI returns the per-block metadata-graph subject IRI, distinct
// from the block's payload graph IRI so a SPARQL query against the
// metadata graph is never confused with one against a payload graph.
func recordIRI(namespace string, index uint64) *rdf.IRI {
	return rdf.InternIRI(fmt.Sprintf("http://%s/block/%d#record", namespace, index))
}

// fieldQuads renders the fields of b that are always part of the
// signed portion (every predicate except hasSignature and hasHash).
func (b *Block) fieldQuads(namespace string) []rdf.Quad {
	subj := rdf.NewIRITerm(recordIRI(namespace, b.Index).String())
	graph := store.MetadataGraphIRI(namespace)

	return []rdf.Quad{
		{Subject: subj, Predicate: predHasIndex, Object: rdf.NewLiteral(strconv.FormatUint(b.Index, 10), xsdInteger, ""), Graph: graph},
		{Subject: subj, Predicate: predHasPrevHash, Object: rdf.NewLiteral(b.PrevHash, "", ""), Graph: graph},
		{Subject: subj, Predicate: predHasPayloadHash, Object: rdf.NewLiteral(b.PayloadHash, "", ""), Graph: graph},
		{Subject: subj, Predicate: predHasPayloadGraph, Object: rdf.NewIRITerm(b.PayloadGraphIRI.String()), Graph: graph},
		{Subject: subj, Predicate: predHasStateRoot, Object: rdf.NewLiteral(b.StateRoot, "", ""), Graph: graph},
		{Subject: subj, Predicate: predHasValidator, Object: rdf.NewLiteral(b.ValidatorID, "", ""), Graph: graph},
		{Subject: subj, Predicate: predHasTimestamp, Object: rdf.NewLiteral(b.Timestamp.UTC().Format(time.RFC3339), xsdDateTime, ""), Graph: graph},
		{Subject: subj, Predicate: predHasTripleCount, Object: rdf.NewLiteral(strconv.Itoa(b.TransactionCount), xsdInteger, ""), Graph: graph},
	}
}

func (b *Block) signatureQuad(namespace string) rdf.Quad {
	subj := rdf.NewIRITerm(recordIRI(namespace, b.Index).String())
	return rdf.Quad{
		Subject: subj, Predicate: predHasSignature,
		Object: rdf.NewLiteral(hex.EncodeToString(b.Signature), "", ""),
		Graph:  store.MetadataGraphIRI(namespace),
	}
}

func (b *Block) hashQuad(namespace string) rdf.Quad {
	subj := rdf.NewIRITerm(recordIRI(namespace, b.Index).String())
	return rdf.Quad{
		Subject: subj, Predicate: predHasHash,
		Object: rdf.NewLiteral(b.Hash, "", ""),
		Graph:  store.MetadataGraphIRI(namespace),
	}
}

// signedBytes is the canonical byte image signed by the validator:
// the sorted N-Quads serialization of every metadata predicate except
// hasSignature and hasHash.
func (b *Block) signedBytes(namespace string) []byte {
	return joinSortedLines(b.fieldQuads(namespace))
}

// hashedBytes is the canonical byte image hashed into Hash: the signed
// fields plus hasSignature, still excluding hasHash per spec.md §6.
func (b *Block) hashedBytes(namespace string) []byte {
	quads := append(b.fieldQuads(namespace), b.signatureQuad(namespace))
	return joinSortedLines(quads)
}

func joinSortedLines(quads []rdf.Quad) []byte {
	lines := rdf.SortedLines(quads)
	var buf []byte
	for _, l := range lines {
		buf = append(buf, l...)
	}
	return buf
}

// computeHash returns the hex-encoded SHA-256 of hashedBytes. Block
// hashing is pinned to SHA-256 by spec.md §6's external wire format,
// independent of C1's SHA3-256 choice for payload canonicalization.
func (b *Block) computeHash(namespace string) string {
	sum := sha256.Sum256(b.hashedBytes(namespace))
	return hex.EncodeToString(sum[:])
}

// persistedQuads is every triple written to the metadata graph for
// this block: fields, signature and the final hash.
func (b *Block) persistedQuads(namespace string) []rdf.Quad {
	quads := append(b.fieldQuads(namespace), b.signatureQuad(namespace), b.hashQuad(namespace))
	return quads
}

// VerifyAgainst checks the three block-local invariants of spec.md §4.3
// that don't require touching the payload graph: prev_hash linkage,
// hash recomputation, and signature validity against the validator's
// cached public key. Shared by Chain.Validate's per-block loop and by
// pkg/consensus, which must authenticate a PrePrepare's embedded Block
// before trusting it — without needing to import anything from pkg/chain
// beyond this method and the Verifier interface it already depends on.
func (b *Block) VerifyAgainst(namespace string, wantPrevHash string, verifier Verifier) error {
	if b.PrevHash != wantPrevHash {
		return provchainerr.New(provchainerr.KindChainLinkBroken, fmt.Sprintf("prev_hash %s does not match expected %s", b.PrevHash, wantPrevHash))
	}
	if recomputed := b.computeHash(namespace); recomputed != b.Hash {
		return provchainerr.New(provchainerr.KindHashMismatch, fmt.Sprintf("stored hash %s, recomputed %s", b.Hash, recomputed))
	}
	ok, err := verifier.Verify(b.ValidatorID, b.signedBytes(namespace), b.Signature)
	if err != nil {
		return provchainerr.Wrap(provchainerr.KindSignatureInvalid, "verify block signature", err)
	}
	if !ok {
		return provchainerr.New(provchainerr.KindSignatureInvalid, "signature does not verify against validator public key")
	}
	return nil
}

// metadataToBlock reconstructs a Block from the triples recorded under
// one block's subject IRI in the metadata graph.
func metadataToBlock(index uint64, quads []rdf.Quad) (*Block, error) {
	b := &Block{Index: index}
	found := map[string]bool{}
	for _, q := range quads {
		switch q.Predicate.IRI {
		case predHasPrevHash:
			b.PrevHash = q.Object.Lexical
			found["prev"] = true
		case predHasPayloadHash:
			b.PayloadHash = q.Object.Lexical
			found["payloadHash"] = true
		case predHasPayloadGraph:
			b.PayloadGraphIRI = q.Object.IRI
			found["payloadGraph"] = true
		case predHasStateRoot:
			b.StateRoot = q.Object.Lexical
			found["stateRoot"] = true
		case predHasValidator:
			b.ValidatorID = q.Object.Lexical
			found["validator"] = true
		case predHasSignature:
			sig, err := hex.DecodeString(q.Object.Lexical)
			if err != nil {
				return nil, fmt.Errorf("chain: decode signature for block %d: %w", index, err)
			}
			b.Signature = sig
			found["signature"] = true
		case predHasTimestamp:
			ts, err := time.Parse(time.RFC3339, q.Object.Lexical)
			if err != nil {
				return nil, fmt.Errorf("chain: decode timestamp for block %d: %w", index, err)
			}
			b.Timestamp = ts
			found["timestamp"] = true
		case predHasTripleCount:
			n, err := strconv.Atoi(q.Object.Lexical)
			if err != nil {
				return nil, fmt.Errorf("chain: decode triple count for block %d: %w", index, err)
			}
			b.TransactionCount = n
			found["tripleCount"] = true
		case predHasHash:
			b.Hash = q.Object.Lexical
			found["hash"] = true
		}
	}
	for _, required := range []string{"prev", "payloadHash", "payloadGraph", "stateRoot", "validator", "signature", "timestamp", "hash", "tripleCount"} {
		if !found[required] {
			return nil, fmt.Errorf("chain: block %d metadata missing %s", index, required)
		}
	}
	return b, nil
}
