// Copyright 2025 ProvChain Authors
//
// Persistent triple store (C2). Store is the one place in this
// codebase where dynamic dispatch is deliberate, per spec.md §9: it
// lets a pure in-memory store (tests, simulation) and a durable
// cometbft-db-backed store share one contract. Everywhere else,
// tagged variants are preferred.

package store

import (
	"github.com/provchain/provchain/pkg/rdf"
)

// Store is the persistent triple store contract from spec.md §4.2.
type Store interface {
	// PutGraph atomically replaces the named graph's triple set. Either
	// all of quads becomes visible or none does.
	PutGraph(graphIRI *rdf.IRI, quads []rdf.Quad) error

	// GetGraph returns the exact triple set last committed to graphIRI
	// via PutGraph. Returns (nil, nil) for a graph that was never put.
	GetGraph(graphIRI *rdf.IRI) ([]rdf.Quad, error)

	// Query runs a read-only query over the union of all named graphs.
	// See query.go for the supported subset.
	Query(q string) (*QueryResult, error)

	// Snapshot produces a byte-level snapshot suitable for Restore.
	Snapshot() ([]byte, error)

	// Restore replaces the store's entire contents with a prior Snapshot.
	Restore(snapshot []byte) error

	// Graphs lists every named graph IRI currently stored, including
	// the reserved metadata and ontology graphs.
	Graphs() ([]*rdf.IRI, error)

	// Close releases any underlying resources (file handles, etc).
	Close() error
}

// Reserved graph IRIs, fixed across every ProvChain deployment's
// namespace, per spec.md §4.2's "Layout" paragraph.
const (
	MetadataGraphSuffix = "/graph/metadata"
	OntologyGraphSuffix = "/graph/ontology"
)

// MetadataGraphIRI returns the reserved block-metadata graph IRI for a namespace.
func MetadataGraphIRI(namespace string) *rdf.IRI {
	return rdf.InternIRI("http://" + namespace + MetadataGraphSuffix)
}

// OntologyGraphIRI returns the reserved ontology graph IRI for a namespace.
func OntologyGraphIRI(namespace string) *rdf.IRI {
	return rdf.InternIRI("http://" + namespace + OntologyGraphSuffix)
}

// PayloadGraphIRI returns the canonical payload graph IRI for a block index.
func PayloadGraphIRI(namespace string, index uint64) *rdf.IRI {
	return rdf.InternIRI("http://" + namespace + "/block/" + itoa(index))
}

func itoa(u uint64) string {
	if u == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	return string(buf[i:])
}
