// Copyright 2025 ProvChain Authors
//
// KVStore is the durable Store implementation, backed by a CometBFT
// dbm.DB through pkg/kvdb.KVAdapter. Each graph is one JSON-marshaled
// record under a graph/<iri> key, after the JSON-marshaled-record idiom
// that the teacher's deleted pkg/ledger/store.go used for its own KV
// records; that idiom is the thing this file is grounded on, not any
// specific Accumulate record type.

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/provchain/provchain/pkg/kvdb"
	"github.com/provchain/provchain/pkg/rdf"
)

const (
	graphKeyPrefix = "graph/" // graph/<iri> -> JSON []wireQuad
)

// wireQuad is the JSON record shape for one stored quad. Terms are
// serialized through the canonical N-Quads term encoding so the record
// is self-describing and independent of rdf's in-memory IRI interning.
type wireQuad struct {
	Subject   string `json:"s"`
	Predicate string `json:"p"`
	Object    string `json:"o"`
}

// KVStore is a Store backed by an embedded key-value engine (goleveldb,
// badgerdb, memdb, ...) via CometBFT's dbm.DB. One KVStore instance
// owns exclusive write access to its underlying DB; concurrent writers
// to the same data directory are not supported, matching the
// single-writer assumption the teacher's ledger store documented.
type KVStore struct {
	db  dbm.DB
	adp *kvdb.KVAdapter
}

// NewKVStore wraps an already-open dbm.DB. Callers choose the backend
// (goleveldb for production, memdb for tests) and are responsible for
// closing it only through KVStore.Close.
func NewKVStore(db dbm.DB) *KVStore {
	return &KVStore{db: db, adp: kvdb.NewKVAdapter(db)}
}

func graphKey(graphIRI *rdf.IRI) []byte {
	return []byte(graphKeyPrefix + graphIRI.String())
}

func (s *KVStore) PutGraph(graphIRI *rdf.IRI, quads []rdf.Quad) error {
	wire := make([]wireQuad, len(quads))
	for i, q := range quads {
		wire[i] = wireQuad{
			Subject:   q.Subject.String(),
			Predicate: q.Predicate.String(),
			Object:    q.Object.String(),
		}
	}
	buf, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("store: marshal graph %s: %w", graphIRI, err)
	}
	if err := s.adp.Set(graphKey(graphIRI), buf); err != nil {
		return fmt.Errorf("store: put graph %s: %w", graphIRI, err)
	}
	return nil
}

func (s *KVStore) GetGraph(graphIRI *rdf.IRI) ([]rdf.Quad, error) {
	buf, err := s.adp.Get(graphKey(graphIRI))
	if err != nil {
		return nil, fmt.Errorf("store: get graph %s: %w", graphIRI, err)
	}
	if buf == nil {
		return nil, nil
	}
	return decodeGraph(graphIRI, buf)
}

func decodeGraph(graphIRI *rdf.IRI, buf []byte) ([]rdf.Quad, error) {
	var wire []wireQuad
	if err := json.Unmarshal(buf, &wire); err != nil {
		return nil, fmt.Errorf("store: decode graph %s: %w", graphIRI, err)
	}
	quads := make([]rdf.Quad, len(wire))
	for i, w := range wire {
		s, err := rdf.ParseTermString(w.Subject)
		if err != nil {
			return nil, fmt.Errorf("store: decode graph %s subject: %w", graphIRI, err)
		}
		p, err := rdf.ParseTermString(w.Predicate)
		if err != nil {
			return nil, fmt.Errorf("store: decode graph %s predicate: %w", graphIRI, err)
		}
		o, err := rdf.ParseTermString(w.Object)
		if err != nil {
			return nil, fmt.Errorf("store: decode graph %s object: %w", graphIRI, err)
		}
		quads[i] = rdf.Quad{Subject: s, Predicate: p, Object: o, Graph: graphIRI}
	}
	return quads, nil
}

func (s *KVStore) Graphs() ([]*rdf.IRI, error) {
	var names []string
	err := s.adp.IteratePrefix([]byte(graphKeyPrefix), func(key, _ []byte) bool {
		names = append(names, string(bytes.TrimPrefix(key, []byte(graphKeyPrefix))))
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("store: list graphs: %w", err)
	}
	sort.Strings(names)
	out := make([]*rdf.IRI, len(names))
	for i, n := range names {
		out[i] = rdf.InternIRI(n)
	}
	return out, nil
}

func (s *KVStore) Query(q string) (*QueryResult, error) {
	graphIRIs, err := s.Graphs()
	if err != nil {
		return nil, err
	}
	var all []rdf.Quad
	for _, g := range graphIRIs {
		quads, err := s.GetGraph(g)
		if err != nil {
			return nil, err
		}
		all = append(all, quads...)
	}
	return runQuery(q, all)
}

func (s *KVStore) Snapshot() ([]byte, error) {
	graphIRIs, err := s.Graphs()
	if err != nil {
		return nil, err
	}
	wire := snapshotWire{Graphs: make(map[string][]string, len(graphIRIs))}
	for _, g := range graphIRIs {
		quads, err := s.GetGraph(g)
		if err != nil {
			return nil, err
		}
		lines := make([]string, len(quads))
		for i, q := range quads {
			lines[i] = rdf.EncodeTriple(q)
		}
		wire.Graphs[g.String()] = lines
	}
	return json.Marshal(wire)
}

// Restore replaces every graph currently in the store with the
// snapshot's contents. Graphs present in the store but absent from the
// snapshot are deleted, keeping Restore an exact replace rather than a
// merge.
func (s *KVStore) Restore(snapshot []byte) error {
	var wire snapshotWire
	if err := json.Unmarshal(snapshot, &wire); err != nil {
		return fmt.Errorf("store: restore snapshot: %w", err)
	}

	existing, err := s.Graphs()
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(wire.Graphs))

	for g, lines := range wire.Graphs {
		graphIRI := rdf.InternIRI(g)
		keep[g] = true
		var quads []rdf.Quad
		for _, line := range lines {
			parsed, err := rdf.ParseNQuads(bytes.NewReader([]byte(line)), graphIRI)
			if err != nil {
				return fmt.Errorf("store: restore graph %s: %w", g, err)
			}
			quads = append(quads, parsed...)
		}
		if err := s.PutGraph(graphIRI, quads); err != nil {
			return err
		}
	}

	for _, g := range existing {
		if !keep[g.String()] {
			if err := s.adp.Delete(graphKey(g)); err != nil {
				return fmt.Errorf("store: restore prune graph %s: %w", g, err)
			}
		}
	}
	return nil
}

func (s *KVStore) Close() error {
	return s.db.Close()
}
