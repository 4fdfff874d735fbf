// Copyright 2025 ProvChain Authors
//
// MemStore is the pure in-memory Store implementation: fast, used by
// unit tests and by the single-process validator simulation. Grounded
// on pkg/merkle's sync.RWMutex-guarded map idiom.

package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/provchain/provchain/pkg/rdf"
)

type MemStore struct {
	mu     sync.RWMutex
	graphs map[string][]rdf.Quad // graph IRI string -> quads
}

func NewMemStore() *MemStore {
	return &MemStore{graphs: make(map[string][]rdf.Quad)}
}

func (m *MemStore) PutGraph(graphIRI *rdf.IRI, quads []rdf.Quad) error {
	cp := make([]rdf.Quad, len(quads))
	copy(cp, quads)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphs[graphIRI.String()] = cp
	return nil
}

func (m *MemStore) GetGraph(graphIRI *rdf.IRI) ([]rdf.Quad, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	quads, ok := m.graphs[graphIRI.String()]
	if !ok {
		return nil, nil
	}
	cp := make([]rdf.Quad, len(quads))
	copy(cp, quads)
	return cp, nil
}

func (m *MemStore) Graphs() ([]*rdf.IRI, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.graphs))
	for g := range m.graphs {
		names = append(names, g)
	}
	sort.Strings(names)
	out := make([]*rdf.IRI, len(names))
	for i, n := range names {
		out[i] = rdf.InternIRI(n)
	}
	return out, nil
}

func (m *MemStore) Query(q string) (*QueryResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return runQuery(q, m.allQuadsLocked())
}

func (m *MemStore) allQuadsLocked() []rdf.Quad {
	var all []rdf.Quad
	for _, quads := range m.graphs {
		all = append(all, quads...)
	}
	return all
}

// snapshotWire is the JSON wire form of a MemStore snapshot. Triples
// are serialized via the canonical N-Quads line encoding so that a
// snapshot is portable and human-inspectable, matching the text-based
// snapshot convention of pkg/database's embedded SQL migrations.
type snapshotWire struct {
	Graphs map[string][]string `json:"graphs"` // graph IRI -> canonical lines
}

func (m *MemStore) Snapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wire := snapshotWire{Graphs: make(map[string][]string, len(m.graphs))}
	for g, quads := range m.graphs {
		lines := make([]string, len(quads))
		for i, q := range quads {
			lines[i] = rdf.EncodeTriple(q)
		}
		wire.Graphs[g] = lines
	}
	return json.Marshal(wire)
}

func (m *MemStore) Restore(snapshot []byte) error {
	var wire snapshotWire
	if err := json.Unmarshal(snapshot, &wire); err != nil {
		return fmt.Errorf("store: restore snapshot: %w", err)
	}

	next := make(map[string][]rdf.Quad, len(wire.Graphs))
	for g, lines := range wire.Graphs {
		graphIRI := rdf.InternIRI(g)
		var quads []rdf.Quad
		for _, line := range lines {
			parsed, err := rdf.ParseNQuads(strings.NewReader(line), graphIRI)
			if err != nil {
				return fmt.Errorf("store: restore graph %s: %w", g, err)
			}
			quads = append(quads, parsed...)
		}
		next[g] = quads
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphs = next
	return nil
}

func (m *MemStore) Close() error { return nil }
