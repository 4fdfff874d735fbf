package store

import (
	"strings"
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/provchain/provchain/pkg/rdf"
)

// storeImpls lets every test below run against both Store
// implementations without duplicating the test bodies.
func storeImpls(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"mem": NewMemStore(),
		"kv":  NewKVStore(dbm.NewMemDB()),
	}
}

func mustQuads(t *testing.T, graphIRI *rdf.IRI, src string) []rdf.Quad {
	t.Helper()
	quads, err := rdf.ParseNQuads(strings.NewReader(src), graphIRI)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return quads
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			g := rdf.InternIRI("http://provchain.test/block/1")
			quads := mustQuads(t, g, `@prefix ex: <http://e/> . ex:s ex:p "v" .`)

			if err := s.PutGraph(g, quads); err != nil {
				t.Fatalf("PutGraph: %v", err)
			}
			got, err := s.GetGraph(g)
			if err != nil {
				t.Fatalf("GetGraph: %v", err)
			}
			if len(got) != 1 || !got[0].Equal(quads[0]) {
				t.Fatalf("round trip mismatch: got %+v, want %+v", got, quads)
			}
		})
	}
}

func TestStore_GetGraph_Missing(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.GetGraph(rdf.InternIRI("http://provchain.test/block/nope"))
			if err != nil {
				t.Fatalf("GetGraph: %v", err)
			}
			if len(got) != 0 {
				t.Fatalf("expected no quads, got %d", len(got))
			}
		})
	}
}

func TestStore_SnapshotRestore(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			g1 := rdf.InternIRI("http://provchain.test/block/1")
			g2 := MetadataGraphIRI("provchain.test")
			if err := s.PutGraph(g1, mustQuads(t, g1, `@prefix ex: <http://e/> . ex:a ex:b "1" .`)); err != nil {
				t.Fatal(err)
			}
			if err := s.PutGraph(g2, mustQuads(t, g2, `@prefix ex: <http://e/> . ex:c ex:d "2" .`)); err != nil {
				t.Fatal(err)
			}

			snap, err := s.Snapshot()
			if err != nil {
				t.Fatalf("Snapshot: %v", err)
			}

			fresh := newFreshLike(s)
			if err := fresh.Restore(snap); err != nil {
				t.Fatalf("Restore: %v", err)
			}

			graphs, err := fresh.Graphs()
			if err != nil {
				t.Fatalf("Graphs: %v", err)
			}
			if len(graphs) != 2 {
				t.Fatalf("expected 2 graphs after restore, got %d", len(graphs))
			}

			got, err := fresh.GetGraph(g1)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 {
				t.Fatalf("expected 1 quad in %s after restore, got %d", g1, len(got))
			}
		})
	}
}

func newFreshLike(s Store) Store {
	switch s.(type) {
	case *MemStore:
		return NewMemStore()
	default:
		return NewKVStore(dbm.NewMemDB())
	}
}

func TestStore_QueryCountAndSelect(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			g := rdf.InternIRI("http://provchain.test/block/1")
			quads := mustQuads(t, g, `
				@prefix ex: <http://e/> .
				ex:alice ex:knows ex:bob .
				ex:bob ex:knows ex:carol .
			`)
			if err := s.PutGraph(g, quads); err != nil {
				t.Fatal(err)
			}

			countRes, err := s.Query("SELECT (COUNT(*) AS ?count) WHERE { ?s ?p ?o }")
			if err != nil {
				t.Fatalf("count query: %v", err)
			}
			if countRes.Count == nil || *countRes.Count != 2 {
				t.Fatalf("expected count 2, got %+v", countRes.Count)
			}

			selRes, err := s.Query("SELECT ?s ?o WHERE { ?s <http://e/knows> ?o }")
			if err != nil {
				t.Fatalf("select query: %v", err)
			}
			if len(selRes.Rows) != 2 {
				t.Fatalf("expected 2 rows, got %d", len(selRes.Rows))
			}

			askRes, err := s.Query("ASK WHERE { <http://e/alice> <http://e/knows> <http://e/bob> }")
			if err != nil {
				t.Fatalf("ask query: %v", err)
			}
			if askRes.Ask == nil || !*askRes.Ask {
				t.Fatalf("expected ASK true, got %+v", askRes.Ask)
			}
		})
	}
}

func TestStore_Graphs_ReservedNames(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ns := "provchain.test"
			meta := MetadataGraphIRI(ns)
			ont := OntologyGraphIRI(ns)
			if err := s.PutGraph(meta, nil); err != nil {
				t.Fatal(err)
			}
			if err := s.PutGraph(ont, nil); err != nil {
				t.Fatal(err)
			}

			graphs, err := s.Graphs()
			if err != nil {
				t.Fatal(err)
			}
			seen := map[string]bool{}
			for _, g := range graphs {
				seen[g.String()] = true
			}
			if !seen[meta.String()] || !seen[ont.String()] {
				t.Fatalf("expected reserved graphs present in %v", graphs)
			}
		})
	}
}
