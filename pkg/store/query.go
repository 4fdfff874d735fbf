// Copyright 2025 ProvChain Authors
//
// A small SPARQL subset sufficient for spec.md §4.2's `query(sparql)`
// contract and for the reference query suite in §4.6 ("a small fixed
// suite of reference queries (e.g. COUNT(*) WHERE { ?s ?p ?o })"). No
// SPARQL engine exists anywhere in the example pack (confirmed by
// search), so this is hand-rolled; its shape (one parse step, one
// execute step, tabular result) mirrors pkg/database's
// repository-per-query layout rather than a general grammar.
//
// Supported forms:
//
//	SELECT ?s ?p ?o WHERE { ?s ?p ?o [. <iri> ?x ?y ...] }
//	SELECT (COUNT(*) AS ?count) WHERE { ?s ?p ?o }
//	ASK WHERE { <iri> ?p ?o }
//
// Triple patterns may mix variables (?name) and bound terms (<iri>,
// "literal", "literal"^^<dt>). This is intentionally not a full SPARQL
// grammar — spec.md §4.2 only requires read-only pattern queries plus
// COUNT, which is all C6's reference suite exercises.
package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/provchain/provchain/pkg/rdf"
)

// QueryResult is a tabular SPARQL-style result set.
type QueryResult struct {
	Vars []string
	Rows [][]string // each row has len(Vars) cells; unbound cells are ""
	// Count is set when the query was a COUNT(*) projection; Vars/Rows
	// are still populated for uniformity ([]string{"count"}, one row).
	Count *int
	// Ask is set for ASK WHERE queries.
	Ask *bool
}

type triplePattern struct {
	subject, predicate, object string // "?var" or a bound term's canonical form
}

type parsedQuery struct {
	isAsk   bool
	isCount bool
	vars    []string
	where   []triplePattern
}

func runQuery(raw string, all []rdf.Quad) (*QueryResult, error) {
	pq, err := parseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("store: parse query: %w", err)
	}

	bindings := matchPatterns(pq.where, all)

	if pq.isAsk {
		ok := len(bindings) > 0
		return &QueryResult{Ask: &ok}, nil
	}
	if pq.isCount {
		n := len(bindings)
		return &QueryResult{Vars: []string{"count"}, Rows: [][]string{{strconv.Itoa(n)}}, Count: &n}, nil
	}

	rows := make([][]string, 0, len(bindings))
	for _, b := range bindings {
		row := make([]string, len(pq.vars))
		for i, v := range pq.vars {
			row[i] = b[v]
		}
		rows = append(rows, row)
	}
	return &QueryResult{Vars: pq.vars, Rows: rows}, nil
}

func parseQuery(raw string) (*parsedQuery, error) {
	src := strings.TrimSpace(raw)
	upper := strings.ToUpper(src)

	braceStart := strings.Index(src, "{")
	braceEnd := strings.LastIndex(src, "}")
	if braceStart < 0 || braceEnd < 0 || braceEnd < braceStart {
		return nil, fmt.Errorf("missing WHERE { ... } block")
	}
	body := src[braceStart+1 : braceEnd]
	where, err := parseWhere(body)
	if err != nil {
		return nil, err
	}

	head := strings.TrimSpace(src[:braceStart])
	switch {
	case strings.HasPrefix(upper, "ASK"):
		return &parsedQuery{isAsk: true, where: where}, nil
	case strings.HasPrefix(upper, "SELECT"):
		head = strings.TrimSpace(head[len("SELECT"):])
		head = strings.TrimSuffix(strings.TrimSpace(head), "WHERE")
		head = strings.TrimSuffix(strings.TrimSpace(head), "where")
		if strings.Contains(strings.ToUpper(head), "COUNT(*)") {
			return &parsedQuery{isCount: true, where: where}, nil
		}
		vars := strings.Fields(head)
		return &parsedQuery{vars: vars, where: where}, nil
	default:
		return nil, fmt.Errorf("unsupported query form (expected SELECT or ASK)")
	}
}

func parseWhere(body string) ([]triplePattern, error) {
	stmts := splitStatements(body)
	patterns := make([]triplePattern, 0, len(stmts))
	for _, s := range stmts {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		toks := strings.Fields(s)
		if len(toks) != 3 {
			return nil, fmt.Errorf("malformed triple pattern: %q", s)
		}
		patterns = append(patterns, triplePattern{subject: toks[0], predicate: toks[1], object: toks[2]})
	}
	return patterns, nil
}

// splitStatements splits on '.' that are not inside a quoted literal or an IRI.
func splitStatements(body string) []string {
	var stmts []string
	depth := 0
	inLiteral := false
	start := 0
	for i, r := range body {
		switch r {
		case '"':
			inLiteral = !inLiteral
		case '<':
			if !inLiteral {
				depth++
			}
		case '>':
			if !inLiteral && depth > 0 {
				depth--
			}
		case '.':
			if !inLiteral && depth == 0 {
				stmts = append(stmts, body[start:i])
				start = i + 1
			}
		}
	}
	if strings.TrimSpace(body[start:]) != "" {
		stmts = append(stmts, body[start:])
	}
	return stmts
}

// matchPatterns joins every pattern in order against all quads,
// returning one binding map per satisfying assignment. This is a
// naive nested-loop join, adequate for the small fixed reference
// queries spec.md §4.6 describes; it is not meant to scale to
// arbitrary SPARQL workloads.
func matchPatterns(patterns []triplePattern, all []rdf.Quad) []map[string]string {
	if len(patterns) == 0 {
		return nil
	}
	bindings := []map[string]string{{}}
	for _, p := range patterns {
		var next []map[string]string
		for _, b := range bindings {
			for _, q := range all {
				nb, ok := matchOne(p, q, b)
				if ok {
					next = append(next, nb)
				}
			}
		}
		bindings = next
		if len(bindings) == 0 {
			return nil
		}
	}
	return bindings
}

func matchOne(p triplePattern, q rdf.Quad, b map[string]string) (map[string]string, bool) {
	nb := make(map[string]string, len(b)+3)
	for k, v := range b {
		nb[k] = v
	}
	if !bindTerm(p.subject, q.Subject, nb) {
		return nil, false
	}
	if !bindTerm(p.predicate, q.Predicate, nb) {
		return nil, false
	}
	if !bindTerm(p.object, q.Object, nb) {
		return nil, false
	}
	return nb, true
}

func bindTerm(tok string, t rdf.Term, b map[string]string) bool {
	if strings.HasPrefix(tok, "?") {
		rendered := t.String()
		if existing, ok := b[tok]; ok {
			return existing == rendered
		}
		b[tok] = rendered
		return true
	}
	return tok == t.String()
}
