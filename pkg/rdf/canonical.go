// Copyright 2025 ProvChain Authors
//
// Canonical RDF hashing (C1). Implements the two-tier algorithm from
// spec.md §4.1: a sorted-N-Quads fast path for blank-node-free graphs,
// and a Hogan-style color-refinement partition-then-enumerate path
// (RDFC-1.0-compatible) for graphs with blank nodes. No RDF
// canonicalization library exists anywhere in the example pack; the
// algorithm itself is grounded directly on spec.md and on
// original_source/ (the Rust reference this spec distills). The
// refinement loop yields the scheduler once per round.

package rdf

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrCanonicalizationExceeded names the condition where Tier B's
// bounded enumeration fails to converge. CanonicalHash does not return
// it: it falls back to the sorted-triples hash itself and reports that
// through its usedFallback result, which the caller must record.
var ErrCanonicalizationExceeded = errors.New("rdf: canonicalization bound exceeded")

// MaxEnumeration bounds the number of candidate total orders tried
// when color refinement leaves automorphic blank nodes tied. Per
// spec.md §9 Open Questions, resolved as min(n!, 2^20).
const MaxEnumeration = 1 << 20

// HashHexLen is the length of the hex-encoded canonical hash.
const HashHexLen = sha256.Size * 2

// CanonicalHash computes the canonical hash of a named graph. It
// returns the fallback flag set to true when Tier B could not
// disambiguate within MaxEnumeration and fell back to the sorted,
// unrelabeled triple hash (an approximation the caller — ordinarily
// pkg/integrity — must record as a canonicalization discrepancy).
func CanonicalHash(quads []Quad) (hash string, usedFallback bool, err error) {
	if !hasBlankNode(quads) {
		return hashLines(SortedLines(quads)), false, nil
	}

	relabeled, ok := canonicalizeBlankNodes(quads)
	if !ok {
		// Bound exceeded: fall back to the sorted hash of the
		// unrelabeled graph and flag it.
		return hashLines(SortedLines(quads)), true, nil
	}
	return hashLines(SortedLines(relabeled)), false, nil
}

func hasBlankNode(quads []Quad) bool {
	for _, q := range quads {
		if q.Subject.Kind == KindBlankNode || q.Object.Kind == KindBlankNode {
			return true
		}
	}
	return false
}

// hashLines hashes the concatenation of already-sorted, already-deduped
// canonical lines with SHA3-256. Plain SHA-256 is deliberately not used
// here: spec.md §4.1 requires the hash be "length-extension safe",
// which the Merkle-Damgård SHA-256 construction is not. SHA3-256
// (Keccak sponge construction, via golang.org/x/crypto/sha3) satisfies
// it while remaining a 256-bit collision-resistant hash. See
// SPEC_FULL.md's crypto/sha256 dependency row for why block hashing
// (pkg/chain) keeps SHA-256 instead — that choice is pinned by
// spec.md §6's external wire format, not left open.
func hashLines(lines []string) string {
	h := sha3.New256()
	for _, l := range lines {
		h.Write([]byte(l))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// --- Tier B: blank-node color refinement ---------------------------------

// blankNeighbor records one incident edge of a blank node, with any
// blank-node endpoint replaced by a placeholder token so that the
// edge signature doesn't leak label identity into the color.
type blankNeighbor struct {
	predicate string
	// direction: "out" if the blank node is the subject of this edge,
	// "in" if it is the object.
	direction string
	// other is the other endpoint: an IRI/literal string, or the
	// placeholder "_" if it is itself a blank node (color joins it
	// in later rounds instead).
	other string
}

// canonicalizeBlankNodes attempts to assign every blank node in quads
// a globally unique, deterministic replacement label. Returns ok=false
// if MaxEnumeration candidate orders were exhausted without a unique
// resolution.
func canonicalizeBlankNodes(quads []Quad) (relabeled []Quad, ok bool) {
	labels := blankLabels(quads)
	colors := initialColors(quads, labels)
	colors = refineToFixedPoint(quads, labels, colors)

	groups := groupByColor(labels, colors)
	if allSingleton(groups) {
		mapping := colorOrderMapping(groups)
		return applyMapping(quads, mapping), true
	}

	// Ambiguity remains (automorphisms): bounded enumeration over the
	// still-tied blank nodes, keeping already-disambiguated groups
	// fixed. We take the lexicographically smallest Tier-A hash across
	// candidate total orders.
	return enumerateBestOrder(quads, labels, groups)
}

func blankLabels(quads []Quad) []string {
	seen := map[string]struct{}{}
	var labels []string
	for _, q := range quads {
		if q.Subject.Kind == KindBlankNode {
			if _, ok := seen[q.Subject.BlankLabel]; !ok {
				seen[q.Subject.BlankLabel] = struct{}{}
				labels = append(labels, q.Subject.BlankLabel)
			}
		}
		if q.Object.Kind == KindBlankNode {
			if _, ok := seen[q.Object.BlankLabel]; !ok {
				seen[q.Object.BlankLabel] = struct{}{}
				labels = append(labels, q.Object.BlankLabel)
			}
		}
	}
	sort.Strings(labels) // only affects enumeration order, not correctness
	return labels
}

func initialColors(quads []Quad, labels []string) map[string]string {
	neighbors := neighborsOf(quads, labels)
	colors := make(map[string]string, len(labels))
	for _, l := range labels {
		colors[l] = hashNeighborMultiset(neighbors[l])
	}
	return colors
}

func neighborsOf(quads []Quad, labels []string) map[string][]blankNeighbor {
	isBlank := make(map[string]bool, len(labels))
	for _, l := range labels {
		isBlank[l] = true
	}
	out := make(map[string][]blankNeighbor, len(labels))
	for _, q := range quads {
		if q.Subject.Kind == KindBlankNode {
			other := termSignature(q.Object, isBlank)
			out[q.Subject.BlankLabel] = append(out[q.Subject.BlankLabel], blankNeighbor{
				predicate: q.Predicate.IRI.String(), direction: "out", other: other,
			})
		}
		if q.Object.Kind == KindBlankNode {
			other := termSignature(q.Subject, isBlank)
			out[q.Object.BlankLabel] = append(out[q.Object.BlankLabel], blankNeighbor{
				predicate: q.Predicate.IRI.String(), direction: "in", other: other,
			})
		}
	}
	return out
}

func termSignature(t Term, isBlank map[string]bool) string {
	if t.Kind == KindBlankNode {
		return "_"
	}
	return t.String()
}

func hashNeighborMultiset(ns []blankNeighbor) string {
	strs := make([]string, len(ns))
	for i, n := range ns {
		strs[i] = n.direction + "|" + n.predicate + "|" + n.other
	}
	sort.Strings(strs)
	h := sha256.New()
	for _, s := range strs {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// refineToFixedPoint repeatedly recolors each blank node as hash(old
// color, sorted multiset of neighbor colors) until the partition
// stabilizes. A scheduler yield is inserted every round so a pathological
// graph cannot monopolize a core, per spec.md §5's suspension-point note.
func refineToFixedPoint(quads []Quad, labels []string, colors map[string]string) map[string]string {
	neighbors := neighborsOfWithBlankEndpoints(quads, labels)
	for round := 0; round < len(labels)+1; round++ {
		next := make(map[string]string, len(labels))
		changed := false
		for _, l := range labels {
			sig := refinedSignature(colors[l], neighbors[l], colors)
			next[l] = sig
			if sig != colors[l] {
				changed = true
			}
		}
		colors = next
		runtime.Gosched()
		if !changed {
			break
		}
	}
	return colors
}

type blankEdge struct {
	predicate   string
	direction   string
	blankTarget string // "" if the other endpoint isn't a blank node
	otherSig    string // used when blankTarget == ""
}

func neighborsOfWithBlankEndpoints(quads []Quad, labels []string) map[string][]blankEdge {
	isBlank := make(map[string]bool, len(labels))
	for _, l := range labels {
		isBlank[l] = true
	}
	out := make(map[string][]blankEdge, len(labels))
	for _, q := range quads {
		if q.Subject.Kind == KindBlankNode {
			e := blankEdge{predicate: q.Predicate.IRI.String(), direction: "out"}
			if q.Object.Kind == KindBlankNode {
				e.blankTarget = q.Object.BlankLabel
			} else {
				e.otherSig = q.Object.String()
			}
			out[q.Subject.BlankLabel] = append(out[q.Subject.BlankLabel], e)
		}
		if q.Object.Kind == KindBlankNode {
			e := blankEdge{predicate: q.Predicate.IRI.String(), direction: "in"}
			if q.Subject.Kind == KindBlankNode {
				e.blankTarget = q.Subject.BlankLabel
			} else {
				e.otherSig = q.Subject.String()
			}
			out[q.Object.BlankLabel] = append(out[q.Object.BlankLabel], e)
		}
	}
	return out
}

func refinedSignature(oldColor string, edges []blankEdge, colors map[string]string) string {
	strs := make([]string, len(edges))
	for i, e := range edges {
		target := e.otherSig
		if e.blankTarget != "" {
			target = "color:" + colors[e.blankTarget]
		}
		strs[i] = e.direction + "|" + e.predicate + "|" + target
	}
	sort.Strings(strs)
	h := sha256.New()
	h.Write([]byte(oldColor))
	for _, s := range strs {
		h.Write([]byte{0})
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func groupByColor(labels []string, colors map[string]string) map[string][]string {
	groups := map[string][]string{}
	for _, l := range labels {
		c := colors[l]
		groups[c] = append(groups[c], l)
	}
	return groups
}

func allSingleton(groups map[string][]string) bool {
	for _, g := range groups {
		if len(g) != 1 {
			return false
		}
	}
	return true
}

// colorOrderMapping relabels singleton groups by the lexicographic
// order of their color, producing deterministic replacement labels
// "b0", "b1", ... .
func colorOrderMapping(groups map[string][]string) map[string]string {
	colors := make([]string, 0, len(groups))
	for c := range groups {
		colors = append(colors, c)
	}
	sort.Strings(colors)
	mapping := make(map[string]string, len(groups))
	for i, c := range colors {
		mapping[groups[c][0]] = fmt.Sprintf("b%d", i)
	}
	return mapping
}

func applyMapping(quads []Quad, mapping map[string]string) []Quad {
	out := make([]Quad, len(quads))
	for i, q := range quads {
		nq := q
		if q.Subject.Kind == KindBlankNode {
			nq.Subject = NewBlankNode(mapping[q.Subject.BlankLabel])
		}
		if q.Object.Kind == KindBlankNode {
			nq.Object = NewBlankNode(mapping[q.Object.BlankLabel])
		}
		out[i] = nq
	}
	return out
}

// enumerateBestOrder handles residual automorphisms: groups with more
// than one tied blank node are enumerated over every permutation
// (bounded by MaxEnumeration total candidates across all tied groups),
// and the lexicographically smallest resulting Tier-A hash wins.
func enumerateBestOrder(quads []Quad, labels []string, groups map[string][]string) ([]Quad, bool) {
	colorsSorted := make([]string, 0, len(groups))
	for c := range groups {
		colorsSorted = append(colorsSorted, c)
	}
	sort.Strings(colorsSorted)

	var tiedGroups [][]string
	base := map[string]string{}
	idx := 0
	for _, c := range colorsSorted {
		g := groups[c]
		if len(g) == 1 {
			base[g[0]] = fmt.Sprintf("b%d", idx)
			idx++
			continue
		}
		tiedGroups = append(tiedGroups, append([]string(nil), g...))
	}

	best := ""
	var bestQuads []Quad
	tried := 0
	ok := permuteGroups(tiedGroups, func(assignment map[string]string) bool {
		tried++
		if tried > MaxEnumeration {
			return false
		}
		mapping := make(map[string]string, len(base)+len(assignment))
		for k, v := range base {
			mapping[k] = v
		}
		for k, v := range assignment {
			mapping[k] = v
		}
		candidate := applyMapping(quads, mapping)
		lines := SortedLines(candidate)
		joined := strings.Join(lines, "")
		if best == "" || joined < best {
			best = joined
			bestQuads = candidate
		}
		return true
	})
	if !ok {
		return nil, false
	}
	return bestQuads, true
}

// permuteGroups enumerates every combination of permutations across
// tiedGroups, calling visit with a full blank-label -> new-label
// assignment for each combination. It stops early (returning false) if
// visit returns false.
func permuteGroups(tiedGroups [][]string, visit func(map[string]string) bool) bool {
	if len(tiedGroups) == 0 {
		return visit(map[string]string{})
	}

	var rec func(i int, acc map[string]string) bool
	rec = func(i int, acc map[string]string) bool {
		if i == len(tiedGroups) {
			return visit(acc)
		}
		group := tiedGroups[i]
		return permute(group, func(order []string) bool {
			next := make(map[string]string, len(acc)+len(order))
			for k, v := range acc {
				next[k] = v
			}
			for j, label := range order {
				next[label] = fmt.Sprintf("tied%d_%d", i, j)
			}
			return rec(i+1, next)
		})
	}
	return rec(0, map[string]string{})
}

// permute calls visit with every permutation of items (Heap's
// algorithm), stopping early if visit returns false.
func permute(items []string, visit func([]string) bool) bool {
	n := len(items)
	buf := append([]string(nil), items...)
	c := make([]int, n)

	if !visit(append([]string(nil), buf...)) {
		return false
	}
	i := 0
	for i < n {
		if c[i] < i {
			if i%2 == 0 {
				buf[0], buf[i] = buf[i], buf[0]
			} else {
				buf[c[i]], buf[i] = buf[i], buf[c[i]]
			}
			if !visit(append([]string(nil), buf...)) {
				return false
			}
			c[i]++
			i = 0
		} else {
			c[i] = 0
			i++
		}
	}
	return true
}
