// Copyright 2025 ProvChain Authors
//
// Run orchestrates C6's four checks into one Report, the way
// original_source/src/integrity/mod.rs's top-level validator function
// composes BlockchainIntegrityStatus, TransactionCountIntegrityStatus,
// SparqlIntegrityStatus and CanonicalizationIntegrityStatus before
// calling calculate_overall_status.

package integrity

import (
	"fmt"
	"time"

	"github.com/provchain/provchain/pkg/chain"
	"github.com/provchain/provchain/pkg/rdf"
	"github.com/provchain/provchain/pkg/store"
)

// CanonicalizationSampleSize bounds how many payload graphs Run feeds
// into check 4; Tier B canonicalization is exponential in the worst
// case (spec.md §4.1 Open Question 2), so a cadence-scheduled
// integrity pass samples recent blocks rather than re-canonicalizing
// the entire chain every run.
const CanonicalizationSampleSize = 10

// Run executes all four C6 checks against c and s and returns a fully
// populated, status-calculated Report timestamped at ts.
func Run(c *chain.Chain, verifier chain.Verifier, s store.Store, ts time.Time) (*Report, error) {
	report := NewReport(ts)

	blockchainStatus, err := CheckBlockchain(c, verifier)
	if err != nil {
		return nil, fmt.Errorf("integrity: blockchain check: %w", err)
	}
	report.Blockchain = *blockchainStatus

	txStatus, err := CheckTransactionCount(c)
	if err != nil {
		return nil, fmt.Errorf("integrity: transaction count check: %w", err)
	}
	report.TransactionCount = *txStatus

	sparqlStatus, err := CheckSparql(s)
	if err != nil {
		return nil, fmt.Errorf("integrity: sparql check: %w", err)
	}
	report.Sparql = *sparqlStatus

	canonStatus, err := CheckCanonicalization(recentPayloadSample(c, CanonicalizationSampleSize))
	if err != nil {
		return nil, fmt.Errorf("integrity: canonicalization check: %w", err)
	}
	report.Canonicalization = *canonStatus

	applyRecommendations(report)
	report.CalculateOverallStatus()
	return report, nil
}

// recentPayloadSample collects up to n of the chain's most recent
// payload graphs, keyed by a human-readable graph name, for check 4.
func recentPayloadSample(c *chain.Chain, n int) map[string][]rdf.Quad {
	sample := map[string][]rdf.Quad{}
	length := c.Len()
	start := 0
	if length > n {
		start = length - n
	}
	for i := start; i < length; i++ {
		b := c.Block(uint64(i))
		if b == nil {
			continue
		}
		quads, err := c.Store().GetGraph(b.PayloadGraphIRI)
		if err != nil {
			continue
		}
		sample[fmt.Sprintf("block-%d-payload", b.Index)] = quads
	}
	return sample
}

// applyRecommendations derives Recommendation entries from the four
// component statuses' issue lists. Categories match isRepairable's
// switch in repair.go; blockchain_hash/blockchain_linkage are the two
// categories a repair plan must never auto-fix.
func applyRecommendations(r *Report) {
	for _, msg := range r.Blockchain.HashValidationErrors {
		r.AddRecommendation(Recommendation{
			Severity:       SeverityCritical,
			Category:       "blockchain_hash",
			Description:    msg,
			ActionRequired: true,
			AutoFixable:    false,
		})
	}
	for _, idx := range r.Blockchain.MissingBlocks {
		r.AddRecommendation(Recommendation{
			Severity:       SeverityCritical,
			Category:       "blockchain_linkage",
			Description:    fmt.Sprintf("block %d is missing from the metadata graph", idx),
			ActionRequired: true,
			AutoFixable:    false,
		})
	}
	for _, idx := range r.Blockchain.CorruptedBlocks {
		r.AddRecommendation(Recommendation{
			Severity:       SeverityCritical,
			Category:       "blockchain_linkage",
			Description:    fmt.Sprintf("block %d failed to reconstruct from stored metadata", idx),
			ActionRequired: true,
			AutoFixable:    false,
		})
	}
	for _, msg := range r.Blockchain.ReconstructionErrors {
		r.AddRecommendation(Recommendation{
			Severity:       SeverityWarning,
			Category:       "blockchain_reconstruction",
			Description:    msg,
			ActionRequired: false,
			AutoFixable:    false,
		})
	}

	effectiveActual := r.TransactionCount.ActualTotal
	if r.TransactionCount.ReportedTotal == 0 {
		effectiveActual = 0
	}
	diff := r.TransactionCount.ReportedTotal - effectiveActual
	if diff < 0 {
		diff = -diff
	}
	if diff > 0 {
		sev := SeverityWarning
		if diff > 10 {
			sev = SeverityCritical
		}
		r.AddRecommendation(Recommendation{
			Severity:       sev,
			Category:       "transaction_count",
			Description:    fmt.Sprintf("reported transaction total (%d) differs from re-parsed total (%d) by %d", r.TransactionCount.ReportedTotal, effectiveActual, diff),
			ActionRequired: sev == SeverityCritical,
			AutoFixable:    true,
		})
	}

	for _, msg := range r.Sparql.GraphAccessibilityIssues {
		r.AddRecommendation(Recommendation{
			Severity:       SeverityWarning,
			Category:       "sparql_accessibility",
			Description:    msg,
			ActionRequired: false,
			AutoFixable:    false,
		})
	}
	for _, c := range r.Sparql.QueryChecks {
		if c.ExpectedCount != c.ActualCount {
			r.AddRecommendation(Recommendation{
				Severity:       SeverityWarning,
				Category:       "sparql_consistency",
				Description:    fmt.Sprintf("query %q returned %d, direct graph enumeration found %d", c.Query, c.ActualCount, c.ExpectedCount),
				ActionRequired: false,
				AutoFixable:    true,
			})
		}
	}

	for _, msg := range r.Canonicalization.HashValidationFailures {
		r.AddRecommendation(Recommendation{
			Severity:       SeverityCritical,
			Category:       "canonicalization",
			Description:    msg,
			ActionRequired: true,
			AutoFixable:    false,
		})
	}
	for _, msg := range r.Canonicalization.BlankNodeHandlingIssues {
		r.AddRecommendation(Recommendation{
			Severity:       SeverityWarning,
			Category:       "canonicalization",
			Description:    msg,
			ActionRequired: false,
			AutoFixable:    false,
		})
	}
	for _, c := range r.Canonicalization.ConsistencyChecks {
		if !c.HashesMatch {
			r.AddRecommendation(Recommendation{
				Severity:       SeverityCritical,
				Category:       "canonicalization",
				Description:    fmt.Sprintf("graph %s: custom hash %s disagrees with reference hash %s (complexity=%s)", c.GraphName, c.CustomHash, c.ReferenceHash, c.Complexity),
				ActionRequired: true,
				AutoFixable:    true,
			})
		}
	}
}
