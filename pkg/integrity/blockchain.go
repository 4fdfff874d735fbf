// Copyright 2025 ProvChain Authors
//
// Check 1 (spec.md §4.6): blockchain integrity. Grounded on
// original_source/src/integrity/mod.rs's BlockchainIntegrityStatus and
// on pkg/chain.Chain.Validate, which already recomputes prev_hash
// linkage, block hash and signature per block — this check reuses that
// report rather than re-deriving the same invariants, and adds the
// one thing Validate doesn't do: comparing chain length against a
// from-scratch scan of the metadata graph via Chain.InspectMetadata.

package integrity

import (
	"fmt"

	"github.com/provchain/provchain/pkg/chain"
	"github.com/provchain/provchain/pkg/provchainerr"
)

// CheckBlockchain runs C6 check 1 against c.
func CheckBlockchain(c *chain.Chain, verifier chain.Verifier) (*BlockchainStatus, error) {
	status := &BlockchainStatus{ChainLength: c.Len()}

	indices, decodeErrors, err := c.InspectMetadata()
	if err != nil {
		status.ReconstructionErrors = append(status.ReconstructionErrors, err.Error())
		return status, nil
	}
	status.PersistentBlockCount = len(indices)

	present := make(map[uint64]bool, len(indices))
	for _, idx := range indices {
		present[idx] = true
	}
	for i := 0; i < status.ChainLength; i++ {
		if !present[uint64(i)] {
			status.MissingBlocks = append(status.MissingBlocks, uint64(i))
		}
	}
	for idx, msg := range decodeErrors {
		status.CorruptedBlocks = append(status.CorruptedBlocks, idx)
		status.ReconstructionErrors = append(status.ReconstructionErrors, fmt.Sprintf("block %d: %s", idx, msg))
	}

	report, err := c.Validate(verifier)
	if err != nil {
		return nil, err
	}
	for _, issue := range report.Issues {
		switch issue.Kind {
		case provchainerr.KindHashMismatch, provchainerr.KindSignatureInvalid:
			status.HashValidationErrors = append(status.HashValidationErrors, fmt.Sprintf("block %d: %s", issue.BlockIndex, issue.Detail))
		case provchainerr.KindChainLinkBroken:
			status.CorruptedBlocks = append(status.CorruptedBlocks, issue.BlockIndex)
		default:
			status.ReconstructionErrors = append(status.ReconstructionErrors, fmt.Sprintf("block %d: %s", issue.BlockIndex, issue.Detail))
		}
	}

	return status, nil
}
