package consensus

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"testing"

	"github.com/provchain/provchain/pkg/chain"
	"github.com/provchain/provchain/pkg/rdf"
	"github.com/provchain/provchain/pkg/store"
)

// testSigner is a minimal consensus.Signer stub: ed25519 keypair plus
// the PublicKey accessor Replica needs for the stateless-verification
// cache, matching pkg/wallet.Wallet's shape without the AEAD-at-rest
// machinery this package doesn't need to exercise.
type testSigner struct {
	id   string
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newTestSigner(t *testing.T, id string) *testSigner {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key for %s: %v", id, err)
	}
	return &testSigner{id: id, pub: pub, priv: priv}
}

func (s *testSigner) ValidatorID() string         { return s.id }
func (s *testSigner) Sign(data []byte) ([]byte, error) { return ed25519.Sign(s.priv, data), nil }
func (s *testSigner) PublicKey() ed25519.PublicKey     { return s.pub }

// testVerifier is a shared (validator_id -> public_key) directory
// standing in for pkg/wallet.Registry across every replica in a test
// network.
type testVerifier struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

func newTestVerifier() *testVerifier { return &testVerifier{keys: map[string]ed25519.PublicKey{}} }

func (v *testVerifier) register(id string, pub ed25519.PublicKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[id] = pub
}

func (v *testVerifier) Verify(id string, data, sig []byte) (bool, error) {
	v.mu.RLock()
	pub, ok := v.keys[id]
	v.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return ed25519.Verify(pub, data, sig), nil
}

// testNetwork is n validators sharing one genesis block (built once by
// a bootstrap identity and committed verbatim into every validator's
// own store), each with its own Chain and Replica wired to a common
// verifier.
type testNetwork struct {
	signers  []*testSigner
	chains   []*chain.Chain
	replicas []*Replica
	verifier *testVerifier
}

func buildNetwork(t *testing.T, n int) *testNetwork {
	t.Helper()
	verifier := newTestVerifier()

	genesisSigner := newTestSigner(t, "genesis-authority")
	verifier.register(genesisSigner.id, genesisSigner.pub)

	bootstrap := chain.New("test-net", store.NewMemStore())
	genesisBlock, err := bootstrap.Genesis(genesisSigner, "")
	if err != nil {
		t.Fatalf("build genesis: %v", err)
	}

	signers := make([]*testSigner, n)
	roster := make([]ValidatorInfo, n)
	for i := 0; i < n; i++ {
		s := newTestSigner(t, fmt.Sprintf("validator-%d", i))
		signers[i] = s
		verifier.register(s.id, s.pub)
		roster[i] = ValidatorInfo{ValidatorID: s.id, PublicKey: s.pub}
	}

	chains := make([]*chain.Chain, n)
	replicas := make([]*Replica, n)
	for i := 0; i < n; i++ {
		c := chain.New("test-net", store.NewMemStore())
		if err := c.Commit(genesisBlock, []rdf.Quad{}); err != nil {
			t.Fatalf("seed genesis on validator %d: %v", i, err)
		}
		chains[i] = c

		r, err := NewReplica(signers[i].id, roster, signers[i], verifier, c)
		if err != nil {
			t.Fatalf("new replica %d: %v", i, err)
		}
		replicas[i] = r
	}

	return &testNetwork{signers: signers, chains: chains, replicas: replicas, verifier: verifier}
}

// TestPBFT_HappyPath is spec.md S4: a 4-validator network (N=4, f=1)
// where the primary proposes once and every replica reaches
// committed-local with an identical block at seq=1.
func TestPBFT_HappyPath(t *testing.T) {
	net := buildNetwork(t, 4)
	primary := net.replicas[0]
	if !primary.IsPrimary() {
		t.Fatalf("validator-0 expected to be primary for view 0")
	}

	pp, err := primary.ProposePrePrepare(1, `@prefix ex: <http://e/> . ex:s ex:p "1" .`)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	var prepares []*Prepare
	for _, r := range net.replicas {
		p, err := r.HandlePrePrepare(pp)
		if err != nil {
			t.Fatalf("handle preprepare: %v", err)
		}
		prepares = append(prepares, p)
	}

	var commits []*Commit
	for _, r := range net.replicas {
		for _, p := range prepares {
			c, err := r.HandlePrepare(p)
			if err != nil {
				t.Fatalf("handle prepare: %v", err)
			}
			if c != nil {
				commits = append(commits, c)
			}
		}
	}

	committed := 0
	var firstHash string
	for _, r := range net.replicas {
		for _, c := range commits {
			b, justCommitted, err := r.HandleCommit(c)
			if err != nil {
				t.Fatalf("handle commit: %v", err)
			}
			if justCommitted {
				committed++
				if firstHash == "" {
					firstHash = b.Hash
				} else if b.Hash != firstHash {
					t.Fatalf("replicas committed different blocks: %s vs %s", b.Hash, firstHash)
				}
			}
		}
	}

	if committed != len(net.replicas) {
		t.Fatalf("expected every one of %d replicas to commit exactly once, got %d", len(net.replicas), committed)
	}
	for i, c := range net.chains {
		if c.Len() != 2 {
			t.Fatalf("validator %d: expected chain length 2, got %d", i, c.Len())
		}
		if c.Tip().Hash != firstHash {
			t.Fatalf("validator %d: tip hash %s does not match agreed block %s", i, c.Tip().Hash, firstHash)
		}
	}
}

// TestPBFT_ByzantinePrimaryTriggersViewChange is spec.md S5: the
// primary sends two different PrePrepares for seq=1 to disjoint
// backups. Neither proposal collects 2f+1 Commits; a view change to
// v=1 elects a new primary (one of the honest backups) who reproposes
// the one block that had already reached "prepared", and the network
// converges on exactly that block at seq=1.
func TestPBFT_ByzantinePrimaryTriggersViewChange(t *testing.T) {
	net := buildNetwork(t, 4)
	primaryChain := net.chains[0]
	primarySigner := net.signers[0]

	payloadA := `@prefix ex: <http://e/> . ex:s ex:p "A" .`
	payloadB := `@prefix ex: <http://e/> . ex:s ex:p "B" .`
	blockA, quadsA, err := primaryChain.BuildCandidate(primarySigner, payloadA)
	if err != nil {
		t.Fatalf("build candidate A: %v", err)
	}
	blockB, quadsB, err := primaryChain.BuildCandidate(primarySigner, payloadB)
	if err != nil {
		t.Fatalf("build candidate B: %v", err)
	}
	_, _ = quadsA, quadsB
	if blockA.Hash == blockB.Hash {
		t.Fatalf("expected two distinct candidate blocks, both built equal")
	}

	ppA := &PrePrepare{View: 0, Seq: 1, BlockHash: blockA.Hash, Block: blockA, PayloadRDF: payloadA, SenderID: primarySigner.id, PublicKey: primarySigner.pub}
	sigA, err := primarySigner.Sign(ppA.SignedBytes())
	if err != nil {
		t.Fatalf("sign ppA: %v", err)
	}
	ppA.Signature = sigA

	ppB := &PrePrepare{View: 0, Seq: 1, BlockHash: blockB.Hash, Block: blockB, PayloadRDF: payloadB, SenderID: primarySigner.id, PublicKey: primarySigner.pub}
	sigB, err := primarySigner.Sign(ppB.SignedBytes())
	if err != nil {
		t.Fatalf("sign ppB: %v", err)
	}
	ppB.Signature = sigB

	// The byzantine primary (index 0) equivocates and casts no honest
	// votes of its own; only the three backups (1, 2, 3) participate.
	groupA := []*Replica{net.replicas[1], net.replicas[2]} // sees ppA
	groupB := []*Replica{net.replicas[3]}                  // sees ppB

	var prepA []*Prepare
	for _, r := range groupA {
		p, err := r.HandlePrePrepare(ppA)
		if err != nil {
			t.Fatalf("group A handle preprepare: %v", err)
		}
		prepA = append(prepA, p)
	}
	var prepB []*Prepare
	for _, r := range groupB {
		p, err := r.HandlePrePrepare(ppB)
		if err != nil {
			t.Fatalf("group B handle preprepare: %v", err)
		}
		prepB = append(prepB, p)
	}

	var commitsA []*Commit
	for _, r := range groupA {
		for _, p := range prepA {
			c, err := r.HandlePrepare(p)
			if err != nil {
				t.Fatalf("group A handle prepare: %v", err)
			}
			if c != nil {
				commitsA = append(commitsA, c)
			}
		}
	}
	for _, r := range groupB {
		for _, p := range prepB {
			if _, err := r.HandlePrepare(p); err != nil {
				t.Fatalf("group B handle prepare: %v", err)
			}
		}
	}

	for _, r := range groupA {
		for _, c := range commitsA {
			_, justCommitted, err := r.HandleCommit(c)
			if err != nil {
				t.Fatalf("group A handle commit: %v", err)
			}
			if justCommitted {
				t.Fatalf("no replica should reach committed-local with only %d commits (need 2f+1=3)", len(commitsA))
			}
		}
	}

	for i, c := range net.chains {
		if c.Len() != 1 {
			t.Fatalf("validator %d: expected no commit before view change, chain length %d", i, c.Len())
		}
	}

	// View change: the three honest backups give up on view 0.
	honest := []*Replica{net.replicas[1], net.replicas[2], net.replicas[3]}
	var viewChanges []*ViewChange
	for _, r := range honest {
		vc, err := r.StartViewChange()
		if err != nil {
			t.Fatalf("start view change: %v", err)
		}
		viewChanges = append(viewChanges, vc)
	}

	newPrimary := net.replicas[1] // validators[1 mod 4] == "validator-1"
	if !newPrimary.isPrimaryLocked(1) {
		t.Fatalf("expected validator-1 to be primary for view 1")
	}

	var nv *NewView
	for _, vc := range viewChanges {
		result, err := newPrimary.HandleViewChange(vc)
		if err != nil {
			t.Fatalf("handle view change: %v", err)
		}
		if result != nil {
			nv = result
		}
	}
	if nv == nil {
		t.Fatal("expected NewView once 2f+1 ViewChanges collected")
	}
	if len(nv.ReproposedEntries) != 1 || nv.ReproposedEntries[0].BlockHash != blockA.Hash {
		t.Fatalf("expected NewView to repropose exactly block A (the only prepared entry), got %+v", nv.ReproposedEntries)
	}

	var finalPrepares []*Prepare
	for _, r := range honest {
		prepares, err := r.ApplyNewView(nv)
		if err != nil {
			t.Fatalf("apply new view: %v", err)
		}
		finalPrepares = append(finalPrepares, prepares...)
	}

	var finalCommits []*Commit
	for _, r := range honest {
		for _, p := range finalPrepares {
			c, err := r.HandlePrepare(p)
			if err != nil {
				t.Fatalf("final handle prepare: %v", err)
			}
			if c != nil {
				finalCommits = append(finalCommits, c)
			}
		}
	}

	committed := 0
	for _, r := range honest {
		for _, c := range finalCommits {
			_, justCommitted, err := r.HandleCommit(c)
			if err != nil {
				t.Fatalf("final handle commit: %v", err)
			}
			if justCommitted {
				committed++
			}
		}
	}
	if committed != len(honest) {
		t.Fatalf("expected all %d honest replicas to commit after view change, got %d", len(honest), committed)
	}

	for _, r := range honest {
		idx := -1
		for i, rr := range net.replicas {
			if rr == r {
				idx = i
			}
		}
		c := net.chains[idx]
		if c.Len() != 2 {
			t.Fatalf("validator %d: expected chain length 2 after view change, got %d", idx, c.Len())
		}
		if c.Tip().Hash != blockA.Hash {
			t.Fatalf("validator %d: expected committed block A (%s), got %s", idx, blockA.Hash, c.Tip().Hash)
		}
	}
}
