package chain

import (
	"crypto/ed25519"
	"testing"

	"github.com/provchain/provchain/pkg/store"
)

// testWallet is a minimal Signer+Verifier stub standing in for
// pkg/wallet in these unit tests, matching the S2/S3 scenarios of
// spec.md §8.
type testWallet struct {
	validatorID string
	pub         ed25519.PublicKey
	priv        ed25519.PrivateKey
}

func newTestWallet(t *testing.T, validatorID string) *testWallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &testWallet{validatorID: validatorID, pub: pub, priv: priv}
}

func (w *testWallet) ValidatorID() string { return w.validatorID }

func (w *testWallet) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(w.priv, data), nil
}

func (w *testWallet) Verify(validatorID string, data, signature []byte) (bool, error) {
	if validatorID != w.validatorID {
		return false, nil
	}
	return ed25519.Verify(w.pub, data, signature), nil
}

// S2 from spec.md §8: append and validate.
func TestChain_AppendAndValidate(t *testing.T) {
	s := store.NewMemStore()
	c := New("provchain.test", s)
	w := newTestWallet(t, "validator-1")

	genesis, err := c.Genesis(w, "")
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if genesis.Index != 0 || genesis.PrevHash != GenesisPrevHash {
		t.Fatalf("unexpected genesis block: %+v", genesis)
	}

	b1, err := c.Append(w, `@prefix ex: <http://e/> . ex:s ex:p "1" .`)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if c.Len() != 2 {
		t.Fatalf("chain length = %d, want 2", c.Len())
	}
	if b1.PrevHash != genesis.Hash {
		t.Fatalf("block[1].prev_hash = %s, want %s", b1.PrevHash, genesis.Hash)
	}

	report, err := c.Validate(w)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.Status != StatusHealthy {
		t.Fatalf("status = %s, want Healthy; issues=%+v", report.Status, report.Issues)
	}
}

// S3 from spec.md §8: tamper detection via a corrupted stored payload hash.
func TestChain_Validate_DetectsPayloadHashTamper(t *testing.T) {
	s := store.NewMemStore()
	c := New("provchain.test", s)
	w := newTestWallet(t, "validator-1")

	if _, err := c.Genesis(w, ""); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if _, err := c.Append(w, `@prefix ex: <http://e/> . ex:s ex:p "1" .`); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Directly corrupt the metadata graph's recorded payload_hash of every
	// block (genesis and block 1).
	metaGraph := store.MetadataGraphIRI("provchain.test")
	quads, err := s.GetGraph(metaGraph)
	if err != nil {
		t.Fatalf("get metadata graph: %v", err)
	}
	for i, q := range quads {
		if q.Predicate.IRI == predHasPayloadHash && q.Object.Lexical != "" {
			tampered := q
			tampered.Object.Lexical = "00" + q.Object.Lexical[2:]
			quads[i] = tampered
		}
	}
	if err := s.PutGraph(metaGraph, quads); err != nil {
		t.Fatalf("put tampered metadata graph: %v", err)
	}
	if err := c.ReconstructFromStore(); err != nil {
		t.Fatalf("reconstruct: %v", err)
	}

	report, err := c.Validate(w)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.Status != StatusCritical {
		t.Fatalf("status = %s, want Critical", report.Status)
	}
}

func TestChain_ReconstructFromStore(t *testing.T) {
	s := store.NewMemStore()
	w := newTestWallet(t, "validator-1")

	c1 := New("provchain.test", s)
	if _, err := c1.Genesis(w, ""); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if _, err := c1.Append(w, `@prefix ex: <http://e/> . ex:s ex:p "1" .`); err != nil {
		t.Fatalf("append: %v", err)
	}

	c2 := New("provchain.test", s)
	if err := c2.ReconstructFromStore(); err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if c2.Len() != 2 {
		t.Fatalf("reconstructed length = %d, want 2", c2.Len())
	}
	if c2.Tip().Hash != c1.Tip().Hash {
		t.Fatalf("reconstructed tip hash mismatch: %s != %s", c2.Tip().Hash, c1.Tip().Hash)
	}
}
