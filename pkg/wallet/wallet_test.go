package wallet

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/provchain/provchain/pkg/provchainerr"
)

func testKey(t *testing.T) [32]byte {
	t.Helper()
	var k [32]byte
	copy(k[:], []byte("0123456789abcdef0123456789abcdef"))
	return k
}

// Property 6: decrypt(encrypt(x, k), k) == x; tampering fails.
func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("wallet secret material")

	blob, err := encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := decrypt(key, blob)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("roundtrip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestEncryptDecrypt_TamperFails(t *testing.T) {
	key := testKey(t)
	blob, err := encrypt(key, []byte("wallet secret material"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	blob[len(blob)-1] ^= 0xFF
	if _, err := decrypt(key, blob); err == nil {
		t.Fatal("expected tamper to be detected, decrypt succeeded")
	}
}

// S6 from spec.md §8: truncating a wallet blob must fail decryption,
// and must surface as a StoreError-class failure, not KeyRotationRequired.
func TestLoadOrCreate_TruncatedBlobFailsClosed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallet.enc")
	key := testKey(t)

	if _, err := LoadOrCreate(path, key, "validator-1", 90); err != nil {
		t.Fatalf("initial create: %v", err)
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wallet file: %v", err)
	}
	truncated := blob[:len(blob)-5]
	if err := os.WriteFile(path, truncated, 0600); err != nil {
		t.Fatalf("write truncated wallet: %v", err)
	}

	_, err = LoadOrCreate(path, key, "validator-1", 90)
	if err == nil {
		t.Fatal("expected decrypt failure on truncated wallet, got nil error")
	}
	if !errors.Is(err, provchainerr.New(provchainerr.KindStore, "")) {
		t.Fatalf("expected a StoreError-class failure, got %v", err)
	}
}

// Property 7: should_rotate() tracks elapsed days against interval.
func TestShouldRotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallet.enc")
	key := testKey(t)

	w, err := LoadOrCreate(path, key, "validator-1", 90)
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	now := w.rec.LastRotationAt
	if w.ShouldRotate(now.Add(89 * 24 * time.Hour)) {
		t.Fatal("expected ShouldRotate=false before interval elapses")
	}
	if !w.ShouldRotate(now.Add(90 * 24 * time.Hour)) {
		t.Fatal("expected ShouldRotate=true once interval elapses")
	}
}

func TestRotate_RegistryAcceptsOldKeyDuringOverlap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallet.enc")
	key := testKey(t)

	w, err := LoadOrCreate(path, key, "validator-1", 90)
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	reg := NewRegistry()
	reg.Register(w.ValidatorID(), w.PublicKey())

	oldPub := w.PublicKey()
	msg := []byte("pre-rotation message")
	oldSig, err := w.Sign(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	rec, err := w.Rotate(24 * time.Hour)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if !bytes.Equal(rec.OldPublicKey, oldPub) {
		t.Fatalf("rotation record old key mismatch")
	}
	reg.RegisterRotation(w.ValidatorID(), rec.OldPublicKey, rec.NewPublicKey, rec.OverlapUntil)

	ok, err := reg.Verify(w.ValidatorID(), msg, oldSig)
	if err != nil {
		t.Fatalf("verify old signature during overlap: %v", err)
	}
	if !ok {
		t.Fatal("expected old-key signature to verify during overlap window")
	}

	newMsg := []byte("post-rotation message")
	newSig, err := w.Sign(newMsg)
	if err != nil {
		t.Fatalf("sign with rotated key: %v", err)
	}
	ok, err = reg.Verify(w.ValidatorID(), newMsg, newSig)
	if err != nil {
		t.Fatalf("verify new signature: %v", err)
	}
	if !ok {
		t.Fatal("expected new-key signature to verify immediately after rotation")
	}
}

func TestRotate_OldKeyRejectedAfterOverlap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallet.enc")
	key := testKey(t)

	w, err := LoadOrCreate(path, key, "validator-1", 90)
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	reg := NewRegistry()
	reg.Register(w.ValidatorID(), w.PublicKey())

	msg := []byte("pre-rotation message")
	oldSig, err := w.Sign(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	rec, err := w.Rotate(-1 * time.Hour) // already-expired overlap window
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	reg.RegisterRotation(w.ValidatorID(), rec.OldPublicKey, rec.NewPublicKey, rec.OverlapUntil)

	ok, err := reg.Verify(w.ValidatorID(), msg, oldSig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("expected old-key signature to be rejected once overlap window has elapsed")
	}
}
