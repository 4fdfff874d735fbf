// Copyright 2025 ProvChain Authors
//
// AEAD-at-rest encryption for the wallet blob (spec.md §4.5). Shape
// grounded on orbas1-Synnergy/synnergy-network/core/security.go's
// Encrypt/Decrypt pair, adapted to a 96-bit nonce (chacha20poly1305.New)
// rather than that file's 192-bit XChaCha20 variant, since spec.md
// §4.5 explicitly calls for a 96-bit nonce prepended to the ciphertext.

package wallet

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// encrypt returns nonce || ciphertext || tag. A fresh nonce is drawn
// for every call; reusing a nonce under the same key is the one thing
// that silently breaks this scheme's security, so there is no
// nonce-reuse "fast path" anywhere in this package.
func encrypt(key [chacha20poly1305.KeySize]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("init AEAD: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, ciphertext...), nil
}

// decrypt verifies the tag over the whole blob and returns the
// plaintext. Any bit-flip, truncation or append anywhere in blob fails
// the tag check and returns an error — there is no partial-success case.
func decrypt(key [chacha20poly1305.KeySize]byte, blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("init AEAD: %w", err)
	}
	if len(blob) < chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(blob))
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSize], blob[chacha20poly1305.NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return plaintext, nil
}
