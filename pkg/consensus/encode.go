// Copyright 2025 Certen Protocol
//
// Deterministic signed-byte encoding for the five message types in
// messages.go, per spec.md §6's convention: big-endian integers,
// length-prefixed strings. Every message type already carries a
// BlockHash (chain.Block.Hash, itself a SHA-256 over every other block
// field per pkg/chain/block.go), so a message's signed image never
// needs to re-serialize the full *chain.Block it references — binding
// the hash binds everything the hash was computed over.

package consensus

import (
	"encoding/binary"
)

type wireWriter struct {
	buf []byte
}

func (w *wireWriter) byte(tag byte) {
	w.buf = append(w.buf, tag)
}

func (w *wireWriter) uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *wireWriter) string(s string) {
	w.bytes([]byte(s))
}

func (w *wireWriter) bytes(b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, b...)
}

// SignedBytes returns the canonical image signed by the sender,
// covering every semantic field except Signature and PublicKey.

func (m *PrePrepare) SignedBytes() []byte {
	w := &wireWriter{}
	w.string(string(KindPrePrepare))
	w.string(m.SenderID)
	w.uint64(m.View)
	w.uint64(m.Seq)
	w.string(m.BlockHash)
	return w.buf
}

func (m *Prepare) SignedBytes() []byte {
	w := &wireWriter{}
	w.string(string(KindPrepare))
	w.string(m.SenderID)
	w.uint64(m.View)
	w.uint64(m.Seq)
	w.string(m.BlockHash)
	return w.buf
}

func (m *Commit) SignedBytes() []byte {
	w := &wireWriter{}
	w.string(string(KindCommit))
	w.string(m.SenderID)
	w.uint64(m.View)
	w.uint64(m.Seq)
	w.string(m.BlockHash)
	return w.buf
}

func (m *ViewChange) SignedBytes() []byte {
	w := &wireWriter{}
	w.string(string(KindViewChange))
	w.string(m.SenderID)
	w.uint64(m.NewView)
	w.uint64(m.LastStableCheckpoint)
	w.uint64(uint64(len(m.PreparedSet)))
	for _, p := range m.PreparedSet {
		w.uint64(p.Seq)
		w.string(p.BlockHash)
	}
	return w.buf
}

func (m *NewView) SignedBytes() []byte {
	w := &wireWriter{}
	w.string(string(KindNewView))
	w.string(m.SenderID)
	w.uint64(m.NewView)
	w.uint64(uint64(len(m.ViewChangeProofs)))
	for _, vc := range m.ViewChangeProofs {
		w.bytes(vc.SignedBytes())
		w.bytes(vc.Signature)
	}
	w.uint64(uint64(len(m.ReproposedEntries)))
	for _, pp := range m.ReproposedEntries {
		w.bytes(pp.SignedBytes())
		w.bytes(pp.Signature)
	}
	return w.buf
}
