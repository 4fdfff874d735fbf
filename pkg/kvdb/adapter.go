// Copyright 2025 Certen Protocol
//
// KV Adapter for CometBFT Database Integration
// Wraps CometBFT's dbm.DB interface behind the small Get/Set/Iterate
// contract pkg/store's KVStore is built on.

package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"
)

// KVAdapter wraps a CometBFT dbm.DB and exposes a minimal Get/Set/Iterate
// surface so pkg/store can use CometBFT's persistent storage engines
// (goleveldb, badgerdb, ...) without depending on dbm directly.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter creates a new KVAdapter for the given underlying DB.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

// Get returns the value stored under key, or (nil, nil) if absent.
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}

	if v, err := a.db.Get(key); err != nil {
		return nil, err
	} else {
		return v, nil
	}
}

// Set durably writes key/value, fsyncing at commit time.
func (a *KVAdapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}

	if err := a.db.SetSync(key, value); err != nil {
		return err
	}
	return nil
}

// Delete durably removes key. A no-op if key is absent.
func (a *KVAdapter) Delete(key []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.DeleteSync(key)
}

// IteratePrefix calls fn for every key/value pair whose key starts with
// prefix, in ascending key order, stopping early if fn returns false.
func (a *KVAdapter) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	if a.db == nil {
		return nil
	}
	end := prefixUpperBound(prefix)
	it, err := a.db.Iterator(prefix, end)
	if err != nil {
		return err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, or nil if prefix is all 0xFF bytes (unbounded end).
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}