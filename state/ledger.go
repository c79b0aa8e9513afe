// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state implements the router's ledger store: a keyed record store
// with three lifetime classes layered over a database.Database.
//
//   - Instance records are always resident (admin, fee config, governance).
//   - Persistent records carry an explicit TTL and must be extended or they
//     become unreachable (pool flags, proposals, token entries, balances).
//   - Temporary records auto-expire (commitments, rate-limit windows). An
//     expired temporary record stays readable as a tombstone for a short
//     grace period before it is treated as evicted; callers that need to
//     distinguish "expired" from "never existed" rely on that window.
//
// All mutation happens through a Txn, a write-ahead staging buffer that is
// flushed to the database in a single batch on Commit. A discarded Txn leaves
// no trace, which is how engine calls get their all-or-nothing semantics.
package state

import (
	"encoding/binary"
	"math"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Lifetime classes for stored records.
const (
	// NeverExpires marks instance records.
	NeverExpires uint64 = 0

	// TemporaryGraceTicks is how long an expired temporary record remains
	// observable as expired before reads treat it as evicted.
	TemporaryGraceTicks uint64 = 16
)

// Key derives a storage key from a record-kind prefix and an identifier.
func Key(prefix string, id []byte) common.Hash {
	h := blake3.New()
	h.Write([]byte(prefix))
	h.Write(id)
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

// Ledger is the store handle shared by all engine components.
type Ledger struct {
	db    database.Database
	clock Clock
}

// New wraps db with ledger semantics driven by clock.
func New(db database.Database, clock Clock) *Ledger {
	return &Ledger{db: db, clock: clock}
}

// Clock returns the ledger's tick source.
func (l *Ledger) Clock() Clock {
	return l.clock
}

// envelope layout: 8-byte big-endian expiry tick, then the payload.
// expiry==NeverExpires means the record is instance-class.
func encodeEnvelope(expiresAt uint64, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(buf[:8], expiresAt)
	copy(buf[8:], payload)
	return buf
}

func decodeEnvelope(raw []byte) (expiresAt uint64, payload []byte, ok bool) {
	if len(raw) < 8 {
		return 0, nil, false
	}
	return binary.BigEndian.Uint64(raw[:8]), raw[8:], true
}

// Txn is a staged view over the ledger. Reads see staged writes first, then
// the underlying database. Writes are buffered until Commit.
type Txn struct {
	ledger *Ledger
	now    uint64

	// staged holds pending writes; a nil value is a staged delete.
	staged map[common.Hash][]byte
	// order preserves first-write ordering for deterministic batch replay.
	order []common.Hash
}

// Begin opens a transaction pinned to the current tick.
func (l *Ledger) Begin() *Txn {
	return &Txn{
		ledger: l,
		now:    l.clock.Now(),
		staged: make(map[common.Hash][]byte),
	}
}

// Now returns the tick the transaction was opened at.
func (t *Txn) Now() uint64 {
	return t.now
}

func (t *Txn) stage(key common.Hash, raw []byte) {
	if _, seen := t.staged[key]; !seen {
		t.order = append(t.order, key)
	}
	t.staged[key] = raw
}

func (t *Txn) rawGet(key common.Hash) ([]byte, bool) {
	if raw, seen := t.staged[key]; seen {
		if raw == nil {
			return nil, false
		}
		return raw, true
	}
	raw, err := t.ledger.db.Get(key[:])
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Get returns the payload for key, honoring expiry. Expired persistent
// records and evicted temporary records read as absent.
func (t *Txn) Get(key common.Hash) ([]byte, bool) {
	raw, ok := t.rawGet(key)
	if !ok {
		return nil, false
	}
	expiresAt, payload, ok := decodeEnvelope(raw)
	if !ok {
		return nil, false
	}
	if expiresAt != NeverExpires && t.now > expiresAt {
		return nil, false
	}
	return payload, true
}

// Has reports whether key resolves to a live record.
func (t *Txn) Has(key common.Hash) bool {
	_, ok := t.Get(key)
	return ok
}

// PutInstance stores an always-resident record.
func (t *Txn) PutInstance(key common.Hash, payload []byte) {
	t.stage(key, encodeEnvelope(NeverExpires, payload))
}

// PutPersistent stores a record that lives for ttl ticks unless extended.
func (t *Txn) PutPersistent(key common.Hash, payload []byte, ttl uint64) {
	t.stage(key, encodeEnvelope(t.expiry(ttl), payload))
}

// PutTemporary stores an auto-expiring record. The record reads as live for
// ttl ticks and as absent after the eviction grace lag on top of that; the
// raw envelope expiry is what reads compare against, so the caller's own
// logical expiry (now+ttl) must be carried inside the payload if the caller
// needs to observe the expired-but-not-evicted window.
func (t *Txn) PutTemporary(key common.Hash, payload []byte, ttl uint64) {
	t.stage(key, encodeEnvelope(t.expiry(ttl+TemporaryGraceTicks), payload))
}

// ExtendTTL pushes a live record's expiry to now+ttl if that is later than
// its current expiry. Returns false when the record is absent or instance.
func (t *Txn) ExtendTTL(key common.Hash, ttl uint64) bool {
	raw, ok := t.rawGet(key)
	if !ok {
		return false
	}
	expiresAt, payload, ok := decodeEnvelope(raw)
	if !ok || expiresAt == NeverExpires {
		return false
	}
	if t.now > expiresAt {
		return false
	}
	next := t.expiry(ttl)
	if next > expiresAt {
		t.stage(key, encodeEnvelope(next, payload))
	}
	return true
}

// Delete removes key.
func (t *Txn) Delete(key common.Hash) {
	t.stage(key, nil)
}

func (t *Txn) expiry(ttl uint64) uint64 {
	if ttl > math.MaxUint64-t.now {
		return math.MaxUint64
	}
	return t.now + ttl
}

// Commit flushes all staged writes in one database batch.
func (t *Txn) Commit() error {
	batch := t.ledger.db.NewBatch()
	for _, key := range t.order {
		raw := t.staged[key]
		if raw == nil {
			if err := batch.Delete(key[:]); err != nil {
				return err
			}
			continue
		}
		if err := batch.Put(key[:], raw); err != nil {
			return err
		}
	}
	return batch.Write()
}

// Discard drops every staged write. The Txn must not be reused.
func (t *Txn) Discard() {
	t.staged = nil
	t.order = nil
}
