// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, startTick uint64) (*Ledger, *ManualClock) {
	db := memdb.New()
	t.Cleanup(func() { db.Close() })
	clock := NewManualClock(startTick)
	return New(db, clock), clock
}

func TestKeyDerivation(t *testing.T) {
	k1 := Key("pool", []byte{1, 2, 3})
	k2 := Key("pool", []byte{1, 2, 3})
	k3 := Key("pool", []byte{1, 2, 4})
	k4 := Key("token", []byte{1, 2, 3})

	require.Equal(t, k1, k2)
	require.NotEqual(t, k1, k3)
	require.NotEqual(t, k1, k4)
}

func TestInstanceRecordNeverExpires(t *testing.T) {
	ledger, clock := newTestLedger(t, 100)
	key := Key("config", nil)

	txn := ledger.Begin()
	txn.PutInstance(key, []byte("v"))
	require.NoError(t, txn.Commit())

	clock.Advance(1 << 40)
	txn = ledger.Begin()
	defer txn.Discard()
	got, ok := txn.Get(key)
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)
}

func TestPersistentRecordExpiry(t *testing.T) {
	ledger, clock := newTestLedger(t, 100)
	key := Key("pool", []byte{1})

	txn := ledger.Begin()
	txn.PutPersistent(key, []byte("v"), 10)
	require.NoError(t, txn.Commit())

	// Live through the expiry tick itself.
	clock.Set(110)
	txn = ledger.Begin()
	require.True(t, txn.Has(key))
	txn.Discard()

	clock.Set(111)
	txn = ledger.Begin()
	defer txn.Discard()
	require.False(t, txn.Has(key))
}

func TestExtendTTL(t *testing.T) {
	ledger, clock := newTestLedger(t, 100)
	key := Key("pool", []byte{1})

	txn := ledger.Begin()
	txn.PutPersistent(key, []byte("v"), 10)
	require.NoError(t, txn.Commit())

	clock.Set(105)
	txn = ledger.Begin()
	require.True(t, txn.ExtendTTL(key, 50))
	require.NoError(t, txn.Commit())

	clock.Set(150)
	txn = ledger.Begin()
	require.True(t, txn.Has(key))
	txn.Discard()

	// Extending an expired record fails.
	clock.Set(200)
	txn = ledger.Begin()
	defer txn.Discard()
	require.False(t, txn.ExtendTTL(key, 50))

	// Instance records are not extendable.
	ikey := Key("config", nil)
	txn2 := ledger.Begin()
	txn2.PutInstance(ikey, []byte("v"))
	require.NoError(t, txn2.Commit())
	txn2 = ledger.Begin()
	defer txn2.Discard()
	require.False(t, txn2.ExtendTTL(ikey, 50))
}

func TestTemporaryEvictionGrace(t *testing.T) {
	ledger, clock := newTestLedger(t, 100)
	key := Key("commitment", []byte{1})

	txn := ledger.Begin()
	txn.PutTemporary(key, []byte("v"), 10)
	require.NoError(t, txn.Commit())

	// Still readable during the grace lag after logical expiry; callers
	// carry the logical expiry in the payload.
	clock.Set(110 + TemporaryGraceTicks)
	txn = ledger.Begin()
	require.True(t, txn.Has(key))
	txn.Discard()

	clock.Set(111 + TemporaryGraceTicks)
	txn = ledger.Begin()
	defer txn.Discard()
	require.False(t, txn.Has(key))
}

func TestTxnDiscardDropsWrites(t *testing.T) {
	ledger, _ := newTestLedger(t, 100)
	key := Key("pool", []byte{1})

	txn := ledger.Begin()
	txn.PutInstance(key, []byte("v"))
	txn.Discard()

	txn = ledger.Begin()
	defer txn.Discard()
	require.False(t, txn.Has(key))
}

func TestTxnReadYourWrites(t *testing.T) {
	ledger, _ := newTestLedger(t, 100)
	key := Key("pool", []byte{1})

	txn := ledger.Begin()
	txn.PutInstance(key, []byte("a"))
	got, ok := txn.Get(key)
	require.True(t, ok)
	require.Equal(t, []byte("a"), got)

	txn.PutInstance(key, []byte("b"))
	got, _ = txn.Get(key)
	require.Equal(t, []byte("b"), got)

	txn.Delete(key)
	require.False(t, txn.Has(key))
	require.NoError(t, txn.Commit())

	txn = ledger.Begin()
	defer txn.Discard()
	require.False(t, txn.Has(key))
}

func TestCommitIsAtomic(t *testing.T) {
	ledger, _ := newTestLedger(t, 100)
	k1 := Key("a", nil)
	k2 := Key("b", nil)

	txn := ledger.Begin()
	txn.PutInstance(k1, []byte("1"))
	txn.PutInstance(k2, []byte("2"))
	require.NoError(t, txn.Commit())

	txn = ledger.Begin()
	defer txn.Discard()
	require.True(t, txn.Has(k1))
	require.True(t, txn.Has(k2))
}

func TestManualClock(t *testing.T) {
	clock := NewManualClock(5)
	require.Equal(t, uint64(5), clock.Now())
	clock.Advance(10)
	require.Equal(t, uint64(15), clock.Now())
	clock.Set(20)
	require.Equal(t, uint64(20), clock.Now())
	require.Panics(t, func() { clock.Set(10) })
}
