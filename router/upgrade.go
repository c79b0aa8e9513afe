// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"encoding/binary"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/swaprouter/state"
)

// MinUpgradeDelayTicks is the shortest allowed time-lock on a proposed
// upgrade (~6 hours of ticks).
const MinUpgradeDelayTicks = 4320

// Code upgrades run in two modes. Pre-migration the single admin proposes a
// time-locked upgrade that anyone may execute after the delay; post-migration
// upgrades are ActionUpgrade proposals. Both funnel into executeCodeUpgrade.

func versionOf(txn *state.Txn) ContractVersion {
	var v ContractVersion
	if getJSON(txn, state.Key(prefixVersion, nil), &v) {
		return v
	}
	return ContractVersion{Major: 1}
}

func saveVersion(txn *state.Txn, v ContractVersion) {
	txn.PutInstance(state.Key(prefixVersion, nil), putJSON(v))
	txn.PutPersistent(u64Key(prefixVersionAt, v.ActivatedAt), putJSON(v), longLivedTTL)
}

func setInitialVersion(txn *state.Txn, codeHash common.Hash) {
	saveVersion(txn, ContractVersion{
		Major:       1,
		CodeHash:    codeHash,
		ActivatedAt: txn.Now(),
	})
}

func pendingUpgradeOf(txn *state.Txn) (PendingUpgrade, bool) {
	var p PendingUpgrade
	ok := getJSON(txn, state.Key(prefixPending, nil), &p)
	return p, ok
}

// ProposeUpgrade schedules a time-locked code upgrade (single-admin mode).
// executeAfter is clamped up to now+MinUpgradeDelayTicks.
func (r *Router) ProposeUpgrade(caller common.Address, newCodeHash common.Hash, executeAfter uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	cfg, err := requireAdmin(c.txn, caller)
	if err != nil {
		return err
	}
	// Upgrading a paused router could lock it permanently.
	if cfg.Paused {
		return ErrPaused
	}
	current := versionOf(c.txn)
	if current.CodeHash == newCodeHash {
		return ErrSameCodeHash
	}
	if newCodeHash == (common.Hash{}) {
		return ErrInvalidAmount
	}
	if _, pending := pendingUpgradeOf(c.txn); pending {
		return ErrUpgradePending
	}

	now := c.txn.Now()
	if executeAfter < now+MinUpgradeDelayTicks {
		executeAfter = now + MinUpgradeDelayTicks
	}
	c.txn.PutInstance(state.Key(prefixPending, nil), putJSON(PendingUpgrade{
		NewCodeHash:  newCodeHash,
		ProposedAt:   now,
		ExecuteAfter: executeAfter,
		Proposer:     caller,
	}))

	c.emit(UpgradeProposedEvent{
		OldCodeHash:  current.CodeHash,
		NewCodeHash:  newCodeHash,
		ExecuteAfter: executeAfter,
	})
	r.log.Info("upgrade proposed", "newCodeHash", newCodeHash, "executeAfter", executeAfter)
	return r.commit(c)
}

// ExecuteUpgrade applies the pending upgrade once its time-lock elapses.
// Callable by anyone; the elapsed lock is the authorization.
func (r *Router) ExecuteUpgrade() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	pending, ok := pendingUpgradeOf(c.txn)
	if !ok {
		return ErrNoUpgradePending
	}
	if c.txn.Now() < pending.ExecuteAfter {
		return ErrUpgradeLocked
	}
	if cfg, _ := configOf(c.txn); cfg.Paused {
		return ErrPaused
	}

	c.txn.Delete(state.Key(prefixPending, nil))
	if err := r.executeCodeUpgrade(c, pending.NewCodeHash); err != nil {
		return err
	}
	return r.commit(c)
}

// CancelUpgrade withdraws a pending upgrade. Proposer-only.
func (r *Router) CancelUpgrade(caller common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	pending, ok := pendingUpgradeOf(c.txn)
	if !ok {
		return ErrNoUpgradePending
	}
	if pending.Proposer != caller {
		return ErrUnauthorized
	}
	c.txn.Delete(state.Key(prefixPending, nil))
	c.emit(UpgradeCancelledEvent{By: caller})
	return r.commit(c)
}

// executeCodeUpgrade swaps the recorded code hash, bumps the patch version
// and runs the once-per-version migration hook. Shared by the time-locked
// path and the governance ActionUpgrade dispatch.
func (r *Router) executeCodeUpgrade(c *call, newCodeHash common.Hash) error {
	old := versionOf(c.txn)
	if old.CodeHash == newCodeHash {
		return ErrSameCodeHash
	}

	now := c.txn.Now()
	next := ContractVersion{
		Major:       old.Major,
		Minor:       old.Minor,
		Patch:       old.Patch + 1,
		CodeHash:    newCodeHash,
		ActivatedAt: now,
	}
	saveVersion(c.txn, next)
	c.emit(UpgradeCompletedEvent{OldCodeHash: old.CodeHash, NewCodeHash: newCodeHash, Tick: now})
	r.log.Info("upgrade completed", "oldCodeHash", old.CodeHash, "newCodeHash", newCodeHash)

	return r.migrate(c, next)
}

func migrationKey(major, minor, patch uint32) common.Hash {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], major)
	binary.BigEndian.PutUint32(buf[4:8], minor)
	binary.BigEndian.PutUint32(buf[8:12], patch)
	return state.Key(prefixMigration, buf[:])
}

// migrate runs schema migrations for a freshly activated version, exactly
// once per version triple.
func (r *Router) migrate(c *call, v ContractVersion) error {
	key := migrationKey(v.Major, v.Minor, v.Patch)
	if c.txn.Has(key) {
		return ErrMigrationAlreadyDone
	}

	// Version-specific migration steps go here as versions accrue. The
	// current line carries no schema changes.

	c.txn.PutPersistent(key, putJSON(true), longLivedTTL)
	c.emit(MigrationCompletedEvent{Major: v.Major, Minor: v.Minor, Patch: v.Patch})
	return nil
}

// Version returns the active contract version.
func (r *Router) Version() ContractVersion {
	txn := r.ledger.Begin()
	defer txn.Discard()
	return versionOf(txn)
}

// VersionAt returns the version activated exactly at tick, if any.
func (r *Router) VersionAt(tick uint64) (ContractVersion, bool) {
	txn := r.ledger.Begin()
	defer txn.Discard()
	var v ContractVersion
	ok := getJSON(txn, u64Key(prefixVersionAt, tick), &v)
	return v, ok
}

// PendingUpgradeInfo returns the queued upgrade, if one exists.
func (r *Router) PendingUpgradeInfo() (PendingUpgrade, bool) {
	txn := r.ledger.Begin()
	defer txn.Discard()
	return pendingUpgradeOf(txn)
}
