// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
)

// Event is one entry of the router's externally observable, append-only
// log. Off-chain consumers (indexer, monitoring) reconstruct state from it.
// Events from a failed call are never published; each call buffers its
// events and flushes them only on commit.
type Event interface {
	Kind() string
}

type InitializedEvent struct {
	Admin      common.Address
	FeeRateBps uint32
}

type AdminChangedEvent struct {
	OldAdmin common.Address
	NewAdmin common.Address
}

type PoolRegisteredEvent struct {
	Pool common.Address
}

type PausedEvent struct{}

type UnpausedEvent struct{}

type SwapExecutedEvent struct {
	Sender    common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	Fee       *big.Int
	Hops      int
	Tick      uint64
}

type HighImpactSwapEvent struct {
	Sender    common.Address
	ImpactBps uint32
	AmountIn  *big.Int
}

type RateLimitHitEvent struct {
	Sender      common.Address
	SwapCount   uint32
	WindowStart uint64
}

type CommitmentCreatedEvent struct {
	Sender        common.Address
	Hash          common.Hash
	DepositAmount *big.Int
}

type CommitmentRevealedEvent struct {
	Sender common.Address
	Hash   common.Hash
}

type GovernanceMigratedEvent struct {
	Admin     common.Address
	Signers   int
	Threshold uint32
}

type ProposalCreatedEvent struct {
	ID       uint64
	Proposer common.Address
}

type ProposalApprovedEvent struct {
	ID        uint64
	Signer    common.Address
	Approvals int
}

type ProposalExecutedEvent struct {
	ID uint64
}

type ProposalCancelledEvent struct {
	ID uint64
	By common.Address
}

type GuardianSetEvent struct {
	Guardian common.Address
}

type GuardianPausedEvent struct {
	Guardian common.Address
}

type UpgradeProposedEvent struct {
	OldCodeHash  common.Hash
	NewCodeHash  common.Hash
	ExecuteAfter uint64
}

type UpgradeCompletedEvent struct {
	OldCodeHash common.Hash
	NewCodeHash common.Hash
	Tick        uint64
}

type UpgradeCancelledEvent struct {
	By common.Address
}

type MigrationCompletedEvent struct {
	Major uint32
	Minor uint32
	Patch uint32
}

type TokenAddedEvent struct {
	Asset Asset
	By    common.Address
}

type TokenRemovedEvent struct {
	Asset Asset
	By    common.Address
}

type TokenUpdatedEvent struct {
	Asset Asset
	By    common.Address
}

func (InitializedEvent) Kind() string        { return "initialized" }
func (AdminChangedEvent) Kind() string       { return "admin_changed" }
func (PoolRegisteredEvent) Kind() string     { return "pool_registered" }
func (PausedEvent) Kind() string             { return "paused" }
func (UnpausedEvent) Kind() string           { return "unpaused" }
func (SwapExecutedEvent) Kind() string       { return "swap_executed" }
func (HighImpactSwapEvent) Kind() string     { return "high_impact_swap" }
func (RateLimitHitEvent) Kind() string       { return "rate_limit_hit" }
func (CommitmentCreatedEvent) Kind() string  { return "commitment_created" }
func (CommitmentRevealedEvent) Kind() string { return "commitment_revealed" }
func (GovernanceMigratedEvent) Kind() string { return "governance_migrated" }
func (ProposalCreatedEvent) Kind() string    { return "proposal_created" }
func (ProposalApprovedEvent) Kind() string   { return "proposal_approved" }
func (ProposalExecutedEvent) Kind() string   { return "proposal_executed" }
func (ProposalCancelledEvent) Kind() string  { return "proposal_cancelled" }
func (GuardianSetEvent) Kind() string        { return "guardian_set" }
func (GuardianPausedEvent) Kind() string     { return "guardian_paused" }
func (UpgradeProposedEvent) Kind() string    { return "upgrade_proposed" }
func (UpgradeCompletedEvent) Kind() string   { return "upgrade_completed" }
func (UpgradeCancelledEvent) Kind() string   { return "upgrade_cancelled" }
func (MigrationCompletedEvent) Kind() string { return "migration_completed" }
func (TokenAddedEvent) Kind() string         { return "token_added" }
func (TokenRemovedEvent) Kind() string       { return "token_removed" }
func (TokenUpdatedEvent) Kind() string       { return "token_updated" }

// EventLog collects published events in order.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

// NewEventLog returns an empty log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) append(events ...Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, events...)
}

// Events returns a snapshot of the log in publication order.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// ByKind returns all events with the given kind, in order.
func (l *EventLog) ByKind(kind string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}
