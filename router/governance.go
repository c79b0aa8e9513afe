// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"github.com/luxfi/geth/common"

	"github.com/luxfi/swaprouter/state"
)

// MaxSigners bounds the governance signer set.
const MaxSigners = 10

// Privileged operations run single-admin until MigrateToMultiSig, after
// which every mutation goes through M-of-N proposals. The migration is
// one-way.

func governanceOf(txn *state.Txn) (GovernanceConfig, bool) {
	var cfg GovernanceConfig
	ok := getJSON(txn, state.Key(prefixGovernance, nil), &cfg)
	return cfg, ok
}

func saveGovernance(txn *state.Txn, cfg GovernanceConfig) {
	txn.PutInstance(state.Key(prefixGovernance, nil), putJSON(cfg))
}

func guardianOf(txn *state.Txn) (common.Address, bool) {
	var g common.Address
	ok := getJSON(txn, state.Key(prefixGuardian, nil), &g)
	return g, ok
}

func isSigner(cfg GovernanceConfig, addr common.Address) bool {
	for _, s := range cfg.Signers {
		if s == addr {
			return true
		}
	}
	return false
}

func hasApproved(p Proposal, addr common.Address) bool {
	for _, a := range p.Approvals {
		if a == addr {
			return true
		}
	}
	return false
}

func proposalOf(txn *state.Txn, id uint64) (Proposal, bool) {
	var p Proposal
	ok := getJSON(txn, u64Key(prefixProposal, id), &p)
	return p, ok
}

func saveProposal(txn *state.Txn, p Proposal) {
	txn.PutPersistent(u64Key(prefixProposal, p.ID), putJSON(p), persistentTTL)
}

func nextProposalID(txn *state.Txn) uint64 {
	var seq uint64
	key := state.Key(prefixProposalSeq, nil)
	getJSON(txn, key, &seq)
	txn.PutInstance(key, putJSON(seq+1))
	return seq
}

// MigrateToMultiSig hands control from the single admin to a signer set.
// Irreversible: after this, admin-gated entry points return ErrUseGovernance.
// guardian, when non-nil, becomes the emergency pause key.
func (r *Router) MigrateToMultiSig(caller common.Address, signers []common.Address, threshold uint32, proposalTTLTicks uint64, guardian *common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	cfg, ok := configOf(c.txn)
	if !ok {
		return ErrNotInitialized
	}
	if cfg.Admin != caller {
		return ErrUnauthorized
	}
	if cfg.MultiSig {
		return ErrAlreadyInitialized
	}
	if len(signers) == 0 || threshold == 0 || threshold > uint32(len(signers)) {
		return ErrInvalidAmount
	}
	if len(signers) > MaxSigners {
		return ErrSignerLimitReached
	}

	saveGovernance(c.txn, GovernanceConfig{
		Signers:          signers,
		Threshold:        threshold,
		ProposalTTLTicks: proposalTTLTicks,
	})
	if guardian != nil {
		c.txn.PutInstance(state.Key(prefixGuardian, nil), putJSON(*guardian))
		c.emit(GuardianSetEvent{Guardian: *guardian})
	}
	cfg.MultiSig = true
	saveConfig(c.txn, cfg)

	c.emit(GovernanceMigratedEvent{Admin: caller, Signers: len(signers), Threshold: threshold})
	r.log.Info("governance migrated to multi-sig", "signers", len(signers), "threshold", threshold)
	return r.commit(c)
}

// Propose creates a proposal; the proposer counts as the first approval.
// With a threshold of 1 the action executes immediately.
func (r *Router) Propose(signer common.Address, action ProposalAction) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	cfg, ok := governanceOf(c.txn)
	if !ok {
		return 0, ErrNotMultiSig
	}
	if !isSigner(cfg, signer) {
		return 0, ErrUnauthorized
	}

	now := c.txn.Now()
	id := nextProposalID(c.txn)
	saveProposal(c.txn, Proposal{
		ID:        id,
		Action:    action,
		Proposer:  signer,
		Approvals: []common.Address{signer},
		CreatedAt: now,
		ExpiresAt: now + cfg.ProposalTTLTicks,
	})
	c.emit(ProposalCreatedEvent{ID: id, Proposer: signer})

	if cfg.Threshold == 1 {
		if err := r.executeProposalLocked(c, id); err != nil {
			return 0, err
		}
	}
	if err := r.commit(c); err != nil {
		return 0, err
	}
	return id, nil
}

// ApproveProposal records signer's approval; the action auto-executes once
// the approval count reaches the threshold.
func (r *Router) ApproveProposal(signer common.Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	cfg, ok := governanceOf(c.txn)
	if !ok {
		return ErrNotMultiSig
	}
	if !isSigner(cfg, signer) {
		return ErrUnauthorized
	}
	p, ok := proposalOf(c.txn, id)
	if !ok {
		return ErrProposalNotFound
	}
	if p.Executed {
		return ErrProposalAlreadyExecuted
	}
	if c.txn.Now() > p.ExpiresAt {
		return ErrProposalExpired
	}
	if hasApproved(p, signer) {
		return ErrAlreadyApproved
	}

	p.Approvals = append(p.Approvals, signer)
	saveProposal(c.txn, p)
	c.emit(ProposalApprovedEvent{ID: id, Signer: signer, Approvals: len(p.Approvals)})

	if uint32(len(p.Approvals)) >= cfg.Threshold {
		if err := r.executeProposalLocked(c, id); err != nil {
			return err
		}
	}
	return r.commit(c)
}

// ExecuteProposal triggers a proposal that already has enough approvals.
// Callable by anyone; the approvals are the authorization.
func (r *Router) ExecuteProposal(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	if err := r.executeProposalLocked(c, id); err != nil {
		return err
	}
	return r.commit(c)
}

func (r *Router) executeProposalLocked(c *call, id uint64) error {
	cfg, ok := governanceOf(c.txn)
	if !ok {
		return ErrNotMultiSig
	}
	p, ok := proposalOf(c.txn, id)
	if !ok {
		return ErrProposalNotFound
	}
	if p.Executed {
		return ErrProposalAlreadyExecuted
	}
	if c.txn.Now() > p.ExpiresAt {
		return ErrProposalExpired
	}
	if uint32(len(p.Approvals)) < cfg.Threshold {
		return ErrThresholdNotMet
	}

	p.Executed = true
	saveProposal(c.txn, p)

	if err := r.dispatchAction(c, p.Action); err != nil {
		return err
	}
	c.emit(ProposalExecutedEvent{ID: id})
	r.log.Info("proposal executed", "id", id)
	return nil
}

// CancelProposal withdraws a pending proposal. The proposer or any signer
// may cancel; a cancelled proposal is marked executed so it can never run.
func (r *Router) CancelProposal(signer common.Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	cfg, ok := governanceOf(c.txn)
	if !ok {
		return ErrNotMultiSig
	}
	p, ok := proposalOf(c.txn, id)
	if !ok {
		return ErrProposalNotFound
	}
	if p.Executed {
		return ErrProposalAlreadyExecuted
	}
	if p.Proposer != signer && !isSigner(cfg, signer) {
		return ErrUnauthorized
	}

	p.Executed = true
	saveProposal(c.txn, p)
	c.emit(ProposalCancelledEvent{ID: id, By: signer})
	return r.commit(c)
}

// GuardianPause is the emergency stop for the guardian key. Unpausing
// still requires a full governance proposal.
func (r *Router) GuardianPause(caller common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	guardian, ok := guardianOf(c.txn)
	if !ok || guardian != caller {
		return ErrUnauthorized
	}
	cfg, ok := configOf(c.txn)
	if !ok {
		return ErrNotInitialized
	}
	cfg.Paused = true
	saveConfig(c.txn, cfg)

	c.emit(GuardianPausedEvent{Guardian: caller})
	r.log.Warn("guardian pause engaged", "guardian", caller)
	return r.commit(c)
}

// GovernanceParameters returns the signer set; fails until migration.
func (r *Router) GovernanceParameters() (GovernanceConfig, error) {
	txn := r.ledger.Begin()
	defer txn.Discard()
	cfg, ok := governanceOf(txn)
	if !ok {
		return GovernanceConfig{}, ErrNotMultiSig
	}
	return cfg, nil
}

// GetProposal returns a proposal by ID.
func (r *Router) GetProposal(id uint64) (Proposal, error) {
	txn := r.ledger.Begin()
	defer txn.Discard()
	p, ok := proposalOf(txn, id)
	if !ok {
		return Proposal{}, ErrProposalNotFound
	}
	return p, nil
}

// dispatchAction applies one approved privileged mutation.
func (r *Router) dispatchAction(c *call, action ProposalAction) error {
	txn := c.txn
	switch action.Type {
	case ActionSetFeeRate:
		if action.FeeRateBps > MaxFeeRateBps {
			return ErrInvalidAmount
		}
		cfg, _ := configOf(txn)
		cfg.FeeRateBps = action.FeeRateBps
		saveConfig(txn, cfg)

	case ActionSetFeeRecipient:
		cfg, _ := configOf(txn)
		cfg.FeeRecipient = action.Address
		saveConfig(txn, cfg)

	case ActionRegisterPool:
		registerPoolRecord(c, action.Address)

	case ActionDeregisterPool:
		deregisterPoolRecord(c, action.Address)

	case ActionPause:
		cfg, _ := configOf(txn)
		cfg.Paused = true
		saveConfig(txn, cfg)
		c.emit(PausedEvent{})

	case ActionUnpause:
		cfg, _ := configOf(txn)
		cfg.Paused = false
		saveConfig(txn, cfg)
		c.emit(UnpausedEvent{})

	case ActionUpgrade:
		return r.executeCodeUpgrade(c, action.CodeHash)

	case ActionAddSigner:
		gov, _ := governanceOf(txn)
		if len(gov.Signers) >= MaxSigners {
			return ErrSignerLimitReached
		}
		gov.Signers = append(gov.Signers, action.Address)
		saveGovernance(txn, gov)

	case ActionRemoveSigner:
		gov, _ := governanceOf(txn)
		if uint32(len(gov.Signers)) <= gov.Threshold {
			return ErrThresholdNotMet
		}
		kept := gov.Signers[:0:0]
		for _, s := range gov.Signers {
			if s != action.Address {
				kept = append(kept, s)
			}
		}
		gov.Signers = kept
		saveGovernance(txn, gov)

	case ActionChangeThreshold:
		gov, _ := governanceOf(txn)
		if action.Threshold == 0 || action.Threshold > uint32(len(gov.Signers)) {
			return ErrInvalidAmount
		}
		gov.Threshold = action.Threshold
		saveGovernance(txn, gov)

	case ActionAddToken:
		if action.Token == nil {
			return ErrInvalidAmount
		}
		return addTokenRecord(c, *action.Token, common.Address{})

	case ActionRemoveToken:
		if action.Asset == nil {
			return ErrInvalidAmount
		}
		return removeTokenRecord(c, *action.Asset, common.Address{})

	case ActionUpdateToken:
		if action.Token == nil {
			return ErrInvalidAmount
		}
		return updateTokenRecord(c, *action.Token, common.Address{})

	case ActionSetMevConfig:
		if action.Mev == nil {
			return ErrInvalidAmount
		}
		saveMevConfig(txn, *action.Mev)

	case ActionSetRateLimitExempt:
		setRateLimitExempt(txn, action.Address, action.Flag)

	default:
		return ErrInvalidAmount
	}
	return nil
}
