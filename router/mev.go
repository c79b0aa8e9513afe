// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"encoding/binary"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/luxfi/swaprouter/state"
)

// =========================================================================
// MEV configuration
// =========================================================================

func mevConfigRecord(txn *state.Txn) (MevConfig, bool) {
	var cfg MevConfig
	ok := getJSON(txn, state.Key(prefixMevConfig, nil), &cfg)
	return cfg, ok
}

// mevConfigOf returns the stored config, or a zero config with every gate
// disabled when none has been set.
func mevConfigOf(txn *state.Txn) MevConfig {
	cfg, _ := mevConfigRecord(txn)
	return cfg
}

func saveMevConfig(txn *state.Txn, cfg MevConfig) {
	txn.PutInstance(state.Key(prefixMevConfig, nil), putJSON(cfg))
}

// SetMevConfig installs or replaces the MEV guard parameters. Direct calls
// work only under single-admin; after migration use an ActionSetMevConfig
// proposal.
func (r *Router) SetMevConfig(caller common.Address, cfg MevConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	if _, err := requireAdmin(c.txn, caller); err != nil {
		return err
	}
	if cfg.CommitThreshold != nil {
		if err := checkI128(cfg.CommitThreshold); err != nil {
			return err
		}
	}
	saveMevConfig(c.txn, cfg)
	return r.commit(c)
}

// SetRateLimitExempt whitelists or un-whitelists a sender for the rate
// limiter. Same gating as SetMevConfig.
func (r *Router) SetRateLimitExempt(caller, sender common.Address, exempt bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	if _, err := requireAdmin(c.txn, caller); err != nil {
		return err
	}
	setRateLimitExempt(c.txn, sender, exempt)
	return r.commit(c)
}

// MevParameters returns the active MEV config; ok is false when none is set.
func (r *Router) MevParameters() (MevConfig, bool) {
	txn := r.ledger.Begin()
	defer txn.Discard()
	return mevConfigRecord(txn)
}

func exemptKey(sender common.Address) common.Hash {
	return state.Key(prefixRateExempt, sender.Bytes())
}

func setRateLimitExempt(txn *state.Txn, sender common.Address, exempt bool) {
	if exempt {
		txn.PutPersistent(exemptKey(sender), putJSON(true), longLivedTTL)
	} else {
		txn.Delete(exemptKey(sender))
	}
}

// IsRateLimitExempt reports whether sender bypasses the rate limiter.
func (r *Router) IsRateLimitExempt(sender common.Address) bool {
	txn := r.ledger.Begin()
	defer txn.Discard()
	return txn.Has(exemptKey(sender))
}

// =========================================================================
// Rate limiting
// =========================================================================

// checkRateLimit charges one swap against sender's sliding window. On
// rejection the rate-limit-hit event is published immediately rather than
// through the call buffer: the swap's writes roll back but monitoring
// still needs to see the rejection.
func (r *Router) checkRateLimit(txn *state.Txn, sender common.Address) error {
	mev := mevConfigOf(txn)
	if mev.MaxSwapsPerWindow == 0 || mev.RateLimitWindowTicks == 0 {
		return nil
	}
	if txn.Has(exemptKey(sender)) {
		return nil
	}

	now := txn.Now()
	key := state.Key(prefixRateWindow, sender.Bytes())
	var win rateWindow
	if getJSON(txn, key, &win) && now < win.WindowStart+mev.RateLimitWindowTicks {
		if win.Count >= mev.MaxSwapsPerWindow {
			r.events.append(RateLimitHitEvent{
				Sender:      sender,
				SwapCount:   win.Count,
				WindowStart: win.WindowStart,
			})
			r.log.Warn("rate limit hit", "sender", sender, "count", win.Count)
			return ErrRateLimitExceeded
		}
		win.Count++
	} else {
		win = rateWindow{WindowStart: now, Count: 1}
	}
	txn.PutTemporary(key, putJSON(win), mev.RateLimitWindowTicks)
	return nil
}

// =========================================================================
// Commit-reveal
// =========================================================================

// CommitmentHash binds the trade parameters a committer will later reveal:
// blake3 over amountIn and minAmountOut as 32-byte big-endian words, the
// deadline as 8 big-endian bytes, then the salt.
func CommitmentHash(amountIn, minAmountOut *big.Int, deadline uint64, salt []byte) common.Hash {
	var buf [72]byte
	amountIn.FillBytes(buf[0:32])
	if minAmountOut != nil {
		minAmountOut.FillBytes(buf[32:64])
	}
	binary.BigEndian.PutUint64(buf[64:72], deadline)

	h := blake3.New()
	h.Write(buf[:])
	h.Write(salt)
	var out common.Hash
	h.Digest().Read(out[:])
	return out
}

func commitmentKey(hash common.Hash) common.Hash {
	return state.Key(prefixCommitment, hash.Bytes())
}

// CommitSwap records a commitment for a large swap. Requires a configured
// MevConfig and a positive deposit.
func (r *Router) CommitSwap(sender common.Address, hash common.Hash, depositAmount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	if _, ok := configOf(c.txn); !ok {
		return ErrNotInitialized
	}
	mev, ok := mevConfigRecord(c.txn)
	if !ok || mev.CommitWindowTicks == 0 {
		return ErrCommitmentRequired
	}
	if depositAmount == nil || depositAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := checkI128(depositAmount); err != nil {
		return err
	}

	now := c.txn.Now()
	data := CommitmentData{
		Sender:        sender,
		DepositAmount: depositAmount,
		CreatedAt:     now,
		ExpiresAt:     now + mev.CommitWindowTicks,
	}
	c.txn.PutTemporary(commitmentKey(hash), putJSON(data), mev.CommitWindowTicks)

	c.emit(CommitmentCreatedEvent{Sender: sender, Hash: hash, DepositAmount: depositAmount})
	return r.commit(c)
}

// RevealAndExecute recomputes the commitment hash from params and salt,
// consumes the matching commitment and executes the swap. The commit
// threshold does not apply here; committing already satisfied it.
func (r *Router) RevealAndExecute(sender common.Address, params SwapParams, salt []byte) (SwapResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	// The amounts feed FillBytes below, so bound them before hashing.
	if params.AmountIn == nil || params.AmountIn.Sign() <= 0 {
		return SwapResult{}, ErrInvalidAmount
	}
	if err := checkI128(params.AmountIn); err != nil {
		return SwapResult{}, err
	}
	if params.MinAmountOut != nil {
		if params.MinAmountOut.Sign() < 0 {
			return SwapResult{}, ErrInvalidAmount
		}
		if err := checkI128(params.MinAmountOut); err != nil {
			return SwapResult{}, err
		}
	}
	hash := CommitmentHash(params.AmountIn, params.MinAmountOut, params.Deadline, salt)
	var data CommitmentData
	if !getJSON(c.txn, commitmentKey(hash), &data) {
		return SwapResult{}, ErrCommitmentNotFound
	}
	if data.Sender != sender {
		return SwapResult{}, ErrInvalidReveal
	}
	// The store keeps expired entries visible for a short grace lag, so a
	// late reveal is distinguishable from a never-made one.
	if c.txn.Now() > data.ExpiresAt {
		return SwapResult{}, ErrCommitmentExpired
	}
	c.txn.Delete(commitmentKey(hash))
	c.emit(CommitmentRevealedEvent{Sender: sender, Hash: hash})

	result, err := r.execute(c, sender, params)
	if err != nil {
		return SwapResult{}, err
	}
	if err := r.commit(c); err != nil {
		return SwapResult{}, err
	}
	return result, nil
}
