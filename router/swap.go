// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"math/big"

	"github.com/luxfi/geth/common"
)

// reserveSnapshot holds one hop pool's reserves taken before any transfer.
// ok is false when the adapter could not report reserves; that hop is then
// excluded from manipulation detection.
type reserveSnapshot struct {
	r0, r1 *big.Int
	ok     bool
}

// ExecuteSwap validates params, runs the MEV gates and executes the route.
// Large swaps (amountIn at or above the configured commit threshold) must
// instead go through CommitSwap / RevealAndExecute.
func (r *Router) ExecuteSwap(sender common.Address, params SwapParams) (SwapResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	cfg, ok := configOf(c.txn)
	if !ok {
		return SwapResult{}, ErrNotInitialized
	}
	if cfg.Paused {
		return SwapResult{}, ErrPaused
	}
	mev := mevConfigOf(c.txn)
	if mev.CommitThreshold != nil && mev.CommitThreshold.Sign() > 0 &&
		params.AmountIn != nil && params.AmountIn.Cmp(mev.CommitThreshold) >= 0 {
		return SwapResult{}, ErrCommitmentRequired
	}

	result, err := r.execute(c, sender, params)
	if err != nil {
		return SwapResult{}, err
	}
	if err := r.commit(c); err != nil {
		return SwapResult{}, err
	}
	return result, nil
}

// execute is the shared execution routine behind ExecuteSwap and
// RevealAndExecute. Every failure aborts the caller's transaction, so no
// write or transfer from a failed swap survives.
func (r *Router) execute(c *call, sender common.Address, params SwapParams) (SwapResult, error) {
	txn := c.txn
	now := txn.Now()

	cfg, ok := configOf(txn)
	if !ok {
		return SwapResult{}, ErrNotInitialized
	}
	if cfg.Paused {
		return SwapResult{}, ErrPaused
	}
	if params.AmountIn == nil || params.AmountIn.Sign() <= 0 {
		return SwapResult{}, ErrInvalidAmount
	}
	if err := checkI128(params.AmountIn); err != nil {
		return SwapResult{}, err
	}
	if now > params.Deadline {
		return SwapResult{}, ErrDeadlineExceeded
	}
	if now < params.NotBefore {
		return SwapResult{}, ErrExecutionTooEarly
	}
	route := params.Route
	if len(route.Hops) == 0 || len(route.Hops) > MaxHops {
		return SwapResult{}, ErrInvalidRoute
	}
	if err := validateRouteAllowlisted(txn, route); err != nil {
		return SwapResult{}, err
	}
	if err := checkPoolsRegistered(txn, route); err != nil {
		return SwapResult{}, err
	}
	if err := r.checkRateLimit(txn, sender); err != nil {
		return SwapResult{}, err
	}

	// Pre-trade reserve snapshot for manipulation detection. A pool that
	// cannot report reserves is tolerated and skipped.
	pre := make([]reserveSnapshot, len(route.Hops))
	adapters := make([]PoolAdapter, len(route.Hops))
	for i, hop := range route.Hops {
		adapter, bound := r.pools.Lookup(hop.Pool)
		if !bound {
			return SwapResult{}, ErrPoolCallFailed
		}
		adapters[i] = adapter
		r0, r1, avail := callReserves(adapter)
		pre[i] = reserveSnapshot{r0: r0, r1: r1, ok: avail}
	}

	// Transfer in: sender funds move to the first hop's pool custody.
	inputAsset := route.Hops[0].Source
	if err := debit(txn, inputAsset, sender, params.AmountIn); err != nil {
		return SwapResult{}, err
	}
	credit(txn, inputAsset, route.Hops[0].Pool, params.AmountIn)

	current := new(big.Int).Set(params.AmountIn)
	impactBps := uint32(0)
	for i, hop := range route.Hops {
		out, err := callSwap(adapters[i], hop.Source, hop.Destination, current, nil)
		if err != nil {
			return SwapResult{}, err
		}
		if err := checkI128(out); err != nil {
			return SwapResult{}, err
		}
		current = out
		impactBps += ImpactPerHopBps
	}

	fee := protocolFee(current, cfg.FeeRateBps)
	netOut := new(big.Int).Sub(current, fee)
	if netOut.Sign() <= 0 {
		return SwapResult{}, ErrInsufficientOutput
	}

	if params.MaxPriceImpactBps > 0 && impactBps > params.MaxPriceImpactBps {
		return SwapResult{}, ErrPriceImpactTooHigh
	}
	if params.MaxExecutionSpreadBps > 0 && route.EstimatedOutput != nil && route.EstimatedOutput.Sign() > 0 {
		if spreadBps(route.EstimatedOutput, netOut) > params.MaxExecutionSpreadBps {
			return SwapResult{}, ErrSpreadTooHigh
		}
	}
	if params.MinAmountOut != nil && netOut.Cmp(params.MinAmountOut) < 0 {
		return SwapResult{}, ErrSlippageExceeded
	}

	// Post-trade reserves: within a single directional swap one leg rises
	// and the other falls. Both legs moving the same way means external
	// liquidity was injected or drained mid-trade.
	for i := range route.Hops {
		if !pre[i].ok {
			continue
		}
		r0, r1, avail := callReserves(adapters[i])
		if !avail {
			continue
		}
		d0 := r0.Cmp(pre[i].r0)
		d1 := r1.Cmp(pre[i].r1)
		if (d0 > 0 && d1 > 0) || (d0 < 0 && d1 < 0) {
			return SwapResult{}, ErrReserveManipulationDetected
		}
	}

	mev := mevConfigOf(txn)
	if mev.HighImpactThresholdBps > 0 && impactBps > mev.HighImpactThresholdBps {
		c.emit(HighImpactSwapEvent{Sender: sender, ImpactBps: impactBps, AmountIn: params.AmountIn})
	}

	// Transfer out: net output to the recipient, fee to the protocol.
	outputAsset := route.Hops[len(route.Hops)-1].Destination
	credit(txn, outputAsset, params.Recipient, netOut)
	credit(txn, outputAsset, cfg.FeeRecipient, fee)

	bumpNonce(txn, sender)
	c.emit(SwapExecutedEvent{
		Sender:    sender,
		AmountIn:  params.AmountIn,
		AmountOut: netOut,
		Fee:       fee,
		Hops:      len(route.Hops),
		Tick:      now,
	})
	r.log.Debug("swap executed",
		"sender", sender, "amountIn", params.AmountIn, "amountOut", netOut, "hops", len(route.Hops))

	return SwapResult{
		AmountIn:   new(big.Int).Set(params.AmountIn),
		AmountOut:  netOut,
		Route:      route,
		ExecutedAt: now,
	}, nil
}

// spreadBps returns max(0, (estimated-actual)*10000/estimated).
func spreadBps(estimated, actual *big.Int) uint32 {
	if actual.Cmp(estimated) >= 0 {
		return 0
	}
	diff := new(big.Int).Sub(estimated, actual)
	diff.Mul(diff, big.NewInt(BasisPoints))
	diff.Div(diff, estimated)
	if !diff.IsUint64() || diff.Uint64() > 1<<31 {
		return 1 << 31
	}
	return uint32(diff.Uint64())
}
