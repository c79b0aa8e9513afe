// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
)

// PoolAdapter is the uniform interface every liquidity pool exposes to be
// routable. Pools are external black boxes; the router never looks past
// these three methods. Any panic or error from an adapter is surfaced to
// the engine as ErrPoolCallFailed.
type PoolAdapter interface {
	// Quote returns the output for amountIn without moving funds.
	Quote(src, dst Asset, amountIn *big.Int) (*big.Int, error)
	// Swap executes the hop and returns the realized output.
	Swap(src, dst Asset, amountIn, minOut *big.Int) (*big.Int, error)
	// Reserves returns the pool's two reserve legs.
	Reserves() (*big.Int, *big.Int, error)
}

// AdapterRegistry maps a registered pool address to its adapter instance.
// Binding an adapter is host wiring, not a privileged ledger mutation: the
// privileged fact ("this pool is registered") lives in the ledger, the
// binding just tells the engine how to reach the pool.
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[common.Address]PoolAdapter
}

// NewAdapterRegistry returns an empty registry.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{adapters: make(map[common.Address]PoolAdapter)}
}

// Bind attaches adapter to pool, replacing any previous binding.
func (r *AdapterRegistry) Bind(pool common.Address, adapter PoolAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[pool] = adapter
}

// Lookup returns the adapter bound to pool.
func (r *AdapterRegistry) Lookup(pool common.Address) (PoolAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[pool]
	return a, ok
}

// callQuote invokes adapter.Quote, converting panics and errors into
// ErrPoolCallFailed. Adapter failures abort the whole call; there is no
// partial result and no internal retry.
func callQuote(adapter PoolAdapter, src, dst Asset, amountIn *big.Int) (out *big.Int, err error) {
	defer func() {
		if recover() != nil {
			out, err = nil, ErrPoolCallFailed
		}
	}()
	out, callErr := adapter.Quote(src, dst, amountIn)
	if callErr != nil || out == nil {
		return nil, ErrPoolCallFailed
	}
	return out, nil
}

// callSwap invokes adapter.Swap with the same failure mapping as callQuote.
func callSwap(adapter PoolAdapter, src, dst Asset, amountIn, minOut *big.Int) (out *big.Int, err error) {
	defer func() {
		if recover() != nil {
			out, err = nil, ErrPoolCallFailed
		}
	}()
	out, callErr := adapter.Swap(src, dst, amountIn, minOut)
	if callErr != nil || out == nil {
		return nil, ErrPoolCallFailed
	}
	return out, nil
}

// callReserves invokes adapter.Reserves. Failure here is tolerated by the
// manipulation detector, so it reports ok=false instead of an error.
func callReserves(adapter PoolAdapter) (r0, r1 *big.Int, ok bool) {
	defer func() {
		if recover() != nil {
			r0, r1, ok = nil, nil, false
		}
	}()
	r0, r1, err := adapter.Reserves()
	if err != nil || r0 == nil || r1 == nil {
		return nil, nil, false
	}
	return r0, r1, true
}

// =========================================================================
// Reference constant-product adapter
// =========================================================================

// ConstantProductAdapter is an x*y=k pool with a 0.3% swap fee, usable as a
// routable pool in integration setups and tests. Reserve0 backs the asset
// passed as src when it equals Asset0.
type ConstantProductAdapter struct {
	mu       sync.Mutex
	Asset0   Asset
	Asset1   Asset
	reserve0 *big.Int
	reserve1 *big.Int
}

// NewConstantProductAdapter seeds a pool with the given reserves.
func NewConstantProductAdapter(a0, a1 Asset, r0, r1 *big.Int) *ConstantProductAdapter {
	return &ConstantProductAdapter{
		Asset0:   a0,
		Asset1:   a1,
		reserve0: new(big.Int).Set(r0),
		reserve1: new(big.Int).Set(r1),
	}
}

var (
	cpFeeNumerator   = big.NewInt(997)
	cpFeeDenominator = big.NewInt(1000)
)

// constantProductOut computes amountIn*997*reserveOut / (reserveIn*1000 +
// amountIn*997), the classic fee-adjusted invariant output.
func constantProductOut(reserveIn, reserveOut, amountIn *big.Int) *big.Int {
	inWithFee := new(big.Int).Mul(amountIn, cpFeeNumerator)
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, cpFeeDenominator)
	denominator.Add(denominator, inWithFee)
	return numerator.Div(numerator, denominator)
}

func (p *ConstantProductAdapter) orient(src Asset) (reserveIn, reserveOut *big.Int, ok bool) {
	switch src {
	case p.Asset0:
		return p.reserve0, p.reserve1, true
	case p.Asset1:
		return p.reserve1, p.reserve0, true
	}
	return nil, nil, false
}

func (p *ConstantProductAdapter) Quote(src, dst Asset, amountIn *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reserveIn, reserveOut, ok := p.orient(src)
	if !ok || dst == src {
		return nil, ErrPoolCallFailed
	}
	if amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return constantProductOut(reserveIn, reserveOut, amountIn), nil
}

func (p *ConstantProductAdapter) Swap(src, dst Asset, amountIn, minOut *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reserveIn, reserveOut, ok := p.orient(src)
	if !ok || dst == src {
		return nil, ErrPoolCallFailed
	}
	if amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	out := constantProductOut(reserveIn, reserveOut, amountIn)
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, ErrSlippageExceeded
	}
	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, out)
	return out, nil
}

func (p *ConstantProductAdapter) Reserves() (*big.Int, *big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.reserve0), new(big.Int).Set(p.reserve1), nil
}
