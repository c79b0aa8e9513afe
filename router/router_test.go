// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"errors"
	"math/big"
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/swaprouter/state"
)

var (
	adminAddr     = common.HexToAddress("0x0100000000000000000000000000000000000001")
	feeAddr       = common.HexToAddress("0x0100000000000000000000000000000000000002")
	senderAddr    = common.HexToAddress("0x0100000000000000000000000000000000000003")
	recipientAddr = common.HexToAddress("0x0100000000000000000000000000000000000004")
	strangerAddr  = common.HexToAddress("0x0100000000000000000000000000000000000005")
	poolAddr      = common.HexToAddress("0x010000000000000000000000000000000000000a")
	poolAddr2     = common.HexToAddress("0x010000000000000000000000000000000000000b")
	testCodeHash  = common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000001")

	tokenA = ContractAsset(common.HexToAddress("0x0200000000000000000000000000000000000001"))
	tokenB = ContractAsset(common.HexToAddress("0x0200000000000000000000000000000000000002"))
	tokenC = ContractAsset(common.HexToAddress("0x0200000000000000000000000000000000000003"))
)

// fixedRatePool marks an input down by numer/denom. Reserves report static
// values unless post-swap overrides are installed, which the manipulation
// detector tests use.
type fixedRatePool struct {
	numer, denom   int64
	swapped        bool
	noReserves     bool
	postR0, postR1 *big.Int
}

func (p *fixedRatePool) rate(in *big.Int) *big.Int {
	out := new(big.Int).Mul(in, big.NewInt(p.numer))
	return out.Div(out, big.NewInt(p.denom))
}

func (p *fixedRatePool) Quote(src, dst Asset, amountIn *big.Int) (*big.Int, error) {
	return p.rate(amountIn), nil
}

func (p *fixedRatePool) Swap(src, dst Asset, amountIn, minOut *big.Int) (*big.Int, error) {
	p.swapped = true
	return p.rate(amountIn), nil
}

func (p *fixedRatePool) Reserves() (*big.Int, *big.Int, error) {
	if p.noReserves {
		return nil, nil, errors.New("reserves unavailable")
	}
	if p.swapped && p.postR0 != nil {
		return p.postR0, p.postR1, nil
	}
	return big.NewInt(1_000_000), big.NewInt(1_000_000), nil
}

func newTestRouter(t *testing.T) (*Router, *state.ManualClock) {
	t.Helper()
	db := memdb.New()
	t.Cleanup(func() { db.Close() })
	clock := state.NewManualClock(1000)
	ledger := state.New(db, clock)
	return New(ledger, NewAdapterRegistry(), log.NewTestLogger(log.InfoLevel)), clock
}

// newInitializedRouter sets up an initialized router with a 30 bps fee.
func newInitializedRouter(t *testing.T) (*Router, *state.ManualClock) {
	t.Helper()
	r, clock := newTestRouter(t)
	require.NoError(t, r.Initialize(adminAddr, 30, feeAddr, testCodeHash))
	return r, clock
}

// bindPool registers addr and binds a 99% fixed-rate pool to it.
func bindPool(t *testing.T, r *Router, addr common.Address) *fixedRatePool {
	t.Helper()
	pool := &fixedRatePool{numer: 99, denom: 100}
	r.pools.Bind(addr, pool)
	require.NoError(t, r.RegisterPool(adminAddr, addr))
	return pool
}

func oneHop(pool common.Address, src, dst Asset) Route {
	return Route{Hops: []RouteHop{{
		Source:      src,
		Destination: dst,
		Pool:        pool,
		PoolType:    PoolConstantProduct,
	}}}
}

func TestInitialize(t *testing.T) {
	r, _ := newTestRouter(t)

	_, err := r.Admin()
	require.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, r.Initialize(adminAddr, 30, feeAddr, testCodeHash))
	admin, err := r.Admin()
	require.NoError(t, err)
	require.Equal(t, adminAddr, admin)
	require.Equal(t, uint32(30), r.FeeRate())
	require.False(t, r.IsPaused())

	require.ErrorIs(t, r.Initialize(adminAddr, 30, feeAddr, testCodeHash), ErrAlreadyInitialized)

	events := r.Events().ByKind("initialized")
	require.Len(t, events, 1)
	require.Equal(t, adminAddr, events[0].(InitializedEvent).Admin)
}

func TestInitializeRejectsExcessiveFee(t *testing.T) {
	r, _ := newTestRouter(t)
	require.ErrorIs(t, r.Initialize(adminAddr, MaxFeeRateBps+1, feeAddr, testCodeHash), ErrInvalidAmount)
}

func TestSetAdmin(t *testing.T) {
	r, _ := newInitializedRouter(t)

	require.ErrorIs(t, r.SetAdmin(strangerAddr, strangerAddr), ErrUnauthorized)

	require.NoError(t, r.SetAdmin(adminAddr, strangerAddr))
	admin, err := r.Admin()
	require.NoError(t, err)
	require.Equal(t, strangerAddr, admin)

	// Old admin lost its powers.
	require.ErrorIs(t, r.SetAdmin(adminAddr, adminAddr), ErrUnauthorized)
}

func TestRegisterPool(t *testing.T) {
	r, _ := newInitializedRouter(t)

	require.ErrorIs(t, r.RegisterPool(strangerAddr, poolAddr), ErrUnauthorized)
	require.False(t, r.IsPoolRegistered(poolAddr))
	require.Equal(t, uint32(0), r.PoolCount())

	require.NoError(t, r.RegisterPool(adminAddr, poolAddr))
	require.True(t, r.IsPoolRegistered(poolAddr))
	require.Equal(t, uint32(1), r.PoolCount())

	// Duplicate registration is refused.
	require.ErrorIs(t, r.RegisterPool(adminAddr, poolAddr), ErrPoolNotSupported)
	require.Equal(t, uint32(1), r.PoolCount())
}

func TestPauseUnpause(t *testing.T) {
	r, _ := newInitializedRouter(t)

	require.ErrorIs(t, r.Pause(strangerAddr), ErrUnauthorized)
	require.NoError(t, r.Pause(adminAddr))
	require.True(t, r.IsPaused())

	require.NoError(t, r.Unpause(adminAddr))
	require.False(t, r.IsPaused())
}

func TestRegisterPoolWhilePaused(t *testing.T) {
	r, clock := newInitializedRouter(t)
	bindPool(t, r, poolAddr)
	require.NoError(t, r.Mint(tokenA, senderAddr, big.NewInt(1000)))

	before, err := r.GetQuote(big.NewInt(1000), oneHop(poolAddr, tokenA, tokenB))
	require.NoError(t, err)

	// Pausing stops swaps but pool administration stays open.
	require.NoError(t, r.Pause(adminAddr))
	require.NoError(t, r.RegisterPool(adminAddr, poolAddr2))
	require.True(t, r.IsPoolRegistered(poolAddr2))

	require.NoError(t, r.Unpause(adminAddr))
	after, err := r.GetQuote(big.NewInt(1000), oneHop(poolAddr, tokenA, tokenB))
	require.NoError(t, err)
	require.Equal(t, before.ExpectedOutput, after.ExpectedOutput)

	result, err := r.ExecuteSwap(senderAddr, swapParams(oneHop(poolAddr, tokenA, tokenB), 1000, clock.Now()+10))
	require.NoError(t, err)
	require.Equal(t, after.ExpectedOutput, result.AmountOut)
}

func TestGetQuote(t *testing.T) {
	r, clock := newInitializedRouter(t)
	bindPool(t, r, poolAddr)

	quote, err := r.GetQuote(big.NewInt(1000), oneHop(poolAddr, tokenA, tokenB))
	require.NoError(t, err)

	// 1000 in, 99% pool -> 990; fee floor(990*30/10000) = 2; net 988.
	require.Equal(t, big.NewInt(988), quote.ExpectedOutput)
	require.Equal(t, big.NewInt(2), quote.FeeAmount)
	require.Equal(t, uint32(ImpactPerHopBps), quote.PriceImpactBps)
	require.Equal(t, clock.Now()+QuoteValidityTicks, quote.ValidUntil)
}

func TestGetQuoteRejectsBadRoutes(t *testing.T) {
	r, _ := newInitializedRouter(t)
	bindPool(t, r, poolAddr)

	_, err := r.GetQuote(big.NewInt(0), oneHop(poolAddr, tokenA, tokenB))
	require.ErrorIs(t, err, ErrInvalidRoute)

	_, err = r.GetQuote(big.NewInt(-5), oneHop(poolAddr, tokenA, tokenB))
	require.ErrorIs(t, err, ErrInvalidRoute)

	_, err = r.GetQuote(big.NewInt(1000), Route{})
	require.ErrorIs(t, err, ErrInvalidRoute)

	hop := oneHop(poolAddr, tokenA, tokenB).Hops[0]
	tooLong := Route{Hops: []RouteHop{hop, hop, hop, hop, hop}}
	_, err = r.GetQuote(big.NewInt(1000), tooLong)
	require.ErrorIs(t, err, ErrInvalidRoute)

	_, err = r.GetQuote(big.NewInt(1000), oneHop(poolAddr2, tokenA, tokenB))
	require.ErrorIs(t, err, ErrPoolNotSupported)
}

func TestGetQuoteMultiHopImpactAccumulates(t *testing.T) {
	r, _ := newInitializedRouter(t)
	bindPool(t, r, poolAddr)
	bindPool(t, r, poolAddr2)

	route := Route{Hops: []RouteHop{
		{Source: tokenA, Destination: tokenB, Pool: poolAddr, PoolType: PoolConstantProduct},
		{Source: tokenB, Destination: tokenC, Pool: poolAddr2, PoolType: PoolConstantProduct},
	}}
	two, err := r.GetQuote(big.NewInt(10_000), route)
	require.NoError(t, err)
	one, err := r.GetQuote(big.NewInt(10_000), oneHop(poolAddr, tokenA, tokenB))
	require.NoError(t, err)

	require.Equal(t, uint32(2*ImpactPerHopBps), two.PriceImpactBps)
	require.Equal(t, uint32(ImpactPerHopBps), one.PriceImpactBps)
	// Same per-hop markdown, more hops, strictly less output.
	require.Negative(t, two.ExpectedOutput.Cmp(one.ExpectedOutput))
}

func TestGetQuoteAdapterFailure(t *testing.T) {
	r, _ := newInitializedRouter(t)
	// Registered in storage but no adapter bound.
	require.NoError(t, r.RegisterPool(adminAddr, poolAddr))

	_, err := r.GetQuote(big.NewInt(1000), oneHop(poolAddr, tokenA, tokenB))
	require.ErrorIs(t, err, ErrPoolCallFailed)
}

func TestEstimateResources(t *testing.T) {
	r, _ := newInitializedRouter(t)

	est, err := r.EstimateResources(big.NewInt(1000), oneHop(poolAddr, tokenA, tokenB))
	require.NoError(t, err)
	require.Equal(t, uint64(resourcePerHop+resourceCallOver), est.EstimatedCPU)
	require.True(t, est.WillSucceed)

	_, err = r.EstimateResources(big.NewInt(0), oneHop(poolAddr, tokenA, tokenB))
	require.ErrorIs(t, err, ErrInvalidRoute)
}

func TestMintAndBalance(t *testing.T) {
	r, _ := newInitializedRouter(t)

	require.ErrorIs(t, r.Mint(tokenA, senderAddr, big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, r.Mint(tokenA, senderAddr, new(big.Int).Lsh(big.NewInt(1), 130)), ErrOverflow)

	require.NoError(t, r.Mint(tokenA, senderAddr, big.NewInt(500)))
	require.NoError(t, r.Mint(tokenA, senderAddr, big.NewInt(250)))
	require.Equal(t, big.NewInt(750), r.BalanceOf(tokenA, senderAddr))
	require.Zero(t, r.BalanceOf(tokenB, senderAddr).Sign())
}
