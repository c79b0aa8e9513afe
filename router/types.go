// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package router implements an on-chain swap router for a DEX aggregator:
// multi-hop quote and swap execution over registered liquidity-pool
// adapters, MEV protection (commit-reveal, rate limiting, impact/spread
// guards, reserve-manipulation detection), a token allowlist, and the
// single-admin / multi-sig governance and time-locked upgrade machinery
// that gates every privileged configuration change.
package router

import (
	"math/big"

	"github.com/luxfi/geth/common"
)

// MaxHops caps route length; it bounds worst-case computation per call.
const MaxHops = 4

// MaxFeeRateBps is the upper bound for the protocol fee (10%).
const MaxFeeRateBps = 1000

// BasisPoints is the denominator for all bps fractions.
const BasisPoints = 10_000

// ImpactPerHopBps is the flat per-hop price-impact heuristic.
const ImpactPerHopBps = 5

// QuoteValidityTicks is how long a quote's ValidUntil extends past issuance.
const QuoteValidityTicks = 120

// AssetKind discriminates the Asset tagged union.
type AssetKind uint8

const (
	AssetNative   AssetKind = iota // chain-native asset
	AssetIssued                    // classic issued asset (issuer + code)
	AssetContract                  // contract-token address
)

// Asset identifies a tradable asset. Identity is structural: two Assets are
// the same asset iff all fields match. Values are immutable once built.
type Asset struct {
	Kind     AssetKind      `json:"kind"`
	Issuer   common.Address `json:"issuer,omitempty"`
	Code     string         `json:"code,omitempty"`
	Contract common.Address `json:"contract,omitempty"`
}

// NativeAsset returns the chain-native asset.
func NativeAsset() Asset {
	return Asset{Kind: AssetNative}
}

// IssuedAsset returns an issued asset identified by issuer and code.
func IssuedAsset(issuer common.Address, code string) Asset {
	return Asset{Kind: AssetIssued, Issuer: issuer, Code: code}
}

// ContractAsset returns a contract-token asset.
func ContractAsset(contract common.Address) Asset {
	return Asset{Kind: AssetContract, Contract: contract}
}

// id returns a stable byte identifier for storage-key derivation.
func (a Asset) id() []byte {
	buf := make([]byte, 0, 1+20+len(a.Code)+20)
	buf = append(buf, byte(a.Kind))
	buf = append(buf, a.Issuer.Bytes()...)
	buf = append(buf, a.Code...)
	buf = append(buf, a.Contract.Bytes()...)
	return buf
}

// PoolType classifies a registered pool. Informational only: the adapter
// interface is uniform regardless of type.
type PoolType uint8

const (
	PoolOrderbook PoolType = iota
	PoolConstantProduct
	PoolStable
)

// RouteHop is one leg of a route, executed against a single pool.
// Hops are owned by their Route and never mutated after construction.
type RouteHop struct {
	Source      Asset          `json:"source"`
	Destination Asset          `json:"destination"`
	Pool        common.Address `json:"pool"`
	PoolType    PoolType       `json:"poolType"`
}

// Route is an ordered sequence of 1..MaxHops hops from input asset to
// output asset. EstimatedOutput/MinOutput/ExpiresAt are advisory; execution
// enforces SwapParams.Deadline, not Route.ExpiresAt.
type Route struct {
	Hops            []RouteHop `json:"hops"`
	EstimatedOutput *big.Int   `json:"estimatedOutput"`
	MinOutput       *big.Int   `json:"minOutput"`
	ExpiresAt       uint64     `json:"expiresAt"`
}

// SwapParams carries everything ExecuteSwap needs beyond the sender.
// Deadline and NotBefore are logical-clock ticks.
type SwapParams struct {
	Route                 Route          `json:"route"`
	AmountIn              *big.Int       `json:"amountIn"`
	MinAmountOut          *big.Int       `json:"minAmountOut"`
	Recipient             common.Address `json:"recipient"`
	Deadline              uint64         `json:"deadline"`
	NotBefore             uint64         `json:"notBefore"`
	MaxPriceImpactBps     uint32         `json:"maxPriceImpactBps"`
	MaxExecutionSpreadBps uint32         `json:"maxExecutionSpreadBps"`
}

// QuoteResult is the outcome of GetQuote. Never stored.
type QuoteResult struct {
	ExpectedOutput *big.Int `json:"expectedOutput"`
	PriceImpactBps uint32   `json:"priceImpactBps"` // 100 = 1%
	FeeAmount      *big.Int `json:"feeAmount"`
	Route          Route    `json:"route"`
	ValidUntil     uint64   `json:"validUntil"`
}

// SwapResult is the outcome of a successful swap. Never stored.
type SwapResult struct {
	AmountIn   *big.Int `json:"amountIn"`
	AmountOut  *big.Int `json:"amountOut"`
	Route      Route    `json:"route"`
	ExecutedAt uint64   `json:"executedAt"`
}

// ResourceEstimate predicts the cost of a swap before submission.
type ResourceEstimate struct {
	EstimatedCPU  uint64 `json:"estimatedCpu"`
	StorageReads  uint32 `json:"storageReads"`
	StorageWrites uint32 `json:"storageWrites"`
	Events        uint32 `json:"events"`
	WillSucceed   bool   `json:"willSucceed"`
}

// MevConfig tunes the MEV-protection layer. Owned by admin/governance and
// read on every swap. A nil config disables commit-reveal and rate limiting.
type MevConfig struct {
	// Swaps of at least CommitThreshold must use the commit-reveal path.
	CommitThreshold *big.Int `json:"commitThreshold"`
	// Ticks a commitment stays revealable.
	CommitWindowTicks uint64 `json:"commitWindowTicks"`
	// Sliding-window rate limit; 0 disables rate limiting.
	MaxSwapsPerWindow    uint32 `json:"maxSwapsPerWindow"`
	RateLimitWindowTicks uint64 `json:"rateLimitWindowTicks"`
	// Accumulated impact above this emits a high-impact event (not an error).
	HighImpactThresholdBps uint32 `json:"highImpactThresholdBps"`
	// Reserved for off-chain price-freshness monitoring.
	PriceFreshnessThresholdBps uint32 `json:"priceFreshnessThresholdBps"`
}

// CommitmentData is created by CommitSwap and consumed by RevealAndExecute.
// It lives in temporary storage; once evicted a lookup miss is
// indistinguishable from "never existed".
type CommitmentData struct {
	Sender        common.Address `json:"sender"`
	DepositAmount *big.Int       `json:"depositAmount"`
	CreatedAt     uint64         `json:"createdAt"`
	ExpiresAt     uint64         `json:"expiresAt"`
}

// rateWindow is the per-sender sliding-window state, temporary storage.
type rateWindow struct {
	WindowStart uint64 `json:"windowStart"`
	Count       uint32 `json:"count"`
}

// TokenCategory classifies allowlisted tokens for category queries.
type TokenCategory uint8

const (
	CategoryNative TokenCategory = iota
	CategoryStablecoin
	CategoryWrapped
	CategoryEcosystem
	CategoryCommunity
)

// TokenInfo is the verified metadata of an allowlisted asset. Existence of
// a TokenInfo record is what "allowlisted" means.
type TokenInfo struct {
	Asset          Asset          `json:"asset"`
	Name           string         `json:"name"`
	Code           string         `json:"code"`
	Decimals       uint32         `json:"decimals"`
	IssuerVerified bool           `json:"issuerVerified"`
	Category       TokenCategory  `json:"category"`
	AddedAt        uint64         `json:"addedAt"`
	AddedBy        common.Address `json:"addedBy"`
}

// GovernanceConfig is the signer set and quorum, instance storage.
type GovernanceConfig struct {
	Signers          []common.Address `json:"signers"` // max MaxSigners, unique
	Threshold        uint32           `json:"threshold"`
	ProposalTTLTicks uint64           `json:"proposalTtlTicks"`
}

// ActionType discriminates ProposalAction.
type ActionType uint8

const (
	ActionSetFeeRate ActionType = iota
	ActionSetFeeRecipient
	ActionRegisterPool
	ActionDeregisterPool
	ActionPause
	ActionUnpause
	ActionUpgrade
	ActionAddSigner
	ActionRemoveSigner
	ActionChangeThreshold
	ActionAddToken
	ActionRemoveToken
	ActionUpdateToken
	ActionSetMevConfig
	ActionSetRateLimitExempt
)

// ProposalAction encodes one privileged mutation. Only the fields relevant
// to Type are set.
type ProposalAction struct {
	Type       ActionType     `json:"type"`
	FeeRateBps uint32         `json:"feeRateBps,omitempty"`
	Address    common.Address `json:"address,omitempty"`
	PoolType   PoolType       `json:"poolType,omitempty"`
	CodeHash   common.Hash    `json:"codeHash,omitempty"`
	Threshold  uint32         `json:"threshold,omitempty"`
	Token      *TokenInfo     `json:"token,omitempty"`
	Asset      *Asset         `json:"asset,omitempty"`
	Mev        *MevConfig     `json:"mev,omitempty"`
	Flag       bool           `json:"flag,omitempty"`
}

// Proposal is a pending governance action, persistent storage keyed by ID.
// Approvals are append-only and never contain duplicates; the proposer is
// always the first entry. Executed is terminal and doubles as the cancelled
// marker.
type Proposal struct {
	ID        uint64           `json:"id"`
	Action    ProposalAction   `json:"action"`
	Proposer  common.Address   `json:"proposer"`
	Approvals []common.Address `json:"approvals"`
	CreatedAt uint64           `json:"createdAt"`
	ExpiresAt uint64           `json:"expiresAt"`
	Executed  bool             `json:"executed"`
}

// ContractVersion records the active code. History snapshots are kept in
// persistent storage keyed by activation tick.
type ContractVersion struct {
	Major       uint32      `json:"major"`
	Minor       uint32      `json:"minor"`
	Patch       uint32      `json:"patch"`
	CodeHash    common.Hash `json:"codeHash"`
	ActivatedAt uint64      `json:"activatedAt"`
}

// PendingUpgrade is the single outstanding time-locked upgrade, if any.
type PendingUpgrade struct {
	NewCodeHash  common.Hash    `json:"newCodeHash"`
	ProposedAt   uint64         `json:"proposedAt"`
	ExecuteAfter uint64         `json:"executeAfter"`
	Proposer     common.Address `json:"proposer"`
}

// instanceConfig is the always-resident router config, batch-read by every
// mutating call.
type instanceConfig struct {
	Admin        common.Address `json:"admin"`
	FeeRateBps   uint32         `json:"feeRateBps"`
	FeeRecipient common.Address `json:"feeRecipient"`
	Paused       bool           `json:"paused"`
	MultiSig     bool           `json:"multiSig"`
}

// i128 bounds; all monetary amounts must stay inside them.
var (
	maxI128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minI128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// checkI128 rejects amounts outside the signed 128-bit range.
func checkI128(v *big.Int) error {
	if v == nil {
		return ErrInvalidAmount
	}
	if v.Cmp(maxI128) > 0 || v.Cmp(minI128) < 0 {
		return ErrOverflow
	}
	return nil
}
