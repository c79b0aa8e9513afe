// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import "errors"

// The error surface is a flat, stable enumeration. Every fallible entry
// point returns exactly one of these; callers branch with errors.Is. A
// failed call has no partial effects.

// Lifecycle errors
var (
	ErrNotInitialized     = errors.New("router not initialized")
	ErrAlreadyInitialized = errors.New("router already initialized")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrPaused             = errors.New("router is paused")
)

// Route and trade errors
var (
	ErrInvalidRoute       = errors.New("invalid route")
	ErrRouteExpired       = errors.New("route expired")
	ErrEmptyRoute         = errors.New("route has no hops")
	ErrTooManyHops        = errors.New("route exceeds hop limit")
	ErrInsufficientInput  = errors.New("insufficient input balance")
	ErrInsufficientOutput = errors.New("insufficient output balance")
	ErrSlippageExceeded   = errors.New("output below minimum amount out")
	ErrDeadlineExceeded   = errors.New("deadline exceeded")
	ErrExecutionTooEarly  = errors.New("execution before not-before tick")
	ErrPriceImpactTooHigh = errors.New("price impact above bound")
	ErrSpreadTooHigh      = errors.New("execution spread above bound")
)

// Pool errors
var (
	ErrPoolNotSupported            = errors.New("pool not registered")
	ErrPoolCallFailed              = errors.New("pool adapter call failed")
	ErrReserveManipulationDetected = errors.New("reserve manipulation detected")
)

// Amount errors
var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrOverflow      = errors.New("amount overflows i128")
)

// MEV-protection errors
var (
	ErrCommitmentRequired = errors.New("commitment required for large swap")
	ErrCommitmentNotFound = errors.New("commitment not found")
	ErrCommitmentExpired  = errors.New("commitment expired")
	ErrInvalidReveal      = errors.New("reveal does not match commitment")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
)

// Governance errors
var (
	ErrUseGovernance           = errors.New("operation requires a governance proposal")
	ErrNotMultiSig             = errors.New("governance not migrated to multi-sig")
	ErrProposalNotFound        = errors.New("proposal not found")
	ErrProposalExpired         = errors.New("proposal expired")
	ErrProposalAlreadyExecuted = errors.New("proposal already executed")
	ErrAlreadyApproved         = errors.New("signer already approved")
	ErrThresholdNotMet         = errors.New("approval threshold not met")
	ErrSignerLimitReached      = errors.New("signer limit reached")
)

// Upgrade errors
var (
	ErrUpgradeLocked        = errors.New("upgrade time-lock not elapsed")
	ErrUpgradePending       = errors.New("upgrade already pending")
	ErrNoUpgradePending     = errors.New("no upgrade pending")
	ErrSameCodeHash         = errors.New("new code hash equals current")
	ErrMigrationAlreadyDone = errors.New("migration already ran for version")
)

// Allowlist errors
var (
	ErrTokenNotAllowed   = errors.New("token not on allowlist")
	ErrTokenAlreadyAdded = errors.New("token already on allowlist")
	ErrTokenInUse        = errors.New("token referenced by a registered pool")
	ErrBatchTooLarge     = errors.New("token batch exceeds limit")
)
