// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"encoding/binary"
	"encoding/json"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/swaprouter/state"
)

// Storage-key prefixes, one per record kind.
const (
	prefixConfig        = "config"
	prefixGuardian      = "guardian"
	prefixGovernance    = "governance"
	prefixMevConfig     = "mev_config"
	prefixPending       = "pending_upgrade"
	prefixVersion       = "version"
	prefixVersionAt     = "version_at"
	prefixMigration     = "migration"
	prefixPoolCount     = "pool_count"
	prefixPool          = "pool"
	prefixNonce         = "nonce"
	prefixProposalSeq   = "proposal_seq"
	prefixProposal      = "proposal"
	prefixTokenCount    = "token_count"
	prefixToken         = "token"
	prefixTokenCatLen   = "token_cat_len"
	prefixTokenCatEntry = "token_cat_entry"
	prefixCommitment    = "commitment"
	prefixRateWindow    = "rate_window"
	prefixRateExempt    = "rate_exempt"
	prefixBalance       = "balance"
)

// Persistent-record lifetimes in ticks (~17280 ticks/day).
const (
	dayTicks         = 17_280
	persistentTTL    = 30 * dayTicks
	longLivedTTL     = 365 * dayTicks
	resourcePerHop   = 5_000_000 // engine work per hop
	resourceCallOver = 2_000_000 // per-hop adapter dispatch overhead
	resourceCeiling  = 100_000_000
)

// Router is the swap-routing engine. All state lives in the ledger; the
// struct itself only carries wiring. Entry points execute one at a time:
// a contract host runs calls without interleaving, and the mutex restores
// that guarantee outside such a host.
type Router struct {
	mu     sync.Mutex
	ledger *state.Ledger
	pools  *AdapterRegistry
	events *EventLog
	log    log.Logger
}

// New wires a Router over ledger with the given adapter registry.
func New(ledger *state.Ledger, pools *AdapterRegistry, logger log.Logger) *Router {
	return &Router{
		ledger: ledger,
		pools:  pools,
		events: NewEventLog(),
		log:    logger,
	}
}

// Events exposes the published event log.
func (r *Router) Events() *EventLog {
	return r.events
}

// =========================================================================
// Call context
// =========================================================================

// call is the per-entry-point unit of work: a ledger transaction plus a
// buffer of events published only if the transaction commits.
type call struct {
	txn    *state.Txn
	events []Event
}

func (r *Router) begin() *call {
	return &call{txn: r.ledger.Begin()}
}

func (c *call) emit(ev Event) {
	c.events = append(c.events, ev)
}

func (r *Router) commit(c *call) error {
	if err := c.txn.Commit(); err != nil {
		return err
	}
	r.events.append(c.events...)
	return nil
}

// =========================================================================
// Record codecs
// =========================================================================

func putJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err) // all record types are marshalable by construction
	}
	return raw
}

func getJSON(txn *state.Txn, key common.Hash, out any) bool {
	raw, ok := txn.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func u64Key(prefix string, v uint64) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return state.Key(prefix, buf[:])
}

func configOf(txn *state.Txn) (instanceConfig, bool) {
	var cfg instanceConfig
	ok := getJSON(txn, state.Key(prefixConfig, nil), &cfg)
	return cfg, ok
}

func saveConfig(txn *state.Txn, cfg instanceConfig) {
	txn.PutInstance(state.Key(prefixConfig, nil), putJSON(cfg))
}

func poolKey(pool common.Address) common.Hash {
	return state.Key(prefixPool, pool.Bytes())
}

func poolCount(txn *state.Txn) uint32 {
	var n uint32
	getJSON(txn, state.Key(prefixPoolCount, nil), &n)
	return n
}

func setPoolCount(txn *state.Txn, n uint32) {
	txn.PutInstance(state.Key(prefixPoolCount, nil), putJSON(n))
}

func nonceOf(txn *state.Txn, sender common.Address) uint64 {
	var n uint64
	getJSON(txn, state.Key(prefixNonce, sender.Bytes()), &n)
	return n
}

func bumpNonce(txn *state.Txn, sender common.Address) {
	key := state.Key(prefixNonce, sender.Bytes())
	txn.PutPersistent(key, putJSON(nonceOf(txn, sender)+1), longLivedTTL)
}

// requireAdmin authenticates a direct privileged call. Once governance has
// migrated to multi-sig these entry points are closed for good and return
// ErrUseGovernance.
func requireAdmin(txn *state.Txn, caller common.Address) (instanceConfig, error) {
	cfg, ok := configOf(txn)
	if !ok {
		return instanceConfig{}, ErrNotInitialized
	}
	if cfg.MultiSig {
		return cfg, ErrUseGovernance
	}
	if cfg.Admin != caller {
		return cfg, ErrUnauthorized
	}
	return cfg, nil
}

// =========================================================================
// Lifecycle
// =========================================================================

// Initialize sets the admin, fee configuration and initial code version.
// Callable exactly once.
func (r *Router) Initialize(admin common.Address, feeRateBps uint32, feeRecipient common.Address, codeHash common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	if _, ok := configOf(c.txn); ok {
		return ErrAlreadyInitialized
	}
	if feeRateBps > MaxFeeRateBps {
		return ErrInvalidAmount
	}

	saveConfig(c.txn, instanceConfig{
		Admin:        admin,
		FeeRateBps:   feeRateBps,
		FeeRecipient: feeRecipient,
	})
	setInitialVersion(c.txn, codeHash)

	c.emit(InitializedEvent{Admin: admin, FeeRateBps: feeRateBps})
	r.log.Info("router initialized", "admin", admin, "feeRateBps", feeRateBps)
	return r.commit(c)
}

// SetAdmin replaces the single admin. Closed after multi-sig migration.
func (r *Router) SetAdmin(caller, newAdmin common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	cfg, err := requireAdmin(c.txn, caller)
	if err != nil {
		return err
	}
	old := cfg.Admin
	cfg.Admin = newAdmin
	saveConfig(c.txn, cfg)

	c.emit(AdminChangedEvent{OldAdmin: old, NewAdmin: newAdmin})
	return r.commit(c)
}

// RegisterPool marks a pool address routable. Registering a pool twice
// fails; deregistration is governance-only.
func (r *Router) RegisterPool(caller common.Address, pool common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	if _, err := requireAdmin(c.txn, caller); err != nil {
		return err
	}
	if c.txn.Has(poolKey(pool)) {
		return ErrPoolNotSupported
	}
	registerPoolRecord(c, pool)
	return r.commit(c)
}

// registerPoolRecord writes the pool flag and count; shared with the
// governance dispatch path.
func registerPoolRecord(c *call, pool common.Address) {
	c.txn.PutPersistent(poolKey(pool), putJSON(true), persistentTTL)
	setPoolCount(c.txn, poolCount(c.txn)+1)
	c.emit(PoolRegisteredEvent{Pool: pool})
}

func deregisterPoolRecord(c *call, pool common.Address) {
	c.txn.Delete(poolKey(pool))
	if n := poolCount(c.txn); n > 0 {
		setPoolCount(c.txn, n-1)
	}
}

// Pause halts swap execution. Registration, queries and governance stay up.
func (r *Router) Pause(caller common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setPaused(caller, true)
}

// Unpause restores swap execution.
func (r *Router) Unpause(caller common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setPaused(caller, false)
}

func (r *Router) setPaused(caller common.Address, paused bool) error {
	c := r.begin()
	defer c.txn.Discard()

	cfg, err := requireAdmin(c.txn, caller)
	if err != nil {
		return err
	}
	cfg.Paused = paused
	saveConfig(c.txn, cfg)
	if paused {
		c.emit(PausedEvent{})
	} else {
		c.emit(UnpausedEvent{})
	}
	return r.commit(c)
}

// =========================================================================
// Read-only queries
// =========================================================================

// IsPaused reports the pause flag; false before initialization.
func (r *Router) IsPaused() bool {
	txn := r.ledger.Begin()
	defer txn.Discard()
	cfg, _ := configOf(txn)
	return cfg.Paused
}

// Admin returns the current single admin.
func (r *Router) Admin() (common.Address, error) {
	txn := r.ledger.Begin()
	defer txn.Discard()
	cfg, ok := configOf(txn)
	if !ok {
		return common.Address{}, ErrNotInitialized
	}
	return cfg.Admin, nil
}

// FeeRate returns the protocol fee in basis points; zero before init.
func (r *Router) FeeRate() uint32 {
	txn := r.ledger.Begin()
	defer txn.Discard()
	cfg, _ := configOf(txn)
	return cfg.FeeRateBps
}

// FeeRecipient returns the protocol fee destination.
func (r *Router) FeeRecipient() (common.Address, error) {
	txn := r.ledger.Begin()
	defer txn.Discard()
	cfg, ok := configOf(txn)
	if !ok {
		return common.Address{}, ErrNotInitialized
	}
	return cfg.FeeRecipient, nil
}

// PoolCount returns the number of registered pools.
func (r *Router) PoolCount() uint32 {
	txn := r.ledger.Begin()
	defer txn.Discard()
	return poolCount(txn)
}

// IsPoolRegistered reports whether pool is routable.
func (r *Router) IsPoolRegistered(pool common.Address) bool {
	txn := r.ledger.Begin()
	defer txn.Discard()
	return txn.Has(poolKey(pool))
}

// Nonce returns sender's swap counter.
func (r *Router) Nonce(sender common.Address) uint64 {
	txn := r.ledger.Begin()
	defer txn.Discard()
	return nonceOf(txn, sender)
}

// =========================================================================
// Quoting
// =========================================================================

func validateRouteShape(route Route, amountIn *big.Int) error {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return ErrInvalidRoute
	}
	if err := checkI128(amountIn); err != nil {
		return err
	}
	if len(route.Hops) == 0 || len(route.Hops) > MaxHops {
		return ErrInvalidRoute
	}
	return nil
}

func checkPoolsRegistered(txn *state.Txn, route Route) error {
	for _, hop := range route.Hops {
		if !txn.Has(poolKey(hop.Pool)) {
			return ErrPoolNotSupported
		}
	}
	return nil
}

// protocolFee returns floor(amount * feeRateBps / 10000).
func protocolFee(amount *big.Int, feeRateBps uint32) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(int64(feeRateBps)))
	return fee.Div(fee, big.NewInt(BasisPoints))
}

// GetQuote walks the route with adapter quotes and returns the expected
// output net of the protocol fee. Read-only; no state is touched.
func (r *Router) GetQuote(amountIn *big.Int, route Route) (QuoteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn := r.ledger.Begin()
	defer txn.Discard()

	if err := validateRouteShape(route, amountIn); err != nil {
		return QuoteResult{}, err
	}
	if err := validateRouteAllowlisted(txn, route); err != nil {
		return QuoteResult{}, err
	}
	if err := checkPoolsRegistered(txn, route); err != nil {
		return QuoteResult{}, err
	}

	current := new(big.Int).Set(amountIn)
	impactBps := uint32(0)
	for _, hop := range route.Hops {
		adapter, ok := r.pools.Lookup(hop.Pool)
		if !ok {
			return QuoteResult{}, ErrPoolCallFailed
		}
		out, err := callQuote(adapter, hop.Source, hop.Destination, current)
		if err != nil {
			return QuoteResult{}, err
		}
		if err := checkI128(out); err != nil {
			return QuoteResult{}, err
		}
		current = out
		impactBps += ImpactPerHopBps
	}

	cfg, _ := configOf(txn)
	fee := protocolFee(current, cfg.FeeRateBps)
	return QuoteResult{
		ExpectedOutput: new(big.Int).Sub(current, fee),
		PriceImpactBps: impactBps,
		FeeAmount:      fee,
		Route:          route,
		ValidUntil:     txn.Now() + QuoteValidityTicks,
	}, nil
}

// EstimateResources predicts the cost of executing a swap over route.
func (r *Router) EstimateResources(amountIn *big.Int, route Route) (ResourceEstimate, error) {
	if err := validateRouteShape(route, amountIn); err != nil {
		return ResourceEstimate{}, err
	}
	hops := uint64(len(route.Hops))
	cpu := (resourcePerHop + resourceCallOver) * hops
	return ResourceEstimate{
		EstimatedCPU: cpu,
		// one config read, one pool check per hop, one nonce read
		StorageReads:  uint32(1 + hops + 1),
		StorageWrites: 1,
		Events:        1,
		WillSucceed:   cpu < resourceCeiling,
	}, nil
}
