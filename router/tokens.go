// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"encoding/binary"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/swaprouter/state"
)

// MaxTokenBatch bounds AddTokensBatch.
const MaxTokenBatch = 10

// The token allowlist keeps scam tokens and fee-on-transfer assets out of
// routes. An empty allowlist disables validation entirely (bootstrap mode);
// once the first token is added, every hop asset must be listed.
//
// A per-category sequential index supports retrieval without a full scan.
// The index is append-only: removed tokens stay in it but lose their
// allowlist entry, so index reads filter on liveness.

func tokenKey(asset Asset) common.Hash {
	return state.Key(prefixToken, asset.id())
}

func tokenCount(txn *state.Txn) uint32 {
	var n uint32
	getJSON(txn, state.Key(prefixTokenCount, nil), &n)
	return n
}

func setTokenCount(txn *state.Txn, n uint32) {
	txn.PutInstance(state.Key(prefixTokenCount, nil), putJSON(n))
}

func isTokenAllowed(txn *state.Txn, asset Asset) bool {
	return txn.Has(tokenKey(asset))
}

func catLenKey(category TokenCategory) common.Hash {
	return state.Key(prefixTokenCatLen, []byte{byte(category)})
}

func catEntryKey(category TokenCategory, i uint32) common.Hash {
	var buf [5]byte
	buf[0] = byte(category)
	binary.BigEndian.PutUint32(buf[1:], i)
	return state.Key(prefixTokenCatEntry, buf[:])
}

// catLen is the number of entries ever added under category, not the
// current live count.
func catLen(txn *state.Txn, category TokenCategory) uint32 {
	var n uint32
	getJSON(txn, catLenKey(category), &n)
	return n
}

func pushCatEntry(txn *state.Txn, category TokenCategory, asset Asset) {
	i := catLen(txn, category)
	txn.PutPersistent(catEntryKey(category, i), putJSON(asset), longLivedTTL)
	txn.PutPersistent(catLenKey(category), putJSON(i+1), longLivedTTL)
}

func addTokenRecord(c *call, info TokenInfo, by common.Address) error {
	if isTokenAllowed(c.txn, info.Asset) {
		return ErrTokenAlreadyAdded
	}
	info.AddedAt = c.txn.Now()
	info.AddedBy = by
	c.txn.PutPersistent(tokenKey(info.Asset), putJSON(info), longLivedTTL)
	pushCatEntry(c.txn, info.Category, info.Asset)
	setTokenCount(c.txn, tokenCount(c.txn)+1)
	c.emit(TokenAddedEvent{Asset: info.Asset, By: by})
	return nil
}

func removeTokenRecord(c *call, asset Asset, by common.Address) error {
	if !isTokenAllowed(c.txn, asset) {
		return ErrTokenNotAllowed
	}
	// A contract asset whose address is a registered pool is still load
	// bearing; deregister the pool first. Other asset kinds have no pool
	// keyed by them.
	if asset.Kind == AssetContract && c.txn.Has(poolKey(asset.Contract)) {
		return ErrTokenInUse
	}
	c.txn.Delete(tokenKey(asset))
	if n := tokenCount(c.txn); n > 0 {
		setTokenCount(c.txn, n-1)
	}
	c.emit(TokenRemovedEvent{Asset: asset, By: by})
	return nil
}

func updateTokenRecord(c *call, info TokenInfo, by common.Address) error {
	if !isTokenAllowed(c.txn, info.Asset) {
		return ErrTokenNotAllowed
	}
	c.txn.PutPersistent(tokenKey(info.Asset), putJSON(info), longLivedTTL)
	c.emit(TokenUpdatedEvent{Asset: info.Asset, By: by})
	return nil
}

// AddToken puts a token on the allowlist (single-admin mode; governance
// uses ActionAddToken).
func (r *Router) AddToken(caller common.Address, info TokenInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	if _, err := requireAdmin(c.txn, caller); err != nil {
		return err
	}
	if err := addTokenRecord(c, info, caller); err != nil {
		return err
	}
	return r.commit(c)
}

// AddTokensBatch adds up to MaxTokenBatch tokens atomically; one duplicate
// fails the whole batch.
func (r *Router) AddTokensBatch(caller common.Address, tokens []TokenInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	if _, err := requireAdmin(c.txn, caller); err != nil {
		return err
	}
	if len(tokens) > MaxTokenBatch {
		return ErrBatchTooLarge
	}
	for _, info := range tokens {
		if err := addTokenRecord(c, info, caller); err != nil {
			return err
		}
	}
	return r.commit(c)
}

// RemoveToken drops a token from the allowlist.
func (r *Router) RemoveToken(caller common.Address, asset Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	if _, err := requireAdmin(c.txn, caller); err != nil {
		return err
	}
	if err := removeTokenRecord(c, asset, caller); err != nil {
		return err
	}
	return r.commit(c)
}

// UpdateToken replaces a listed token's metadata in place.
func (r *Router) UpdateToken(caller common.Address, info TokenInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.begin()
	defer c.txn.Discard()

	if _, err := requireAdmin(c.txn, caller); err != nil {
		return err
	}
	if err := updateTokenRecord(c, info, caller); err != nil {
		return err
	}
	return r.commit(c)
}

// IsTokenAllowed reports allowlist membership.
func (r *Router) IsTokenAllowed(asset Asset) bool {
	txn := r.ledger.Begin()
	defer txn.Discard()
	return isTokenAllowed(txn, asset)
}

// TokenInfoOf returns a listed token's metadata.
func (r *Router) TokenInfoOf(asset Asset) (TokenInfo, error) {
	txn := r.ledger.Begin()
	defer txn.Discard()
	var info TokenInfo
	if !getJSON(txn, tokenKey(asset), &info) {
		return TokenInfo{}, ErrTokenNotAllowed
	}
	return info, nil
}

// TokenCount returns the number of currently listed tokens.
func (r *Router) TokenCount() uint32 {
	txn := r.ledger.Begin()
	defer txn.Discard()
	return tokenCount(txn)
}

// TokensByCategory returns the live allowlisted assets under category.
func (r *Router) TokensByCategory(category TokenCategory) []Asset {
	txn := r.ledger.Begin()
	defer txn.Discard()

	n := catLen(txn, category)
	var out []Asset
	for i := uint32(0); i < n; i++ {
		var asset Asset
		if !getJSON(txn, catEntryKey(category, i), &asset) {
			continue
		}
		if isTokenAllowed(txn, asset) {
			out = append(out, asset)
		}
	}
	return out
}

// validateRouteAllowlisted checks every hop asset against the allowlist.
// Skipped while the list is empty.
func validateRouteAllowlisted(txn *state.Txn, route Route) error {
	if tokenCount(txn) == 0 {
		return nil
	}
	for _, hop := range route.Hops {
		if !isTokenAllowed(txn, hop.Source) {
			return ErrTokenNotAllowed
		}
		if !isTokenAllowed(txn, hop.Destination) {
			return ErrTokenNotAllowed
		}
	}
	return nil
}
