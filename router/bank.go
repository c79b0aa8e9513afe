// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/swaprouter/state"
)

// The asset bank tracks per-(asset, holder) balances inside the ledger.
// Swap execution debits and credits through it so a failed call rolls the
// whole movement back with the transaction.

func balanceKey(asset Asset, holder common.Address) common.Hash {
	id := asset.id()
	buf := make([]byte, 0, len(id)+common.AddressLength)
	buf = append(buf, id...)
	buf = append(buf, holder.Bytes()...)
	return state.Key(prefixBalance, buf)
}

func balanceOf(txn *state.Txn, asset Asset, holder common.Address) *uint256.Int {
	raw, ok := txn.Get(balanceKey(asset, holder))
	if !ok {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).SetBytes(raw)
}

func setBalance(txn *state.Txn, asset Asset, holder common.Address, v *uint256.Int) {
	key := balanceKey(asset, holder)
	if v.IsZero() {
		txn.Delete(key)
		return
	}
	txn.PutPersistent(key, v.Bytes(), longLivedTTL)
}

func credit(txn *state.Txn, asset Asset, holder common.Address, amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	bal := balanceOf(txn, asset, holder)
	delta, _ := uint256.FromBig(amount)
	setBalance(txn, asset, holder, new(uint256.Int).Add(bal, delta))
}

func debit(txn *state.Txn, asset Asset, holder common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bal := balanceOf(txn, asset, holder)
	delta, _ := uint256.FromBig(amount)
	if bal.Lt(delta) {
		return ErrInsufficientInput
	}
	setBalance(txn, asset, holder, new(uint256.Int).Sub(bal, delta))
	return nil
}

// Mint credits holder with amount of asset. This is the host deposit
// bridge: the surrounding environment moves real funds and records the
// claim here.
func (r *Router) Mint(asset Asset, holder common.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := checkI128(amount); err != nil {
		return err
	}
	c := r.begin()
	defer c.txn.Discard()
	credit(c.txn, asset, holder, amount)
	return r.commit(c)
}

// BalanceOf returns holder's recorded balance of asset.
func (r *Router) BalanceOf(asset Asset, holder common.Address) *big.Int {
	txn := r.ledger.Begin()
	defer txn.Discard()
	return balanceOf(txn, asset, holder).ToBig()
}
