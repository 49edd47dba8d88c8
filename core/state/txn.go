package state

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/rlp"

	"paysettle/core/types"
	"paysettle/storage"
)

// Txn buffers account and key/value writes on top of the committed ledger.
// Nothing reaches the database until Commit, which writes every touched
// record in a single batch. Discard drops the overlay. A Txn is not safe for
// concurrent use.
type Txn struct {
	ledger   *Ledger
	accounts map[types.Address]*TokenAccount
	dirty    map[types.Address]struct{}
	kv       map[string][]byte
	closed   bool
}

func (t *Txn) load(addr types.Address) (*TokenAccount, error) {
	if t.closed {
		return nil, ErrTxnClosed
	}
	if acct, ok := t.accounts[addr]; ok {
		return acct, nil
	}
	acct, err := t.ledger.TokenAccount(addr)
	if err != nil {
		return nil, err
	}
	t.accounts[addr] = acct
	return acct, nil
}

// TokenAccount returns a copy of the account as seen by this transaction.
func (t *Txn) TokenAccount(addr types.Address) (*TokenAccount, error) {
	acct, err := t.load(addr)
	if err != nil {
		return nil, err
	}
	return acct.Copy(), nil
}

// Balance returns the amount held at addr within this transaction.
func (t *Txn) Balance(addr types.Address) (uint64, error) {
	acct, err := t.load(addr)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

// OpenAccount creates an empty token account. Only genesis and tooling open
// accounts; settlement never does.
func (t *Txn) OpenAccount(addr, owner, asset types.Address) (*TokenAccount, error) {
	if t.closed {
		return nil, ErrTxnClosed
	}
	if addr.IsZero() || owner.IsZero() || asset.IsZero() {
		return nil, fmt.Errorf("ledger: account, owner and asset must be set")
	}
	if _, err := t.load(addr); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, addr)
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}
	acct := &TokenAccount{Address: addr, Owner: owner, Asset: asset}
	t.accounts[addr] = acct
	t.dirty[addr] = struct{}{}
	return acct.Copy(), nil
}

// Mint credits amount to addr without a source. Used to seed balances.
func (t *Txn) Mint(addr types.Address, amount uint64) error {
	acct, err := t.load(addr)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(acct.Amount, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, addr)
	}
	acct.Amount = sum
	t.dirty[addr] = struct{}{}
	return nil
}

// Transfer moves amount from one account to another. authority must own the
// source account and both accounts must hold the same asset.
func (t *Txn) Transfer(from, to, authority types.Address, amount uint64) error {
	src, err := t.load(from)
	if err != nil {
		return err
	}
	dst, err := t.load(to)
	if err != nil {
		return err
	}
	if src.Owner != authority {
		return fmt.Errorf("%w: %s signed for %s", ErrUnauthorized, authority, from)
	}
	if src.Asset != dst.Asset {
		return fmt.Errorf("%w: %s -> %s", ErrAssetMismatch, src.Asset, dst.Asset)
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientFunds, from, src.Amount, amount)
	}
	if from == to {
		return nil
	}
	sum, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, to)
	}
	src.Amount -= amount
	dst.Amount = sum
	t.dirty[from] = struct{}{}
	t.dirty[to] = struct{}{}
	return nil
}

// KVPut stages an RLP encoded value under key.
func (t *Txn) KVPut(key []byte, value interface{}) error {
	if t.closed {
		return ErrTxnClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	t.kv[string(kvKey(key))] = encoded
	return nil
}

// KVGet reads key from the overlay first and falls back to committed state.
func (t *Txn) KVGet(key []byte, out interface{}) (bool, error) {
	if t.closed {
		return false, ErrTxnClosed
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok := t.kv[string(kvKey(key))]
	if !ok {
		return t.ledger.KVGet(key, out)
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// Dirty reports how many records the transaction would write.
func (t *Txn) Dirty() int {
	return len(t.dirty) + len(t.kv)
}

// Commit writes every staged record atomically and closes the transaction.
func (t *Txn) Commit() error {
	if t.closed {
		return ErrTxnClosed
	}
	t.closed = true
	if t.Dirty() == 0 {
		return nil
	}
	batch := t.ledger.db.NewBatch()
	if err := t.stage(batch); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

func (t *Txn) stage(batch storage.Batch) error {
	for addr := range t.dirty {
		encoded, err := encodeAccount(t.accounts[addr])
		if err != nil {
			return err
		}
		batch.Put(accountKey(addr), encoded)
	}
	for key, value := range t.kv {
		batch.Put([]byte(key), value)
	}
	return nil
}

// Discard drops all staged writes.
func (t *Txn) Discard() {
	t.closed = true
	t.accounts = nil
	t.dirty = nil
	t.kv = nil
}
