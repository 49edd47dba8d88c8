package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"paysettle/core/types"
	"paysettle/storage"
)

var (
	ErrAccountNotFound   = errors.New("ledger: token account not found")
	ErrAccountExists     = errors.New("ledger: token account already exists")
	ErrUnauthorized      = errors.New("ledger: authority does not own source account")
	ErrAssetMismatch     = errors.New("ledger: source and destination hold different assets")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrBalanceOverflow   = errors.New("ledger: balance overflow")
	ErrTxnClosed         = errors.New("ledger: transaction already closed")
)

var (
	accountPrefix = []byte("ledger/token-account/")
	kvPrefix      = []byte("ledger/kv/")
)

// TokenAccount is a balance of one asset held by one owner.
type TokenAccount struct {
	Address types.Address
	Owner   types.Address
	Asset   types.Address
	Amount  uint64
}

// Copy returns a detached copy of the account.
func (a *TokenAccount) Copy() *TokenAccount {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

type storedAccount struct {
	Owner  [32]byte
	Asset  [32]byte
	Amount uint64
}

func accountKey(addr types.Address) []byte {
	return ethcrypto.Keccak256(accountPrefix, addr[:])
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(kvPrefix, key)
}

func encodeAccount(acct *TokenAccount) ([]byte, error) {
	return rlp.EncodeToBytes(storedAccount{Owner: acct.Owner, Asset: acct.Asset, Amount: acct.Amount})
}

func decodeAccount(addr types.Address, data []byte) (*TokenAccount, error) {
	var stored storedAccount
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("ledger: decode account %s: %w", addr, err)
	}
	return &TokenAccount{Address: addr, Owner: stored.Owner, Asset: stored.Asset, Amount: stored.Amount}, nil
}

// Ledger persists token accounts and module key/value records. Reads on the
// Ledger see committed state only; all mutation goes through a Txn.
type Ledger struct {
	db storage.Database
}

// NewLedger wraps the provided database.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

// TokenAccount loads the committed account stored at addr.
func (l *Ledger) TokenAccount(addr types.Address) (*TokenAccount, error) {
	data, err := l.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if err != nil {
		return nil, err
	}
	return decodeAccount(addr, data)
}

// Balance returns the committed amount held at addr.
func (l *Ledger) Balance(addr types.Address) (uint64, error) {
	acct, err := l.TokenAccount(addr)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

// KVGet decodes the committed value stored under key into out. The boolean
// reports whether the key existed.
func (l *Ledger) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := l.db.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// Begin opens a write transaction layered over the committed state.
func (l *Ledger) Begin() *Txn {
	return &Txn{
		ledger:   l,
		accounts: make(map[types.Address]*TokenAccount),
		dirty:    make(map[types.Address]struct{}),
		kv:       make(map[string][]byte),
	}
}
