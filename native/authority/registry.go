package authority

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"paysettle/core/types"
)

// DefaultSeed is the seed under which the settlement module derives the
// authority that owns its treasury.
var DefaultSeed = []byte("authority")

var derivationDomain = []byte("paysettle/module-authority")

var (
	ErrInvalidOwner     = errors.New("authority: invalid owner")
	ErrNotInitialized   = errors.New("authority: owner not initialized")
	ErrAlreadyInitiated = errors.New("authority: owner already initialized")
	errNilStore         = errors.New("authority: store not configured")
)

// Derive returns the deterministic authority address for module and seed.
// No private key exists for the result; only the module can sign as it.
func Derive(module types.Address, seed []byte) types.Address {
	return types.BytesToAddress(ethcrypto.Keccak256(module[:], seed, derivationDomain))
}

type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Registry tracks the single admin owner of a module and hands out the
// module's derived signing identity.
type Registry struct {
	store  kvStore
	module types.Address
}

// NewRegistry binds a registry for module to the given store. The store is
// normally the ledger transaction of the current call.
func NewRegistry(store kvStore, module types.Address) *Registry {
	return &Registry{store: store, module: module}
}

func (r *Registry) ownerKey() []byte {
	return append([]byte("authority/owner/"), r.module[:]...)
}

// Module returns the module identity the registry is bound to.
func (r *Registry) Module() types.Address { return r.module }

// ModuleSigner returns the authority derived from seed for this module.
func (r *Registry) ModuleSigner(seed []byte) types.Address {
	return Derive(r.module, seed)
}

// Initialize records the first owner.
func (r *Registry) Initialize(owner types.Address) error {
	if r == nil || r.store == nil {
		return errNilStore
	}
	if owner.IsZero() {
		return fmt.Errorf("%w: zero address", ErrInvalidOwner)
	}
	var existing types.Address
	ok, err := r.store.KVGet(r.ownerKey(), &existing)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitiated
	}
	return r.store.KVPut(r.ownerKey(), owner)
}

// Owner returns the current owner.
func (r *Registry) Owner() (types.Address, error) {
	var owner types.Address
	if r == nil || r.store == nil {
		return owner, errNilStore
	}
	ok, err := r.store.KVGet(r.ownerKey(), &owner)
	if err != nil {
		return owner, err
	}
	if !ok {
		return owner, ErrNotInitialized
	}
	return owner, nil
}

// CheckOwner fails with ErrInvalidOwner unless id is the current owner.
func (r *Registry) CheckOwner(id types.Address) error {
	owner, err := r.Owner()
	if err != nil {
		return err
	}
	if owner != id {
		return fmt.Errorf("%w: %s is not the owner", ErrInvalidOwner, id)
	}
	return nil
}

// ChangeOwner replaces the owner when requester is the current owner.
func (r *Registry) ChangeOwner(newOwner, requester types.Address) error {
	if err := r.CheckOwner(requester); err != nil {
		return err
	}
	if newOwner.IsZero() {
		return fmt.Errorf("%w: zero address", ErrInvalidOwner)
	}
	return r.store.KVPut(r.ownerKey(), newOwner)
}
