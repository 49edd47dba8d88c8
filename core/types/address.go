package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

// AddressLength is the size in bytes of every account, owner, asset and pool
// identifier handled by the ledger.
const AddressLength = 32

// Address is a fixed 32-byte identifier rendered as base58 text.
type Address [AddressLength]byte

// ParseAddress decodes a base58 string into an Address.
func ParseAddress(s string) (Address, error) {
	var addr Address
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return addr, fmt.Errorf("address: empty string")
	}
	raw := base58.Decode(trimmed)
	if len(raw) != AddressLength {
		return addr, fmt.Errorf("address: %q decodes to %d bytes, want %d", trimmed, len(raw), AddressLength)
	}
	copy(addr[:], raw)
	return addr, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// BytesToAddress copies b into an Address, left-padding short input with zeroes.
func BytesToAddress(b []byte) Address {
	var addr Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(addr[AddressLength-len(b):], b)
	return addr
}

func (a Address) String() string { return base58.Encode(a[:]) }

func (a Address) Bytes() []byte { return append([]byte(nil), a[:]...) }

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON keeps the zero address readable as an empty string.
func (a Address) MarshalJSON() ([]byte, error) {
	if a.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	return a.UnmarshalText([]byte(s))
}
