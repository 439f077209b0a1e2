// Package domain holds the shared data model: addresses, exact-integer money
// types, the User/Reserve/PriceEntry entities, and the trigger/plan/attempt
// value types that flow between the engine's components.
package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a canonicalized (lowercase hex) 20-byte identifier. All maps in
// this package key on Address, never on common.Address directly, so that
// callers cannot accidentally split an entry across checksum variants.
type Address string

// NewAddress canonicalizes a go-ethereum address to our lowercase-hex key
// type. common.Address.Hex() returns an EIP-55 checksummed (mixed-case)
// string; we fold it to lowercase so two differently-cased references to
// the same address always key the same map slot.
func NewAddress(a common.Address) Address {
	return Address(strings.ToLower(a.Hex()))
}

// ParseAddress canonicalizes a hex string (checksummed or not, with or
// without 0x) into an Address.
func ParseAddress(s string) Address {
	return NewAddress(common.HexToAddress(s))
}

// Common returns the go-ethereum representation for ABI calls.
func (a Address) Common() common.Address {
	return common.HexToAddress(string(a))
}

func (a Address) String() string {
	return string(a)
}
