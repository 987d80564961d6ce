// Package host models the single-threaded, message-driven chain runtime the portal executes in.
//
// A unit of execution is one function call against one contract. Anything that crosses into another
// account's state is returned as a Promise and only runs after the current unit has returned.
package host

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/mr-tron/base58"
)

type AccountID string

func (a AccountID) String() string {
	return string(a)
}

// IsSubAccountOf reports whether a is a direct sub account of parent, e.g. "1.portal" of "portal".
func (a AccountID) IsSubAccountOf(parent AccountID) bool {
	prefix, found := strings.CutSuffix(string(a), "."+string(parent))
	return found && prefix != "" && !strings.Contains(prefix, ".")
}

type Gas uint64

const TGas Gas = 1_000_000_000_000

// OneYocto is the smallest unit of the native balance.
var OneYocto = uint256.NewInt(1)

var ErrInvalidPublicKey = errors.New("invalid public key")

const ed25519Prefix = "ed25519:"

// PublicKey is an ed25519 access key.
type PublicKey [ed25519.PublicKeySize]byte

func PublicKeyFromEd25519(pub ed25519.PublicKey) PublicKey {
	var pk PublicKey
	copy(pk[:], pub)
	return pk
}

// ParsePublicKey reads the "ed25519:<base58>" text form.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	encoded, ok := strings.CutPrefix(s, ed25519Prefix)
	if !ok {
		return pk, fmt.Errorf("%w: unsupported key type in %q", ErrInvalidPublicKey, s)
	}
	raw, err := base58.Decode(encoded)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPublicKey, len(pk), len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

func (pk PublicKey) String() string {
	return ed25519Prefix + base58.Encode(pk[:])
}

func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// ParseBalance reads a decimal amount of the native unit.
func ParseBalance(s string) (*uint256.Int, error) {
	b, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", s, err)
	}
	if b.BitLen() > 128 {
		return nil, fmt.Errorf("invalid balance %q: exceeds 128 bits", s)
	}
	return b, nil
}

func MustParseBalance(s string) *uint256.Int {
	b, err := ParseBalance(s)
	if err != nil {
		panic(err)
	}
	return b
}

// balanceOrZero never returns nil.
func balanceOrZero(b *uint256.Int) *uint256.Int {
	if b == nil {
		return new(uint256.Int)
	}
	return b
}
