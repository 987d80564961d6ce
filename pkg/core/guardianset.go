package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// MaxGuardianCount is the largest guardian set a VAA can carry signatures for.
const MaxGuardianCount = 19

var (
	ErrUnknownGuardianSet = errors.New("unknown guardian set")
	ErrInvalidGuardianSet = errors.New("invalid guardian set")
)

type GuardianSet struct {
	// Guardian's public key hashes truncated by the ETH standard hashing mechanism (20 bytes).
	Keys []common.Address
	// On-chain set index
	Index uint32
}

func (g *GuardianSet) KeysAsHexStrings() []string {
	r := make([]string, len(g.Keys))
	for n, k := range g.Keys {
		r[n] = k.Hex()
	}
	return r
}

// ParseGuardianSet reads a comma separated list of hex guardian addresses.
func ParseGuardianSet(index uint32, keys string) (*GuardianSet, error) {
	gs := &GuardianSet{Index: index}
	for _, k := range strings.Split(keys, ",") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if !common.IsHexAddress(k) {
			return nil, fmt.Errorf("%w: %q is not an address", ErrInvalidGuardianSet, k)
		}
		gs.Keys = append(gs.Keys, common.HexToAddress(k))
	}
	if len(gs.Keys) == 0 || len(gs.Keys) > MaxGuardianCount {
		return nil, fmt.Errorf("%w: %d keys", ErrInvalidGuardianSet, len(gs.Keys))
	}
	return gs, nil
}

// Verifier checks VAA signatures against the guardian sets it knows about.
type Verifier struct {
	mu           sync.RWMutex
	current      uint32
	guardianSets map[uint32]*GuardianSet
}

func NewVerifier(sets ...*GuardianSet) *Verifier {
	v := &Verifier{guardianSets: make(map[uint32]*GuardianSet)}
	for _, gs := range sets {
		v.AddGuardianSet(gs)
	}
	return v
}

// AddGuardianSet registers a set. The set with the highest index is the current one.
func (v *Verifier) AddGuardianSet(gs *GuardianSet) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.guardianSets[gs.Index] = gs
	if gs.Index > v.current {
		v.current = gs.Index
	}
}

func (v *Verifier) CurrentIndex() uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Verify parses a signed VAA and checks it against the guardian set it names. Sets older than the current
// one are still accepted. The returned index is the current guardian set index.
func (v *Verifier) Verify(raw []byte) (*vaa.VAA, uint32, error) {
	parsed, err := vaa.Unmarshal(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse vaa: %w", err)
	}

	v.mu.RLock()
	gs, ok := v.guardianSets[parsed.GuardianSetIndex]
	current := v.current
	v.mu.RUnlock()

	if !ok {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownGuardianSet, parsed.GuardianSetIndex)
	}
	if err := parsed.Verify(gs.Keys); err != nil {
		return nil, 0, fmt.Errorf("guardian set %d: %w", gs.Index, err)
	}
	return parsed, current, nil
}
