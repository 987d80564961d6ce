package portal

import (
	"github.com/certusone/wormhole/portal/pkg/ft"
	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/holiman/uint256"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
)

const (
	// TransferBuffer is the number of storage bytes a submission must be able to pay for up front, and the
	// per account overhead added to the code size when a wrapped token account is created.
	TransferBuffer = 2000

	// MaxWrappedDecimals is the precision of every amount on the wire.
	MaxWrappedDecimals = 8

	// WrappedNameSuffix marks the name of every wrapped asset.
	WrappedNameSuffix = " (Wormhole)"
)

// GovernanceEmitter is the address governance VAAs are emitted from on the governance chain.
var GovernanceEmitter = vaa.Address{31: 0x04}

type Config struct {
	// ChainID is the chain the portal runs on.
	ChainID vaa.ChainID

	GovernanceChain   vaa.ChainID
	GovernanceEmitter vaa.Address

	// OwnerKey may boot the portal, executes upgrades and receives full access to created token accounts.
	OwnerKey host.PublicKey

	// WrappedTokenCode is deployed to every new wrapped asset account.
	WrappedTokenCode []byte

	// NativeMultiplier converts wire amounts of the native asset (8 decimals) to local units.
	NativeMultiplier *uint256.Int
	NativeDecimals   uint8
	NativeSymbol     string
	NativeName       string

	// SubmitGas is the minimum prepaid gas for submit_vaa, OutboundGas for outbound calls.
	SubmitGas   host.Gas
	OutboundGas host.Gas
}

func DefaultConfig() Config {
	return Config{
		ChainID:           vaa.ChainIDNear,
		GovernanceChain:   vaa.ChainIDSolana,
		GovernanceEmitter: GovernanceEmitter,
		WrappedTokenCode:  ft.Code,
		NativeMultiplier:  uint256.NewInt(10_000_000_000_000_000),
		NativeDecimals:    24,
		NativeSymbol:      "NEAR",
		NativeName:        "NEAR",
		SubmitGas:         300 * host.TGas,
		OutboundGas:       100 * host.TGas,
	}
}

// decimalsMultiplier returns 10^(decimals-8), or 1 when the asset has 8 decimals or fewer.
func decimalsMultiplier(decimals uint8) *uint256.Int {
	m := uint256.NewInt(1)
	if decimals > MaxWrappedDecimals {
		m.Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals-MaxWrappedDecimals)))
	}
	return m
}
