package portal

import (
	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/holiman/uint256"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// Arguments of the portal entry points.
type (
	BootPortalArgs struct {
		Core host.AccountID
	}

	SubmitVAAArgs struct {
		// VAA is the hex encoded signed VAA.
		VAA string
	}

	SubmitVAACallbackArgs struct {
		VAA      string
		RefundTo host.AccountID
	}

	FinishDeployArgs struct {
		Token    host.AccountID
		RefundTo host.AccountID
		// Refresh is set when the token already existed and only its metadata changed.
		Refresh bool
	}

	RegisterAccountArgs struct {
		Account host.AccountID
	}

	// BankBalanceArgs names the bank to read. An empty Account reads the caller's bank.
	BankBalanceArgs struct {
		Account host.AccountID
	}

	AttestNearArgs struct {
		MessageFee *uint256.Int
	}

	AttestTokenArgs struct {
		Token      host.AccountID
		MessageFee *uint256.Int
	}

	AttestTokenCallbackArgs struct {
		Token      host.AccountID
		RefundTo   host.AccountID
		MessageFee *uint256.Int
	}

	// SendTransferNearArgs locks the attached deposit, less MessageFee, and sends it to Receiver on Chain.
	// A non-empty Payload turns the transfer into a contract call transfer and Fee is ignored.
	SendTransferNearArgs struct {
		Receiver   string
		Chain      vaa.ChainID
		Fee        *uint256.Int
		Payload    string
		MessageFee *uint256.Int
	}

	SendTransferWormholeTokenArgs struct {
		Token      host.AccountID
		Amount     *uint256.Int
		Receiver   string
		Chain      vaa.ChainID
		Fee        *uint256.Int
		Payload    string
		MessageFee *uint256.Int
	}

	SendTransferTokenCallbackArgs struct {
		RefundTo   host.AccountID
		MessageFee *uint256.Int
	}

	FtOnTransferCallbackArgs struct {
		Token  host.AccountID
		Sender host.AccountID
		Amount *uint256.Int
		Msg    string
	}

	EmitterCallbackArgs struct {
		// Unused is handed back to the token, which returns it to the sender.
		Unused *uint256.Int
	}

	UpdateContractArgs struct {
		Code []byte
	}

	UpdateContractDoneArgs struct {
		RefundTo host.AccountID
		Code     []byte
	}

	HashAccountArgs struct {
		Account host.AccountID
	}

	HashLookupArgs struct {
		// Hash is the hex encoded account hash.
		Hash string
	}

	IsWormholeArgs struct {
		Token host.AccountID
	}

	GetOriginalAssetArgs struct {
		Token host.AccountID
	}

	GetForeignAssetArgs struct {
		// Address is the hex encoded origin address, left padded to 32 bytes.
		Address string
		Chain   vaa.ChainID
	}

	IsTransferCompletedArgs struct {
		VAA string
	}
)

// View results.
type (
	BankBalance struct {
		Registered bool
		Balance    *uint256.Int
	}

	AccountHash struct {
		Registered bool
		Hash       string
	}

	AccountLookup struct {
		Found   bool
		Account host.AccountID
	}

	EmitterInfo struct {
		Account host.AccountID
		Hash    string
	}

	DepositEstimates struct {
		StorageByteCost *uint256.Int
		// WrappedAssetCost is the deposit a fresh asset attestation consumes at most.
		WrappedAssetCost *uint256.Int
	}

	OriginalAsset struct {
		Address string
		Chain   vaa.ChainID
	}
)
