package portal

import (
	"github.com/certusone/wormhole/portal/pkg/ft"
	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/certusone/wormhole/portal/pkg/tokenbridge"
	"github.com/holiman/uint256"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

type assetKind int

const (
	assetNative assetKind = iota
	// assetCustody is a local fungible token the portal holds on behalf of other chains.
	assetCustody
	assetWrapped
)

func (k assetKind) String() string {
	switch k {
	case assetNative:
		return "native"
	case assetCustody:
		return "custody"
	default:
		return "wrapped"
	}
}

// asset is what an inbound transfer resolved to.
type asset struct {
	kind       assetKind
	account    host.AccountID
	multiplier *uint256.Int
}

// resolveAsset maps the origin of a transfer to the local asset it releases.
func (p *Portal) resolveAsset(u *unit, address vaa.Address, chain vaa.ChainID) (*asset, error) {
	if chain == p.cfg.ChainID && address == (vaa.Address{}) {
		return &asset{kind: assetNative, multiplier: new(uint256.Int).Set(p.cfg.NativeMultiplier)}, nil
	}

	account, found, err := u.txn.GetTokenKey(tokenbridge.TokenKey(address, chain))
	if err != nil {
		return nil, internal(err)
	}
	if !found {
		return nil, newError(UnknownAssetError, "asset %s/%s is not attested", chain, address)
	}
	rec, found, err := u.txn.GetToken(account)
	if err != nil {
		return nil, internal(err)
	}
	if !found {
		return nil, newError(UnknownAssetError, "asset %s has no token record", account)
	}

	kind := assetWrapped
	if chain == p.cfg.ChainID {
		kind = assetCustody
	}
	return &asset{kind: kind, account: account, multiplier: decimalsMultiplier(rec.Decimals)}, nil
}

// release is the step that hands amount of the asset to receiver.
func (p *Portal) release(u *unit, a *asset, receiver host.AccountID, amount *uint256.Int) *host.Promise {
	switch a.kind {
	case assetNative:
		return host.NewPromise(receiver).Transfer(amount)
	case assetCustody:
		return host.NewPromise(a.account).
			FunctionCall(ft.MethodTransfer, ft.TransferArgs{Receiver: receiver, Amount: new(uint256.Int).Set(amount)}, host.OneYocto, u.env.PrepaidGas)
	default:
		return host.NewPromise(a.account).
			FunctionCall(ft.MethodMint, ft.MintArgs{Receiver: receiver, Amount: new(uint256.Int).Set(amount)}, nil, u.env.PrepaidGas)
	}
}

// completeTransfer releases an inbound transfer to its recipient, pays the relayer fee to whoever
// submitted the VAA and refunds the rest of the deposit last.
func (p *Portal) completeTransfer(u *unit, v *vaa.VAA, dep *deposit, logger *zap.Logger) (*host.Outcome, error) {
	t, err := tokenbridge.DecodeTransfer(v.Payload)
	if err != nil {
		return nil, wrapError(FormatError, "invalid transfer payload", err)
	}
	if t.Truncated {
		logger.Warn("transfer amount exceeds 128 bits, only the low bits are used",
			zap.String("amount", t.Amount.Dec()), zap.String("fee", t.Fee.Dec()))
	}
	if t.RecipientChain != p.cfg.ChainID {
		return nil, newError(AuthorizationError, "transfer is addressed to %s", t.RecipientChain)
	}

	recipient, found, err := u.txn.GetAccountHash(t.Recipient)
	if err != nil {
		return nil, internal(err)
	}
	if !found {
		return nil, newError(UnknownAssetError, "recipient %s is not registered", t.Recipient)
	}
	a, err := p.resolveAsset(u, t.TokenAddress, t.TokenChain)
	if err != nil {
		return nil, err
	}
	if t.PayloadID == tokenbridge.PayloadTransferWithPayload {
		return nil, newError(UnimplementedError, "transfers with payload are not supported")
	}

	amount, overflow := new(uint256.Int).MulOverflow(t.Amount, a.multiplier)
	if overflow || amount.BitLen() > 128 {
		return nil, newError(FormatError, "scaled amount %s exceeds 128 bits", t.Amount.Dec())
	}
	fee, overflow := new(uint256.Int).MulOverflow(t.Fee, a.multiplier)
	if overflow || fee.BitLen() > 128 {
		return nil, newError(FormatError, "scaled fee %s exceeds 128 bits", t.Fee.Dec())
	}
	if amount.IsZero() {
		return nil, newError(FormatError, "empty transfer")
	}
	if fee.Gt(amount) {
		return nil, newError(FormatError, "fee %s exceeds amount %s", fee.Dec(), amount.Dec())
	}

	var promise *host.Promise
	if net := new(uint256.Int).Sub(amount, fee); !net.IsZero() {
		promise = p.release(u, a, recipient, net)
	}
	if !fee.IsZero() {
		feeLeg := p.release(u, a, u.payer, fee)
		if promise == nil {
			promise = feeLeg
		} else {
			promise.Then(feeLeg)
		}
	}

	transfersScheduled.WithLabelValues(a.kind.String()).Inc()
	vaasProcessed.WithLabelValues("transfer").Inc()
	logger.Info("transfer completed",
		zap.Stringer("asset", a.kind),
		zap.Stringer("token", a.account),
		zap.Stringer("recipient", recipient),
		zap.String("amount", amount.Dec()),
		zap.String("fee", fee.Dec()),
		zap.Stringer("relayer", u.payer),
	)
	return dep.finish(promise, true), nil
}
