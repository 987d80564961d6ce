package portal

import (
	"encoding/hex"

	"github.com/certusone/wormhole/portal/pkg/core"
	"github.com/certusone/wormhole/portal/pkg/db"
	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/certusone/wormhole/portal/pkg/tokenbridge"
	"github.com/holiman/uint256"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

func (p *Portal) bootPortal(u *unit, args BootPortalArgs) (*host.Outcome, error) {
	if p.cfg.OwnerKey.IsZero() || u.env.SignerPK != p.cfg.OwnerKey {
		return nil, newError(AuthorizationError, "signer key is not the owner key")
	}
	if args.Core == "" {
		return nil, newError(FormatError, "missing core bridge account")
	}
	state, _, err := u.txn.GetBootState()
	if err != nil {
		return nil, internal(err)
	}
	if state.Booted {
		return nil, newError(AuthorizationError, "portal already booted")
	}
	if err := u.txn.PutBootState(&db.BootState{Booted: true, Core: args.Core, OwnerKey: p.cfg.OwnerKey}); err != nil {
		return nil, internal(err)
	}
	u.env.Logger.Info("portal booted",
		zap.Stringer("core", args.Core),
		zap.Stringer("emitter", tokenbridge.AccountHash(string(u.env.Current))),
	)
	return host.Refund(u.payer, u.env.Attached()), nil
}

// minSubmitDeposit is what a submission must attach to pay for the storage it may cause.
func minSubmitDeposit(env *host.Env) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(TransferBuffer), env.ByteCost())
}

func (p *Portal) submitVAA(u *unit, args SubmitVAAArgs) (*host.Outcome, error) {
	if err := u.requireGas(p.cfg.SubmitGas); err != nil {
		return nil, err
	}
	if need := minSubmitDeposit(u.env); u.env.Attached().Lt(need) {
		return nil, newError(UnderfundedError, "attached deposit %s is below the %s required for storage", u.env.Attached().Dec(), need.Dec())
	}
	if _, err := hex.DecodeString(args.VAA); err != nil {
		return nil, wrapError(FormatError, "vaa is not hex", err)
	}
	coreAccount, err := u.core()
	if err != nil {
		return nil, err
	}

	promise := host.NewPromise(coreAccount).
		FunctionCall(core.MethodVerifyVAA, core.VerifyVAAArgs{VAA: args.VAA}, nil, u.env.PrepaidGas).
		Then(host.NewPromise(u.env.Current).
			FunctionCall(MethodSubmitVAACallback, SubmitVAACallbackArgs{VAA: args.VAA, RefundTo: u.payer}, u.env.Attached(), u.env.PrepaidGas))
	return host.Then(promise), nil
}

// submitVAACallback runs once the core bridge verified the VAA. It is where inbound messages take effect.
func (p *Portal) submitVAACallback(u *unit, args SubmitVAACallbackArgs) (*host.Outcome, error) {
	if err := u.private(); err != nil {
		return nil, err
	}
	u.payer = args.RefundTo

	guardianSetIndex, err := previous[uint32](u, "vaa verification failed")
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(args.VAA)
	if err != nil {
		return nil, wrapError(FormatError, "vaa is not hex", err)
	}
	v, err := vaa.Unmarshal(raw)
	if err != nil {
		return nil, wrapError(FormatError, "invalid vaa", err)
	}
	if v.Version != vaa.SupportedVAAVersion {
		return nil, newError(FormatError, "unsupported vaa version %d", v.Version)
	}

	dep := newDeposit(u)
	digest := v.SigningDigest()
	before := dep.checkpoint()
	inserted, err := u.txn.InsertDigest(digest)
	if err != nil {
		return nil, internal(err)
	}
	if !inserted {
		return nil, newError(ReplayError, "vaa %s already executed", v.HexDigest())
	}
	if err := dep.charge(before, "replay guard"); err != nil {
		return nil, err
	}

	logger := u.env.Logger.With(zap.String("message_id", v.MessageID()), zap.String("digest", v.HexDigest()))
	if tokenbridge.IsGovernance(v.Payload) {
		return p.governance(u, v, guardianSetIndex, dep, logger)
	}

	emitter, found, err := u.txn.GetEmitter(v.EmitterChain)
	if err != nil {
		return nil, internal(err)
	}
	if !found {
		return nil, newError(AuthorizationError, "chain %s is not registered", v.EmitterChain)
	}
	if emitter != v.EmitterAddress {
		return nil, newError(AuthorizationError, "emitter %s is not the registered emitter of %s", v.EmitterAddress, v.EmitterChain)
	}
	if len(v.Payload) == 0 {
		return nil, newError(FormatError, "empty payload")
	}

	switch id := tokenbridge.PayloadID(v.Payload[0]); id {
	case tokenbridge.PayloadTransfer, tokenbridge.PayloadTransferWithPayload:
		return p.completeTransfer(u, v, dep, logger)
	case tokenbridge.PayloadAssetMeta:
		return p.assetMeta(u, v, dep, logger)
	default:
		return nil, newError(FormatError, "invalid payload id %d", uint8(id))
	}
}
