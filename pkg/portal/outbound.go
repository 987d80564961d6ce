package portal

import (
	"encoding/hex"
	"strings"

	"github.com/certusone/wormhole/portal/pkg/core"
	"github.com/certusone/wormhole/portal/pkg/db"
	"github.com/certusone/wormhole/portal/pkg/ft"
	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/certusone/wormhole/portal/pkg/tokenbridge"
	"github.com/holiman/uint256"
	"github.com/tidwall/gjson"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// publish hands payload to the core bridge, paying fee out of the portal balance.
func (u *unit) publish(payload []byte, fee *uint256.Int) (*host.Promise, error) {
	coreAccount, err := u.core()
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		messagesEmitted.WithLabelValues(tokenbridge.PayloadID(payload[0]).String()).Inc()
	}
	return host.NewPromise(coreAccount).
		FunctionCall(core.MethodPublishMessage, core.PublishMessageArgs{Data: hex.EncodeToString(payload), Nonce: uint32(u.env.BlockHeight)}, fee, u.env.PrepaidGas), nil
}

// isWormhole reports whether token is a wrapped asset created by this portal.
func (u *unit) isWormhole(token host.AccountID) bool {
	return strings.HasSuffix(string(token), "."+string(u.env.Current))
}

// requireDeposit checks that a call that publishes a message attached something, and at least the fee.
func (u *unit) requireDeposit(messageFee *uint256.Int) error {
	attached := u.env.Attached()
	if attached.IsZero() || attached.Lt(messageFee) {
		return newError(UnderfundedError, "attached deposit %s does not cover the message fee %s", attached.Dec(), messageFee.Dec())
	}
	return nil
}

func (p *Portal) attestNear(u *unit, args AttestNearArgs) (*host.Outcome, error) {
	fee := orZero(args.MessageFee)
	if err := u.requireGas(p.cfg.OutboundGas); err != nil {
		return nil, err
	}
	if err := u.requireDeposit(fee); err != nil {
		return nil, err
	}
	m := &tokenbridge.AssetMeta{
		TokenChain: p.cfg.ChainID,
		Decimals:   p.cfg.NativeDecimals,
		Symbol:     tokenbridge.PadString32(p.cfg.NativeSymbol),
		Name:       tokenbridge.PadString32(p.cfg.NativeName),
	}
	promise, err := u.publish(m.Serialize(), fee)
	if err != nil {
		return nil, err
	}
	return host.Then(promise).Detach(refundRest(u, fee)), nil
}

// refundRest gives back what was attached beyond spent.
func refundRest(u *unit, spent *uint256.Int) *host.Promise {
	rest, spent := u.env.Attached(), orZero(spent)
	if rest.Lt(spent) {
		return nil
	}
	rest.Sub(rest, spent)
	if rest.IsZero() {
		return nil
	}
	return host.NewPromise(u.payer).Transfer(rest)
}

func (p *Portal) attestToken(u *unit, args AttestTokenArgs) (*host.Outcome, error) {
	fee := orZero(args.MessageFee)
	if err := u.requireGas(p.cfg.OutboundGas); err != nil {
		return nil, err
	}
	if err := u.requireDeposit(fee); err != nil {
		return nil, err
	}
	if args.Token == "" {
		return nil, newError(FormatError, "missing token")
	}
	if u.isWormhole(args.Token) {
		return nil, newError(AuthorizationError, "%s is a wrapped asset and cannot be attested", args.Token)
	}
	promise := host.NewPromise(args.Token).
		FunctionCall(ft.MethodMetadata, nil, nil, u.env.PrepaidGas).
		Then(host.NewPromise(u.env.Current).
			FunctionCall(MethodAttestTokenCallback, AttestTokenCallbackArgs{Token: args.Token, RefundTo: u.payer, MessageFee: fee}, u.env.Attached(), u.env.PrepaidGas))
	return host.Then(promise), nil
}

// attestTokenCallback registers a local token for custody transfers and publishes its asset meta.
func (p *Portal) attestTokenCallback(u *unit, args AttestTokenCallbackArgs) (*host.Outcome, error) {
	if err := u.private(); err != nil {
		return nil, err
	}
	u.payer = args.RefundTo

	md, err := previous[ft.Metadata](u, "failed to read token metadata")
	if err != nil {
		return nil, err
	}

	dep := newDeposit(u)
	hash := tokenbridge.AccountHash(string(args.Token))
	before := dep.checkpoint()
	_, known, err := u.txn.GetToken(args.Token)
	if err != nil {
		return nil, internal(err)
	}
	if !known {
		rec := &db.TokenRecord{Decimals: md.Decimals, OriginAddress: hex.EncodeToString(hash[:]), OriginChain: p.cfg.ChainID}
		if err := u.txn.PutToken(args.Token, rec); err != nil {
			return nil, internal(err)
		}
		if _, err := u.txn.InsertTokenKey(tokenbridge.TokenKey(hash, p.cfg.ChainID), args.Token); err != nil {
			return nil, internal(err)
		}
		if _, err := u.txn.InsertAccountHash(hash, args.Token); err != nil {
			return nil, internal(err)
		}
	}
	if err := dep.charge(before, "token registration"); err != nil {
		return nil, err
	}
	fee := orZero(args.MessageFee)
	if err := dep.spend(fee, "message fee"); err != nil {
		return nil, err
	}

	m := &tokenbridge.AssetMeta{
		TokenAddress: hash,
		TokenChain:   p.cfg.ChainID,
		Decimals:     md.Decimals,
		Symbol:       tokenbridge.PadString32(md.Symbol),
		Name:         tokenbridge.PadString32(md.Name),
	}
	promise, err := u.publish(m.Serialize(), fee)
	if err != nil {
		return nil, err
	}
	u.env.Logger.Info("attesting local token", zap.Stringer("token", args.Token), zap.Bool("new", !known), zap.Uint8("decimals", md.Decimals))
	return dep.finish(promise, nil), nil
}

// scaleOutbound converts a local amount to wire precision. The remainder is what cannot be represented.
func scaleOutbound(amount, multiplier *uint256.Int) (wire, remainder *uint256.Int) {
	wire, remainder = new(uint256.Int), new(uint256.Int)
	wire.DivMod(amount, multiplier, remainder)
	return wire, remainder
}

// requireForeignChain rejects transfers that would leave the bridge towards itself.
func (p *Portal) requireForeignChain(chain vaa.ChainID) error {
	if chain == p.cfg.ChainID || chain == vaa.ChainIDUnset {
		return newError(FormatError, "cannot transfer to %s", chain)
	}
	return nil
}

// outboundTransfer builds the transfer payload for assets leaving the chain.
func outboundTransfer(from host.AccountID, token vaa.Address, tokenChain vaa.ChainID, receiver string, chain vaa.ChainID, amount, fee *uint256.Int, payload string) (*tokenbridge.Transfer, error) {
	if fee.Gt(amount) {
		return nil, newError(FormatError, "fee %s exceeds amount %s", fee.Dec(), amount.Dec())
	}
	recipient, err := tokenbridge.LeftPadAddress(receiver)
	if err != nil {
		return nil, wrapError(FormatError, "invalid receiver", err)
	}
	t := &tokenbridge.Transfer{
		PayloadID:      tokenbridge.PayloadTransfer,
		Amount:         amount,
		TokenAddress:   token,
		TokenChain:     tokenChain,
		Recipient:      recipient,
		RecipientChain: chain,
		Fee:            fee,
	}
	if payload != "" {
		body, err := hex.DecodeString(payload)
		if err != nil {
			return nil, wrapError(FormatError, "payload is not hex", err)
		}
		t.PayloadID = tokenbridge.PayloadTransferWithPayload
		t.Fee = new(uint256.Int)
		t.FromAddress = tokenbridge.AccountHash(string(from))
		t.Payload = body
	}
	return t, nil
}

// sendTransferNear locks the attached native balance and publishes a transfer for it. Amounts below the
// wire precision are refunded.
func (p *Portal) sendTransferNear(u *unit, args SendTransferNearArgs) (*host.Outcome, error) {
	if err := u.requireGas(p.cfg.OutboundGas); err != nil {
		return nil, err
	}
	if err := p.requireForeignChain(args.Chain); err != nil {
		return nil, err
	}
	messageFee := orZero(args.MessageFee)
	attached := u.env.Attached()
	if attached.Lt(messageFee) {
		return nil, newError(UnderfundedError, "message fee %s exceeds the attached deposit %s", messageFee.Dec(), attached.Dec())
	}
	locked := new(uint256.Int).Sub(attached, messageFee)
	amount, dust := scaleOutbound(locked, p.cfg.NativeMultiplier)
	if amount.IsZero() {
		return nil, newError(FormatError, "empty transfer")
	}
	fee, _ := scaleOutbound(orZero(args.Fee), p.cfg.NativeMultiplier)

	t, err := outboundTransfer(u.env.Predecessor, vaa.Address{}, p.cfg.ChainID, args.Receiver, args.Chain, amount, fee, args.Payload)
	if err != nil {
		return nil, err
	}
	promise, err := u.publish(t.Serialize(), messageFee)
	if err != nil {
		return nil, err
	}
	u.env.Logger.Info("locked native transfer",
		zap.Stringer("sender", u.env.Predecessor),
		zap.Stringer("chain", args.Chain),
		zap.String("amount", amount.Dec()),
		zap.String("refund", dust.Dec()),
	)
	out := host.Then(promise)
	if !dust.IsZero() {
		out.Detach(host.NewPromise(u.payer).Transfer(dust))
	}
	return out, nil
}

func (p *Portal) sendTransferWormholeToken(u *unit, args SendTransferWormholeTokenArgs) (*host.Outcome, error) {
	messageFee := orZero(args.MessageFee)
	if err := u.requireGas(p.cfg.OutboundGas); err != nil {
		return nil, err
	}
	if err := u.requireDeposit(messageFee); err != nil {
		return nil, err
	}
	if err := p.requireForeignChain(args.Chain); err != nil {
		return nil, err
	}
	if !u.isWormhole(args.Token) {
		return nil, newError(UnknownAssetError, "%s is not a wrapped asset", args.Token)
	}
	withdraw := ft.WithdrawArgs{
		From:     u.env.Predecessor,
		Amount:   orZero(args.Amount),
		Receiver: args.Receiver,
		Chain:    args.Chain,
		Fee:      orZero(args.Fee),
		Payload:  args.Payload,
	}
	promise := host.NewPromise(args.Token).
		FunctionCall(ft.MethodWithdraw, withdraw, nil, u.env.PrepaidGas).
		Then(host.NewPromise(u.env.Current).
			FunctionCall(MethodSendTransferTokenCallback, SendTransferTokenCallbackArgs{RefundTo: u.payer, MessageFee: messageFee}, u.env.Attached(), u.env.PrepaidGas))
	return host.Then(promise), nil
}

// sendTransferTokenCallback publishes the payload the wrapped token built when it burned the tokens.
func (p *Portal) sendTransferTokenCallback(u *unit, args SendTransferTokenCallbackArgs) (*host.Outcome, error) {
	if err := u.private(); err != nil {
		return nil, err
	}
	u.payer = args.RefundTo

	payloadHex, err := previous[string](u, "failed to withdraw wrapped tokens")
	if err != nil {
		return nil, err
	}
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return nil, wrapError(FormatError, "withdraw payload is not hex", err)
	}
	fee := orZero(args.MessageFee)
	if u.env.Attached().Lt(fee) {
		return nil, newError(UnderfundedError, "attached deposit does not cover the message fee %s", fee.Dec())
	}
	promise, err := u.publish(payload, fee)
	if err != nil {
		return nil, err
	}
	return host.Then(promise).Detach(refundRest(u, fee)), nil
}

// ftOnTransfer receives local tokens sent with ft_transfer_call and locks them for a transfer out.
// The message is a JSON object: {"receiver", "chain", "fee", "payload", "message_fee"}.
func (p *Portal) ftOnTransfer(u *unit, args ft.OnTransferArgs) (*host.Outcome, error) {
	token := u.env.Predecessor
	if u.isWormhole(token) {
		return nil, newError(AuthorizationError, "wrapped assets leave through send_transfer_wormhole_token")
	}
	if args.Amount == nil || args.Amount.IsZero() {
		return nil, newError(FormatError, "empty transfer")
	}
	promise := host.NewPromise(token).
		FunctionCall(ft.MethodMetadata, nil, nil, u.env.PrepaidGas).
		Then(host.NewPromise(u.env.Current).
			FunctionCall(MethodFtOnTransferCallback, FtOnTransferCallbackArgs{Token: token, Sender: args.Sender, Amount: orZero(args.Amount), Msg: args.Msg}, nil, u.env.PrepaidGas))
	return host.Then(promise), nil
}

type transferMessage struct {
	receiver   string
	chain      vaa.ChainID
	fee        *uint256.Int
	payload    string
	messageFee *uint256.Int
}

func parseBalanceField(msg string, field string) (*uint256.Int, error) {
	r := gjson.Get(msg, field)
	if !r.Exists() {
		return new(uint256.Int), nil
	}
	v, err := host.ParseBalance(r.String())
	if err != nil {
		return nil, wrapError(FormatError, "invalid "+field, err)
	}
	return v, nil
}

func parseTransferMessage(msg string) (*transferMessage, error) {
	if !gjson.Valid(msg) {
		return nil, newError(FormatError, "transfer message is not valid json")
	}
	receiver := gjson.Get(msg, "receiver")
	if receiver.Type != gjson.String || receiver.String() == "" {
		return nil, newError(FormatError, "transfer message has no receiver")
	}
	chain := gjson.Get(msg, "chain")
	if chain.Type != gjson.Number {
		return nil, newError(FormatError, "transfer message has no chain")
	}
	chainID, err := vaa.ChainIDFromNumber(chain.Uint())
	if err != nil {
		return nil, wrapError(FormatError, "invalid chain", err)
	}
	tm := &transferMessage{
		receiver: receiver.String(),
		chain:    chainID,
		payload:  gjson.Get(msg, "payload").String(),
	}
	if tm.fee, err = parseBalanceField(msg, "fee"); err != nil {
		return nil, err
	}
	if tm.messageFee, err = parseBalanceField(msg, "message_fee"); err != nil {
		return nil, err
	}
	return tm, nil
}

// ftOnTransferCallback publishes the transfer of locked local tokens. The message fee comes out of the
// sender's prepaid bank since a token transfer carries no native deposit.
func (p *Portal) ftOnTransferCallback(u *unit, args FtOnTransferCallbackArgs) (*host.Outcome, error) {
	if err := u.private(); err != nil {
		return nil, err
	}
	if u.env.Signer != args.Sender {
		return nil, newError(AuthorizationError, "transfer signed by %s on behalf of %s", u.env.Signer, args.Sender)
	}
	md, err := previous[ft.Metadata](u, "failed to read token metadata")
	if err != nil {
		return nil, err
	}
	tm, err := parseTransferMessage(args.Msg)
	if err != nil {
		return nil, err
	}
	if err := p.requireForeignChain(tm.chain); err != nil {
		return nil, err
	}

	multiplier := decimalsMultiplier(md.Decimals)
	amount, dust := scaleOutbound(args.Amount, multiplier)
	if amount.IsZero() {
		return nil, newError(FormatError, "empty transfer")
	}
	fee, _ := scaleOutbound(tm.fee, multiplier)

	if !tm.messageFee.IsZero() {
		balance, registered, err := u.txn.GetBank(args.Sender)
		if err != nil {
			return nil, internal(err)
		}
		if !registered {
			return nil, newError(UnknownAssetError, "%s has no bank to pay the message fee", args.Sender)
		}
		if balance.Lt(tm.messageFee) {
			return nil, newError(UnderfundedError, "bank of %s holds %s, message fee is %s", args.Sender, balance.Dec(), tm.messageFee.Dec())
		}
		if err := u.txn.PutBank(args.Sender, balance.Sub(balance, tm.messageFee)); err != nil {
			return nil, internal(err)
		}
	}

	t, err := outboundTransfer(args.Sender, tokenbridge.AccountHash(string(args.Token)), p.cfg.ChainID, tm.receiver, tm.chain, amount, fee, tm.payload)
	if err != nil {
		return nil, err
	}
	promise, err := u.publish(t.Serialize(), tm.messageFee)
	if err != nil {
		return nil, err
	}
	promise.Then(host.NewPromise(u.env.Current).
		FunctionCall(MethodEmitterCallback, EmitterCallbackArgs{Unused: dust}, nil, u.env.PrepaidGas))

	u.env.Logger.Info("locked token transfer",
		zap.Stringer("token", args.Token),
		zap.Stringer("sender", args.Sender),
		zap.Stringer("chain", tm.chain),
		zap.String("amount", amount.Dec()),
		zap.String("unused", dust.Dec()),
	)
	return host.Then(promise), nil
}

// emitterCallback resolves a locked token transfer to the amount the token should hand back.
func (p *Portal) emitterCallback(u *unit, args EmitterCallbackArgs) (*host.Outcome, error) {
	if err := u.private(); err != nil {
		return nil, err
	}
	if _, err := previous[uint64](u, "failed to publish transfer"); err != nil {
		return nil, err
	}
	return host.Value(orZero(args.Unused)), nil
}
