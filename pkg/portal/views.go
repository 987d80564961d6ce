package portal

import (
	"encoding/hex"

	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/certusone/wormhole/portal/pkg/tokenbridge"
	"github.com/holiman/uint256"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

// registerAccount makes account addressable by its hash, so inbound transfers can name it.
func (p *Portal) registerAccount(u *unit, args RegisterAccountArgs) (*host.Outcome, error) {
	if args.Account == "" {
		return nil, newError(FormatError, "missing account")
	}
	hash := tokenbridge.AccountHash(string(args.Account))
	out := host.Value(hex.EncodeToString(hash[:]))

	dep := newDeposit(u)
	before := dep.checkpoint()
	inserted, err := u.txn.InsertAccountHash(hash, args.Account)
	if err != nil {
		return nil, internal(err)
	}
	if !inserted {
		return out.Detach(dep.refund()), nil
	}
	if err := dep.charge(before, "account hash"); err != nil {
		return nil, err
	}
	u.env.Logger.Info("account registered", zap.Stringer("account", args.Account), zap.Stringer("hash", hash))
	return out.Detach(dep.refund()), nil
}

func (p *Portal) hashAccount(u *unit, args HashAccountArgs) (*host.Outcome, error) {
	hash := tokenbridge.AccountHash(string(args.Account))
	account, found, err := u.txn.GetAccountHash(hash)
	if err != nil {
		return nil, internal(err)
	}
	return host.Value(AccountHash{Registered: found && account == args.Account, Hash: hex.EncodeToString(hash[:])}), nil
}

func (p *Portal) hashLookup(u *unit, args HashLookupArgs) (*host.Outcome, error) {
	raw, err := hex.DecodeString(args.Hash)
	if err != nil || len(raw) != 32 {
		return nil, newError(FormatError, "hash must be 32 hex encoded bytes")
	}
	var hash vaa.Address
	copy(hash[:], raw)
	account, found, err := u.txn.GetAccountHash(hash)
	if err != nil {
		return nil, internal(err)
	}
	return host.Value(AccountLookup{Found: found, Account: account}), nil
}

// emitter is the address the portal's messages carry on other chains.
func (p *Portal) emitter(u *unit, _ any) (*host.Outcome, error) {
	hash := tokenbridge.AccountHash(string(u.env.Current))
	return host.Value(EmitterInfo{Account: u.env.Current, Hash: hex.EncodeToString(hash[:])}), nil
}

func (p *Portal) isWormholeView(u *unit, args IsWormholeArgs) (*host.Outcome, error) {
	return host.Value(u.isWormhole(args.Token)), nil
}

func (p *Portal) depositEstimates(u *unit, _ any) (*host.Outcome, error) {
	byteCost := u.env.ByteCost()
	cost := new(uint256.Int).Mul(uint256.NewInt(uint64(2*TransferBuffer+len(p.cfg.WrappedTokenCode))), byteCost)
	return host.Value(DepositEstimates{StorageByteCost: byteCost, WrappedAssetCost: cost}), nil
}

// getOriginalAsset returns where a wrapped or custody token comes from.
func (p *Portal) getOriginalAsset(u *unit, args GetOriginalAssetArgs) (*host.Outcome, error) {
	rec, found, err := u.txn.GetToken(args.Token)
	if err != nil {
		return nil, internal(err)
	}
	if !found {
		return nil, newError(UnknownAssetError, "%s is not a bridged asset", args.Token)
	}
	return host.Value(OriginalAsset{Address: rec.OriginAddress, Chain: rec.OriginChain}), nil
}

// getForeignAsset returns the local token of an origin asset, empty when it was never attested.
func (p *Portal) getForeignAsset(u *unit, args GetForeignAssetArgs) (*host.Outcome, error) {
	address, err := tokenbridge.LeftPadAddress(args.Address)
	if err != nil {
		return nil, wrapError(FormatError, "invalid asset address", err)
	}
	account, _, err := u.txn.GetTokenKey(tokenbridge.TokenKey(address, args.Chain))
	if err != nil {
		return nil, internal(err)
	}
	return host.Value(account), nil
}

func (p *Portal) isTransferCompleted(u *unit, args IsTransferCompletedArgs) (*host.Outcome, error) {
	raw, err := hex.DecodeString(args.VAA)
	if err != nil {
		return nil, wrapError(FormatError, "vaa is not hex", err)
	}
	v, err := vaa.Unmarshal(raw)
	if err != nil {
		return nil, wrapError(FormatError, "invalid vaa", err)
	}
	done, err := u.txn.HasDigest(v.SigningDigest())
	if err != nil {
		return nil, internal(err)
	}
	return host.Value(done), nil
}
