package portal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/certusone/wormhole/portal/pkg/db"
	"github.com/certusone/wormhole/portal/pkg/ft"
	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/certusone/wormhole/portal/pkg/tokenbridge"
	"github.com/holiman/uint256"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

// wrappedMetadata is the metadata of the local representation of a foreign asset.
func wrappedMetadata(m *tokenbridge.AssetMeta, tokenKey []byte) ft.Metadata {
	reference := hex.EncodeToString(tokenKey)
	referenceHash := sha256.Sum256([]byte(reference))
	return ft.Metadata{
		Spec:          ft.MetadataSpec,
		Name:          m.NameString() + WrappedNameSuffix,
		Symbol:        m.SymbolString(),
		Reference:     reference,
		ReferenceHash: referenceHash[:],
		Decimals:      min(m.Decimals, MaxWrappedDecimals),
	}
}

// wrappedAssetCost is the fixed cost of creating a wrapped asset account, on top of metered storage.
func (p *Portal) wrappedAssetCost(env *host.Env) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(uint64(TransferBuffer+len(p.cfg.WrappedTokenCode))), env.ByteCost())
}

// assetMeta creates the wrapped token of a foreign asset on its first attestation and refreshes its
// metadata afterwards. The origin of a known asset never changes.
func (p *Portal) assetMeta(u *unit, v *vaa.VAA, dep *deposit, logger *zap.Logger) (*host.Outcome, error) {
	m, err := tokenbridge.DecodeAssetMeta(v.Payload)
	if err != nil {
		return nil, wrapError(FormatError, "invalid asset meta payload", err)
	}
	if m.TokenChain == p.cfg.ChainID {
		return nil, newError(AuthorizationError, "assets of %s cannot be attested here", m.TokenChain)
	}

	key := tokenbridge.TokenKey(m.TokenAddress, m.TokenChain)
	account, found, err := u.txn.GetTokenKey(key)
	if err != nil {
		return nil, internal(err)
	}
	md := wrappedMetadata(m, key)
	logger = logger.With(zap.Stringer("origin_chain", m.TokenChain), zap.Stringer("origin_address", m.TokenAddress))

	if found {
		return p.refreshAsset(u, account, m, md, v.Sequence, dep, logger)
	}
	return p.createAsset(u, key, m, md, v.Sequence, dep, logger)
}

func (p *Portal) refreshAsset(u *unit, account host.AccountID, m *tokenbridge.AssetMeta, md ft.Metadata, sequence uint64, dep *deposit, logger *zap.Logger) (*host.Outcome, error) {
	rec, found, err := u.txn.GetToken(account)
	if err != nil {
		return nil, internal(err)
	}
	if !found {
		return nil, wrapError(InternalError, "token key without record", fmt.Errorf("account %s", account))
	}

	if sequence <= rec.Sequence {
		return nil, newError(ReplayError, "asset meta sequence %d is not newer than %d", sequence, rec.Sequence)
	}

	// Amounts already bridged were scaled with the stored decimals.
	md.Decimals = rec.Decimals
	before := dep.checkpoint()
	rec.RawMetadata = m.Raw
	rec.Sequence = sequence
	if err := u.txn.PutToken(account, rec); err != nil {
		return nil, internal(err)
	}
	if err := dep.charge(before, "token record"); err != nil {
		return nil, err
	}

	promise := host.NewPromise(account).
		FunctionCall(ft.MethodUpdate, ft.InitArgs{Metadata: md, AssetMeta: m.Raw, Sequence: sequence}, nil, u.env.PrepaidGas).
		Then(p.finishDeployStep(u, account, true, dep))

	vaasProcessed.WithLabelValues("asset_meta_update").Inc()
	logger.Info("refreshing wrapped asset", zap.Stringer("token", account), zap.String("symbol", md.Symbol))
	return host.Then(promise), nil
}

func (p *Portal) createAsset(u *unit, key []byte, m *tokenbridge.AssetMeta, md ft.Metadata, sequence uint64, dep *deposit, logger *zap.Logger) (*host.Outcome, error) {
	before := dep.checkpoint()
	id, err := u.txn.NextAssetID()
	if err != nil {
		return nil, internal(err)
	}
	account := host.AccountID(fmt.Sprintf("%d.%s", id, u.env.Current))

	rec := &db.TokenRecord{
		RawMetadata:   m.Raw,
		Decimals:      md.Decimals,
		OriginAddress: hex.EncodeToString(m.TokenAddress[:]),
		OriginChain:   m.TokenChain,
		Sequence:      sequence,
	}
	if err := u.txn.PutToken(account, rec); err != nil {
		return nil, internal(err)
	}
	if inserted, err := u.txn.InsertTokenKey(key, account); err != nil {
		return nil, internal(err)
	} else if !inserted {
		return nil, wrapError(InternalError, "token key registered twice", fmt.Errorf("account %s", account))
	}
	if _, err := u.txn.InsertAccountHash(tokenbridge.AccountHash(string(account)), account); err != nil {
		return nil, internal(err)
	}
	if err := dep.charge(before, "wrapped asset records"); err != nil {
		return nil, err
	}
	cost := p.wrappedAssetCost(u.env)
	if err := dep.spend(cost, "wrapped asset account"); err != nil {
		return nil, err
	}

	promise := host.NewPromise(account).
		CreateAccount().
		Transfer(cost).
		AddFullAccessKey(p.cfg.OwnerKey).
		DeployContract(p.cfg.WrappedTokenCode).
		Then(host.NewPromise(account).
			FunctionCall(ft.MethodNew, ft.InitArgs{Metadata: md, AssetMeta: m.Raw, Sequence: sequence}, nil, u.env.PrepaidGas)).
		Then(p.finishDeployStep(u, account, false, dep))

	vaasProcessed.WithLabelValues("asset_meta_create").Inc()
	logger.Info("creating wrapped asset", zap.Stringer("token", account), zap.String("symbol", md.Symbol), zap.Uint8("decimals", md.Decimals))
	return host.Then(promise), nil
}

// finishDeployStep confirms the token step before it and carries the rest of the deposit to be refunded.
func (p *Portal) finishDeployStep(u *unit, token host.AccountID, refresh bool, dep *deposit) *host.Promise {
	return host.NewPromise(u.env.Current).
		FunctionCall(MethodFinishDeploy, FinishDeployArgs{Token: token, RefundTo: dep.payer, Refresh: refresh}, dep.left(), u.env.PrepaidGas)
}

// finishDeploy fails the chain loudly when the token step failed. The refund happens either way: on
// failure through the error boundary, on success as a detached transfer.
func (p *Portal) finishDeploy(u *unit, args FinishDeployArgs) (*host.Outcome, error) {
	if err := u.private(); err != nil {
		return nil, err
	}
	u.payer = args.RefundTo

	if u.prev.Failed() {
		var cause error
		if u.prev != nil {
			cause = u.prev.Err
		}
		return nil, wrapError(ChainedFailure, fmt.Sprintf("token %s was not set up", args.Token), cause)
	}
	if args.Refresh {
		u.env.Logger.Info("wrapped asset refreshed", zap.Stringer("token", args.Token))
	} else {
		u.env.Logger.Info("wrapped asset ready", zap.Stringer("token", args.Token))
	}
	out := host.Value(args.Token)
	if r := host.Refund(u.payer, u.env.Attached()); r != nil {
		out.Detached = r.Detached
	}
	return out, nil
}
