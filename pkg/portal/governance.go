package portal

import (
	"encoding/hex"

	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/certusone/wormhole/portal/pkg/tokenbridge"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

// governance applies a token bridge governance VAA. Governance must be signed by the current guardian set
// and come from the governance emitter.
func (p *Portal) governance(u *unit, v *vaa.VAA, currentSet uint32, dep *deposit, logger *zap.Logger) (*host.Outcome, error) {
	if v.GuardianSetIndex != currentSet {
		return nil, newError(AuthorizationError, "governance signed by guardian set %d, current is %d", v.GuardianSetIndex, currentSet)
	}
	if v.EmitterChain != p.cfg.GovernanceChain || v.EmitterAddress != p.cfg.GovernanceEmitter {
		return nil, newError(AuthorizationError, "governance from %s/%s is not trusted", v.EmitterChain, v.EmitterAddress)
	}
	g, err := tokenbridge.DecodeGovernance(v.Payload)
	if err != nil {
		return nil, wrapError(FormatError, "invalid governance payload", err)
	}

	switch g.Action {
	case vaa.ActionRegisterChain:
		return p.registerChain(u, v, dep, logger)
	case vaa.ActionUpgradeTokenBridge:
		return p.upgradeContract(u, v, dep, logger)
	default:
		return nil, newError(FormatError, "invalid governance action %d", g.Action)
	}
}

func (p *Portal) registerChain(u *unit, v *vaa.VAA, dep *deposit, logger *zap.Logger) (*host.Outcome, error) {
	r, err := tokenbridge.DecodeRegisterChain(v.Payload)
	if err != nil {
		return nil, wrapError(FormatError, "invalid register chain payload", err)
	}
	if r.TargetChain != p.cfg.ChainID && r.TargetChain != vaa.ChainIDUnset {
		return nil, newError(AuthorizationError, "register chain is addressed to %s", r.TargetChain)
	}

	before := dep.checkpoint()
	inserted, err := u.txn.RegisterEmitter(r.EmitterChain, r.EmitterAddress)
	if err != nil {
		return nil, internal(err)
	}
	if !inserted {
		return nil, newError(AuthorizationError, "chain %s is already registered", r.EmitterChain)
	}
	if err := dep.charge(before, "emitter registration"); err != nil {
		return nil, err
	}

	vaasProcessed.WithLabelValues("register_chain").Inc()
	logger.Info("registered chain", zap.Stringer("chain", r.EmitterChain), zap.Stringer("emitter", r.EmitterAddress))
	return dep.finish(nil, true), nil
}

// upgradeContract only records the hash. The code itself arrives later through update_contract.
func (p *Portal) upgradeContract(u *unit, v *vaa.VAA, dep *deposit, logger *zap.Logger) (*host.Outcome, error) {
	up, err := tokenbridge.DecodeUpgradeContract(v.Payload)
	if err != nil {
		return nil, wrapError(FormatError, "invalid upgrade payload", err)
	}
	if up.TargetChain != p.cfg.ChainID {
		return nil, newError(AuthorizationError, "upgrade is addressed to %s", up.TargetChain)
	}

	before := dep.checkpoint()
	if err := u.txn.SetUpgradeHash(up.CodeHash); err != nil {
		return nil, internal(err)
	}
	if err := dep.charge(before, "upgrade hash"); err != nil {
		return nil, err
	}

	vaasProcessed.WithLabelValues("upgrade_contract").Inc()
	logger.Info("upgrade authorized", zap.String("code_hash", hex.EncodeToString(up.CodeHash[:])))
	return dep.finish(nil, true), nil
}
