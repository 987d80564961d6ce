// Package portal implements the token bridge portal contract.
//
// The portal consumes guardian signed VAAs addressed to it (governance, inbound transfers, asset
// attestations) and emits messages for assets leaving the chain. It runs as a host.Contract: every call
// is one unit of execution backed by one db.Txn that is committed only when the call succeeds. Work
// that touches other accounts is returned as promises and runs after the unit, so nothing a unit did is
// ever rolled back by what happens later in its chain.
package portal

import (
	"fmt"

	"github.com/certusone/wormhole/portal/pkg/db"
	"github.com/certusone/wormhole/portal/pkg/host"
	"go.uber.org/zap"
)

// Host visible method names.
const (
	MethodBootPortal        = "boot_portal"
	MethodSubmitVAA         = "submit_vaa"
	MethodSubmitVAACallback = "submit_vaa_callback"
	MethodFinishDeploy      = "finish_deploy"
	MethodRegisterAccount   = "register_account"

	MethodRegisterBank = "register_bank"
	MethodFillBank     = "fill_bank"
	MethodDrainBank    = "drain_bank"
	MethodBankBalance  = "bank_balance"

	MethodAttestNear                = "attest_near"
	MethodAttestToken               = "attest_token"
	MethodAttestTokenCallback       = "attest_token_callback"
	MethodSendTransferNear          = "send_transfer_near"
	MethodSendTransferWormholeToken = "send_transfer_wormhole_token"
	MethodSendTransferTokenCallback = "send_transfer_token_wormhole_callback"
	MethodFtOnTransfer              = "ft_on_transfer"
	MethodFtOnTransferCallback      = "ft_on_transfer_callback"
	MethodEmitterCallback           = "emitter_callback_pov"

	MethodUpdateContract     = "update_contract"
	MethodUpdateContractDone = "update_contract_done"

	MethodHashAccount         = "hash_account"
	MethodHashLookup          = "hash_lookup"
	MethodEmitter             = "emitter"
	MethodIsWormhole          = "is_wormhole"
	MethodDepositEstimates    = "deposit_estimates"
	MethodGetOriginalAsset    = "get_original_asset"
	MethodGetForeignAsset     = "get_foreign_asset"
	MethodIsTransferCompleted = "is_transfer_completed"
)

// unit is the context of one call.
type unit struct {
	env  *host.Env
	txn  *db.Txn
	prev *host.Result
	// payer receives refunds when the call fails. Callbacks replace it with the original caller.
	payer host.AccountID
}

type handler func(u *unit, args any) (*host.Outcome, error)

type Portal struct {
	logger   *zap.Logger
	db       *db.PortalDB
	cfg      Config
	handlers map[string]handler
}

func New(logger *zap.Logger, pdb *db.PortalDB, cfg Config) *Portal {
	p := &Portal{logger: logger, db: pdb, cfg: cfg}
	p.handlers = map[string]handler{
		MethodBootPortal:        handle(p.bootPortal),
		MethodSubmitVAA:         handle(p.submitVAA),
		MethodSubmitVAACallback: handle(p.submitVAACallback),
		MethodFinishDeploy:      handle(p.finishDeploy),
		MethodRegisterAccount:   handle(p.registerAccount),

		MethodRegisterBank: handle(p.registerBank),
		MethodFillBank:     handle(p.fillBank),
		MethodDrainBank:    handle(p.drainBank),
		MethodBankBalance:  handle(p.bankBalance),

		MethodAttestNear:                handle(p.attestNear),
		MethodAttestToken:               handle(p.attestToken),
		MethodAttestTokenCallback:       handle(p.attestTokenCallback),
		MethodSendTransferNear:          handle(p.sendTransferNear),
		MethodSendTransferWormholeToken: handle(p.sendTransferWormholeToken),
		MethodSendTransferTokenCallback: handle(p.sendTransferTokenCallback),
		MethodFtOnTransfer:              handle(p.ftOnTransfer),
		MethodFtOnTransferCallback:      handle(p.ftOnTransferCallback),
		MethodEmitterCallback:           handle(p.emitterCallback),

		MethodUpdateContract:     handle(p.updateContract),
		MethodUpdateContractDone: handle(p.updateContractDone),

		MethodHashAccount:         handle(p.hashAccount),
		MethodHashLookup:          handle(p.hashLookup),
		MethodEmitter:             handle(p.emitter),
		MethodIsWormhole:          handle(p.isWormholeView),
		MethodDepositEstimates:    handle(p.depositEstimates),
		MethodGetOriginalAsset:    handle(p.getOriginalAsset),
		MethodGetForeignAsset:     handle(p.getForeignAsset),
		MethodIsTransferCompleted: handle(p.isTransferCompleted),
	}
	return p
}

// Factory instantiates the portal for a code upgrade. The new instance shares the state of the old one.
func Factory(logger *zap.Logger, pdb *db.PortalDB, cfg Config) host.Factory {
	return func(host.AccountID) (host.Contract, error) {
		return New(logger, pdb, cfg), nil
	}
}

func (p *Portal) Config() Config {
	return p.cfg
}

func handle[T any](f func(u *unit, args T) (*host.Outcome, error)) handler {
	return func(u *unit, raw any) (*host.Outcome, error) {
		args, ok := raw.(T)
		if !ok && raw != nil {
			return nil, newError(FormatError, "unexpected arguments %T", raw)
		}
		return f(u, args)
	}
}

// Call runs one unit. Any error goes through refundAndAbort and leaves storage untouched.
func (p *Portal) Call(env *host.Env, method string, args any, prev *host.Result) (*host.Outcome, error) {
	u := &unit{env: env, prev: prev, payer: env.Predecessor}

	h, ok := p.handlers[method]
	if !ok {
		return refundAndAbort(env, u.payer, newError(FormatError, "unknown method %s", method))
	}

	u.txn = p.db.Begin()
	defer u.txn.Discard()

	out, err := h(u, args)
	if err != nil {
		return refundAndAbort(env, u.payer, err)
	}
	if err := u.txn.Commit(); err != nil {
		return refundAndAbort(env, u.payer, wrapError(InternalError, "failed to commit state", err))
	}
	return out, nil
}

// private rejects calls that do not come from the portal itself. The payer stays the caller.
func (u *unit) private() error {
	if !u.env.IsPrivateCall() {
		return newError(AuthorizationError, "%s may only be called by the portal", u.env.Current)
	}
	return nil
}

// previous returns the value of the preceding step, failing the unit if that step failed.
func previous[T any](u *unit, what string) (T, error) {
	var zero T
	if u.prev.Failed() {
		var cause error
		if u.prev != nil {
			cause = u.prev.Err
		}
		return zero, wrapError(ChainedFailure, what, cause)
	}
	v, ok := u.prev.Value.(T)
	if !ok {
		return zero, newError(FormatError, "%s returned %T", what, u.prev.Value)
	}
	return v, nil
}

func (u *unit) requireGas(floor host.Gas) error {
	if u.env.PrepaidGas < floor {
		return newError(UnderfundedError, "not enough gas: %d < %d", u.env.PrepaidGas, floor)
	}
	return nil
}

// core returns the core bridge account recorded at boot.
func (u *unit) core() (host.AccountID, error) {
	state, _, err := u.txn.GetBootState()
	if err != nil {
		return "", internal(err)
	}
	if !state.Booted || state.Core == "" {
		return "", newError(AuthorizationError, "portal is not booted")
	}
	return state.Core, nil
}

func internal(err error) error {
	return wrapError(InternalError, "state access failed", err)
}

func (p *Portal) String() string {
	return fmt.Sprintf("portal(chain=%s)", p.cfg.ChainID)
}
