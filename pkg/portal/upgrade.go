package portal

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/certusone/wormhole/portal/pkg/db"
	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// updateContract deploys code whose hash an upgrade VAA authorized. Deployment and update_contract_done
// run as one batch, so a failing update_contract_done also undoes the deployment.
func (p *Portal) updateContract(u *unit, args UpdateContractArgs) (*host.Outcome, error) {
	state, _, err := u.txn.GetBootState()
	if err != nil {
		return nil, internal(err)
	}
	if !state.Booted {
		return nil, newError(AuthorizationError, "portal is not booted")
	}
	if u.env.SignerPK != state.OwnerKey {
		return nil, newError(AuthorizationError, "signer key is not the owner key")
	}
	if len(args.Code) == 0 {
		return nil, newError(FormatError, "missing code")
	}

	want, found, err := u.txn.GetUpgradeHash()
	if err != nil {
		return nil, internal(err)
	}
	if !found {
		return nil, newError(AuthorizationError, "no upgrade was authorized")
	}
	if got := sha256.Sum256(args.Code); got != want {
		return nil, newError(AuthorizationError, "code hash %s does not match the authorized %s", hex.EncodeToString(got[:]), hex.EncodeToString(want[:]))
	}

	size := db.ContractCodeSize(args.Code)
	cost := new(uint256.Int).Mul(uint256.NewInt(uint64(size)), u.env.ByteCost())
	if u.env.Attached().Lt(cost) {
		return nil, newError(UnderfundedError, "storing %d bytes of code costs %s", size, cost.Dec())
	}

	u.env.Logger.Info("deploying upgrade", zap.String("code_hash", hex.EncodeToString(want[:])), zap.Int("size", len(args.Code)))
	promise := host.NewPromise(u.env.Current).
		DeployContract(args.Code).
		FunctionCall(MethodUpdateContractDone, UpdateContractDoneArgs{RefundTo: u.payer, Code: args.Code}, u.env.Attached(), u.env.PrepaidGas)
	return host.Then(promise), nil
}

// updateContractDone runs on the freshly deployed code and refunds what the deployment did not use.
func (p *Portal) updateContractDone(u *unit, args UpdateContractDoneArgs) (*host.Outcome, error) {
	if err := u.private(); err != nil {
		return nil, err
	}
	u.payer = args.RefundTo

	dep := newDeposit(u)
	before := dep.checkpoint()
	if err := u.txn.SetContractCode(args.Code); err != nil {
		return nil, internal(err)
	}
	if err := dep.charge(before, "contract code"); err != nil {
		return nil, err
	}
	u.env.Logger.Info("upgrade deployed", zap.Int64("storage_delta", int64(u.txn.Usage())-int64(before)), zap.String("refund", dep.left().Dec()))
	return host.Value(true).Detach(dep.refund()), nil
}
