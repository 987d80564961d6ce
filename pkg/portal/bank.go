package portal

import (
	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// The bank holds native balance an account prepaid for message fees of token transfers, which carry no
// deposit of their own.

func (p *Portal) registerBank(u *unit, _ any) (*host.Outcome, error) {
	account := u.env.Predecessor
	_, registered, err := u.txn.GetBank(account)
	if err != nil {
		return nil, internal(err)
	}
	if registered {
		return host.Value(true).Detach(refundRest(u, nil)), nil
	}

	dep := newDeposit(u)
	before := dep.checkpoint()
	if err := u.txn.PutBank(account, new(uint256.Int)); err != nil {
		return nil, internal(err)
	}
	if err := dep.charge(before, "bank"); err != nil {
		return nil, err
	}
	u.env.Logger.Info("bank registered", zap.Stringer("account", account))
	return host.Value(true).Detach(dep.refund()), nil
}

func (p *Portal) fillBank(u *unit, _ any) (*host.Outcome, error) {
	account := u.env.Predecessor
	attached := u.env.Attached()
	if attached.IsZero() {
		return nil, newError(FormatError, "nothing attached to fill the bank with")
	}
	balance, registered, err := u.txn.GetBank(account)
	if err != nil {
		return nil, internal(err)
	}
	if !registered {
		return nil, newError(UnknownAssetError, "%s has no bank", account)
	}
	if _, overflow := balance.AddOverflow(balance, attached); overflow {
		return nil, newError(FormatError, "bank balance overflows")
	}
	if err := u.txn.PutBank(account, balance); err != nil {
		return nil, internal(err)
	}
	return host.Value(balance), nil
}

// drainBank sends the whole bank balance back to its owner. The 1 yocto deposit proves a full access key signed.
func (p *Portal) drainBank(u *unit, _ any) (*host.Outcome, error) {
	account := u.env.Predecessor
	if !u.env.Attached().Eq(host.OneYocto) {
		return nil, newError(AuthorizationError, "drain_bank requires exactly one yocto attached")
	}
	balance, registered, err := u.txn.GetBank(account)
	if err != nil {
		return nil, internal(err)
	}
	if !registered {
		return nil, newError(UnknownAssetError, "%s has no bank", account)
	}
	if err := u.txn.PutBank(account, new(uint256.Int)); err != nil {
		return nil, internal(err)
	}
	total := new(uint256.Int).Add(balance, host.OneYocto)
	u.env.Logger.Info("bank drained", zap.Stringer("account", account), zap.String("amount", balance.Dec()))
	return host.Value(balance).Detach(host.NewPromise(account).Transfer(total)), nil
}

func (p *Portal) bankBalance(u *unit, args BankBalanceArgs) (*host.Outcome, error) {
	account := args.Account
	if account == "" {
		account = u.env.Predecessor
	}
	balance, registered, err := u.txn.GetBank(account)
	if err != nil {
		return nil, internal(err)
	}
	return host.Value(BankBalance{Registered: registered, Balance: balance}), nil
}
