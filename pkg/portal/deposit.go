package portal

import (
	"github.com/certusone/wormhole/portal/pkg/db"
	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// deposit tracks what is left of an attached deposit while a unit spends it on storage and fixed costs.
// Whatever remains at the end is refunded to payer.
type deposit struct {
	logger    *zap.Logger
	txn       *db.Txn
	payer     host.AccountID
	byteCost  *uint256.Int
	remaining *uint256.Int
}

func newDeposit(u *unit) *deposit {
	return &deposit{
		logger:    u.env.Logger,
		txn:       u.txn,
		payer:     u.payer,
		byteCost:  u.env.ByteCost(),
		remaining: u.env.Attached(),
	}
}

// checkpoint is taken before a group of writes that is charged as one.
func (d *deposit) checkpoint() uint64 {
	return d.txn.Usage()
}

// charge pays for the storage written since before. Freed storage is not credited.
func (d *deposit) charge(before uint64, what string) error {
	after := d.txn.Usage()
	if after <= before {
		return nil
	}
	delta := after - before
	cost, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(delta), d.byteCost)
	if overflow {
		return newError(UnderfundedError, "storage cost of %s overflows", what)
	}
	if err := d.spend(cost, what); err != nil {
		return err
	}
	storageCharged.Add(float64(delta))
	d.logger.Debug("charged storage", zap.String("for", what), zap.Uint64("bytes", delta), zap.String("cost", cost.Dec()))
	return nil
}

// spend takes a fixed amount out of the deposit.
func (d *deposit) spend(amount *uint256.Int, what string) error {
	if d.remaining.Lt(amount) {
		return newError(UnderfundedError, "%s costs %s but only %s is left", what, amount.Dec(), d.remaining.Dec())
	}
	d.remaining.Sub(d.remaining, amount)
	return nil
}

func (d *deposit) left() *uint256.Int {
	return new(uint256.Int).Set(d.remaining)
}

// refund returns a promise giving the rest of the deposit back, nil when nothing is left.
func (d *deposit) refund() *host.Promise {
	if d.remaining.IsZero() {
		return nil
	}
	return host.NewPromise(d.payer).Transfer(d.remaining)
}

// finish appends the refund to p as its last link and returns the outcome of the unit.
// With nothing scheduled and nothing to refund the unit resolves to value.
func (d *deposit) finish(p *host.Promise, value any) *host.Outcome {
	r := d.refund()
	switch {
	case p == nil && r == nil:
		return host.Value(value)
	case p == nil:
		return host.Then(r)
	default:
		return host.Then(p.Then(r))
	}
}
