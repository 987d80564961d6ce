package host

import (
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Contract is code deployed to an account. Call runs one unit of execution: it must not block and
// everything it wants to happen in other accounts goes into the returned Outcome's Promise.
//
// prev is the result of the preceding step when the call is a link of a chain, nil otherwise.
type Contract interface {
	Call(env *Env, method string, args any, prev *Result) (*Outcome, error)
}

// Factory instantiates the contract behind a piece of deployable code for the account it is deployed to.
type Factory func(account AccountID) (Contract, error)

// Env describes the unit of execution a contract call runs in.
type Env struct {
	Current     AccountID
	Predecessor AccountID
	Signer      AccountID
	SignerPK    PublicKey

	AttachedDeposit *uint256.Int
	PrepaidGas      Gas
	BlockHeight     uint64
	StorageByteCost *uint256.Int

	Logger *zap.Logger
}

// Attached returns a copy of the attached deposit.
func (e *Env) Attached() *uint256.Int {
	return new(uint256.Int).Set(balanceOrZero(e.AttachedDeposit))
}

// ByteCost returns a copy of the storage byte cost.
func (e *Env) ByteCost() *uint256.Int {
	return new(uint256.Int).Set(balanceOrZero(e.StorageByteCost))
}

// IsPrivateCall reports whether the call was made by the contract to itself, which is how callbacks are invoked.
func (e *Env) IsPrivateCall() bool {
	return e.Predecessor == e.Current
}
