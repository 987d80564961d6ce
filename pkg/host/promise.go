package host

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Action is one operation of a Step, applied to the step's receiver.
type Action interface {
	String() string
}

type (
	Transfer struct {
		Amount *uint256.Int
	}

	FunctionCall struct {
		Method  string
		Args    any
		Deposit *uint256.Int
		Gas     Gas
	}

	CreateAccount struct{}

	AddFullAccessKey struct {
		Key PublicKey
	}

	DeployContract struct {
		Code []byte
	}
)

func (t Transfer) String() string {
	return fmt.Sprintf("transfer(%s)", balanceOrZero(t.Amount).Dec())
}

func (f FunctionCall) String() string {
	return fmt.Sprintf("call(%s, deposit=%s)", f.Method, balanceOrZero(f.Deposit).Dec())
}

func (CreateAccount) String() string {
	return "create_account"
}

func (k AddFullAccessKey) String() string {
	return fmt.Sprintf("add_full_access_key(%s)", k.Key)
}

func (d DeployContract) String() string {
	return fmt.Sprintf("deploy_contract(%d bytes)", len(d.Code))
}

// Step is a batch of actions against a single receiver. The batch is all or nothing.
type Step struct {
	Receiver AccountID
	Actions  []Action
}

func (s Step) String() string {
	parts := make([]string, len(s.Actions))
	for i, a := range s.Actions {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s: %s", s.Receiver, strings.Join(parts, ", "))
}

// Promise is an ordered chain of steps. Each step starts only after its predecessor finished and observes
// the predecessor's Result. Nothing in a promise runs while the unit that created it is still executing.
type Promise struct {
	Steps []Step
}

// NewPromise starts a chain whose first step targets receiver.
func NewPromise(receiver AccountID) *Promise {
	return &Promise{Steps: []Step{{Receiver: receiver}}}
}

func (p *Promise) last() *Step {
	return &p.Steps[len(p.Steps)-1]
}

func (p *Promise) add(a Action) *Promise {
	s := p.last()
	s.Actions = append(s.Actions, a)
	return p
}

func (p *Promise) Transfer(amount *uint256.Int) *Promise {
	return p.add(Transfer{Amount: new(uint256.Int).Set(balanceOrZero(amount))})
}

func (p *Promise) FunctionCall(method string, args any, deposit *uint256.Int, gas Gas) *Promise {
	return p.add(FunctionCall{Method: method, Args: args, Deposit: new(uint256.Int).Set(balanceOrZero(deposit)), Gas: gas})
}

func (p *Promise) CreateAccount() *Promise {
	return p.add(CreateAccount{})
}

func (p *Promise) AddFullAccessKey(key PublicKey) *Promise {
	return p.add(AddFullAccessKey{Key: key})
}

func (p *Promise) DeployContract(code []byte) *Promise {
	return p.add(DeployContract{Code: code})
}

// Then appends next to the chain. A nil next leaves the chain unchanged.
func (p *Promise) Then(next *Promise) *Promise {
	if next == nil {
		return p
	}
	p.Steps = append(p.Steps, next.Steps...)
	return p
}

// Result is the observed outcome of a finished step.
type Result struct {
	Value any
	Err   error
}

func (r *Result) Failed() bool {
	return r == nil || r.Err != nil
}

// Outcome is what a contract call hands back to the runtime.
//
// A returned Promise becomes the call's result once it resolves, otherwise Value is the result.
// Detached promises run on their own and do not affect the result. They are the only part of an
// Outcome that is still scheduled when the call fails, which is how a failing call refunds what was
// attached to it.
type Outcome struct {
	Value    any
	Promise  *Promise
	Detached []*Promise
}

func Value(v any) *Outcome {
	return &Outcome{Value: v}
}

func Then(p *Promise) *Outcome {
	return &Outcome{Promise: p}
}

// Detach adds an independent promise to the outcome. A nil promise is ignored.
func (o *Outcome) Detach(p *Promise) *Outcome {
	if p != nil {
		o.Detached = append(o.Detached, p)
	}
	return o
}

// Refund is the outcome of a call that gives amount back to account and produces nothing else.
// It is nil when there is nothing to refund.
func Refund(account AccountID, amount *uint256.Int) *Outcome {
	if amount == nil || amount.IsZero() {
		return nil
	}
	return (&Outcome{}).Detach(NewPromise(account).Transfer(amount))
}
