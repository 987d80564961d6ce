package host

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	ErrAccountExists       = errors.New("account already exists")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoContract          = errors.New("account has no contract")
	ErrUnknownCode         = errors.New("unknown contract code")
	ErrContractPanic       = errors.New("contract panicked")
	ErrRunaway             = errors.New("execution exceeded the step limit")
	ErrViewScheduled       = errors.New("view call tried to schedule a promise")
)

// maxTasks bounds the number of steps a single submission may trigger.
const maxTasks = 10_000

var (
	stepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wormhole_portal_host_steps_total",
			Help: "Total number of promise steps executed by the host runtime",
		}, []string{"status"})
	submissionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wormhole_portal_host_submissions_total",
			Help: "Total number of external submissions executed",
		})
)

type account struct {
	balance  *uint256.Int
	keys     map[PublicKey]struct{}
	codeHash [32]byte
	contract Contract
}

func (a *account) clone() *account {
	c := &account{
		balance:  new(uint256.Int).Set(a.balance),
		keys:     make(map[PublicKey]struct{}, len(a.keys)),
		codeHash: a.codeHash,
		contract: a.contract,
	}
	for k := range a.keys {
		c.keys[k] = struct{}{}
	}
	return c
}

// Call is an external submission signed by Signer.
type Call struct {
	Signer   AccountID
	SignerPK PublicKey
	Receiver AccountID
	Method   string
	Args     any
	Deposit  *uint256.Int
	Gas      Gas
}

// Movement is a balance change between two accounts.
type Movement struct {
	From   AccountID
	To     AccountID
	Amount *uint256.Int
	// Deposit is set when the value was attached to a function call rather than sent by a transfer.
	Deposit bool
}

type StepReceipt struct {
	Predecessor AccountID
	Step        Step
	// Result is the step's own outcome. A call that returned a promise resolves later, its Value is nil here.
	Result *Result
}

// Receipt records everything a submission caused, in execution order.
type Receipt struct {
	Steps     []StepReceipt
	Movements []Movement
	// Result is the outcome of the submitted call, after any promise it returned resolved.
	Result *Result
}

func (rc *Receipt) Err() error {
	if rc.Result == nil {
		return errors.New("submission did not resolve")
	}
	return rc.Result.Err
}

// Calls returns the receipts of every function call to method, in execution order.
func (rc *Receipt) Calls(method string) []StepReceipt {
	var out []StepReceipt
	for _, s := range rc.Steps {
		for _, a := range s.Step.Actions {
			if fc, ok := a.(FunctionCall); ok && fc.Method == method {
				out = append(out, s)
			}
		}
	}
	return out
}

// Transfers returns the successful plain transfers, excluding deposits attached to calls.
func (rc *Receipt) Transfers() []Movement {
	var out []Movement
	for _, m := range rc.Movements {
		if !m.Deposit {
			out = append(out, m)
		}
	}
	return out
}

type submission struct {
	signer   AccountID
	signerPK PublicKey
	gas      Gas
	receipt  *Receipt
}

// Runtime is an in-memory host. It executes one submission at a time, running the submitted call and
// then every step that call scheduled, in FIFO order, until nothing is left.
type Runtime struct {
	logger *zap.Logger

	mu              sync.Mutex
	storageByteCost *uint256.Int
	height          uint64
	accounts        map[AccountID]*account
	codes           map[[32]byte]Factory
	queue           []func()
}

func NewRuntime(logger *zap.Logger, storageByteCost *uint256.Int) *Runtime {
	return &Runtime{
		logger:          logger,
		storageByteCost: new(uint256.Int).Set(balanceOrZero(storageByteCost)),
		accounts:        make(map[AccountID]*account),
		codes:           make(map[[32]byte]Factory),
	}
}

func (r *Runtime) StorageByteCost() *uint256.Int {
	return new(uint256.Int).Set(r.storageByteCost)
}

// CreateAccount adds a genesis account.
func (r *Runtime) CreateAccount(id AccountID, balance *uint256.Int, keys ...PublicKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[id]; exists {
		return fmt.Errorf("%s: %w", id, ErrAccountExists)
	}
	a := &account{balance: new(uint256.Int).Set(balanceOrZero(balance)), keys: make(map[PublicKey]struct{})}
	for _, k := range keys {
		a.keys[k] = struct{}{}
	}
	r.accounts[id] = a
	return nil
}

// Install attaches an already constructed contract to an existing account.
func (r *Runtime) Install(id AccountID, c Contract) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrAccountNotFound)
	}
	a.contract = c
	return nil
}

// RegisterCode makes code deployable. Deploying code that was never registered fails.
func (r *Runtime) RegisterCode(code []byte, f Factory) [32]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := sha256.Sum256(code)
	r.codes[h] = f
	return h
}

func (r *Runtime) HasAccount(id AccountID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.accounts[id]
	return ok
}

// Balance returns a copy of the account balance, zero for unknown accounts.
func (r *Runtime) Balance(id AccountID) *uint256.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		return new(uint256.Int).Set(a.balance)
	}
	return new(uint256.Int)
}

func (r *Runtime) HasKey(id AccountID, key PublicKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		_, found := a.keys[key]
		return found
	}
	return false
}

func (r *Runtime) CodeHash(id AccountID) ([32]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok && a.codeHash != [32]byte{} {
		return a.codeHash, true
	}
	return [32]byte{}, false
}

func (r *Runtime) Contract(id AccountID) (Contract, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok && a.contract != nil {
		return a.contract, true
	}
	return nil, false
}

func (r *Runtime) BlockHeight() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.height
}

// Execute runs a submission to quiescence. Contract failures are reported in the receipt, the returned
// error is reserved for the runtime itself.
func (r *Runtime) Execute(ctx context.Context, call Call) (*Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[call.Signer]; !ok {
		return nil, fmt.Errorf("signer %s: %w", call.Signer, ErrAccountNotFound)
	}

	r.height++
	submissionsTotal.Inc()
	rc := &Receipt{}
	sub := &submission{signer: call.Signer, signerPK: call.SignerPK, gas: call.Gas, receipt: rc}

	p := NewPromise(call.Receiver).FunctionCall(call.Method, call.Args, call.Deposit, call.Gas)
	r.schedule(sub, call.Signer, p, func(res *Result) { rc.Result = res })

	for n := 0; len(r.queue) > 0; n++ {
		if err := ctx.Err(); err != nil {
			r.queue = nil
			return rc, err
		}
		if n >= maxTasks {
			r.queue = nil
			return rc, ErrRunaway
		}
		task := r.queue[0]
		r.queue = r.queue[1:]
		task()
	}
	return rc, nil
}

// View runs a read-only call. Views see no predecessor and no deposit.
func (r *Runtime) View(ctx context.Context, receiver AccountID, method string, args any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[receiver]
	if !ok {
		return nil, fmt.Errorf("%s: %w", receiver, ErrAccountNotFound)
	}
	if a.contract == nil {
		return nil, fmt.Errorf("%s: %w", receiver, ErrNoContract)
	}
	env := &Env{
		Current:         receiver,
		AttachedDeposit: new(uint256.Int),
		BlockHeight:     r.height,
		StorageByteCost: new(uint256.Int).Set(r.storageByteCost),
		Logger:          r.logger.With(zap.Stringer("contract", receiver), zap.String("view", method)),
	}
	out, err := invoke(a.contract, env, method, args, nil)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	if out.Promise != nil || len(out.Detached) > 0 {
		return nil, ErrViewScheduled
	}
	return out.Value, nil
}

func (r *Runtime) enqueue(task func()) {
	r.queue = append(r.queue, task)
}

func (r *Runtime) schedule(sub *submission, predecessor AccountID, p *Promise, done func(*Result)) {
	steps := p.Steps
	r.enqueue(func() { r.runStep(sub, predecessor, steps, 0, nil, done) })
}

func (r *Runtime) detach(sub *submission, predecessor AccountID, promises []*Promise) {
	for _, p := range promises {
		if p != nil {
			r.schedule(sub, predecessor, p, func(*Result) {})
		}
	}
}

func (r *Runtime) runStep(sub *submission, predecessor AccountID, steps []Step, i int, prev *Result, done func(*Result)) {
	if i == len(steps) {
		done(prev)
		return
	}
	next := func(res *Result) {
		r.enqueue(func() { r.runStep(sub, predecessor, steps, i+1, res, done) })
	}
	r.applyStep(sub, predecessor, steps[i], prev, next)
}

// applyStep applies one batch. Non-call actions are all or nothing. A failing function call keeps the
// deposit attached to it, the callee is expected to return it through its failure outcome.
func (r *Runtime) applyStep(sub *submission, predecessor AccountID, step Step, prev *Result, next func(*Result)) {
	rc := sub.receipt
	logger := r.logger.With(zap.Stringer("predecessor", predecessor), zap.Stringer("receiver", step.Receiver))

	snapshot := r.snapshot(predecessor, step.Receiver)
	movements := len(rc.Movements)

	fail := func(err error) {
		r.restore(snapshot)
		rc.Movements = rc.Movements[:movements]
		res := &Result{Err: err}
		rc.Steps = append(rc.Steps, StepReceipt{Predecessor: predecessor, Step: step, Result: res})
		stepsExecuted.WithLabelValues("failed").Inc()
		logger.Debug("step failed", zap.Stringer("step", step), zap.Error(err))
		next(res)
	}

	for n, action := range step.Actions {
		switch a := action.(type) {
		case CreateAccount:
			if _, exists := r.accounts[step.Receiver]; exists {
				fail(fmt.Errorf("%s: %w", step.Receiver, ErrAccountExists))
				return
			}
			r.accounts[step.Receiver] = &account{balance: new(uint256.Int), keys: make(map[PublicKey]struct{})}

		case Transfer:
			if err := r.move(predecessor, step.Receiver, a.Amount); err != nil {
				fail(err)
				return
			}
			rc.Movements = append(rc.Movements, Movement{From: predecessor, To: step.Receiver, Amount: new(uint256.Int).Set(a.Amount)})

		case AddFullAccessKey:
			acc, ok := r.accounts[step.Receiver]
			if !ok {
				fail(fmt.Errorf("%s: %w", step.Receiver, ErrAccountNotFound))
				return
			}
			acc.keys[a.Key] = struct{}{}

		case DeployContract:
			acc, ok := r.accounts[step.Receiver]
			if !ok {
				fail(fmt.Errorf("%s: %w", step.Receiver, ErrAccountNotFound))
				return
			}
			h := sha256.Sum256(a.Code)
			factory, known := r.codes[h]
			if !known {
				fail(fmt.Errorf("%x: %w", h, ErrUnknownCode))
				return
			}
			c, err := factory(step.Receiver)
			if err != nil {
				fail(fmt.Errorf("instantiate %s: %w", step.Receiver, err))
				return
			}
			acc.codeHash = h
			acc.contract = c

		case FunctionCall:
			if n != len(step.Actions)-1 {
				fail(errors.New("function call must be the last action of a step"))
				return
			}
			r.call(sub, predecessor, step, a, prev, snapshot, movements, next)
			return

		default:
			fail(fmt.Errorf("unsupported action %T", action))
			return
		}
	}

	res := &Result{}
	rc.Steps = append(rc.Steps, StepReceipt{Predecessor: predecessor, Step: step, Result: res})
	stepsExecuted.WithLabelValues("ok").Inc()
	next(res)
}

func (r *Runtime) call(sub *submission, predecessor AccountID, step Step, fc FunctionCall, prev *Result, snapshot map[AccountID]*account, movements int, next func(*Result)) {
	rc := sub.receipt
	deposit := balanceOrZero(fc.Deposit)

	record := func(res *Result) {
		rc.Steps = append(rc.Steps, StepReceipt{Predecessor: predecessor, Step: step, Result: res})
	}
	abort := func(err error) {
		r.restore(snapshot)
		rc.Movements = rc.Movements[:movements]
		res := &Result{Err: err}
		record(res)
		stepsExecuted.WithLabelValues("failed").Inc()
		next(res)
	}

	acc, ok := r.accounts[step.Receiver]
	if !ok {
		abort(fmt.Errorf("%s: %w", step.Receiver, ErrAccountNotFound))
		return
	}
	if acc.contract == nil {
		abort(fmt.Errorf("%s: %w", step.Receiver, ErrNoContract))
		return
	}
	if err := r.move(predecessor, step.Receiver, deposit); err != nil {
		abort(err)
		return
	}
	depositMove := Movement{From: predecessor, To: step.Receiver, Amount: new(uint256.Int).Set(deposit), Deposit: true}
	if !deposit.IsZero() {
		rc.Movements = append(rc.Movements, depositMove)
	}

	gas := fc.Gas
	if gas == 0 {
		gas = sub.gas
	}
	env := &Env{
		Current:         step.Receiver,
		Predecessor:     predecessor,
		Signer:          sub.signer,
		SignerPK:        sub.signerPK,
		AttachedDeposit: new(uint256.Int).Set(deposit),
		PrepaidGas:      gas,
		BlockHeight:     r.height,
		StorageByteCost: new(uint256.Int).Set(r.storageByteCost),
		Logger:          r.logger.With(zap.Stringer("contract", step.Receiver), zap.String("method", fc.Method)),
	}

	out, err := invoke(acc.contract, env, fc.Method, fc.Args, prev)
	if err != nil {
		// Undo the rest of the batch but leave the deposit with the callee.
		r.restore(snapshot)
		rc.Movements = rc.Movements[:movements]
		if moveErr := r.move(predecessor, step.Receiver, deposit); moveErr != nil {
			r.logger.Error("failed to re-apply deposit of a failed call", zap.Error(moveErr))
		} else if !deposit.IsZero() {
			rc.Movements = append(rc.Movements, depositMove)
		}

		res := &Result{Err: err}
		record(res)
		stepsExecuted.WithLabelValues("failed").Inc()
		env.Logger.Info("call failed", zap.Error(err))
		if out != nil {
			r.detach(sub, step.Receiver, out.Detached)
		}
		next(res)
		return
	}

	stepsExecuted.WithLabelValues("ok").Inc()
	if out != nil {
		r.detach(sub, step.Receiver, out.Detached)
	}
	if out != nil && out.Promise != nil {
		record(&Result{})
		r.schedule(sub, step.Receiver, out.Promise, next)
		return
	}
	res := &Result{}
	if out != nil {
		res.Value = out.Value
	}
	record(res)
	next(res)
}

// invoke turns a contract panic into a failed call, like the host aborting the unit of execution.
func invoke(c Contract, env *Env, method string, args any, prev *Result) (out *Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrContractPanic, p)
		}
	}()
	return c.Call(env, method, args, prev)
}

func (r *Runtime) move(from, to AccountID, amount *uint256.Int) error {
	src, ok := r.accounts[from]
	if !ok {
		return fmt.Errorf("%s: %w", from, ErrAccountNotFound)
	}
	dst, ok := r.accounts[to]
	if !ok {
		return fmt.Errorf("%s: %w", to, ErrAccountNotFound)
	}
	if amount.IsZero() {
		return nil
	}
	if src.balance.Lt(amount) {
		return fmt.Errorf("%s has %s, needs %s: %w", from, src.balance.Dec(), amount.Dec(), ErrInsufficientBalance)
	}
	src.balance.Sub(src.balance, amount)
	dst.balance.Add(dst.balance, amount)
	return nil
}

// snapshot copies the accounts a step can touch. A nil entry records that the account did not exist.
func (r *Runtime) snapshot(ids ...AccountID) map[AccountID]*account {
	s := make(map[AccountID]*account, len(ids))
	for _, id := range ids {
		if a, ok := r.accounts[id]; ok {
			s[id] = a.clone()
		} else {
			s[id] = nil
		}
	}
	return s
}

func (r *Runtime) restore(s map[AccountID]*account) {
	for id, a := range s {
		if a == nil {
			delete(r.accounts, id)
			continue
		}
		r.accounts[id] = a.clone()
	}
}
