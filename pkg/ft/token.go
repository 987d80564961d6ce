// Package ft implements the fungible token contract the portal deploys for every wrapped asset, and that
// local tokens expose to the portal.
package ft

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/certusone/wormhole/portal/pkg/tokenbridge"
	"github.com/holiman/uint256"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

// MetadataSpec is the metadata version reported by ft_metadata.
const MetadataSpec = "ft-1.0.0"

// Code identifies the wrapped token contract when it is deployed.
var Code = []byte("wormhole portal wrapped fungible token v1")

const (
	MethodNew             = "new"
	MethodUpdate          = "update_ft"
	MethodTransfer        = "ft_transfer"
	MethodTransferCall    = "ft_transfer_call"
	MethodResolveTransfer = "ft_resolve_transfer"
	MethodOnTransfer      = "ft_on_transfer"
	MethodMetadata        = "ft_metadata"
	MethodBalanceOf       = "ft_balance_of"
	MethodTotalSupply     = "ft_total_supply"
	MethodMint            = "mint"
	MethodWithdraw        = "vaa_withdraw"
)

var (
	ErrNotController      = errors.New("caller does not control the token")
	ErrNotInitialized     = errors.New("token not initialized")
	ErrAlreadyInitialized = errors.New("token already initialized")
	ErrNotParent          = errors.New("token must be created by its parent account")
	ErrStaleUpdate        = errors.New("metadata update is older than the current one")
	ErrOneYocto           = errors.New("requires attached deposit of exactly 1 yocto")
	ErrInsufficientFunds  = errors.New("insufficient token balance")
	ErrZeroAmount         = errors.New("amount must be positive")
	ErrBadArgs            = errors.New("unexpected arguments")
	ErrUnknownMethod      = errors.New("unknown method")
	ErrFeeExceedsAmount   = errors.New("fee exceeds amount")
)

type Metadata struct {
	Spec          string
	Name          string
	Symbol        string
	Icon          string
	Reference     string
	ReferenceHash []byte
	Decimals      uint8
}

type (
	// InitArgs initializes or refreshes a wrapped token. AssetMeta is the raw asset meta body and Sequence
	// the sequence of the attestation it came from.
	InitArgs struct {
		Metadata  Metadata
		AssetMeta []byte
		Sequence  uint64
	}

	TransferArgs struct {
		Receiver host.AccountID
		Amount   *uint256.Int
		Memo     string
	}

	TransferCallArgs struct {
		Receiver host.AccountID
		Amount   *uint256.Int
		Memo     string
		Msg      string
	}

	// OnTransferArgs is what the receiver of ft_transfer_call is called with. The receiver resolves to the
	// amount it did not use, which is returned to the sender.
	OnTransferArgs struct {
		Sender host.AccountID
		Amount *uint256.Int
		Msg    string
	}

	MintArgs struct {
		Receiver host.AccountID
		Amount   *uint256.Int
	}

	// WithdrawArgs burns tokens of From and asks for the transfer payload that carries them to Chain.
	WithdrawArgs struct {
		From     host.AccountID
		Amount   *uint256.Int
		Receiver string
		Chain    vaa.ChainID
		Fee      *uint256.Int
		Payload  string
	}

	BalanceOfArgs struct {
		Account host.AccountID
	}

	resolveArgs struct {
		Sender   host.AccountID
		Receiver host.AccountID
		Amount   *uint256.Int
	}
)

// Token is a fungible token ledger. Every state change validates first and mutates last, so a failed call
// leaves the ledger untouched.
type Token struct {
	logger  *zap.Logger
	account host.AccountID

	mu          sync.Mutex
	initialized bool
	controller  host.AccountID
	metadata    Metadata
	assetMeta   []byte
	sequence    uint64
	balances    map[host.AccountID]*uint256.Int
	supply      *uint256.Int
}

// New returns an uninitialized token for account. It is initialized by its parent calling "new".
func New(logger *zap.Logger, account host.AccountID) *Token {
	return &Token{
		logger:   logger.With(zap.Stringer("token", account)),
		account:  account,
		balances: make(map[host.AccountID]*uint256.Int),
		supply:   new(uint256.Int),
	}
}

// NewLocal returns an initialized token without a controller, with supply credited to owner.
func NewLocal(logger *zap.Logger, account host.AccountID, md Metadata, owner host.AccountID, supply *uint256.Int) *Token {
	t := New(logger, account)
	t.initialized = true
	t.metadata = md
	t.balances[owner] = new(uint256.Int).Set(supply)
	t.supply.Set(supply)
	return t
}

// Factory instantiates the wrapped token contract for Code.
func Factory(logger *zap.Logger) host.Factory {
	return func(account host.AccountID) (host.Contract, error) {
		return New(logger, account), nil
	}
}

func argsAs[T any](args any) (T, error) {
	v, ok := args.(T)
	if !ok && args != nil {
		return v, fmt.Errorf("%w: %T", ErrBadArgs, args)
	}
	return v, nil
}

// abort returns whatever was attached to the caller.
func abort(env *host.Env, err error) (*host.Outcome, error) {
	return host.Refund(env.Predecessor, env.Attached()), err
}

func (t *Token) Call(env *host.Env, method string, args any, prev *host.Result) (*host.Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		out *host.Outcome
		err error
	)
	switch method {
	case MethodNew:
		out, err = call(env, args, t.initialize)
	case MethodUpdate:
		out, err = call(env, args, t.update)
	case MethodTransfer:
		out, err = call(env, args, t.transfer)
	case MethodTransferCall:
		out, err = call(env, args, t.transferCall)
	case MethodResolveTransfer:
		a, aerr := argsAs[resolveArgs](args)
		if aerr != nil {
			return abort(env, aerr)
		}
		out, err = t.resolveTransfer(env, a, prev)
	case MethodMetadata:
		if !t.initialized {
			return abort(env, ErrNotInitialized)
		}
		return host.Value(t.metadata), nil
	case MethodBalanceOf:
		a, aerr := argsAs[BalanceOfArgs](args)
		if aerr != nil {
			return abort(env, aerr)
		}
		return host.Value(t.balanceOf(a.Account)), nil
	case MethodTotalSupply:
		return host.Value(new(uint256.Int).Set(t.supply)), nil
	case MethodMint:
		out, err = call(env, args, t.mint)
	case MethodWithdraw:
		out, err = call(env, args, t.withdraw)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	if err != nil {
		return abort(env, err)
	}
	return out, nil
}

func call[T any](env *host.Env, args any, f func(*host.Env, T) (*host.Outcome, error)) (*host.Outcome, error) {
	a, err := argsAs[T](args)
	if err != nil {
		return nil, err
	}
	return f(env, a)
}

func (t *Token) balanceOf(account host.AccountID) *uint256.Int {
	if b, ok := t.balances[account]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (t *Token) requireController(env *host.Env) error {
	if !t.initialized {
		return ErrNotInitialized
	}
	if t.controller == "" || env.Predecessor != t.controller {
		return fmt.Errorf("%w: %s", ErrNotController, env.Predecessor)
	}
	return nil
}

func (t *Token) initialize(env *host.Env, a InitArgs) (*host.Outcome, error) {
	if t.initialized {
		return nil, ErrAlreadyInitialized
	}
	if !t.account.IsSubAccountOf(env.Predecessor) {
		return nil, fmt.Errorf("%w: %s", ErrNotParent, env.Predecessor)
	}
	t.initialized = true
	t.controller = env.Predecessor
	t.metadata = a.Metadata
	t.assetMeta = append([]byte(nil), a.AssetMeta...)
	t.sequence = a.Sequence
	t.logger.Info("token initialized", zap.String("symbol", a.Metadata.Symbol), zap.Uint8("decimals", a.Metadata.Decimals))
	return host.Value(true), nil
}

func (t *Token) update(env *host.Env, a InitArgs) (*host.Outcome, error) {
	if err := t.requireController(env); err != nil {
		return nil, err
	}
	if a.Sequence <= t.sequence {
		return nil, fmt.Errorf("%w: %d <= %d", ErrStaleUpdate, a.Sequence, t.sequence)
	}
	t.metadata = a.Metadata
	t.assetMeta = append([]byte(nil), a.AssetMeta...)
	t.sequence = a.Sequence
	return host.Value(true), nil
}

// move shifts amount between two holders. It fails without touching balances.
func (t *Token) move(from, to host.AccountID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	src := t.balanceOf(from)
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from, src.Dec(), amount.Dec())
	}
	t.balances[from] = src.Sub(src, amount)
	dst := t.balanceOf(to)
	t.balances[to] = dst.Add(dst, amount)
	return nil
}

func (t *Token) transfer(env *host.Env, a TransferArgs) (*host.Outcome, error) {
	if !t.initialized {
		return nil, ErrNotInitialized
	}
	if !env.Attached().Eq(host.OneYocto) {
		return nil, ErrOneYocto
	}
	if err := t.move(env.Predecessor, a.Receiver, a.Amount); err != nil {
		return nil, err
	}
	return host.Value(true), nil
}

func (t *Token) transferCall(env *host.Env, a TransferCallArgs) (*host.Outcome, error) {
	if !t.initialized {
		return nil, ErrNotInitialized
	}
	if !env.Attached().Eq(host.OneYocto) {
		return nil, ErrOneYocto
	}
	if err := t.move(env.Predecessor, a.Receiver, a.Amount); err != nil {
		return nil, err
	}
	p := host.NewPromise(a.Receiver).
		FunctionCall(MethodOnTransfer, OnTransferArgs{Sender: env.Predecessor, Amount: new(uint256.Int).Set(a.Amount), Msg: a.Msg}, nil, env.PrepaidGas).
		Then(host.NewPromise(env.Current).
			FunctionCall(MethodResolveTransfer, resolveArgs{Sender: env.Predecessor, Receiver: a.Receiver, Amount: new(uint256.Int).Set(a.Amount)}, nil, env.PrepaidGas))
	return host.Then(p), nil
}

// resolveTransfer returns the unused part of a transfer call to the sender, bounded by what the receiver
// still holds. It resolves to the amount that stayed with the receiver.
func (t *Token) resolveTransfer(env *host.Env, a resolveArgs, prev *host.Result) (*host.Outcome, error) {
	if !env.IsPrivateCall() {
		return nil, fmt.Errorf("%w: %s", ErrNotController, env.Predecessor)
	}
	unused := new(uint256.Int).Set(a.Amount)
	if !prev.Failed() {
		if v, ok := prev.Value.(*uint256.Int); ok && v.Lt(a.Amount) {
			unused.Set(v)
		}
	}
	if held := t.balanceOf(a.Receiver); held.Lt(unused) {
		unused = held
	}
	if !unused.IsZero() {
		if err := t.move(a.Receiver, a.Sender, unused); err != nil {
			return nil, err
		}
		t.logger.Debug("transfer call refunded", zap.Stringer("sender", a.Sender), zap.String("amount", unused.Dec()))
	}
	return host.Value(new(uint256.Int).Sub(a.Amount, unused)), nil
}

func (t *Token) mint(env *host.Env, a MintArgs) (*host.Outcome, error) {
	if err := t.requireController(env); err != nil {
		return nil, err
	}
	if a.Amount == nil || a.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	supply, overflow := new(uint256.Int).AddOverflow(t.supply, a.Amount)
	if overflow {
		return nil, errors.New("supply overflow")
	}
	bal := t.balanceOf(a.Receiver)
	t.balances[a.Receiver] = bal.Add(bal, a.Amount)
	t.supply = supply
	return host.Value(true), nil
}

// withdraw burns tokens of a holder and returns the hex encoded transfer payload moving them back out.
func (t *Token) withdraw(env *host.Env, a WithdrawArgs) (*host.Outcome, error) {
	if err := t.requireController(env); err != nil {
		return nil, err
	}
	if a.Amount == nil || a.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	fee := a.Fee
	if fee == nil {
		fee = new(uint256.Int)
	}
	if fee.Gt(a.Amount) {
		return nil, ErrFeeExceedsAmount
	}
	meta, err := tokenbridge.DecodeAssetMetaBody(t.assetMeta)
	if err != nil {
		return nil, err
	}
	recipient, err := tokenbridge.LeftPadAddress(a.Receiver)
	if err != nil {
		return nil, err
	}
	tr := &tokenbridge.Transfer{
		PayloadID:      tokenbridge.PayloadTransfer,
		Amount:         a.Amount,
		TokenAddress:   meta.TokenAddress,
		TokenChain:     meta.TokenChain,
		Recipient:      recipient,
		RecipientChain: a.Chain,
		Fee:            fee,
	}
	if a.Payload != "" {
		body, err := hex.DecodeString(a.Payload)
		if err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		tr.PayloadID = tokenbridge.PayloadTransferWithPayload
		tr.FromAddress = tokenbridge.AccountHash(string(a.From))
		tr.Payload = body
	}

	bal := t.balanceOf(a.From)
	if bal.Lt(a.Amount) {
		return nil, fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, a.From, bal.Dec(), a.Amount.Dec())
	}
	t.balances[a.From] = bal.Sub(bal, a.Amount)
	t.supply = new(uint256.Int).Sub(t.supply, a.Amount)
	t.logger.Info("burned for withdrawal", zap.Stringer("from", a.From), zap.String("amount", a.Amount.Dec()), zap.Stringer("chain", a.Chain))
	return host.Value(hex.EncodeToString(tr.Serialize())), nil
}
