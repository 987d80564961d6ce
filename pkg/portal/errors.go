package portal

import (
	"errors"
	"fmt"

	"github.com/certusone/wormhole/portal/pkg/host"
	"go.uber.org/zap"
)

// Kind classifies why a portal call was rejected.
type Kind int

const (
	FormatError Kind = iota + 1
	ReplayError
	AuthorizationError
	UnderfundedError
	UnknownAssetError
	UnimplementedError
	ChainedFailure
	InternalError
)

func (k Kind) String() string {
	switch k {
	case FormatError:
		return "format"
	case ReplayError:
		return "replay"
	case AuthorizationError:
		return "authorization"
	case UnderfundedError:
		return "underfunded"
	case UnknownAssetError:
		return "unknown_asset"
	case UnimplementedError:
		return "unimplemented"
	case ChainedFailure:
		return "chained_failure"
	case InternalError:
		return "internal"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is returned by every rejected portal call.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("portal %s error: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("portal %s error: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind that carries no reason, so errors.Is(err, ErrReplay) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrFormat         = &Error{Kind: FormatError}
	ErrReplay         = &Error{Kind: ReplayError}
	ErrAuthorization  = &Error{Kind: AuthorizationError}
	ErrUnderfunded    = &Error{Kind: UnderfundedError}
	ErrUnknownAsset   = &Error{Kind: UnknownAssetError}
	ErrUnimplemented  = &Error{Kind: UnimplementedError}
	ErrChainedFailure = &Error{Kind: ChainedFailure}
	ErrInternal       = &Error{Kind: InternalError}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of a portal error, InternalError for anything else.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return InternalError
}

// refundAndAbort is the single boundary every failing call goes through: the state of the call is
// discarded by the caller, and everything that was attached goes back to payer.
func refundAndAbort(env *host.Env, payer host.AccountID, err error) (*host.Outcome, error) {
	kind := KindOf(err)
	callsRejected.WithLabelValues(kind.String()).Inc()

	attached := env.Attached()
	env.Logger.Info("portal call rejected",
		zap.Stringer("kind", kind),
		zap.Error(err),
		zap.Stringer("refund_to", payer),
		zap.String("refund", attached.Dec()),
	)
	if payer == "" {
		return nil, err
	}
	return host.Refund(payer, attached), err
}
