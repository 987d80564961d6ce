package node

import (
	"context"

	"github.com/certusone/wormhole/portal/pkg/host"
)

type execution struct {
	call  host.Call
	reply chan executionResult
}

type executionResult struct {
	receipt *host.Receipt
	err     error
}

// executor feeds submissions to the runtime one at a time from a single goroutine.
type executor struct {
	rt *host.Runtime
	c  chan *execution
}

func newExecutor(rt *host.Runtime) *executor {
	return &executor{rt: rt, c: make(chan *execution)}
}

func (e *executor) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case x := <-e.c:
			rc, err := e.rt.Execute(ctx, x.call)
			x.reply <- executionResult{receipt: rc, err: err}
		}
	}
}

// execute blocks until the submission ran to quiescence or ctx is done.
func (e *executor) execute(ctx context.Context, call host.Call) (*host.Receipt, error) {
	x := &execution{call: call, reply: make(chan executionResult, 1)}
	select {
	case e.c <- x:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-x.reply:
		return res.receipt, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
