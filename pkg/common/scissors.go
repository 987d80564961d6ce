// Package common holds process plumbing shared by the portald commands.
package common

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScissorsErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wormhole_portal_scissor_errors_caught",
			Help: "Total number of unhandled errors caught",
		})
)

// Runnable is a long running part of the node. It returns when ctx is canceled or it fails.
type Runnable func(ctx context.Context) error

// RunWithScissors starts runnable in a goroutine. A panic is turned into an error on errC instead of
// taking the process down.
func RunWithScissors(ctx context.Context, errC chan error, name string, runnable Runnable) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errC <- panicError(name, r)
				ScissorsErrors.Inc()
			}
		}()
		if err := runnable(ctx); err != nil {
			errC <- fmt.Errorf("%s: %w", name, err)
		}
	}()
}

func panicError(name string, r any) error {
	switch x := r.(type) {
	case error:
		return fmt.Errorf("%s: %w", name, x)
	default:
		return fmt.Errorf("%s: %v", name, x)
	}
}

// WrapWithScissors returns runnable with panics converted to errors.
func WrapWithScissors(name string, runnable Runnable) Runnable {
	return func(ctx context.Context) (result error) {
		defer func() {
			if r := recover(); r != nil {
				result = panicError(name, r)
				ScissorsErrors.Inc()
			}
		}()
		return runnable(ctx)
	}
}
