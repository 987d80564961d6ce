package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func throwNil(ctx context.Context) error {
	var x *int = nil
	*x = 5
	return nil
}

func TestRunWithScissorsCatchesPanic(t *testing.T) {
	errC := make(chan error, 1)
	RunWithScissors(context.Background(), errC, "executor", throwNil)

	select {
	case err := <-errC:
		assert.EqualError(t, err, "executor: runtime error: invalid memory address or nil pointer dereference")
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported")
	}
}

func TestRunWithScissorsReportsError(t *testing.T) {
	errBoom := errors.New("boom")
	errC := make(chan error, 1)
	RunWithScissors(context.Background(), errC, "api", func(context.Context) error { return errBoom })

	err := <-errC
	assert.ErrorIs(t, err, errBoom)
	assert.EqualError(t, err, "api: boom")
}

func TestRunWithScissorsCleanExit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error, 1)
	done := make(chan struct{})
	RunWithScissors(ctx, errC, "idle", func(ctx context.Context) error {
		defer close(done)
		<-ctx.Done()
		return nil
	})
	cancel()
	<-done
	assert.Empty(t, errC)
}

func TestWrapWithScissors(t *testing.T) {
	err := WrapWithScissors("wrapped", throwNil)(context.Background())
	require.Error(t, err)
	assert.EqualError(t, err, "wrapped: runtime error: invalid memory address or nil pointer dereference")
}
