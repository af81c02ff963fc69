package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunWaitsForAll(t *testing.T) {
	t.Parallel()
	var first, second bool
	err := Run(context.Background(), func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		first = true
		return nil
	}, func(context.Context) error {
		second = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, first)
	assert.True(t, second)
}

func TestRunFailureCancelsOthers(t *testing.T) {
	t.Parallel()
	failure := errors.New("broken")
	stopped := make(chan error, 1)
	err := Run(context.Background(), func(context.Context) error {
		return failure
	}, func(ctx context.Context) error {
		<-ctx.Done()
		stopped <- context.Cause(ctx)
		return nil
	})
	assert.ErrorIs(t, err, failure)
	assert.ErrorIs(t, <-stopped, failure)
}

func TestAnyReturnsOnFirstSuccess(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	defer close(block)
	err := Any(context.Background(), func(context.Context) error {
		return nil
	}, func(context.Context) error {
		<-block
		return nil
	})
	assert.NoError(t, err)
}

func TestRunParentCanceled(t *testing.T) {
	t.Parallel()
	reason := errors.New("parent gone")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(reason)
	err := Run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	assert.ErrorIs(t, err, reason)
}
