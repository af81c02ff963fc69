package task

import (
	"context"
	"sync"

	"github.com/sagernet/sing-socket/common"
)

// Run runs tasks concurrently and returns once all of them succeed or the
// first one fails. A failure cancels the context passed to the others;
// tasks still running at that point are not waited for.
func Run(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	return run(ctx, false, tasks)
}

// Any is Run, but it also returns as soon as any single task succeeds.
func Any(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	return run(ctx, true, tasks)
}

func run(ctx context.Context, fastReturn bool, tasks []func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		access sync.Mutex
		retErr error
		wg     sync.WaitGroup
	)
	wg.Add(len(tasks))
	for _, task := range tasks {
		task := task
		go func() {
			defer wg.Done()
			err := task(ctx)
			if err != nil {
				access.Lock()
				if retErr == nil && !common.Done(ctx) {
					retErr = err
				}
				access.Unlock()
				cancel(err)
			} else if fastReturn {
				cancel(nil)
			}
		}()
	}
	go func() {
		wg.Wait()
		cancel(nil)
	}()
	<-ctx.Done()

	access.Lock()
	defer access.Unlock()
	if retErr != nil {
		return retErr
	}
	if cause := context.Cause(ctx); cause != context.Canceled {
		return cause
	}
	return nil
}
