//go:build !linux

package reactor

import (
	"context"
	"time"

	E "github.com/sagernet/sing-socket/common/exceptions"
)

type EpollReactor struct{}

func NewEpollReactor(ctx context.Context) (*EpollReactor, error) {
	return nil, E.New("epoll reactor not supported on this platform")
}

func (r *EpollReactor) Poll(fd int, handler Handler) (Watcher, error) {
	return nil, E.New("epoll reactor not supported on this platform")
}

func (r *EpollReactor) Await(fd int, handler Handler) (Watcher, error) {
	return nil, E.New("epoll reactor not supported on this platform")
}

func (r *EpollReactor) AfterFunc(d time.Duration, f func()) Timer {
	timer := new(reactorTimer)
	timer.timer = time.AfterFunc(d, func() {
		if timer.state.CompareAndSwap(timerIdle, timerFired) {
			f()
		}
	})
	return timer
}

func (r *EpollReactor) Close() error {
	return nil
}
