package reactor

import (
	"sync/atomic"
	"time"
)

const (
	timerIdle int32 = iota
	timerFired
	timerStopped
)

type reactorTimer struct {
	timer *time.Timer
	state atomic.Int32
}

func (t *reactorTimer) Stop() bool {
	t.timer.Stop()
	return t.state.CompareAndSwap(timerIdle, timerStopped)
}
