//go:build linux

package reactor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	E "github.com/sagernet/sing-socket/common/exceptions"

	"golang.org/x/sys/unix"
)

var _ Reactor = (*EpollReactor)(nil)

type epollEntry struct {
	fd             int
	registrationID uint64
	registered     bool
	events         uint32
	poll           *epollWatcher
	await          *epollWatcher
}

// EpollReactor dispatches every handler and timer callback on a single loop
// goroutine, started on first use.
type EpollReactor struct {
	ctx                 context.Context
	cancel              context.CancelFunc
	epollFD             int
	mutex               sync.Mutex
	entries             map[int]*epollEntry
	registrationCounter uint64
	registrationToFD    map[uint64]int
	tasks               []func()
	running             bool
	closed              atomic.Bool
	wg                  sync.WaitGroup
	pipeFDs             [2]int
}

func NewEpollReactor(ctx context.Context) (*EpollReactor, error) {
	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	var pipeFDs [2]int
	err = unix.Pipe2(pipeFDs[:], unix.O_NONBLOCK|unix.O_CLOEXEC)
	if err != nil {
		unix.Close(epollFD)
		return nil, err
	}

	pipeEvent := &unix.EpollEvent{Events: unix.EPOLLIN}
	*(*uint64)(unsafe.Pointer(&pipeEvent.Fd)) = 0
	err = unix.EpollCtl(epollFD, unix.EPOLL_CTL_ADD, pipeFDs[0], pipeEvent)
	if err != nil {
		unix.Close(pipeFDs[0])
		unix.Close(pipeFDs[1])
		unix.Close(epollFD)
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	return &EpollReactor{
		ctx:              ctx,
		cancel:           cancel,
		epollFD:          epollFD,
		entries:          make(map[int]*epollEntry),
		registrationToFD: make(map[uint64]int),
		pipeFDs:          pipeFDs,
	}, nil
}

func (r *EpollReactor) Poll(fd int, handler Handler) (Watcher, error) {
	return r.newWatcher(fd, handler, false)
}

func (r *EpollReactor) Await(fd int, handler Handler) (Watcher, error) {
	return r.newWatcher(fd, handler, true)
}

func (r *EpollReactor) newWatcher(fd int, handler Handler, write bool) (*epollWatcher, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed.Load() {
		return nil, E.Unavailable("reactor closed")
	}

	entry := r.entries[fd]
	if entry == nil {
		r.registrationCounter++
		entry = &epollEntry{
			fd:             fd,
			registrationID: r.registrationCounter,
		}
		r.entries[fd] = entry
		r.registrationToFD[entry.registrationID] = fd
	}

	w := &epollWatcher{
		reactor: r,
		entry:   entry,
		handler: handler,
	}
	if write {
		if entry.await != nil {
			return nil, E.Busy("fd ", fd, " already has a write watcher")
		}
		entry.await = w
	} else {
		if entry.poll != nil {
			return nil, E.Busy("fd ", fd, " already has a read watcher")
		}
		entry.poll = w
	}
	return w, nil
}

// update recomputes the interest mask of entry. An entry with nothing armed
// is removed from epoll so hang-ups on idle handles do not spin the loop.
func (r *EpollReactor) update(entry *epollEntry) error {
	var events uint32
	if entry.poll != nil && entry.poll.pending {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if entry.await != nil && entry.await.pending {
		events |= unix.EPOLLOUT
	}

	if events == 0 {
		if entry.registered {
			unix.EpollCtl(r.epollFD, unix.EPOLL_CTL_DEL, entry.fd, nil)
			entry.registered = false
			entry.events = 0
		}
		return nil
	}
	if entry.registered && entry.events == events {
		return nil
	}

	event := &unix.EpollEvent{Events: events}
	*(*uint64)(unsafe.Pointer(&event.Fd)) = entry.registrationID
	op := unix.EPOLL_CTL_MOD
	if !entry.registered {
		op = unix.EPOLL_CTL_ADD
	}
	err := unix.EpollCtl(r.epollFD, op, entry.fd, event)
	if err != nil {
		return E.Failure(err, "epoll ctl fd ", entry.fd)
	}
	entry.registered = true
	entry.events = events
	return nil
}

func (r *EpollReactor) remove(entry *epollEntry) {
	if entry.registered {
		unix.EpollCtl(r.epollFD, unix.EPOLL_CTL_DEL, entry.fd, nil)
	}
	delete(r.registrationToFD, entry.registrationID)
	if r.entries[entry.fd] == entry {
		delete(r.entries, entry.fd)
	}
}

func (r *EpollReactor) AfterFunc(d time.Duration, f func()) Timer {
	timer := new(reactorTimer)
	timer.timer = time.AfterFunc(d, func() {
		r.post(func() {
			if timer.state.CompareAndSwap(timerIdle, timerFired) {
				f()
			}
		})
	})
	return timer
}

func (r *EpollReactor) post(task func()) {
	r.mutex.Lock()
	if r.closed.Load() {
		r.mutex.Unlock()
		return
	}
	r.tasks = append(r.tasks, task)
	r.start()
	r.mutex.Unlock()
	r.wakeup()
}

func (r *EpollReactor) start() {
	if !r.running {
		r.running = true
		r.wg.Add(1)
		go r.run()
	}
}

func (r *EpollReactor) wakeup() {
	unix.Write(r.pipeFDs[1], []byte{0})
}

func (r *EpollReactor) Close() error {
	r.mutex.Lock()
	if !r.closed.CompareAndSwap(false, true) {
		r.mutex.Unlock()
		return nil
	}
	r.mutex.Unlock()

	r.cancel()
	r.wakeup()
	r.wg.Wait()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, entry := range r.entries {
		for _, w := range []*epollWatcher{entry.poll, entry.await} {
			if w != nil {
				w.pending = false
				w.stopTimer()
			}
		}
	}
	r.entries = make(map[int]*epollEntry)
	r.registrationToFD = make(map[uint64]int)
	r.tasks = nil

	unix.Close(r.epollFD)
	unix.Close(r.pipeFDs[0])
	unix.Close(r.pipeFDs[1])
	return nil
}

type firedWatcher struct {
	watcher    *epollWatcher
	generation uint64
}

func (r *EpollReactor) run() {
	defer r.wg.Done()

	events := make([]unix.EpollEvent, 64)
	var buffer [64]byte

	for {
		select {
		case <-r.ctx.Done():
			r.mutex.Lock()
			r.running = false
			r.mutex.Unlock()
			return
		default:
		}

		n, err := unix.EpollWait(r.epollFD, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			r.mutex.Lock()
			r.running = false
			r.mutex.Unlock()
			return
		}

		var (
			fired []firedWatcher
			tasks []func()
		)

		r.mutex.Lock()
		for i := 0; i < n; i++ {
			event := events[i]
			registrationID := *(*uint64)(unsafe.Pointer(&event.Fd))

			if registrationID == 0 {
				unix.Read(r.pipeFDs[0], buffer[:])
				tasks = append(tasks, r.tasks...)
				r.tasks = nil
				continue
			}

			fd, loaded := r.registrationToFD[registrationID]
			if !loaded {
				continue
			}
			entry := r.entries[fd]
			if entry == nil || entry.registrationID != registrationID {
				continue
			}

			if entry.poll != nil && entry.poll.pending && event.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				fired = append(fired, entry.poll.fire())
			}
			if entry.await != nil && entry.await.pending && event.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				fired = append(fired, entry.await.fire())
			}
			r.update(entry)
		}
		r.mutex.Unlock()

		for _, task := range tasks {
			task()
		}
		for _, it := range fired {
			it.watcher.dispatch(it.generation)
		}
	}
}

type epollWatcher struct {
	reactor    *EpollReactor
	entry      *epollEntry
	handler    Handler
	pending    bool
	freed      bool
	generation uint64
	timer      *time.Timer
}

func (w *epollWatcher) Listen(timeout time.Duration) error {
	r := w.reactor
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if w.freed {
		return E.Unavailable("watcher freed")
	}
	if r.closed.Load() {
		return E.Unavailable("reactor closed")
	}

	w.generation++
	w.pending = true
	w.stopTimer()
	if timeout > 0 {
		generation := w.generation
		w.timer = time.AfterFunc(timeout, func() {
			r.post(func() {
				w.expire(generation)
			})
		})
	}

	err := r.update(w.entry)
	if err != nil {
		w.pending = false
		w.stopTimer()
		return err
	}
	r.start()
	return nil
}

func (w *epollWatcher) IsPending() bool {
	w.reactor.mutex.Lock()
	defer w.reactor.mutex.Unlock()
	return w.pending
}

func (w *epollWatcher) Cancel() {
	r := w.reactor
	r.mutex.Lock()
	defer r.mutex.Unlock()

	w.generation++
	if !w.pending {
		return
	}
	w.pending = false
	w.stopTimer()
	if !r.closed.Load() {
		r.update(w.entry)
	}
}

func (w *epollWatcher) Free() {
	r := w.reactor
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if w.freed {
		return
	}
	w.freed = true
	w.pending = false
	w.generation++
	w.stopTimer()
	if r.closed.Load() {
		return
	}

	entry := w.entry
	if entry.poll == w {
		entry.poll = nil
	}
	if entry.await == w {
		entry.await = nil
	}
	if entry.poll == nil && entry.await == nil {
		r.remove(entry)
	} else {
		r.update(entry)
	}
}

// fire disarms the watcher ahead of dispatch. Called with the reactor lock held.
func (w *epollWatcher) fire() firedWatcher {
	w.pending = false
	w.stopTimer()
	return firedWatcher{w, w.generation}
}

// dispatch drops notifications whose arm was cancelled or replaced after the
// event was collected.
func (w *epollWatcher) dispatch(generation uint64) {
	w.reactor.mutex.Lock()
	stale := w.freed || w.pending || w.generation != generation
	w.reactor.mutex.Unlock()
	if !stale {
		w.handler(false)
	}
}

func (w *epollWatcher) expire(generation uint64) {
	r := w.reactor
	r.mutex.Lock()
	if w.freed || !w.pending || w.generation != generation {
		r.mutex.Unlock()
		return
	}
	w.pending = false
	w.timer = nil
	r.update(w.entry)
	r.mutex.Unlock()
	w.handler(true)
}

func (w *epollWatcher) stopTimer() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
