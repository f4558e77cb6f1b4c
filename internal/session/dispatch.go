package session

import (
	"log/slog"
	"sync"
)

// Dispatcher runs functions on the presentation layer's thread of choice.
// Dispatch must queue fn and return without running it; the session
// dispatches while holding its own lock.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function, such as a UI toolkit's run-later hook,
// to a Dispatcher.
type DispatcherFunc func(fn func())

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(fn func()) {
	f(fn)
}

// SerialDispatcher runs functions one at a time, in submission order, on a
// single goroutine. Dispatch only queues.
type SerialDispatcher struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewSerialDispatcher starts a SerialDispatcher.
func NewSerialDispatcher() *SerialDispatcher {
	d := &SerialDispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch queues fn. Functions queued after Close are dropped.
func (d *SerialDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	d.signal()
}

// Close stops accepting work. Already queued functions still run. Close
// does not wait, so it may be called from a dispatched function.
func (d *SerialDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.signal()
}

// Done is closed once the dispatcher has been closed and drained.
func (d *SerialDispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *SerialDispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *SerialDispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		for len(d.queue) == 0 {
			if d.closed {
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			<-d.wake
			d.mu.Lock()
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, fn := range batch {
			invoke(fn)
		}
	}
}

func invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatched function panicked", "panic", r)
		}
	}()
	fn()
}
