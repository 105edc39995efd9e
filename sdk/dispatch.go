package sdk

import (
	"errors"
	"sync"
)

// errDispatcherClosed is returned by do/call after close.
var errDispatcherClosed = errors.New("dispatcher closed")

type dispatchResult struct {
	value any
	err   error
}

// dispatcher serializes all SDK work onto a single goroutine.
//
// Public SDK methods can be invoked from any goroutine (UI layers, CLI
// signal handlers); keeping all state changes and transport interactions
// serialized gives callers a cooperative, one-operation-at-a-time model and
// prevents subtle races.
type dispatcher struct {
	mu     sync.Mutex
	q      chan func()
	closed bool
}

func newDispatcher(queueSize int) *dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &dispatcher{
		q: make(chan func(), queueSize),
	}
	go func() {
		for fn := range d.q {
			fn()
		}
	}()
	return d
}

// do enqueues fn without waiting for it to run.
func (d *dispatcher) do(fn func()) error {
	if fn == nil {
		return nil
	}
	// The lock is held across the send so close cannot slip between the
	// closed check and the enqueue.
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDispatcherClosed
	}
	d.q <- fn
	return nil
}

// call runs fn on the dispatch goroutine and waits for its result.
func (d *dispatcher) call(fn func() (any, error)) (any, error) {
	done := make(chan dispatchResult, 1)
	err := d.do(func() {
		value, err := fn()
		done <- dispatchResult{value: value, err: err}
	})
	if err != nil {
		return nil, err
	}
	res := <-done
	return res.value, res.err
}

// close stops accepting work and lets the goroutine drain what is queued.
func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.q)
}
