package banana

import "sync"

// A Deferred is a value that is not available yet: on the decode side a
// placeholder for a structure that has not closed, on the encode side a
// promise a streaming slicer is waiting on. It resolves exactly once.
//
// A half-resolved Deferred is never visible: callbacks run only after the
// final value is in place, and they never run for a failed Deferred.
type Deferred struct {
	mu        sync.Mutex
	done      chan struct{}
	resolved  bool
	value     any
	err       error
	callbacks []func(any)
}

// NewDeferred creates an unresolved Deferred.
func NewDeferred() *Deferred {
	return &Deferred{done: make(chan struct{})}
}

// AddCallback queues fn to run when the value resolves. If the Deferred
// has already resolved successfully, fn runs immediately.
func (d *Deferred) AddCallback(fn func(any)) {
	d.mu.Lock()
	if d.resolved {
		value, err := d.value, d.err
		d.mu.Unlock()
		if err == nil {
			fn(value)
		}
		return
	}
	d.callbacks = append(d.callbacks, fn)
	d.mu.Unlock()
}

// Resolve supplies the final value and runs queued callbacks. Resolving
// twice panics: it indicates a reference-table bookkeeping bug.
func (d *Deferred) Resolve(v any) {
	d.mu.Lock()
	if d.resolved {
		d.mu.Unlock()
		panic("banana: Deferred resolved twice")
	}
	d.resolved = true
	d.value = v
	cbs := d.callbacks
	d.callbacks = nil
	close(d.done)
	d.mu.Unlock()
	for _, fn := range cbs {
		fn(v)
	}
}

// Fail resolves the Deferred with an error, dropping queued callbacks so
// no dependent is handed a value that never arrived. Failing an already
// resolved Deferred is a no-op; teardown paths may race a clean close.
func (d *Deferred) Fail(err error) {
	d.mu.Lock()
	if d.resolved {
		d.mu.Unlock()
		return
	}
	d.resolved = true
	d.err = err
	d.callbacks = nil
	close(d.done)
	d.mu.Unlock()
}

// Done returns a channel closed once the Deferred resolves either way.
func (d *Deferred) Done() <-chan struct{} { return d.done }

// Result reports the outcome so far. ok is false while unresolved.
func (d *Deferred) Result() (value any, err error, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, d.err, d.resolved
}
