// Package dispatcher routes decoded packets to registered listeners, the
// same mutex-guarded-registry idiom the teacher uses for its single
// onConnected/onDisconnected/onMessage callback slots, generalized here
// to an arbitrary number of named listeners per packet type plus one
// generic catch-all.
package dispatcher

import (
	"fmt"
	"sync"
)

// GenericName is the pseudo packet-type name a listener registers under to
// observe every packet, regardless of its specific type.
const GenericName = "packet"

const genericName = GenericName

// Handler is called once per matching packet. A returned error is
// contained by the Dispatcher (logged to ErrorHandler, if set) and never
// stops the remaining listeners from firing — one misbehaving listener
// must not blind the rest of the session to traffic.
type Handler func(name string, pk interface{}) error

type entry struct {
	id int
	fn Handler
}

// Dispatcher maintains an ordered, named listener registry. Listeners for
// a packet's specific type name fire before the generic catch-all
// listeners, and within each of those two groups listeners fire in the
// order they were registered.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string][]entry
	nextID    int

	// ErrorHandler, if set, receives every error a Handler returns (or
	// panic a Handler raises, recovered and wrapped). It must not block.
	ErrorHandler func(name string, err error)
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{listeners: make(map[string][]entry)}
}

// On registers fn to run for every packet named name. Passing the
// reserved name "packet" registers a catch-all that runs for every
// dispatched packet, after any type-specific listeners. On returns an
// Off function that removes this registration; calling it twice is a
// no-op.
func (d *Dispatcher) On(name string, fn Handler) (off func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[name] = append(d.listeners[name], entry{id: id, fn: fn})
	d.mu.Unlock()

	removed := false
	return func() {
		if removed {
			return
		}
		removed = true
		d.mu.Lock()
		defer d.mu.Unlock()
		entries := d.listeners[name]
		for i, e := range entries {
			if e.id == id {
				d.listeners[name] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
	}
}

// HasListeners reports whether any listener would fire for a packet named
// name — either a type-specific one, or a generic catch-all. Session and
// Bridge use this as a fast path (spec §4.8/§4.9): a packet with no
// listener at all skips decoding entirely.
func (d *Dispatcher) HasListeners(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[name]) > 0 || len(d.listeners[genericName]) > 0
}

// Dispatch fires every listener registered for name, then every generic
// catch-all listener, in registration order within each group. Panics are
// recovered and routed to ErrorHandler like any other error so a bad
// listener can't take down the caller's goroutine.
func (d *Dispatcher) Dispatch(name string, pk interface{}) {
	d.mu.RLock()
	specific := append([]entry(nil), d.listeners[name]...)
	var generic []entry
	if name != genericName {
		generic = append([]entry(nil), d.listeners[genericName]...)
	}
	d.mu.RUnlock()

	for _, e := range specific {
		d.invoke(name, pk, e.fn)
	}
	for _, e := range generic {
		d.invoke(name, pk, e.fn)
	}
}

func (d *Dispatcher) invoke(name string, pk interface{}, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			d.reportError(name, fmt.Errorf("dispatcher: listener panic: %v", r))
		}
	}()
	if err := fn(name, pk); err != nil {
		d.reportError(name, err)
	}
}

func (d *Dispatcher) reportError(name string, err error) {
	if d.ErrorHandler != nil {
		d.ErrorHandler(name, err)
	}
}
