package bridge

import (
	"sync"

	"github.com/brinebound/baltica/pkg/dispatcher"
)

// interceptRegistry is a named listener table keyed the same way
// dispatcher.Dispatcher is, but holding dispatcher.InterceptHandler values
// instead of plain Handlers: a Bridge listener decides a packet's fate
// (cancel, modify, pass through) rather than only observing it.
type interceptRegistry struct {
	mu        sync.RWMutex
	listeners map[string][]dispatcher.InterceptHandler
}

const genericName = "packet"

func newInterceptRegistry() *interceptRegistry {
	return &interceptRegistry{listeners: make(map[string][]dispatcher.InterceptHandler)}
}

func (r *interceptRegistry) On(name string, fn dispatcher.InterceptHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[name] = append(r.listeners[name], fn)
}

// HasListeners reports whether any listener is registered for name, either
// by its specific packet name or the generic catch-all.
func (r *interceptRegistry) HasListeners(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[name]) > 0 || len(r.listeners[genericName]) > 0
}

// Run fires every listener registered for name, then every generic
// listener, folding their returned Signals together: any Cancelled makes
// the aggregate Cancelled, any Modified makes the aggregate Modified.
func (r *interceptRegistry) Run(name string, pk interface{}) dispatcher.Signal {
	r.mu.RLock()
	specific := append([]dispatcher.InterceptHandler(nil), r.listeners[name]...)
	var generic []dispatcher.InterceptHandler
	if name != genericName {
		generic = append([]dispatcher.InterceptHandler(nil), r.listeners[genericName]...)
	}
	r.mu.RUnlock()

	var agg dispatcher.Signal
	for _, fn := range specific {
		sig := fn(name, pk)
		agg.Cancelled = agg.Cancelled || sig.Cancelled
		agg.Modified = agg.Modified || sig.Modified
	}
	for _, fn := range generic {
		sig := fn(name, pk)
		agg.Cancelled = agg.Cancelled || sig.Cancelled
		agg.Modified = agg.Modified || sig.Modified
	}
	return agg
}
