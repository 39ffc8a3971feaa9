package pusher

import "sync"

// Handler receives a copy of each event dispatched under its bound name.
type Handler func(Event)

// dispatcher maps event names to ordered handler lists. Registration
// order defines invocation order; multiple handlers per name are allowed
// and independent.
type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	global   []Handler
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[string][]Handler)}
}

func (d *dispatcher) bind(event string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = append(d.handlers[event], h)
}

func (d *dispatcher) unbind(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, event)
}

// bindGlobal registers a handler invoked for every dispatched event,
// after the handlers bound to the event's name.
func (d *dispatcher) bindGlobal(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.global = append(d.global, h)
}

// dispatch invokes the handlers bound to ev.Event in registration order,
// then the global handlers. Events are passed by value, so a handler
// cannot corrupt another handler's view of the payload.
func (d *dispatcher) dispatch(ev Event) {
	d.mu.RLock()
	handlers := d.handlers[ev.Event]
	global := d.global
	d.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
	for _, h := range global {
		h(ev)
	}
}

// run drains the event queue until it is closed. Handlers run
// synchronously here, so a slow handler stalls queue draining but never
// frame reception, which happens on the transport goroutine.
func (d *dispatcher) run(events <-chan Event, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		d.dispatch(ev)
	}
}
