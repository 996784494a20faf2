// Package signalhub provides a named, synchronous event emitter used
// throughout hexctl to decouple producers (leg sessions, foot state
// machines) from consumers (the body coordinator, CLI, tests) without
// requiring either side to know about the other's concrete type.
package signalhub

import "sync"

// Token identifies a previously registered handler so it can be removed
// with Off.
type Token uint64

// Handler receives the payload triggered under some event name.
type Handler func(payload any)

type entry struct {
	token   Token
	handler Handler
	removed bool
}

// Hub is a named event emitter. Handlers registered under the same name
// fire synchronously, in registration order, on every Trigger call.
// Removing a handler from inside a dispatch (via Off) never skips any
// of its sibling handlers - entries are tombstoned in place instead of
// being spliced out mid-iteration.
//
// A Hub is safe for concurrent use.
type Hub struct {
	mu       sync.Mutex
	handlers map[string][]*entry
	nextTok  Token
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{handlers: make(map[string][]*entry)}
}

// On registers handler under name and returns a Token that can later be
// passed to Off.
func (h *Hub) On(name string, handler Handler) Token {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextTok++
	tok := h.nextTok
	h.handlers[name] = append(h.handlers[name], &entry{token: tok, handler: handler})
	return tok
}

// Off removes the handler registered under tok, if still present. It is
// safe to call Off from within a handler invoked by Trigger.
func (h *Hub) Off(tok Token) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, entries := range h.handlers {
		for _, e := range entries {
			if e.token == tok {
				e.removed = true
				return
			}
		}
	}
}

// Trigger invokes every live handler registered under name, in
// registration order, passing payload. Handlers registered during
// dispatch are not visited on this call: the entry slice is snapshotted
// under the lock before any handler runs. A handler removed during
// dispatch that has not run yet is skipped on this call.
func (h *Hub) Trigger(name string, payload any) {
	h.mu.Lock()
	entries := make([]*entry, len(h.handlers[name]))
	copy(entries, h.handlers[name])
	h.mu.Unlock()

	for _, e := range entries {
		if e.removed {
			continue
		}
		e.handler(payload)
	}
}

// Len reports the number of live (non-removed) handlers registered under
// name. Intended for tests.
func (h *Hub) Len(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.handlers[name] {
		if !e.removed {
			n++
		}
	}
	return n
}
