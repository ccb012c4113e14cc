// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package resolve

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wneessen/whereami/internal/locate"
)

// State is the lifecycle state of a Request.
type State int

const (
	StateIdle State = iota
	StateDispatched
	StateResolved
	StateFailed
	StateDelivered
)

func (s State) String() string {
	switch s {
	case StateDispatched:
		return "dispatched"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	case StateDelivered:
		return "delivered"
	default:
		return "idle"
	}
}

// Request binds a snapshot of a fix to its pending outcome.
type Request struct {
	ID  uuid.UUID
	Fix locate.Fix

	mu      sync.Mutex
	state   State
	outcome Outcome
	dropped bool
	done    chan struct{}
}

func newRequest(fix locate.Fix) *Request {
	return &Request{
		ID:   uuid.New(),
		Fix:  fix,
		done: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed once the request reached StateDelivered.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Outcome returns the outcome and whether the receiver was gone when it was delivered. It is
// only meaningful after Done was closed.
func (r *Request) Outcome() (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome, r.dropped
}

func (r *Request) dispatch() {
	r.mu.Lock()
	r.state = StateDispatched
	r.mu.Unlock()
}

func (r *Request) complete(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = o
	r.state = StateFailed
	if o.Resolved() {
		r.state = StateResolved
	}
}

func (r *Request) deliver(dropped bool) {
	r.mu.Lock()
	r.state = StateDelivered
	r.dropped = dropped
	r.mu.Unlock()
	close(r.done)
}
