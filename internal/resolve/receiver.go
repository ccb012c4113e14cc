// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package resolve

import "sync"

const defaultReceiverSize = 8

// Receiver is the delivery endpoint of a requester. Outcomes sent after Close are dropped
// silently, so a requester can be replaced while requests are in flight.
type Receiver struct {
	ch   chan Outcome
	done chan struct{}
	once sync.Once
}

// NewReceiver returns a Receiver buffering up to size undelivered outcomes.
func NewReceiver(size int) *Receiver {
	if size < 1 {
		size = defaultReceiverSize
	}
	return &Receiver{
		ch:   make(chan Outcome, size),
		done: make(chan struct{}),
	}
}

// C returns the channel the outcomes arrive on.
func (r *Receiver) C() <-chan Outcome {
	return r.ch
}

// Send hands o to the receiver. With a full buffer it blocks until the requester takes an
// outcome or closes the receiver. It returns false if o was dropped because the receiver is
// closed.
func (r *Receiver) Send(o Outcome) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.ch <- o:
		return true
	case <-r.done:
		return false
	}
}

// Close tears the receiver down and releases pending senders. It is safe to call more than once.
func (r *Receiver) Close() {
	r.once.Do(func() {
		close(r.done)
	})
}
