// Copyright (C) 2024 flowcore authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package exchange implements the N×N all-to-all worker shuffle: every
// worker produces exactly N outgoing values once per clock cycle (one per
// peer, including itself) and consumes exactly N incoming ones, with
// asynchronous send/receive and per-round barrier semantics.
package exchange

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Logger receives one line each time TrySendAll rejects a sender for not
// being ready, matching the diagnostic convention used across storage/input.
type Logger interface {
	Printf(format string, args ...any)
}

// Exchange holds the N² mailbox matrix and per-worker/per-receiver
// coordination state for one exchange_id. It is constructed once (via
// New, usually from runtime.LocalStore so every worker shares the same
// instance) and is safe for concurrent use by all N workers.
type Exchange[T any] struct {
	n int

	mailboxes [][]*slot[T] // mailboxes[sender][receiver]

	receiverCounters []atomic.Int32
	readyToSend       []atomic.Bool

	receiverCallbacks []atomic.Pointer[func(sender int, v T)]
	senderCallbacks   []atomic.Pointer[func()]

	Logger Logger
}

// New returns an Exchange for n workers, every sender initially ready.
func New[T any](n int) *Exchange[T] {
	e := &Exchange[T]{n: n}
	e.mailboxes = make([][]*slot[T], n)
	for s := 0; s < n; s++ {
		e.mailboxes[s] = make([]*slot[T], n)
		for r := 0; r < n; r++ {
			e.mailboxes[s][r] = newSlot[T]()
		}
	}
	e.receiverCounters = make([]atomic.Int32, n)
	e.readyToSend = make([]atomic.Bool, n)
	for w := range e.readyToSend {
		e.readyToSend[w].Store(true)
	}
	e.receiverCallbacks = make([]atomic.Pointer[func(int, T)], n)
	e.senderCallbacks = make([]atomic.Pointer[func()], n)
	return e
}

// NumWorkers returns N.
func (e *Exchange[T]) NumWorkers() int { return e.n }

// ReadyToSend reports whether worker w may currently start a round.
func (e *Exchange[T]) ReadyToSend(w int) bool { return e.readyToSend[w].Load() }

// SetReceiverCallback installs the at-least-once callback invoked when
// receiver r's counter transitions to N. Callbacks are set-once: a second
// call for the same r is rejected (returns false) and the first
// registration stands.
func (e *Exchange[T]) SetReceiverCallback(r int, cb func(sender int, v T)) bool {
	return e.receiverCallbacks[r].CompareAndSwap(nil, &cb)
}

// SetSenderCallback installs the at-least-once callback invoked once
// worker w's round of N deliveries and drains has fully completed.
func (e *Exchange[T]) SetSenderCallback(w int, cb func()) bool {
	return e.senderCallbacks[w].CompareAndSwap(nil, &cb)
}

// TrySendAll attempts to start worker w's round, sending values[r] to
// peer r for every r. It returns false immediately if w isn't ready
// (caller retries later); otherwise it clears the ready flag, starts
// delivery in the background, and returns true. len(values) must equal
// NumWorkers(). The values are copied before delivery starts, so the
// caller may reuse the slice as soon as TrySendAll returns.
func (e *Exchange[T]) TrySendAll(ctx context.Context, w int, values []T) bool {
	debugAssert(len(values) == e.n, "TrySendAll: wrong value count")
	if !e.readyToSend[w].CompareAndSwap(true, false) {
		if e.Logger != nil {
			e.Logger.Printf("exchange: worker %d not ready to send", w)
		}
		return false
	}
	values = append([]T(nil), values...)
	go e.deliverRound(ctx, w, values)
	return true
}

func (e *Exchange[T]) deliverRound(ctx context.Context, w int, values []T) {
	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < e.n; r++ {
		r := r
		g.Go(func() error {
			sl := e.mailboxes[w][r]
			if err := sl.waitEmpty(gctx); err != nil {
				return err
			}
			sl.put(values[r])
			if e.receiverCounters[r].Add(1) == int32(e.n) {
				if cbp := e.receiverCallbacks[r].Load(); cbp != nil {
					(*cbp)(w, values[r])
				}
			}
			return sl.waitDrained(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return // context canceled mid-round; the round never completes
	}
	e.readyToSend[w].Store(true)
	if cbp := e.senderCallbacks[w].Load(); cbp != nil {
		(*cbp)()
	}
}

// TryReceiveAll attempts to drain receiver r's round. It returns false if
// fewer than N senders have delivered yet. On success it invokes cb once
// per sender, in sender-index order, with that sender's value, then
// resets the counter to 0 and notifies every drained slot so its sender
// task may finish.
func (e *Exchange[T]) TryReceiveAll(r int, cb func(sender int, v T)) bool {
	if e.receiverCounters[r].Load() != int32(e.n) {
		return false
	}
	for s := 0; s < e.n; s++ {
		v := e.mailboxes[s][r].take()
		cb(s, v)
		e.receiverCounters[r].Add(-1)
	}
	return true
}
