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

package exchange

import (
	"context"
	"sync"

	"github.com/flowcore/flowcore/runtime"
)

// releaseHandle is shared by the Sender/Receiver pair NewExchangeOperators
// returns, so that either one dropping its reference releases the
// underlying store entry exactly once, regardless of which (or both) of
// them is closed.
type releaseHandle struct {
	once    sync.Once
	release func()
}

func (h *releaseHandle) Close() { h.once.Do(h.release) }

// Runtime is the subset of the circuit runtime the exchange operators
// need: how many workers participate. The shared store an exchange is
// looked up (or lazily built) from is passed to NewExchangeOperators
// separately. Runtime and Exchange reference
// each other only through this narrow interface plus runtime.LocalStore,
// avoiding a strong import cycle between the two packages (see
// SPEC_FULL.md / DESIGN NOTES on cyclic references).
type Runtime interface {
	NumWorkers() int
}

// Sender partitions one input value into NumWorkers() pieces per round
// and hands them to the exchange.
type Sender[T any] struct {
	exchange  *Exchange[T]
	worker    int
	partition func(input T, out []T) []T
	scratch   []T
	handle    *releaseHandle
}

// Close releases this operator's reference on the shared Exchange.
// Once every Sender and Receiver NewExchangeOperators produced for this
// location has been closed, the Exchange is dropped from the store.
func (s *Sender[T]) Close() { s.handle.Close() }

// Send partitions input and attempts to start this worker's round. It
// returns false if the exchange wasn't ready (caller retries with the
// same input later — partitioning is cheap and side-effect-free, so
// re-partitioning on retry is fine).
func (s *Sender[T]) Send(ctx context.Context, input T) bool {
	s.scratch = s.partition(input, s.scratch[:0])
	debugAssert(len(s.scratch) == s.exchange.NumWorkers(), "partition_fn produced the wrong value count")
	return s.exchange.TrySendAll(ctx, s.worker, s.scratch)
}

// Receiver folds the N values delivered to this worker's slot each round
// into a single accumulator via combine.
type Receiver[T any] struct {
	exchange *Exchange[T]
	worker   int
	combine  func(acc *T, v T)
	handle   *releaseHandle
}

// Close releases this operator's reference on the shared Exchange. See
// Sender.Close.
func (r *Receiver[T]) Close() { r.handle.Close() }

// Receive attempts to drain this worker's round, folding the N delivered
// values (in sender-index order) into a freshly zeroed accumulator. It
// returns ok=false if fewer than N senders have delivered yet.
func (r *Receiver[T]) Receive() (result T, ok bool) {
	got := r.exchange.TryReceiveAll(r.worker, func(_ int, v T) {
		r.combine(&result, v)
	})
	return result, got
}

// NewExchangeOperators looks up (or lazily builds, via store) the shared
// Exchange for location, and returns a (Sender, Receiver) pair bound to
// workerIndex. partitionFn must append exactly rt.NumWorkers() values to
// out and return the result; combineFn folds one received value into an
// accumulator.
func NewExchangeOperators[T any](
	rt Runtime,
	store *runtime.LocalStore[string, *Exchange[T]],
	workerIndex int,
	location string,
	partitionFn func(input T, out []T) []T,
	combineFn func(acc *T, v T),
) (*Sender[T], *Receiver[T]) {
	n := rt.NumWorkers()
	ex := store.Acquire(location, func() *Exchange[T] { return New[T](n) })
	handle := &releaseHandle{release: func() { store.Release(location) }}
	sender := &Sender[T]{exchange: ex, worker: workerIndex, partition: partitionFn, handle: handle}
	receiver := &Receiver[T]{exchange: ex, worker: workerIndex, combine: combineFn, handle: handle}
	return sender, receiver
}
