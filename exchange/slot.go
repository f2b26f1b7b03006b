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
)

// slot is one cell of the N×N mailbox matrix: an option cell jointly
// owned by exactly one sender and one receiver. The writer may put a
// value only when the slot is empty; the reader may take one only when
// it's full — violating that ordering is the logic bug §5 calls out for
// debug-assertion, not something this type defends against at runtime,
// since the exchange's own call sequencing is what enforces it.
type slot[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond
	full bool
	val  T
}

func newSlot[T any]() *slot[T] {
	s := &slot[T]{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// wait blocks until pred() is false or ctx is done, under s.mu.
func (s *slot[T]) wait(ctx context.Context, pred func() bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if done := ctx.Done(); done != nil {
		stop := context.AfterFunc(ctx, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		defer stop()
	}
	for pred() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	return nil
}

// waitEmpty blocks until the slot holds no value (the precondition for a
// writer to put one).
func (s *slot[T]) waitEmpty(ctx context.Context) error {
	return s.wait(ctx, func() bool { return s.full })
}

// waitDrained blocks until the receiver has taken the value the writer
// just put — the "per-slot notification" the delivery task awaits before
// its round is considered finished.
func (s *slot[T]) waitDrained(ctx context.Context) error {
	return s.wait(ctx, func() bool { return s.full })
}

func (s *slot[T]) put(v T) {
	s.mu.Lock()
	s.val = v
	s.full = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *slot[T]) take() T {
	s.mu.Lock()
	v := s.val
	var zero T
	s.val = zero
	s.full = false
	s.cond.Broadcast()
	s.mu.Unlock()
	return v
}
