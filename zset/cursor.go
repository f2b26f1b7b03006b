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

package zset

import "golang.org/x/exp/slices"

// Cursor is a stateful bidirectional navigator over an IndexedBatch. A
// cursor is positioned at a (key index, value index) pair, or "past the
// end" in either direction; Key/Value/Weight are only valid while HasValue
// reports true.
type Cursor[K Ordered[K], V Ordered[V]] struct {
	batch  *IndexedBatch[K, V]
	keyPos int
	valPos int
}

// First positions the cursor at the first key and its first value.
func (c *Cursor[K, V]) First() {
	c.keyPos = 0
	c.valPos = c.lo()
}

// Last positions the cursor at the last key and its last value.
func (c *Cursor[K, V]) Last() {
	c.keyPos = len(c.batch.keys) - 1
	if c.keyPos < 0 {
		c.valPos = 0
		return
	}
	c.valPos = c.hi() - 1
}

// HasKey reports whether the cursor sits on a valid key.
func (c *Cursor[K, V]) HasKey() bool {
	return c.keyPos >= 0 && c.keyPos < len(c.batch.keys)
}

// HasValue reports whether the cursor sits on a valid (key, value) pair.
func (c *Cursor[K, V]) HasValue() bool {
	return c.HasKey() && c.valPos >= c.lo() && c.valPos < c.hi()
}

// Key returns the key at the cursor. Valid only when HasKey is true.
func (c *Cursor[K, V]) Key() K { return c.batch.keys[c.keyPos] }

// Value returns the value at the cursor. Valid only when HasValue is true.
func (c *Cursor[K, V]) Value() V { return c.batch.values[c.valPos] }

// Weight returns the weight at the cursor's (key, value) pair. Defined
// only when the batch's time coordinate is unit, which is always true for
// an IndexedBatch — traces with a nontrivial time coordinate live in
// package trace and expose FoldTimes instead.
func (c *Cursor[K, V]) Weight() Weight { return c.batch.weights[c.valPos] }

// MoveNextKey advances to the next key's first value. Once past the last
// key, HasKey/HasValue report false; MovePrevKey from there returns to
// the last key.
func (c *Cursor[K, V]) MoveNextKey() {
	c.keyPos++
	c.valPos = c.lo()
}

// MovePrevKey steps back to the previous key's first value.
func (c *Cursor[K, V]) MovePrevKey() {
	c.keyPos--
	c.valPos = c.lo()
}

// MoveNextValue advances within the current key's row group.
func (c *Cursor[K, V]) MoveNextValue() {
	c.valPos++
}

// MovePrevValue steps back within the current key's row group.
func (c *Cursor[K, V]) MovePrevValue() {
	c.valPos--
}

// AdvanceToValueOrLarger repositions within the current key's row group
// at the smallest value >= v, or past the end if none exists.
func (c *Cursor[K, V]) AdvanceToValueOrLarger(v V) {
	lo, hi := c.lo(), c.hi()
	idx, _ := slices.BinarySearchFunc(c.batch.values[lo:hi], v, func(a V, target V) int {
		return a.Compare(target)
	})
	c.valPos = lo + idx
}

// RewindToValueOrSmaller repositions within the current key's row group
// at the largest value <= v, or before the start if none exists.
func (c *Cursor[K, V]) RewindToValueOrSmaller(v V) {
	lo, hi := c.lo(), c.hi()
	idx, found := slices.BinarySearchFunc(c.batch.values[lo:hi], v, func(a V, target V) int {
		return a.Compare(target)
	})
	if found {
		c.valPos = lo + idx
		return
	}
	c.valPos = lo + idx - 1
}

// SeekForwardUntil steps MoveNextValue while pred is false. pred must be
// monotone: once true, it stays true for the remainder of the scan.
func (c *Cursor[K, V]) SeekForwardUntil(pred func(v V) bool) {
	for c.HasValue() && !pred(c.Value()) {
		c.MoveNextValue()
	}
}

// SeekBackwardUntil steps MovePrevValue while pred is false, in the
// opposite (decreasing) direction.
func (c *Cursor[K, V]) SeekBackwardUntil(pred func(v V) bool) {
	for c.HasValue() && !pred(c.Value()) {
		c.MovePrevValue()
	}
}

// Rewind returns the cursor to First.
func (c *Cursor[K, V]) Rewind() { c.First() }

func (c *Cursor[K, V]) lo() int {
	if c.keyPos < 0 || c.keyPos >= len(c.batch.keys) {
		return 0
	}
	return c.batch.bounds[c.keyPos]
}

func (c *Cursor[K, V]) hi() int {
	if c.keyPos < 0 || c.keyPos >= len(c.batch.keys) {
		return 0
	}
	return c.batch.bounds[c.keyPos+1]
}
