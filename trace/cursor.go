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

package trace

import "github.com/flowcore/flowcore/zset"

// Cursor is a stateful bidirectional navigator over a Trace, mirroring
// zset.Cursor but exposing FoldTimes/MapTimes over the (time, weight)
// pairs at the current position instead of a single Weight.
type Cursor[K zset.Ordered[K], V zset.Ordered[V], Tm zset.Ordered[Tm]] struct {
	trace  *Trace[K, V, Tm]
	keyPos int
	valPos int
}

// First positions the cursor at the first key and value.
func (c *Cursor[K, V, Tm]) First() {
	c.keyPos = 0
	c.valPos = c.lo()
}

// Last positions the cursor at the last key and value.
func (c *Cursor[K, V, Tm]) Last() {
	c.keyPos = len(c.trace.keys) - 1
	if c.keyPos < 0 {
		c.valPos = 0
		return
	}
	c.valPos = c.hi() - 1
}

// HasKey reports whether the cursor sits on a valid key.
func (c *Cursor[K, V, Tm]) HasKey() bool {
	return c.keyPos >= 0 && c.keyPos < len(c.trace.keys)
}

// HasValue reports whether the cursor sits on a valid (key, value) pair.
func (c *Cursor[K, V, Tm]) HasValue() bool {
	return c.HasKey() && c.valPos >= c.lo() && c.valPos < c.hi()
}

// Key returns the key at the cursor.
func (c *Cursor[K, V, Tm]) Key() K { return c.trace.keys[c.keyPos] }

// Value returns the value at the cursor.
func (c *Cursor[K, V, Tm]) Value() V { return c.trace.values[c.valPos] }

// MoveNextKey advances to the next key's first value.
func (c *Cursor[K, V, Tm]) MoveNextKey() {
	c.keyPos++
	c.valPos = c.lo()
}

// MovePrevKey steps back to the previous key's first value.
func (c *Cursor[K, V, Tm]) MovePrevKey() {
	c.keyPos--
	c.valPos = c.lo()
}

// MoveNextValue advances within the current key's row group.
func (c *Cursor[K, V, Tm]) MoveNextValue() { c.valPos++ }

// MovePrevValue steps back within the current key's row group.
func (c *Cursor[K, V, Tm]) MovePrevValue() { c.valPos-- }

// FoldTimes calls f once per (time, weight) entry at the current
// position, in no particular order (a trace's per-pair history is not
// itself required to be time-ordered, only coalesced by RecedeTo).
func (c *Cursor[K, V, Tm]) FoldTimes(f func(t Tm, w zset.Weight)) {
	for _, tw := range c.trace.times[c.valPos] {
		f(tw.Time, tw.Weight)
	}
}

// MapTimes calls FoldTimes with f; it is the same read-only walk under
// the name some callers expect.
func (c *Cursor[K, V, Tm]) MapTimes(f func(t Tm, w zset.Weight)) { c.FoldTimes(f) }

func (c *Cursor[K, V, Tm]) lo() int {
	if c.keyPos < 0 || c.keyPos >= len(c.trace.keys) {
		return 0
	}
	return c.trace.bounds[c.keyPos]
}

func (c *Cursor[K, V, Tm]) hi() int {
	if c.keyPos < 0 || c.keyPos >= len(c.trace.keys) {
		return 0
	}
	if c.keyPos+1 < len(c.trace.keys) {
		return c.trace.bounds[c.keyPos+1]
	}
	return len(c.trace.values)
}
