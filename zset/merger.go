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

// Merger performs a bounded-incremental merge of two batches: repeated
// calls to Work advance a fixed amount of progress at a time so a
// scheduler can interleave merging with other operator work, matching
// begin_merge/work/done in the original trace/ord layer this package is
// modeled on.
type Merger[K Ordered[K], V Ordered[V]] struct {
	a, b   *Cursor[K, V]
	out    *Builder[K, V]
	result *IndexedBatch[K, V]
}

// BeginMerge starts merging a and b. Neither batch is mutated; the result
// is produced incrementally by Work and finalized by Done.
func BeginMerge[K Ordered[K], V Ordered[V]](a, b *IndexedBatch[K, V]) *Merger[K, V] {
	return &Merger[K, V]{a: a.Cursor(), b: b.Cursor(), out: NewBuilder[K, V]()}
}

// Work performs up to *fuel units of progress, where one unit is one
// pushed (key, value, weight) triple. Fuel is decremented by the number of
// triples pushed and never drops below 1 per call, so a Merger always
// makes forward progress. Work returns true once the merge is complete.
func (m *Merger[K, V]) Work(fuel *int) bool {
	if m.result != nil {
		return true
	}
	pushed := 0
	budget := *fuel
	if budget < 1 {
		budget = 1
	}
	for (m.a.HasKey() || m.b.HasKey()) && pushed < budget {
		pushed += m.step()
	}
	*fuel -= pushed
	if *fuel < 0 {
		*fuel = 0
	}
	if !m.a.HasKey() && !m.b.HasKey() {
		m.result = m.out.Done()
		return true
	}
	return false
}

// step advances the merge by exactly one (key, value) position and
// reports how many triples it pushed (0 or 1; a key present in only one
// input and not yet exhausted still advances one value at a time).
func (m *Merger[K, V]) step() int {
	switch {
	case !m.a.HasKey():
		return m.drain(m.b)
	case !m.b.HasKey():
		return m.drain(m.a)
	default:
		c := m.a.Key().Compare(m.b.Key())
		switch {
		case c < 0:
			return m.drainKey(m.a)
		case c > 0:
			return m.drainKey(m.b)
		default:
			return m.mergeKey()
		}
	}
}

// drain pushes the current value of a cursor that is strictly ahead (its
// key doesn't exist in the other input) and advances it one value.
func (m *Merger[K, V]) drain(cur *Cursor[K, V]) int {
	if !cur.HasValue() {
		cur.MoveNextKey()
		return 0
	}
	m.out.Push(cur.Key(), cur.Value(), cur.Weight())
	cur.MoveNextValue()
	if !cur.HasValue() {
		cur.MoveNextKey()
	}
	return 1
}

func (m *Merger[K, V]) drainKey(cur *Cursor[K, V]) int { return m.drain(cur) }

// mergeKey merges the row groups of two cursors currently on equal keys,
// one value at a time.
func (m *Merger[K, V]) mergeKey() int {
	switch {
	case !m.a.HasValue():
		m.a.MoveNextKey()
		return 0
	case !m.b.HasValue():
		m.b.MoveNextKey()
		return 0
	default:
		c := m.a.Value().Compare(m.b.Value())
		switch {
		case c < 0:
			m.out.Push(m.a.Key(), m.a.Value(), m.a.Weight())
			m.a.MoveNextValue()
		case c > 0:
			m.out.Push(m.b.Key(), m.b.Value(), m.b.Weight())
			m.b.MoveNextValue()
		default:
			m.out.Push(m.a.Key(), m.a.Value(), m.a.Weight().Add(m.b.Weight()))
			m.a.MoveNextValue()
			m.b.MoveNextValue()
		}
		if !m.a.HasValue() {
			m.a.MoveNextKey()
		}
		if !m.b.HasValue() {
			m.b.MoveNextKey()
		}
		return 1
	}
}

// Done returns the merged, weight-zero-filtered batch. Valid only after
// Work has returned true.
func (m *Merger[K, V]) Done() *IndexedBatch[K, V] { return m.result }

// Merge is a convenience wrapper that runs a Merger to completion in one
// call, for callers that don't need fuel-bounded incremental progress.
func Merge[K Ordered[K], V Ordered[V]](a, b *IndexedBatch[K, V]) *IndexedBatch[K, V] {
	m := BeginMerge(a, b)
	fuel := a.NumPairs() + b.NumPairs() + 1
	for !m.Work(&fuel) {
	}
	return m.Done()
}
