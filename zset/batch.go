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

// IndexedBatch is the column-leaf representation shared with the on-disk
// layer file format (see package layerfile): keys and values live in two
// parallel slices, and bounds[i]..bounds[i+1] delimits the row group of
// values (and weights) owned by keys[i]. A plain Batch is the degenerate
// case where V is Unit.
//
// An IndexedBatch is built once by a Builder and is immutable from the
// moment Done returns it; cursors only ever read it.
type IndexedBatch[K Ordered[K], V Ordered[V]] struct {
	keys    []K
	bounds  []int // len(keys)+1 entries
	values  []V
	weights []Weight
}

// Batch is a Z-set: an IndexedBatch whose value slot carries no
// information.
type Batch[K Ordered[K]] = IndexedBatch[K, Unit]

// Len returns the number of distinct keys in the batch.
func (b *IndexedBatch[K, V]) Len() int { return len(b.keys) }

// NumPairs returns the number of (key, value) pairs in the batch.
func (b *IndexedBatch[K, V]) NumPairs() int { return len(b.values) }

// IsEmpty reports whether the batch has no keys at all.
func (b *IndexedBatch[K, V]) IsEmpty() bool { return len(b.keys) == 0 }

// Negate returns a batch with every weight negated, suitable for building
// a retraction stream (delete = negative-weight insert) from an existing
// insertion batch.
func (b *IndexedBatch[K, V]) Negate() *IndexedBatch[K, V] {
	out := &IndexedBatch[K, V]{
		keys:    b.keys,
		bounds:  b.bounds,
		values:  b.values,
		weights: make([]Weight, len(b.weights)),
	}
	for i, w := range b.weights {
		out.weights[i] = w.Neg()
	}
	return out
}

// Cursor returns a cursor positioned at the first key's first value.
func (b *IndexedBatch[K, V]) Cursor() *Cursor[K, V] {
	c := &Cursor[K, V]{batch: b}
	c.First()
	return c
}
