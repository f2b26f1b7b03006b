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

// Builder accumulates (key, value, weight) triples into an IndexedBatch.
// Callers must push in strictly ascending (key, value) order, matching the
// precondition the on-disk layer file writer makes of its own column
// input — both are "ordered columns with row groups" over the same
// feed shape (see package layerfile). Pushing the same (key, value) pair
// twice in a row sums the weights instead of producing a duplicate row,
// which is what a merge's output stream needs.
type Builder[K Ordered[K], V Ordered[V]] struct {
	keys    []K
	bounds  []int
	values  []V
	weights []Weight
}

// NewBuilder returns an empty Builder.
func NewBuilder[K Ordered[K], V Ordered[V]]() *Builder[K, V] {
	return &Builder[K, V]{}
}

// Push records one (key, value, weight) triple. A weight of zero is kept
// until Done, which is the single place weight-zero triples are dropped
// (a trace may otherwise want to retain a zero-weight entry transiently).
func (b *Builder[K, V]) Push(key K, value V, weight Weight) {
	n := len(b.keys)
	if n > 0 && b.keys[n-1].Compare(key) == 0 {
		last := len(b.values) - 1
		if last >= 0 && b.values[last].Compare(value) == 0 {
			b.weights[last] = b.weights[last].Add(weight)
			return
		}
	} else {
		b.keys = append(b.keys, key)
		b.pushBound()
	}
	b.values = append(b.values, value)
	b.weights = append(b.weights, weight)
}

// Done seals the builder into an immutable IndexedBatch, dropping every
// triple whose final weight is zero and any key left with no surviving
// values.
func (b *Builder[K, V]) Done() *IndexedBatch[K, V] {
	bounds := make([]int, len(b.keys)+1)
	copy(bounds, b.bounds)
	bounds[len(b.keys)] = len(b.values)

	keys := make([]K, 0, len(b.keys))
	newBounds := make([]int, 1, len(b.keys)+1)
	values := make([]V, 0, len(b.values))
	weights := make([]Weight, 0, len(b.weights))

	for i := range b.keys {
		start, end := bounds[i], bounds[i+1]
		kept := false
		for j := start; j < end; j++ {
			if b.weights[j].IsZero() {
				continue
			}
			values = append(values, b.values[j])
			weights = append(weights, b.weights[j])
			kept = true
		}
		if kept {
			keys = append(keys, b.keys[i])
			newBounds = append(newBounds, len(values))
		}
	}

	return &IndexedBatch[K, V]{keys: keys, bounds: newBounds, values: values, weights: weights}
}

// pushBound records the start offset of a new key's row group; called
// internally whenever Push begins a new key so bounds stays aligned with
// keys during accumulation (Done recomputes the authoritative bounds
// slice after filtering).
func (b *Builder[K, V]) pushBound() {
	b.bounds = append(b.bounds, len(b.values))
}
