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

// Distinct walks z and returns a batch containing every (key, value) pair
// whose total weight is positive, each reweighted to 1. Pairs with
// nonpositive weight are dropped. The result is a proper set: running
// Distinct on its own output is a no-op.
func Distinct[K Ordered[K], V Ordered[V]](z *IndexedBatch[K, V]) *IndexedBatch[K, V] {
	out := NewBuilder[K, V]()
	c := z.Cursor()
	for c.HasKey() {
		for c.HasValue() {
			if c.Weight() > 0 {
				out.Push(c.Key(), c.Value(), 1)
			}
			c.MoveNextValue()
		}
		c.MoveNextKey()
	}
	return out.Done()
}
