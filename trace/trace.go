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

// Package trace generalizes a Z-set batch (package zset) to a
// nontrivial time coordinate: the same (key, value) pair may carry
// different weights at different times, and a frontier operation
// (RecedeTo) can coalesce history without changing which pairs are live.
package trace

import "github.com/flowcore/flowcore/zset"

// TimedWeight pairs a time with the weight the owning (key, value) pair
// held at that time.
type TimedWeight[Tm zset.Ordered[Tm]] struct {
	Time   Tm
	Weight zset.Weight
}

// Trace mirrors the column-leaf shape of an IndexedBatch but replaces the
// single weight per (key, value) pair with a list of (time, weight)
// entries, matching how the reference trace/ord layer generalizes
// OrderedColumnLeaf with an extra time dimension.
type Trace[K zset.Ordered[K], V zset.Ordered[V], Tm zset.Ordered[Tm]] struct {
	keys   []K
	bounds []int
	values []V
	times  [][]TimedWeight[Tm]
}

// NewTrace returns an empty Trace.
func NewTrace[K zset.Ordered[K], V zset.Ordered[V], Tm zset.Ordered[Tm]]() *Trace[K, V, Tm] {
	return &Trace[K, V, Tm]{}
}

// Insert records weight at time for (key, value), appending a new
// (time, weight) entry if that time isn't already present for the pair,
// or adding to its existing weight otherwise. Keys must be inserted in
// ascending order to preserve the batch ordering invariant; within a key,
// values must also be ascending.
func (t *Trace[K, V, Tm]) Insert(key K, value V, time Tm, weight zset.Weight) {
	n := len(t.keys)
	if n > 0 && t.keys[n-1].Compare(key) == 0 {
		last := len(t.values) - 1
		if last >= 0 && t.values[last].Compare(value) == 0 {
			t.addTime(last, time, weight)
			return
		}
	} else {
		t.keys = append(t.keys, key)
		t.bounds = append(t.bounds, len(t.values))
	}
	t.values = append(t.values, value)
	t.times = append(t.times, []TimedWeight[Tm]{{Time: time, Weight: weight}})
}

func (t *Trace[K, V, Tm]) addTime(valIdx int, time Tm, weight zset.Weight) {
	for i, tw := range t.times[valIdx] {
		if tw.Time.Compare(time) == 0 {
			t.times[valIdx][i].Weight = tw.Weight.Add(weight)
			return
		}
	}
	t.times[valIdx] = append(t.times[valIdx], TimedWeight[Tm]{Time: time, Weight: weight})
}

// Len returns the number of distinct keys.
func (t *Trace[K, V, Tm]) Len() int { return len(t.keys) }

// RecedeTo coalesces every time <= frontier onto frontier itself, summing
// their weights, for every (key, value) pair. It never adds or removes a
// (key, value) pair — only its time annotations change — and weight-zero
// results are left in place (a trace, unlike a sealed batch, may carry
// zero-weight history).
func (t *Trace[K, V, Tm]) RecedeTo(frontier Tm) {
	for i := range t.times {
		var coalesced zset.Weight
		haveCoalesced := false
		kept := t.times[i][:0]
		for _, tw := range t.times[i] {
			if tw.Time.Compare(frontier) <= 0 {
				coalesced = coalesced.Add(tw.Weight)
				haveCoalesced = true
				continue
			}
			kept = append(kept, tw)
		}
		if haveCoalesced {
			kept = append(kept, TimedWeight[Tm]{Time: frontier, Weight: coalesced})
		}
		t.times[i] = kept
	}
}

// Cursor returns a cursor over the trace, positioned at the first key.
func (t *Trace[K, V, Tm]) Cursor() *Cursor[K, V, Tm] {
	c := &Cursor[K, V, Tm]{trace: t}
	c.First()
	return c
}
