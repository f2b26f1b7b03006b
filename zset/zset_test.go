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

import (
	"strconv"
	"testing"
)

func TestBuilderOrderAndWeightZeroElimination(t *testing.T) {
	b := NewBuilder[Int, Str]()
	b.Push(1, "a", 1)
	b.Push(1, "b", 2)
	b.Push(1, "c", -1)
	b.Push(1, "c", 1) // cancels the previous push, back to weight 0
	b.Push(2, "d", 1)
	got := b.Done()

	var keys []Int
	var pairs [][2]string
	c := got.Cursor()
	for c.HasKey() {
		keys = append(keys, c.Key())
		for c.HasValue() {
			pairs = append(pairs, [2]string{strconv.Itoa(int(c.Key())), string(c.Value())})
			if c.Weight().IsZero() {
				t.Fatalf("weight-zero pair survived Done(): %v/%v", c.Key(), c.Value())
			}
			c.MoveNextValue()
		}
		c.MoveNextKey()
	}
	want := [][2]string{{"1", "a"}, {"1", "b"}, {"2", "d"}}
	if len(pairs) != len(want) {
		t.Fatalf("got %v, want %v", pairs, want)
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Fatalf("got %v, want %v", pairs, want)
		}
	}
}

func TestScenarioS3IndexedZSetAndDistinct(t *testing.T) {
	b := NewBuilder[Int, Str]()
	b.Push(1, "a", 1)
	b.Push(1, "b", 2)
	b.Push(1, "c", -1)
	b.Push(2, "d", 1)
	z := b.Done()

	type triple struct {
		k Int
		v Str
		w Weight
	}
	var got []triple
	c := z.Cursor()
	for c.HasKey() {
		for c.HasValue() {
			got = append(got, triple{c.Key(), c.Value(), c.Weight()})
			c.MoveNextValue()
		}
		c.MoveNextKey()
	}
	want := []triple{{1, "a", 1}, {1, "b", 2}, {1, "c", -1}, {2, "d", 1}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	d := Distinct(z)
	var dgot []triple
	dc := d.Cursor()
	for dc.HasKey() {
		for dc.HasValue() {
			dgot = append(dgot, triple{dc.Key(), dc.Value(), dc.Weight()})
			dc.MoveNextValue()
		}
		dc.MoveNextKey()
	}
	dwant := []triple{{1, "a", 1}, {1, "b", 1}, {2, "d", 1}}
	if len(dgot) != len(dwant) {
		t.Fatalf("distinct got %v, want %v", dgot, dwant)
	}
	for i := range dwant {
		if dgot[i] != dwant[i] {
			t.Fatalf("distinct got %v, want %v", dgot, dwant)
		}
	}
}

func TestDistinctIdempotent(t *testing.T) {
	b := NewBuilder[Int, Str]()
	b.Push(1, "a", 5)
	b.Push(1, "b", -3)
	b.Push(2, "c", 2)
	z := b.Done()

	once := Distinct(z)
	twice := Distinct(once)

	c1, c2 := once.Cursor(), twice.Cursor()
	for c1.HasKey() && c2.HasKey() {
		if c1.Key().Compare(c2.Key()) != 0 {
			t.Fatalf("distinct not idempotent on keys")
		}
		for c1.HasValue() && c2.HasValue() {
			if c1.Value().Compare(c2.Value()) != 0 || c1.Weight() != c2.Weight() {
				t.Fatalf("distinct not idempotent on values/weights")
			}
			if c2.Weight() != 1 {
				t.Fatalf("distinct output weight != 1: %v", c2.Weight())
			}
			c1.MoveNextValue()
			c2.MoveNextValue()
		}
		c1.MoveNextKey()
		c2.MoveNextKey()
	}
	if c1.HasKey() != c2.HasKey() {
		t.Fatalf("distinct outputs differ in length")
	}
}

func TestScenarioS6MergeSum(t *testing.T) {
	ab := NewBuilder[Str, Unit]()
	ab.Push("a", Unit{}, 1)
	ab.Push("b", Unit{}, 2)
	a := ab.Done()

	bb := NewBuilder[Str, Unit]()
	bb.Push("a", Unit{}, -1)
	bb.Push("c", Unit{}, 3)
	b := bb.Done()

	merged := Merge(a, b)

	var keys []string
	var weights []Weight
	c := merged.Cursor()
	for c.HasKey() {
		keys = append(keys, string(c.Key()))
		weights = append(weights, c.Weight())
		c.MoveNextKey()
	}
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "c" {
		t.Fatalf("got keys %v, want [b c]", keys)
	}
	if weights[0] != 2 || weights[1] != 3 {
		t.Fatalf("got weights %v, want [2 3]", weights)
	}
}

func TestMergeIsSum(t *testing.T) {
	ab := NewBuilder[Int, Unit]()
	ab.Push(1, Unit{}, 3)
	ab.Push(2, Unit{}, 1)
	a := ab.Done()

	bb := NewBuilder[Int, Unit]()
	bb.Push(1, Unit{}, 4)
	bb.Push(3, Unit{}, 5)
	b := bb.Done()

	merged := Merge(a, b)
	weightOf := func(z *Batch[Int], k Int) Weight {
		c := z.Cursor()
		for c.HasKey() {
			if c.Key().Compare(k) == 0 {
				return c.Weight()
			}
			c.MoveNextKey()
		}
		return 0
	}
	for _, k := range []Int{1, 2, 3} {
		want := weightOf(a, k) + weightOf(b, k)
		got := weightOf(merged, k)
		if got != want {
			t.Fatalf("merge(%v): got %v, want %v", k, got, want)
		}
	}
}

func TestNegate(t *testing.T) {
	b := NewBuilder[Int, Unit]()
	b.Push(1, Unit{}, 5)
	z := b.Done()
	neg := z.Negate()
	if neg.Cursor().Weight() != -5 {
		t.Fatalf("Negate: got %v, want -5", neg.Cursor().Weight())
	}
}
