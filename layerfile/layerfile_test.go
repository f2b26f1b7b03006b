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

package layerfile

import (
	"context"
	"testing"

	"github.com/flowcore/flowcore/storage"
	"github.com/flowcore/flowcore/storage/memstore"
)

func buildTwoColumnFile(t *testing.T, cfg Config) (*Reader, []uint64, map[uint64][]uint64) {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	fd, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	w := NewWriter(ctx, store, fd, 2, cfg)
	keys := make([]uint64, 0, 500)
	rows := make(map[uint64][]uint64)
	for k := uint64(0); k < 1000; k += 2 {
		sub := []uint64{0, 2, 4, 6, 8, 10, 12}
		if err := w.PushRow(k, sub); err != nil {
			t.Fatalf("PushRow(%d): %v", k, err)
		}
		keys = append(keys, k)
		rows[k] = sub
	}
	if _, err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	ifd, _, err := store.Complete(ctx, fd)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	r, err := Open(ctx, store, ifd)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r, keys, rows
}

// TestScenarioS5BidirectionalSeek mirrors scenario S5: a two-column file
// with even keys 0..998 in column 0, each owning subkeys 0,2,...,12 in
// column 1; both seek directions must land on an exact match from either
// side, and out-of-range seeks must fail cleanly.
func TestScenarioS5BidirectionalSeek(t *testing.T) {
	r, _, _ := buildTwoColumnFile(t, Config{MaxBlockSize: 256, MaxBranch: 4})

	c, err := r.Column(0)
	if err != nil {
		t.Fatalf("Column(0): %v", err)
	}
	for k := uint64(2); k < 998; k += 2 {
		ok, err := c.AdvanceToValueOrLarger(k - 1)
		if err != nil || !ok || c.Key() != k {
			t.Fatalf("AdvanceToValueOrLarger(%d-1) = key %v ok %v err %v, want %d", k, c.Key(), ok, err, k)
		}
		ok, err = c.AdvanceToValueOrLarger(k)
		if err != nil || !ok || c.Key() != k {
			t.Fatalf("AdvanceToValueOrLarger(%d) = key %v ok %v err %v, want %d", k, c.Key(), ok, err, k)
		}
		ok, err = c.RewindToValueOrSmaller(k + 1)
		if err != nil || !ok || c.Key() != k {
			t.Fatalf("RewindToValueOrSmaller(%d+1) = key %v ok %v err %v, want %d", k, c.Key(), ok, err, k)
		}
		ok, err = c.RewindToValueOrSmaller(k)
		if err != nil || !ok || c.Key() != k {
			t.Fatalf("RewindToValueOrSmaller(%d) = key %v ok %v err %v, want %d", k, c.Key(), ok, err, k)
		}
	}

	if ok, err := c.AdvanceToValueOrLarger(10000); err != nil || ok {
		t.Fatalf("AdvanceToValueOrLarger(10000) = ok %v err %v, want false/nil", ok, err)
	}
	if ok, err := c.RewindToValueOrSmaller(0); err != nil || !ok || c.Key() != 0 {
		t.Fatalf("RewindToValueOrSmaller(0) = ok %v key %v err %v, want true/0", ok, c.Key(), err)
	}

	c2, _ := r.Column(0)
	if ok, err := c2.RewindToValueOrSmaller(^uint64(0)); err != nil || !ok || c2.Key() != 998 {
		t.Fatalf("RewindToValueOrSmaller(max) = ok %v key %v err %v, want true/998", ok, c2.Key(), err)
	}
}

// TestFirstLastMoveNextMovePrev covers property 5's full forward and
// backward traversal over a multi-block column.
func TestFirstLastMoveNextMovePrev(t *testing.T) {
	r, keys, _ := buildTwoColumnFile(t, Config{MaxBlockSize: 128, MaxBranch: 3})
	c, err := r.Column(0)
	if err != nil {
		t.Fatalf("Column(0): %v", err)
	}
	if err := c.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	for i, want := range keys {
		if !c.HasValue() || c.Key() != want {
			t.Fatalf("forward[%d] = %v, want %d", i, c.Key(), want)
		}
		ok, err := c.MoveNext()
		if err != nil {
			t.Fatalf("MoveNext: %v", err)
		}
		if i == len(keys)-1 {
			if ok {
				t.Fatalf("MoveNext past last key returned true")
			}
		} else if !ok {
			t.Fatalf("MoveNext[%d] returned false early", i)
		}
	}

	if err := c.Last(); err != nil {
		t.Fatalf("Last: %v", err)
	}
	for i := len(keys) - 1; i >= 0; i-- {
		if !c.HasValue() || c.Key() != keys[i] {
			t.Fatalf("backward[%d] = %v, want %d", i, c.Key(), keys[i])
		}
		ok, err := c.MovePrev()
		if err != nil {
			t.Fatalf("MovePrev: %v", err)
		}
		if i == 0 {
			if ok {
				t.Fatalf("MovePrev past first key returned true")
			}
		} else if !ok {
			t.Fatalf("MovePrev[%d] returned false early", i)
		}
	}
}

// TestRowGroupAndNextColumn exercises the row-group bounds a two-column
// file maintains across column-0 data block boundaries.
func TestRowGroupAndNextColumn(t *testing.T) {
	r, keys, rows := buildTwoColumnFile(t, Config{MaxBlockSize: 96, MaxBranch: 4})
	c, err := r.Column(0)
	if err != nil {
		t.Fatalf("Column(0): %v", err)
	}
	if err := c.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	for _, want := range keys {
		if c.Key() != want {
			t.Fatalf("Key() = %d, want %d", c.Key(), want)
		}
		start, end, ok := c.RowGroup()
		if !ok {
			t.Fatalf("RowGroup() not ok for key %d", want)
		}
		if end-start != len(rows[want]) {
			t.Fatalf("RowGroup(%d) width = %d, want %d", want, end-start, len(rows[want]))
		}
		sub, err := c.NextColumn()
		if err != nil {
			t.Fatalf("NextColumn(%d): %v", want, err)
		}
		for i, wantSub := range rows[want] {
			if !sub.HasValue() || sub.Key() != wantSub {
				t.Fatalf("row-group[%d][%d] = %v, want %d", want, i, sub.Key(), wantSub)
			}
			if i < len(rows[want])-1 {
				if ok, err := sub.MoveNext(); err != nil || !ok {
					t.Fatalf("sub.MoveNext: ok=%v err=%v", ok, err)
				}
			}
		}
		if ok, err := c.MoveNext(); err != nil {
			t.Fatalf("MoveNext: %v", err)
		} else if !ok && want != keys[len(keys)-1] {
			t.Fatalf("MoveNext ended early at key %d", want)
		}
	}
}

// TestSeekForwardUntilAndBackwardUntil covers the predicate-seek helpers.
func TestSeekForwardUntilAndBackwardUntil(t *testing.T) {
	r, _, _ := buildTwoColumnFile(t, Config{MaxBlockSize: 200, MaxBranch: 8})
	c, _ := r.Column(0)
	if err := c.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	ok, err := c.SeekForwardUntil(func(k uint64) bool { return k >= 500 })
	if err != nil || !ok || c.Key() != 500 {
		t.Fatalf("SeekForwardUntil = key %v ok %v err %v, want 500", c.Key(), ok, err)
	}
	ok, err = c.SeekBackwardUntil(func(k uint64) bool { return k <= 10 })
	if err != nil || !ok || c.Key() != 10 {
		t.Fatalf("SeekBackwardUntil = key %v ok %v err %v, want 10", c.Key(), ok, err)
	}
}

// TestSingleColumnFileRoundTrip covers a one-column file (no row groups).
func TestSingleColumnFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	fd, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w := NewWriter(ctx, store, fd, 1, Config{MaxBlockSize: 64, MaxBranch: 4})
	for k := uint64(0); k < 300; k++ {
		if err := w.PushRow(k, nil); err != nil {
			t.Fatalf("PushRow(%d): %v", k, err)
		}
	}
	if _, err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	ifd, _, err := store.Complete(ctx, fd)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	r, err := Open(ctx, store, ifd)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.NumColumns() != 1 {
		t.Fatalf("NumColumns() = %d, want 1", r.NumColumns())
	}
	c, err := r.Column(0)
	if err != nil {
		t.Fatalf("Column(0): %v", err)
	}
	if err := c.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	for k := uint64(0); k < 300; k++ {
		if !c.HasValue() || c.Key() != k {
			t.Fatalf("key[%d] = %v", k, c.Key())
		}
		if _, _, ok := c.RowGroup(); ok {
			t.Fatalf("RowGroup() ok on a leaf column")
		}
		if k < 299 {
			if ok, err := c.MoveNext(); err != nil || !ok {
				t.Fatalf("MoveNext(%d): ok=%v err=%v", k, ok, err)
			}
		}
	}
}

// TestSubsetNarrowsNthFirstLastAndMoves covers Cursor.Subset: Nth becomes
// relative to the subset, First/Last land on its ends, and moves/seeks
// can't cross its boundary.
func TestSubsetNarrowsNthFirstLastAndMoves(t *testing.T) {
	r, keys, _ := buildTwoColumnFile(t, Config{MaxBlockSize: 128, MaxBranch: 3})
	c, err := r.Column(0)
	if err != nil {
		t.Fatalf("Column(0): %v", err)
	}

	const lo, hi = 10, 15
	if err := c.Subset(lo, hi); err != nil {
		t.Fatalf("Subset: %v", err)
	}

	if ok, err := c.Nth(0); err != nil || !ok || c.Key() != keys[lo] {
		t.Fatalf("Nth(0) in subset = key %v ok %v err %v, want %d", c.Key(), ok, err, keys[lo])
	}
	if ok, err := c.Nth(hi - lo - 1); err != nil || !ok || c.Key() != keys[hi-1] {
		t.Fatalf("Nth(%d) in subset = key %v ok %v err %v, want %d", hi-lo-1, c.Key(), ok, err, keys[hi-1])
	}
	if ok, err := c.Nth(hi - lo); err != nil || ok {
		t.Fatalf("Nth(%d) in subset = ok %v err %v, want false", hi-lo, ok, err)
	}

	if err := c.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	if !c.HasValue() || c.Key() != keys[lo] {
		t.Fatalf("First() in subset = key %v, want %d", c.Key(), keys[lo])
	}
	for i := lo; i < hi; i++ {
		if !c.HasValue() || c.Key() != keys[i] {
			t.Fatalf("forward[%d] = %v, want %d", i, c.Key(), keys[i])
		}
		ok, err := c.MoveNext()
		if err != nil {
			t.Fatalf("MoveNext: %v", err)
		}
		if i == hi-1 {
			if ok {
				t.Fatalf("MoveNext past subset end returned true")
			}
		} else if !ok {
			t.Fatalf("MoveNext[%d] returned false early", i)
		}
	}

	if err := c.Last(); err != nil {
		t.Fatalf("Last: %v", err)
	}
	if !c.HasValue() || c.Key() != keys[hi-1] {
		t.Fatalf("Last() in subset = key %v, want %d", c.Key(), keys[hi-1])
	}
	if ok, err := c.MovePrev(); err != nil {
		t.Fatalf("MovePrev: %v", err)
	} else if !ok || c.Key() != keys[hi-2] {
		t.Fatalf("MovePrev() in subset = key %v ok %v, want %d/true", c.Key(), ok, keys[hi-2])
	}

	// First() on the column's first block, but only row 0 of the
	// subset: stepping back from it must leave the cursor unpositioned
	// even though row lo-1 legitimately exists in the column.
	if err := c.Subset(lo, hi); err != nil {
		t.Fatalf("Subset: %v", err)
	}
	if err := c.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	if ok, err := c.MovePrev(); err != nil || ok {
		t.Fatalf("MovePrev() before subset start = ok %v err %v, want false", ok, err)
	}
}

var _ storage.Backend = (*memstore.Store)(nil)
