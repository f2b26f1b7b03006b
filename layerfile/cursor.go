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
	"errors"
	"fmt"

	"github.com/flowcore/flowcore/storage"
)

// errNoNextColumn is returned by Cursor.NextColumn when called on a
// column that has no row-group boundaries, i.e. the file's last column.
var errNoNextColumn = errors.New("layerfile: no next column")

// blockFrame is one level of a root-to-leaf descent path: either an index
// block with the child currently selected, or (only at path's end) the
// leaf data block with the row currently selected.
type blockFrame struct {
	isIndex bool
	idx     decodedIndexBlock
	data    decodedDataBlock
	pos     int
}

// Cursor navigates one column of a layer file, bidirectionally, by key or
// by row number. A Cursor holds the full root-to-leaf path so that
// MoveNext/MovePrev can cross block boundaries without re-descending from
// the root.
type Cursor struct {
	r       *Reader
	column  int
	empty   bool
	rootLoc storage.Locator
	path    []blockFrame

	// hasSubset narrows First/Last/Nth/move/seek to the absolute row
	// range [subsetLo, subsetHi); Nth then addresses rows relative to
	// subsetLo. Unset, the cursor ranges over the whole column.
	hasSubset          bool
	subsetLo, subsetHi int
}

// Subset narrows the cursor's view to the absolute row range [lo, hi).
// Nth(k) then positions at absolute row lo+k, and First/Last/the
// move/seek family stay within the range. It leaves the cursor
// unpositioned until First, Last, or Nth is called.
func (c *Cursor) Subset(lo, hi int) error {
	if lo < 0 || hi < lo {
		return fmt.Errorf("layerfile: invalid subset [%d,%d)", lo, hi)
	}
	c.hasSubset = true
	c.subsetLo, c.subsetHi = lo, hi
	c.path = nil
	return nil
}

// withinSubset reports whether the absolute row is inside the cursor's
// current view (the whole column if no Subset was set).
func (c *Cursor) withinSubset(row int) bool {
	if !c.hasSubset {
		return true
	}
	return row >= c.subsetLo && row < c.subsetHi
}

// clampToSubset unpositions the cursor if its current row fell outside
// the active subset — used after any move/seek that can cross the
// subset boundary via the underlying absolute-row machinery.
func (c *Cursor) clampToSubset() bool {
	if len(c.path) == 0 {
		return false
	}
	if !c.withinSubset(c.Row()) {
		c.path = nil
		return false
	}
	return true
}

// First positions the cursor at the smallest key in its view (row 0, or
// subsetLo under an active Subset).
func (c *Cursor) First() error {
	if c.empty {
		c.path = nil
		return nil
	}
	if c.hasSubset {
		_, err := c.Nth(0)
		return err
	}
	path, err := c.r.descendLeftmost(c.rootLoc)
	if err != nil {
		return err
	}
	c.path = path
	return nil
}

// Last positions the cursor at the largest key in its view (row n-1, or
// subsetHi-1 under an active Subset).
func (c *Cursor) Last() error {
	if c.empty {
		c.path = nil
		return nil
	}
	if c.hasSubset {
		if c.subsetHi <= c.subsetLo {
			c.path = nil
			return nil
		}
		_, err := c.Nth(c.subsetHi - c.subsetLo - 1)
		return err
	}
	path, err := c.r.descendRightmost(c.rootLoc)
	if err != nil {
		return err
	}
	c.path = path
	return nil
}

// Nth positions the cursor at the row'th key (0-indexed) in the column,
// or — under an active Subset — the row'th key relative to the
// subset's start.
func (c *Cursor) Nth(row int) (bool, error) {
	if c.empty || row < 0 {
		c.path = nil
		return false, nil
	}
	abs := row
	if c.hasSubset {
		abs = c.subsetLo + row
		if abs >= c.subsetHi {
			c.path = nil
			return false, nil
		}
	}
	path, err := c.r.descendToRow(c.rootLoc, abs)
	if err != nil {
		return false, err
	}
	leaf := path[len(path)-1]
	if leaf.pos < 0 || leaf.pos >= leaf.data.nValues {
		c.path = nil
		return false, nil
	}
	c.path = path
	return true, nil
}

// HasValue reports whether the cursor is currently positioned on a key
// within its view.
func (c *Cursor) HasValue() bool {
	if len(c.path) == 0 {
		return false
	}
	leaf := c.path[len(c.path)-1]
	if leaf.pos < 0 || leaf.pos >= leaf.data.nValues {
		return false
	}
	return c.withinSubset(c.Row())
}

// Key returns the key at the cursor's current position. Only valid when
// HasValue is true.
func (c *Cursor) Key() uint64 {
	leaf := c.path[len(c.path)-1]
	return keyAt(leaf.data, Uint64Codec{}, leaf.pos)
}

// Row returns the cursor's current global row number within the column.
func (c *Cursor) Row() int {
	row := c.path[len(c.path)-1].pos
	for i := len(c.path) - 2; i >= 0; i-- {
		if c.path[i].pos > 0 {
			row += c.path[i].idx.rowTotal(c.path[i].pos)
		}
	}
	return row
}

// RowGroup returns the [start,end) global row range this key owns in the
// next column, if this column has one (a leaf column returns ok=false).
func (c *Cursor) RowGroup() (start, end int, ok bool) {
	leaf := c.path[len(c.path)-1]
	if !leaf.data.hasRowGroups() {
		return 0, 0, false
	}
	return leaf.data.rowGroupBound(leaf.pos), leaf.data.rowGroupBound(leaf.pos + 1), true
}

// NextColumn returns a cursor over column c.column+1, positioned at the
// first row of the current key's row group. It fails if this column has
// no row groups (i.e. is the file's last column).
func (c *Cursor) NextColumn() (*Cursor, error) {
	start, _, ok := c.RowGroup()
	if !ok {
		return nil, errNoNextColumn
	}
	next, err := c.r.Column(c.column + 1)
	if err != nil {
		return nil, err
	}
	if _, err := next.Nth(start); err != nil {
		return nil, err
	}
	return next, nil
}

// MoveNext advances to the next key in sort order, returning false (with
// the cursor left unpositioned) if there isn't one.
func (c *Cursor) MoveNext() (bool, error) {
	if len(c.path) == 0 {
		return false, nil
	}
	leaf := c.path[len(c.path)-1]
	if leaf.pos+1 < leaf.data.nValues {
		c.path[len(c.path)-1].pos++
		return c.clampToSubset(), nil
	}
	next, found, err := c.r.nextLeaf(c.path)
	if err != nil {
		return false, err
	}
	if !found {
		c.path = nil
		return false, nil
	}
	c.path = next
	return c.clampToSubset(), nil
}

// MovePrev retreats to the previous key in sort order.
func (c *Cursor) MovePrev() (bool, error) {
	if len(c.path) == 0 {
		return false, nil
	}
	leaf := c.path[len(c.path)-1]
	if leaf.pos > 0 {
		c.path[len(c.path)-1].pos--
		return c.clampToSubset(), nil
	}
	prev, found, err := c.r.prevLeaf(c.path)
	if err != nil {
		return false, err
	}
	if !found {
		c.path = nil
		return false, nil
	}
	c.path = prev
	return c.clampToSubset(), nil
}

// AdvanceToValueOrLarger moves forward to the smallest key >= target,
// returning false if every key in the column is smaller than target.
func (c *Cursor) AdvanceToValueOrLarger(target uint64) (bool, error) {
	if c.empty {
		c.path = nil
		return false, nil
	}
	path, err := c.r.descendToKey(c.rootLoc, target)
	if err != nil {
		return false, err
	}
	leaf := path[len(path)-1]
	pos, ok := leafCeil(leaf.data, target)
	if ok {
		path[len(path)-1].pos = pos
		c.path = path
		return c.clampToSubset(), nil
	}
	next, found, err := c.r.nextLeaf(path)
	if err != nil {
		return false, err
	}
	if !found {
		c.path = nil
		return false, nil
	}
	c.path = next
	return c.clampToSubset(), nil
}

// RewindToValueOrSmaller moves backward to the largest key <= target,
// returning false if every key in the column is larger than target.
func (c *Cursor) RewindToValueOrSmaller(target uint64) (bool, error) {
	if c.empty {
		c.path = nil
		return false, nil
	}
	path, err := c.r.descendToKey(c.rootLoc, target)
	if err != nil {
		return false, err
	}
	leaf := path[len(path)-1]
	pos, ok := leafFloor(leaf.data, target)
	if ok {
		path[len(path)-1].pos = pos
		c.path = path
		return c.clampToSubset(), nil
	}
	prev, found, err := c.r.prevLeaf(path)
	if err != nil {
		return false, err
	}
	if !found {
		c.path = nil
		return false, nil
	}
	c.path = prev
	return c.clampToSubset(), nil
}

// SeekForwardUntil advances while pred(Key()) is false, stopping (and
// returning true) as soon as it's true, or returning false once the
// cursor runs past the last key.
func (c *Cursor) SeekForwardUntil(pred func(uint64) bool) (bool, error) {
	for c.HasValue() {
		if pred(c.Key()) {
			return true, nil
		}
		ok, err := c.MoveNext()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return false, nil
}

// SeekBackwardUntil is SeekForwardUntil's mirror image, retreating instead
// of advancing.
func (c *Cursor) SeekBackwardUntil(pred func(uint64) bool) (bool, error) {
	for c.HasValue() {
		if pred(c.Key()) {
			return true, nil
		}
		ok, err := c.MovePrev()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return false, nil
}

func leafCeil(d decodedDataBlock, target uint64) (int, bool) {
	lo, hi := 0, d.nValues
	for lo < hi {
		mid := (lo + hi) / 2
		if keyAt(d, Uint64Codec{}, mid) < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= d.nValues {
		return 0, false
	}
	return lo, true
}

func leafFloor(d decodedDataBlock, target uint64) (int, bool) {
	lo, hi := 0, d.nValues
	for lo < hi {
		mid := (lo + hi) / 2
		if keyAt(d, Uint64Codec{}, mid) <= target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0, false
	}
	return lo - 1, true
}
