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

	"github.com/flowcore/flowcore/storage"
)

// treeBuilder accumulates one column's keys (plus, for every column but
// the last, the row-group boundary each key owns in the next column)
// into a B+-like block tree: data blocks are sealed whenever the next
// key would overflow maxBlockSize, and index blocks are sealed above
// them whenever a level accumulates more than maxBranch children —
// applied recursively until a single root remains.
type treeBuilder[K any] struct {
	store        storage.Backend
	ctx          context.Context
	fd           storage.FileHandle
	codec        Codec[K]
	maxBlockSize int
	maxBranch    int
	leaf         bool // true if this column has no next column (no row groups)

	pendingKeys   []K
	pendingBounds []int // len(pendingKeys)+1, present iff !leaf
	carryBound    int   // pendingBounds[0] for the next block, across seals
	alloc         *blockAllocator

	dataChildren []indexChild
	nRows        int
}

// blockAllocator hands out non-overlapping file offsets across every
// column tree writing to the same file handle: the column builders
// cannot each track their own offset independently, since they share one
// underlying file.
type blockAllocator struct {
	next int64
}

func (a *blockAllocator) alloc(size int) int64 {
	off := a.next
	a.next += int64(size)
	return off
}

func newTreeBuilder[K any](ctx context.Context, store storage.Backend, fd storage.FileHandle, codec Codec[K], maxBlockSize, maxBranch int, leaf bool, alloc *blockAllocator) *treeBuilder[K] {
	tb := &treeBuilder[K]{
		store: store, ctx: ctx, fd: fd, codec: codec,
		maxBlockSize: maxBlockSize, maxBranch: maxBranch, leaf: leaf, alloc: alloc,
	}
	if !leaf {
		tb.pendingBounds = []int{0}
	}
	return tb
}

// boundOf returns the uint64 used for an index block's bound-map entry
// for key k. The tree's index layer always keys on a uint64 projection
// of the column's key; Uint64Codec callers get an exact bound, other
// codecs should project a monotone uint64 summary (callers of this
// package only use Uint64Codec today).
func boundOf[K any](codec Codec[K], k K) uint64 {
	if u, ok := any(k).(uint64); ok {
		return u
	}
	return 0
}

// Push adds one key to the column. rowGroupEnd is the cumulative row
// count in the next column once this key's row group is included; it is
// ignored (and may be zero) for a leaf column.
func (tb *treeBuilder[K]) Push(key K, rowGroupEnd int) error {
	projected := tb.projectedSize(key)
	if len(tb.pendingKeys) > 0 && projected > tb.maxBlockSize {
		if err := tb.sealDataBlock(); err != nil {
			return err
		}
	}
	tb.pendingKeys = append(tb.pendingKeys, key)
	if !tb.leaf {
		tb.pendingBounds = append(tb.pendingBounds, rowGroupEnd)
		tb.carryBound = rowGroupEnd
	}
	tb.nRows++
	return nil
}

func (tb *treeBuilder[K]) projectedSize(next K) int {
	size := dataBlockHeaderCore
	for _, k := range tb.pendingKeys {
		size += tb.codec.Size(k)
	}
	size += tb.codec.Size(next)
	return size
}

func (tb *treeBuilder[K]) sealDataBlock() error {
	if len(tb.pendingKeys) == 0 {
		return nil
	}
	var bounds []int
	if !tb.leaf {
		bounds = tb.pendingBounds
	}
	enc := buildDataBlock(tb.codec, tb.pendingKeys, bounds)
	loc, err := tb.writeBlock(enc.bytes)
	if err != nil {
		return err
	}
	tb.dataChildren = append(tb.dataChildren, indexChild{
		bound:   boundOf(tb.codec, tb.pendingKeys[len(tb.pendingKeys)-1]),
		nRows:   enc.nRows,
		locator: loc,
	})
	tb.pendingKeys = nil
	if !tb.leaf {
		// Row-group bounds are global cumulative row counts in the next
		// column, not block-relative: the new block's bounds[0] must carry
		// over the last completed key's row-group end, not restart at 0.
		tb.pendingBounds = []int{tb.carryBound}
	}
	return nil
}

// writeBlock rounds buf up to the next power-of-two block size (minimum
// storage.BlockAlign, 4096, the layer file's own alignment requirement)
// and writes it via the storage backend,
// returning its locator.
func (tb *treeBuilder[K]) writeBlock(buf []byte) (storage.Locator, error) {
	size := storage.BlockAlign
	for size < len(buf) {
		size *= 2
	}
	padded := make([]byte, size)
	copy(padded, buf)
	offset := tb.alloc.alloc(size)
	if _, err := tb.store.WriteBlock(tb.ctx, tb.fd, offset, padded); err != nil {
		return 0, err
	}
	return storage.EncodeLocator(offset, size)
}

// Finish seals any buffered data block and recursively seals index
// levels above the data blocks until a single root index block (or, for
// a column with exactly one data block and no siblings, that data block
// itself) remains. It returns the root's locator and the column's total
// row count.
func (tb *treeBuilder[K]) Finish() (storage.Locator, int, error) {
	if err := tb.sealDataBlock(); err != nil {
		return 0, 0, err
	}
	level := tb.dataChildren
	childType := ChildData
	for len(level) > 1 {
		next, err := tb.sealIndexLevel(level, childType)
		if err != nil {
			return 0, 0, err
		}
		level = next
		childType = ChildIndex
	}
	if len(level) == 0 {
		return 0, 0, nil
	}
	return level[0].locator, tb.nRows, nil
}

func (tb *treeBuilder[K]) sealIndexLevel(children []indexChild, childType ChildType) ([]indexChild, error) {
	var out []indexChild
	for i := 0; i < len(children); i += tb.maxBranch {
		end := i + tb.maxBranch
		if end > len(children) {
			end = len(children)
		}
		group := children[i:end]
		buf := buildIndexBlock(group, childType)
		loc, err := tb.writeBlock(buf)
		if err != nil {
			return nil, err
		}
		rows := 0
		for _, c := range group {
			rows += c.nRows
		}
		out = append(out, indexChild{
			bound:   group[len(group)-1].bound,
			nRows:   rows,
			locator: loc,
		})
	}
	return out, nil
}
