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

// Config bounds the block tree a Writer produces.
type Config struct {
	// MaxBlockSize is the largest a data block may grow before it's
	// sealed; index blocks are bounded by MaxBranch only. The actual
	// on-disk block is rounded up to the next power-of-two, 4 KiB-aligned
	// size as storage requires.
	MaxBlockSize int
	// MaxBranch bounds how many children an index block may reference
	// before a new index level is built above it.
	MaxBranch int
}

// DefaultConfig matches typical layer-file tuning: blocks stay well under
// the 4 KiB minimum block size's near neighbors, and a branching factor
// generous enough to keep small trees flat.
var DefaultConfig = Config{MaxBlockSize: 3072, MaxBranch: 64}

// Writer builds a one- or two-column layer file in a single streaming
// pass: PushRow is called once per column-0 key with that key's full
// ordered row group of column-1 keys, exactly the "finished row" feed
// the format's index-block row-totals rely on. Data blocks of both
// columns are sealed as they fill; the last partial data block and the
// index levels above each column's data blocks are sealed in Finish.
type Writer struct {
	ctx   context.Context
	store storage.Backend
	fd    storage.FileHandle
	cfg   Config

	col0  *treeBuilder[uint64]
	col1  *treeBuilder[uint64] // nil for a single-column file
	alloc *blockAllocator
}

// NewWriter opens fd (already created via storage.StorageControl) for a
// layer file with the given number of columns (1 or 2; see DESIGN.md for
// why a third column isn't wired in this build). Block offset 0 is
// reserved for the header, which Finish writes after both column trees
// and before the trailer and footer.
func NewWriter(ctx context.Context, store storage.Backend, fd storage.FileHandle, columns int, cfg Config) *Writer {
	alloc := &blockAllocator{next: storage.BlockAlign}
	w := &Writer{ctx: ctx, store: store, fd: fd, cfg: cfg, alloc: alloc}
	w.col0 = newTreeBuilder[uint64](ctx, store, fd, Uint64Codec{}, cfg.MaxBlockSize, cfg.MaxBranch, columns == 1, alloc)
	if columns == 2 {
		w.col1 = newTreeBuilder[uint64](ctx, store, fd, Uint64Codec{}, cfg.MaxBlockSize, cfg.MaxBranch, true, alloc)
	}
	return w
}

// PushRow writes one column-0 key together with its full, ordered
// column-1 row group (empty for a single-column file).
func (w *Writer) PushRow(key0 uint64, subkeys []uint64) error {
	if w.col1 != nil {
		for _, k := range subkeys {
			if err := w.col1.Push(k, 0); err != nil {
				return err
			}
		}
	}
	rowGroupEnd := 0
	if w.col1 != nil {
		rowGroupEnd = w.col1.nRows
	}
	return w.col0.Push(key0, rowGroupEnd)
}

// Finish seals both column trees, writes the trailer, and returns it
// (the caller still owes a StorageControl.Complete call on the file
// handle — Writer only knows about block content, not file sealing).
func (w *Writer) Finish() (Trailer, error) {
	trailer := Trailer{Version: FormatVersion}
	loc0, n0, err := w.col0.Finish()
	if err != nil {
		return Trailer{}, err
	}
	off0, size0, err := decodeLocatorOrZero(loc0)
	if err != nil {
		return Trailer{}, err
	}
	trailer.Columns = append(trailer.Columns, ColumnTrailer{IndexOffset: off0, IndexSize: uint32(size0), NRows: uint64(n0)})
	trailer.ColumnCount = 1

	if w.col1 != nil {
		loc1, n1, err := w.col1.Finish()
		if err != nil {
			return Trailer{}, err
		}
		off1, size1, err := decodeLocatorOrZero(loc1)
		if err != nil {
			return Trailer{}, err
		}
		trailer.Columns = append(trailer.Columns, ColumnTrailer{IndexOffset: off1, IndexSize: uint32(size1), NRows: uint64(n1)})
		trailer.ColumnCount = 2
	}

	header := encodeHeader(Header{Version: FormatVersion, ColumnCount: trailer.ColumnCount})
	if _, err := w.store.WriteBlock(w.ctx, w.fd, 0, padToBlock(header)); err != nil {
		return Trailer{}, err
	}

	trailerBytes := encodeTrailer(trailer)
	trailerSize := storage.BlockAlign
	for trailerSize < len(trailerBytes) {
		trailerSize *= 2
	}
	trailerOffset := w.alloc.alloc(trailerSize)
	if _, err := w.store.WriteBlock(w.ctx, w.fd, trailerOffset, padToBlock(trailerBytes)); err != nil {
		return Trailer{}, err
	}

	footerOffset := w.alloc.alloc(storage.BlockAlign)
	footer := encodeFooter(trailerOffset, uint32(trailerSize))
	if _, err := w.store.WriteBlock(w.ctx, w.fd, footerOffset, footer); err != nil {
		return Trailer{}, err
	}
	return trailer, nil
}

func decodeLocatorOrZero(loc storage.Locator) (int64, int, error) {
	if loc == 0 {
		return 0, 0, nil
	}
	return loc.Decode()
}

func padToBlock(buf []byte) []byte {
	size := storage.BlockAlign
	for size < len(buf) {
		size *= 2
	}
	out := make([]byte, size)
	copy(out, buf)
	return out
}
