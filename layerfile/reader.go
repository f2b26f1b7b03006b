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
	"fmt"

	"github.com/flowcore/flowcore/storage"
)

// Reader opens a completed layer file for cursor navigation. It holds no
// file content beyond the header and trailer: every block a Cursor visits
// is re-read from the backend (which may itself cache it).
type Reader struct {
	ctx   context.Context
	store storage.StorageRead
	fd    storage.ImmutableFileHandle

	Header  Header
	Trailer Trailer
}

// Open reads the fixed footer block at the end of fd to locate the
// trailer, then reads the trailer and the header. The footer isn't part
// of the format the writer's byte-layout section describes block-by-block
// (header, data blocks, index blocks, trailer) — it's this package's own
// bootstrap mechanism for finding the trailer without a linear scan.
func Open(ctx context.Context, store storage.StorageRead, fd storage.ImmutableFileHandle) (*Reader, error) {
	size, err := store.GetSize(ctx, fd)
	if err != nil {
		return nil, err
	}
	if size < storage.BlockAlign*2 {
		return nil, fmt.Errorf("%w: file too short to hold header and footer", ErrTruncated)
	}

	footerOffset := size - storage.BlockAlign
	footerBuf, err := store.ReadBlock(ctx, fd, footerOffset, storage.BlockAlign)
	if err != nil {
		return nil, err
	}
	trailerOffset, trailerSize, err := decodeFooter(footerBuf.Data)
	if err != nil {
		return nil, err
	}

	trailerBuf, err := store.ReadBlock(ctx, fd, trailerOffset, int(trailerSize))
	if err != nil {
		return nil, err
	}
	trailer, err := decodeTrailer(trailerBuf.Data)
	if err != nil {
		return nil, err
	}

	headerBuf, err := store.ReadBlock(ctx, fd, 0, storage.BlockAlign)
	if err != nil {
		return nil, err
	}
	header, err := decodeHeader(headerBuf.Data)
	if err != nil {
		return nil, err
	}

	return &Reader{ctx: ctx, store: store, fd: fd, Header: header, Trailer: trailer}, nil
}

// NumColumns reports how many columns the file holds (1 or 2).
func (r *Reader) NumColumns() int { return len(r.Trailer.Columns) }

// Column opens a Cursor over column i, starting unpositioned: call First,
// Last, AdvanceToValueOrLarger, or RewindToValueOrSmaller before reading.
func (r *Reader) Column(i int) (*Cursor, error) {
	if i < 0 || i >= len(r.Trailer.Columns) {
		return nil, fmt.Errorf("layerfile: column %d out of range (have %d)", i, len(r.Trailer.Columns))
	}
	ct := r.Trailer.Columns[i]
	c := &Cursor{r: r, column: i}
	if ct.IndexSize == 0 {
		c.empty = true
		return c, nil
	}
	loc, err := storage.EncodeLocator(ct.IndexOffset, int(ct.IndexSize))
	if err != nil {
		return nil, err
	}
	c.rootLoc = loc
	return c, nil
}

func (r *Reader) readBlock(offset int64, size int) ([]byte, error) {
	buf, err := r.store.ReadBlock(r.ctx, r.fd, offset, size)
	if err != nil {
		return nil, err
	}
	return buf.Data, nil
}

func (r *Reader) loadFrame(loc storage.Locator) (blockFrame, error) {
	offset, size, err := loc.Decode()
	if err != nil {
		return blockFrame{}, fmt.Errorf("%w: %w", ErrBadLocator, err)
	}
	buf, err := r.readBlock(offset, size)
	if err != nil {
		return blockFrame{}, err
	}
	if len(buf) < 8 {
		return blockFrame{}, fmt.Errorf("%w: block shorter than magic field", ErrTruncated)
	}
	var magic [4]byte
	copy(magic[:], buf[4:8])
	switch magic {
	case MagicDataBlock:
		d, err := decodeDataBlock(buf)
		if err != nil {
			return blockFrame{}, err
		}
		return blockFrame{isIndex: false, data: d}, nil
	case MagicIndexBlock:
		d, err := decodeIndexBlock(buf)
		if err != nil {
			return blockFrame{}, err
		}
		return blockFrame{isIndex: true, idx: d}, nil
	default:
		return blockFrame{}, fmt.Errorf("%w: got %q", ErrBadMagic, magic[:])
	}
}

func (r *Reader) descendLeftmost(loc storage.Locator) ([]blockFrame, error) {
	var path []blockFrame
	for {
		f, err := r.loadFrame(loc)
		if err != nil {
			return nil, err
		}
		if !f.isIndex {
			f.pos = 0
			path = append(path, f)
			return path, nil
		}
		f.pos = 0
		path = append(path, f)
		loc = f.idx.childLocator(0)
	}
}

func (r *Reader) descendRightmost(loc storage.Locator) ([]blockFrame, error) {
	var path []blockFrame
	for {
		f, err := r.loadFrame(loc)
		if err != nil {
			return nil, err
		}
		if !f.isIndex {
			f.pos = f.data.nValues - 1
			path = append(path, f)
			return path, nil
		}
		f.pos = f.idx.nChildren - 1
		path = append(path, f)
		loc = f.idx.childLocator(f.pos)
	}
}

// descendToKey walks the tree choosing, at every index level, the first
// child whose bound covers key (the child that would hold key if it's
// present at all).
func (r *Reader) descendToKey(loc storage.Locator, key uint64) ([]blockFrame, error) {
	var path []blockFrame
	for {
		f, err := r.loadFrame(loc)
		if err != nil {
			return nil, err
		}
		if !f.isIndex {
			path = append(path, f)
			return path, nil
		}
		idx := f.idx.findChild(key)
		if idx >= f.idx.nChildren {
			idx = f.idx.nChildren - 1
		}
		f.pos = idx
		path = append(path, f)
		loc = f.idx.childLocator(idx)
	}
}

// descendToRow walks the tree choosing, at every index level, the child
// owning the given global row number.
func (r *Reader) descendToRow(loc storage.Locator, row int) ([]blockFrame, error) {
	var path []blockFrame
	for {
		f, err := r.loadFrame(loc)
		if err != nil {
			return nil, err
		}
		if !f.isIndex {
			f.pos = row
			path = append(path, f)
			return path, nil
		}
		idx := f.idx.findChildForRow(row)
		if idx >= f.idx.nChildren {
			idx = f.idx.nChildren - 1
		}
		base := 0
		if idx > 0 {
			base = f.idx.rowTotal(idx)
		}
		f.pos = idx
		path = append(path, f)
		row -= base
		loc = f.idx.childLocator(idx)
	}
}

// nextLeaf returns the path to the leaf immediately following the one
// path currently ends on, by walking up to the nearest ancestor with an
// unvisited sibling and descending leftmost from there.
func (r *Reader) nextLeaf(path []blockFrame) ([]blockFrame, bool, error) {
	for i := len(path) - 2; i >= 0; i-- {
		if path[i].pos+1 < path[i].idx.nChildren {
			newPath := append([]blockFrame{}, path[:i+1]...)
			newPath[i].pos++
			loc := newPath[i].idx.childLocator(newPath[i].pos)
			rest, err := r.descendLeftmost(loc)
			if err != nil {
				return nil, false, err
			}
			return append(newPath, rest...), true, nil
		}
	}
	return nil, false, nil
}

// prevLeaf is nextLeaf's mirror image, descending rightmost into the
// nearest preceding unvisited sibling.
func (r *Reader) prevLeaf(path []blockFrame) ([]blockFrame, bool, error) {
	for i := len(path) - 2; i >= 0; i-- {
		if path[i].pos > 0 {
			newPath := append([]blockFrame{}, path[:i+1]...)
			newPath[i].pos--
			loc := newPath[i].idx.childLocator(newPath[i].pos)
			rest, err := r.descendRightmost(loc)
			if err != nil {
				return nil, false, err
			}
			return append(newPath, rest...), true, nil
		}
	}
	return nil, false, nil
}
