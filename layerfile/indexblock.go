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
	"fmt"

	"github.com/flowcore/flowcore/storage"
)

// indexBlockHeaderCore: checksum(4) + magic(4) + bound_map_offset(4) +
// row_totals_offset(4) + child_ptr_offset(4) + n_children(2) +
// child_type(1) + bound/row-total/child-ptr width selectors(3).
const indexBlockHeaderCore = 26

// indexChild is one entry the writer accumulates while building an index
// block: the bound (inclusive upper key) of the child's range, the
// number of rows it covers, and its locator once sealed.
type indexChild struct {
	bound   uint64
	nRows   int
	locator storage.Locator
}

func buildIndexBlock(children []indexChild, childType ChildType) []byte {
	n := len(children)

	var maxBound, maxRowTotal, maxLocator uint64
	cum := 0
	for _, c := range children {
		if c.bound > maxBound {
			maxBound = c.bound
		}
		cum += c.nRows
		if uint64(cum) > maxRowTotal {
			maxRowTotal = uint64(cum)
		}
		if uint64(c.locator) > maxLocator {
			maxLocator = uint64(c.locator)
		}
	}
	boundWidth := varintWidth(maxBound)
	rowTotalWidth := varintWidth(maxRowTotal)
	childPtrWidth := varintWidth(maxLocator)

	header := make([]byte, indexBlockHeaderCore)
	copy(header[4:8], MagicIndexBlock[:])
	byteOrder.PutUint16(header[20:22], uint16(n))
	header[22] = byte(childType)
	header[23] = byte(boundWidth)
	header[24] = byte(rowTotalWidth)
	header[25] = byte(childPtrWidth)

	body := make([]byte, 0, n*(8+8+8))

	boundMapOffset := indexBlockHeaderCore + len(body)
	for _, c := range children {
		var tmp [8]byte
		putVarWidth(tmp[:], boundWidth, c.bound)
		body = append(body, tmp[:boundWidth]...)
	}

	body = padAlign(body, varintAlign(rowTotalWidth))
	rowTotalsOffset := indexBlockHeaderCore + len(body)
	cum = 0
	// row totals has n+1 entries: cumulative row count before child i.
	var tmp [8]byte
	putVarWidth(tmp[:], rowTotalWidth, 0)
	body = append(body, tmp[:rowTotalWidth]...)
	for _, c := range children {
		cum += c.nRows
		putVarWidth(tmp[:], rowTotalWidth, uint64(cum))
		body = append(body, tmp[:rowTotalWidth]...)
	}

	body = padAlign(body, varintAlign(childPtrWidth))
	childPtrOffset := indexBlockHeaderCore + len(body)
	for _, c := range children {
		putVarWidth(tmp[:], childPtrWidth, uint64(c.locator))
		body = append(body, tmp[:childPtrWidth]...)
	}

	byteOrder.PutUint32(header[8:12], uint32(boundMapOffset))
	byteOrder.PutUint32(header[12:16], uint32(rowTotalsOffset))
	byteOrder.PutUint32(header[16:20], uint32(childPtrOffset))

	full := make([]byte, 0, padTo16(indexBlockHeaderCore)+len(body))
	full = append(full, header...)
	full = padAlign(full, 16)
	full = append(full, body...)
	byteOrder.PutUint32(full[0:4], checksum(full[4:]))
	return full
}

type decodedIndexBlock struct {
	raw             []byte
	nChildren       int
	childType       ChildType
	boundMapOffset  int
	rowTotalsOffset int
	childPtrOffset  int
	boundWidth      int
	rowTotalWidth   int
	childPtrWidth   int
}

func decodeIndexBlock(buf []byte) (decodedIndexBlock, error) {
	if len(buf) < indexBlockHeaderCore {
		return decodedIndexBlock{}, fmt.Errorf("%w: index block header", ErrTruncated)
	}
	if got := checksum(buf[4:]); got != byteOrder.Uint32(buf[0:4]) {
		return decodedIndexBlock{}, fmt.Errorf("%w: index block", ErrChecksumMismatch)
	}
	if err := checkMagic(buf[4:8], MagicIndexBlock); err != nil {
		return decodedIndexBlock{}, err
	}
	d := decodedIndexBlock{
		raw:             buf,
		boundMapOffset:  int(byteOrder.Uint32(buf[8:12])),
		rowTotalsOffset: int(byteOrder.Uint32(buf[12:16])),
		childPtrOffset:  int(byteOrder.Uint32(buf[16:20])),
		nChildren:       int(byteOrder.Uint16(buf[20:22])),
		childType:       ChildType(buf[22]),
		boundWidth:      int(buf[23]),
		rowTotalWidth:   int(buf[24]),
		childPtrWidth:   int(buf[25]),
	}
	return d, nil
}

func (d decodedIndexBlock) bound(i int) uint64 {
	return getVarWidth(d.raw[d.boundMapOffset+i*d.boundWidth:], d.boundWidth)
}

func (d decodedIndexBlock) rowTotal(i int) int {
	return int(getVarWidth(d.raw[d.rowTotalsOffset+i*d.rowTotalWidth:], d.rowTotalWidth))
}

func (d decodedIndexBlock) childLocator(i int) storage.Locator {
	return storage.Locator(getVarWidth(d.raw[d.childPtrOffset+i*d.childPtrWidth:], d.childPtrWidth))
}

// findChild returns the index of the first child whose bound is >= key.
func (d decodedIndexBlock) findChild(key uint64) int {
	lo, hi := 0, d.nChildren
	for lo < hi {
		mid := (lo + hi) / 2
		if d.bound(mid) >= key {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// findChildForRow returns the index of the child owning the given global
// row number, using the cumulative row-totals array.
func (d decodedIndexBlock) findChildForRow(row int) int {
	lo, hi := 0, d.nChildren
	for lo < hi {
		mid := (lo + hi) / 2
		if d.rowTotal(mid+1) > row {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}
