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

import "fmt"

// dataBlockHeaderCore is the fixed part of a data block header, before
// 16-byte padding: checksum(4) + magic(4) + n_values(4) +
// value_map_offset(4) + row_groups_offset(4) + value_map width
// selector(1) + row_groups width selector(1). A selector of 0 means that
// array is absent (fixed-stride keys, or a leaf column with no row
// groups).
const dataBlockHeaderCore = 22

// encodedDataBlock is a data block built by the writer before it knows
// its own file offset (and hence before a locator can be computed for
// it).
type encodedDataBlock struct {
	bytes  []byte
	nRows  int // number of keys (== number of row groups, if any)
}

// buildDataBlock lays out one data block: n values from a single column,
// plus, for every column but the last, the row-group boundary each value
// owns in the next column (rowGroupBounds has len(keys)+1 entries when
// non-nil, rowGroupBounds[i]..rowGroupBounds[i+1] being the range owned
// by keys[i]).
func buildDataBlock[K any](codec Codec[K], keys []K, rowGroupBounds []int) encodedDataBlock {
	n := len(keys)

	keyBytes := make([]byte, 0, n*8)
	var keyOffsets []int
	if !codec.Fixed() {
		keyOffsets = make([]int, 0, n+1)
	}
	for _, k := range keys {
		if keyOffsets != nil {
			keyOffsets = append(keyOffsets, len(keyBytes))
		}
		keyBytes = codec.Encode(keyBytes, k)
	}
	if keyOffsets != nil {
		keyOffsets = append(keyOffsets, len(keyBytes))
	}

	header := make([]byte, dataBlockHeaderCore)
	copy(header[4:8], MagicDataBlock[:])
	byteOrder.PutUint32(header[8:12], uint32(n))

	body := make([]byte, 0, len(keyBytes)+64)
	body = append(body, keyBytes...)

	valueMapWidth := 0
	valueMapOffset := 0
	if keyOffsets != nil {
		maxOff := uint64(keyOffsets[len(keyOffsets)-1])
		valueMapWidth = varintWidth(maxOff)
		align := varintAlign(valueMapWidth)
		body = padAlign(body, align)
		valueMapOffset = dataBlockHeaderCore + len(body)
		for _, off := range keyOffsets {
			var tmp [8]byte
			putVarWidth(tmp[:], valueMapWidth, uint64(off))
			body = append(body, tmp[:valueMapWidth]...)
		}
	}

	rowGroupsWidth := 0
	rowGroupsOffset := 0
	if rowGroupBounds != nil {
		maxBound := uint64(rowGroupBounds[len(rowGroupBounds)-1])
		rowGroupsWidth = varintWidth(maxBound)
		align := varintAlign(rowGroupsWidth)
		body = padAlign(body, align)
		rowGroupsOffset = dataBlockHeaderCore + len(body)
		for _, b := range rowGroupBounds {
			var tmp [8]byte
			putVarWidth(tmp[:], rowGroupsWidth, uint64(b))
			body = append(body, tmp[:rowGroupsWidth]...)
		}
	}

	byteOrder.PutUint32(header[12:16], uint32(valueMapOffset))
	byteOrder.PutUint32(header[16:20], uint32(rowGroupsOffset))
	header[20] = byte(valueMapWidth)
	header[21] = byte(rowGroupsWidth)

	full := make([]byte, 0, padTo16(dataBlockHeaderCore)+len(body))
	full = append(full, header...)
	full = padAlign(full, 16)
	full = append(full, body...)
	byteOrder.PutUint32(full[0:4], checksum(full[4:]))

	return encodedDataBlock{bytes: full, nRows: n}
}

func padAlign(b []byte, align int) []byte {
	if align <= 1 {
		return b
	}
	for len(b)%align != 0 {
		b = append(b, 0)
	}
	return b
}

// decodedDataBlock is a parsed data block ready for cursor navigation.
type decodedDataBlock struct {
	raw             []byte
	nValues         int
	valueMapOffset  int
	rowGroupsOffset int
	valueMapWidth   int
	rowGroupsWidth  int
	keysStart       int
}

func decodeDataBlock(buf []byte) (decodedDataBlock, error) {
	if len(buf) < dataBlockHeaderCore {
		return decodedDataBlock{}, fmt.Errorf("%w: data block header", ErrTruncated)
	}
	if got := checksum(buf[4:]); got != byteOrder.Uint32(buf[0:4]) {
		return decodedDataBlock{}, fmt.Errorf("%w: data block", ErrChecksumMismatch)
	}
	if err := checkMagic(buf[4:8], MagicDataBlock); err != nil {
		return decodedDataBlock{}, err
	}
	d := decodedDataBlock{
		raw:             buf,
		nValues:         int(byteOrder.Uint32(buf[8:12])),
		valueMapOffset:  int(byteOrder.Uint32(buf[12:16])),
		rowGroupsOffset: int(byteOrder.Uint32(buf[16:20])),
		valueMapWidth:   int(buf[20]),
		rowGroupsWidth:  int(buf[21]),
		keysStart:       padTo16(dataBlockHeaderCore),
	}
	return d, nil
}

// keyAt decodes the i'th key using codec, locating it either by direct
// stride (fixed-size codec) or through the value map (variable-size).
func keyAt[K any](d decodedDataBlock, codec Codec[K], i int) K {
	if codec.Fixed() {
		sz := codec.Size(*new(K))
		v, _ := codec.Decode(d.raw[d.keysStart+i*sz:])
		return v
	}
	off := int(getVarWidth(d.raw[d.valueMapOffset+i*d.valueMapWidth:], d.valueMapWidth))
	v, _ := codec.Decode(d.raw[d.keysStart+off:])
	return v
}

// rowGroupBound returns the row-group boundary at index i (0..nValues),
// i.e. the number of next-column rows, counted from the start of the
// whole column, that precede the row group of this block's i'th key.
func (d decodedDataBlock) rowGroupBound(i int) int {
	return int(getVarWidth(d.raw[d.rowGroupsOffset+i*d.rowGroupsWidth:], d.rowGroupsWidth))
}

func (d decodedDataBlock) hasRowGroups() bool { return d.rowGroupsWidth > 0 }
