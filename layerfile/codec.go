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

// Codec serializes and deserializes a column's key (or auxiliary) values
// to and from the block's byte layout. A fixed-size codec (Size always
// returning the same value for every v) lets the writer/reader use direct
// stride indexing instead of a value-map lookup, per the "fixed-length
// data items may omit value_map" note in the format specification.
type Codec[T any] interface {
	// Size returns the encoded length of v.
	Size(v T) int
	// Fixed reports whether every value encodes to the same length; if
	// true, Size must return that constant length for any v.
	Fixed() bool
	// Encode appends the encoding of v to dst and returns the result.
	Encode(dst []byte, v T) []byte
	// Decode reads one value starting at src[0] and returns it along
	// with the number of bytes consumed.
	Decode(src []byte) (T, int)
	// Compare orders two encoded values the same way the in-memory
	// zset.Ordered[T] comparator would.
	Compare(a, b T) int
}

// Uint64Codec encodes uint64 values as fixed 8-byte little-endian
// fields, suitable for both key and auxiliary columns of integer data.
type Uint64Codec struct{}

func (Uint64Codec) Size(uint64) int  { return 8 }
func (Uint64Codec) Fixed() bool      { return true }
func (Uint64Codec) Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (Uint64Codec) Encode(dst []byte, v uint64) []byte {
	var buf [8]byte
	byteOrder.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func (Uint64Codec) Decode(src []byte) (uint64, int) {
	return byteOrder.Uint64(src[:8]), 8
}
