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

package storage

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrBadLocator is returned when a 64-bit value does not decode to a
// valid block locator.
var ErrBadLocator = errors.New("storage: invalid block locator")

const (
	locatorLogSizeBits = 5
	locatorLogSizeMask = 1<<locatorLogSizeBits - 1
	locatorOffsetShift = 7
	minLog2Size        = 12 // 4096
	maxLog2Size        = 31
)

// Locator packs a block's (offset, size) into a single 64-bit value: the
// low 5 bits hold log2(size), and the byte offset is the remaining bits
// shifted right by 7 (offset is always 4 KiB/2^12-aligned, so shifting
// right by 7 leaves 5 zero low bits for log2(size) to occupy without
// collision). A locator is valid only if offset is 4 KiB-aligned and
// 12 <= log2(size) <= 31.
type Locator uint64

// EncodeLocator packs offset and size into a Locator. It returns
// ErrBadLocator if offset isn't block-aligned or size isn't a power of
// two in [4096, 2^31].
func EncodeLocator(offset int64, size int) (Locator, error) {
	if offset < 0 || offset%BlockAlign != 0 {
		return 0, fmt.Errorf("%w: offset %d not %d-aligned", ErrBadLocator, offset, BlockAlign)
	}
	if size <= 0 || size&(size-1) != 0 {
		return 0, fmt.Errorf("%w: size %d not a power of two", ErrBadLocator, size)
	}
	log2Size := bits.TrailingZeros(uint(size))
	if log2Size < minLog2Size || log2Size > maxLog2Size {
		return 0, fmt.Errorf("%w: log2(size)=%d out of range [%d,%d]", ErrBadLocator, log2Size, minLog2Size, maxLog2Size)
	}
	return Locator(uint64(offset)>>locatorOffsetShift | uint64(log2Size)), nil
}

// Decode unpacks the locator into its offset and size, validating both
// against the same constraints EncodeLocator enforces.
func (l Locator) Decode() (offset int64, size int, err error) {
	log2Size := int(uint64(l) & locatorLogSizeMask)
	if log2Size < minLog2Size || log2Size > maxLog2Size {
		return 0, 0, fmt.Errorf("%w: log2(size)=%d out of range [%d,%d]", ErrBadLocator, log2Size, minLog2Size, maxLog2Size)
	}
	off := int64((uint64(l) &^ locatorLogSizeMask) << locatorOffsetShift)
	if off%BlockAlign != 0 {
		return 0, 0, fmt.Errorf("%w: offset %d not %d-aligned", ErrBadLocator, off, BlockAlign)
	}
	return off, 1 << log2Size, nil
}
