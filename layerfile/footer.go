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

// MagicFooter tags the fixed-size, always-last block of a layer file
// that lets a reader locate the variable-sized trailer without scanning:
// the specification fixes the trailer's own byte layout but leaves
// trailer *discovery* unspecified, so this package always appends one
// exactly-4-KiB footer block pointing at the trailer's offset and size.
var MagicFooter = [4]byte{'L', 'F', 'F', 'P'}

func encodeFooter(trailerOffset int64, trailerSize uint32) []byte {
	buf := make([]byte, storage.BlockAlign)
	copy(buf[4:8], MagicFooter[:])
	byteOrder.PutUint64(buf[8:16], uint64(trailerOffset))
	byteOrder.PutUint32(buf[16:20], trailerSize)
	byteOrder.PutUint32(buf[0:4], checksum(buf[4:20]))
	return buf
}

func decodeFooter(buf []byte) (trailerOffset int64, trailerSize uint32, err error) {
	if len(buf) < 20 {
		return 0, 0, fmt.Errorf("%w: footer", ErrTruncated)
	}
	if got := checksum(buf[4:20]); got != byteOrder.Uint32(buf[0:4]) {
		return 0, 0, fmt.Errorf("%w: footer", ErrChecksumMismatch)
	}
	if err := checkMagic(buf[4:8], MagicFooter); err != nil {
		return 0, 0, err
	}
	trailerOffset = int64(byteOrder.Uint64(buf[8:16]))
	trailerSize = byteOrder.Uint32(buf[16:20])
	return trailerOffset, trailerSize, nil
}
