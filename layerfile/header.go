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

// Header is the fixed-offset-0 block every layer file begins with.
type Header struct {
	Version     uint32
	ColumnCount uint32
}

// headerSize is fixed: checksum(4) + magic(4) + version(4) + columns(4).
const headerSize = 16

func encodeHeader(h Header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[4:8], MagicHeader[:])
	byteOrder.PutUint32(buf[8:12], h.Version)
	byteOrder.PutUint32(buf[12:16], h.ColumnCount)
	byteOrder.PutUint32(buf[0:4], checksum(buf[4:]))
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, fmt.Errorf("%w: header", ErrTruncated)
	}
	if got := checksum(buf[4:headerSize]); got != byteOrder.Uint32(buf[0:4]) {
		return Header{}, fmt.Errorf("%w: header", ErrChecksumMismatch)
	}
	if err := checkMagic(buf[4:8], MagicHeader); err != nil {
		return Header{}, err
	}
	h := Header{
		Version:     byteOrder.Uint32(buf[8:12]),
		ColumnCount: byteOrder.Uint32(buf[12:16]),
	}
	if h.Version != FormatVersion {
		return Header{}, fmt.Errorf("%w: got %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

// ColumnTrailer describes where one column's root index structures live.
type ColumnTrailer struct {
	IndexOffset int64
	IndexSize   uint32
	NRows       uint64
}

// Trailer is the final block of a layer file: one ColumnTrailer per
// column, in column order.
type Trailer struct {
	Version     uint32
	ColumnCount uint32
	Columns     []ColumnTrailer
}

func encodeTrailer(t Trailer) []byte {
	body := 8 + len(t.Columns)*20 // version+columns(8) + per-column(20)
	buf := make([]byte, 4+4+body)
	copy(buf[4:8], MagicTrailer[:])
	byteOrder.PutUint32(buf[8:12], t.Version)
	byteOrder.PutUint32(buf[12:16], t.ColumnCount)
	off := 16
	for _, c := range t.Columns {
		byteOrder.PutUint64(buf[off:off+8], uint64(c.IndexOffset))
		byteOrder.PutUint32(buf[off+8:off+12], c.IndexSize)
		byteOrder.PutUint64(buf[off+12:off+20], c.NRows)
		off += 20
	}
	byteOrder.PutUint32(buf[0:4], checksum(buf[4:]))
	return buf
}

func decodeTrailer(buf []byte) (Trailer, error) {
	if len(buf) < 16 {
		return Trailer{}, fmt.Errorf("%w: trailer", ErrTruncated)
	}
	if got := checksum(buf[4:]); got != byteOrder.Uint32(buf[0:4]) {
		return Trailer{}, fmt.Errorf("%w: trailer", ErrChecksumMismatch)
	}
	if err := checkMagic(buf[4:8], MagicTrailer); err != nil {
		return Trailer{}, err
	}
	t := Trailer{
		Version:     byteOrder.Uint32(buf[8:12]),
		ColumnCount: byteOrder.Uint32(buf[12:16]),
	}
	off := 16
	for i := uint32(0); i < t.ColumnCount; i++ {
		if off+20 > len(buf) {
			return Trailer{}, fmt.Errorf("%w: trailer column %d", ErrTruncated, i)
		}
		t.Columns = append(t.Columns, ColumnTrailer{
			IndexOffset: int64(byteOrder.Uint64(buf[off : off+8])),
			IndexSize:   byteOrder.Uint32(buf[off+8 : off+12]),
			NRows:       byteOrder.Uint64(buf[off+12 : off+20]),
		})
		off += 20
	}
	return t, nil
}
