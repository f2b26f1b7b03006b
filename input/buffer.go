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

package input

import "io"

// Buffer is a growable byte window over a splitter oracle. It tracks
// three monotone markers into data:
//
//   - fragStart: offset of the next byte not yet emitted as a record
//   - fed:       offset one past the last byte already offered to the splitter
//   - fragEnd:   offset one past the last byte read from the source
//
// start is the absolute stream position of data[0], so Position()
// reports an absolute offset usable across Seek/Replay.
type Buffer struct {
	splitter Splitter
	data     []byte
	start    int64
	fragStart,
	fragEnd,
	fed int
}

// NewBuffer returns an empty buffer driven by splitter.
func NewBuffer(splitter Splitter) *Buffer {
	return &Buffer{splitter: splitter, data: make([]byte, 4096)}
}

// Position reports the absolute stream offset of the next unemitted byte.
func (b *Buffer) Position() int64 { return b.start + int64(b.fragStart) }

// Next offers the unfed bytes to the splitter. If it finds a boundary,
// Next emits the record from fragStart up to and including that
// boundary and advances fragStart/fed past it.
func (b *Buffer) Next() ([]byte, bool) {
	n, ok := b.splitter.Input(b.data[b.fed:b.fragEnd])
	if !ok {
		b.fed = b.fragEnd
		return nil, false
	}
	end := b.fed + n
	rec := b.data[b.fragStart:end]
	b.fed = end
	b.fragStart = end
	return rec, true
}

// FinalChunk emits whatever bytes remain unconsumed when the source has
// hit EOF and the splitter found no further boundary — the trailing
// partial record a format may still accept (e.g. a line missing its
// final newline).
func (b *Buffer) FinalChunk() ([]byte, bool) {
	if b.fragStart >= b.fragEnd {
		return nil, false
	}
	rec := b.data[b.fragStart:b.fragEnd]
	b.fragStart = b.fragEnd
	b.fed = b.fragEnd
	return rec, true
}

// SpareCapacityMut compacts consumed bytes out of the front of data,
// growing the backing array if it's still full afterward, and returns
// the writable tail.
func (b *Buffer) SpareCapacityMut() []byte {
	if b.fragStart > 0 {
		n := copy(b.data, b.data[b.fragStart:b.fragEnd])
		b.start += int64(b.fragStart)
		b.fed -= b.fragStart
		b.fragEnd = n
		b.fragStart = 0
	}
	if b.fragEnd == len(b.data) {
		grown := make([]byte, len(b.data)*2)
		copy(grown, b.data[:b.fragEnd])
		b.data = grown
	}
	return b.data[b.fragEnd:]
}

// AddedData records that n bytes were written into the slice most
// recently returned by SpareCapacityMut.
func (b *Buffer) AddedData(n int) { b.fragEnd += n }

// Read performs at most one underlying read into spare capacity,
// bounded by max bytes (max<0 means unbounded — use all spare capacity
// SpareCapacityMut currently offers). It reports 0 bytes and no error
// both when the source has nothing available right now and when it has
// hit a clean EOF; the caller decides what that means (end of file vs.
// wait and retry in follow mode).
func (b *Buffer) Read(source io.Reader, max int) (int, error) {
	spare := b.SpareCapacityMut()
	if max >= 0 && len(spare) > max {
		spare = spare[:max]
	}
	n, err := source.Read(spare)
	if n > 0 {
		b.AddedData(n)
	}
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

// Seek repositions the buffer to an absolute offset, discarding any
// buffered bytes and resetting the splitter so it doesn't carry state
// across the discontinuity.
func (b *Buffer) Seek(offset int64) {
	b.start = offset
	b.fragStart, b.fragEnd, b.fed = 0, 0, 0
	b.splitter.Clear()
}
