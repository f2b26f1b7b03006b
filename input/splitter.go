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

// Package input implements the format-agnostic half of a streaming
// transport reader: a byte splitter state machine plus the
// extend/queue/seek/replay/disconnect command loop that drives it. The
// splitter oracle and the record parser are both injected, so this
// package never looks at record contents.
package input

import "bytes"

// Splitter locates record boundaries in raw bytes. Given the bytes
// offered so far, it reports the offset one past the end of the next
// complete record, or false if none is found yet.
type Splitter interface {
	Input(b []byte) (int, bool)
	Clear()
}

// LineSplitter splits on '\n', the boundary oracle used by line-oriented
// formats (CSV, NDJSON). The delimiter is included in the emitted record.
type LineSplitter struct{}

func (LineSplitter) Input(b []byte) (int, bool) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return 0, false
	}
	return i + 1, true
}

func (LineSplitter) Clear() {}
