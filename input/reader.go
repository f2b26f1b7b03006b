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

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// followPollInterval is how long Run sleeps after a zero-byte read in
// follow mode before asking the source again.
const followPollInterval = 200 * time.Millisecond

// Offsets describes a byte range [Start, End) in the source, the unit
// Seek and Replay commands address and the unit Extended reports back.
type Offsets struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Metadata is the JSON envelope handed back through Consumer.Extended,
// naming the byte range a flush covered.
type Metadata struct {
	Offsets Offsets `json:"offsets"`
}

// Source is the byte-level transport a Reader drives: readable like any
// io.Reader, and seekable to an absolute offset for Seek/Replay.
type Source interface {
	io.Reader
	SeekTo(offset int64) error
}

// Logger is the narrow diagnostic sink threaded through storage,
// exchange, and input; its default is log.Default() at the call site
// that wires a Reader together, not inside this package.
type Logger interface {
	Printf(format string, args ...any)
}

// Consumer receives the side effects of a Reader's command loop:
// back-pressure limits, parse errors, flush/replay/EOI notifications,
// and fatal transport errors.
type Consumer interface {
	MaxBatchSize() int
	MaxQueuedRecords() int
	ParseErrors(errs []error)
	Buffered(addedRecords, addedBytes int)
	Extended(totalRecords int, metadata []byte)
	Replayed(records int)
	EOI()
	Error(isFatal bool, err error)
}

// Parser turns split records into whatever downstream representation
// the format produces, buffering them until Take flushes a batch.
type Parser interface {
	Splitter() Splitter
	InputChunk(record []byte) []error
	Len() int
	Take() (InputBuffer, bool)
}

// InputBuffer is one flushed batch of parsed records, opaque to this
// package beyond its size — Payload is whatever the Parser implementation
// produces for the downstream ingestion step to consume.
type InputBuffer struct {
	Records int
	Bytes   int
	Payload any
}

type command interface{ isCommand() }

type extendCmd struct{}
type queueCmd struct{}
type seekCmd struct{ meta Offsets }
type replayCmd struct{ meta Offsets }
type disconnectCmd struct{}

func (extendCmd) isCommand()     {}
func (queueCmd) isCommand()      {}
func (seekCmd) isCommand()       {}
func (replayCmd) isCommand()     {}
func (disconnectCmd) isCommand() {}

type pendingRange struct{ start, end int64 }

// Reader drives one Source through a buffer/splitter/parser pipeline,
// reacting to Extend/Queue/Seek/Replay/Disconnect commands issued from
// another goroutine. Run executes the command loop; it returns once
// Disconnect has been processed.
type Reader struct {
	consumer Consumer
	parser   Parser
	source   Source
	follow   bool
	buffer   *Buffer

	// Logger, if non-nil, receives a line for every record with parse
	// errors, every fatal transport error, and reaching end of input.
	Logger Logger

	// OnFlush, if set, receives every batch Take() produces during a
	// Queue flush, before Extended is reported. It is the seam to
	// whatever ingests parsed records next.
	OnFlush func(InputBuffer)

	mu           sync.Mutex
	cmds         []command
	extending    bool
	eof          bool
	disconnected bool
	queued       int
	ranges       []pendingRange
	queuedRecs   int

	wake chan struct{}
}

// Open constructs a Reader positioned at startOffset. follow controls
// whether a zero-byte read means end-of-input (false) or "wait for
// more" (true).
func Open(consumer Consumer, parser Parser, source Source, startOffset int64, follow bool) *Reader {
	rd := &Reader{
		consumer: consumer,
		parser:   parser,
		source:   source,
		follow:   follow,
		wake:     make(chan struct{}, 1),
	}
	rd.buffer = NewBuffer(parser.Splitter())
	rd.buffer.start = startOffset
	return rd
}

func (rd *Reader) logf(format string, args ...any) {
	if rd.Logger != nil {
		rd.Logger.Printf(format, args...)
	}
}

func (rd *Reader) pushCmd(c command) {
	rd.mu.Lock()
	rd.cmds = append(rd.cmds, c)
	rd.mu.Unlock()
	rd.notify()
}

func (rd *Reader) notify() {
	select {
	case rd.wake <- struct{}{}:
	default:
	}
}

// Extend lets the loop resume reading bytes and splitting records.
func (rd *Reader) Extend() { rd.pushCmd(extendCmd{}) }

// Queue flushes parsed records to Take and reports Extended once.
func (rd *Reader) Queue() { rd.pushCmd(queueCmd{}) }

// Seek repositions the source, discarding any buffered partial record.
func (rd *Reader) Seek(meta Offsets) { rd.pushCmd(seekCmd{meta}) }

// Replay re-reads [meta.Start, meta.End) and reparses it, reporting
// Replayed with the record count once the whole range has been fed.
func (rd *Reader) Replay(meta Offsets) { rd.pushCmd(replayCmd{meta}) }

// Disconnect tells Run to stop after draining pending commands.
func (rd *Reader) Disconnect() { rd.pushCmd(disconnectCmd{}) }

// Run executes the command loop until Disconnect is processed. It is
// meant to run on its own goroutine.
func (rd *Reader) Run() {
	for {
		rd.drainCommands()
		rd.mu.Lock()
		disconnected := rd.disconnected
		canStep := rd.extending && (!rd.eof || rd.follow) && rd.queued < rd.consumer.MaxQueuedRecords()
		rd.mu.Unlock()
		if disconnected {
			return
		}
		if !canStep {
			rd.park()
			continue
		}
		rd.step()
	}
}

func (rd *Reader) park() {
	<-rd.wake
}

func (rd *Reader) sleepFollow() {
	select {
	case <-rd.wake:
	case <-time.After(followPollInterval):
	}
}

func (rd *Reader) drainCommands() {
	rd.mu.Lock()
	cmds := rd.cmds
	rd.cmds = nil
	rd.mu.Unlock()

	for _, c := range cmds {
		switch cmd := c.(type) {
		case extendCmd:
			rd.mu.Lock()
			rd.extending = true
			rd.mu.Unlock()
		case queueCmd:
			rd.flushQueue()
		case seekCmd:
			rd.doSeek(cmd.meta)
		case replayCmd:
			rd.doReplay(cmd.meta)
		case disconnectCmd:
			rd.mu.Lock()
			rd.disconnected = true
			rd.mu.Unlock()
		}
	}
}

// step drains every record currently splittable, asks the source for
// more bytes, and records the byte range it covered for the next Queue
// flush.
func (rd *Reader) step() {
	startPos := rd.buffer.Position()
	recs := rd.drainReady()

	n, err := rd.buffer.Read(rd.source, -1)
	if err != nil {
		rd.fail(err)
		return
	}

	if n == 0 {
		if !rd.follow {
			if rec, ok := rd.buffer.FinalChunk(); ok {
				recs += rd.parseOne(rec)
			}
			rd.recordRange(startPos, rd.buffer.Position(), recs)
			rd.mu.Lock()
			rd.eof = true
			rd.mu.Unlock()
			rd.logf("input: reached end of input")
			rd.consumer.EOI()
			return
		}
		rd.recordRange(startPos, rd.buffer.Position(), recs)
		rd.sleepFollow()
		return
	}

	recs += rd.drainReady()
	rd.recordRange(startPos, rd.buffer.Position(), recs)
	if recs > 0 {
		rd.consumer.Buffered(recs, n)
	}
}

func (rd *Reader) drainReady() int {
	n := 0
	for {
		rec, ok := rd.buffer.Next()
		if !ok {
			return n
		}
		n += rd.parseOne(rec)
	}
}

func (rd *Reader) parseOne(rec []byte) int {
	if errs := rd.parser.InputChunk(rec); len(errs) > 0 {
		rd.logf("input: %d parse error(s) in record: %v", len(errs), errs[0])
		rd.consumer.ParseErrors(errs)
	}
	return 1
}

func (rd *Reader) recordRange(start, end int64, recs int) {
	if recs == 0 {
		return
	}
	rd.mu.Lock()
	rd.ranges = append(rd.ranges, pendingRange{start, end})
	rd.queuedRecs += recs
	rd.queued += recs
	rd.mu.Unlock()
}

func (rd *Reader) flushQueue() {
	max := rd.consumer.MaxBatchSize()
	for flushed := 0; flushed < max; {
		buf, ok := rd.parser.Take()
		if !ok {
			break
		}
		if rd.OnFlush != nil {
			rd.OnFlush(buf)
		}
		flushed += buf.Records
	}

	rd.mu.Lock()
	ranges := rd.ranges
	rd.ranges = nil
	total := rd.queuedRecs
	rd.queuedRecs = 0
	rd.queued = 0
	rd.mu.Unlock()

	if total == 0 {
		return
	}
	meta, _ := json.Marshal(Metadata{Offsets: coveringRange(ranges)})
	rd.consumer.Extended(total, meta)
}

func coveringRange(ranges []pendingRange) Offsets {
	if len(ranges) == 0 {
		return Offsets{}
	}
	lo, hi := ranges[0].start, ranges[0].end
	for _, r := range ranges[1:] {
		if r.start < lo {
			lo = r.start
		}
		if r.end > hi {
			hi = r.end
		}
	}
	return Offsets{Start: uint64(lo), End: uint64(hi)}
}

func (rd *Reader) doSeek(meta Offsets) {
	if err := rd.source.SeekTo(int64(meta.End)); err != nil {
		rd.fail(err)
		return
	}
	rd.buffer.Seek(int64(meta.End))
	rd.mu.Lock()
	rd.eof = false
	rd.mu.Unlock()
}

// doReplay re-seeks to meta.Start and re-reads exactly meta.End-meta.Start
// bytes, retrying partial reads until the range is fully consumed. A
// source that ends before the range is filled is a fatal error: the
// range was promised to have already been durably written once.
func (rd *Reader) doReplay(meta Offsets) {
	if err := rd.source.SeekTo(int64(meta.Start)); err != nil {
		rd.fail(err)
		return
	}
	rd.buffer.Seek(int64(meta.Start))

	recs := 0
	remaining := int64(meta.End - meta.Start)
	for remaining > 0 {
		recs += rd.drainReady()
		n, err := rd.buffer.Read(rd.source, int(remaining))
		if err != nil {
			rd.fail(err)
			return
		}
		if n == 0 {
			rd.fail(fmt.Errorf("input: source ended before replay range [%d,%d) was consumed", meta.Start, meta.End))
			return
		}
		remaining -= int64(n)
	}
	recs += rd.drainReady()
	rd.consumer.Replayed(recs)
}

func (rd *Reader) fail(err error) {
	rd.mu.Lock()
	rd.disconnected = true
	rd.mu.Unlock()
	rd.logf("input: fatal transport error: %v", err)
	rd.consumer.Error(true, err)
}
