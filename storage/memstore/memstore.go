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

// Package memstore is a pure heap-backed storage.Backend with no OS
// dependency at all, for use in tests and the in-process simulator path.
// Its executor runs every submitted function inline: there is no
// background goroutine to wait on, so block_on degenerates to a direct
// call.
package memstore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/flowcore/flowcore/storage"
)

type file struct {
	mu       sync.Mutex
	data     []byte
	sealed   bool
	written  []span
	deleted  bool
}

type span struct{ start, end int64 }

func (f *file) overlaps(start, end int64) bool {
	for _, s := range f.written {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}

// Store implements storage.Backend entirely over process memory.
//
// Statistics are accessed atomically the way tenant/dcache.Cache counts
// hits and misses, even though a heap-backed store has no real cache
// miss path — the counters exist so tests can assert on call volume.
type Store struct {
	// Logger, if non-nil, receives a line for every overlapping write and
	// every short read it rejects, matching the dcache.Logger convention.
	Logger Logger

	cache *storage.BufferCache

	mu    sync.Mutex
	files map[storage.FileHandle]*file
	next  int64

	reads, writes int64
}

// Logger is the narrow diagnostic sink threaded through storage,
// exchange, and input; its default is log.Default() at the call site
// that wires a Store together, not inside this package.
type Logger interface {
	Printf(format string, args ...any)
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		files: make(map[storage.FileHandle]*file),
		cache: storage.NewBufferCache(storage.DefaultCacheCapacity),
	}
}

func (s *Store) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// CreateNamed implements storage.StorageControl.
func (s *Store) CreateNamed(ctx context.Context, name string) (storage.FileHandle, error) {
	return s.create()
}

// Create implements storage.StorageControl. An in-memory file has no
// name: the UUID drawn here is discarded, and the file is known only by
// its handle.
func (s *Store) Create(ctx context.Context) (storage.FileHandle, error) {
	_ = uuid.NewString() // name is informational only for an in-memory store
	return s.create()
}

func (s *Store) create() (storage.FileHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	fd := storage.FileHandle(s.next)
	s.files[fd] = &file{}
	return fd, nil
}

// Complete implements storage.StorageControl.
func (s *Store) Complete(ctx context.Context, fd storage.FileHandle) (storage.ImmutableFileHandle, string, error) {
	s.mu.Lock()
	f, ok := s.files[fd]
	s.mu.Unlock()
	if !ok {
		return 0, "", errNoSuchFile
	}
	f.mu.Lock()
	f.sealed = true
	f.mu.Unlock()
	return storage.ImmutableFileHandle(fd), "memstore://" + uuid.NewString(), nil
}

// DeleteMut implements storage.StorageControl.
func (s *Store) DeleteMut(ctx context.Context, fd storage.FileHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, fd)
	return nil
}

// Delete implements storage.StorageControl.
func (s *Store) Delete(ctx context.Context, fd storage.ImmutableFileHandle) error {
	s.mu.Lock()
	delete(s.files, storage.FileHandle(fd))
	s.mu.Unlock()
	s.cache.Drop(fd)
	return nil
}

// WriteBlock implements storage.StorageWrite.
func (s *Store) WriteBlock(ctx context.Context, fd storage.FileHandle, offset int64, buf []byte) (storage.CachedBuf, error) {
	atomic.AddInt64(&s.writes, 1)
	if err := storage.CheckAlignment(offset, len(buf)); err != nil {
		return storage.CachedBuf{}, err
	}
	s.mu.Lock()
	f, ok := s.files[fd]
	s.mu.Unlock()
	if !ok {
		return storage.CachedBuf{}, errNoSuchFile
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	end := offset + int64(len(buf))
	if f.overlaps(offset, end) {
		s.logf("memstore: rejected overlapping write fd=%v [%d,%d)", fd, offset, end)
		return storage.CachedBuf{}, storage.ErrOverlappingWrites
	}
	if int64(len(f.data)) < end {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[offset:end], buf)
	f.written = append(f.written, span{offset, end})
	out := make([]byte, len(buf))
	copy(out, buf)
	return storage.CachedBuf{Data: out}, nil
}

// ReadBlock implements storage.StorageRead, consulting the shared buffer
// cache before touching the file's backing bytes.
func (s *Store) ReadBlock(ctx context.Context, fd storage.ImmutableFileHandle, offset int64, size int) (storage.CachedBuf, error) {
	atomic.AddInt64(&s.reads, 1)
	if err := storage.CheckAlignment(offset, size); err != nil {
		return storage.CachedBuf{}, err
	}
	if buf, ok := s.cache.Get(fd, offset); ok && len(buf.Data) == size {
		return buf, nil
	}
	s.mu.Lock()
	f, ok := s.files[storage.FileHandle(fd)]
	s.mu.Unlock()
	if !ok {
		return storage.CachedBuf{}, errNoSuchFile
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	end := offset + int64(size)
	if int64(len(f.data)) < end {
		s.logf("memstore: short read fd=%v want %d have %d", fd, end, len(f.data))
		return storage.CachedBuf{}, storage.ErrShortRead
	}
	out := make([]byte, size)
	copy(out, f.data[offset:end])
	cb := storage.CachedBuf{Data: out}
	s.cache.Put(fd, offset, cb)
	return cb, nil
}

// Prefetch implements storage.StorageRead as a no-op: there is no I/O
// latency in a heap-backed store to hide.
func (s *Store) Prefetch(ctx context.Context, fd storage.ImmutableFileHandle, offset int64, size int) {}

// GetSize implements storage.StorageRead.
func (s *Store) GetSize(ctx context.Context, fd storage.ImmutableFileHandle) (int64, error) {
	s.mu.Lock()
	f, ok := s.files[storage.FileHandle(fd)]
	s.mu.Unlock()
	if !ok {
		return 0, errNoSuchFile
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.data)), nil
}

// Run implements storage.StorageExecutor by calling fn inline: a
// heap-backed store has nothing to hand off to a background goroutine.
func (s *Store) Run(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	return fn(ctx)
}

var errNoSuchFile = errNoSuchFileError{}

type errNoSuchFileError struct{}

func (errNoSuchFileError) Error() string { return "memstore: no such file" }
