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

// Package posixstore is a storage.Backend over real files, using
// golang.org/x/sys/unix's Pread/Pwrite/Fallocate directly rather than
// os.File's serialized offset, and a small worker-pool executor (modeled
// on tenant/dcache's queue.out channel + worker goroutines) so Run can
// hand work to a background goroutine and block the caller on a result
// channel.
package posixstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/flowcore/flowcore/storage"
)

// Logger is the narrow diagnostic sink threaded through this package,
// matching tenant/dcache.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

type job struct {
	fn  func(ctx context.Context) (any, error)
	ctx context.Context
	ret chan result
}

type result struct {
	val any
	err error
}

// Store is a storage.Backend rooted at a single directory on a local
// POSIX file system.
type Store struct {
	Logger Logger

	cache *storage.BufferCache

	dir     string
	jobs    chan job
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool

	mu      sync.Mutex
	open    map[storage.FileHandle]*os.File
	sealed  map[storage.FileHandle]bool
	written map[storage.FileHandle][]span
	next    int64
}

type span struct{ start, end int64 }

// New starts a Store rooted at dir with the given number of background
// worker goroutines driving Run.
func New(dir string, workers int) *Store {
	if workers < 1 {
		workers = 1
	}
	s := &Store{
		cache:   storage.NewBufferCache(storage.DefaultCacheCapacity),
		dir:     dir,
		jobs:    make(chan job),
		open:    make(map[storage.FileHandle]*os.File),
		sealed:  make(map[storage.FileHandle]bool),
		written: make(map[storage.FileHandle][]span),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Store) worker() {
	defer s.wg.Done()
	for j := range s.jobs {
		val, err := j.fn(j.ctx)
		j.ret <- result{val, err}
	}
}

// Close stops accepting new work and waits for in-flight jobs to finish.
func (s *Store) Close() {
	s.closeMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.closeMu.Unlock()
	s.wg.Wait()
}

// Run implements storage.StorageExecutor by handing fn to a worker
// goroutine and blocking until it completes.
func (s *Store) Run(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	ret := make(chan result, 1)
	s.jobs <- job{fn: fn, ctx: ctx, ret: ret}
	r := <-ret
	return r.val, r.err
}

func (s *Store) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// CreateNamed implements storage.StorageControl.
func (s *Store) CreateNamed(ctx context.Context, name string) (storage.FileHandle, error) {
	return s.create(name)
}

// Create implements storage.StorageControl, naming the file
// uuid.NewString()+".layer" the way the reference backend names
// anonymous files via Uuid::now_v7().
func (s *Store) Create(ctx context.Context) (storage.FileHandle, error) {
	return s.create(uuid.NewString() + ".layer")
}

func (s *Store) create(name string) (storage.FileHandle, error) {
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, &storage.StdIoError{Err: err}
	}
	s.mu.Lock()
	s.next++
	fd := storage.FileHandle(s.next)
	s.open[fd] = f
	s.mu.Unlock()
	return fd, nil
}

// Complete implements storage.StorageControl.
func (s *Store) Complete(ctx context.Context, fd storage.FileHandle) (storage.ImmutableFileHandle, string, error) {
	s.mu.Lock()
	f, ok := s.open[fd]
	if ok {
		s.sealed[fd] = true
	}
	s.mu.Unlock()
	if !ok {
		return 0, "", fmt.Errorf("posixstore: no such file %v", fd)
	}
	return storage.ImmutableFileHandle(fd), f.Name(), nil
}

// DeleteMut implements storage.StorageControl.
func (s *Store) DeleteMut(ctx context.Context, fd storage.FileHandle) error {
	return s.remove(fd)
}

// Delete implements storage.StorageControl.
func (s *Store) Delete(ctx context.Context, fd storage.ImmutableFileHandle) error {
	return s.remove(storage.FileHandle(fd))
}

func (s *Store) remove(fd storage.FileHandle) error {
	s.mu.Lock()
	f, ok := s.open[fd]
	if ok {
		delete(s.open, fd)
		delete(s.sealed, fd)
		delete(s.written, fd)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("posixstore: no such file %v", fd)
	}
	s.cache.Drop(storage.ImmutableFileHandle(fd))
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		return &storage.StdIoError{Err: err}
	}
	return nil
}

func (s *Store) overlaps(fd storage.FileHandle, start, end int64) bool {
	for _, sp := range s.written[fd] {
		if start < sp.end && sp.start < end {
			return true
		}
	}
	return false
}

// WriteBlock implements storage.StorageWrite via unix.Pwrite, after
// reserving the file's backing space with Fallocate so the write cannot
// observe a short allocation under concurrent writers.
func (s *Store) WriteBlock(ctx context.Context, fd storage.FileHandle, offset int64, buf []byte) (storage.CachedBuf, error) {
	if err := storage.CheckAlignment(offset, len(buf)); err != nil {
		return storage.CachedBuf{}, err
	}
	s.mu.Lock()
	f, ok := s.open[fd]
	if ok {
		if s.overlaps(fd, offset, offset+int64(len(buf))) {
			s.mu.Unlock()
			s.logf("posixstore: rejected overlapping write fd=%v [%d,%d)", fd, offset, offset+int64(len(buf)))
			return storage.CachedBuf{}, storage.ErrOverlappingWrites
		}
		s.written[fd] = append(s.written[fd], span{offset, offset + int64(len(buf))})
	}
	s.mu.Unlock()
	if !ok {
		return storage.CachedBuf{}, fmt.Errorf("posixstore: no such file %v", fd)
	}
	if err := unix.Fallocate(int(f.Fd()), 0, offset, int64(len(buf))); err != nil {
		return storage.CachedBuf{}, &storage.StdIoError{Err: err}
	}
	n, err := unix.Pwrite(int(f.Fd()), buf, offset)
	if err != nil {
		return storage.CachedBuf{}, &storage.StdIoError{Err: err}
	}
	if n != len(buf) {
		return storage.CachedBuf{}, &storage.StdIoError{Err: fmt.Errorf("short write: %d of %d bytes", n, len(buf))}
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return storage.CachedBuf{Data: out}, nil
}

// ReadBlock implements storage.StorageRead via unix.Pread, consulting the
// shared buffer cache first so repeated descents into a hot index block
// or the trailer don't re-enter the kernel.
func (s *Store) ReadBlock(ctx context.Context, fd storage.ImmutableFileHandle, offset int64, size int) (storage.CachedBuf, error) {
	if err := storage.CheckAlignment(offset, size); err != nil {
		return storage.CachedBuf{}, err
	}
	if buf, ok := s.cache.Get(fd, offset); ok && len(buf.Data) == size {
		return buf, nil
	}
	s.mu.Lock()
	f, ok := s.open[storage.FileHandle(fd)]
	s.mu.Unlock()
	if !ok {
		return storage.CachedBuf{}, fmt.Errorf("posixstore: no such file %v", fd)
	}
	buf := make([]byte, size)
	n, err := unix.Pread(int(f.Fd()), buf, offset)
	if err != nil {
		return storage.CachedBuf{}, &storage.StdIoError{Err: err}
	}
	if n != size {
		s.logf("posixstore: short read fd=%v want %d have %d", fd, size, n)
		return storage.CachedBuf{}, storage.ErrShortRead
	}
	cb := storage.CachedBuf{Data: buf}
	s.cache.Put(fd, offset, cb)
	return cb, nil
}

// Prefetch implements storage.StorageRead with unix.Fadvise's
// FADV_WILLNEED hint.
func (s *Store) Prefetch(ctx context.Context, fd storage.ImmutableFileHandle, offset int64, size int) {
	s.mu.Lock()
	f, ok := s.open[storage.FileHandle(fd)]
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = unix.Fadvise(int(f.Fd()), offset, int64(size), unix.FADV_WILLNEED)
}

// GetSize implements storage.StorageRead.
func (s *Store) GetSize(ctx context.Context, fd storage.ImmutableFileHandle) (int64, error) {
	s.mu.Lock()
	f, ok := s.open[storage.FileHandle(fd)]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("posixstore: no such file %v", fd)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, &storage.StdIoError{Err: err}
	}
	return info.Size(), nil
}
