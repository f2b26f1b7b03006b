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

package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/flowcore/flowcore/storage"
)

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	fd, err := s.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	block := make([]byte, 4096)
	for i := range block {
		block[i] = byte(i)
	}
	if _, err := s.WriteBlock(ctx, fd, 0, block); err != nil {
		t.Fatal(err)
	}
	ro, _, err := s.Complete(ctx, fd)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadBlock(ctx, ro, 0, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != string(block) {
		t.Fatalf("round trip mismatch")
	}
}

func TestOverlappingWriteRejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	fd, _ := s.Create(ctx)
	block := make([]byte, 4096)
	if _, err := s.WriteBlock(ctx, fd, 0, block); err != nil {
		t.Fatal(err)
	}
	_, err := s.WriteBlock(ctx, fd, 0, block)
	if !errors.Is(err, storage.ErrOverlappingWrites) {
		t.Fatalf("got %v, want ErrOverlappingWrites", err)
	}
}

func TestReadBlockIsServedFromCache(t *testing.T) {
	ctx := context.Background()
	s := New()
	fd, _ := s.Create(ctx)
	block := make([]byte, 4096)
	block[0] = 7
	if _, err := s.WriteBlock(ctx, fd, 0, block); err != nil {
		t.Fatal(err)
	}
	ro, _, err := s.Complete(ctx, fd)
	if err != nil {
		t.Fatal(err)
	}
	first, err := s.ReadBlock(ctx, ro, 0, 4096)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.ReadBlock(ctx, ro, 0, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if &first.Data[0] != &second.Data[0] {
		t.Fatalf("second ReadBlock did not come back from the buffer cache")
	}
}

func TestDeleteDropsCachedBlocks(t *testing.T) {
	ctx := context.Background()
	s := New()
	fd, _ := s.Create(ctx)
	block := make([]byte, 4096)
	s.WriteBlock(ctx, fd, 0, block)
	ro, _, _ := s.Complete(ctx, fd)
	if _, err := s.ReadBlock(ctx, ro, 0, 4096); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, ro); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.cache.Get(ro, 0); ok {
		t.Fatalf("cache still holds a block for a deleted file")
	}
}

func TestShortReadRejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	fd, _ := s.Create(ctx)
	block := make([]byte, 4096)
	s.WriteBlock(ctx, fd, 0, block)
	ro, _, _ := s.Complete(ctx, fd)
	_, err := s.ReadBlock(ctx, ro, 4096, 4096)
	if !errors.Is(err, storage.ErrShortRead) {
		t.Fatalf("got %v, want ErrShortRead", err)
	}
}
