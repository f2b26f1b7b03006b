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

package runtime

import "testing"

func TestAcquireSharesSingleInstance(t *testing.T) {
	s := NewLocalStore[int, *int]()
	builds := 0
	make1 := func() *int { builds++; v := 7; return &v }

	a := s.Acquire(1, make1)
	b := s.Acquire(1, make1)
	if a != b {
		t.Fatalf("Acquire returned distinct instances for the same id")
	}
	if builds != 1 {
		t.Fatalf("make called %d times, want 1", builds)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestReleaseDropsAndRebuilds(t *testing.T) {
	s := NewLocalStore[string, *int]()
	builds := 0
	make1 := func() *int { builds++; v := builds; return &v }

	first := s.Acquire("x", make1)
	s.Release("x")
	if s.Len() != 0 {
		t.Fatalf("Len() = %d after sole holder released, want 0", s.Len())
	}

	second := s.Acquire("x", make1)
	if first == second {
		t.Fatalf("expected a fresh instance after full release, got the same pointer")
	}
	if builds != 2 {
		t.Fatalf("make called %d times, want 2", builds)
	}
}

func TestMultipleHoldersKeepEntryAlive(t *testing.T) {
	s := NewLocalStore[int, *int]()
	make1 := func() *int { v := 1; return &v }

	s.Acquire(1, make1)
	s.Acquire(1, make1)
	s.Release(1)
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (one holder remaining)", s.Len())
	}
	s.Release(1)
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}
