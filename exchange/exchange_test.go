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

package exchange

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	flowruntime "github.com/flowcore/flowcore/runtime"
)

// TestScenarioS4ExchangeRounds mirrors scenario S4: N=16 workers run 2048
// rounds, each sending the round number to every peer; every worker must
// receive 16 copies of the current round, in sender order, every round.
func TestScenarioS4ExchangeRounds(t *testing.T) {
	const n = 16
	const rounds = 2048

	ex := New[int](n)
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)

	for w := 0; w < n; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			values := make([]int, n)
			for r := 0; r < rounds; r++ {
				for i := range values {
					values[i] = r
				}
				for !ex.TrySendAll(ctx, w, values) {
					runtime.Gosched()
				}
			}
		}()
	}

	for rcv := 0; rcv < n; rcv++ {
		rcv := rcv
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				got := make([]int, 0, n)
				for {
					ok := ex.TryReceiveAll(rcv, func(_ int, v int) {
						got = append(got, v)
					})
					if ok {
						break
					}
					runtime.Gosched()
				}
				if len(got) != n {
					errs <- fmt.Errorf("receiver %d round %d: got %d values, want %d", rcv, r, len(got), n)
					return
				}
				for s, v := range got {
					if v != r {
						errs <- fmt.Errorf("receiver %d round %d: value from sender %d = %d, want %d", rcv, r, s, v, r)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

// TestBackpressureAndRecovery covers property 8: a receiver that never
// drains holds every sender's ready_to_send false; once every receiver
// drains, every sender recovers without deadlock.
func TestBackpressureAndRecovery(t *testing.T) {
	const n = 3
	ex := New[int](n)
	ctx := context.Background()

	for w := 0; w < n; w++ {
		values := make([]int, n)
		for i := range values {
			values[i] = w
		}
		if !ex.TrySendAll(ctx, w, values) {
			t.Fatalf("TrySendAll(%d) rejected on an otherwise-idle exchange", w)
		}
	}

	time.Sleep(50 * time.Millisecond)
	for w := 0; w < n; w++ {
		if ex.ReadyToSend(w) {
			t.Fatalf("ReadyToSend(%d) = true before any receiver drained", w)
		}
	}

	for r := 0; r < n; r++ {
		got := make([]int, 0, n)
		ok := ex.TryReceiveAll(r, func(_ int, v int) { got = append(got, v) })
		if !ok {
			t.Fatalf("TryReceiveAll(%d) failed though all %d senders delivered", r, n)
		}
		for s, v := range got {
			if v != s {
				t.Fatalf("receiver %d got %d from sender %d, want %d", r, v, s, s)
			}
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for w := 0; w < n; w++ {
		for !ex.ReadyToSend(w) {
			if time.Now().After(deadline) {
				t.Fatalf("ReadyToSend(%d) never recovered after every receiver drained", w)
			}
			time.Sleep(time.Millisecond)
		}
	}
}

type fixedWorkerCount int

func (f fixedWorkerCount) NumWorkers() int { return int(f) }

// TestNewExchangeOperatorsPartitionAndCombine exercises the Sender/Receiver
// pair end to end: each worker partitions its own index to every peer,
// and each receiver sums what it's handed — the sum of 0..n-1.
func TestNewExchangeOperatorsPartitionAndCombine(t *testing.T) {
	const n = 4
	store := flowruntime.NewLocalStore[string, *Exchange[int]]()
	rt := fixedWorkerCount(n)

	partition := func(input int, out []int) []int {
		for i := 0; i < n; i++ {
			out = append(out, input)
		}
		return out
	}
	combine := func(acc *int, v int) { *acc += v }

	senders := make([]*Sender[int], n)
	receivers := make([]*Receiver[int], n)
	for w := 0; w < n; w++ {
		senders[w], receivers[w] = NewExchangeOperators(rt, store, w, "test-loc", partition, combine)
	}

	want := 0
	for w := 0; w < n; w++ {
		want += w
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	ctx := context.Background()
	for w := 0; w < n; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !senders[w].Send(ctx, w) {
				runtime.Gosched()
			}
		}()
	}
	for w := 0; w < n; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				sum, ok := receivers[w].Receive()
				if ok {
					if sum != want {
						errs <- fmt.Errorf("receiver %d: sum = %d, want %d", w, sum, want)
					}
					return
				}
				runtime.Gosched()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if store.Len() != 1 {
		t.Fatalf("store.Len() = %d, want 1 (one shared exchange for \"test-loc\")", store.Len())
	}

	for w := 0; w < n; w++ {
		senders[w].Close()
		receivers[w].Close()
	}
	if store.Len() != 0 {
		t.Fatalf("store.Len() = %d after closing every operator, want 0", store.Len())
	}
}

// TestOperatorCloseReleasesOnceRegardlessOfOrder covers the documented
// reference-counted destroy-on-last-drop lifecycle: closing a Sender and
// its paired Receiver in either order, any number of times, drops the
// store entry exactly once.
func TestOperatorCloseReleasesOnceRegardlessOfOrder(t *testing.T) {
	store := flowruntime.NewLocalStore[string, *Exchange[int]]()
	rt := fixedWorkerCount(2)
	noopPartition := func(input int, out []int) []int { return append(out, input, input) }
	noopCombine := func(acc *int, v int) {}

	sender, receiver := NewExchangeOperators(rt, store, 0, "loc-a", noopPartition, noopCombine)
	if store.Len() != 1 {
		t.Fatalf("store.Len() = %d after one NewExchangeOperators call, want 1", store.Len())
	}

	receiver.Close()
	if store.Len() != 0 {
		t.Fatalf("store.Len() = %d after Receiver.Close(), want 0", store.Len())
	}
	// Closing the Sender too (or again) must not double-release.
	sender.Close()
	sender.Close()
	receiver.Close()
	if store.Len() != 0 {
		t.Fatalf("store.Len() = %d after redundant closes, want 0", store.Len())
	}
}
