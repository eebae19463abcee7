// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfq_test

import (
	"sync"
	"testing"

	"github.com/lfqkit/lfq"
)

func TestBasketQueueEmptyFresh(t *testing.T) {
	q := lfq.NewBasketQueue[int]()
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue on fresh queue should report empty")
	}
}

func TestBasketQueueSequential(t *testing.T) {
	q := lfq.NewBasketQueue[int]()
	for _, v := range []int{1, 2, 3} {
		q.Enqueue(v)
	}
	// Sequential enqueues from one goroutine always land in distinct
	// baskets in order, so draining a single-threaded producer reproduces
	// plain FIFO order.
	for _, want := range []int{1, 2, 3} {
		got, ok := q.Dequeue()
		if !ok || got != want {
			t.Fatalf("dequeue = (%d, %v), want (%d, true)", got, ok, want)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue on drained queue should report empty")
	}
}

// TestBasketQueueHighContention drives 8 producers pushing 1000 items
// each against 8 consumers: conservation, no duplication/fabrication, and
// per-producer FIFO must hold even though cross-producer order is not
// guaranteed (the whole point of sharing a basket).
func TestBasketQueueHighContention(t *testing.T) {
	if lfq.RaceEnabled {
		t.Skip("skip: lock-free algorithm uses cross-variable memory ordering")
	}
	q := lfq.NewBasketQueue[int]()
	mpmcLinearize(t, 8, 8, 1000, q.Enqueue, q.Dequeue)
}

func TestBasketQueueManyEnqueuersSameBasket(t *testing.T) {
	if lfq.RaceEnabled {
		t.Skip("skip: lock-free algorithm uses cross-variable memory ordering")
	}
	// Drives many goroutines to enqueue concurrently with no consumer
	// running, maximizing the odds several land in the same basket before
	// any dequeue happens.
	q := lfq.NewBasketQueue[int]()
	const n = 64
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(i)
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for range n {
		v, ok := q.Dequeue()
		if !ok {
			t.Fatal("dequeue reported empty before draining all enqueued values")
		}
		if seen[v] {
			t.Fatalf("value %d dequeued twice", v)
		}
		seen[v] = true
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue succeeded after draining all enqueued values")
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct values, want %d", len(seen), n)
	}
}

func TestBasketQueueEmptyObservation(t *testing.T) {
	if lfq.RaceEnabled {
		t.Skip("skip: lock-free algorithm uses cross-variable memory ordering")
	}
	q := lfq.NewBasketQueue[int]()
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				if _, ok := q.Dequeue(); ok {
					t.Error("dequeue succeeded on an empty queue")
					return
				}
			}
		}()
	}
	wg.Wait()
}
