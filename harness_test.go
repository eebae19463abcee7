// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfq_test

import (
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/iox"
)

// =============================================================================
// Shared stress-test helpers
// =============================================================================

// encode packs a producer id and sequence number into one int value:
// producerID*100000 + sequence.
func encode(producer, seq int) int {
	return producer*100000 + seq
}

func decode(v int) (producer, seq int) {
	return v / 100000, v % 100000
}

// mpmcLinearize drives numP producers, each enqueuing itemsPerProducer
// values via enqueue, and numC consumers draining exactly the expected
// total via dequeue. It checks conservation, no-duplication,
// no-fabrication, and per-producer FIFO.
//
// Per-producer FIFO is checked within each consumer's own dequeue
// sequence, not across consumers: two consumers may dequeue adjacent
// values and record them out of order, so a global observation order is
// not the queue's linearization order. Within one consumer the dequeues
// are totally ordered in real time, so any inversion it observes is the
// queue's.
func mpmcLinearize(t *testing.T, numP, numC, itemsPerProducer int, enqueue func(v int), dequeue func() (int, bool)) {
	t.Helper()

	total := numP * itemsPerProducer
	var wg sync.WaitGroup
	for p := range numP {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for seq := range itemsPerProducer {
				enqueue(encode(p, seq))
			}
		}(p)
	}

	var mu sync.Mutex
	var consumed int
	perConsumer := make([][]int, numC)
	var cwg sync.WaitGroup
	for c := range numC {
		cwg.Add(1)
		go func(c int) {
			defer cwg.Done()
			backoff := iox.Backoff{}
			for {
				mu.Lock()
				done := consumed >= total
				mu.Unlock()
				if done {
					return
				}
				v, ok := dequeue()
				if !ok {
					backoff.Wait()
					continue
				}
				backoff.Reset()
				perConsumer[c] = append(perConsumer[c], v)
				mu.Lock()
				consumed++
				mu.Unlock()
			}
		}(c)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); cwg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatalf("timed out draining %d producers / %d consumers", numP, numC)
	}

	// Conservation, no duplication, no fabrication: every (producer, seq)
	// pair must appear exactly once across all consumers.
	seen := make(map[int]int, total)
	got := 0
	for _, vs := range perConsumer {
		got += len(vs)
		for _, v := range vs {
			seen[v]++
		}
	}
	if got != total {
		t.Fatalf("conservation: got %d values, want %d", got, total)
	}
	for p := range numP {
		for seq := range itemsPerProducer {
			want := encode(p, seq)
			if seen[want] != 1 {
				t.Fatalf("no-duplication/no-fabrication: value %d seen %d times, want 1", want, seen[want])
			}
		}
	}

	// Per-producer FIFO, per consumer.
	for c, vs := range perConsumer {
		lastSeq := make(map[int]int, numP)
		for p := range numP {
			lastSeq[p] = -1
		}
		for _, v := range vs {
			p, seq := decode(v)
			if seq <= lastSeq[p] {
				t.Fatalf("per-producer FIFO violated: consumer %d saw producer %d seq %d after %d", c, p, seq, lastSeq[p])
			}
			lastSeq[p] = seq
		}
	}
}
