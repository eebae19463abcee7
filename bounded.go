// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfq

import (
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

// slotState is the two-bit state of one bounded-queue slot. The low bit
// is the phase (A/B); the high bit marks occupancy (VALID/NULL). A slot
// cycles NULL_B → VALID_A → NULL_A → VALID_B → NULL_B → ..., which
// encodes an unbounded counter modulo 4 and is the queue's ABA defense:
// revisiting the same slot always produces a different (data, state)
// pair than any state previously observed there.
type slotState uint64

const (
	slotNullA  slotState = 0
	slotValidA slotState = 2
	slotNullB  slotState = 1
	slotValidB slotState = 3
)

func (s slotState) valid() bool {
	return s == slotValidA || s == slotValidB
}

// nextNullPhase returns the NULL state that follows a successful dequeue
// of a slot in state s (phase kept; only occupancy clears).
func nextNullPhase(s slotState) slotState {
	if s == slotValidA {
		return slotNullA
	}
	return slotNullB
}

// nextValidPhase returns the VALID state that follows a successful
// enqueue into a slot observed in NULL state s (phase flips).
func nextValidPhase(s slotState) slotState {
	if s == slotNullA {
		return slotValidB
	}
	return slotValidA
}

// bqSlot holds one ring-buffer entry: a two-bit state and a reference to
// its payload, updated together as a single CAS2 word (lo = state, hi =
// pointer to a boxed T) so a reader can never observe state and data from
// two different generations of the slot. A generic T does not in general
// fit in a machine word, so the payload is boxed once per enqueue and the
// box's pointer bits are packed into the Uint128 high half.
//
// entry's pointer half is a bare bit pattern, invisible to the garbage
// collector. root shadows whichever box is currently installed with a
// real, GC-visible pointer, set the instant a box is published into
// entry and cleared once Dequeue has read it back out, so a box sitting
// enqueued between operations always has something rooting it.
type bqSlot[T any] struct {
	_     pad
	entry atomix.Uint128
	root  atomic.Pointer[byte]
}

func boxed[T any](v T) unsafe.Pointer {
	p := new(T)
	*p = v
	return unsafe.Pointer(p)
}

// BoundedQueue is a fixed-capacity multi-producer/multi-consumer FIFO
// queue implementing the Tsigas–Zhang array-based algorithm: a ring
// buffer of slots, each carrying the four-state occupancy/phase cycle
// above, with head and tail plain indices advanced by single-word CAS.
// An operation commits by CAS on the slot first; the index CAS that
// follows is best-effort and self-healing. The tag must keep the full
// four-state cycle: dropping the phase bit would reintroduce ABA on
// fast wraparound.
type BoundedQueue[T any] struct {
	_        pad
	tail     atomix.Uint64
	_        pad
	head     atomix.Uint64
	_        pad
	slots    []bqSlot[T]
	capacity uint64 // number of usable slots
	size     uint64 // len(slots) == capacity + 1
}

// NewBoundedQueue creates a bounded queue holding up to capacity values.
// Panics if capacity < 1.
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	if capacity < 1 {
		panic("lfq: capacity must be >= 1")
	}

	n := uint64(capacity)
	size := n + 1
	q := &BoundedQueue[T]{
		slots:    make([]bqSlot[T], size),
		capacity: n,
		size:     size,
	}

	// slots[0] starts NULL_A (the initial head); slots[1..n] start NULL_B.
	q.slots[0].entry.StoreRelaxed(uint64(slotNullA), 0)
	for i := uint64(1); i < size; i++ {
		q.slots[i].entry.StoreRelaxed(uint64(slotNullB), 0)
	}
	q.head.StoreRelaxed(0)
	q.tail.StoreRelaxed(1)

	return q
}

// Cap returns the queue's usable capacity.
func (q *BoundedQueue[T]) Cap() int {
	return int(q.capacity)
}

// Enqueue adds value to the queue. Returns false if the queue was
// observed full; never blocks.
func (q *BoundedQueue[T]) Enqueue(value T) bool {
	sw := spin.Wait{}
	for {
		tail := q.tail.LoadAcquire()
		idx := tail % q.size
		state, old := q.slots[idx].entry.LoadAcquire()

		// Walk forward over VALID slots if tail lags behind the real end
		// of the occupied region. The walk stops short of head's slot:
		// that slot is the empty sentinel and must never be filled, or
		// full and empty become indistinguishable.
		stale := false
		for slotState(state).valid() {
			if tail != q.tail.LoadAcquire() {
				stale = true
				break
			}
			next := (idx + 1) % q.size
			if next == q.head.LoadAcquire() {
				break // may be full
			}
			idx = next
			state, old = q.slots[idx].entry.LoadAcquire()
		}
		if stale {
			sw.Once()
			continue
		}

		head := q.head.LoadAcquire()
		if slotState(state).valid() || idx == head {
			// Every slot up to head's sentinel is occupied. Full, unless
			// a dequeue has emptied the slot after head but not yet
			// moved head itself.
			headNext := (head + 1) % q.size
			headState, _ := q.slots[headNext].entry.LoadAcquire()
			if slotState(headState).valid() {
				return false // genuinely full
			}
			// help the lagging consumer index catch up, then retry.
			q.head.CompareAndSwapAcqRel(head, headNext)
			sw.Once()
			continue
		}

		newState := nextValidPhase(slotState(state))
		payload := boxed(value)
		if q.slots[idx].entry.CompareAndSwapAcqRel(state, old, uint64(newState), uint64(uintptr(payload))) {
			q.slots[idx].root.Store((*byte)(payload))
			q.tail.CompareAndSwapAcqRel(tail, (idx+1)%q.size)
			return true
		}
		sw.Once()
	}
}

// EnqueueRepeat retries Enqueue until it succeeds, backing off with a
// doubling wait between attempts. Intended for callers that know
// consumers will drain the queue soon.
func (q *BoundedQueue[T]) EnqueueRepeat(value T) {
	backoff := iox.Backoff{}
	for !q.Enqueue(value) {
		backoff.Wait()
	}
}

// Dequeue removes and returns a value from the queue. Returns (zero,
// false) if the queue was observed empty; never blocks.
func (q *BoundedQueue[T]) Dequeue() (T, bool) {
	var zero T
	sw := spin.Wait{}
	for {
		head := q.head.LoadAcquire()
		idx := (head + 1) % q.size
		state, payload := q.slots[idx].entry.LoadAcquire()

		// Walk forward over NULL slots if head lags behind the real start
		// of the occupied region. The walk stops at tail's slot: past it
		// there is nothing left to consume.
		stale := false
		for !slotState(state).valid() {
			if head != q.head.LoadAcquire() {
				stale = true
				break
			}
			if idx == q.tail.LoadAcquire()%q.size {
				break // may be empty
			}
			idx = (idx + 1) % q.size
			state, payload = q.slots[idx].entry.LoadAcquire()
		}
		if stale {
			sw.Once()
			continue
		}

		if !slotState(state).valid() {
			// Walked to tail's slot without finding a value. Empty,
			// unless an enqueue has filled the slot at tail but not yet
			// moved tail itself.
			tail := q.tail.LoadAcquire()
			tailState, _ := q.slots[tail%q.size].entry.LoadAcquire()
			if !slotState(tailState).valid() {
				return zero, false // genuinely empty
			}
			// help the lagging producer index catch up, then retry.
			q.tail.CompareAndSwapAcqRel(tail, (tail+1)%q.size)
			sw.Once()
			continue
		}

		newState := nextNullPhase(slotState(state))
		if q.slots[idx].entry.CompareAndSwapAcqRel(state, payload, uint64(newState), 0) {
			// Reinterpret the stored bit pattern in place rather than
			// convert through uintptr, which would be an invalid
			// pointer conversion.
			value := *(*T)(*(*unsafe.Pointer)(unsafe.Pointer(&payload)))
			q.slots[idx].root.Store(nil)
			q.head.CompareAndSwapAcqRel(head, idx)
			return value, true
		}
		sw.Once()
	}
}
