// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfq

import (
	"unsafe"

	"code.hybscloud.com/spin"

	"github.com/lfqkit/lfq/internal/hazard"
)

// msNode is one cell of a Michael–Scott queue: a payload and a tagged
// next-link. The list always carries one extra sentinel cell whose
// payload is dead; head points at it, and the first live value (if any)
// is at head.next.
type msNode[T any] struct {
	value T
	next  taggedRef
}

// MSQueue is an unbounded multi-producer/multi-consumer FIFO queue
// implementing the Michael–Scott algorithm: a singly linked list of
// cells linearized by a CAS on tail.next (enqueue) and a CAS2 on head
// (dequeue), with helping to advance a lagging tail.
//
// Head and tail are tagged (pointer, counter) references so a retried
// CAS cannot succeed against a recycled pointer value (the ABA problem);
// unlinked cells are reclaimed through hazard pointers instead of freed
// on the spot.
type MSQueue[T any] struct {
	_    pad
	head taggedRef
	_    pad
	tail taggedRef
	_    pad
	hp   hazard.Domain
}

// NewMSQueue creates an empty Michael–Scott queue.
func NewMSQueue[T any]() *MSQueue[T] {
	sentinel := unsafe.Pointer(new(msNode[T]))
	q := &MSQueue[T]{}
	q.head.store(sentinel, 0)
	q.tail.store(sentinel, 0)
	return q
}

// Enqueue adds value to the tail of the queue. It always succeeds and
// never blocks; contention is resolved by CAS retry, with one thread's
// failed attempt helping another's succeed.
func (q *MSQueue[T]) Enqueue(value T) {
	n := &msNode[T]{value: value}
	sw := spin.Wait{}
	g := q.hp.Acquire()
	defer g.Release()

	for {
		tailPtr, tailCnt := q.tail.load()
		g.Protect(tailPtr)
		if p, c := q.tail.load(); p != tailPtr || c != tailCnt {
			sw.Once()
			continue
		}

		tail := (*msNode[T])(tailPtr)
		nextPtr, nextCnt := tail.next.load()
		if p, c := q.tail.load(); p != tailPtr || c != tailCnt {
			sw.Once()
			continue
		}

		if nextPtr == nil {
			if tail.next.cas(nil, nextCnt, unsafe.Pointer(n), nextCnt+1) {
				q.tail.cas(tailPtr, tailCnt, unsafe.Pointer(n), tailCnt+1)
				return
			}
		} else {
			// tail is lagging; help it catch up before retrying.
			q.tail.cas(tailPtr, tailCnt, nextPtr, tailCnt+1)
		}
		sw.Once()
	}
}

// Dequeue removes and returns the value at the head of the queue.
// Returns (zero, false) if the queue was observed empty.
func (q *MSQueue[T]) Dequeue() (T, bool) {
	var zero T
	sw := spin.Wait{}
	gHead := q.hp.Acquire()
	defer gHead.Release()
	gNext := q.hp.Acquire()
	defer gNext.Release()

	for {
		headPtr, headCnt := q.head.load()
		gHead.Protect(headPtr)
		if p, c := q.head.load(); p != headPtr || c != headCnt {
			sw.Once()
			continue
		}

		tailPtr, tailCnt := q.tail.load()
		head := (*msNode[T])(headPtr)
		nextPtr, _ := head.next.load()
		gNext.Protect(nextPtr)
		if p, c := q.head.load(); p != headPtr || c != headCnt {
			sw.Once()
			continue
		}

		if headPtr == tailPtr {
			if nextPtr == nil {
				return zero, false
			}
			// tail is lagging behind the real last cell; help it along.
			q.tail.cas(tailPtr, tailCnt, nextPtr, tailCnt+1)
		} else {
			next := (*msNode[T])(nextPtr)
			value := next.value
			if q.head.cas(headPtr, headCnt, nextPtr, headCnt+1) {
				q.hp.Retire(headPtr, func() {
					head.next.store(nil, 0)
					var z T
					head.value = z
				})
				return value, true
			}
		}
		sw.Once()
	}
}
