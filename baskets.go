// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfq

import (
	"runtime"
	"unsafe"

	"code.hybscloud.com/spin"

	"github.com/lfqkit/lfq/internal/hazard"
)

// basketMaxHops is the deleted-cell walk distance a dequeue tolerates
// before it cuts the dead prefix loose with freeChain.
const basketMaxHops = 3

// basketNode is one cell of a baskets queue. Its next-link is a tagged
// reference whose counter half doubles as a (counter, deleted) tag:
// basketTagDeleted marks the link's cell as logically removed regardless
// of its position in the list.
type basketNode[T any] struct {
	value T
	next  taggedRef
}

// BasketQueue is an unbounded multi-producer/multi-consumer FIFO queue
// implementing the Hoffman–Shalev–Shavit baskets algorithm. It shares
// MSQueue's linked-list shape but lets contending enqueuers that observe
// the same tail commit into an unordered "basket" behind it instead of
// serializing one at a time, which is the point of the algorithm under
// very high concurrency: every producer in the basket succeeds without
// waiting for the others.
//
// FIFO is preserved per producer (a producer only races for a basket it
// observed before its previous enqueue committed, which cannot happen
// from a single goroutine) but not across producers racing into the same
// basket.
type BasketQueue[T any] struct {
	_    pad
	head taggedRef
	_    pad
	tail taggedRef
	_    pad
	hp   hazard.Domain
}

// NewBasketQueue creates an empty baskets queue.
func NewBasketQueue[T any]() *BasketQueue[T] {
	sentinel := unsafe.Pointer(new(basketNode[T]))
	q := &BasketQueue[T]{}
	q.head.store(sentinel, 0)
	q.tail.store(sentinel, 0)
	return q
}

// Enqueue adds value to the queue. Always succeeds and never blocks.
func (q *BasketQueue[T]) Enqueue(value T) {
	n := &basketNode[T]{value: value}
	sw := spin.Wait{}
	g := q.hp.Acquire()
	defer g.Release()
	gWalk := q.hp.Acquire()
	defer gWalk.Release()

	for {
		tailPtr, tailCnt := q.tail.load()
		g.Protect(tailPtr)
		if p, c := q.tail.load(); p != tailPtr || c != tailCnt {
			sw.Once()
			continue
		}

		tail := (*basketNode[T])(tailPtr)
		nextPtr, nextTag := tail.next.load()

		if nextPtr != nil {
			// tail lags behind the real last cell; help it all the way
			// forward and retry from a fresh snapshot.
			q.helpAdvanceTail(gWalk, tailPtr, tailCnt, nextPtr)
			sw.Once()
			continue
		}

		basketCnt := basketCounter(tailCnt)
		n.next.store(nil, makeBasketTag(basketCnt+2, false))
		if tail.next.cas(nil, nextTag, unsafe.Pointer(n), makeBasketTag(basketCnt+1, false)) {
			q.tail.cas(tailPtr, tailCnt, unsafe.Pointer(n), tailCnt+1)
			return
		}

		// Lost the race to open a new basket. Join it instead: while the
		// winner's link still carries this basket's counter class and is
		// not deleted, splice n in at tail.next, in front of whatever is
		// there, keeping the chain intact through n.next. Members of one
		// basket carry the same tag and have no order among themselves.
		// This intentionally keeps comparing against the snapshotted
		// tail tag without re-reading tail: re-reading would let this
		// enqueuer escape the basket it was contending for and join
		// whichever basket is current by then.
		for {
			curPtr, curTag := tail.next.load()
			if curPtr == nil || basketDeleted(curTag) || basketCounter(curTag) != basketCnt+1 {
				break
			}
			runtime.Gosched() // high contention inside the basket; yield
			n.next.store(curPtr, curTag)
			if tail.next.cas(curPtr, curTag, unsafe.Pointer(n), makeBasketTag(basketCnt+1, false)) {
				return
			}
		}
		sw.Once()
	}
}

// Dequeue removes and returns a value from the queue. Returns (zero,
// false) if the queue was observed empty.
func (q *BasketQueue[T]) Dequeue() (T, bool) {
	var zero T
	sw := spin.Wait{}
	gIter := q.hp.Acquire()
	defer gIter.Release()
	gNext := q.hp.Acquire()
	defer gNext.Release()

	for {
		headPtr, headCnt := q.head.load()
		gIter.Protect(headPtr)
		if p, c := q.head.load(); p != headPtr || c != headCnt {
			sw.Once()
			continue
		}

		tailPtr, tailCnt := q.tail.load()
		head := (*basketNode[T])(headPtr)
		nextPtr, nextTag := head.next.load()
		gNext.Protect(nextPtr)
		if p, c := q.head.load(); p != headPtr || c != headCnt {
			sw.Once()
			continue
		}

		if headPtr == tailPtr {
			if nextPtr == nil {
				return zero, false
			}
			// tail lags behind the real last cell; help it along so head
			// can never overtake it.
			q.helpAdvanceTail(gNext, tailPtr, tailCnt, nextPtr)
			sw.Once()
			continue
		}

		// Walk past cells whose next-link is marked deleted. The walk is
		// bounded by tail: freeChain must never unlink the cell tail
		// points at, or a stalled enqueuer could install onto a cell
		// already cut out of the list.
		iterPtr := headPtr
		iter := head
		hops := 0
		stale := false
		for basketDeleted(nextTag) && iterPtr != tailPtr {
			iterPtr = nextPtr
			gIter.Protect(iterPtr)
			if p, c := q.head.load(); p != headPtr || c != headCnt {
				stale = true
				break
			}
			iter = (*basketNode[T])(iterPtr)
			nextPtr, nextTag = iter.next.load()
			gNext.Protect(nextPtr)
			if p, c := q.head.load(); p != headPtr || c != headCnt {
				stale = true
				break
			}
			hops++
		}
		if stale {
			sw.Once()
			continue
		}
		if iterPtr == tailPtr {
			// The deleted prefix runs all the way to tail: nothing live
			// to consume, so just chain out the dead cells and retry.
			q.freeChain(headPtr, headCnt, iterPtr)
			sw.Once()
			continue
		}
		if nextPtr == nil {
			sw.Once()
			continue
		}

		next := (*basketNode[T])(nextPtr)
		value := next.value
		if iter.next.cas(nextPtr, nextTag, nextPtr, makeBasketTag(basketCounter(nextTag)+1, true)) {
			if hops >= basketMaxHops {
				q.freeChain(headPtr, headCnt, nextPtr)
			}
			return value, true
		}
		runtime.Gosched()
	}
}

// helpAdvanceTail walks from first to the last reachable cell and CASes
// tail forward to it, on behalf of an enqueuer that has linked its cell
// but not yet advanced tail. The walk stops if tail changes under it;
// cells at or past tail's position are never retired while tail is
// unchanged, so each step is safe once gw publishes the cell and tail is
// re-checked.
func (q *BasketQueue[T]) helpAdvanceTail(gw *hazard.Guard, tailPtr unsafe.Pointer, tailCnt uint64, firstPtr unsafe.Pointer) {
	lastPtr := firstPtr
	for {
		gw.Protect(lastPtr)
		if p, c := q.tail.load(); p != tailPtr || c != tailCnt {
			return
		}
		last := (*basketNode[T])(lastPtr)
		np, _ := last.next.load()
		if np == nil {
			break
		}
		lastPtr = np
	}
	q.tail.cas(tailPtr, tailCnt, lastPtr, tailCnt+1)
}

// freeChain advances head past a contiguous run of deleted cells in one
// CAS2, then hands the skipped chain to the hazard domain for
// reclamation.
func (q *BasketQueue[T]) freeChain(oldHeadPtr unsafe.Pointer, oldHeadCnt uint64, newHeadPtr unsafe.Pointer) {
	if !q.head.cas(oldHeadPtr, oldHeadCnt, newHeadPtr, oldHeadCnt+1) {
		return
	}
	for p := oldHeadPtr; p != newHeadPtr && p != nil; {
		node := (*basketNode[T])(p)
		next, _ := node.next.load()
		q.hp.Retire(p, func() {
			node.next.store(nil, 0)
			var z T
			node.value = z
		})
		p = next
	}
}
