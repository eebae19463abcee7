// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lfq provides lock-free multi-producer/multi-consumer FIFO
// queues for high-concurrency runtimes: worker pools, event loops,
// message fan-out, inter-thread hand-off in schedulers.
//
// Three independent queue variants are provided, matched to different
// throughput/contention regimes:
//
//   - [MSQueue]: unbounded, Michael–Scott linked queue. The general-
//     purpose default.
//   - [BasketQueue]: unbounded, Hoffman–Shalev–Shavit baskets queue, for
//     very high concurrency where many simultaneous enqueuers can share
//     a basket instead of serializing against each other.
//   - [BoundedQueue]: fixed-capacity, Tsigas–Zhang array queue, for
//     callers with a known upper bound where index arithmetic over a
//     ring buffer beats pointer chasing.
//
// # Quick Start
//
//	q := lfq.NewMSQueue[Event]()
//	q.Enqueue(ev)
//	ev, ok := q.Dequeue()
//
//	b := lfq.NewBoundedQueue[Job](1024)
//	if !b.Enqueue(job) {
//	    // queue full — caller decides whether to retry or drop
//	}
//	job, ok := b.Dequeue()
//
// # Choosing a Queue
//
// MSQueue is the right default: simple, unbounded, good under light to
// moderate contention. BasketQueue trades cross-producer ordering
// guarantees it never promised anyway for much better scalability when
// dozens of producers hammer the same
// queue simultaneously — contending enqueues land in the same basket
// instead of retrying against each other one at a time. BoundedQueue is
// for back-pressure: a fixed memory footprint and an explicit full
// signal, at the cost of a capacity callers must size up front.
//
// # Non-blocking Semantics
//
// No queue operation blocks or waits on another thread. [MSQueue.Enqueue]
// and [BasketQueue.Enqueue] always succeed (modulo allocation, which
// panics on OOM like the rest of Go). [BoundedQueue.Enqueue] and every
// queue's Dequeue report success via a boolean, not an error — empty and
// full are expected outcomes, not failures. Composing with blocking
// semantics (condition variables, channels) is the caller's job; see
// [BoundedQueue.EnqueueRepeat] for the one built-in retry helper, which
// backs off rather than busy-spins.
//
// # Memory Reclamation
//
// MSQueue and BasketQueue allocate a node per enqueued value and must
// eventually free the nodes unlinked by Dequeue. Freeing them
// immediately, as the textbook algorithms do, is unsound once pointers
// are packed into plain machine words for CAS2: a concurrent reader may
// still hold the bit pattern of a node
// the garbage collector no longer sees as reachable. internal/hazard
// implements hazard-pointer reclamation to close that window; see its
// package doc for the scheme.
//
// # Concurrency Model
//
// Every queue is lock-free: some thread always makes progress in a
// bounded number of steps, regardless of scheduling. Enqueue/Dequeue
// retry on CAS contention rather than blocking, and both unbounded
// queues use helping — a thread that observes another thread's tail
// lagging advances it on that thread's behalf, which is required for
// lock-freedom and is not an optional optimization.
//
// # Race Detection
//
// These algorithms establish
// happens-before relationships through atomic CAS2 on tagged references
// that Go's race detector does not model precisely across the pointer
// and counter halves of the same word. Concurrent stress tests that rely
// on this are guarded by [RaceEnabled] and skipped under -race; they are
// not otherwise special-cased.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/atomix] for atomic primitives
// with explicit memory ordering (including the native double-width CAS
// that backs the tagged reference), [code.hybscloud.com/spin] for CAS
// retry backoff, and [code.hybscloud.com/iox]'s Backoff for
// [BoundedQueue.EnqueueRepeat]'s doubling wait.
package lfq
