// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfq

import (
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/atomix"
)

// taggedRef is a (pointer, counter) pair updated as a single atomic unit
// via a double-width compare-and-swap (CAS2). The queues' head and tail
// references, and the MS queue's next-links, bump the counter on every
// successful update, defeating the ABA problem on the pointer half: a
// thread that last observed (p, c) and retries a CAS against it fails if
// any other thread has moved the word through (p', c+1) and back to
// (p, c+2), since the counter it would need to match has moved on.
// Basket next-links use the counter half as a basket tag instead (see
// makeBasketTag): every cell that joins one basket is installed with the
// same tag.
//
// The same (counter, value) packing the ring-buffer slot entries use,
// applied to an arbitrary linked-list node pointer instead of a slot
// value.
//
// word's pointer half is a bare uint64 bit pattern, invisible to the
// garbage collector's precise scan. root shadows it with a real,
// GC-visible pointer that is kept in step with word: whichever node is
// currently installed here stays reachable through root for as long as
// it remains installed, closing the window between operations where
// nothing else points at it. root only ever lags word by the instant
// between a successful CAS and the following root store, during which
// the installing goroutine's own local variable still roots the node;
// it never races a reader into using a dangling pointer, since a reader
// only acts on a node after loading it out of word, by which point root
// has already been set by the installing goroutine's program order.
// Hazard pointers (internal/hazard) protect the complementary window: a
// pointer a reader has already loaded out of word but that a concurrent
// operation is in the middle of unlinking.
type taggedRef struct {
	word atomix.Uint128       // lo = counter, hi = pointer bits
	root atomic.Pointer[byte] // GC-visible shadow of word's pointer half
}

func (r *taggedRef) load() (ptr unsafe.Pointer, counter uint64) {
	lo, hi := r.word.LoadAcquire()
	// Reinterpret the stored bit pattern in place rather than convert
	// through uintptr, which would be an invalid pointer conversion.
	return *(*unsafe.Pointer)(unsafe.Pointer(&hi)), lo
}

func (r *taggedRef) store(ptr unsafe.Pointer, counter uint64) {
	r.root.Store((*byte)(ptr))
	r.word.StoreRelease(counter, uint64(uintptr(ptr)))
}

func (r *taggedRef) cas(oldPtr unsafe.Pointer, oldCounter uint64, newPtr unsafe.Pointer, newCounter uint64) bool {
	if !r.word.CompareAndSwapAcqRel(oldCounter, uint64(uintptr(oldPtr)), newCounter, uint64(uintptr(newPtr))) {
		return false
	}
	r.root.Store((*byte)(newPtr))
	return true
}

// basketTagDeleted is the high bit of a basket next-link's counter half,
// marking the linked cell as logically removed.
const basketTagDeleted = uint64(1) << 63

// basketCounter returns the low-63-bit counter, stripped of the deleted
// flag.
func basketCounter(tag uint64) uint64 {
	return tag &^ basketTagDeleted
}

// basketDeleted reports whether tag has the deleted bit set.
func basketDeleted(tag uint64) bool {
	return tag&basketTagDeleted != 0
}

// makeBasketTag packs a counter and deleted flag into one tag word.
func makeBasketTag(counter uint64, deleted bool) uint64 {
	if deleted {
		return basketCounter(counter) | basketTagDeleted
	}
	return basketCounter(counter)
}
