// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hazard implements hazard-pointer safe memory reclamation for
// lock-free linked structures.
//
// The structures in this module pack node pointers into atomix.Uint128
// tagged references (see the root package's taggedRef), which hides the
// pointer from the Go garbage collector's precise scan: the node is only
// reachable through a bit pattern, not a typed pointer field. Without
// something rooting a node, the collector is free to reclaim it the
// instant the last typed reference disappears, even while another
// goroutine still holds the bit pattern and is about to dereference it.
//
// A Domain fixes this the way Michael's hazard pointers fix the analogous
// problem in C: before dereferencing a pointer read from shared memory, a
// thread publishes it in a Record that the garbage collector can see.
// Retire only reclaims (drops the last reference to) a node once no
// Record anywhere in the domain still publishes it.
package hazard

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/atomix"
)

// maxRecords bounds the number of concurrent operations a Domain can
// protect at once. Sized generously relative to expected parallelism;
// Acquire spins (yielding between passes) if the pool is saturated.
const maxRecords = 256

type record struct {
	active atomix.Uint64        // 0 free, 1 claimed
	ptr    atomic.Pointer[byte] // GC-visible; rooted while published
}

// Domain is a hazard-pointer protection domain for one reclaimable
// structure. The zero value is ready to use.
type Domain struct {
	records [maxRecords]record

	mu      sync.Mutex
	retired []retiredEntry
}

type retiredEntry struct {
	ptr  unsafe.Pointer
	free func()
}

// Guard publishes a single hazard pointer on behalf of one operation.
// Not safe for concurrent use by multiple goroutines; each goroutine
// acquires its own Guard.
type Guard struct {
	d   *Domain
	idx int
}

// Acquire claims a free record slot for the calling goroutine's duration
// of use. Callers must Release when done.
func (d *Domain) Acquire() *Guard {
	for {
		for i := range d.records {
			r := &d.records[i]
			if r.active.LoadAcquire() != 0 {
				continue
			}
			if r.active.CompareAndSwapAcqRel(0, 1) {
				return &Guard{d: d, idx: i}
			}
		}
		runtime.Gosched()
	}
}

// Protect publishes ptr as hazardous: a concurrent Retire of ptr will not
// reclaim it until Clear, a further Protect call, or Release.
func (g *Guard) Protect(ptr unsafe.Pointer) {
	g.d.records[g.idx].ptr.Store((*byte)(ptr))
}

// Clear withdraws the published hazard pointer without releasing the slot.
func (g *Guard) Clear() {
	g.d.records[g.idx].ptr.Store(nil)
}

// Release withdraws the hazard pointer and frees the record slot for
// reuse by another goroutine.
func (g *Guard) Release() {
	g.d.records[g.idx].ptr.Store(nil)
	g.d.records[g.idx].active.StoreRelease(0)
}

// Retire queues ptr for reclamation via free, which the Domain calls
// exactly once, only after confirming no live Guard in the domain has ptr
// published. free should drop every remaining typed reference it holds
// (e.g. null out a node's fields) so the node becomes collectible.
//
// Retire is not on the queues' lock-free fast path: it runs after a
// dequeue has already linearized, so its bookkeeping is guarded by a
// plain mutex rather than further lock-free machinery.
func (d *Domain) Retire(ptr unsafe.Pointer, free func()) {
	d.mu.Lock()
	d.retired = append(d.retired, retiredEntry{ptr: ptr, free: free})
	pending := d.retired
	d.retired = nil
	d.mu.Unlock()

	hazarded := d.snapshot()

	kept := pending[:0]
	for _, e := range pending {
		if _, ok := hazarded[e.ptr]; ok {
			kept = append(kept, e)
		} else {
			e.free()
		}
	}
	if len(kept) > 0 {
		d.mu.Lock()
		d.retired = append(d.retired, kept...)
		d.mu.Unlock()
	}
}

func (d *Domain) snapshot() map[unsafe.Pointer]struct{} {
	out := make(map[unsafe.Pointer]struct{}, maxRecords)
	for i := range d.records {
		if d.records[i].active.LoadAcquire() == 0 {
			continue
		}
		if p := d.records[i].ptr.Load(); p != nil {
			out[unsafe.Pointer(p)] = struct{}{}
		}
	}
	return out
}
