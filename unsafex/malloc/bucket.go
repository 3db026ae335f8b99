/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package malloc

import (
	"sync/atomic"
	"unsafe"
)

// Bucket owns a contiguous range sliced into equal-size segments.
//
// Buckets are created once by New and live as long as the Allocator.
// The only mutable state is the free stack and the stats counters,
// all updated atomically, so buckets never share a lock with each other.
type Bucket struct {
	id      uint32
	segSize int
	count   int
	mem     unsafe.Pointer // first segment
	base    uintptr
	end     uintptr
	checked bool

	stack freeStack

	// stats, approximate under concurrency
	allocs    atomic.Uint64
	frees     atomic.Uint64
	escalated atomic.Uint64
}

// newBucket formats the segSize*count bytes at mem as a fully free bucket.
// Every header gets the bucket id and every segment is chained so that the
// lowest address is popped first.
func newBucket(id uint32, mem unsafe.Pointer, segSize, count int, checked bool) *Bucket {
	base := uintptr(mem)
	b := &Bucket{
		id:      id,
		segSize: segSize,
		count:   count,
		mem:     mem,
		base:    base,
		end:     base + uintptr(segSize*count),
		checked: checked,
	}
	for i := 0; i < count; i++ {
		h := headerAt(b.seg(i))
		h.meta = b.freeMeta(i)
		if i+1 < count {
			h.next = uint32(i + 2)
		} else {
			h.next = 0
		}
	}
	b.stack.head.Store(uint64(packHead(1, uint32(count), 0)))
	return b
}

// ID returns the index of the bucket in the registry.
func (b *Bucket) ID() int { return int(b.id) }

// SegmentSize returns the size of each segment, header included.
func (b *Bucket) SegmentSize() int { return b.segSize }

// PayloadSize returns the usable bytes of each segment.
func (b *Bucket) PayloadSize() int { return b.segSize - HeaderSize }

// SegmentCount returns the total number of segments.
func (b *Bucket) SegmentCount() int { return b.count }

// FreeCount returns the number of segments currently on the free stack.
func (b *Bucket) FreeCount() int { return int(b.stack.load().count()) }

// Base returns the address of the first segment.
func (b *Bucket) Base() uintptr { return b.base }

// End returns the address one past the last segment.
func (b *Bucket) End() uintptr { return b.end }

// Contains reports whether p lies inside the bucket's range.
func (b *Bucket) Contains(p uintptr) bool { return p >= b.base && p < b.end }

// TryPop takes one free segment and returns its base address.
// It returns false if no segment is free, leaving the bucket untouched.
func (b *Bucket) TryPop() (uintptr, bool) {
	idx, ok := b.pop()
	if !ok {
		return 0, false
	}
	return b.addr(idx), true
}

// Push puts the segment at base back on the free stack.
// base must come from TryPop on the same bucket, this is not checked.
func (b *Bucket) Push(base uintptr) {
	b.push(int((base - b.base) / uintptr(b.segSize)))
}

func (b *Bucket) pop() (int, bool) {
	idx, ok := b.stack.pop(b.nextOf)
	return int(idx), ok
}

func (b *Bucket) push(idx int) {
	b.stack.push(uint32(idx), headerAt(b.seg(idx)).storeNext)
}

// seg returns a pointer to the segment at idx.
func (b *Bucket) seg(idx int) unsafe.Pointer {
	return unsafe.Add(b.mem, idx*b.segSize)
}

// addr returns the base address of the segment at idx.
func (b *Bucket) addr(idx int) uintptr {
	return b.base + uintptr(idx*b.segSize)
}

// payload returns a pointer to the payload of the segment at idx.
func (b *Bucket) payload(idx int) unsafe.Pointer {
	return unsafe.Add(b.mem, idx*b.segSize+HeaderSize)
}

// nextOf reads the link of the segment at index top-1.
func (b *Bucket) nextOf(top uint32) uint32 {
	return headerAt(b.seg(int(top - 1))).loadNext()
}

// freeMeta returns the header meta of the free segment at idx.
func (b *Bucket) freeMeta(idx int) uint32 {
	if !b.checked {
		return makeMeta(b.id, 0)
	}
	return makeMeta(b.id, checksum(b.id, uintptr(idx*b.segSize)))
}

// indexOf returns the segment index of base and whether base is a segment
// start inside this bucket.
func (b *Bucket) indexOf(base uintptr) (int, bool) {
	if !b.Contains(base) {
		return 0, false
	}
	off := base - b.base
	if off%uintptr(b.segSize) != 0 {
		return 0, false
	}
	return int(off / uintptr(b.segSize)), true
}
