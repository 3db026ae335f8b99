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
	"fmt"
	"sort"
	"sync/atomic"
	"unsafe"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/cloudwego/segpool/unsafex"
	"github.com/cloudwego/segpool/unsafex/region"
)

// Addr is the address of a payload returned by Alloc.
// The zero Addr is never returned by a successful Alloc.
type Addr uintptr

// Allocator hands out fixed-size segments from a set of buckets.
//
// The bucket registry is fixed by New. Alloc and Free are safe for concurrent
// use and never block: they only retry their own CAS on a single bucket.
type Allocator struct {
	buckets []*Bucket // ascending segment size, read-only after New
	regions []region.Region
	maxSize int
	checked bool
	logger  log.Logger

	ooms        atomic.Uint64
	unsupported atomic.Uint64
}

// Alloc returns the address of a payload of at least size bytes.
//
// The request goes to the home bucket, the smallest one whose payload fits.
// If it's empty, larger buckets are tried in order and the first one with a
// free segment serves it. Smaller buckets are never tried.
// It returns ErrSizeUnsupported if no bucket is large enough, and
// ErrOutOfMemory if the home bucket and all larger ones are empty.
// A size of 0 is served by the smallest bucket.
func (a *Allocator) Alloc(size int) (Addr, error) {
	b, idx, err := a.alloc(size)
	if err != nil {
		return 0, err
	}
	return Addr(b.addr(idx) + uintptr(HeaderSize)), nil
}

func (a *Allocator) alloc(size int) (*Bucket, int, error) {
	if size < 0 || size > a.maxSize {
		a.unsupported.Add(1)
		return nil, 0, ErrSizeUnsupported
	}
	home := a.homeBucket(size)
	for i := home; i < len(a.buckets); i++ {
		b := a.buckets[i]
		idx, ok := b.pop()
		if !ok {
			continue
		}
		a.claim(b, idx)
		b.allocs.Add(1)
		if i != home {
			b.escalated.Add(1)
		}
		return b, idx, nil
	}
	a.ooms.Add(1)
	level.Debug(a.logger).Log("msg", "out of memory", "size", size, "home_bucket", home)
	return nil, 0, ErrOutOfMemory
}

// homeBucket returns the index of the smallest bucket with PayloadSize >= size.
// size must be <= a.maxSize.
func (a *Allocator) homeBucket(size int) int {
	return sort.Search(len(a.buckets), func(i int) bool {
		return a.buckets[i].PayloadSize() >= size
	})
}

// claim refreshes the header of a segment just popped from b.
func (a *Allocator) claim(b *Bucket, idx int) {
	h := headerAt(b.seg(idx))
	m := b.freeMeta(idx)
	if !a.checked {
		h.storeMeta(m)
		return
	}
	if !h.casMeta(m, m|metaInUse) {
		a.misuse("free segment has a bad header", Addr(b.addr(idx)+uintptr(HeaderSize)))
	}
}

// Free returns the segment of p to the bucket named in its header.
//
// p must be an address returned by Alloc and not freed since. Anything else
// is undefined unless the allocator runs in checked mode, where it panics.
// Freeing the zero Addr does nothing.
func (a *Allocator) Free(p Addr) {
	if p == 0 {
		return
	}
	base := uintptr(p) - uintptr(HeaderSize)
	if a.checked {
		b, idx := a.release(p, base)
		b.frees.Add(1)
		b.push(idx)
		return
	}
	b := a.buckets[a.header(base).bucketID()]
	b.frees.Add(1)
	b.Push(base)
}

// release validates the header of base and flips it back to free.
func (a *Allocator) release(p Addr, base uintptr) (*Bucket, int) {
	b := a.owner(base)
	if b == nil {
		a.misuse("address not owned by allocator", p)
	}
	idx, ok := b.indexOf(base)
	if !ok {
		a.misuse("address is not a payload start", p)
	}
	h := headerAt(b.seg(idx))
	m := b.freeMeta(idx)
	if h.casMeta(m|metaInUse, m) {
		return b, idx
	}
	if h.loadMeta() == m {
		a.misuse("double free", p)
	}
	a.misuse("corrupted header", p)
	return nil, 0
}

func (a *Allocator) misuse(what string, p Addr) {
	level.Error(a.logger).Log("msg", "allocator misuse", "err", what, "addr", fmt.Sprintf("%#x", uintptr(p)))
	panic(fmt.Sprintf("malloc: %s: %#x", what, uintptr(p)))
}

// header returns the header of the segment at base.
// The pointer is derived from the region holding base, so base must lie in
// the allocator's memory.
func (a *Allocator) header(base uintptr) *header {
	return headerAt(a.pointer(base))
}

// pointer converts an address inside one of the regions to a pointer.
func (a *Allocator) pointer(p uintptr) unsafe.Pointer {
	for _, r := range a.regions {
		if r.Contains(p) {
			return r.At(p)
		}
	}
	panic(fmt.Sprintf("malloc: address not owned by allocator: %#x", p))
}

// AllocBytes is like Alloc but returns the payload as a slice with
// len == size and cap == the payload size of the serving bucket.
// The slice must be passed unmodified (no reslicing of its start) to FreeBytes.
func (a *Allocator) AllocBytes(size int) ([]byte, error) {
	b, idx, err := a.alloc(size)
	if err != nil {
		return nil, err
	}
	return unsafex.Slice(b.payload(idx), size, b.PayloadSize()), nil
}

// FreeBytes frees a slice returned by AllocBytes.
func (a *Allocator) FreeBytes(buf []byte) {
	a.Free(Addr(unsafex.SliceAddr(buf)))
}

// Bytes returns n bytes of the payload at p.
// n must not exceed the payload size of p's bucket.
func (a *Allocator) Bytes(p Addr, n int) []byte {
	return unsafex.Slice(a.pointer(uintptr(p)), n, n)
}

// BucketOf returns the bucket recorded in the header of p.
// p must be a live address returned by Alloc.
func (a *Allocator) BucketOf(p Addr) *Bucket {
	id := a.header(uintptr(p) - uintptr(HeaderSize)).bucketID()
	if int(id) >= len(a.buckets) {
		return nil
	}
	return a.buckets[id]
}

// Owns reports whether p lies inside one of the buckets.
// Unlike BucketOf it never reads the memory at p.
func (a *Allocator) Owns(p Addr) bool {
	return a.owner(uintptr(p)) != nil
}

// IsPayload reports whether p is the payload start of one of the segments.
// Like Owns it never reads the memory at p.
func (a *Allocator) IsPayload(p Addr) bool {
	if uintptr(p) < uintptr(HeaderSize) {
		return false
	}
	base := uintptr(p) - uintptr(HeaderSize)
	b := a.owner(base)
	if b == nil {
		return false
	}
	_, ok := b.indexOf(base)
	return ok
}

func (a *Allocator) owner(p uintptr) *Bucket {
	for _, b := range a.buckets {
		if b.Contains(p) {
			return b
		}
	}
	return nil
}

// Buckets returns the registry in ascending segment size.
func (a *Allocator) Buckets() []*Bucket {
	return append([]*Bucket(nil), a.buckets...)
}

// MaxSize returns the largest size Alloc accepts.
func (a *Allocator) MaxSize() int { return a.maxSize }

// Regions returns the memory the allocator was built on.
func (a *Allocator) Regions() []region.Region {
	return append([]region.Region(nil), a.regions...)
}
