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

// Package region describes memory handed to an allocator at boot.
//
// A Region is a base address plus a length. It may be backed by the Go heap,
// by an anonymous mapping, or by memory the caller owns outright (e.g. a range
// taken from a firmware memory map). The region keeps its backing alive until
// Release is called.
package region

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/c2h5oh/datasize"
)

const (
	BackingHeap = "heap"
	BackingMmap = "mmap"
)

// Region is a contiguous range of memory available for management.
type Region struct {
	mem     []byte // nil for raw regions
	ptr     unsafe.Pointer
	base    uintptr
	n       int
	release func([]byte) error
}

// Options describes an arena to be obtained from the host.
type Options struct {
	Size    datasize.ByteSize `yaml:"size"`
	Backing string            `yaml:"backing"`
}

// New returns a region sized and backed as described by o.
// An empty Backing means BackingHeap.
func New(o Options) (Region, error) {
	if o.Size == 0 {
		return Region{}, fmt.Errorf("region: size must be > 0")
	}
	if o.Size.Bytes() > uint64(maxLen) {
		return Region{}, fmt.Errorf("region: size %s too large", o.Size.HumanReadable())
	}
	switch strings.ToLower(o.Backing) {
	case "", BackingHeap:
		return Heap(int(o.Size.Bytes())), nil
	case BackingMmap:
		return Mmap(int(o.Size.Bytes()))
	}
	return Region{}, fmt.Errorf("region: unknown backing %q", o.Backing)
}

const maxLen = int(^uint(0) >> 1)

// FromBytes wraps b. b must not be used by anything else afterwards.
func FromBytes(b []byte) Region {
	if len(b) == 0 {
		return Region{}
	}
	p := unsafe.Pointer(&b[0])
	return Region{mem: b, ptr: p, base: uintptr(p), n: len(b)}
}

// Heap allocates n bytes from the Go heap without zeroing them.
func Heap(n int) Region {
	return FromBytes(dirtmake.Bytes(n, n))
}

// Raw describes memory at [base, base+n) that is not owned by the Go runtime.
// The caller guarantees the range stays mapped and unused by anything else
// for the lifetime of the allocator built on it.
func Raw(base uintptr, n int) Region {
	return Region{ptr: unsafe.Pointer(base), base: base, n: n}
}

// Base returns the first address of the region.
func (r Region) Base() uintptr { return r.base }

// Len returns the region length in bytes.
func (r Region) Len() int { return r.n }

// End returns the address one past the last byte.
func (r Region) End() uintptr { return r.base + uintptr(r.n) }

// Pointer returns the first address of the region as a pointer.
func (r Region) Pointer() unsafe.Pointer { return r.ptr }

// At converts p, an address inside the region, to a pointer.
// Pointers into the Go heap must be derived this way rather than from a
// bare uintptr.
func (r Region) At(p uintptr) unsafe.Pointer {
	return unsafe.Add(r.ptr, p-r.base)
}

// Contains reports whether p lies inside the region.
func (r Region) Contains(p uintptr) bool {
	return p >= r.base && p < r.End()
}

// Bytes returns the region as a slice.
func (r Region) Bytes() []byte {
	if r.mem != nil {
		return r.mem
	}
	if r.n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(r.ptr), r.n)
}

// Sub returns the part of r in [off, off+n).
// The returned region shares r's backing and is never released on its own.
func (r Region) Sub(off, n int) Region {
	if off < 0 || n < 0 || off+n > r.n {
		panic("region: sub range out of bounds")
	}
	s := Region{ptr: unsafe.Add(r.ptr, off), base: r.base + uintptr(off), n: n}
	if r.mem != nil {
		s.mem = r.mem[off : off+n : off+n]
	}
	return s
}

// Release returns the backing memory to the host.
// Heap and raw regions are left to their owner, only mappings are unmapped.
// Nothing may touch the region after Release.
func (r Region) Release() error {
	if r.release == nil {
		return nil
	}
	return r.release(r.mem)
}

func (r Region) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.base, r.End())
}
