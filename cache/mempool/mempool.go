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

// Package mempool provides []byte buffers backed by a segment allocator.
//
// It's the layer for code that prefers a slice and can live with the Go heap
// when the allocator runs dry: exhaustion of the allocator is not fatal here,
// Malloc falls back to a plain heap buffer and Free ignores buffers it
// didn't hand out.
package mempool

import (
	"sync/atomic"

	"github.com/bytedance/gopkg/lang/dirtmake"

	"github.com/cloudwego/segpool/unsafex"
	"github.com/cloudwego/segpool/unsafex/malloc"
)

// Pool hands out buffers from an allocator.
type Pool struct {
	a *malloc.Allocator

	fallbacks atomic.Uint64
}

// New returns a pool over a.
func New(a *malloc.Allocator) *Pool {
	return &Pool{a: a}
}

// Malloc creates a buf with len == size.
// Tips for usage:
// * buf returned by Malloc may not be initialized with zeros, use at your own risk.
// * call `Free` when buf is no longer use, DO NOT REUSE buf after calling `Free`
// * use `buf = buf[:p.Cap(buf)]` to make use of the cap of a returned buf.
// * DO NOT reslice the start of buf, `Free` locates the segment by it.
func (p *Pool) Malloc(size int) []byte {
	if size == 0 {
		return []byte{}
	}
	buf, err := p.a.AllocBytes(size)
	if err != nil {
		p.fallbacks.Add(1)
		return dirtmake.Bytes(size, size)
	}
	return buf
}

// Cap returns the max cap of a buf can be resized to.
// For bufs from the allocator it's the payload size of their segment, even if
// cap(buf) was reduced by reslicing.
func (p *Pool) Cap(buf []byte) int {
	if cap(buf) == 0 {
		return 0
	}
	addr := malloc.Addr(unsafex.SliceAddr(buf))
	if !p.a.IsPayload(addr) {
		return cap(buf)
	}
	return p.a.BucketOf(addr).PayloadSize()
}

// Append appends bytes to the given `[]byte`.
// It frees `a` and creates a new one if needed.
// Please make sure you're calling the func like `b = p.Append(b, data...)`
func (p *Pool) Append(a []byte, b ...byte) []byte {
	if cap(a)-len(a) >= len(b) {
		return append(a, b...)
	}
	return p.appendSlow(a, b)
}

func (p *Pool) appendSlow(a, b []byte) []byte {
	ret := p.Malloc(len(a) + len(b))
	copy(ret, a)
	copy(ret[len(a):], b)
	p.Free(a)
	return ret
}

// AppendStr ... same as Append for string.
// See comment of `Append` for details.
func (p *Pool) AppendStr(a []byte, b string) []byte {
	if cap(a)-len(a) >= len(b) {
		return append(a, b...)
	}
	return p.appendStrSlow(a, b)
}

func (p *Pool) appendStrSlow(a []byte, b string) []byte {
	ret := p.Malloc(len(a) + len(b))
	copy(ret, a)
	copy(ret[len(a):], b)
	p.Free(a)
	return ret
}

// Free should be called when a buf is no longer used.
// Bufs not created by the allocator, or whose start was resliced, are left
// to the GC.
func (p *Pool) Free(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	addr := malloc.Addr(unsafex.SliceAddr(buf))
	if !p.a.IsPayload(addr) {
		return
	}
	p.a.Free(addr)
}

// Fallbacks returns how many bufs were created on the Go heap because the
// allocator couldn't serve them.
func (p *Pool) Fallbacks() uint64 {
	return p.fallbacks.Load()
}
