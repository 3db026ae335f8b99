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

package mempool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudwego/segpool/unsafex/malloc"
	"github.com/cloudwego/segpool/unsafex/region"
)

func newTestPool(t testing.TB) (*Pool, *malloc.Allocator) {
	cfg := &malloc.Config{Buckets: []malloc.BucketConfig{
		{SegmentSize: 64, SegmentCount: 64},
		{SegmentSize: 1 << 10, SegmentCount: 16},
		{SegmentSize: 16 << 10, SegmentCount: 4},
	}}
	a, err := malloc.New(cfg, region.Heap(cfg.Size()+malloc.SegmentAlign))
	require.NoError(t, err)
	return New(a), a
}

func requireAllFree(t *testing.T, a *malloc.Allocator) {
	for _, b := range a.Buckets() {
		require.Equal(t, b.SegmentCount(), b.FreeCount(), "bucket %d", b.ID())
	}
}

func TestMallocFree(t *testing.T) {
	p, a := newTestPool(t)
	for i := 1; i < 32<<10; i += 100 { // up to twice the largest payload
		b := p.Malloc(i)
		require.Equal(t, i, len(b))
		p.Free(b)
	}
	requireAllFree(t, a)
	require.NotZero(t, p.Fallbacks())
}

func TestCap(t *testing.T) {
	p, a := newTestPool(t)
	b := p.Malloc(100)
	require.Equal(t, 1<<10-malloc.HeaderSize, p.Cap(b))
	require.Equal(t, 1<<10-malloc.HeaderSize, p.Cap(b[:10:10]))
	p.Free(b)

	require.Equal(t, 0, p.Cap(nil))
	require.Equal(t, 7, p.Cap(make([]byte, 3, 7)))
	requireAllFree(t, a)
}

func TestMallocFallback(t *testing.T) {
	p, a := newTestPool(t)

	big := p.Malloc(a.MaxSize() + 1)
	require.Equal(t, a.MaxSize()+1, len(big))
	require.Equal(t, uint64(1), p.Fallbacks())
	p.Free(big) // not owned, ignored

	// drain the largest bucket, then it falls back again
	var held [][]byte
	for i := 0; i < 4; i++ {
		held = append(held, p.Malloc(a.MaxSize()))
	}
	extra := p.Malloc(a.MaxSize())
	require.Equal(t, uint64(2), p.Fallbacks())
	p.Free(extra)
	for _, b := range held {
		p.Free(b)
	}
	requireAllFree(t, a)
}

func TestAppend(t *testing.T) {
	p, a := newTestPool(t)

	str := "TestAppend"
	b := p.Malloc(0)
	for i := 0; i < 1000; i++ {
		b = p.Append(b, []byte(str)...)
	}
	require.Equal(t, 1000*len(str), len(b))
	for i := 0; i < 1000; i++ {
		require.Equal(t, str, string(b[i*len(str):(i+1)*len(str)]))
	}
	p.Free(b)

	str = "TestAppendStr"
	b = p.Malloc(0)
	for i := 0; i < 1000; i++ {
		b = p.AppendStr(b, str)
	}
	require.Equal(t, 1000*len(str), len(b))
	p.Free(b)

	requireAllFree(t, a)
}

func TestFree(t *testing.T) {
	p, a := newTestPool(t)
	p.Free(nil)
	p.Free([]byte{})
	p.Free(make([]byte, 10))
	requireAllFree(t, a)

	// a buf with its start resliced is not handed back
	b := p.Malloc(100)
	p.Free(b[16:])
	require.Equal(t, 15, a.Buckets()[1].FreeCount())
	require.Equal(t, 64, a.Buckets()[0].FreeCount())
	require.Equal(t, cap(b)-16, p.Cap(b[16:]))
	p.Free(b)
	requireAllFree(t, a)
}

func Benchmark_MallocFree(b *testing.B) {
	p, _ := newTestPool(b)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			b := p.Malloc(i&0x3fff + 1)
			p.Free(b)
			i++
		}
	})
}

func Benchmark_AppendStr(b *testing.B) {
	p, _ := newTestPool(b)
	str := "Benchmark_AppendStr"
	b.ReportAllocs()
	b.SetBytes(int64(len(str)))
	b.RunParallel(func(pb *testing.PB) {
		i := 1
		b := p.Malloc(1)
		for pb.Next() {
			if i&0xff == 0 {
				p.Free(b)
				b = p.Malloc(1)
			}
			b = p.AppendStr(b, str)
			i++
		}
		p.Free(b)
	})
}
