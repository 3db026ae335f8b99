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

package stress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cloudwego/segpool/unsafex/malloc"
	"github.com/cloudwego/segpool/unsafex/region"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newAllocator(t *testing.T, checked bool) *malloc.Allocator {
	cfg := &malloc.Config{
		Buckets: []malloc.BucketConfig{
			{SegmentSize: 32, SegmentCount: 128},
			{SegmentSize: 256, SegmentCount: 64},
			{SegmentSize: 1024, SegmentCount: 16},
		},
		Checked: checked,
	}
	a, err := malloc.New(cfg, region.Heap(cfg.Size()+malloc.SegmentAlign))
	require.NoError(t, err)
	return a
}

func TestRun(t *testing.T) {
	for _, checked := range []bool{false, true} {
		a := newAllocator(t, checked)
		r, err := Run(context.Background(), a, Options{Workers: 8, Ops: 5000, Seed: 1})
		require.NoError(t, err, "checked=%v", checked)
		assert.Equal(t, r.Allocs, r.Frees)
		assert.NotZero(t, r.Allocs)

		s := a.Stats()
		var allocs uint64
		for _, b := range s.Buckets {
			assert.Equal(t, b.Segments, b.Free)
			allocs += b.Allocs
		}
		assert.Equal(t, r.Allocs, allocs)
		assert.Equal(t, r.OutOfMemory, s.OutOfMemory)
	}
}

func TestRunKeepsOutstanding(t *testing.T) {
	a := newAllocator(t, false)
	p, err := a.Alloc(100)
	require.NoError(t, err)

	_, err = Run(context.Background(), a, Options{Workers: 2, Ops: 1000, MaxSize: 200})
	require.NoError(t, err)
	assert.Equal(t, 63, a.Buckets()[1].FreeCount())

	a.Free(p)
	assert.Equal(t, 64, a.Buckets()[1].FreeCount())
}

func TestRunCanceled(t *testing.T) {
	a := newAllocator(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, a, Options{Workers: 4})
	assert.ErrorIs(t, err, context.Canceled)
	for _, b := range a.Buckets() {
		assert.Equal(t, b.SegmentCount(), b.FreeCount())
	}
}
