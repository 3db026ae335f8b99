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
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/cloudwego/segpool/unsafex/region"
)

// New partitions mem into the buckets described by cfg and returns an
// allocator with every segment free.
//
// Buckets are carved in ascending segment size, each one from the first
// region with enough room left. A bucket never spans two regions.
// If the buckets don't fit, New returns ErrOvercommit and leaves mem untouched.
// Overlapping regions are rejected with ErrInvalidConfig.
// A nil cfg means DefaultConfig().
func New(cfg *Config, mem ...region.Region) (*Allocator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	if err := checkOverlap(mem); err != nil {
		return nil, err
	}
	specs := cfg.sorted()
	carves, err := plan(specs, mem)
	if err != nil {
		return nil, err
	}

	a := &Allocator{
		buckets: make([]*Bucket, 0, len(specs)),
		regions: append([]region.Region(nil), mem...),
		checked: cfg.Checked,
		logger:  logger,
	}
	for i, bc := range specs {
		b := newBucket(uint32(i), carves[i], int(bc.SegmentSize.Bytes()), bc.SegmentCount, cfg.Checked)
		a.buckets = append(a.buckets, b)
		level.Info(logger).Log(
			"msg", "bucket ready",
			"bucket", i,
			"segment_size", b.SegmentSize(),
			"segments", b.SegmentCount(),
			"base", fmt.Sprintf("%#x", b.Base()),
			"bytes", humanize.IBytes(uint64(bc.Bytes())),
		)
	}
	a.maxSize = a.buckets[len(a.buckets)-1].PayloadSize()
	return a, nil
}

// MustNew is like New but panics on error.
// It's meant for boot code where no allocator means nothing else can run.
func MustNew(cfg *Config, mem ...region.Region) *Allocator {
	a, err := New(cfg, mem...)
	if err != nil {
		panic(err)
	}
	return a
}

// checkOverlap fails if any two non-empty regions share a byte.
func checkOverlap(mem []region.Region) error {
	rs := make([]region.Region, 0, len(mem))
	for _, r := range mem {
		if r.Len() > 0 {
			rs = append(rs, r)
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].Base() < rs[j].Base() })
	for i := 1; i < len(rs); i++ {
		if rs[i-1].End() > rs[i].Base() {
			return fmt.Errorf("%w: regions %v and %v overlap", ErrInvalidConfig, rs[i-1], rs[i])
		}
	}
	return nil
}

// plan returns the start of every bucket without touching memory.
func plan(specs []BucketConfig, mem []region.Region) ([]unsafe.Pointer, error) {
	// next free address of each region
	cursors := make([]uintptr, len(mem))
	for i, r := range mem {
		cursors[i] = alignUp(r.Base(), SegmentAlign)
	}
	starts := make([]unsafe.Pointer, len(specs))
	for i, bc := range specs {
		need := uintptr(bc.Bytes())
		found := false
		for j, r := range mem {
			if cursors[j] <= r.End() && r.End()-cursors[j] >= need {
				starts[i] = r.At(cursors[j])
				cursors[j] += need
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: bucket %d (%d x %dB) needs %s, largest free range is %s",
				ErrOvercommit, i, bc.SegmentCount, bc.SegmentSize.Bytes(),
				humanize.IBytes(uint64(need)), humanize.IBytes(uint64(largest(cursors, mem))))
		}
	}
	return starts, nil
}

func largest(cursors []uintptr, mem []region.Region) uintptr {
	var n uintptr
	for i, r := range mem {
		if cursors[i] < r.End() && r.End()-cursors[i] > n {
			n = r.End() - cursors[i]
		}
	}
	return n
}

func alignUp(p, align uintptr) uintptr {
	return (p + align - 1) &^ (align - 1)
}
