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

// Package stress runs concurrent random alloc/free workloads against an
// allocator and checks that no segment is handed out twice, no payload is
// overwritten by someone else, and that every segment comes back.
package stress

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloudwego/segpool/unsafex/malloc"
)

// Options of a run. Zero values get defaults.
type Options struct {
	Workers int   // concurrent workers, default 4
	Ops     int   // alloc or free operations per worker, default 10000
	MaxSize int   // largest request, default and cap a.MaxSize()
	Hold    int   // max live allocations per worker, default 32
	Seed    int64 // seed of worker i is Seed+i
}

func (o *Options) setDefaults(a *malloc.Allocator) {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Ops <= 0 {
		o.Ops = 10000
	}
	if o.MaxSize <= 0 || o.MaxSize > a.MaxSize() {
		o.MaxSize = a.MaxSize()
	}
	if o.Hold <= 0 {
		o.Hold = 32
	}
}

// Report of a run.
type Report struct {
	Allocs      uint64
	Frees       uint64
	OutOfMemory uint64
	Escalations uint64
	Duration    time.Duration
}

// stamp is written at the start of every payload, so payloads must be at
// least stampSize bytes. Shorter ones are not verified.
const stampSize = 8

// Run executes the workload and returns once every worker has freed what
// it holds. It fails on the first corrupted payload, or if the allocator
// doesn't have every segment back that was free before the run.
func Run(ctx context.Context, a *malloc.Allocator, o Options) (Report, error) {
	o.setDefaults(a)
	before := a.Stats()

	var r Report
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < o.Workers; w++ {
		w := w
		g.Go(func() error {
			return work(ctx, a, o, w, &r)
		})
	}
	err := g.Wait()
	r.Duration = time.Since(start)
	if err != nil {
		return r, err
	}

	after := a.Stats()
	for i, b := range after.Buckets {
		r.Escalations += b.Escalated - before.Buckets[i].Escalated
		if b.Free != before.Buckets[i].Free {
			return r, fmt.Errorf("stress: bucket %d has %d free segments, %d before the run",
				b.ID, b.Free, before.Buckets[i].Free)
		}
	}
	return r, nil
}

type live struct {
	p     malloc.Addr
	size  int
	stamp uint64
}

func work(ctx context.Context, a *malloc.Allocator, o Options, w int, r *Report) (err error) {
	rng := rand.New(rand.NewSource(o.Seed + int64(w)))
	held := make([]live, 0, o.Hold)
	defer func() {
		for _, l := range held {
			if verr := verify(a, l); verr != nil && err == nil {
				err = verr
			}
			a.Free(l.p)
			atomic.AddUint64(&r.Frees, 1)
		}
	}()

	for i := 0; i < o.Ops; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(held) < o.Hold && (len(held) == 0 || rng.Intn(2) == 0) {
			size := 1 + rng.Intn(o.MaxSize)
			p, err := a.Alloc(size)
			if err != nil {
				atomic.AddUint64(&r.OutOfMemory, 1)
				continue
			}
			l := live{p: p, size: size, stamp: uint64(w)<<32 | uint64(i)}
			if size >= stampSize {
				binary.LittleEndian.PutUint64(a.Bytes(p, stampSize), l.stamp)
			}
			held = append(held, l)
			atomic.AddUint64(&r.Allocs, 1)
			continue
		}
		j := rng.Intn(len(held))
		l := held[j]
		held[j] = held[len(held)-1]
		held = held[:len(held)-1]
		err := verify(a, l)
		a.Free(l.p)
		atomic.AddUint64(&r.Frees, 1)
		if err != nil {
			return err
		}
	}
	return nil
}

func verify(a *malloc.Allocator, l live) error {
	if l.size < stampSize {
		return nil
	}
	if got := binary.LittleEndian.Uint64(a.Bytes(l.p, stampSize)); got != l.stamp {
		return fmt.Errorf("stress: payload at %#x overwritten: want stamp %#x, got %#x",
			uintptr(l.p), l.stamp, got)
	}
	return nil
}
