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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/cloudwego/segpool/internal/stress"
)

// layoutCommand prints where each bucket landed in the arena.
type layoutCommand struct {
	g *globals
}

func (cmd *layoutCommand) run(c *kingpin.ParseContext) error {
	a, mem, err := cmd.g.boot()
	if err != nil {
		return fmt.Errorf("failed to boot allocator: %w", err)
	}
	defer func() { _ = mem.Release() }()

	bold := color.New(color.Bold)
	bold.Println("Arena:")
	fmt.Printf("\t%v, %s\n", mem, humanize.IBytes(uint64(mem.Len())))
	bold.Println("Layout:")
	for _, b := range a.Buckets() {
		fmt.Printf("\tbucket %d: [%#x, %#x) %d x %dB (payload %dB)\n",
			b.ID(), b.Base(), b.End(), b.SegmentCount(), b.SegmentSize(), b.PayloadSize())
	}
	printBuckets(a.Stats())
	return nil
}

// stressCommand runs a workload and prints what it did to the buckets.
type stressCommand struct {
	g    *globals
	opts stress.Options
}

func (cmd *stressCommand) run(c *kingpin.ParseContext) error {
	a, mem, err := cmd.g.boot()
	if err != nil {
		return fmt.Errorf("failed to boot allocator: %w", err)
	}
	defer func() { _ = mem.Release() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r, err := stress.Run(ctx, a, cmd.opts)
	if err != nil {
		return fmt.Errorf("stress run failed: %w", err)
	}
	bold := color.New(color.Bold)
	bold.Println("Run:")
	fmt.Printf("\t%d allocs, %d frees, %d escalations, %d out of memory in %v\n",
		r.Allocs, r.Frees, r.Escalations, r.OutOfMemory, r.Duration)
	if r.Duration > 0 {
		fmt.Printf("\t%.0f ops/s\n", float64(r.Allocs+r.Frees)/r.Duration.Seconds())
	}
	printBuckets(a.Stats())
	return nil
}
