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

// Command segpoolctl lays out and exercises a segment pool allocator on the
// host, using the same bucket table a kernel would boot with.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/alecthomas/kingpin/v2"
	"github.com/c2h5oh/datasize"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/cloudwego/segpool/unsafex/malloc"
	"github.com/cloudwego/segpool/unsafex/region"
)

func main() {
	app := kingpin.New("segpoolctl", "Lay out and exercise a segment pool allocator.")
	g := &globals{}
	app.Flag("config.file", "YAML file with the arena and bucket table. Defaults to the built-in table.").StringVar(&g.configFile)
	app.Flag("log.level", "Only log messages with the given severity or above.").
		Default("info").EnumVar(&g.logLevel, "debug", "info", "warn", "error")
	app.Flag("checked", "Detect double frees and foreign addresses.").BoolVar(&g.checked)

	layout := &layoutCommand{g: g}
	app.Command("layout", "Print the bucket layout.").Action(layout.run)

	stress := &stressCommand{g: g}
	cmd := app.Command("stress", "Run a concurrent alloc/free workload and print bucket stats.").Action(stress.run)
	cmd.Flag("workers", "Concurrent workers.").Default("4").IntVar(&stress.opts.Workers)
	cmd.Flag("ops", "Operations per worker.").Default("100000").IntVar(&stress.opts.Ops)
	cmd.Flag("hold", "Max live allocations per worker.").Default("32").IntVar(&stress.opts.Hold)
	cmd.Flag("max-size", "Largest request in bytes, 0 for the largest payload.").Default("0").IntVar(&stress.opts.MaxSize)
	cmd.Flag("seed", "Seed of the first worker.").Default("1").Int64Var(&stress.opts.Seed)

	kingpin.MustParse(app.Parse(os.Args[1:]))
}

// globals are the flags shared by every command.
type globals struct {
	configFile string
	logLevel   string
	checked    bool
}

func (g *globals) logger() log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	var opt level.Option
	switch g.logLevel {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	return level.NewFilter(logger, opt)
}

// boot builds the allocator described by the config file.
// The returned region must be released by the caller.
func (g *globals) boot() (*malloc.Allocator, region.Region, error) {
	f, err := loadFile(g.configFile)
	if err != nil {
		return nil, region.Region{}, err
	}
	cfg := &f.Config
	cfg.Checked = cfg.Checked || g.checked
	cfg.Logger = g.logger()

	if f.Arena.Size == 0 {
		f.Arena.Size = datasize.ByteSize(cfg.Size() + malloc.SegmentAlign)
	}
	mem, err := region.New(f.Arena)
	if err != nil {
		return nil, region.Region{}, err
	}
	a, err := malloc.New(cfg, mem)
	if err != nil {
		_ = mem.Release()
		return nil, region.Region{}, err
	}
	return a, mem, nil
}

func printBuckets(s malloc.Stats) {
	bold := color.New(color.Bold)
	bold.Println("Buckets:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "bucket\tsegment\tpayload\tsegments\tfree\tallocs\tescalated\tbytes\t")
	for _, b := range s.Buckets {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t\n",
			b.ID, b.SegmentSize, b.PayloadSize, b.Segments, b.Free, b.Allocs, b.Escalated,
			humanize.IBytes(uint64(b.SegmentSize*b.Segments)))
	}
	w.Flush()
	fmt.Printf("available payload: %s, out of memory: %d, size unsupported: %d\n",
		humanize.IBytes(uint64(s.Available())), s.OutOfMemory, s.SizeUnsupported)
}
