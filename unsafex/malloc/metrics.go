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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports allocator stats to prometheus.
// Values are read from the allocator on every scrape.
type Collector struct {
	a *Allocator

	segments    *prometheus.Desc
	free        *prometheus.Desc
	allocs      *prometheus.Desc
	escalations *prometheus.Desc
	frees       *prometheus.Desc
	ooms        *prometheus.Desc
	unsupported *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for a. namespace prefixes every metric.
func NewCollector(a *Allocator, namespace string) *Collector {
	labels := []string{"bucket", "segment_size"}
	name := func(n string) string {
		return prometheus.BuildFQName(namespace, "segpool", n)
	}
	return &Collector{
		a: a,
		segments: prometheus.NewDesc(name("segments"),
			"Total number of segments per bucket.", labels, nil),
		free: prometheus.NewDesc(name("segments_free"),
			"Number of free segments per bucket.", labels, nil),
		allocs: prometheus.NewDesc(name("allocations_total"),
			"Segments handed out per bucket.", labels, nil),
		escalations: prometheus.NewDesc(name("escalations_total"),
			"Allocations served by a bucket larger than the requested one.", labels, nil),
		frees: prometheus.NewDesc(name("frees_total"),
			"Segments returned per bucket.", labels, nil),
		ooms: prometheus.NewDesc(name("out_of_memory_total"),
			"Allocations failed because every eligible bucket was empty.", nil, nil),
		unsupported: prometheus.NewDesc(name("size_unsupported_total"),
			"Allocations failed because no bucket was large enough.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.segments
	ch <- c.free
	ch <- c.allocs
	ch <- c.escalations
	ch <- c.frees
	ch <- c.ooms
	ch <- c.unsupported
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.a.Stats()
	for _, b := range s.Buckets {
		id, size := strconv.Itoa(b.ID), strconv.Itoa(b.SegmentSize)
		ch <- prometheus.MustNewConstMetric(c.segments, prometheus.GaugeValue, float64(b.Segments), id, size)
		ch <- prometheus.MustNewConstMetric(c.free, prometheus.GaugeValue, float64(b.Free), id, size)
		ch <- prometheus.MustNewConstMetric(c.allocs, prometheus.CounterValue, float64(b.Allocs), id, size)
		ch <- prometheus.MustNewConstMetric(c.escalations, prometheus.CounterValue, float64(b.Escalated), id, size)
		ch <- prometheus.MustNewConstMetric(c.frees, prometheus.CounterValue, float64(b.Frees), id, size)
	}
	ch <- prometheus.MustNewConstMetric(c.ooms, prometheus.CounterValue, float64(s.OutOfMemory))
	ch <- prometheus.MustNewConstMetric(c.unsupported, prometheus.CounterValue, float64(s.SizeUnsupported))
}
