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

// BucketStats is a snapshot of one bucket.
type BucketStats struct {
	ID          int
	SegmentSize int
	PayloadSize int
	Segments    int
	Free        int

	// Allocs counts segments handed out, Escalated the part of them
	// requested for a smaller bucket.
	Allocs    uint64
	Escalated uint64
	Frees     uint64
}

// InUse returns the number of segments currently handed out.
func (s BucketStats) InUse() int { return s.Segments - s.Free }

// Stats is a snapshot of the allocator.
// Counters are read one by one and may be slightly off under concurrency,
// Free of each bucket is exact at the time it's read.
type Stats struct {
	Buckets         []BucketStats
	OutOfMemory     uint64
	SizeUnsupported uint64
}

// Stats returns a snapshot of every bucket.
func (a *Allocator) Stats() Stats {
	s := Stats{
		Buckets:         make([]BucketStats, len(a.buckets)),
		OutOfMemory:     a.ooms.Load(),
		SizeUnsupported: a.unsupported.Load(),
	}
	for i, b := range a.buckets {
		s.Buckets[i] = BucketStats{
			ID:          b.ID(),
			SegmentSize: b.SegmentSize(),
			PayloadSize: b.PayloadSize(),
			Segments:    b.SegmentCount(),
			Free:        b.FreeCount(),
			Allocs:      b.allocs.Load(),
			Escalated:   b.escalated.Load(),
			Frees:       b.frees.Load(),
		}
	}
	return s
}

// Available returns the free payload bytes over all buckets.
func (s Stats) Available() int {
	n := 0
	for _, b := range s.Buckets {
		n += b.Free * b.PayloadSize
	}
	return n
}
