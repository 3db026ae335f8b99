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
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/bytedance/gopkg/util/xxhash3"
)

const (
	// HeaderSize is the size of the header at the start of every segment.
	// The payload handed to callers begins right after it.
	HeaderSize = int(unsafe.Sizeof(header{}))

	// SegmentAlign is the alignment of segment sizes and bucket bases.
	SegmentAlign = 8

	// MaxBuckets is the max number of buckets in one allocator.
	MaxBuckets = 1 << 16
)

// header is embedded at the start of every segment. It's 8 bytes:
//
//	meta: | bucket (16 bits) | check (15 bits) | in use (1 bit) |
//	next: index+1 of the next free segment, 0 terminates the chain
//
// meta is written at init and refreshed on allocation, never by callers.
// check and the in use bit are only maintained in checked mode.
// next is only meaningful while the segment sits on the free stack.
type header struct {
	meta uint32
	next uint32
}

const (
	metaInUse     = 1
	metaCheckMask = 0xFFFE
	metaIDShift   = 16
)

func headerAt(seg unsafe.Pointer) *header {
	return (*header)(seg)
}

func makeMeta(bucket, check uint32) uint32 {
	return bucket<<metaIDShift | check&metaCheckMask
}

func (h *header) loadMeta() uint32 { return atomic.LoadUint32(&h.meta) }

func (h *header) storeMeta(m uint32) { atomic.StoreUint32(&h.meta, m) }

func (h *header) casMeta(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(&h.meta, old, new)
}

func (h *header) bucketID() uint32 { return h.loadMeta() >> metaIDShift }

func (h *header) loadNext() uint32 { return atomic.LoadUint32(&h.next) }

func (h *header) storeNext(n uint32) { atomic.StoreUint32(&h.next, n) }

// checksum binds a bucket id to the segment offset inside its bucket.
// A header copied to the wrong place or scribbled over won't match.
func checksum(bucket uint32, off uintptr) uint32 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], uint64(bucket))
	binary.LittleEndian.PutUint64(b[8:], uint64(off))
	return uint32(xxhash3.Hash(b[:])) & metaCheckMask
}
