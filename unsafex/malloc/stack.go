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

import "sync/atomic"

// MaxSegments is the max number of segments in one bucket.
const MaxSegments = 1<<topBits - 1

// The head of a free stack is packed in one word so that the top of the chain
// and the free count always change together:
//
//	| tag (16 bits) | count (24 bits) | top (24 bits) |
//
// top is the index+1 of the first free segment, 0 if the stack is empty.
// tag is bumped on every successful CAS, which guards against ABA when a
// segment is popped and pushed back between another CPU's load and CAS.
const (
	topBits   = 24
	countBits = 24

	topMask   = 1<<topBits - 1
	countMask = 1<<countBits - 1
	tagShift  = topBits + countBits // 16 tag bits: ABA needs 1<<16 CASes between one load and CAS
)

type stackHead uint64

func packHead(top, count uint32, tag uint64) stackHead {
	return stackHead(tag<<tagShift | uint64(count)<<topBits | uint64(top))
}

func (h stackHead) top() uint32   { return uint32(h & topMask) }
func (h stackHead) count() uint32 { return uint32(h>>topBits) & countMask }
func (h stackHead) tag() uint64   { return uint64(h >> tagShift) }

// freeStack is a lock-free LIFO of segment indexes.
// The links live in the segment headers, see header.next.
type freeStack struct {
	head atomic.Uint64
}

func (s *freeStack) load() stackHead { return stackHead(s.head.Load()) }

func (s *freeStack) cas(old, new stackHead) bool {
	return s.head.CompareAndSwap(uint64(old), uint64(new))
}

// pop removes the top index. next returns the link stored for an index+1.
// It returns false if the stack is empty, without modifying anything.
func (s *freeStack) pop(next func(top uint32) uint32) (uint32, bool) {
	for {
		old := s.load()
		top := old.top()
		if top == 0 {
			return 0, false
		}
		// next may be stale if another CPU won the race, the CAS then fails.
		n := next(top)
		if s.cas(old, packHead(n, old.count()-1, old.tag()+1)) {
			return top - 1, true
		}
	}
}

// push puts idx back on top. link stores the current top into idx's header.
func (s *freeStack) push(idx uint32, link func(next uint32)) {
	for {
		old := s.load()
		link(old.top())
		if s.cas(old, packHead(idx+1, old.count()+1, old.tag()+1)) {
			return
		}
	}
}
