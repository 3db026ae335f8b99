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

// Package unsafex converts between slices, pointers and raw addresses.
package unsafex

import "unsafe"

// SliceAddr returns the address of the first element of b.
// It also works for zero length slices with a non zero cap.
// It returns 0 if b has no backing array.
func SliceAddr(b []byte) uintptr {
	if cap(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// Slice returns a []byte at p with len n and cap c.
// The memory at [p, p+c) must stay valid while the slice is in use.
func Slice(p unsafe.Pointer, n, c int) []byte {
	if c == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), c)[:n]
}
