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

package unsafex

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestSliceAddr(t *testing.T) {
	b := make([]byte, 4, 16)
	p := SliceAddr(b)
	assert.Equal(t, uintptr(unsafe.Pointer(&b[0])), p)
	assert.Equal(t, p, SliceAddr(b[:0]))
	assert.Equal(t, p+2, SliceAddr(b[2:]))
	assert.Equal(t, uintptr(0), SliceAddr(nil))
	assert.Equal(t, uintptr(0), SliceAddr([]byte{}))
}

func TestSlice(t *testing.T) {
	b := make([]byte, 16)
	s := Slice(unsafe.Pointer(&b[0]), 4, 16)
	assert.Equal(t, 4, len(s))
	assert.Equal(t, 16, cap(s))
	s[0] = 'x'
	assert.Equal(t, byte('x'), b[0])
	s = s[:16]
	s[15] = 'y'
	assert.Equal(t, byte('y'), b[15])

	assert.Nil(t, Slice(unsafe.Pointer(&b[0]), 0, 0))
}
