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

//go:build !unix

package region

import "fmt"

// Mmap falls back to the Go heap where anonymous mappings are unavailable.
func Mmap(n int) (Region, error) {
	if n <= 0 {
		return Region{}, fmt.Errorf("region: mmap size must be > 0, got %d", n)
	}
	return Heap(n), nil
}
