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

import "errors"

var (
	// ErrSizeUnsupported is returned by Alloc when the requested size is
	// larger than the payload of the largest bucket.
	ErrSizeUnsupported = errors.New("malloc: size unsupported")

	// ErrOutOfMemory is returned by Alloc when the home bucket and every
	// larger bucket are exhausted.
	ErrOutOfMemory = errors.New("malloc: out of memory")

	// ErrOvercommit is returned by New when the buckets need more memory than
	// the regions provide.
	ErrOvercommit = errors.New("malloc: buckets overcommit memory")

	// ErrInvalidConfig is returned when a bucket table is malformed.
	ErrInvalidConfig = errors.New("malloc: invalid config")
)
