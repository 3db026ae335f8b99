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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/c2h5oh/datasize"
	"github.com/go-kit/log"
	"gopkg.in/yaml.v3"
)

// BucketConfig describes one size class.
type BucketConfig struct {
	// SegmentSize is the size of each segment, HeaderSize included.
	// It must be a multiple of SegmentAlign and larger than HeaderSize.
	SegmentSize datasize.ByteSize `yaml:"segment_size"`

	// SegmentCount is the number of segments, 1 to MaxSegments.
	SegmentCount int `yaml:"segment_count"`
}

// Bytes returns the memory needed by the bucket.
func (c BucketConfig) Bytes() int {
	return int(c.SegmentSize.Bytes()) * c.SegmentCount
}

// Config is the bucket table consumed by New.
type Config struct {
	// Buckets may be listed in any order, New sorts them by SegmentSize.
	Buckets []BucketConfig `yaml:"buckets"`

	// Checked enables misuse detection on Free: double free, foreign
	// addresses and corrupted headers panic instead of being undefined.
	// It costs an extra CAS per call and should stay off in production.
	Checked bool `yaml:"checked"`

	// Logger defaults to a nop logger.
	Logger log.Logger `yaml:"-"`
}

// DefaultConfig returns power of two buckets from 32B to 64KB,
// with fewer segments as they grow. It needs 11.5MB.
func DefaultConfig() *Config {
	c := &Config{}
	count := 16384
	for sz := 32; sz <= 64<<10; sz <<= 1 {
		c.Buckets = append(c.Buckets, BucketConfig{
			SegmentSize:  datasize.ByteSize(sz),
			SegmentCount: count,
		})
		if count > 64 {
			count >>= 1
		}
	}
	return c
}

// ParseConfig decodes a YAML bucket table and validates it.
func ParseConfig(b []byte) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadConfig reads the YAML bucket table at path.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

// Validate checks every bucket and that segment sizes are distinct.
func (c *Config) Validate() error {
	if len(c.Buckets) == 0 {
		return fmt.Errorf("%w: no buckets", ErrInvalidConfig)
	}
	if len(c.Buckets) > MaxBuckets {
		return fmt.Errorf("%w: too many buckets, max %d, got %d", ErrInvalidConfig, MaxBuckets, len(c.Buckets))
	}
	for i, bc := range c.Buckets {
		sz := bc.SegmentSize.Bytes()
		if sz <= uint64(HeaderSize) {
			return fmt.Errorf("%w: bucket %d: segment size must be > header size (%d), got %d",
				ErrInvalidConfig, i, HeaderSize, sz)
		}
		if sz%SegmentAlign != 0 {
			return fmt.Errorf("%w: bucket %d: segment size must be a multiple of %d, got %d",
				ErrInvalidConfig, i, SegmentAlign, sz)
		}
		if bc.SegmentCount <= 0 || bc.SegmentCount > MaxSegments {
			return fmt.Errorf("%w: bucket %d: segment count must be in [1, %d], got %d",
				ErrInvalidConfig, i, MaxSegments, bc.SegmentCount)
		}
		if sz > uint64(maxInt/bc.SegmentCount) {
			return fmt.Errorf("%w: bucket %d: %d segments of %d bytes overflow",
				ErrInvalidConfig, i, bc.SegmentCount, sz)
		}
	}
	sorted := c.sorted()
	for i := 1; i < len(sorted); i++ {
		if sorted[i].SegmentSize == sorted[i-1].SegmentSize {
			return fmt.Errorf("%w: duplicated segment size %d", ErrInvalidConfig, sorted[i].SegmentSize.Bytes())
		}
	}
	return nil
}

// Size returns the bytes needed by all buckets, ignoring alignment padding.
func (c *Config) Size() int {
	n := 0
	for _, bc := range c.Buckets {
		n += bc.Bytes()
	}
	return n
}

// sorted returns a copy of the buckets in ascending segment size.
func (c *Config) sorted() []BucketConfig {
	s := make([]BucketConfig, len(c.Buckets))
	copy(s, c.Buckets)
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].SegmentSize < s[j].SegmentSize
	})
	return s
}

const maxInt = int(^uint(0) >> 1)
