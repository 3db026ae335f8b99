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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig([]byte(`
checked: true
buckets:
  - segment_size: 4KB
    segment_count: 8
  - segment_size: 32B
    segment_count: 4
  - segment_size: 128B
    segment_count: 2
`))
	require.NoError(t, err)
	assert.True(t, c.Checked)
	require.Len(t, c.Buckets, 3)
	assert.Equal(t, uint64(4096), c.Buckets[0].SegmentSize.Bytes())
	assert.Equal(t, 8, c.Buckets[0].SegmentCount)
	assert.Equal(t, 4096*8+32*4+128*2, c.Size())

	sorted := c.sorted()
	assert.Equal(t, uint64(32), sorted[0].SegmentSize.Bytes())
	assert.Equal(t, uint64(4096), sorted[2].SegmentSize.Bytes())
	// the original order is kept
	assert.Equal(t, uint64(4096), c.Buckets[0].SegmentSize.Bytes())
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ``},
		{"no_buckets", `checked: false`},
		{"unknown_field", "buckets:\n  - segment_size: 32B\n    segment_count: 4\n    color: red\n"},
		{"bad_size", "buckets:\n  - segment_size: lots\n    segment_count: 4\n"},
		{"bad_count", "buckets:\n  - segment_size: 32B\n    segment_count: 0\n"},
		{"duplicated", "buckets:\n  - {segment_size: 32B, segment_count: 4}\n  - {segment_size: 32B, segment_count: 1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buckets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("buckets:\n  - {segment_size: 64B, segment_count: 16}\n"), 0o644))
	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 64*16, c.Size())

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Len(t, c.Buckets, 12)
	assert.Equal(t, 23<<19, c.Size()) // 11.5MB
	for i := 1; i < len(c.Buckets); i++ {
		assert.Greater(t, c.Buckets[i].SegmentSize, c.Buckets[i-1].SegmentSize)
	}

	a, err := New(nil, heapFor(c))
	require.NoError(t, err)
	assert.Equal(t, 64<<10-HeaderSize, a.MaxSize())
}
