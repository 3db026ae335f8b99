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

package main

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cloudwego/segpool/unsafex/malloc"
	"github.com/cloudwego/segpool/unsafex/region"
)

// file is the layout of --config.file:
//
//	arena:
//	  size: 16MB
//	  backing: mmap
//	checked: false
//	buckets:
//	  - segment_size: 32B
//	    segment_count: 1024
type file struct {
	Arena         region.Options `yaml:"arena"`
	malloc.Config `yaml:",inline"`
}

func loadFile(path string) (*file, error) {
	if path == "" {
		return &file{Config: *malloc.DefaultConfig()}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseFile(b)
}

func parseFile(b []byte) (*file, error) {
	f := &file{}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil {
		return nil, fmt.Errorf("%w: %v", malloc.ErrInvalidConfig, err)
	}
	if err := f.Config.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
