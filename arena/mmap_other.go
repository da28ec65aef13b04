// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build !unix

package arena

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/JohnCGriffin/overflow"
	"github.com/phuslu/log"
)

var fallbackOnce sync.Once

// Platforms without anonymous mappings keep the chunks on the Go heap. The
// arena still bump-allocates and reclaims wholesale, the garbage collector
// just owns the chunks. The heap does not promise the cache line alignment
// a mapping has, so over-allocate and slice to the next boundary.
func mapChunk(size int) ([]byte, error) {
	fallbackOnce.Do(func() {
		log.Warn().Msgf("arena: anonymous mappings unavailable on this platform, chunks stay on the Go heap")
	})
	padded, ok := overflow.Add(size, alignment)
	if !ok {
		return nil, fmt.Errorf("chunk of %d bytes cannot be padded to alignment", size)
	}
	buf := make([]byte, padded)
	shift := int(uintptr(unsafe.Pointer(&buf[0])) & uintptr(alignment-1))
	if shift == 0 {
		return buf[:size], nil
	}
	return buf[alignment-shift : alignment-shift+size], nil
}

func unmapChunk(b []byte) error { return nil }
