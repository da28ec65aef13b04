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

// Package arena provides a chunked bump allocator over anonymous memory
// mappings. Allocations are a pointer bump under one lock; Free reclaims
// nothing. The memory comes back wholesale, on Reset or Close. That makes
// an Arena a fit for phase-shaped work where everything allocated in a
// phase dies with it, and a poor fit for churn.
package arena

import (
	"sync"

	"github.com/JohnCGriffin/overflow"
	"github.com/phuslu/log"
)

const (
	// Buffers are carved on 64 byte boundaries, one cache line apart.
	alignment = 64

	// DefaultChunkSize is the mapping granularity when New is given no
	// explicit size. Requests larger than the chunk size get a dedicated
	// mapping of their own.
	DefaultChunkSize = 1 << 20
)

// An Arena is a memkit backend that bump-allocates from mapped chunks. One
// lock serializes every operation, shared by all allocators routing to the
// same Arena. A nil return from Allocate or Reallocate means a chunk mapping
// failed. Negative sizes are a caller defect and panic, as is any use after
// Close.
type Arena struct {
	mu        sync.Mutex
	chunkSize int
	chunks    []chunk
	allocated int64
	reserved  int64
	peak      int64
	closed    bool
}

type chunk struct {
	buf []byte
	off int
}

// New returns an empty arena mapping chunkSize bytes at a time. A
// non-positive chunkSize means DefaultChunkSize.
func New(chunkSize int) *Arena {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Arena{chunkSize: chunkSize}
}

var shared = sync.OnceValue(func() *Arena {
	return New(DefaultChunkSize)
})

// Shared returns the process-wide arena, created on first use. Every
// allocator routing to it serializes on its single lock. It is never closed;
// Reset still applies when a global phase boundary exists.
func Shared() *Arena { return shared() }

func (a *Arena) Allocate(size int) []byte {
	if size < 0 {
		panic("arena: negative size")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		panic("arena: use after Close")
	}
	// Zero-size requests still take one byte so the slice capacity keeps a
	// live base pointer.
	b := a.bump(max(size, 1))
	if b == nil {
		return nil
	}
	a.allocated += int64(size)
	if a.allocated > a.peak {
		a.peak = a.allocated
	}
	return b[:size]
}

// Reallocate copies b into a fresh allocation. The old bytes stay mapped
// until the next Reset or Close.
func (a *Arena) Reallocate(size int, b []byte) []byte {
	if size < 0 {
		panic("arena: negative size")
	}
	if cap(b) == 0 {
		return a.Allocate(size)
	}
	newB := a.Allocate(size)
	if newB == nil {
		return nil
	}
	copy(newB, b)
	a.Free(b)
	return newB
}

// Free adjusts the outstanding accounting and reclaims nothing.
func (a *Arena) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	a.mu.Lock()
	a.allocated -= int64(len(b))
	a.mu.Unlock()
}

// Reset invalidates every buffer handed out so far and returns the mapped
// chunks to the system. The arena stays usable; later allocations map fresh
// zero-filled chunks.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.release()
}

// Close unmaps everything and marks the arena unusable. Closing twice is a
// no-op.
func (a *Arena) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.release()
	a.closed = true
}

// AllocatedBytes returns the bytes handed out and not yet freed.
func (a *Arena) AllocatedBytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated
}

// ReservedBytes returns the bytes currently mapped, allocated or not.
func (a *Arena) ReservedBytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved
}

// PeakBytes returns the high-water mark of allocated bytes. It survives
// Reset.
func (a *Arena) PeakBytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peak
}

// bump carves need bytes out of the current chunk, mapping a new one when it
// does not fit. Callers hold a.mu.
func (a *Arena) bump(need int) []byte {
	if n := len(a.chunks); n > 0 {
		c := &a.chunks[n-1]
		start := roundUp(c.off, alignment)
		if end, ok := overflow.Add(start, need); ok && end <= len(c.buf) {
			c.off = end
			return c.buf[start:end:end]
		}
	}

	csize := a.chunkSize
	if need > csize {
		csize = need
	}
	buf, err := mapChunk(csize)
	if err != nil {
		log.Error().Msgf("arena: mapping %d byte chunk failed: %v", csize, err)
		return nil
	}
	a.reserved += int64(len(buf))
	log.Debug().Msgf("arena: mapped %d byte chunk, %d chunks total", len(buf), len(a.chunks)+1)

	a.chunks = append(a.chunks, chunk{buf: buf, off: need})
	c := &a.chunks[len(a.chunks)-1]
	return c.buf[0:need:need]
}

// release unmaps every chunk and zeroes the accounting. Callers hold a.mu.
func (a *Arena) release() {
	for _, c := range a.chunks {
		if err := unmapChunk(c.buf); err != nil {
			log.Error().Msgf("arena: unmapping %d byte chunk failed: %v", len(c.buf), err)
		}
	}
	log.Debug().Msgf("arena: released %d chunks, %d bytes reserved, %d bytes still allocated", len(a.chunks), a.reserved, a.allocated)
	a.chunks = nil
	a.reserved = 0
	a.allocated = 0
}

func roundUp(v, pow2 int) int {
	return (v + pow2 - 1) &^ (pow2 - 1)
}
