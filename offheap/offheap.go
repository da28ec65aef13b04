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

// Package offheap allocates buffers outside the Go heap without cgo, backed
// by github.com/smasher164/mem. Buffers never move under the garbage
// collector and never count toward its pacing, at the cost of a system call
// per allocation. Prefer it for large, long-lived buffers.
package offheap

import (
	"sync/atomic"
	"unsafe"

	"github.com/smasher164/mem"
)

// Allocator is a memkit backend over mem.Alloc and mem.Free. The library
// has no resize call, so Reallocate maps a fresh buffer and copies into it
// before freeing the old one. A nil return signals the mapping could not be
// created. Negative sizes are a caller defect and panic.
type Allocator struct {
	allocatedBytes int64
}

func NewAllocator() *Allocator { return &Allocator{} }

func (a *Allocator) Allocate(size int) []byte {
	if size < 0 {
		panic("offheap: negative size")
	}
	// Fresh anonymous mappings are zero filled, and every allocation is a
	// fresh mapping, so buffers come back zeroed without touching them.
	// Zero-size requests still map one byte so the base pointer survives in
	// the slice capacity.
	ptr := mem.Alloc(uint(max(size, 1)))
	if ptr == nil {
		return nil
	}
	atomic.AddInt64(&a.allocatedBytes, int64(size))
	return unsafe.Slice((*byte)(ptr), max(size, 1))[:size]
}

func (a *Allocator) Reallocate(size int, b []byte) []byte {
	if size < 0 {
		panic("offheap: negative size")
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

func (a *Allocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	mem.Free(unsafe.Pointer(&b[:cap(b)][0]))
	atomic.AddInt64(&a.allocatedBytes, -int64(len(b)))
}

// AllocatedBytes returns the sum of the requested sizes of all live
// allocations.
func (a *Allocator) AllocatedBytes() int64 {
	return atomic.LoadInt64(&a.allocatedBytes)
}
