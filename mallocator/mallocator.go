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

//go:build cgo && ccalloc

// Package mallocator allocates through mimalloc. It is compiled in with the
// ccalloc build tag and requires the mimalloc library to be installed.
package mallocator

// #cgo LDFLAGS: -lmimalloc
// #include <mimalloc.h>
import "C"

import (
	"sync/atomic"
	"unsafe"
)

// Mallocator allocates zero-initialized buffers with mimalloc, keeping the
// bytes out of the Go heap and out of the garbage collector's working set.
// It satisfies the memkit Backend contract: a nil return signals that the
// allocation could not be satisfied. Negative sizes are a caller defect and
// panic.
type Mallocator struct {
	allocatedBytes int64
}

func NewMallocator() *Mallocator { return &Mallocator{} }

func (m *Mallocator) Allocate(size int) []byte {
	if size < 0 {
		panic("mallocator: negative size")
	}
	// mi_calloc(0) may return a unique pointer or nil, so allocate at least
	// one byte and clamp the slice length to the requested size.
	ptr := C.mi_calloc(C.size_t(max(size, 1)), 1)
	if ptr == nil {
		return nil
	}
	atomic.AddInt64(&m.allocatedBytes, int64(size))
	return unsafe.Slice((*byte)(ptr), max(size, 1))[:size]
}

func (m *Mallocator) Reallocate(size int, b []byte) []byte {
	if size < 0 {
		panic("mallocator: negative size")
	}
	if cap(b) == 0 {
		return m.Allocate(size)
	}
	oldSize := len(b)
	ptr := C.mi_realloc(basePointer(b), C.size_t(max(size, 1)))
	if ptr == nil {
		return nil
	}
	newB := unsafe.Slice((*byte)(ptr), max(size, 1))[:size]
	// mi_realloc leaves the grown region uninitialized.
	for i := oldSize; i < size; i++ {
		newB[i] = 0
	}
	atomic.AddInt64(&m.allocatedBytes, int64(size-oldSize))
	return newB
}

func (m *Mallocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	C.mi_free(basePointer(b))
	atomic.AddInt64(&m.allocatedBytes, -int64(len(b)))
}

// AllocatedBytes returns the sum of the requested sizes of all live
// allocations.
func (m *Mallocator) AllocatedBytes() int64 {
	return atomic.LoadInt64(&m.allocatedBytes)
}

// TestingT is the subset of testing.TB used by AssertSize.
type TestingT interface {
	Errorf(format string, args ...interface{})
	Helper()
}

// AssertSize reports an error through t unless exactly sz bytes are live.
func (m *Mallocator) AssertSize(t TestingT, sz int) {
	cur := m.AllocatedBytes()
	if int64(sz) != cur {
		t.Helper()
		t.Errorf("invalid memory size exp=%d, got=%d", sz, cur)
	}
}

// A zero-size allocation is one byte long under the hood, so the mimalloc
// pointer is always recoverable from the full capacity of the slice.
func basePointer(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[:cap(b)][0])
}
