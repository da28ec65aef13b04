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

package memkit

import (
	"fmt"
	"sync"

	"github.com/memkit/memkit/internal/debug"
)

// MaxAllocSize is the exclusive upper bound on a single allocation request.
// A request at or above it fails with ErrTooLarge before reaching the
// backend.
const MaxAllocSize int64 = 1 << 48

// An Allocator dispatches allocation requests to its Backend, enforcing the
// size bounds and recording every outstanding allocation in the attached
// Ledger when one is present. The zero value is not usable; construct with
// NewAllocator or NewAllocatorFuncs, or use DefaultAllocator.
//
// All methods are safe for concurrent use provided the Backend is.
type Allocator struct {
	backend Backend
	ledger  *Ledger
}

func NewAllocator(b Backend) *Allocator {
	a := &Allocator{backend: b}
	if debugEnabled {
		a.ledger = NewLedger()
	}
	return a
}

// NewAllocatorFuncs builds an Allocator from bare backend functions. All
// three must be non-nil; a missing one is a construction defect and panics
// immediately rather than at first use.
func NewAllocatorFuncs(allocate func(size int) []byte, reallocate func(size int, b []byte) []byte, free func(b []byte)) *Allocator {
	if allocate == nil || reallocate == nil || free == nil {
		panic("memkit: backend functions must all be non-nil")
	}
	return NewAllocator(BackendFuncs{
		AllocateFunc:   allocate,
		ReallocateFunc: reallocate,
		FreeFunc:       free,
	})
}

// WithLedger attaches l and returns the allocator, replacing any ledger a
// debug build attached at construction. Attach before the first allocation:
// bytes allocated earlier are unknown to l and freeing them through a
// tracked allocator is reported as a violation.
func (a *Allocator) WithLedger(l *Ledger) *Allocator {
	a.ledger = l
	return a
}

// Ledger returns the attached ledger, or nil when the allocator is
// untracked.
func (a *Allocator) Ledger() *Ledger { return a.ledger }

// Backend returns the backend requests are dispatched to.
func (a *Allocator) Backend() Backend { return a.backend }

// Allocate obtains a zero-initialized buffer of exactly size bytes from the
// backend. It fails with ErrInvalid when size is not positive, ErrTooLarge
// when size reaches MaxAllocSize, and ErrOutOfMemory when the backend cannot
// satisfy the request.
func (a *Allocator) Allocate(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: allocation size must be positive, got %d", ErrInvalid, size)
	}
	if int64(size) >= MaxAllocSize {
		debug.Assert(false, "allocation request exceeds the single-allocation maximum")
		return nil, fmt.Errorf("%w: requested %d bytes, single allocations are capped at %d", ErrTooLarge, size, MaxAllocSize)
	}
	b := a.backend.Allocate(size)
	if b == nil {
		return nil, fmt.Errorf("%w: failed to allocate %d bytes", ErrOutOfMemory, size)
	}
	if a.ledger != nil {
		a.ledger.RecordAllocate(b)
	}
	return b, nil
}

// Free returns b to the backend. Freeing a nil or empty slice is a no-op.
// The slice must be exactly the one obtained from Allocate or Reallocate,
// not a sub-slice of it.
func (a *Allocator) Free(b []byte) {
	if len(b) == 0 {
		return
	}
	if a.ledger != nil {
		a.ledger.RecordFree(b)
	}
	a.backend.Free(b)
}

// Reallocate resizes b to exactly size bytes, preserving the leading
// min(len(b), size) bytes. A nil or empty b means there is nothing to
// reallocate and yields (nil, nil). The size bounds are enforced exactly as
// in Allocate. On failure b remains valid and untouched; on success b must
// not be used again.
func (a *Allocator) Reallocate(size int, b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: reallocation size must be positive, got %d", ErrInvalid, size)
	}
	if int64(size) >= MaxAllocSize {
		debug.Assert(false, "reallocation request exceeds the single-allocation maximum")
		return nil, fmt.Errorf("%w: requested %d bytes, single allocations are capped at %d", ErrTooLarge, size, MaxAllocSize)
	}
	newB := a.backend.Reallocate(size, b)
	if newB == nil {
		return nil, fmt.Errorf("%w: failed to reallocate from %d to %d bytes", ErrOutOfMemory, len(b), size)
	}
	if a.ledger != nil {
		a.ledger.RecordReallocate(b, newB)
	}
	return newB, nil
}

// AllocateBuffer allocates size bytes and wraps them in an owning Buffer.
func (a *Allocator) AllocateBuffer(size int) (*Buffer, error) {
	b, err := a.Allocate(size)
	if err != nil {
		return nil, err
	}
	return newBuffer(a, b), nil
}

// Close tears down the attached ledger, asserting that no allocation is
// still outstanding. Closing an untracked allocator is a no-op.
func (a *Allocator) Close() {
	if a.ledger != nil {
		a.ledger.Close()
	}
}

var defaultAllocator = sync.OnceValue(func() *Allocator {
	return NewAllocator(newDefaultBackend())
})

// DefaultAllocator returns the process-wide allocator, constructing it on
// first use. It is backed by the mimalloc extension when that is compiled in
// and by the Go heap otherwise, and is never reconfigured afterwards.
func DefaultAllocator() *Allocator {
	return defaultAllocator()
}
