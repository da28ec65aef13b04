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
	"runtime"
)

// A Buffer is the single owner of one allocation. It frees the bytes back to
// the Allocator that produced them exactly once, on Release. Ownership moves,
// it is never shared: Move transfers the bytes to a fresh handle and empties
// the source, Take surrenders the raw bytes without freeing them. A Buffer
// must not be used from multiple goroutines, and the Allocator it references
// must outlive it.
type Buffer struct {
	alloc *Allocator
	buf   []byte
}

// NewBuffer wraps bytes previously obtained from a in an owning handle.
// The returned Buffer frees b through a, so b must not be released by any
// other path. Wrapping an empty slice fails with ErrInvalid.
func NewBuffer(a *Allocator, b []byte) (*Buffer, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: cannot take ownership of an empty buffer", ErrInvalid)
	}
	return newBuffer(a, b), nil
}

func newBuffer(a *Allocator, b []byte) *Buffer {
	buf := &Buffer{alloc: a, buf: b}
	buf.arm()
	return buf
}

// Bytes returns the owned bytes. The slice remains valid until the next
// Release, Resize or Move on this handle.
func (b *Buffer) Bytes() []byte { return b.buf }

func (b *Buffer) Len() int { return len(b.buf) }

// Empty reports whether the handle currently owns no bytes.
func (b *Buffer) Empty() bool { return len(b.buf) == 0 }

// Release returns the owned bytes to the allocator. It is idempotent:
// releasing an empty handle, or releasing twice, is a no-op.
func (b *Buffer) Release() {
	if b == nil || b.buf == nil {
		return
	}
	buf := b.buf
	b.disown()
	b.alloc.Free(buf)
}

// Move transfers ownership of the bytes to a fresh handle and empties b.
// The source stays usable: a later Resize allocates anew.
func (b *Buffer) Move() *Buffer {
	nb := newBuffer(b.alloc, b.buf)
	b.disown()
	return nb
}

// Take surrenders ownership of the bytes without freeing them. The caller
// becomes responsible for passing the returned slice to the owning
// allocator's Free.
func (b *Buffer) Take() []byte {
	buf := b.buf
	b.disown()
	return buf
}

// Resize grows or shrinks the owned bytes to size through the owning
// allocator, preserving the leading min(old, new) bytes. On an empty handle
// it allocates fresh. The handle is unchanged if the reallocation fails.
func (b *Buffer) Resize(size int) error {
	if b.Empty() {
		buf, err := b.alloc.Allocate(size)
		if err != nil {
			return err
		}
		b.own(buf)
		return nil
	}
	buf, err := b.alloc.Reallocate(size, b.buf)
	if err != nil {
		return err
	}
	b.buf = buf
	return nil
}

func (b *Buffer) own(buf []byte) {
	b.buf = buf
	b.arm()
}

func (b *Buffer) disown() {
	b.buf = nil
	if traceEnabled {
		runtime.SetFinalizer(b, nil)
	}
}

// Verbose builds trip the leak path as soon as an owning handle becomes
// unreachable, rather than waiting for ledger teardown.
func (b *Buffer) arm() {
	if traceEnabled && b.buf != nil {
		runtime.SetFinalizer(b, (*Buffer).leaked)
	}
}

func (b *Buffer) leaked() {
	if b.buf != nil {
		panic(fmt.Sprintf("memkit: Buffer with %d bytes became unreachable without Release", len(b.buf)))
	}
}
