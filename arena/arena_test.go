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

package arena_test

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/memkit/memkit"
	"github.com/memkit/memkit/arena"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isAlignedTo(b []byte, alignment int) bool {
	return uintptr(unsafe.Pointer(&b[0]))&uintptr(alignment-1) == 0
}

func TestArenaAllocate(t *testing.T) {
	tests := []struct {
		name string
		sz   int
	}{
		{"zero", 0},
		{"lt alignment", 33},
		{"eq alignment", 64},
		{"gt alignment unaligned", 65},
		{"page", 4096},
		{"gt chunk", 3 << 10},
	}
	a := arena.New(2 << 10)
	defer a.Close()
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			buf := a.Allocate(test.sz)
			require.NotNil(t, buf)
			assert.Equal(t, test.sz, len(buf), "invalid len")
			if test.sz > 0 {
				assert.True(t, isAlignedTo(buf, 64))
			}
			for idx, c := range buf {
				assert.Equal(t, uint8(0), c, fmt.Sprintf("buf not zero-initialized at %d", idx))
			}
		})
	}
}

func TestArenaBumpDoesNotOverlap(t *testing.T) {
	a := arena.New(1 << 16)
	defer a.Close()

	bufs := make([][]byte, 16)
	for i := range bufs {
		bufs[i] = a.Allocate(100)
		for j := range bufs[i] {
			bufs[i][j] = byte(i + 1)
		}
	}
	for i, buf := range bufs {
		for j := range buf {
			assert.Equal(t, byte(i+1), buf[j], "allocation %d overwritten", i)
		}
	}
}

func TestArenaAllocateNegative(t *testing.T) {
	a := arena.New(0)
	defer a.Close()
	assert.PanicsWithValue(t, "arena: negative size", func() {
		a.Allocate(-1)
	})
}

func TestArenaReallocatePreservesContent(t *testing.T) {
	a := arena.New(0)
	defer a.Close()

	buf := a.Allocate(64)
	for i := range buf {
		buf[i] = byte(i & 0xff)
	}
	exp := make([]byte, 256)
	copy(exp, buf)

	buf = a.Reallocate(256, buf)
	assert.Equal(t, exp, buf)
}

func TestArenaAccounting(t *testing.T) {
	a := arena.New(1 << 16)
	defer a.Close()

	buf1 := a.Allocate(100)
	buf2 := a.Allocate(200)
	assert.Equal(t, int64(300), a.AllocatedBytes())
	assert.Equal(t, int64(1<<16), a.ReservedBytes())
	assert.Equal(t, int64(300), a.PeakBytes())

	a.Free(buf1)
	assert.Equal(t, int64(200), a.AllocatedBytes())
	// Free reclaims nothing.
	assert.Equal(t, int64(1<<16), a.ReservedBytes())

	a.Free(buf2)
	assert.Equal(t, int64(0), a.AllocatedBytes())
	assert.Equal(t, int64(300), a.PeakBytes())
}

func TestArenaReset(t *testing.T) {
	a := arena.New(1 << 12)
	defer a.Close()

	for i := 0; i < 10; i++ {
		a.Allocate(1 << 10)
	}
	require.NotZero(t, a.ReservedBytes())

	a.Reset()
	assert.Equal(t, int64(0), a.AllocatedBytes())
	assert.Equal(t, int64(0), a.ReservedBytes())
	assert.NotZero(t, a.PeakBytes())

	buf := a.Allocate(512)
	require.NotNil(t, buf)
	for idx, c := range buf {
		assert.Equal(t, uint8(0), c, fmt.Sprintf("buf not zero-initialized at %d after reset", idx))
	}
}

func TestArenaUseAfterClose(t *testing.T) {
	a := arena.New(0)
	a.Close()
	a.Close()
	assert.PanicsWithValue(t, "arena: use after Close", func() {
		a.Allocate(1)
	})
}

func TestArenaShared(t *testing.T) {
	s1 := arena.Shared()
	s2 := arena.Shared()
	assert.Same(t, s1, s2)

	buf := s1.Allocate(64)
	require.NotNil(t, buf)
	s1.Free(buf)
}

func TestArenaAsBackend(t *testing.T) {
	backend := arena.New(1 << 16)
	defer backend.Close()
	a := memkit.NewAllocator(backend).WithLedger(memkit.NewLedger())

	buf, err := a.Allocate(1024)
	require.NoError(t, err)
	copy(buf, "phase scratch")

	buf, err = a.Reallocate(2048, buf)
	require.NoError(t, err)
	assert.Equal(t, "phase scratch", string(buf[:13]))

	a.Free(buf)
	a.Ledger().AssertSize(t, 0)
	assert.Equal(t, int64(0), backend.AllocatedBytes())
}
