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

// With the assert tag set an over-large request trips the runtime assertion
// before the error return, so the error contract only holds without it.

//go:build !assert

package memkit

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateTooLarge(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("cannot express MaxAllocSize in an int on this platform")
	}
	a := NewAllocator(NewGoBackend())
	for _, size := range []int64{MaxAllocSize, MaxAllocSize + 1} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			buf, err := a.Allocate(int(size))
			assert.Nil(t, buf)
			assert.ErrorIs(t, err, ErrTooLarge)
			assert.NotErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestReallocateTooLarge(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("cannot express MaxAllocSize in an int on this platform")
	}
	a := NewAllocator(NewGoBackend())
	buf, err := a.Allocate(16)
	require.NoError(t, err)

	got, err := a.Reallocate(int(MaxAllocSize), buf)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrTooLarge)

	// The failed request leaves the original usable.
	buf[0] = 0xab
	a.Free(buf)
}

func TestAllocateJustUnderBound(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("cannot express MaxAllocSize in an int on this platform")
	}
	// One short of the bound passes validation and reaches the backend.
	var got int
	stub := NewAllocatorFuncs(
		func(size int) []byte { got = size; return make([]byte, 1) },
		func(size int, b []byte) []byte { return b },
		func(b []byte) {},
	)
	_, err := stub.Allocate(int(MaxAllocSize - 1))
	require.NoError(t, err)
	assert.Equal(t, int(MaxAllocSize-1), got)
}
