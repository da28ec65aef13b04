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

//go:build memtrace

package memkit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerUntrackedFreePanics(t *testing.T) {
	backend := NewGoBackend()
	l := NewLedger()

	tracked := backend.Allocate(128)
	l.RecordAllocate(tracked)
	foreign := backend.Allocate(64)

	// A violated ledger is not usable afterwards, so the test just drops it.
	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.Contains(t, r.(string), "untracked pointer")
	}()
	l.RecordFree(foreign)
}

func TestLedgerSizeMismatchPanics(t *testing.T) {
	backend := NewGoBackend()
	l := NewLedger()

	b := backend.Allocate(128)
	l.RecordAllocate(b)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.Contains(t, r.(string), "does not match tracked size 128")
	}()
	l.RecordFree(b[:64])
}

func TestLedgerDuplicatePointerPanics(t *testing.T) {
	l := NewLedger()
	b := NewGoBackend().Allocate(32)
	l.RecordAllocate(b)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.Contains(t, r.(string), "already tracked")
	}()
	l.RecordAllocate(b)
}

func TestLedgerReportAggregatesBySite(t *testing.T) {
	backend := NewGoBackend()
	l := NewLedger()

	small := make([][]byte, 4)
	for i := range small {
		small[i] = backend.Allocate(64)
		l.RecordAllocate(small[i])
	}
	big := backend.Allocate(4096)
	l.RecordAllocate(big)

	recs := l.Report()
	require.Len(t, recs, 2)

	// Largest site first.
	assert.Equal(t, int64(4096), recs[0].Bytes)
	assert.Equal(t, 1, recs[0].Count)
	assert.Equal(t, int64(4*64), recs[1].Bytes)
	assert.Equal(t, 4, recs[1].Count)
	for _, rec := range recs {
		assert.True(t, strings.Contains(rec.Stack, "memkit"), "capture stack should name this package: %q", rec.Stack)
	}

	for _, b := range small {
		l.RecordFree(b)
	}
	l.RecordFree(big)
	l.AssertSize(t, 0)
}
