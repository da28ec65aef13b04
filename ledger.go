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
	"cmp"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/goccy/go-json"
	"github.com/memkit/memkit/internal/debug"
	"github.com/phuslu/log"
	"github.com/zeebo/xxh3"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// A Ledger records every allocation that is still outstanding on the
// Allocator it is attached to. The running byte total is always maintained;
// per-pointer records with captured call stacks are kept only when the
// memtrace build tag is set, since the capture cost is paid on every
// allocation.
//
// Ledger violations (freeing an untracked pointer, freeing with a size that
// does not match the tracked size, closing with bytes outstanding) are
// defects in the calling program, not runtime conditions. They panic and are
// not meant to be recovered from.
type Ledger struct {
	outstanding int64

	mu   sync.Mutex
	live map[uintptr]*allocRecord
}

type allocRecord struct {
	size  int
	stack []uintptr
	fp    uint64
}

func NewLedger() *Ledger {
	l := &Ledger{}
	if traceEnabled {
		l.live = make(map[uintptr]*allocRecord)
	}
	return l
}

// Outstanding returns the number of bytes allocated and not yet freed.
func (l *Ledger) Outstanding() int64 { return atomic.LoadInt64(&l.outstanding) }

// RecordAllocate tracks b as a live allocation.
func (l *Ledger) RecordAllocate(b []byte) {
	atomic.AddInt64(&l.outstanding, int64(len(b)))
	if !traceEnabled || len(b) == 0 {
		return
	}

	rec := &allocRecord{size: len(b)}
	var pcs [maxStackDepth]uintptr
	if n := runtime.Callers(ledgerFrames, pcs[:]); n > 0 {
		rec.stack = make([]uintptr, n)
		copy(rec.stack, pcs[:n])
		rec.fp = stackFingerprint(rec.stack)
	}

	ptr := addressOf(b)
	l.mu.Lock()
	prev, ok := l.live[ptr]
	if ok {
		l.mu.Unlock()
		panic(fmt.Sprintf("memkit: allocation of %d bytes at %#x already tracked with %d bytes live", len(b), ptr, prev.size))
	}
	l.live[ptr] = rec
	l.mu.Unlock()
}

// RecordFree removes b from the live set. Freeing more bytes than are
// outstanding, freeing a pointer that was never recorded, or freeing with a
// length that does not match the recorded length all signal a double free or
// corrupted size arithmetic and panic.
func (l *Ledger) RecordFree(b []byte) {
	size := len(b)
	if rem := atomic.AddInt64(&l.outstanding, -int64(size)); rem < 0 {
		panic(fmt.Sprintf("memkit: free of %d bytes exceeds %d bytes outstanding (double free or size mismatch)", size, rem+int64(size)))
	}
	if !traceEnabled || size == 0 {
		return
	}

	ptr := addressOf(b)
	l.mu.Lock()
	rec, ok := l.live[ptr]
	if !ok {
		l.mu.Unlock()
		panic(fmt.Sprintf("memkit: free of untracked pointer %#x (%d bytes): double free or foreign buffer", ptr, size))
	}
	if rec.size != size {
		l.mu.Unlock()
		panic(fmt.Sprintf("memkit: free of %d bytes at %#x does not match tracked size %d, allocated at:\n%s", size, ptr, rec.size, formatStack(rec.stack)))
	}
	delete(l.live, ptr)
	l.mu.Unlock()
}

// RecordReallocate replaces the record for oldB with one for newB, removing
// the old record before inserting the new one.
func (l *Ledger) RecordReallocate(oldB, newB []byte) {
	l.RecordFree(oldB)
	l.RecordAllocate(newB)
}

// Close asserts that every recorded allocation has been freed. With
// per-pointer tracking enabled it first logs each remaining allocation with
// its capture stack for diagnosis. A non-zero outstanding total is fatal.
func (l *Ledger) Close() {
	out := atomic.LoadInt64(&l.outstanding)
	if out == 0 {
		return
	}
	if traceEnabled {
		l.mu.Lock()
		ptrs := maps.Keys(l.live)
		slices.Sort(ptrs)
		for _, ptr := range ptrs {
			rec := l.live[ptr]
			log.Error().
				Uint64("addr", uint64(ptr)).
				Int("size", rec.size).
				Str("stack", formatStack(rec.stack)).
				Msg("outstanding allocation")
		}
		l.mu.Unlock()
	}
	panic(fmt.Sprintf("memkit: ledger closed with %d bytes outstanding", out))
}

// TestingT is the subset of testing.TB needed to report leaks in tests.
type TestingT interface {
	Errorf(format string, args ...interface{})
	Helper()
}

// AssertSize reports an error through t unless exactly sz bytes are
// outstanding, enumerating the allocation sites still live when per-pointer
// tracking is on.
func (l *Ledger) AssertSize(t TestingT, sz int) {
	got := int(atomic.LoadInt64(&l.outstanding))
	if got == sz {
		return
	}
	t.Helper()
	for _, rec := range l.Report() {
		t.Errorf("LEAK of %d bytes (%d allocations) FROM\n%s", rec.Bytes, rec.Count, rec.Stack)
	}
	t.Errorf("invalid memory size exp=%d, got=%d", sz, got)
}

// A LedgerScope checks that a region of code gives back every byte it takes:
// it captures the outstanding total at creation and CheckSize asserts the
// total has returned to it.
type LedgerScope struct {
	ledger *Ledger
	sz     int64
}

func (l *Ledger) Scope() *LedgerScope {
	return &LedgerScope{ledger: l, sz: atomic.LoadInt64(&l.outstanding)}
}

func (s *LedgerScope) CheckSize(t TestingT) {
	sz := atomic.LoadInt64(&s.ledger.outstanding)
	if s.sz != sz {
		t.Helper()
		t.Errorf("invalid memory size exp=%d, got=%d", s.sz, sz)
	}
}

// A LeakRecord aggregates the live allocations captured from one call site,
// keyed by the fingerprint of the capture stack.
type LeakRecord struct {
	Count int    `json:"count"`
	Bytes int64  `json:"bytes"`
	Stack string `json:"stack"`
}

// Report returns the live allocations aggregated per capture site, largest
// first. It returns nil unless per-pointer tracking is compiled in.
func (l *Ledger) Report() []LeakRecord {
	if !traceEnabled {
		return nil
	}
	l.mu.Lock()
	bySite := make(map[uint64]*LeakRecord, len(l.live))
	for _, rec := range l.live {
		agg, ok := bySite[rec.fp]
		if !ok {
			agg = &LeakRecord{Stack: formatStack(rec.stack)}
			bySite[rec.fp] = agg
		}
		agg.Count++
		agg.Bytes += int64(rec.size)
	}
	l.mu.Unlock()

	out := make([]LeakRecord, 0, len(bySite))
	for _, rec := range bySite {
		out = append(out, *rec)
	}
	slices.SortFunc(out, func(a, b LeakRecord) int {
		if c := cmp.Compare(b.Bytes, a.Bytes); c != 0 {
			return c
		}
		return cmp.Compare(a.Stack, b.Stack)
	})
	return out
}

// WriteReport writes the outstanding total and the aggregated leak report to
// w as indented JSON.
func (l *Ledger) WriteReport(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Outstanding int64        `json:"outstanding_bytes"`
		Leaks       []LeakRecord `json:"leaks,omitempty"`
	}{
		Outstanding: atomic.LoadInt64(&l.outstanding),
		Leaks:       l.Report(),
	})
}

const maxStackDepth = 32

// The number of leading frames to skip when capturing allocation stacks, so
// the capture starts at the ledger's caller rather than inside the ledger.
// Use the MEMKIT_LEDGER_FRAMES environment variable to control how many
// frames up the capture starts when allocations go through wrappers.
const defLedgerFrames = 2

var ledgerFrames = defLedgerFrames

func init() {
	if val, ok := os.LookupEnv("MEMKIT_LEDGER_FRAMES"); ok {
		if f, err := strconv.Atoi(val); err == nil {
			ledgerFrames = f
		} else {
			debug.Log(func() string {
				return "memkit: ignoring non-integer MEMKIT_LEDGER_FRAMES value " + strconv.Quote(val)
			})
		}
	}
}

func stackFingerprint(pcs []uintptr) uint64 {
	if len(pcs) == 0 {
		return 0
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&pcs[0])), len(pcs)*int(unsafe.Sizeof(uintptr(0))))
	return xxh3.Hash(raw)
}

func formatStack(pcs []uintptr) string {
	if len(pcs) == 0 {
		return "(stack capture disabled)"
	}
	var sb strings.Builder
	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			fmt.Fprintf(&sb, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return sb.String()
}
