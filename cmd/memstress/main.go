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

// Command memstress drives a randomized allocate/reallocate/free workload
// against a chosen backend through a tracked allocator and reports what the
// ledger saw. Build with -tags memtrace to get per-site stacks in the leak
// report.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/JohnCGriffin/overflow"
	"github.com/docopt/docopt-go"
	"github.com/goccy/go-json"
	"github.com/memkit/memkit"
	"github.com/memkit/memkit/arena"
	"github.com/memkit/memkit/offheap"
	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"
)

const usage = `Memory stress driver.
Usage:
  memstress -h | --help
  memstress [--backend=BACKEND] [--workers=N] [--ops=N] [--max-size=BYTES]
            [--seed=SEED] [--leak-every=N] [--json]
Options:
  -h --help           Show this screen.
  --backend=BACKEND   Backend to drive: heap, offheap or arena [default: heap].
  --workers=N         Number of concurrent workers [default: 4].
  --ops=N             Operations per worker [default: 100000].
  --max-size=BYTES    Largest single allocation [default: 65536].
  --seed=SEED         Workload generator seed [default: 42].
  --leak-every=N      Deliberately leak every Nth free to exercise the leak report.
  --json              Emit the report as JSON instead of text.`

type config struct {
	Backend   string `docopt:"--backend"`
	Workers   int    `docopt:"--workers"`
	Ops       int    `docopt:"--ops"`
	MaxSize   int    `docopt:"--max-size"`
	Seed      int    `docopt:"--seed"`
	LeakEvery int    `docopt:"--leak-every"`
	JSON      bool   `docopt:"--json"`
}

type workerStats struct {
	Allocs   int64 `json:"allocs"`
	Reallocs int64 `json:"reallocs"`
	Frees    int64 `json:"frees"`
	Leaked   int64 `json:"leaked"`
	Bytes    int64 `json:"bytes_requested"`
}

func main() {
	opts, err := docopt.ParseDoc(usage)
	if err != nil {
		log.Fatal().Msgf("memstress: %v", err)
	}
	var cfg config
	if err := opts.Bind(&cfg); err != nil {
		log.Fatal().Msgf("memstress: %v", err)
	}
	if cfg.Workers <= 0 || cfg.Ops < 0 {
		log.Fatal().Msgf("memstress: --workers must be positive and --ops non-negative")
	}
	if cfg.MaxSize <= 0 || int64(cfg.MaxSize) >= memkit.MaxAllocSize {
		log.Fatal().Msgf("memstress: --max-size must be in [1, %d)", memkit.MaxAllocSize)
	}

	backend, cleanup, err := newBackend(cfg.Backend)
	if err != nil {
		log.Fatal().Msgf("memstress: %v", err)
	}

	alloc := memkit.NewAllocator(backend).WithLedger(memkit.NewLedger())

	stats := make([]workerStats, cfg.Workers)
	start := time.Now()
	var g errgroup.Group
	for w := 0; w < cfg.Workers; w++ {
		w := w
		g.Go(func() error {
			return runWorker(alloc, w, cfg, &stats[w])
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal().Msgf("memstress: %v", err)
	}
	elapsed := time.Since(start)

	var total workerStats
	for _, st := range stats {
		total.Allocs += st.Allocs
		total.Reallocs += st.Reallocs
		total.Frees += st.Frees
		total.Leaked += st.Leaked
		total.Bytes += st.Bytes
	}

	report(alloc, backend, cfg, total, elapsed)

	// A run asked to leak cannot pass the teardown assertion.
	if cfg.LeakEvery == 0 {
		alloc.Close()
	}
	cleanup()
}

func newBackend(name string) (memkit.Backend, func(), error) {
	switch name {
	case "heap":
		return memkit.NewGoBackend(), func() {}, nil
	case "offheap":
		return offheap.NewAllocator(), func() {}, nil
	case "arena":
		a := arena.New(0)
		return a, a.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q (want heap, offheap or arena)", name)
}

func runWorker(alloc *memkit.Allocator, id int, cfg config, st *workerStats) error {
	rng := rand.New(rand.NewSource(int64(cfg.Seed) + int64(id)))
	live := make([][]byte, 0, 64)

	for i := 0; i < cfg.Ops; i++ {
		op := rng.Intn(10)
		switch {
		case op < 5 || len(live) == 0:
			size := 1 + rng.Intn(cfg.MaxSize)
			buf, err := alloc.Allocate(size)
			if err != nil {
				return fmt.Errorf("worker %d op %d: %w", id, i, err)
			}
			memkit.Set(buf, byte(i^id))
			live = append(live, buf)
			st.Allocs++
			bytes, ok := overflow.Add64(st.Bytes, int64(size))
			if !ok {
				return fmt.Errorf("worker %d: requested byte count overflowed", id)
			}
			st.Bytes = bytes
		case op < 7:
			j := rng.Intn(len(live))
			size := 1 + rng.Intn(cfg.MaxSize)
			buf, err := alloc.Reallocate(size, live[j])
			if err != nil {
				return fmt.Errorf("worker %d op %d: %w", id, i, err)
			}
			live[j] = buf
			st.Reallocs++
		default:
			j := rng.Intn(len(live))
			buf := live[j]
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
			if cfg.LeakEvery > 0 && (st.Frees+st.Leaked)%int64(cfg.LeakEvery) == 0 {
				st.Leaked++
				continue
			}
			alloc.Free(buf)
			st.Frees++
		}
	}

	for _, buf := range live {
		alloc.Free(buf)
		st.Frees++
	}
	return nil
}

func report(alloc *memkit.Allocator, backend memkit.Backend, cfg config, total workerStats, elapsed time.Duration) {
	ledger := alloc.Ledger()
	ops := total.Allocs + total.Reallocs + total.Frees

	if cfg.JSON {
		out := struct {
			Backend     string              `json:"backend"`
			Workers     int                 `json:"workers"`
			Elapsed     string              `json:"elapsed"`
			OpsPerSec   float64             `json:"ops_per_sec"`
			Totals      workerStats         `json:"totals"`
			Outstanding int64               `json:"outstanding_bytes"`
			Leaks       []memkit.LeakRecord `json:"leaks,omitempty"`
		}{
			Backend:     cfg.Backend,
			Workers:     cfg.Workers,
			Elapsed:     elapsed.String(),
			OpsPerSec:   float64(ops) / elapsed.Seconds(),
			Totals:      total,
			Outstanding: ledger.Outstanding(),
			Leaks:       ledger.Report(),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Fatal().Msgf("memstress: %v", err)
		}
		return
	}

	fmt.Println("Backend:", cfg.Backend)
	fmt.Println("Workers:", cfg.Workers)
	fmt.Println("Elapsed:", elapsed)
	fmt.Printf("Throughput: %.0f ops/sec\n", float64(ops)/elapsed.Seconds())
	fmt.Println("Allocations:", total.Allocs)
	fmt.Println("Reallocations:", total.Reallocs)
	fmt.Println("Frees:", total.Frees)
	fmt.Println("Bytes requested:", total.Bytes)
	if total.Leaked > 0 {
		fmt.Println("Deliberately leaked:", total.Leaked)
	}
	fmt.Println("Outstanding bytes:", ledger.Outstanding())
	if acct, ok := backend.(interface{ AllocatedBytes() int64 }); ok {
		fmt.Println("Backend live bytes:", acct.AllocatedBytes())
	}
	if leaks := ledger.Report(); len(leaks) > 0 {
		fmt.Println("Leak sites:")
		for _, rec := range leaks {
			fmt.Printf("  %d bytes in %d allocations from\n%s\n", rec.Bytes, rec.Count, rec.Stack)
		}
	}
}
