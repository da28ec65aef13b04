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

// Package memkit provides explicit memory allocation over pluggable
// backends.
//
// An Allocator dispatches Allocate, Reallocate and Free to a Backend and
// enforces the request bounds; a Buffer owns one allocation and releases it
// exactly once; a Ledger records outstanding allocations for leak and double
// free detection during development. Backends over the Go heap, mimalloc,
// an off-heap malloc and an mmap arena live in this module's subpackages.
//
// Release builds pay nothing for the instrumentation: ledgers are attached
// explicitly or by the memdebug build tag, and per-pointer tracking with
// captured call stacks is compiled in only under the memtrace tag.
package memkit
