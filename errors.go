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

import "errors"

var (
	// ErrInvalid is returned for requests that are malformed regardless of
	// the state of the allocator, such as a zero or negative allocation size
	// or wrapping a Buffer around empty bytes.
	ErrInvalid = errors.New("invalid")

	// ErrTooLarge is returned when a requested size reaches MaxAllocSize.
	// A request that large indicates corrupted size arithmetic upstream, so
	// builds with the assert tag fail hard before this error is returned.
	ErrTooLarge = errors.New("allocation too large")

	// ErrOutOfMemory is returned when the backend could not satisfy a
	// validly sized request. It aborts the requesting operation only and is
	// safe to recover from.
	ErrOutOfMemory = errors.New("out of memory")
)
