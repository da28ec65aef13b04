package memkit

// Backend is the capability contract an allocation strategy must satisfy to
// serve an Allocator. A []byte stands for the (pointer, size) pair of a raw
// allocation: its identity is the address of its first element and its
// declared size is its length.
//
// Backend state lives in the implementing value. It is exclusively owned by
// the Allocator it was handed to unless the backend is explicitly shared, in
// which case the backend must serialize every call through its own single
// lock (see arena.Shared).
type Backend interface {
	// Allocate returns a zeroed buffer of exactly size bytes, or nil when
	// the request cannot be satisfied. size is always positive when called
	// through an Allocator.
	Allocate(size int) []byte

	// Reallocate returns a buffer of exactly size bytes holding the first
	// min(len(b), size) bytes of b, or nil when the request cannot be
	// satisfied. b is invalidated on success. Any grown tail is zeroed.
	Reallocate(size int, b []byte) []byte

	// Free returns b to the backend. b must be exactly a buffer previously
	// returned by Allocate or Reallocate on this backend, not a reslice.
	Free(b []byte)
}

// BackendFuncs adapts a raw triple of function values to the Backend
// interface, for callers that assemble an allocation strategy out of loose
// handles rather than a named type. All three must be non-nil; construction
// through NewAllocatorFuncs enforces that.
type BackendFuncs struct {
	AllocateFunc   func(size int) []byte
	ReallocateFunc func(size int, b []byte) []byte
	FreeFunc       func(b []byte)
}

func (f BackendFuncs) Allocate(size int) []byte { return f.AllocateFunc(size) }

func (f BackendFuncs) Reallocate(size int, b []byte) []byte {
	return f.ReallocateFunc(size, b)
}

func (f BackendFuncs) Free(b []byte) { f.FreeFunc(b) }

var _ Backend = BackendFuncs{}
