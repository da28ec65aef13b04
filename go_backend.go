package memkit

import "github.com/JohnCGriffin/overflow"

const alignment = 64

// GoBackend satisfies Backend from the Go heap. Buffers are aligned to
// 64-byte boundaries and reclaimed by the garbage collector, so Free is a
// no-op beyond dropping the reference.
type GoBackend struct{}

func NewGoBackend() *GoBackend { return &GoBackend{} }

func (a *GoBackend) Allocate(size int) []byte {
	padded, ok := overflow.Add(size, alignment)
	if !ok {
		return nil
	}
	buf := make([]byte, padded) // padding for 64-byte alignment
	addr := int(addressOf(buf))
	next := roundUpToMultipleOf64(addr)
	if addr != next {
		shift := next - addr
		return buf[shift : size+shift : size+shift]
	}
	return buf[:size:size]
}

func (a *GoBackend) Reallocate(size int, b []byte) []byte {
	if size == len(b) {
		return b
	}

	newBuf := a.Allocate(size)
	if newBuf == nil {
		return nil
	}
	copy(newBuf, b)
	return newBuf
}

func (a *GoBackend) Free(b []byte) {}

var _ Backend = (*GoBackend)(nil)
