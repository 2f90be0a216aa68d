package middleware

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// Allocator names accepted by Config.Allocator.
const (
	AllocatorMemguard = "memguard"
	AllocatorMmap     = "mmap"
	AllocatorHeap     = "heap"
)

// wordSize is the rounding unit for buffer sizes. Allocators that place data
// against the end of a page (memguard) keep the start aligned this way.
const wordSize = 8

// Buffer is a block of middleware-owned memory backing one delivery.
type Buffer interface {
	Bytes() []byte
	Freeze() error
	Destroy()
}

// Allocator produces the buffers deliveries are written into. ReadOnly
// reports whether Freeze write-protects the memory.
type Allocator interface {
	Name() string
	Alloc(size int) (Buffer, error)
	ReadOnly() bool
}

// NewAllocator returns the allocator registered under name.
func NewAllocator(name string) (Allocator, error) {
	switch name {
	case AllocatorMemguard:
		return memguardAllocator{}, nil
	case AllocatorMmap:
		return newMmapAllocator()
	case AllocatorHeap:
		return heapAllocator{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAllocator, name)
	}
}

func allocSize(size int) int {
	if size < wordSize {
		return wordSize
	}
	return (size + wordSize - 1) &^ (wordSize - 1)
}

// memguardAllocator hands out mlocked, guard-paged buffers that are made
// read-only once the payload is written.
type memguardAllocator struct{}

func (memguardAllocator) Name() string   { return AllocatorMemguard }
func (memguardAllocator) ReadOnly() bool { return true }

func (memguardAllocator) Alloc(size int) (Buffer, error) {
	return lockedBuffer{memguard.NewBuffer(allocSize(size))}, nil
}

type lockedBuffer struct {
	*memguard.LockedBuffer
}

func (b lockedBuffer) Freeze() error {
	b.LockedBuffer.Freeze()
	return nil
}

// heapAllocator uses ordinary Go memory. Nothing stops a writer holding the
// slice, so it never reports ReadOnly.
type heapAllocator struct{}

func (heapAllocator) Name() string   { return AllocatorHeap }
func (heapAllocator) ReadOnly() bool { return false }

func (heapAllocator) Alloc(size int) (Buffer, error) {
	return &heapBuffer{data: make([]byte, allocSize(size))}, nil
}

type heapBuffer struct {
	data []byte
}

func (b *heapBuffer) Bytes() []byte { return b.data }
func (b *heapBuffer) Freeze() error { return nil }

func (b *heapBuffer) Destroy() {
	clear(b.data)
	b.data = nil
}
