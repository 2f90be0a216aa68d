//go:build unix

package middleware

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapAllocator maps anonymous pages per buffer and drops write permission
// on Freeze, so a stray write through a loaned view faults.
type mmapAllocator struct {
	pageSize int
}

func newMmapAllocator() (Allocator, error) {
	return mmapAllocator{pageSize: os.Getpagesize()}, nil
}

func (mmapAllocator) Name() string   { return AllocatorMmap }
func (mmapAllocator) ReadOnly() bool { return true }

func (a mmapAllocator) Alloc(size int) (Buffer, error) {
	length := (allocSize(size) + a.pageSize - 1) &^ (a.pageSize - 1)
	mem, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", length, err)
	}
	return &mmapBuffer{mem: mem, size: allocSize(size)}, nil
}

type mmapBuffer struct {
	mem  []byte
	size int
}

func (b *mmapBuffer) Bytes() []byte { return b.mem[:b.size] }

func (b *mmapBuffer) Freeze() error {
	if err := unix.Mprotect(b.mem, unix.PROT_READ); err != nil {
		return fmt.Errorf("mprotect: %w", err)
	}
	return nil
}

func (b *mmapBuffer) Destroy() {
	if b.mem == nil {
		return
	}
	_ = unix.Munmap(b.mem)
	b.mem = nil
}
