//go:build !unix

package middleware

import "fmt"

func newMmapAllocator() (Allocator, error) {
	return nil, fmt.Errorf("%w: %s", ErrAllocatorUnsupported, AllocatorMmap)
}
