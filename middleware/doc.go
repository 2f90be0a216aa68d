// Package middleware is an in-process message middleware that delivers
// payloads into buffers it owns and lends them to receivers.
//
// A Domain routes published payloads by topic. Every Endpoint subscribed to a
// topic gets its own copy, written into a buffer from the configured
// Allocator and write-protected before it becomes visible:
//
//	domain, err := middleware.NewDomain(middleware.Config{Allocator: middleware.AllocatorMmap})
//	ep, err := domain.CreateEndpoint("sensors/imu", "demo.Reading")
//	domain.Publish(ctx, "sensors/imu", payload)
//
//	loan, err := ep.TakeLoaned()
//	// read loan.Bytes() in place
//	err = ep.ReturnLoan(loan)
//
// # Allocators
//
//   - memguard: mlocked memory between guard pages, frozen read-only
//   - mmap: anonymous pages, mprotect'ed read-only (unix only)
//   - heap: ordinary Go memory, not write-protected
//
// # Endpoint Contract
//
// The loan API of an Endpoint (TakeLoaned, ReturnLoan, Fini) must be
// serialized by the caller; overlapping calls fail with ErrConcurrentCall.
// Every loan must be returned exactly once: a second return, or a return of a
// loan the endpoint never issued, fails with ErrLoanNotOutstanding. Fini
// refuses while loans are outstanding.
//
// Capabilities describes what the binding guarantees to the layer above:
// whether endpoint calls are goroutine agnostic and whether loaned memory is
// write-protected.
package middleware
