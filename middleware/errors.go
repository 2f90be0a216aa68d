package middleware

import "errors"

// Sentinel errors for endpoint and domain operations.
var (
	ErrNoMessage            = errors.New("no message available")
	ErrLoanNotOutstanding   = errors.New("loan not outstanding")
	ErrLoansOutstanding     = errors.New("endpoint has outstanding loans")
	ErrLoanLimit            = errors.New("outstanding loan limit reached")
	ErrEndpointFinalized    = errors.New("endpoint finalized")
	ErrConcurrentCall       = errors.New("concurrent call on endpoint")
	ErrTopicRequired        = errors.New("topic required")
	ErrTypeMismatch         = errors.New("topic type mismatch")
	ErrDomainClosed         = errors.New("domain closed")
	ErrUnknownAllocator     = errors.New("unknown allocator")
	ErrAllocatorUnsupported = errors.New("allocator unsupported on this platform")
)
