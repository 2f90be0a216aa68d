package subscription

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for subscription and loaned message operations.
var (
	ErrReleased        = errors.New("loaned message already released")
	ErrNotTransferable = errors.New("loaned messages on this endpoint are not transferable")
	ErrPoisoned        = errors.New("endpoint poisoned by a failed loan return")
	ErrClosed          = errors.New("subscription closed")
	ErrTopicRequired   = errors.New("topic required")
)

// ReleaseError reports a failed loan return. The loan accounting between
// this process and the middleware can no longer be trusted once it occurs.
type ReleaseError struct {
	Topic  string
	LoanID uuid.UUID
	Err    error
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("return loan %s on %s: %v", e.LoanID, e.Topic, e.Err)
}

func (e *ReleaseError) Unwrap() error {
	return e.Err
}
