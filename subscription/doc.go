// Package subscription reads middleware-owned message buffers in place.
//
// A Subscription takes messages from a middleware endpoint as loans. Each
// loan is wrapped in a LoanedMessage: a read-only, zero-copy view typed by a
// wire.TypeSupport, which returns the buffer to the middleware exactly once
// when it is closed.
//
// # Taking Loans
//
//	sub, err := subscription.New(domain, wire.MustFixed[Reading](), subscription.Config{Topic: "imu"})
//	defer sub.Close()
//
//	msg, err := sub.TakeLoaned()
//	if err != nil {
//	    return err
//	}
//	defer msg.Close()
//	reading := msg.Get() // *Reading aliasing the loaned buffer
//
// The scoped forms own the Close, so the view cannot outlive the loan and
// the loan is returned on early return and panic alike:
//
//	err := sub.WithLoaned(ctx, func(r *Reading) error {
//	    return process(r)
//	})
//
//	err := sub.Spin(ctx, func(ctx context.Context, msg *subscription.LoanedMessage[*Reading]) error {
//	    return process(msg.Get())
//	})
//
// # Endpoint Handle
//
// Every call into the middleware goes through a Handle, which holds the
// endpoint lock; the middleware never sees two overlapping calls for one
// endpoint. The Handle is reference counted: the Subscription and each open
// LoanedMessage hold one reference, and the endpoint is finalized when the
// last is dropped. A LoanedMessage returns its loan before dropping its
// reference.
//
// # Release Failures
//
// A failed loan return means the loan accounting is broken. Under
// FailurePolicyPanic (the default) Close panics with a *ReleaseError. Under
// FailurePolicyPoison the handle is marked unusable, Close returns the
// *ReleaseError and later takes fail with ErrPoisoned.
//
// # Transfer Between Goroutines
//
// Whether a LoanedMessage may be handed to another goroutine, or read from
// several at once, is decided by Classify from the endpoint's declared
// middleware.Capabilities. Both must hold:
//
//   - ContextAgnostic: returning a loan does not depend on the calling goroutine
//   - ReadOnlyMemory: the loaned pages are write-protected
//
// Otherwise the class is TransferLocal: Spin refuses more than one worker
// and Handoff refuses to send the message.
//
// # Leaked Loans
//
// A LoanedMessage that becomes unreachable without Close is reported by a
// runtime cleanup, which counts it in Metrics and emits EventLoanLeaked. The
// loan is not returned: a view obtained from Get may outlive its
// LoanedMessage, and returning the loan would unmap memory still being
// read. The leaked loan and its endpoint stay held until the process exits.
package subscription
