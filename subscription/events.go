package subscription

import "github.com/tailored-agentic-units/loaned/observability"

// Subscription event types.
const (
	EventLoanTaken         observability.EventType = "subscription.loan.taken"
	EventLoanReturned      observability.EventType = "subscription.loan.returned"
	EventLoanLeaked        observability.EventType = "subscription.loan.leaked"
	EventReleaseFailed     observability.EventType = "subscription.release.failed"
	EventHandlerFailed     observability.EventType = "subscription.handler.failed"
	EventEndpointFinalized observability.EventType = "subscription.endpoint.finalized"
)

// MetricBindings maps subscription events onto the loan counters and the
// outstanding gauge, for use with observability.NewPrometheusObserver.
// Leaked loans are never returned, so they stay in the outstanding gauge.
func MetricBindings() []observability.Binding {
	return []observability.Binding{
		{Event: EventLoanTaken, Name: "loans_taken_total", Help: "Loans taken from the middleware."},
		{Event: EventLoanReturned, Name: "loans_returned_total", Help: "Loans returned to the middleware."},
		{Event: EventLoanLeaked, Name: "loans_leaked_total", Help: "Loans collected without Close."},
		{Event: EventReleaseFailed, Name: "release_failures_total", Help: "Loan returns rejected by the middleware."},
		{Event: EventLoanTaken, Name: "loans_outstanding", Help: "Loans currently held.", Gauge: true, Delta: 1},
		{Event: EventLoanReturned, Name: "loans_outstanding", Help: "Loans currently held.", Gauge: true, Delta: -1},
		{Event: EventReleaseFailed, Name: "loans_outstanding", Help: "Loans currently held.", Gauge: true, Delta: -1},
	}
}
