package subscription

import "github.com/tailored-agentic-units/loaned/middleware"

// Transfer classifies whether loaned messages may leave the goroutine that
// took them.
type Transfer int

const (
	// TransferLocal views must be read and closed on the taking goroutine.
	TransferLocal Transfer = iota
	// TransferShared views may be handed to other goroutines and read from
	// several goroutines at once.
	TransferShared
)

func (t Transfer) String() string {
	switch t {
	case TransferShared:
		return "shared"
	default:
		return "local"
	}
}

// Classify derives the transfer class from what the binding guarantees.
// Sharing needs both: the return primitive must not care which goroutine
// calls it, and nothing reachable through a view may be mutable. A view has
// no mutable state of its own, so the second condition rests on the
// binding's memory being write-protected.
func Classify(caps middleware.Capabilities) Transfer {
	if caps.ContextAgnostic && caps.ReadOnlyMemory {
		return TransferShared
	}
	return TransferLocal
}
