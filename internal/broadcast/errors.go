package broadcast

import (
	"errors"
	"fmt"
)

var (
	// ErrHubStopped is returned once Stop has been called.
	ErrHubStopped = errors.New("broadcast hub stopped")
	// ErrQueueFull is returned when the outbound queue has no room; the event
	// is dropped.
	ErrQueueFull = errors.New("broadcast outbound queue full")
)

// DeliveryError reports that one observer could not take an event. It is
// logged and counted by the hub and never reaches the transition caller.
type DeliveryError struct {
	ClientID string
	Reason   string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to client %s: %s", e.ClientID, e.Reason)
}
