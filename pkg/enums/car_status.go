package enums

import (
	"fmt"
	"strings"
)

// CarStatus is the stage a car currently occupies in the line.
type CarStatus string

const (
	CarStatusPreArrival CarStatus = "PRE_ARRIVAL"
	CarStatusRegistered CarStatus = "REGISTERED"
	CarStatusOnDeck     CarStatus = "ON_DECK"
	CarStatusDone       CarStatus = "DONE"
	CarStatusPickedUp   CarStatus = "PICKED_UP"
)

// CarStatusUnknown is carried on the wire when the prior stage could not be read.
const CarStatusUnknown = "UNKNOWN"

// orderedCarStatuses is the display order of the line. Transitions are not
// bound to it.
var orderedCarStatuses = []CarStatus{
	CarStatusPreArrival,
	CarStatusRegistered,
	CarStatusOnDeck,
	CarStatusDone,
	CarStatusPickedUp,
}

// CarStatuses returns every stage in line order.
func CarStatuses() []CarStatus {
	out := make([]CarStatus, len(orderedCarStatuses))
	copy(out, orderedCarStatuses)
	return out
}

// String implements fmt.Stringer.
func (c CarStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CarStatus.
func (c CarStatus) IsValid() bool {
	return c.Index() >= 0
}

// Index returns the position of the stage in line order, or -1.
func (c CarStatus) Index() int {
	for i, candidate := range orderedCarStatuses {
		if candidate == c {
			return i
		}
	}
	return -1
}

// Next returns the stage after c, if any.
func (c CarStatus) Next() (CarStatus, bool) {
	return c.offset(1)
}

// Previous returns the stage before c, if any.
func (c CarStatus) Previous() (CarStatus, bool) {
	return c.offset(-1)
}

func (c CarStatus) offset(delta int) (CarStatus, bool) {
	idx := c.Index()
	if idx < 0 {
		return "", false
	}
	target := idx + delta
	if target < 0 || target >= len(orderedCarStatuses) {
		return "", false
	}
	return orderedCarStatuses[target], true
}

// TimestampColumn names the first-arrival column for the stage. PRE_ARRIVAL
// has none.
func (c CarStatus) TimestampColumn() (string, bool) {
	switch c {
	case CarStatusRegistered:
		return "registered_at", true
	case CarStatusOnDeck:
		return "on_deck_at", true
	case CarStatusDone:
		return "completed_at", true
	case CarStatusPickedUp:
		return "picked_up_at", true
	default:
		return "", false
	}
}

// ParseCarStatus converts raw input into a CarStatus. Input is trimmed and
// matched case-insensitively.
func ParseCarStatus(value string) (CarStatus, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range orderedCarStatuses {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid car status %q", value)
}
