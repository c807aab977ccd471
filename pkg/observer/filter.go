package observer

import (
	"github.com/angelmondragon/carline-backend/pkg/enums"
	"github.com/angelmondragon/carline-backend/pkg/events"
)

// Interest selects which transitions wake a subscriber. The zero value
// matches everything.
type Interest struct {
	Statuses []enums.CarStatus
	CarID    int64
}

// AnyChange matches every transition.
func AnyChange() Interest {
	return Interest{}
}

// ForStatuses matches transitions entering or leaving any of statuses.
func ForStatuses(statuses ...enums.CarStatus) Interest {
	return Interest{Statuses: statuses}
}

// ForCar matches every transition of a single car.
func ForCar(carID int64) Interest {
	return Interest{CarID: carID}
}

// Matches reports whether the update concerns this interest: the old or new
// stage is watched (or no stages are listed) and the car id matches (or none
// is set).
func (i Interest) Matches(update events.CarStatusUpdate) bool {
	if i.CarID != 0 && update.CarID != i.CarID {
		return false
	}
	if len(i.Statuses) == 0 {
		return true
	}
	for _, status := range i.Statuses {
		s := status.String()
		if s == update.OldStatus || s == update.NewStatus {
			return true
		}
	}
	return false
}
