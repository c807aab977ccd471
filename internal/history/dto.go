package history

import (
	"time"

	"github.com/angelmondragon/carline-backend/pkg/db/models"
	"github.com/angelmondragon/carline-backend/pkg/enums"
)

// EntryDTO is the API view of one ledger row.
type EntryDTO struct {
	ID             int64            `json:"id"`
	CarID          int64            `json:"car_id"`
	PreviousStatus *enums.CarStatus `json:"previous_status"`
	NewStatus      enums.CarStatus  `json:"new_status"`
	ChangedAt      time.Time        `json:"changed_at"`
}

// StageDuration summarizes how long cars took to reach a stage, in seconds.
type StageDuration struct {
	Status     enums.CarStatus `json:"status"`
	Count      int             `json:"count"`
	MinSeconds float64         `json:"min_seconds"`
	MaxSeconds float64         `json:"max_seconds"`
	AvgSeconds float64         `json:"avg_seconds"`
}

// FromModel maps a persisted ledger row into a DTO.
func FromModel(m *models.CarStatusHistory) EntryDTO {
	return EntryDTO{
		ID:             m.ID,
		CarID:          m.CarID,
		PreviousStatus: m.PreviousStatus,
		NewStatus:      m.NewStatus,
		ChangedAt:      m.ChangedAt.UTC(),
	}
}
