package client

import (
	"time"

	"github.com/angelmondragon/carline-backend/pkg/enums"
)

// Car mirrors the API car payload.
type Car struct {
	ID           int64           `json:"id"`
	Make         string          `json:"make"`
	Model        string          `json:"model"`
	Color        enums.CarColor  `json:"color"`
	Plate        string          `json:"plate"`
	Status       enums.CarStatus `json:"status"`
	RegisteredAt *time.Time      `json:"registered_at"`
	OnDeckAt     *time.Time      `json:"on_deck_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
	PickedUpAt   *time.Time      `json:"picked_up_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewCar registers or bulk loads a car.
type NewCar struct {
	ID    int64          `json:"id"`
	Make  string         `json:"make"`
	Model string         `json:"model"`
	Color enums.CarColor `json:"color"`
	Plate string         `json:"plate"`
}

// CarUpdate edits descriptive attributes; nil fields are left alone.
type CarUpdate struct {
	Make  *string         `json:"make,omitempty"`
	Model *string         `json:"model,omitempty"`
	Color *enums.CarColor `json:"color,omitempty"`
	Plate *string         `json:"plate,omitempty"`
}

// HistoryEntry is one ledger row.
type HistoryEntry struct {
	ID             int64            `json:"id"`
	CarID          int64            `json:"car_id"`
	PreviousStatus *enums.CarStatus `json:"previous_status"`
	NewStatus      enums.CarStatus  `json:"new_status"`
	ChangedAt      time.Time        `json:"changed_at"`
}

// StageDuration is the aggregate time-to-stage summary.
type StageDuration struct {
	Status     enums.CarStatus `json:"status"`
	Count      int             `json:"count"`
	MinSeconds float64         `json:"min_seconds"`
	MaxSeconds float64         `json:"max_seconds"`
	AvgSeconds float64         `json:"avg_seconds"`
}

// Suggestion is the non-binding next-move hint for a car.
type Suggestion struct {
	Current   enums.CarStatus   `json:"current"`
	Primary   *enums.CarStatus  `json:"primary"`
	Secondary []enums.CarStatus `json:"secondary"`
}

// BulkLoadResult reports how many cars were inserted.
type BulkLoadResult struct {
	Inserted int `json:"inserted"`
}

type transitionRequest struct {
	CarID        int64           `json:"car_id"`
	TargetStatus enums.CarStatus `json:"target_status"`
}

type bulkLoadRequest struct {
	Cars []NewCar `json:"cars"`
}
