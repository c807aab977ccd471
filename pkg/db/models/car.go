package models

import (
	"time"

	"github.com/angelmondragon/carline-backend/pkg/enums"
)

// Car is a vehicle moving through the pickup line. Status is only changed by
// the transition service; stage timestamps record first arrival and are never
// cleared.
type Car struct {
	ID           int64           `gorm:"column:id;primaryKey;autoIncrement:false"`
	Make         string          `gorm:"column:make;not null"`
	Model        string          `gorm:"column:model;not null"`
	Color        enums.CarColor  `gorm:"column:color;type:car_color_enum;not null"`
	Plate        string          `gorm:"column:plate;not null"`
	Status       enums.CarStatus `gorm:"column:status;type:car_status_enum;not null"`
	RegisteredAt *time.Time      `gorm:"column:registered_at"`
	OnDeckAt     *time.Time      `gorm:"column:on_deck_at"`
	CompletedAt  *time.Time      `gorm:"column:completed_at"`
	PickedUpAt   *time.Time      `gorm:"column:picked_up_at"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Car) TableName() string { return "cars" }

// StageTimestamp returns the first-arrival time recorded for the stage.
func (c *Car) StageTimestamp(status enums.CarStatus) *time.Time {
	switch status {
	case enums.CarStatusRegistered:
		return c.RegisteredAt
	case enums.CarStatusOnDeck:
		return c.OnDeckAt
	case enums.CarStatusDone:
		return c.CompletedAt
	case enums.CarStatusPickedUp:
		return c.PickedUpAt
	default:
		return nil
	}
}
