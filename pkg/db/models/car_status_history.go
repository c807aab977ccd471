package models

import (
	"time"

	"github.com/angelmondragon/carline-backend/pkg/enums"
)

// CarStatusHistory is one applied transition. Rows are append-only.
type CarStatusHistory struct {
	ID             int64            `gorm:"column:id;primaryKey;autoIncrement"`
	CarID          int64            `gorm:"column:car_id;not null;index"`
	PreviousStatus *enums.CarStatus `gorm:"column:previous_status;type:car_status_enum"`
	NewStatus      enums.CarStatus  `gorm:"column:new_status;type:car_status_enum;not null"`
	ChangedAt      time.Time        `gorm:"column:changed_at;not null"`
}

func (CarStatusHistory) TableName() string { return "car_status_history" }
