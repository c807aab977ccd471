package cars

import (
	"strings"
	"time"

	"github.com/angelmondragon/carline-backend/pkg/db/models"
	"github.com/angelmondragon/carline-backend/pkg/enums"
)

// CarDTO exposes a car in API responses.
type CarDTO struct {
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

// NewCarInput registers or bulk loads a car.
type NewCarInput struct {
	ID    int64          `json:"id" validate:"required,gt=0"`
	Make  string         `json:"make" validate:"required,max=64"`
	Model string         `json:"model" validate:"required,max=64"`
	Color enums.CarColor `json:"color" validate:"required,car_color"`
	Plate string         `json:"plate" validate:"required,max=16"`
}

// UpdateCarInput edits descriptive attributes. Nil fields are left alone.
type UpdateCarInput struct {
	Make  *string         `json:"make,omitempty" validate:"omitempty,min=1,max=64"`
	Model *string         `json:"model,omitempty" validate:"omitempty,min=1,max=64"`
	Color *enums.CarColor `json:"color,omitempty" validate:"omitempty,car_color"`
	Plate *string         `json:"plate,omitempty" validate:"omitempty,min=1,max=16"`
}

// FromModel maps the persisted car into a DTO.
func FromModel(m *models.Car) *CarDTO {
	if m == nil {
		return nil
	}
	return &CarDTO{
		ID:           m.ID,
		Make:         m.Make,
		Model:        m.Model,
		Color:        m.Color,
		Plate:        m.Plate,
		Status:       m.Status,
		RegisteredAt: utcPtr(m.RegisteredAt),
		OnDeckAt:     utcPtr(m.OnDeckAt),
		CompletedAt:  utcPtr(m.CompletedAt),
		PickedUpAt:   utcPtr(m.PickedUpAt),
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

// FromModels maps a slice of persisted cars.
func FromModels(list []models.Car) []CarDTO {
	out := make([]CarDTO, 0, len(list))
	for i := range list {
		out = append(out, *FromModel(&list[i]))
	}
	return out
}

// ToModel builds a PRE_ARRIVAL car from registration input.
func (in NewCarInput) ToModel(now time.Time) models.Car {
	return models.Car{
		ID:        in.ID,
		Make:      strings.TrimSpace(in.Make),
		Model:     strings.TrimSpace(in.Model),
		Color:     in.Color,
		Plate:     strings.TrimSpace(in.Plate),
		Status:    enums.CarStatusPreArrival,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
