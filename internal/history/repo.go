package history

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/carline-backend/internal/repo"
	"github.com/angelmondragon/carline-backend/pkg/db/models"
	"github.com/angelmondragon/carline-backend/pkg/enums"
)

// Repository persists the car status ledger.
type Repository interface {
	// Append writes one ledger row on tx. It refuses to run outside a
	// transaction so a row can never exist without its status change.
	Append(ctx context.Context, tx *gorm.DB, carID int64, previous *enums.CarStatus, next enums.CarStatus, at time.Time) (*models.CarStatusHistory, error)
	ListByCar(ctx context.Context, carID int64) ([]models.CarStatusHistory, error)
	ListAll(ctx context.Context) ([]models.CarStatusHistory, error)
	CarExists(ctx context.Context, carID int64) (bool, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) Append(ctx context.Context, tx *gorm.DB, carID int64, previous *enums.CarStatus, next enums.CarStatus, at time.Time) (*models.CarStatusHistory, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	entry := &models.CarStatusHistory{
		CarID:          carID,
		PreviousStatus: previous,
		NewStatus:      next,
		ChangedAt:      at.UTC(),
	}
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// ListByCar returns the ledger for one car, newest first.
func (r *repository) ListByCar(ctx context.Context, carID int64) ([]models.CarStatusHistory, error) {
	var entries []models.CarStatusHistory
	if err := r.DB(ctx).
		Where("car_id = ?", carID).
		Order("changed_at DESC").
		Order("id DESC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListAll returns every ledger row grouped by car, oldest first within a car.
func (r *repository) ListAll(ctx context.Context) ([]models.CarStatusHistory, error) {
	var entries []models.CarStatusHistory
	if err := r.DB(ctx).
		Order("car_id ASC").
		Order("changed_at ASC").
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) CarExists(ctx context.Context, carID int64) (bool, error) {
	var count int64
	if err := r.DB(ctx).
		Model(&models.Car{}).
		Where("id = ?", carID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
