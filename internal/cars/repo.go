package cars

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/carline-backend/internal/repo"
	"github.com/angelmondragon/carline-backend/pkg/db/models"
	"github.com/angelmondragon/carline-backend/pkg/enums"
)

// Repository handles car persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id int64) (*models.Car, error)
	// FindByIDForUpdate takes a row lock on Postgres. SQLite ignores it.
	FindByIDForUpdate(ctx context.Context, id int64) (*models.Car, error)
	FindByPlate(ctx context.Context, plate string) (*models.Car, error)
	List(ctx context.Context, statuses []enums.CarStatus) ([]models.Car, error)
	ExistingIDs(ctx context.Context, ids []int64) ([]int64, error)
	Create(ctx context.Context, car *models.Car) error
	CreateBatch(ctx context.Context, cars []models.Car) error
	UpdateDetails(ctx context.Context, id int64, updates map[string]any) (int64, error)
	ApplyStatus(ctx context.Context, id int64, status enums.CarStatus, at time.Time) (int64, error)
	Delete(ctx context.Context, id int64) (int64, error)
}

type repository struct {
	repo.Base
}

// NewRepository binds a GORM DB to car operations.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) FindByID(ctx context.Context, id int64) (*models.Car, error) {
	var car models.Car
	if err := r.DB(ctx).Where("id = ?", id).First(&car).Error; err != nil {
		return nil, err
	}
	return &car, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id int64) (*models.Car, error) {
	var car models.Car
	if err := r.DB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&car).Error; err != nil {
		return nil, err
	}
	return &car, nil
}

// FindByPlate returns the car whose plate equals the trimmed term. Without
// an exact match it falls back to a case-insensitive one. Ties go to the
// lowest id.
func (r *repository) FindByPlate(ctx context.Context, plate string) (*models.Car, error) {
	plate = strings.TrimSpace(plate)
	var car models.Car
	if err := r.DB(ctx).
		Where("LOWER(TRIM(plate)) = ?", strings.ToLower(plate)).
		Clauses(clause.OrderBy{Expression: clause.Expr{
			SQL:                "CASE WHEN TRIM(plate) = ? THEN 0 ELSE 1 END, id ASC",
			Vars:               []any{plate},
			WithoutParentheses: true,
		}}).
		Take(&car).Error; err != nil {
		return nil, err
	}
	return &car, nil
}

// List returns cars ordered by id, optionally restricted to statuses.
func (r *repository) List(ctx context.Context, statuses []enums.CarStatus) ([]models.Car, error) {
	query := r.DB(ctx).Order("id ASC")
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var cars []models.Car
	if err := query.Find(&cars).Error; err != nil {
		return nil, err
	}
	return cars, nil
}

func (r *repository) ExistingIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var existing []int64
	if err := r.DB(ctx).
		Model(&models.Car{}).
		Where("id IN ?", ids).
		Order("id ASC").
		Pluck("id", &existing).Error; err != nil {
		return nil, err
	}
	return existing, nil
}

func (r *repository) Create(ctx context.Context, car *models.Car) error {
	return r.DB(ctx).Create(car).Error
}

func (r *repository) CreateBatch(ctx context.Context, cars []models.Car) error {
	if len(cars) == 0 {
		return nil
	}
	return r.DB(ctx).CreateInBatches(cars, 200).Error
}

func (r *repository) UpdateDetails(ctx context.Context, id int64, updates map[string]any) (int64, error) {
	res := r.DB(ctx).Model(&models.Car{}).Where("id = ?", id).Updates(updates)
	return res.RowsAffected, res.Error
}

// ApplyStatus replaces the status and sets the stage's first-arrival column
// only when it is still NULL.
func (r *repository) ApplyStatus(ctx context.Context, id int64, status enums.CarStatus, at time.Time) (int64, error) {
	updates := map[string]any{
		"status":     status,
		"updated_at": at,
	}
	if column, ok := status.TimestampColumn(); ok {
		updates[column] = gorm.Expr("COALESCE("+column+", ?)", at)
	}
	res := r.DB(ctx).Model(&models.Car{}).Where("id = ?", id).Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) Delete(ctx context.Context, id int64) (int64, error) {
	res := r.DB(ctx).Where("id = ?", id).Delete(&models.Car{})
	return res.RowsAffected, res.Error
}
