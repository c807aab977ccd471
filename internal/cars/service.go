package cars

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/carline-backend/pkg/db"
	"github.com/angelmondragon/carline-backend/pkg/db/models"
	"github.com/angelmondragon/carline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/carline-backend/pkg/errors"
	"github.com/angelmondragon/carline-backend/pkg/events"
	"github.com/angelmondragon/carline-backend/pkg/logger"
	"github.com/angelmondragon/carline-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// LedgerAppender writes the history row for a transition on the caller's
// transaction.
type LedgerAppender interface {
	Append(ctx context.Context, tx *gorm.DB, carID int64, previous *enums.CarStatus, next enums.CarStatus, at time.Time) (*models.CarStatusHistory, error)
}

// Broadcaster pushes committed transitions to observers.
type Broadcaster interface {
	Broadcast(ctx context.Context, update events.CarStatusUpdate) error
}

// Service is the record store read surface plus the transition path, which
// is the only code allowed to change a car's status.
type Service interface {
	GetByID(ctx context.Context, id int64) (*CarDTO, error)
	ListByStatus(ctx context.Context, statuses ...enums.CarStatus) ([]CarDTO, error)
	ListAll(ctx context.Context) ([]CarDTO, error)
	Search(ctx context.Context, term string) (*CarDTO, error)
	Register(ctx context.Context, input NewCarInput) (*CarDTO, error)
	UpdateDetails(ctx context.Context, id int64, input UpdateCarInput) (*CarDTO, error)
	Delete(ctx context.Context, id int64) error
	BulkLoad(ctx context.Context, inputs []NewCarInput) (int, error)
	ApplyTransition(ctx context.Context, carID int64, target enums.CarStatus) (*CarDTO, error)
}

// ServiceParams wires the car service.
type ServiceParams struct {
	Repo        Repository
	Ledger      LedgerAppender
	DB          txRunner
	Broadcaster Broadcaster
	Logger      *logger.Logger
	Metrics     *metrics.TransitionMetrics
	Now         func() time.Time
}

type service struct {
	repo        Repository
	ledger      LedgerAppender
	db          txRunner
	broadcaster Broadcaster
	logg        *logger.Logger
	metrics     *metrics.TransitionMetrics
	now         func() time.Time
}

// NewService builds the car service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("cars repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("history ledger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:        params.Repo,
		ledger:      params.Ledger,
		db:          params.DB,
		broadcaster: params.Broadcaster,
		logg:        params.Logger,
		metrics:     params.Metrics,
		now:         now,
	}, nil
}

func (s *service) GetByID(ctx context.Context, id int64) (*CarDTO, error) {
	if err := validateCarID(id); err != nil {
		return nil, err
	}
	car, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return FromModel(car), nil
}

func (s *service) ListByStatus(ctx context.Context, statuses ...enums.CarStatus) ([]CarDTO, error) {
	for _, status := range statuses {
		if !status.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter").
				WithDetails(map[string]any{"status": fmt.Sprintf("unknown stage %q", status)})
		}
	}
	list, err := s.repo.List(ctx, statuses)
	if err != nil {
		return nil, pkgerrors.Storage(err, "list cars")
	}
	return FromModels(list), nil
}

func (s *service) ListAll(ctx context.Context) ([]CarDTO, error) {
	return s.ListByStatus(ctx)
}

// Search tries an exact id match when the term is a non-negative integer and
// falls back to an exact plate match.
func (s *service) Search(ctx context.Context, term string) (*CarDTO, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "search term required").
			WithDetails(map[string]any{"q": "is required"})
	}

	if id, err := strconv.ParseInt(term, 10, 64); err == nil && id >= 0 {
		car, err := s.repo.FindByID(ctx, id)
		switch {
		case err == nil:
			return FromModel(car), nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, pkgerrors.Storage(err, "search car by id")
		}
	}

	car, err := s.repo.FindByPlate(ctx, term)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return FromModel(car), nil
}

func (s *service) Register(ctx context.Context, input NewCarInput) (*CarDTO, error) {
	if details := validateNewCar(input); len(details) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid car").WithDetails(details)
	}

	car := input.ToModel(s.now().UTC())
	if err := s.repo.Create(ctx, &car); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "car id already registered").
				WithDetails(map[string]any{"ids": []int64{input.ID}})
		}
		return nil, pkgerrors.Storage(err, "create car")
	}

	s.logg.Info(s.logg.WithCarID(ctx, car.ID), "car registered")
	return FromModel(&car), nil
}

func (s *service) UpdateDetails(ctx context.Context, id int64, input UpdateCarInput) (*CarDTO, error) {
	if err := validateCarID(id); err != nil {
		return nil, err
	}

	updates, details := buildDetailUpdates(input)
	if len(details) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid car details").WithDetails(details)
	}
	if len(updates) == 0 {
		return s.GetByID(ctx, id)
	}
	updates["updated_at"] = s.now().UTC()

	affected, err := s.repo.UpdateDetails(ctx, id, updates)
	if err != nil {
		return nil, pkgerrors.Storage(err, "update car details")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "car not found")
	}
	return s.GetByID(ctx, id)
}

func (s *service) Delete(ctx context.Context, id int64) error {
	if err := validateCarID(id); err != nil {
		return err
	}
	affected, err := s.repo.Delete(ctx, id)
	if err != nil {
		return pkgerrors.Storage(err, "delete car")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "car not found")
	}
	s.logg.Warn(s.logg.WithCarID(ctx, id), "car deleted")
	return nil
}

// BulkLoad seeds cars before the event. It writes no ledger rows and rejects
// the whole batch when any row is invalid or any id is taken.
func (s *service) BulkLoad(ctx context.Context, inputs []NewCarInput) (int, error) {
	if len(inputs) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "no cars provided").
			WithDetails(map[string]any{"cars": "must contain at least one car"})
	}

	rowErrors := map[string]any{}
	seen := make(map[int64]struct{}, len(inputs))
	var duplicates []int64
	ids := make([]int64, 0, len(inputs))
	for i, input := range inputs {
		if details := validateNewCar(input); len(details) > 0 {
			rowErrors[fmt.Sprintf("cars[%d]", i)] = details
			continue
		}
		if _, ok := seen[input.ID]; ok {
			duplicates = append(duplicates, input.ID)
			continue
		}
		seen[input.ID] = struct{}{}
		ids = append(ids, input.ID)
	}
	if len(rowErrors) > 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid cars in batch").WithDetails(rowErrors)
	}
	if len(duplicates) > 0 {
		return 0, pkgerrors.New(pkgerrors.CodeConflict, "duplicate car ids in batch").
			WithDetails(map[string]any{"ids": duplicates})
	}

	now := s.now().UTC()
	rows := make([]models.Car, 0, len(inputs))
	for _, input := range inputs {
		rows = append(rows, input.ToModel(now))
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.ExistingIDs(ctx, ids)
		if err != nil {
			return pkgerrors.Storage(err, "check existing cars")
		}
		if len(existing) > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "car ids already registered").
				WithDetails(map[string]any{"ids": existing})
		}
		if err := repo.CreateBatch(ctx, rows); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "car ids already registered")
			}
			return pkgerrors.Storage(err, "insert cars")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logg.Info(ctx, fmt.Sprintf("bulk loaded %d cars", len(rows)))
	return len(rows), nil
}

// ApplyTransition replaces the car's stage, sets the stage's first-arrival
// timestamp if unset and appends the ledger row in one transaction. The
// broadcast happens after commit and can never fail the call.
func (s *service) ApplyTransition(ctx context.Context, carID int64, target enums.CarStatus) (*CarDTO, error) {
	details := map[string]any{}
	if carID <= 0 {
		details["car_id"] = "must be greater than 0"
	}
	if !target.IsValid() {
		details["target_status"] = fmt.Sprintf("must be one of %s", joinStatuses())
	}
	if len(details) > 0 {
		s.metrics.IncFailed(string(pkgerrors.CodeValidation))
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transition").WithDetails(details)
	}

	ctx = s.logg.WithCarID(ctx, carID)
	started := time.Now()

	var (
		previous enums.CarStatus
		updated  *models.Car
		now      time.Time
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		car, err := repo.FindByIDForUpdate(ctx, carID)
		if err != nil {
			return mapLoadError(err)
		}
		previous = car.Status
		// Read the clock under the row lock so changed_at follows commit order.
		now = s.now().UTC()

		if _, err := repo.ApplyStatus(ctx, carID, target, now); err != nil {
			return pkgerrors.Storage(err, "update car status")
		}
		prev := previous
		if _, err := s.ledger.Append(ctx, tx, carID, &prev, target, now); err != nil {
			return pkgerrors.Storage(err, "append status history")
		}

		updated, err = repo.FindByID(ctx, carID)
		if err != nil {
			return pkgerrors.Storage(err, "reload car")
		}
		return nil
	})
	s.metrics.ObserveDuration(time.Since(started))
	if err != nil {
		if typed := pkgerrors.As(err); typed == nil {
			err = pkgerrors.Storage(err, "commit transition")
		}
		s.metrics.IncFailed(string(pkgerrors.CodeOf(err)))
		return nil, err
	}
	s.metrics.IncApplied(target.String())

	ctx = s.logg.WithTransition(ctx, carID, previous, target)
	s.logg.Info(ctx, "car moved")
	update := events.NewCarStatusUpdate(carID, &previous, target, now)
	if err := s.broadcaster.Broadcast(ctx, update); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "broadcast car status update failed")
	}

	return FromModel(updated), nil
}

func validateCarID(id int64) error {
	if id <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "car id must be positive").
			WithDetails(map[string]any{"car_id": "must be greater than 0"})
	}
	return nil
}

func mapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "car not found")
	}
	return pkgerrors.Storage(err, "load car")
}

func validateNewCar(input NewCarInput) map[string]any {
	details := map[string]any{}
	if input.ID <= 0 {
		details["id"] = "must be greater than 0"
	}
	if strings.TrimSpace(input.Make) == "" {
		details["make"] = "is required"
	}
	if strings.TrimSpace(input.Model) == "" {
		details["model"] = "is required"
	}
	if strings.TrimSpace(input.Plate) == "" {
		details["plate"] = "is required"
	}
	if !input.Color.IsValid() {
		details["color"] = "is invalid"
	}
	return details
}

func buildDetailUpdates(input UpdateCarInput) (map[string]any, map[string]any) {
	updates := map[string]any{}
	details := map[string]any{}
	setText := func(field string, value *string) {
		if value == nil {
			return
		}
		trimmed := strings.TrimSpace(*value)
		if trimmed == "" {
			details[field] = "must not be empty"
			return
		}
		updates[field] = trimmed
	}
	setText("make", input.Make)
	setText("model", input.Model)
	setText("plate", input.Plate)
	if input.Color != nil {
		if !input.Color.IsValid() {
			details["color"] = "is invalid"
		} else {
			updates["color"] = *input.Color
		}
	}
	return updates, details
}

func joinStatuses() string {
	statuses := enums.CarStatuses()
	parts := make([]string, 0, len(statuses))
	for _, status := range statuses {
		parts = append(parts, status.String())
	}
	return strings.Join(parts, ", ")
}
