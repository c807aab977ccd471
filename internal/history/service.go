package history

import (
	"context"
	"fmt"

	pkgerrors "github.com/angelmondragon/carline-backend/pkg/errors"
	"github.com/angelmondragon/carline-backend/pkg/logger"
)

// Service exposes the read side of the ledger. Writes happen only through
// Repository.Append inside the transition transaction.
type Service interface {
	GetHistory(ctx context.Context, carID int64) ([]EntryDTO, error)
	AggregateDurations(ctx context.Context) ([]StageDuration, error)
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("history repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, logg: logg}, nil
}

func (s *service) GetHistory(ctx context.Context, carID int64) ([]EntryDTO, error) {
	if carID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "car id must be positive").
			WithDetails(map[string]any{"car_id": "must be greater than 0"})
	}

	exists, err := s.repo.CarExists(ctx, carID)
	if err != nil {
		return nil, pkgerrors.Storage(err, "lookup car")
	}
	if !exists {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "car not found")
	}

	entries, err := s.repo.ListByCar(ctx, carID)
	if err != nil {
		return nil, pkgerrors.Storage(err, "list car history")
	}

	out := make([]EntryDTO, 0, len(entries))
	for i := range entries {
		out = append(out, FromModel(&entries[i]))
	}
	return out, nil
}

func (s *service) AggregateDurations(ctx context.Context) ([]StageDuration, error) {
	entries, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, pkgerrors.Storage(err, "list history")
	}
	out, skipped := aggregateDurations(entries)
	if skipped > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "skipped_pairs", skipped), "history entries out of order, gaps left out of durations")
	}
	return out, nil
}
