package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/carline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/carline-backend/pkg/db/models"
	"github.com/angelmondragon/carline-backend/pkg/enums"
)

func seedCar(t *testing.T, conn *gorm.DB, id int64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, conn.Create(&models.Car{
		ID:        id,
		Make:      "Honda",
		Model:     "Odyssey",
		Color:     enums.CarColorSilver,
		Plate:     "7ABC123",
		Status:    enums.CarStatusPreArrival,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)
}

func statusPtr(s enums.CarStatus) *enums.CarStatus { return &s }

func TestRepositoryAppendRequiresTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	seedCar(t, conn, 1)
	repo := NewRepository(conn)

	_, err := repo.Append(context.Background(), nil, 1, nil, enums.CarStatusRegistered, time.Now())
	require.ErrorIs(t, err, gorm.ErrInvalidTransaction)
}

func TestRepositoryListByCarNewestFirst(t *testing.T) {
	conn := dbtest.Open(t)
	seedCar(t, conn, 1)
	seedCar(t, conn, 2)
	repo := NewRepository(conn)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if _, err := repo.Append(ctx, tx, 1, statusPtr(enums.CarStatusPreArrival), enums.CarStatusRegistered, base); err != nil {
			return err
		}
		if _, err := repo.Append(ctx, tx, 2, statusPtr(enums.CarStatusPreArrival), enums.CarStatusRegistered, base.Add(time.Second)); err != nil {
			return err
		}
		_, err := repo.Append(ctx, tx, 1, statusPtr(enums.CarStatusRegistered), enums.CarStatusOnDeck, base.Add(2*time.Second))
		return err
	}))

	entries, err := repo.ListByCar(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, enums.CarStatusOnDeck, entries[0].NewStatus)
	assert.Equal(t, enums.CarStatusRegistered, *entries[0].PreviousStatus)
	assert.Equal(t, enums.CarStatusRegistered, entries[1].NewStatus)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1), all[0].CarID)
	assert.Equal(t, int64(1), all[1].CarID)
	assert.Equal(t, enums.CarStatusOnDeck, all[1].NewStatus)
	assert.Equal(t, int64(2), all[2].CarID)
}

func TestRepositoryCascadeOnCarDelete(t *testing.T) {
	conn := dbtest.Open(t)
	seedCar(t, conn, 9)
	repo := NewRepository(conn)
	ctx := context.Background()

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		_, err := repo.Append(ctx, tx, 9, nil, enums.CarStatusRegistered, time.Now())
		return err
	}))
	require.NoError(t, conn.Delete(&models.Car{}, 9).Error)

	entries, err := repo.ListByCar(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, entries)

	exists, err := repo.CarExists(ctx, 9)
	require.NoError(t, err)
	assert.False(t, exists)
}
