package cars

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/carline-backend/internal/history"
	"github.com/angelmondragon/carline-backend/pkg/db"
	"github.com/angelmondragon/carline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/carline-backend/pkg/db/models"
	"github.com/angelmondragon/carline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/carline-backend/pkg/errors"
	"github.com/angelmondragon/carline-backend/pkg/events"
	"github.com/angelmondragon/carline-backend/pkg/logger"
	"github.com/angelmondragon/carline-backend/pkg/metrics"
)

type recordingBroadcaster struct {
	mu      sync.Mutex
	updates []events.CarStatusUpdate
	err     error
}

func (r *recordingBroadcaster) Broadcast(ctx context.Context, update events.CarStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	return r.err
}

func (r *recordingBroadcaster) sent() []events.CarStatusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.CarStatusUpdate(nil), r.updates...)
}

type failingLedger struct{}

func (failingLedger) Append(ctx context.Context, tx *gorm.DB, carID int64, previous *enums.CarStatus, next enums.CarStatus, at time.Time) (*models.CarStatusHistory, error) {
	return nil, errors.New("ledger unavailable")
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type harness struct {
	conn        *gorm.DB
	svc         Service
	history     history.Repository
	broadcaster *recordingBroadcaster
	registry    *prometheus.Registry
}

// stallingClock advances one second per read and can hold one read for a
// while, standing in for a request that is slow between steps.
type stallingClock struct {
	mu    sync.Mutex
	now   time.Time
	stall time.Duration
}

func (c *stallingClock) stallNext(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stall = d
}

func (c *stallingClock) Now() time.Time {
	c.mu.Lock()
	c.now = c.now.Add(time.Second)
	at, stall := c.now, c.stall
	c.stall = 0
	c.mu.Unlock()
	time.Sleep(stall)
	return at
}

func newHarness(t *testing.T, ledger LedgerAppender) *harness {
	t.Helper()
	clock := &stepClock{now: time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC)}
	return newHarnessWithClock(t, ledger, clock.Now)
}

func newHarnessWithClock(t *testing.T, ledger LedgerAppender, now func() time.Time) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	historyRepo := history.NewRepository(conn)
	if ledger == nil {
		ledger = historyRepo
	}
	broadcaster := &recordingBroadcaster{}
	registry := prometheus.NewRegistry()

	svc, err := NewService(ServiceParams{
		Repo:        NewRepository(conn),
		Ledger:      ledger,
		DB:          db.FromConn(conn),
		Broadcaster: broadcaster,
		Logger:      logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Metrics:     metrics.NewTransitionMetrics(registry),
		Now:         now,
	})
	require.NoError(t, err)
	return &harness{conn: conn, svc: svc, history: historyRepo, broadcaster: broadcaster, registry: registry}
}

func (h *harness) register(t *testing.T, id int64, plate string) {
	t.Helper()
	_, err := h.svc.Register(context.Background(), NewCarInput{
		ID:    id,
		Make:  "Toyota",
		Model: "Sienna",
		Color: enums.CarColorBlue,
		Plate: plate,
	})
	require.NoError(t, err)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestApplyTransitionPreArrivalToRegistered(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, 101, "7ABC123")

	car, err := h.svc.ApplyTransition(ctx, 101, enums.CarStatusRegistered)
	require.NoError(t, err)
	assert.Equal(t, enums.CarStatusRegistered, car.Status)

	got, err := h.svc.GetByID(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, enums.CarStatusRegistered, got.Status)
	require.NotNil(t, got.RegisteredAt)
	assert.Nil(t, got.OnDeckAt)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.PickedUpAt)

	entries, err := h.history.ListByCar(ctx, 101)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].PreviousStatus)
	assert.Equal(t, enums.CarStatusPreArrival, *entries[0].PreviousStatus)
	assert.Equal(t, enums.CarStatusRegistered, entries[0].NewStatus)

	sent := h.broadcaster.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(101), sent[0].CarID)
	assert.Equal(t, "PRE_ARRIVAL", sent[0].OldStatus)
	assert.Equal(t, "REGISTERED", sent[0].NewStatus)
	assert.True(t, sent[0].Timestamp.Equal(entries[0].ChangedAt))

	assert.Equal(t, 1.0, counterValue(t, h.registry, "carline_transitions_total", "status", "REGISTERED"))
}

func TestApplyTransitionReentryKeepsFirstArrival(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, 5, "REENTRY")

	first, err := h.svc.ApplyTransition(ctx, 5, enums.CarStatusRegistered)
	require.NoError(t, err)
	require.NotNil(t, first.RegisteredAt)

	second, err := h.svc.ApplyTransition(ctx, 5, enums.CarStatusRegistered)
	require.NoError(t, err)
	require.NotNil(t, second.RegisteredAt)
	assert.True(t, first.RegisteredAt.Equal(*second.RegisteredAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	entries, err := h.history.ListByCar(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, enums.CarStatusRegistered, *entries[0].PreviousStatus)
	assert.Equal(t, enums.CarStatusRegistered, entries[0].NewStatus)
	assert.Len(t, h.broadcaster.sent(), 2)
}

func TestApplyTransitionAllowsAnyJumpAndNeverClearsTimestamps(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, 8, "JUMP")

	done, err := h.svc.ApplyTransition(ctx, 8, enums.CarStatusDone)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	assert.Nil(t, done.RegisteredAt)

	back, err := h.svc.ApplyTransition(ctx, 8, enums.CarStatusPreArrival)
	require.NoError(t, err)
	assert.Equal(t, enums.CarStatusPreArrival, back.Status)
	require.NotNil(t, back.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(*back.CompletedAt))

	again, err := h.svc.ApplyTransition(ctx, 8, enums.CarStatusDone)
	require.NoError(t, err)
	assert.True(t, done.CompletedAt.Equal(*again.CompletedAt))

	entries, err := h.history.ListByCar(ctx, 8)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestApplyTransitionNotFound(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.ApplyTransition(context.Background(), 404, enums.CarStatusOnDeck)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Empty(t, h.broadcaster.sent())
	assert.Equal(t, 1.0, counterValue(t, h.registry, "carline_transition_failures_total", "code", "NOT_FOUND"))

	all, err := h.history.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestApplyTransitionValidation(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.ApplyTransition(context.Background(), 0, "PARKED")
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Contains(t, details, "car_id")
	assert.Contains(t, details, "target_status")
}

func TestApplyTransitionLedgerFailureRollsBack(t *testing.T) {
	h := newHarness(t, failingLedger{})
	ctx := context.Background()
	h.register(t, 12, "ROLLBACK")

	_, err := h.svc.ApplyTransition(ctx, 12, enums.CarStatusOnDeck)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Empty(t, h.broadcaster.sent())

	car, err := h.svc.GetByID(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, enums.CarStatusPreArrival, car.Status)
	assert.Nil(t, car.OnDeckAt)
}

func TestApplyTransitionSwallowsBroadcastErrors(t *testing.T) {
	h := newHarness(t, nil)
	h.broadcaster.err = errors.New("hub stopped")
	h.register(t, 3, "NOHUB")

	car, err := h.svc.ApplyTransition(context.Background(), 3, enums.CarStatusOnDeck)
	require.NoError(t, err)
	assert.Equal(t, enums.CarStatusOnDeck, car.Status)
}

func TestRegisterDoesNotWriteHistoryAndRejectsDuplicates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, 20, "DUP1")

	car, err := h.svc.GetByID(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, enums.CarStatusPreArrival, car.Status)

	entries, err := h.history.ListByCar(ctx, 20)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = h.svc.Register(ctx, NewCarInput{ID: 20, Make: "Kia", Model: "Carnival", Color: enums.CarColorRed, Plate: "DUP2"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = h.svc.Register(ctx, NewCarInput{ID: 21, Make: " ", Model: "Carnival", Color: "teal", Plate: "X"})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details := typed.Details().(map[string]any)
	assert.Contains(t, details, "make")
	assert.Contains(t, details, "color")
}

func TestSearch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, 1, "12345")
	h.register(t, 12345, "ZZZ999")
	h.register(t, 30, "abc 123")
	h.register(t, 31, "ABC 123")

	byID, err := h.svc.Search(ctx, " 12345 ")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), byID.ID)

	byPlate, err := h.svc.Search(ctx, "Abc 123")
	require.NoError(t, err)
	assert.Equal(t, int64(30), byPlate.ID)

	exact, err := h.svc.Search(ctx, "ABC 123")
	require.NoError(t, err)
	assert.Equal(t, int64(31), exact.ID, "exact plate wins over a case-insensitive one")

	exact, err = h.svc.Search(ctx, " abc 123")
	require.NoError(t, err)
	assert.Equal(t, int64(30), exact.ID)

	numericPlate, err := h.svc.Search(ctx, "zzz999")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), numericPlate.ID)

	_, err = h.svc.Search(ctx, "   ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.Search(ctx, "777")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSearchFallsBackToPlateWhenIDMisses(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, 2, "4004")

	got, err := h.svc.Search(context.Background(), "4004")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
}

func TestListByStatus(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, 3, "C")
	h.register(t, 1, "A")
	h.register(t, 2, "B")
	_, err := h.svc.ApplyTransition(ctx, 2, enums.CarStatusOnDeck)
	require.NoError(t, err)

	all, err := h.svc.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{all[0].ID, all[1].ID, all[2].ID})

	onDeck, err := h.svc.ListByStatus(ctx, enums.CarStatusOnDeck)
	require.NoError(t, err)
	require.Len(t, onDeck, 1)
	assert.Equal(t, int64(2), onDeck[0].ID)

	waiting, err := h.svc.ListByStatus(ctx, enums.CarStatusPreArrival, enums.CarStatusDone)
	require.NoError(t, err)
	assert.Len(t, waiting, 2)

	_, err = h.svc.ListByStatus(ctx, "PARKED")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestUpdateDetails(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, 40, "OLD")

	plate := " NEW 1 "
	color := enums.CarColorGreen
	car, err := h.svc.UpdateDetails(ctx, 40, UpdateCarInput{Plate: &plate, Color: &color})
	require.NoError(t, err)
	assert.Equal(t, "NEW 1", car.Plate)
	assert.Equal(t, enums.CarColorGreen, car.Color)
	assert.Equal(t, "Toyota", car.Make)
	assert.Equal(t, enums.CarStatusPreArrival, car.Status)

	empty := ""
	_, err = h.svc.UpdateDetails(ctx, 40, UpdateCarInput{Make: &empty})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.UpdateDetails(ctx, 41, UpdateCarInput{Plate: &plate})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestDelete(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, 50, "DEL")
	_, err := h.svc.ApplyTransition(ctx, 50, enums.CarStatusRegistered)
	require.NoError(t, err)

	require.NoError(t, h.svc.Delete(ctx, 50))
	_, err = h.svc.GetByID(ctx, 50)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	entries, err := h.history.ListByCar(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = h.svc.Delete(ctx, 50)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestBulkLoad(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	loaded, err := h.svc.BulkLoad(ctx, []NewCarInput{
		{ID: 1, Make: "Ford", Model: "Explorer", Color: enums.CarColorBlack, Plate: "F1"},
		{ID: 2, Make: "Ford", Model: "Flex", Color: enums.CarColorWhite, Plate: "F2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)

	all, err := h.svc.ListByStatus(ctx, enums.CarStatusPreArrival)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	entries, err := h.history.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, h.broadcaster.sent())
}

func TestBulkLoadRejectsWholeBatch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, 2, "TAKEN")

	_, err := h.svc.BulkLoad(ctx, []NewCarInput{
		{ID: 1, Make: "Ford", Model: "Explorer", Color: enums.CarColorBlack, Plate: "F1"},
		{ID: 2, Make: "Ford", Model: "Flex", Color: enums.CarColorWhite, Plate: "F2"},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = h.svc.BulkLoad(ctx, []NewCarInput{
		{ID: 3, Make: "Ford", Model: "Explorer", Color: enums.CarColorBlack, Plate: "F3"},
		{ID: 3, Make: "Ford", Model: "Flex", Color: enums.CarColorWhite, Plate: "F4"},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = h.svc.BulkLoad(ctx, []NewCarInput{
		{ID: 4, Make: "Ford", Model: "Explorer", Color: enums.CarColorBlack, Plate: "F5"},
		{ID: 5, Make: "Ford", Model: "", Color: enums.CarColorWhite, Plate: "F6"},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.Contains(t, typed.Details().(map[string]any), "cars[1]")

	_, err = h.svc.BulkLoad(ctx, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	all, err := h.svc.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(2), all[0].ID)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, pair := range m.GetLabel() {
				if pair.GetName() == label && pair.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// assertLedgerMatchesCar checks that the newest entry describes the car's
// current status and that the entries form one unbroken chain in time.
func assertLedgerMatchesCar(t *testing.T, h *harness, carID int64) []models.CarStatusHistory {
	t.Helper()
	ctx := context.Background()

	car, err := h.svc.GetByID(ctx, carID)
	require.NoError(t, err)
	entries, err := h.history.ListByCar(ctx, carID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	assert.Equal(t, car.Status, entries[0].NewStatus)
	assert.True(t, entries[0].ChangedAt.Equal(car.UpdatedAt), "updated_at %s, newest entry %s", car.UpdatedAt, entries[0].ChangedAt)
	for i := 0; i+1 < len(entries); i++ {
		newer, older := entries[i], entries[i+1]
		require.NotNil(t, newer.PreviousStatus)
		assert.Equal(t, older.NewStatus, *newer.PreviousStatus, "entry %d", newer.ID)
		assert.True(t, newer.ChangedAt.After(older.ChangedAt), "entry %d at %s not after %s", newer.ID, newer.ChangedAt, older.ChangedAt)
	}
	return entries
}

func TestApplyTransitionStampsAfterTakingTheRow(t *testing.T) {
	clock := &stallingClock{now: time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC)}
	h := newHarnessWithClock(t, nil, clock.Now)
	ctx := context.Background()
	h.register(t, 21, "RACE1")

	clock.stallNext(100 * time.Millisecond)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := h.svc.ApplyTransition(ctx, 21, enums.CarStatusRegistered)
		assert.NoError(t, err)
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		defer wg.Done()
		_, err := h.svc.ApplyTransition(ctx, 21, enums.CarStatusOnDeck)
		assert.NoError(t, err)
	}()
	wg.Wait()

	entries := assertLedgerMatchesCar(t, h, 21)
	assert.Len(t, entries, 2)
}

func TestApplyTransitionConcurrentOnOneCar(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, 31, "BUSY")

	targets := []enums.CarStatus{
		enums.CarStatusRegistered,
		enums.CarStatusOnDeck,
		enums.CarStatusDone,
		enums.CarStatusOnDeck,
		enums.CarStatusPickedUp,
		enums.CarStatusDone,
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, target := range targets {
		wg.Add(1)
		go func(target enums.CarStatus) {
			defer wg.Done()
			if _, err := h.svc.ApplyTransition(ctx, 31, target); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(target)
	}
	wg.Wait()

	require.Equal(t, len(targets), succeeded)
	entries := assertLedgerMatchesCar(t, h, 31)
	assert.Len(t, entries, succeeded)
	assert.Len(t, h.broadcaster.sent(), succeeded)
}
