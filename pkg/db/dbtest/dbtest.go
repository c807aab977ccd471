// Package dbtest opens isolated SQLite databases carrying the carline schema.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/carline-backend/pkg/db"
)

// schema mirrors pkg/migrate/migrations with SQLite types. Enum columns are
// plain TEXT.
var schema = []string{
	`CREATE TABLE cars (
		id INTEGER PRIMARY KEY,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		color TEXT NOT NULL,
		plate TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PRE_ARRIVAL',
		registered_at DATETIME,
		on_deck_at DATETIME,
		completed_at DATETIME,
		picked_up_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX cars_status_idx ON cars (status)`,
	`CREATE INDEX cars_plate_lower_idx ON cars (lower(plate))`,
	`CREATE TABLE car_status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		car_id INTEGER NOT NULL REFERENCES cars(id) ON DELETE CASCADE,
		previous_status TEXT,
		new_status TEXT NOT NULL,
		changed_at DATETIME NOT NULL
	)`,
	`CREATE INDEX car_status_history_car_changed_idx ON car_status_history (car_id, changed_at)`,
}

// Open returns a fresh in-memory database with the schema applied. The pool
// is pinned to one connection so the shared-cache database behaves like a
// single writer.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("failed to get sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("failed to apply schema: %v", err)
		}
	}
	return conn
}

// OpenClient wraps Open in a db.Client so services can run transactions.
func OpenClient(t testing.TB) *db.Client {
	t.Helper()
	return db.FromConn(Open(t))
}
