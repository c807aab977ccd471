// Package migrate applies the goose SQL migrations for the car line schema.
// The migrations are embedded so the API binary can run them from any
// working directory.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strconv"
	"sync"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where new migrations are written, relative to the repo root.
const DefaultDir = "pkg/migrate/migrations"

const (
	embeddedDir  = "migrations"
	versionTable = "carline_schema_migrations"
)

//go:embed migrations/*.sql
var embedded embed.FS

// gooseMu serializes access to goose's package-level dialect, table and FS.
var gooseMu sync.Mutex

// Embedded returns the migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, embeddedDir)
	if err != nil {
		panic(err)
	}
	return sub
}

// Run executes a goose command against dir. An empty dir runs the embedded
// migrations.
func Run(ctx context.Context, db *sql.DB, dir string, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	return withGoose(dir, func(path string) error {
		if err := goose.RunContext(ctx, command, db, path, args...); err != nil {
			return fmt.Errorf("goose %s: %w", command, err)
		}
		return nil
	})
}

// MigrateToVersion moves the schema up or down until it sits at targetVersion.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, targetVersion string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil || target <= 0 {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", targetVersion)
	}

	return withGoose(dir, func(path string) error {
		current, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("get db version: %w", err)
		}
		switch {
		case current == target:
			return nil
		case current < target:
			return wrapStep("up-to", target, goose.UpToContext(ctx, db, path, target))
		default:
			return wrapStep("down-to", target, goose.DownToContext(ctx, db, path, target))
		}
	})
}

func withGoose(dir string, fn func(path string) error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	goose.SetTableName(versionTable)

	path := dir
	if dir == "" {
		goose.SetBaseFS(Embedded())
		path = "."
	} else {
		goose.SetBaseFS(nil)
	}
	defer goose.SetBaseFS(nil)

	return fn(path)
}

func wrapStep(step string, target int64, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s %d: %w", step, target, err)
}
