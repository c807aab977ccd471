package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/carline-backend/internal/cars"
	"github.com/angelmondragon/carline-backend/internal/history"
	"github.com/angelmondragon/carline-backend/pkg/config"
	"github.com/angelmondragon/carline-backend/pkg/db"
	"github.com/angelmondragon/carline-backend/pkg/events"
	"github.com/angelmondragon/carline-backend/pkg/logger"
	"github.com/angelmondragon/carline-backend/pkg/migrate"
)

const usage = "migration command: up|down|redo|reset|status|version|create|validate|seed"

type flags struct {
	cmd     string
	dir     string
	name    string
	version string
	file    string
}

func main() {
	_ = godotenv.Load()

	var f flags
	flag.StringVar(&f.cmd, "cmd", "up", usage)
	flag.StringVar(&f.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&f.name, "name", "", "migration name (for create)")
	flag.StringVar(&f.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.StringVar(&f.file, "file", "", "JSON array of cars (for seed)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "carline-migrate"})
	cfg, err := config.Load()
	if err != nil {
		fail(context.Background(), logg, "load config", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "carline-migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": f.cmd,
		"dir": f.dir,
	})

	// create and validate only touch the filesystem.
	switch f.cmd {
	case "create":
		if f.name == "" {
			fail(ctx, logg, "create", fmt.Errorf("missing -name"))
		}
		path, err := migrate.CreateSQLMigration(f.dir, f.name)
		if err != nil {
			fail(ctx, logg, "create migration", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(f.dir); err != nil {
			fail(ctx, logg, "validate migrations", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		fail(ctx, logg, "connect database", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		fail(ctx, logg, "open sql handle", err)
	}

	if err := run(ctx, cfg, dbClient, sqlDB, f, logg); err != nil {
		_ = dbClient.Close()
		fail(ctx, logg, "goose "+f.cmd, err)
	}
	logg.Info(ctx, "migrate finished")
}

func run(ctx context.Context, cfg *config.Config, dbClient *db.Client, sqlDB *sql.DB, f flags, logg *logger.Logger) error {
	switch f.cmd {
	case "up", "down", "redo", "status":
		return migrate.Run(ctx, sqlDB, f.dir, f.cmd)
	case "reset":
		// Drops every car and ledger row.
		if cfg.App.IsProd() {
			return fmt.Errorf("reset is disabled in %s", cfg.App.Env)
		}
		return migrate.Run(ctx, sqlDB, f.dir, "reset")
	case "version":
		if f.version == "" {
			return fmt.Errorf("missing -version")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, f.dir, f.version)
	case "seed":
		return seed(ctx, dbClient, f.file, logg)
	default:
		return fmt.Errorf("unknown -cmd value %q (%s)", f.cmd, usage)
	}
}

// seed bulk loads cars straight into the database. No observers are
// connected, so nothing is broadcast.
func seed(ctx context.Context, dbClient *db.Client, path string, logg *logger.Logger) error {
	if path == "" {
		return fmt.Errorf("missing -file")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var inputs []cars.NewCarInput
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	svc, err := cars.NewService(cars.ServiceParams{
		Repo:        cars.NewRepository(dbClient.DB()),
		Ledger:      history.NewRepository(dbClient.DB()),
		DB:          dbClient,
		Broadcaster: discard{},
		Logger:      logg,
	})
	if err != nil {
		return err
	}
	n, err := svc.BulkLoad(ctx, inputs)
	if err != nil {
		return err
	}
	fmt.Printf("seeded %d cars\n", n)
	return nil
}

type discard struct{}

func (discard) Broadcast(context.Context, events.CarStatusUpdate) error { return nil }

func fail(ctx context.Context, logg *logger.Logger, step string, err error) {
	logg.Error(ctx, step+" failed", err)
	os.Exit(1)
}
