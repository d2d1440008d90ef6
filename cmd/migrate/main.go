// Package main applies the embedded schema migrations.
//
//	migrate            apply all pending migrations
//	migrate down <n>   roll back n migrations
//	migrate force <v>  mark version v as applied after a failed run
package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/bootstrap"
	"github.com/medibook/go-appointments/internal/config"
	"github.com/medibook/go-appointments/migrations"
)

func main() {
	cfg := config.Load()

	logger, err := bootstrap.Logger(cfg, "migrate")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Fatal("ping db", zap.Error(err))
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logger.Fatal("db driver", zap.Error(err))
	}
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Fatal("source driver", zap.Error(err))
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		logger.Fatal("create migrator", zap.Error(err))
	}
	defer func() { _, _ = m.Close() }()

	if len(os.Args) >= 3 {
		n, err := strconv.Atoi(os.Args[2])
		if err != nil {
			logger.Fatal("invalid argument", zap.String("arg", os.Args[2]), zap.Error(err))
		}
		switch os.Args[1] {
		case "force":
			if err := m.Force(n); err != nil {
				logger.Fatal("force version", zap.Error(err))
			}
			logger.Info("forced version", zap.Int("version", n))
			return
		case "down":
			if err := m.Steps(-n); err != nil {
				logger.Fatal("migrate down", zap.Error(err))
			}
			logger.Info("rolled back", zap.Int("steps", n))
			return
		default:
			logger.Fatal("unknown command", zap.String("command", os.Args[1]))
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("migrate up", zap.Error(err))
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Fatal("read version", zap.Error(err))
	}
	logger.Info("migrations complete", zap.Uint("version", version), zap.Bool("dirty", dirty))
}
