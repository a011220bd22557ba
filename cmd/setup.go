package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/mlsync/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupConfig writes the default config to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	if err := shared.CreateConfigFile(r.configPath); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", r.configPath)
	return r.writePlain("✓ Wrote %s. Set server.url and server.token before syncing.\n", r.configPath)
}

// SetupDatabase initializes the database and runs migrations.
//
// With --status it only reports migration state; with --rollback it undoes the newest migration.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	config := r.Config()

	db, closeDB, err := r.openRaw()
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer closeDB()

	switch {
	case cmd.Bool("status"):
		states, err := shared.MigrationStatus(db)
		if err != nil {
			return err
		}
		for _, s := range states {
			mark := " "
			if s.Applied {
				mark = "✓"
			}
			r.writePlain("%s %04d %s\n", mark, s.Version, s.Name)
		}
		return nil

	case cmd.Bool("rollback"):
		r.logger.Info("rolling back newest migration", "path", config.Database.Path)
		if err := shared.RollbackMigration(db); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
		r.logger.Info("rollback complete")
		return nil
	}

	r.logger.Info("running database migrations", "path", config.Database.Path)
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	r.logger.Infof("setup complete for database: %v", config.Database.Path)
	return nil
}

// openRaw opens the database without migrating it. The injected database is never closed.
func (r *Runner) openRaw() (*sql.DB, func(), error) {
	r.mu.RLock()
	injected := r.db
	r.mu.RUnlock()
	if injected != nil {
		return injected, func() {}, nil
	}

	cfg := r.Config().Database
	db, err := shared.OpenDatabase(cfg.Path, cfg.BusyTimeoutMS)
	if err != nil {
		return nil, nil, err
	}
	shared.ConfigureDatabase(db, cfg.MaxOpenConns, cfg.MaxIdleConns)
	return db, func() { db.Close() }, nil
}
