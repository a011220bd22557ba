package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/mlsync/internal/models"
	"github.com/desertthunder/mlsync/internal/shared"
)

// RunRepository records sync runs.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new RunRepository with the given database connection
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Start inserts a run, assigning an id if it has none.
func (r *RunRepository) Start(ctx context.Context, run *models.SyncRun) error {
	if run.ID == "" {
		run.ID = shared.GenerateID()
	}

	err := retryBusy(ctx, func() error {
		_, err := r.db.ExecContext(ctx,
			"INSERT INTO sync_runs (id, started_at, repair) VALUES (?, ?, ?)",
			run.ID, run.StartedAt, boolInt(run.Repair),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// Finish stores the outcome of a run.
func (r *RunRepository) Finish(ctx context.Context, run *models.SyncRun) error {
	query := `
		UPDATE sync_runs
		SET finished_at = ?, successful = ?, canceled = ?, items_written = ?, items_deleted = ?, message = ?
		WHERE id = ?
	`
	var affected int64
	err := retryBusy(ctx, func() error {
		res, err := r.db.ExecContext(ctx, query,
			run.FinishedAt, boolInt(run.Successful), boolInt(run.Canceled),
			run.ItemsWritten, run.ItemsDeleted, run.Message, run.ID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("finish run %s: %w", run.ID, sql.ErrNoRows)
	}
	return nil
}

const selectRun = `
	SELECT id, started_at, COALESCE(finished_at, 0), repair, successful, canceled, items_written, items_deleted, message
	FROM sync_runs
`

func scanRun(row interface{ Scan(...any) error }) (*models.SyncRun, error) {
	var run models.SyncRun
	err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Repair, &run.Successful, &run.Canceled,
		&run.ItemsWritten, &run.ItemsDeleted, &run.Message)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Get loads one run by id.
func (r *RunRepository) Get(ctx context.Context, id string) (*models.SyncRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, selectRun+" WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// Recent lists the latest runs, newest first.
func (r *RunRepository) Recent(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	rows, err := r.db.QueryContext(ctx, selectRun+" ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
