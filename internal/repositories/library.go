package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/mlsync/internal/models"
)

// LibraryRepository reads and maintains the mirrored library.
type LibraryRepository struct {
	db *sql.DB
}

// NewLibraryRepository creates a new LibraryRepository with the given database connection
func NewLibraryRepository(db *sql.DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

// Begin opens a write context for items of kind, stamping every write with syncedAt.
// The transaction itself starts lazily on the first write.
func (r *LibraryRepository) Begin(ctx context.Context, kind models.Kind, syncedAt int64) (*WriteContext, error) {
	if kind.TypeCode() == 0 {
		return nil, fmt.Errorf("begin write context: unknown kind %q", kind)
	}
	return &WriteContext{db: r.db, kind: kind, syncedAt: syncedAt}, nil
}

// Checksum returns the stored checksum of an item, or "" if it is not stored.
func (r *LibraryRepository) Checksum(ctx context.Context, id int64, kind models.Kind) (models.Checksum, error) {
	return checksum(ctx, r.db, id, kind)
}

// queryer is the read side shared by [sql.DB] and [sql.Tx].
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func checksum(ctx context.Context, q queryer, id int64, kind models.Kind) (models.Checksum, error) {
	var sum string
	err := q.QueryRowContext(ctx, "SELECT checksum FROM items WHERE id = ? AND kind = ?", id, kind).Scan(&sum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read checksum: %w", err)
	}
	return models.Checksum(sum), nil
}

// Watermark returns the last successful sync time of a section's kind, or 0 if it never synced.
func (r *LibraryRepository) Watermark(ctx context.Context, sectionID int64, kind models.Kind) (int64, error) {
	var ts int64
	err := r.db.QueryRowContext(ctx,
		"SELECT last_sync FROM sections WHERE section_id = ? AND kind = ?", sectionID, kind,
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark: %w", err)
	}
	return ts, nil
}

// UpdateWatermark records ts as the last successful sync of a section's kind.
func (r *LibraryRepository) UpdateWatermark(ctx context.Context, sectionID int64, kind models.Kind, ts int64) error {
	query := `
		INSERT INTO sections (section_id, kind, last_sync, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(section_id, kind) DO UPDATE SET last_sync = excluded.last_sync, updated_at = CURRENT_TIMESTAMP
	`
	err := retryBusy(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query, sectionID, kind, ts)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update watermark: %w", err)
	}
	return nil
}

// SaveSection stores a section's display name without touching its watermark.
func (r *LibraryRepository) SaveSection(ctx context.Context, s *models.Section) error {
	query := `
		INSERT INTO sections (section_id, kind, name, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(section_id, kind) DO UPDATE SET name = excluded.name, updated_at = CURRENT_TIMESTAMP
	`
	err := retryBusy(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query, s.ID, s.Kind, s.Name)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save section: %w", err)
	}
	return nil
}

// StaleIDs returns up to limit ids of kind whose last sync is older than before.
func (r *LibraryRepository) StaleIDs(ctx context.Context, kind models.Kind, before int64, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM items WHERE kind = ? AND last_sync < ? ORDER BY id LIMIT ?", kind, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale items: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stale item: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SectionState is a stored section with its watermark and item count.
type SectionState struct {
	SectionID int64       `json:"section_id"`
	Kind      models.Kind `json:"kind"`
	Name      string      `json:"name"`
	LastSync  int64       `json:"last_sync"`
	Items     int         `json:"items"`
}

// Sections lists every stored (section, kind) pair.
func (r *LibraryRepository) Sections(ctx context.Context) ([]SectionState, error) {
	query := `
		SELECT s.section_id, s.kind, s.name, s.last_sync,
			(SELECT COUNT(*) FROM items i WHERE i.section_id = s.section_id AND i.kind = s.kind)
		FROM sections s
		ORDER BY s.section_id, s.kind
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	var states []SectionState
	for rows.Next() {
		var s SectionState
		if err := rows.Scan(&s.SectionID, &s.Kind, &s.Name, &s.LastSync, &s.Items); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// StoredItem is an item row as persisted.
type StoredItem struct {
	ID        int64
	Kind      models.Kind
	SectionID int64
	ParentID  int64
	Title     string
	Index     int64
	Checksum  models.Checksum
	LastSync  int64
	UserData  models.UserData
	Document  string
}

// Item loads one stored item, or returns [sql.ErrNoRows].
func (r *LibraryRepository) Item(ctx context.Context, id int64, kind models.Kind) (*StoredItem, error) {
	query := `
		SELECT id, kind, section_id, COALESCE(parent_id, 0), title, COALESCE(item_index, 0), checksum, last_sync,
			view_count, COALESCE(last_viewed_at, 0), view_offset, document
		FROM items WHERE id = ? AND kind = ?
	`
	var it StoredItem
	err := r.db.QueryRowContext(ctx, query, id, kind).Scan(
		&it.ID, &it.Kind, &it.SectionID, &it.ParentID, &it.Title, &it.Index, &it.Checksum, &it.LastSync,
		&it.UserData.ViewCount, &it.UserData.LastViewedAt, &it.UserData.ViewOffset, &it.Document,
	)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// Count is the number of stored items of kind.
func (r *LibraryRepository) Count(ctx context.Context, kind models.Kind) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE kind = ?", kind).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

// CollectionIDs lists the collections an item is linked to.
func (r *LibraryRepository) CollectionIDs(ctx context.Context, itemID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT collection_id FROM item_collections WHERE item_id = ? ORDER BY collection_id", itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list item collections: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
