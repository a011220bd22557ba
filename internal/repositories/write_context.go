package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/mlsync/internal/models"
	"github.com/desertthunder/mlsync/internal/shared"
)

// WriteContext batches writes for one kind into a transaction.
//
// A transaction is opened on the first write and ended by [WriteContext.Commit]; the next write
// opens a new one. It is not safe for concurrent use.
type WriteContext struct {
	db       *sql.DB
	kind     models.Kind
	syncedAt int64

	tx      *sql.Tx
	pending int
}

// Kind is the kind this context writes.
func (w *WriteContext) Kind() models.Kind { return w.kind }

// Pending is the number of writes since the last commit.
func (w *WriteContext) Pending() int { return w.pending }

func (w *WriteContext) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if w.tx == nil {
		tx, err := w.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		w.tx = tx
	}

	var res sql.Result
	err := retryBusy(ctx, func() error {
		var err error
		res, err = w.tx.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// Checksum returns the stored checksum of an item, or "" if it is not stored.
// It reads through the open transaction, if any, so it never waits on a connection this
// context already holds and it sees writes that are not committed yet.
func (w *WriteContext) Checksum(ctx context.Context, id int64, kind models.Kind) (models.Checksum, error) {
	if w.tx == nil {
		return checksum(ctx, w.db, id, kind)
	}
	return checksum(ctx, w.tx, id, kind)
}

const upsertItem = `
	INSERT INTO items (id, kind, section_id, parent_id, title, item_index, checksum, last_sync,
		view_count, last_viewed_at, view_offset, document)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id, kind) DO UPDATE SET
		section_id = excluded.section_id,
		parent_id = excluded.parent_id,
		title = excluded.title,
		item_index = excluded.item_index,
		checksum = excluded.checksum,
		last_sync = excluded.last_sync,
		view_count = excluded.view_count,
		last_viewed_at = excluded.last_viewed_at,
		view_offset = excluded.view_offset,
		document = excluded.document
`

func (w *WriteContext) writeDocument(ctx context.Context, doc *models.Document, kind models.Kind, sectionID, parentID int64) error {
	ud := doc.UserData()
	var parent, lastViewed any
	if parentID != 0 {
		parent = parentID
	}
	if ud.LastViewedAt != 0 {
		lastViewed = ud.LastViewedAt
	}

	_, err := w.exec(ctx, upsertItem,
		doc.ID(), kind, sectionID, parent, doc.Title(), doc.Index(), doc.Checksum(), w.syncedAt,
		ud.ViewCount, lastViewed, ud.ViewOffset, doc.Raw(),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s %d: %w", kind, doc.ID(), err)
	}
	return nil
}

// AddOrUpdate writes a fetched item together with its children and collection links.
func (w *WriteContext) AddOrUpdate(ctx context.Context, res models.FetchResult) error {
	if res.Failed() {
		return fmt.Errorf("%w: item %d has no document", shared.ErrInvalidDocument, res.ID)
	}
	doc := res.Document
	sectionID := res.Section.ID

	if err := w.writeDocument(ctx, doc, w.kind, sectionID, doc.ParentID()); err != nil {
		return err
	}

	childKind := w.kind.ChildKind()
	for _, child := range res.Children {
		if childKind == "" {
			break
		}
		if err := w.writeDocument(ctx, child, childKind, sectionID, doc.ID()); err != nil {
			return err
		}
	}

	if w.kind.HasCollections() {
		if err := w.linkCollections(ctx, doc.ID(), sectionID, res.Collections); err != nil {
			return err
		}
	}

	w.pending++
	return nil
}

func (w *WriteContext) linkCollections(ctx context.Context, itemID, sectionID int64, collections []models.Collection) error {
	if _, err := w.exec(ctx, "DELETE FROM item_collections WHERE item_id = ?", itemID); err != nil {
		return fmt.Errorf("failed to clear collections of %d: %w", itemID, err)
	}

	for _, c := range collections {
		var raw string
		if c.Document != nil {
			raw = c.Document.Raw()
		}
		_, err := w.exec(ctx, `
			INSERT INTO collections (id, section_id, title, document, last_sync) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET title = excluded.title, document = excluded.document, last_sync = excluded.last_sync
		`, c.ID, sectionID, c.Title, raw, w.syncedAt)
		if err != nil {
			return fmt.Errorf("failed to write collection %d: %w", c.ID, err)
		}

		if _, err := w.exec(ctx,
			"INSERT OR IGNORE INTO item_collections (item_id, collection_id) VALUES (?, ?)", itemID, c.ID,
		); err != nil {
			return fmt.Errorf("failed to link collection %d: %w", c.ID, err)
		}
	}
	return nil
}

// AddStub inserts an item from its listing entry. Used when the play-state pass meets an item
// that is not stored yet.
func (w *WriteContext) AddStub(ctx context.Context, stub models.ItemStub, sectionID int64) error {
	if stub.Entry == nil {
		return fmt.Errorf("%w: stub %d has no listing entry", shared.ErrInvalidDocument, stub.ID)
	}
	if err := w.writeDocument(ctx, stub.Entry, w.kind, sectionID, stub.Entry.ParentID()); err != nil {
		return err
	}
	w.pending++
	return nil
}

// UpdateUserData refreshes play-state fields. It reports false if the item is not stored.
func (w *WriteContext) UpdateUserData(ctx context.Context, stub models.ItemStub) (bool, error) {
	var lastViewed any
	if stub.UserData.LastViewedAt != 0 {
		lastViewed = stub.UserData.LastViewedAt
	}

	res, err := w.exec(ctx,
		"UPDATE items SET view_count = ?, last_viewed_at = ?, view_offset = ? WHERE id = ? AND kind = ?",
		stub.UserData.ViewCount, lastViewed, stub.UserData.ViewOffset, stub.ID, w.kind,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update user data of %d: %w", stub.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		w.pending++
	}
	return n > 0, nil
}

// MarkSynced stamps an item with this context's sync time so the deletion pass keeps it.
func (w *WriteContext) MarkSynced(ctx context.Context, id int64) error {
	if _, err := w.exec(ctx, "UPDATE items SET last_sync = ? WHERE id = ? AND kind = ?", w.syncedAt, id, w.kind); err != nil {
		return fmt.Errorf("failed to mark %d synced: %w", id, err)
	}
	return nil
}

// Remove deletes an item and its collection links.
func (w *WriteContext) Remove(ctx context.Context, id int64) error {
	if _, err := w.exec(ctx, "DELETE FROM items WHERE id = ? AND kind = ?", id, w.kind); err != nil {
		return fmt.Errorf("failed to remove %s %d: %w", w.kind, id, err)
	}
	if _, err := w.exec(ctx, "DELETE FROM item_collections WHERE item_id = ?", id); err != nil {
		return fmt.Errorf("failed to unlink %d: %w", id, err)
	}
	w.pending++
	return nil
}

// PruneCollections deletes collections that no stored item links to. It returns how many went.
func (w *WriteContext) PruneCollections(ctx context.Context) (int, error) {
	res, err := w.exec(ctx, `
		DELETE FROM collections
		WHERE id NOT IN (SELECT DISTINCT collection_id FROM item_collections)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune collections: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.pending++
	}
	return int(n), nil
}

// Commit ends the current transaction, if any.
func (w *WriteContext) Commit() error {
	if w.tx == nil {
		return nil
	}
	tx := w.tx
	w.tx = nil
	w.pending = 0
	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return fmt.Errorf("failed to commit: %w: %w", shared.ErrWriteConflict, err)
		}
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Rollback discards uncommitted writes.
func (w *WriteContext) Rollback() error {
	if w.tx == nil {
		return nil
	}
	tx := w.tx
	w.tx = nil
	w.pending = 0
	return tx.Rollback()
}

// Close commits what is pending and releases the context.
func (w *WriteContext) Close() error {
	return w.Commit()
}
