package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/mlsync/internal/models"
	"github.com/desertthunder/mlsync/internal/shared"
	tu "github.com/desertthunder/mlsync/internal/testing"
	"github.com/mattn/go-sqlite3"
)

func movieSection() *models.Section {
	return models.NewSection(models.LibrarySection{ID: 1, Title: "Movies", Type: "movie"}, models.KindMovie, 0)
}

func TestLibraryRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Checksum of unknown item is empty", func(t *testing.T) {
		repo := NewLibraryRepository(tu.NewTestDB(t))

		sum, err := repo.Checksum(ctx, 42, models.KindMovie)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sum != "" {
			t.Errorf("expected empty checksum, got %q", sum)
		}
	})

	t.Run("AddOrUpdate stores document and checksum", func(t *testing.T) {
		repo := NewLibraryRepository(tu.NewTestDB(t))
		section := movieSection()
		doc := tu.Doc(10, models.KindMovie, 1700000000, map[string]any{"viewCount": 3})

		w, err := repo.Begin(ctx, models.KindMovie, 1800000000)
		if err != nil {
			t.Fatalf("failed to begin: %v", err)
		}
		if err := w.AddOrUpdate(ctx, models.FetchResult{ID: 10, Document: doc, Section: section}); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		if w.Pending() != 1 {
			t.Errorf("expected 1 pending write, got %d", w.Pending())
		}
		if err := w.Commit(); err != nil {
			t.Fatalf("failed to commit: %v", err)
		}

		sum, err := repo.Checksum(ctx, 10, models.KindMovie)
		if err != nil {
			t.Fatalf("failed to read checksum: %v", err)
		}
		if sum != doc.Checksum() {
			t.Errorf("expected checksum %q, got %q", doc.Checksum(), sum)
		}

		item, err := repo.Item(ctx, 10, models.KindMovie)
		if err != nil {
			t.Fatalf("failed to load item: %v", err)
		}
		if item.LastSync != 1800000000 {
			t.Errorf("expected last_sync 1800000000, got %d", item.LastSync)
		}
		if item.SectionID != 1 {
			t.Errorf("expected section 1, got %d", item.SectionID)
		}
		if item.UserData.ViewCount != 3 {
			t.Errorf("expected view count 3, got %d", item.UserData.ViewCount)
		}
	})

	t.Run("AddOrUpdate rejects placeholders", func(t *testing.T) {
		repo := NewLibraryRepository(tu.NewTestDB(t))
		w, _ := repo.Begin(ctx, models.KindMovie, 1)
		defer w.Rollback()

		err := w.AddOrUpdate(ctx, models.FetchResult{ID: 5, Section: movieSection(), Err: shared.ErrItemNotFound})
		if !errors.Is(err, shared.ErrInvalidDocument) {
			t.Errorf("expected ErrInvalidDocument, got %v", err)
		}
	})

	t.Run("AddOrUpdate writes album children", func(t *testing.T) {
		repo := NewLibraryRepository(tu.NewTestDB(t))
		section := models.NewSection(models.LibrarySection{ID: 3, Title: "Music"}, models.KindAlbum, 0)
		album := tu.Doc(100, models.KindAlbum, 10, nil)
		songs := []*models.Document{
			tu.Doc(101, models.KindSong, 10, map[string]any{"index": 1}),
			tu.Doc(102, models.KindSong, 10, map[string]any{"index": 2}),
		}

		w, _ := repo.Begin(ctx, models.KindAlbum, 50)
		if err := w.AddOrUpdate(ctx, models.FetchResult{ID: 100, Document: album, Children: songs, Section: section}); err != nil {
			t.Fatalf("failed to write album: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("failed to close: %v", err)
		}

		song, err := repo.Item(ctx, 102, models.KindSong)
		if err != nil {
			t.Fatalf("failed to load song: %v", err)
		}
		if song.ParentID != 100 {
			t.Errorf("expected parent 100, got %d", song.ParentID)
		}
		if song.Index != 2 {
			t.Errorf("expected index 2, got %d", song.Index)
		}
	})

	t.Run("AddOrUpdate links collections", func(t *testing.T) {
		repo := NewLibraryRepository(tu.NewTestDB(t))
		doc := tu.Doc(10, models.KindMovie, 5, nil)
		collections := []models.Collection{
			{ID: 900, Title: "Trilogy", Document: tu.Doc(900, models.KindMovie, 1, nil)},
			{ID: 901, Title: "Favourites"},
		}

		w, _ := repo.Begin(ctx, models.KindMovie, 50)
		res := models.FetchResult{ID: 10, Document: doc, Collections: collections, Section: movieSection()}
		if err := w.AddOrUpdate(ctx, res); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		res.Collections = collections[1:]
		if err := w.AddOrUpdate(ctx, res); err != nil {
			t.Fatalf("failed to rewrite: %v", err)
		}
		w.Close()

		ids, err := repo.CollectionIDs(ctx, 10)
		if err != nil {
			t.Fatalf("failed to list collections: %v", err)
		}
		if len(ids) != 1 || ids[0] != 901 {
			t.Errorf("expected [901], got %v", ids)
		}
	})

	t.Run("Rollback discards writes", func(t *testing.T) {
		repo := NewLibraryRepository(tu.NewTestDB(t))
		w, _ := repo.Begin(ctx, models.KindMovie, 50)
		w.AddOrUpdate(ctx, models.FetchResult{ID: 7, Document: tu.Doc(7, models.KindMovie, 1, nil), Section: movieSection()})
		if err := w.Rollback(); err != nil {
			t.Fatalf("failed to roll back: %v", err)
		}

		if _, err := repo.Item(ctx, 7, models.KindMovie); !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("expected ErrNoRows, got %v", err)
		}
	})

	t.Run("Commit starts a new transaction on next write", func(t *testing.T) {
		repo := NewLibraryRepository(tu.NewTestDB(t))
		w, _ := repo.Begin(ctx, models.KindMovie, 50)
		for i := int64(1); i <= 3; i++ {
			doc := tu.Doc(i, models.KindMovie, 1, nil)
			if err := w.AddOrUpdate(ctx, models.FetchResult{ID: i, Document: doc, Section: movieSection()}); err != nil {
				t.Fatalf("failed to write %d: %v", i, err)
			}
			if err := w.Commit(); err != nil {
				t.Fatalf("failed to commit %d: %v", i, err)
			}
		}

		n, err := repo.Count(ctx, models.KindMovie)
		if err != nil {
			t.Fatalf("failed to count: %v", err)
		}
		if n != 3 {
			t.Errorf("expected 3 items, got %d", n)
		}
	})
}

func TestWriteContext_UserData(t *testing.T) {
	ctx := context.Background()
	repo := NewLibraryRepository(tu.NewTestDB(t))

	w, _ := repo.Begin(ctx, models.KindEpisode, 50)
	section := models.NewSection(models.LibrarySection{ID: 2, Title: "TV"}, models.KindEpisode, 0)
	w.AddOrUpdate(ctx, models.FetchResult{ID: 1, Document: tu.Doc(1, models.KindEpisode, 1, nil), Section: section})
	w.Close()

	tests := []struct {
		name    string
		stub    models.ItemStub
		updated bool
	}{
		{"stored item", models.ItemStub{ID: 1, UserData: models.UserData{ViewCount: 4, LastViewedAt: 99}}, true},
		{"missing item", models.ItemStub{ID: 2, UserData: models.UserData{ViewCount: 1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := repo.Begin(ctx, models.KindEpisode, 60)
			defer w.Close()

			ok, err := w.UpdateUserData(ctx, tt.stub)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.updated {
				t.Errorf("expected updated=%v, got %v", tt.updated, ok)
			}
		})
	}

	item, err := repo.Item(ctx, 1, models.KindEpisode)
	if err != nil {
		t.Fatalf("failed to load item: %v", err)
	}
	if item.UserData.ViewCount != 4 || item.UserData.LastViewedAt != 99 {
		t.Errorf("unexpected user data: %+v", item.UserData)
	}
	if item.LastSync != 50 {
		t.Errorf("user data update must not touch last_sync, got %d", item.LastSync)
	}
}

func TestWriteContext_AddStub(t *testing.T) {
	ctx := context.Background()
	repo := NewLibraryRepository(tu.NewTestDB(t))
	w, _ := repo.Begin(ctx, models.KindSong, 70)

	if err := w.AddStub(ctx, models.ItemStub{ID: 3}, 4); !errors.Is(err, shared.ErrInvalidDocument) {
		t.Errorf("expected ErrInvalidDocument for stub without entry, got %v", err)
	}

	stub := models.StubFromDocument(tu.Doc(3, models.KindSong, 12, map[string]any{"parentRatingKey": "30"}))
	if err := w.AddStub(ctx, stub, 4); err != nil {
		t.Fatalf("failed to add stub: %v", err)
	}
	w.Close()

	item, err := repo.Item(ctx, 3, models.KindSong)
	if err != nil {
		t.Fatalf("failed to load item: %v", err)
	}
	if item.ParentID != 30 || item.SectionID != 4 || item.LastSync != 70 {
		t.Errorf("unexpected item: %+v", item)
	}
}

func TestStaleIDsAndRemove(t *testing.T) {
	ctx := context.Background()
	repo := NewLibraryRepository(tu.NewTestDB(t))

	old, _ := repo.Begin(ctx, models.KindMovie, 100)
	for i := int64(1); i <= 5; i++ {
		old.AddOrUpdate(ctx, models.FetchResult{ID: i, Document: tu.Doc(i, models.KindMovie, 1, nil), Section: movieSection()})
	}
	old.Close()

	fresh, _ := repo.Begin(ctx, models.KindMovie, 200)
	if err := fresh.MarkSynced(ctx, 2); err != nil {
		t.Fatalf("failed to mark synced: %v", err)
	}
	fresh.Close()

	ids, err := repo.StaleIDs(ctx, models.KindMovie, 200, 3)
	if err != nil {
		t.Fatalf("failed to query stale ids: %v", err)
	}
	if fmt.Sprint(ids) != "[1 3 4]" {
		t.Errorf("expected [1 3 4], got %v", ids)
	}

	rm, _ := repo.Begin(ctx, models.KindMovie, 200)
	for _, id := range ids {
		if err := rm.Remove(ctx, id); err != nil {
			t.Fatalf("failed to remove %d: %v", id, err)
		}
	}
	rm.Close()

	ids, _ = repo.StaleIDs(ctx, models.KindMovie, 200, 10)
	if fmt.Sprint(ids) != "[5]" {
		t.Errorf("expected [5], got %v", ids)
	}
}

func TestPruneCollections(t *testing.T) {
	ctx := context.Background()
	repo := NewLibraryRepository(tu.NewTestDB(t))

	w, _ := repo.Begin(ctx, models.KindMovie, 100)
	for _, res := range []models.FetchResult{
		{ID: 1, Document: tu.Doc(1, models.KindMovie, 1, nil), Section: movieSection(),
			Collections: []models.Collection{{ID: 900, Title: "Trilogy"}}},
		{ID: 2, Document: tu.Doc(2, models.KindMovie, 1, nil), Section: movieSection(),
			Collections: []models.Collection{{ID: 900, Title: "Trilogy"}, {ID: 901, Title: "Favourites"}}},
	} {
		if err := w.AddOrUpdate(ctx, res); err != nil {
			t.Fatalf("failed to write %d: %v", res.ID, err)
		}
	}
	w.Close()

	collectionIDs := func() string {
		t.Helper()
		rows, err := repo.db.QueryContext(ctx, "SELECT id FROM collections ORDER BY id")
		if err != nil {
			t.Fatalf("failed to list collections: %v", err)
		}
		defer rows.Close()
		var ids []int64
		for rows.Next() {
			var id int64
			rows.Scan(&id)
			ids = append(ids, id)
		}
		return fmt.Sprint(ids)
	}

	tc := []struct {
		name   string
		remove int64
		pruned int
		want   string
	}{
		{name: "shared collection survives", remove: 1, pruned: 0, want: "[900 901]"},
		{name: "last member removed", remove: 2, pruned: 2, want: "[]"},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			rm, _ := repo.Begin(ctx, models.KindMovie, 200)
			if err := rm.Remove(ctx, tt.remove); err != nil {
				t.Fatalf("failed to remove %d: %v", tt.remove, err)
			}
			n, err := rm.PruneCollections(ctx)
			if err != nil {
				t.Fatalf("PruneCollections() failed: %v", err)
			}
			if err := rm.Close(); err != nil {
				t.Fatalf("failed to commit: %v", err)
			}
			if n != tt.pruned {
				t.Errorf("expected %d pruned, got %d", tt.pruned, n)
			}
			if got := collectionIDs(); got != tt.want {
				t.Errorf("expected collections %s, got %s", tt.want, got)
			}
		})
	}
}

func TestWriteContext_Checksum(t *testing.T) {
	ctx := context.Background()
	db := tu.NewTestDB(t)
	db.SetMaxOpenConns(1)
	repo := NewLibraryRepository(db)

	w, _ := repo.Begin(ctx, models.KindMovie, 100)
	if sum, err := w.Checksum(ctx, 7, models.KindMovie); err != nil || sum != "" {
		t.Fatalf("Checksum() without a transaction = %q, %v", sum, err)
	}

	doc := tu.Doc(7, models.KindMovie, 42, nil)
	if err := w.AddOrUpdate(ctx, models.FetchResult{ID: 7, Document: doc, Section: movieSection()}); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	// The only connection belongs to the open transaction.
	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	sum, err := w.Checksum(readCtx, 7, models.KindMovie)
	if err != nil {
		t.Fatalf("Checksum() inside the transaction failed: %v", err)
	}
	if sum != doc.Checksum() {
		t.Errorf("expected uncommitted checksum %q, got %q", doc.Checksum(), sum)
	}
	w.Rollback()
}

func TestWatermarks(t *testing.T) {
	ctx := context.Background()
	repo := NewLibraryRepository(tu.NewTestDB(t))

	if err := repo.SaveSection(ctx, movieSection()); err != nil {
		t.Fatalf("failed to save section: %v", err)
	}
	if ts, _ := repo.Watermark(ctx, 1, models.KindMovie); ts != 0 {
		t.Errorf("expected zero watermark, got %d", ts)
	}

	if err := repo.UpdateWatermark(ctx, 1, models.KindMovie, 1234); err != nil {
		t.Fatalf("failed to update watermark: %v", err)
	}
	if err := repo.UpdateWatermark(ctx, 1, models.KindShow, 99); err != nil {
		t.Fatalf("failed to update watermark: %v", err)
	}

	if ts, _ := repo.Watermark(ctx, 1, models.KindMovie); ts != 1234 {
		t.Errorf("expected 1234, got %d", ts)
	}

	states, err := repo.Sections(ctx)
	if err != nil {
		t.Fatalf("failed to list sections: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 section states, got %d", len(states))
	}
	if states[0].Name != "Movies" || states[0].LastSync != 1234 {
		t.Errorf("unexpected first state: %+v", states[0])
	}
}

func TestRunRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository(tu.NewTestDB(t))

	first := &models.SyncRun{StartedAt: 100}
	second := &models.SyncRun{StartedAt: 200, Repair: true}
	for _, run := range []*models.SyncRun{first, second} {
		if err := repo.Start(ctx, run); err != nil {
			t.Fatalf("failed to start run: %v", err)
		}
		if run.ID == "" {
			t.Fatal("run id should be assigned")
		}
	}

	second.FinishedAt = 250
	second.Successful = true
	second.ItemsWritten = 12
	if err := repo.Finish(ctx, second); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	got, err := repo.Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if !got.Successful || !got.Repair || got.ItemsWritten != 12 || got.FinishedAt != 250 {
		t.Errorf("unexpected run: %+v", got)
	}

	runs, err := repo.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != second.ID {
		t.Errorf("expected newest run first, got %+v", runs)
	}

	if err := repo.Finish(ctx, &models.SyncRun{ID: "missing"}); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected ErrNoRows for unknown run, got %v", err)
	}
}

func TestRetryBusy(t *testing.T) {
	ctx := context.Background()
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}

	t.Run("retries contention", func(t *testing.T) {
		calls := 0
		err := retryBusy(ctx, func() error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("gives up with ErrWriteConflict", func(t *testing.T) {
		calls := 0
		err := retryBusy(ctx, func() error {
			calls++
			return busy
		})
		if !errors.Is(err, shared.ErrWriteConflict) {
			t.Errorf("expected ErrWriteConflict, got %v", err)
		}
		if calls != busyRetries {
			t.Errorf("expected %d calls, got %d", busyRetries, calls)
		}
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := retryBusy(ctx, func() error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})
}
