package models

import (
	"fmt"
	"sync/atomic"
)

// LibrarySection is a library as listed by the media server.
type LibrarySection struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// Section is one (library, kind) pair processed by a sync run.
//
// The success flag is written by fetch workers and read by the orchestrator, so it is atomic.
// Everything else belongs to the orchestrator goroutine.
type Section struct {
	ID        int64
	Name      string
	Kind      Kind
	Total     int
	Watermark int64

	Iterator ItemIterator

	// Collections is populated by the fetch pool under its collection lock.
	Collections *CollectionIndex

	// Processed counts results drained for this section in the current pass.
	Processed int

	failed atomic.Bool
}

// NewSection creates a section for lib holding items of the given kind.
func NewSection(lib LibrarySection, kind Kind, watermark int64) *Section {
	return &Section{
		ID:          lib.ID,
		Name:        lib.Title,
		Kind:        kind,
		Watermark:   watermark,
		Collections: &CollectionIndex{},
	}
}

// Key identifies the section within a run.
func (s *Section) Key() string {
	return fmt.Sprintf("%d/%s", s.ID, s.Kind)
}

func (s *Section) String() string {
	return fmt.Sprintf("%s (%s)", s.Name, s.Kind)
}

// MarkFailed clears the success flag for the rest of the run.
func (s *Section) MarkFailed() { s.failed.Store(true) }

// Successful reports whether no failure has been recorded for this section.
func (s *Section) Successful() bool { return !s.failed.Load() }

// CollectionIndex caches collection lookups for one section.
type CollectionIndex struct {
	// Loaded is set once Members has been fetched, even if the section has no collections.
	Loaded bool
	// Members maps a collection tag id to the collection's item id.
	Members map[int64]int64
	// Docs holds collection documents already fetched this run, by collection item id.
	Docs map[int64]*Document
}

// SyncRun is the persisted summary of one sync run.
type SyncRun struct {
	ID           string `json:"id"`
	StartedAt    int64  `json:"started_at"`
	FinishedAt   int64  `json:"finished_at,omitempty"`
	Repair       bool   `json:"repair"`
	Successful   bool   `json:"successful"`
	Canceled     bool   `json:"canceled"`
	ItemsWritten int    `json:"items_written"`
	ItemsDeleted int    `json:"items_deleted"`
	Message      string `json:"message,omitempty"`
}
