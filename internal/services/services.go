package services

import (
	"context"

	"github.com/desertthunder/mlsync/internal/models"
)

// MediaServer is the remote library being mirrored.
type MediaServer interface {
	// Sections lists the server's library sections.
	Sections(ctx context.Context) ([]models.LibrarySection, error)

	// Enumerate lists the items of one kind in a section. A positive since limits the listing
	// to items updated at or after that unix time.
	Enumerate(ctx context.Context, section *models.Section, since int64) (models.ItemIterator, error)

	// Fetch retrieves the full metadata document for one item.
	Fetch(ctx context.Context, id int64) (*models.Document, error)

	// FetchChildren retrieves the child documents of a container item, in server order.
	FetchChildren(ctx context.Context, id int64) ([]*models.Document, error)

	// FetchCollectionMembers maps collection tag ids to collection item ids for a section.
	FetchCollectionMembers(ctx context.Context, sectionID int64) (map[int64]int64, error)

	// Name identifies the server in logs.
	Name() string
}

// PlaybackMonitor reports whether media is currently playing.
type PlaybackMonitor interface {
	IsPlaying(ctx context.Context) bool
}
