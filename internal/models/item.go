package models

import (
	"context"
	"strconv"
)

// Checksum is an opaque change-detection key. Equal checksums mean an unchanged item.
type Checksum string

// NewChecksum derives a checksum from an item id and its last-modified marker.
func NewChecksum(id, lastModified int64) Checksum {
	return Checksum(strconv.FormatInt(id, 10) + ":" + strconv.FormatInt(lastModified, 10))
}

// UserData holds the play-state fields the checksum ignores.
type UserData struct {
	ViewCount    int64 `json:"view_count"`
	LastViewedAt int64 `json:"last_viewed_at,omitempty"`
	ViewOffset   int64 `json:"view_offset"`
}

// ItemStub is one entry of a section listing.
type ItemStub struct {
	ID        int64
	UpdatedAt int64
	AddedAt   int64
	UserData  UserData
	// Entry is the listing element itself. It is enough to insert the item when the full document is not needed.
	Entry *Document
}

// StubFromDocument builds a stub out of a listing element.
func StubFromDocument(d *Document) ItemStub {
	return ItemStub{
		ID:        d.ID(),
		UpdatedAt: d.UpdatedAt(),
		AddedAt:   d.AddedAt(),
		UserData:  d.UserData(),
		Entry:     d,
	}
}

// LastModified is updatedAt, falling back to addedAt and then [DefaultModified].
func (s ItemStub) LastModified() int64 { return lastModified(s.UpdatedAt, s.AddedAt) }

// Checksum is the change-detection key for this stub.
func (s ItemStub) Checksum() Checksum { return NewChecksum(s.ID, s.LastModified()) }

// ItemIterator walks the items of a section listing.
type ItemIterator interface {
	// Total is the item count the server declared for the listing.
	Total() int
	// Next returns the next stub, or ok=false once the listing is exhausted.
	Next(ctx context.Context) (stub ItemStub, ok bool, err error)
}

// SliceIterator serves stubs from memory.
type SliceIterator struct {
	stubs []ItemStub
	total int
	pos   int
}

// NewSliceIterator iterates stubs. A negative total declares len(stubs).
func NewSliceIterator(stubs []ItemStub, total int) *SliceIterator {
	if total < 0 {
		total = len(stubs)
	}
	return &SliceIterator{stubs: stubs, total: total}
}

func (it *SliceIterator) Total() int { return it.total }

func (it *SliceIterator) Next(ctx context.Context) (ItemStub, bool, error) {
	if err := ctx.Err(); err != nil {
		return ItemStub{}, false, err
	}
	if it.pos >= len(it.stubs) {
		return ItemStub{}, false, nil
	}
	s := it.stubs[it.pos]
	it.pos++
	return s, true, nil
}

// FetchRequest asks the fetch pool to resolve one item.
type FetchRequest struct {
	Index   int
	ID      int64
	Section *Section
}

// Collection is a collection document resolved for an item.
type Collection struct {
	ID       int64
	Title    string
	Document *Document
}

// FetchResult is one resolved item. A result with Err set is a placeholder that keeps
// router counts and ordering moving; the writer skips it.
type FetchResult struct {
	Index       int
	ID          int64
	Document    *Document
	Children    []*Document
	Collections []Collection
	Section     *Section
	Err         error
}

// Failed reports whether the result is a placeholder for a failed fetch.
func (r FetchResult) Failed() bool { return r.Err != nil || r.Document == nil }
