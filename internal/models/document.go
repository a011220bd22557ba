package models

import (
	"fmt"

	"github.com/desertthunder/mlsync/internal/shared"
	"github.com/tidwall/gjson"
)

// DefaultModified stands in for items that carry neither updatedAt nor addedAt.
const DefaultModified int64 = 1541572987

// Document is a full metadata document for one item, backed by its raw JSON.
type Document struct {
	raw  string
	root gjson.Result
}

// ParseDocument validates raw as a JSON object with a ratingKey.
func ParseDocument(raw []byte) (*Document, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: malformed JSON", shared.ErrInvalidDocument)
	}
	return NewDocument(gjson.ParseBytes(raw))
}

// NewDocument wraps an already parsed metadata element.
func NewDocument(r gjson.Result) (*Document, error) {
	if !r.IsObject() {
		return nil, fmt.Errorf("%w: expected object", shared.ErrInvalidDocument)
	}
	if r.Get("ratingKey").Int() == 0 {
		return nil, fmt.Errorf("%w: missing ratingKey", shared.ErrInvalidDocument)
	}
	return &Document{raw: r.Raw, root: r}, nil
}

// Raw returns the JSON the document was parsed from.
func (d *Document) Raw() string { return d.raw }

// Get exposes an arbitrary gjson path.
func (d *Document) Get(path string) gjson.Result { return d.root.Get(path) }

func (d *Document) ID() int64        { return d.root.Get("ratingKey").Int() }
func (d *Document) Title() string    { return d.root.Get("title").String() }
func (d *Document) Type() string     { return d.root.Get("type").String() }
func (d *Document) ParentID() int64  { return d.root.Get("parentRatingKey").Int() }
func (d *Document) Index() int64     { return d.root.Get("index").Int() }
func (d *Document) UpdatedAt() int64 { return d.root.Get("updatedAt").Int() }
func (d *Document) AddedAt() int64   { return d.root.Get("addedAt").Int() }

// SectionID is the library section the server files the item under.
func (d *Document) SectionID() int64 { return d.root.Get("librarySectionID").Int() }

// Kind resolves the document's type attribute.
func (d *Document) Kind() (Kind, error) { return ParseKind(d.Type()) }

// LastModified is updatedAt, falling back to addedAt and then [DefaultModified].
func (d *Document) LastModified() int64 {
	return lastModified(d.UpdatedAt(), d.AddedAt())
}

// Checksum is the change-detection key for this document.
func (d *Document) Checksum() Checksum {
	return NewChecksum(d.ID(), d.LastModified())
}

// UserData extracts the play-state fields.
func (d *Document) UserData() UserData {
	return UserData{
		ViewCount:    d.root.Get("viewCount").Int(),
		LastViewedAt: d.root.Get("lastViewedAt").Int(),
		ViewOffset:   d.root.Get("viewOffset").Int(),
	}
}

// CollectionRef is a collection tag attached to an item.
type CollectionRef struct {
	ID  int64
	Tag string
}

// Collections lists the collection tags on the document.
func (d *Document) Collections() []CollectionRef {
	var refs []CollectionRef
	d.root.Get("Collection").ForEach(func(_, v gjson.Result) bool {
		refs = append(refs, CollectionRef{ID: v.Get("id").Int(), Tag: v.Get("tag").String()})
		return true
	})
	return refs
}

func lastModified(updatedAt, addedAt int64) int64 {
	switch {
	case updatedAt > 0:
		return updatedAt
	case addedAt > 0:
		return addedAt
	default:
		return DefaultModified
	}
}
