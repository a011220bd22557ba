package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/desertthunder/mlsync/internal/models"
	"github.com/desertthunder/mlsync/internal/shared"
)

// Doc builds a metadata document. Extra fields are merged into the JSON object.
func Doc(id int64, kind models.Kind, updatedAt int64, extra map[string]any) *models.Document {
	fields := map[string]any{
		"ratingKey": fmt.Sprint(id),
		"type":      docType(kind),
		"title":     fmt.Sprintf("%s %d", kind, id),
		"updatedAt": updatedAt,
		"addedAt":   updatedAt,
	}
	for k, v := range extra {
		fields[k] = v
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		panic(err)
	}
	doc, err := models.ParseDocument(raw)
	if err != nil {
		panic(err)
	}
	return doc
}

func docType(k models.Kind) string {
	if k == models.KindSong {
		return "track"
	}
	return string(k)
}

// FakeServer is an in-memory media server.
type FakeServer struct {
	mu sync.Mutex

	libraries   []models.LibrarySection
	listings    map[string][]*models.Document
	docs        map[int64]*models.Document
	children    map[int64][]*models.Document
	collections map[int64]map[int64]int64
	fetchErrs   map[int64]error
	fetches     map[int64]int
	lookups     int
	sessions    int

	// OnFetch runs before every Fetch, outside the lock.
	OnFetch func(ctx context.Context, id int64)
	// EnumerateErr makes every Enumerate call fail.
	EnumerateErr error
	// SectionsErr makes Sections fail.
	SectionsErr error
}

func NewFakeServer() *FakeServer {
	return &FakeServer{
		listings:    make(map[string][]*models.Document),
		docs:        make(map[int64]*models.Document),
		children:    make(map[int64][]*models.Document),
		collections: make(map[int64]map[int64]int64),
		fetchErrs:   make(map[int64]error),
		fetches:     make(map[int64]int),
	}
}

func listingKey(sectionID int64, kind models.Kind) string {
	return fmt.Sprintf("%d/%s", sectionID, kind)
}

// AddLibrary registers a library section.
func (f *FakeServer) AddLibrary(lib models.LibrarySection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.libraries = append(f.libraries, lib)
}

// AddItems appends docs to the listing of kind in sectionID and makes them fetchable.
func (f *FakeServer) AddItems(sectionID int64, kind models.Kind, docs ...*models.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := listingKey(sectionID, kind)
	f.listings[key] = append(f.listings[key], docs...)
	for _, d := range docs {
		f.docs[d.ID()] = d
	}
}

// ReplaceItems swaps the listing of kind in sectionID.
func (f *FakeServer) ReplaceItems(sectionID int64, kind models.Kind, docs ...*models.Document) {
	f.mu.Lock()
	f.listings[listingKey(sectionID, kind)] = nil
	f.mu.Unlock()
	f.AddItems(sectionID, kind, docs...)
}

// AddDocument makes doc fetchable without listing it.
func (f *FakeServer) AddDocument(doc *models.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID()] = doc
}

// SetChildren sets the children returned for id.
func (f *FakeServer) SetChildren(id int64, docs ...*models.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.children[id] = docs
}

// SetCollections sets the collection membership map of a section.
func (f *FakeServer) SetCollections(sectionID int64, members map[int64]int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[sectionID] = members
}

// FailFetch makes Fetch(id) return err. A nil err clears it.
func (f *FakeServer) FailFetch(id int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fetchErrs, id)
		return
	}
	f.fetchErrs[id] = err
}

// SetSessions sets the number of active playback sessions.
func (f *FakeServer) SetSessions(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = n
}

// Fetches is how often id was fetched.
func (f *FakeServer) Fetches(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[id]
}

// TotalFetches is the number of Fetch calls.
func (f *FakeServer) TotalFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.fetches {
		n += c
	}
	return n
}

// CollectionLookups is the number of FetchCollectionMembers calls.
func (f *FakeServer) CollectionLookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func (f *FakeServer) Name() string { return "fake" }

func (f *FakeServer) Sections(ctx context.Context) ([]models.LibrarySection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SectionsErr != nil {
		return nil, f.SectionsErr
	}
	return append([]models.LibrarySection(nil), f.libraries...), nil
}

func (f *FakeServer) Enumerate(ctx context.Context, section *models.Section, since int64) (models.ItemIterator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnumerateErr != nil {
		return nil, f.EnumerateErr
	}

	var stubs []models.ItemStub
	for _, d := range f.listings[listingKey(section.ID, section.Kind)] {
		if since > 0 && d.UpdatedAt() < since {
			continue
		}
		stubs = append(stubs, models.StubFromDocument(d))
	}
	return models.NewSliceIterator(stubs, -1), nil
}

func (f *FakeServer) Fetch(ctx context.Context, id int64) (*models.Document, error) {
	if f.OnFetch != nil {
		f.OnFetch(ctx, id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[id]++
	if err := f.fetchErrs[id]; err != nil {
		return nil, err
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", shared.ErrItemNotFound, id)
	}
	return doc, nil
}

func (f *FakeServer) FetchChildren(ctx context.Context, id int64) ([]*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Document(nil), f.children[id]...), nil
}

func (f *FakeServer) FetchCollectionMembers(ctx context.Context, sectionID int64) (map[int64]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	out := make(map[int64]int64, len(f.collections[sectionID]))
	for k, v := range f.collections[sectionID] {
		out[k] = v
	}
	return out, nil
}

func (f *FakeServer) ActiveSessions(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions, nil
}

// FakeProgress records progress calls.
type FakeProgress struct {
	mu      sync.Mutex
	Title   string
	Updates []ProgressCall
	Closed  int
}

// ProgressCall is one recorded Update.
type ProgressCall struct {
	Percent int
	Heading string
	Detail  string
}

func (p *FakeProgress) Create(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Title = title
}

func (p *FakeProgress) Update(percent int, heading, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Updates = append(p.Updates, ProgressCall{Percent: percent, Heading: heading, Detail: detail})
}

func (p *FakeProgress) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed++
}

// Snapshot returns a copy of the recorded updates and close count.
func (p *FakeProgress) Snapshot() ([]ProgressCall, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ProgressCall(nil), p.Updates...), p.Closed
}

// FakePlayback reports a fixed playback state.
type FakePlayback struct {
	mu      sync.Mutex
	playing bool
}

func (p *FakePlayback) Set(playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = playing
}

func (p *FakePlayback) IsPlaying(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// FakeNotifier records notifications.
type FakeNotifier struct {
	mu       sync.Mutex
	Messages []string
}

func (n *FakeNotifier) Notify(heading, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, heading+": "+message)
}

// Count is the number of notifications sent.
func (n *FakeNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Messages)
}
