package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/desertthunder/mlsync/internal/models"
	"github.com/desertthunder/mlsync/internal/shared"
	"github.com/tidwall/gjson"
)

// DefaultPageSize is the container size requested per listing page.
const DefaultPageSize = 200

// PlexClient implements [MediaServer] against a Plex-style JSON API.
type PlexClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	pageSize   int
}

// NewPlexClient creates a client for the server at baseURL.
func NewPlexClient(baseURL, token string, client *http.Client) *PlexClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &PlexClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: client,
		pageSize:   DefaultPageSize,
	}
}

// SetPageSize overrides the listing page size.
func (c *PlexClient) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = n
	}
}

func (c *PlexClient) Name() string { return "plex " + c.baseURL }

// get performs an authenticated GET and returns the MediaContainer of the response.
func (c *PlexClient) get(ctx context.Context, path, rawQuery string) (gjson.Result, error) {
	endpoint := c.baseURL + path
	if rawQuery != "" {
		endpoint += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("X-Plex-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %s: %w", shared.ErrAPIRequest, path, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode, path); err != nil {
		io.Copy(io.Discard, resp.Body)
		return gjson.Result{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: %s returned malformed JSON", shared.ErrInvalidDocument, path)
	}

	container := gjson.GetBytes(body, "MediaContainer")
	if !container.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s has no MediaContainer", shared.ErrInvalidDocument, path)
	}
	return container, nil
}

func statusError(code int, path string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s: status %d", shared.ErrUnauthorized, path, code)
	case code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s: status %d", shared.ErrServerOverloaded, path, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", shared.ErrItemNotFound, path)
	default:
		return fmt.Errorf("%w: %s: status %d", shared.ErrAPIRequest, path, code)
	}
}

// Sections lists library sections.
func (c *PlexClient) Sections(ctx context.Context) ([]models.LibrarySection, error) {
	container, err := c.get(ctx, "/library/sections", "")
	if err != nil {
		return nil, err
	}

	var sections []models.LibrarySection
	container.Get("Directory").ForEach(func(_, d gjson.Result) bool {
		sections = append(sections, models.LibrarySection{
			ID:    d.Get("key").Int(),
			Title: d.Get("title").String(),
			Type:  d.Get("type").String(),
		})
		return true
	})
	return sections, nil
}

// Enumerate fetches the first listing page and returns an iterator over the rest.
func (c *PlexClient) Enumerate(ctx context.Context, section *models.Section, since int64) (models.ItemIterator, error) {
	it := &pageIterator{
		client: c,
		path:   fmt.Sprintf("/library/sections/%d/all", section.ID),
		query:  listingQuery(section.Kind, since),
	}
	if err := it.fetch(ctx); err != nil {
		return nil, err
	}
	return it, nil
}

func listingQuery(kind models.Kind, since int64) string {
	q := url.Values{}
	q.Set("type", strconv.Itoa(kind.TypeCode()))
	raw := q.Encode()
	if since > 0 {
		// the server's filter syntax uses a bare comparison operator in the key
		raw += "&updatedAt>=" + strconv.FormatInt(since, 10)
	}
	return raw
}

// Fetch retrieves one item's full document.
func (c *PlexClient) Fetch(ctx context.Context, id int64) (*models.Document, error) {
	container, err := c.get(ctx, fmt.Sprintf("/library/metadata/%d", id), "")
	if err != nil {
		return nil, err
	}

	meta := container.Get("Metadata.0")
	if !meta.Exists() {
		return nil, fmt.Errorf("%w: %d", shared.ErrItemNotFound, id)
	}
	doc, err := models.NewDocument(meta)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}
	return doc, nil
}

// FetchChildren retrieves a container's children in server order.
func (c *PlexClient) FetchChildren(ctx context.Context, id int64) ([]*models.Document, error) {
	container, err := c.get(ctx, fmt.Sprintf("/library/metadata/%d/children", id), "")
	if err != nil {
		return nil, err
	}
	return documents(container.Get("Metadata"))
}

// FetchCollectionMembers maps collection tag ids to collection item ids.
func (c *PlexClient) FetchCollectionMembers(ctx context.Context, sectionID int64) (map[int64]int64, error) {
	container, err := c.get(ctx, fmt.Sprintf("/library/sections/%d/collections", sectionID), "")
	if err != nil {
		return nil, err
	}

	members := make(map[int64]int64)
	container.Get("Metadata").ForEach(func(_, m gjson.Result) bool {
		members[m.Get("index").Int()] = m.Get("ratingKey").Int()
		return true
	})
	return members, nil
}

// ActiveSessions is the number of playback sessions currently running on the server.
func (c *PlexClient) ActiveSessions(ctx context.Context) (int, error) {
	container, err := c.get(ctx, "/status/sessions", "")
	if err != nil {
		return 0, err
	}
	return int(container.Get("size").Int()), nil
}

func documents(list gjson.Result) ([]*models.Document, error) {
	var (
		docs []*models.Document
		err  error
	)
	list.ForEach(func(_, m gjson.Result) bool {
		var doc *models.Document
		doc, err = models.NewDocument(m)
		if err != nil {
			return false
		}
		docs = append(docs, doc)
		return true
	})
	return docs, err
}

// pageIterator walks a paged listing.
type pageIterator struct {
	client *PlexClient
	path   string
	query  string

	total  int
	offset int
	buf    []models.ItemStub
	done   bool
}

func (it *pageIterator) Total() int { return it.total }

func (it *pageIterator) Next(ctx context.Context) (models.ItemStub, bool, error) {
	for len(it.buf) == 0 {
		if it.done {
			return models.ItemStub{}, false, nil
		}
		if err := it.fetch(ctx); err != nil {
			return models.ItemStub{}, false, err
		}
	}
	s := it.buf[0]
	it.buf = it.buf[1:]
	return s, true, nil
}

func (it *pageIterator) fetch(ctx context.Context) error {
	size := it.client.pageSize
	query := fmt.Sprintf("%s&X-Plex-Container-Start=%d&X-Plex-Container-Size=%d", it.query, it.offset, size)

	container, err := it.client.get(ctx, it.path, query)
	if err != nil {
		return err
	}

	docs, err := documents(container.Get("Metadata"))
	if err != nil {
		return fmt.Errorf("%s: %w", it.path, err)
	}

	if total := container.Get("totalSize"); total.Exists() {
		it.total = int(total.Int())
	} else if it.offset == 0 {
		it.total = int(container.Get("size").Int())
	}

	for _, d := range docs {
		it.buf = append(it.buf, models.StubFromDocument(d))
	}
	it.offset += len(docs)
	if len(docs) < size || it.offset >= it.total {
		it.done = true
	}
	return nil
}
