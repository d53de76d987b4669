// Package resources provides typed access to the dashboard's REST
// collections.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/go-authgate/dashboard-client/apiclient"
)

// DefaultPageSize is the page size used when none is given.
const DefaultPageSize = 30

// maxConcurrent bounds the requests DeleteMany keeps in flight.
const maxConcurrent = 4

// Page is one page of a collection.
type Page[T any] struct {
	Items []T
	Total int
	Skip  int
	Limit int
}

// HasMore reports whether items exist past this page.
func (p *Page[T]) HasMore() bool {
	return p.Skip+len(p.Items) < p.Total
}

// Collection is a REST collection such as /users. List responses wrap the
// items in an envelope keyed by the collection name.
type Collection[T any] struct {
	api  *apiclient.Client
	name string
}

// NewCollection returns the collection served under /name.
func NewCollection[T any](api *apiclient.Client, name string) *Collection[T] {
	return &Collection[T]{api: api, name: name}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

func (c *Collection[T]) itemPath(id int) string {
	return "/" + c.name + "/" + strconv.Itoa(id)
}

// List returns limit items starting at skip. A zero limit uses
// DefaultPageSize.
func (c *Collection[T]) List(ctx context.Context, limit, skip int) (*Page[T], error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("skip", strconv.Itoa(max(skip, 0)))
	return c.page(ctx, "/"+c.name, q)
}

// Search returns the items matching q.
func (c *Collection[T]) Search(ctx context.Context, q string) (*Page[T], error) {
	return c.page(ctx, "/"+c.name+"/search", url.Values{"q": {q}})
}

// Filter returns the items whose key equals value. Nested fields use dotted
// keys such as "hair.color".
func (c *Collection[T]) Filter(ctx context.Context, key, value string) (*Page[T], error) {
	return c.page(ctx, "/"+c.name+"/filter", url.Values{"key": {key}, "value": {value}})
}

// Count returns the total number of items without loading them.
func (c *Collection[T]) Count(ctx context.Context) (int, error) {
	q := url.Values{}
	q.Set("limit", "1")
	q.Set("select", "id")
	p, err := c.page(ctx, "/"+c.name, q)
	if err != nil {
		return 0, err
	}
	return p.Total, nil
}

func (c *Collection[T]) page(ctx context.Context, path string, q url.Values) (*Page[T], error) {
	var env map[string]json.RawMessage
	if err := c.api.Get(ctx, path, q, &env); err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}

	items, ok := env[c.name]
	if !ok {
		return nil, fmt.Errorf("%s: response has no %q field", c.name, c.name)
	}
	p := &Page[T]{}
	if err := json.Unmarshal(items, &p.Items); err != nil {
		return nil, fmt.Errorf("%s: failed to parse items: %w", c.name, err)
	}
	for key, dst := range map[string]*int{"total": &p.Total, "skip": &p.Skip, "limit": &p.Limit} {
		if raw, ok := env[key]; ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				return nil, fmt.Errorf("%s: failed to parse %s: %w", c.name, key, err)
			}
		}
	}
	return p, nil
}

// Get returns the item with id.
func (c *Collection[T]) Get(ctx context.Context, id int) (*T, error) {
	var v T
	if err := c.api.Get(ctx, c.itemPath(id), nil, &v); err != nil {
		return nil, fmt.Errorf("%s %d: %w", c.name, id, err)
	}
	return &v, nil
}

// Create adds v and returns the stored item.
func (c *Collection[T]) Create(ctx context.Context, v any) (*T, error) {
	var out T
	if err := c.api.Post(ctx, "/"+c.name+"/add", v, &out); err != nil {
		return nil, fmt.Errorf("%s: create: %w", c.name, err)
	}
	return &out, nil
}

// Update replaces the item with id.
func (c *Collection[T]) Update(ctx context.Context, id int, v any) (*T, error) {
	var out T
	if err := c.api.Put(ctx, c.itemPath(id), v, &out); err != nil {
		return nil, fmt.Errorf("%s %d: update: %w", c.name, id, err)
	}
	return &out, nil
}

// Patch updates the given fields of the item with id.
func (c *Collection[T]) Patch(ctx context.Context, id int, fields map[string]any) (*T, error) {
	var out T
	if err := c.api.Patch(ctx, c.itemPath(id), fields, &out); err != nil {
		return nil, fmt.Errorf("%s %d: patch: %w", c.name, id, err)
	}
	return &out, nil
}

// Delete removes the item with id and returns it as the API reports it.
func (c *Collection[T]) Delete(ctx context.Context, id int) (*T, error) {
	var out T
	if err := c.api.Delete(ctx, c.itemPath(id), &out); err != nil {
		return nil, fmt.Errorf("%s %d: delete: %w", c.name, id, err)
	}
	return &out, nil
}

// DeleteMany removes ids concurrently. It stops at the first error; the
// returned items are in the order of ids.
func (c *Collection[T]) DeleteMany(ctx context.Context, ids []int) ([]T, error) {
	out := make([]T, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, id := range ids {
		g.Go(func() error {
			v, err := c.Delete(ctx, id)
			if err != nil {
				return err
			}
			out[i] = *v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
