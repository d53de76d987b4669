package resources

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/go-authgate/dashboard-client/apiclient"
)

type User struct {
	ID        int    `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Gender    string `json:"gender,omitempty"`
}

type Product struct {
	ID       int     `json:"id"`
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	Category string  `json:"category,omitempty"`
	Brand    string  `json:"brand,omitempty"`
}

// Cart is an order.
type Cart struct {
	ID            int     `json:"id"`
	UserID        int     `json:"userId"`
	Total         float64 `json:"total"`
	TotalProducts int     `json:"totalProducts"`
}

// Dashboard groups the collections shown on the dashboard.
type Dashboard struct {
	Users    *Collection[User]
	Products *Products
	Carts    *Collection[Cart]
}

// NewDashboard returns the dashboard collections served by api.
func NewDashboard(api *apiclient.Client) *Dashboard {
	return &Dashboard{
		Users:    NewCollection[User](api, "users"),
		Products: NewProducts(api),
		Carts:    NewCollection[Cart](api, "carts"),
	}
}

// Summary holds the first page of every collection.
type Summary struct {
	Users    *Page[User]
	Products *Page[Product]
	Carts    *Page[Cart]
}

// Load fetches the first limit items of every collection concurrently.
func (d *Dashboard) Load(ctx context.Context, limit int) (*Summary, error) {
	var s Summary
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		s.Users, err = d.Users.List(ctx, limit, 0)
		return err
	})
	g.Go(func() (err error) {
		s.Products, err = d.Products.List(ctx, limit, 0)
		return err
	})
	g.Go(func() (err error) {
		s.Carts, err = d.Carts.List(ctx, limit, 0)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Stats are the headline numbers of the dashboard.
type Stats struct {
	TotalUsers    int
	TotalProducts int
	TotalOrders   int
}

// Stats counts every collection concurrently.
func (d *Dashboard) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		st.TotalUsers, err = d.Users.Count(ctx)
		return err
	})
	g.Go(func() (err error) {
		st.TotalProducts, err = d.Products.Count(ctx)
		return err
	})
	g.Go(func() (err error) {
		st.TotalOrders, err = d.Carts.Count(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// SearchLimit caps the results taken from each collection by Search.
const SearchLimit = 5

// Result kinds returned by Search.
const (
	KindProduct = "product"
	KindUser    = "user"
	KindPage    = "page"
)

// SearchResult is one hit of a dashboard-wide search.
type SearchResult struct {
	ID          string
	Title       string
	Description string
	Kind        string
	Path        string
}

type page struct {
	title    string
	path     string
	keywords []string
}

var pages = []page{
	{"Dashboard", "/", []string{"home", "overview", "statistics"}},
	{"Products", "/products", []string{"inventory", "items", "catalog"}},
	{"Users", "/users", []string{"people", "customers", "accounts"}},
	{"Orders", "/orders", []string{"purchases", "transactions"}},
	{"Settings", "/settings", []string{"preferences", "configuration"}},
}

// Search looks query up in products and users concurrently and appends the
// matching dashboard pages. Results keep that order. A blank query returns
// nothing.
func (d *Dashboard) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	var products *Page[Product]
	var users *Page[User]
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		products, err = d.Products.Search(gctx, query)
		return err
	})
	g.Go(func() (err error) {
		users, err = d.Users.Search(gctx, query)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []SearchResult
	for _, p := range products.Items[:min(len(products.Items), SearchLimit)] {
		out = append(out, SearchResult{
			ID:          strconv.Itoa(p.ID),
			Title:       p.Title,
			Description: fmt.Sprintf("%s - %s - $%.2f", p.Category, p.Brand, p.Price),
			Kind:        KindProduct,
			Path:        "/products/" + strconv.Itoa(p.ID),
		})
	}
	for _, u := range users.Items[:min(len(users.Items), SearchLimit)] {
		out = append(out, SearchResult{
			ID:          strconv.Itoa(u.ID),
			Title:       u.FirstName + " " + u.LastName,
			Description: "@" + u.Username + " - " + u.Email,
			Kind:        KindUser,
			Path:        "/users",
		})
	}

	lower := strings.ToLower(query)
	for _, p := range pages {
		if pageMatches(p, lower) {
			out = append(out, SearchResult{ID: p.path, Title: p.title, Kind: KindPage, Path: p.path})
		}
	}
	return out, nil
}

func pageMatches(p page, q string) bool {
	if strings.Contains(strings.ToLower(p.title), q) {
		return true
	}
	for _, k := range p.keywords {
		if strings.Contains(k, q) {
			return true
		}
	}
	return false
}
