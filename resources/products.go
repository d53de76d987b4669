package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-authgate/dashboard-client/apiclient"
)

// Category is a product category. Older API versions send bare slugs.
type Category struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

func (c *Category) UnmarshalJSON(data []byte) error {
	var slug string
	if json.Unmarshal(data, &slug) == nil {
		*c = Category{Slug: slug, Name: categoryName(slug)}
		return nil
	}
	type plain Category
	return json.Unmarshal(data, (*plain)(c))
}

// categoryName turns "home-decoration" into "Home decoration".
func categoryName(slug string) string {
	if slug == "" {
		return ""
	}
	return strings.ToUpper(slug[:1]) + strings.ReplaceAll(slug[1:], "-", " ")
}

// Products is the product collection.
type Products struct {
	*Collection[Product]
}

// NewProducts returns the product collection served by api.
func NewProducts(api *apiclient.Client) *Products {
	return &Products{Collection: NewCollection[Product](api, "products")}
}

// Categories returns every product category.
func (p *Products) Categories(ctx context.Context) ([]Category, error) {
	var out []Category
	if err := p.api.Get(ctx, "/"+p.name+"/categories", nil, &out); err != nil {
		return nil, fmt.Errorf("%s: categories: %w", p.name, err)
	}
	return out, nil
}
