package catalog

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url"`
	Category    string          `json:"category,omitempty"`

	// ImageKey is the image store's deletion handle. It never leaves the process.
	ImageKey string `json:"-"`
}

// MarshalJSON renders price as a JSON number rather than decimal's default
// quoted string.
func (p Product) MarshalJSON() ([]byte, error) {
	type view struct {
		ID          int64       `json:"id"`
		Name        string      `json:"name"`
		Description string      `json:"description"`
		Price       json.Number `json:"price"`
		ImageURL    string      `json:"image_url"`
		Category    string      `json:"category,omitempty"`
	}
	return json.Marshal(view{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       json.Number(p.Price.StringFixed(2)),
		ImageURL:    p.ImageURL,
		Category:    p.Category,
	})
}

// Store persists product records. Implementations assign IDs in Create and
// return List in insertion order.
type Store interface {
	Create(ctx context.Context, p Product) (Product, error)
	List(ctx context.Context) ([]Product, error)
	Get(ctx context.Context, id int64) (Product, bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
	Ping(ctx context.Context) error
}
