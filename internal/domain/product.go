package domain

import "time"

// UnknownProductName is used when neither site-specific nor generic
// metadata yields a product title.
const UnknownProductName = "Unknown Product"

// Product is a tracked product page.
type Product struct {
	// ID is the surrogate key assigned by the store.
	ID uint64 `json:"id"`

	// URL is the canonical product URL and is unique across products.
	URL string `json:"url"`

	// Name is empty until the first successful scrape.
	Name string `json:"name,omitempty"`

	// ImageURL is the main product image, if one was found.
	ImageURL string `json:"image_url,omitempty"`

	// Site identifies the selector table used for this product (e.g. "amazon").
	Site string `json:"site"`

	// LastPrice mirrors the price of the latest tick. Nil until the first tick.
	LastPrice *float64 `json:"last_price,omitempty"`

	// LastCheckedAt is the observation time of the latest tick.
	LastCheckedAt time.Time `json:"last_checked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// DisplayName returns a human readable name, falling back to the URL.
func (p Product) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.URL
}

// NeedsName reports whether a scraped name should replace the stored one.
func (p Product) NeedsName() bool {
	return p.Name == "" || p.Name == UnknownProductName
}

// Tick is one timestamped price observation. Ticks are append-only.
type Tick struct {
	ProductID  uint64    `json:"product_id"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// Observation is a successful scrape result ready to be persisted as a tick.
// Name and ImageURL are applied to the product only when it lacks them.
type Observation struct {
	Price      float64
	ObservedAt time.Time
	Name       string
	ImageURL   string
}

// PriceStats are aggregates derived from a product's history.
type PriceStats struct {
	Lowest  float64 `json:"lowest"`
	Highest float64 `json:"highest"`
	Checks  int     `json:"checks"`
}
