package etsy

import (
	"github.com/shopspring/decimal"
)

// Price is the remote fixed-point money representation: amount / divisor.
type Price struct {
	Amount       int64  `json:"amount"`
	Divisor      int64  `json:"divisor"`
	CurrencyCode string `json:"currency_code"`
}

// Decimal converts the fixed-point price. A zero divisor is treated as 1.
func (p Price) Decimal() decimal.Decimal {
	div := p.Divisor
	if div == 0 {
		div = 1
	}
	return decimal.New(p.Amount, 0).Div(decimal.New(div, 0))
}

// PriceFromDecimal builds a Price with a divisor of 100.
func PriceFromDecimal(d decimal.Decimal, currency string) Price {
	return Price{Amount: d.Mul(decimal.New(100, 0)).Round(0).IntPart(), Divisor: 100, CurrencyCode: currency}
}

type Listing struct {
	ListingID         int64    `json:"listing_id"`
	ShopID            int64    `json:"shop_id"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	State             string   `json:"state"`
	Quantity          int      `json:"quantity"`
	Tags              []string `json:"tags"`
	Materials         []string `json:"materials"`
	Skus              []string `json:"skus"`
	ShippingProfileID int64    `json:"shipping_profile_id"`
	ProcessingMin     *int     `json:"processing_min"`
	ProcessingMax     *int     `json:"processing_max"`
	HasVariations     bool     `json:"has_variations"`
	Price             Price    `json:"price"`
	TaxonomyID        int64    `json:"taxonomy_id"`
	WhoMade           string   `json:"who_made"`
	WhenMade          string   `json:"when_made"`
	IsSupply          bool     `json:"is_supply"`

	// Inventory is filled by callers that fetched it separately.
	Inventory *Inventory `json:"inventory,omitempty"`
}

type ListingsPage struct {
	Count   int       `json:"count"`
	Results []Listing `json:"results"`
}

type Inventory struct {
	Products           []Product `json:"products"`
	PriceOnProperty    []int64   `json:"price_on_property"`
	QuantityOnProperty []int64   `json:"quantity_on_property"`
	SkuOnProperty      []int64   `json:"sku_on_property"`
}

type Product struct {
	ProductID      int64           `json:"product_id"`
	SKU            string          `json:"sku"`
	IsDeleted      bool            `json:"is_deleted"`
	Offerings      []Offering      `json:"offerings"`
	PropertyValues []PropertyValue `json:"property_values"`
}

// Offering returns the first offering, which carries price and quantity.
func (p Product) Offering() (Offering, bool) {
	if len(p.Offerings) == 0 {
		return Offering{}, false
	}
	return p.Offerings[0], true
}

type Offering struct {
	OfferingID       int64 `json:"offering_id"`
	Price            Price `json:"price"`
	Quantity         int   `json:"quantity"`
	IsEnabled        bool  `json:"is_enabled"`
	IsDeleted        bool  `json:"is_deleted"`
	ReadinessStateID int64 `json:"readiness_state_id,omitempty"`
}

type PropertyValue struct {
	PropertyID   int64    `json:"property_id"`
	PropertyName string   `json:"property_name"`
	ScaleID      *int64   `json:"scale_id"`
	ValueIDs     []int64  `json:"value_ids"`
	Values       []string `json:"values"`
}

// ListingPatch is a partial listing update. Only non-nil fields are sent.
type ListingPatch struct {
	Title             *string  `json:"title,omitempty"`
	Description       *string  `json:"description,omitempty"`
	State             *string  `json:"state,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	Materials         []string `json:"materials,omitempty"`
	Price             *float64 `json:"price,omitempty"`
	CurrencyCode      *string  `json:"currency_code,omitempty"`
	Quantity          *int     `json:"quantity,omitempty"`
	ShippingProfileID *int64   `json:"shipping_profile_id,omitempty"`
	ProcessingMin     *int     `json:"processing_min,omitempty"`
	ProcessingMax     *int     `json:"processing_max,omitempty"`
}

func (p ListingPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.State == nil && p.Tags == nil &&
		p.Materials == nil && p.Price == nil && p.CurrencyCode == nil && p.Quantity == nil &&
		p.ShippingProfileID == nil && p.ProcessingMin == nil && p.ProcessingMax == nil
}

type CreateListingRequest struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Quantity          int      `json:"quantity"`
	Price             float64  `json:"price"`
	WhoMade           string   `json:"who_made"`
	WhenMade          string   `json:"when_made"`
	TaxonomyID        int64    `json:"taxonomy_id"`
	State             string   `json:"state,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	Materials         []string `json:"materials,omitempty"`
	ShippingProfileID int64    `json:"shipping_profile_id,omitempty"`
	ProcessingMin     *int     `json:"processing_min,omitempty"`
	ProcessingMax     *int     `json:"processing_max,omitempty"`
}

// InventoryUpdate is the full-replace inventory payload. The remote side
// drops any product that is not listed, so callers must send all of them.
type InventoryUpdate struct {
	Products           []ProductUpdate `json:"products"`
	PriceOnProperty    []int64         `json:"price_on_property"`
	QuantityOnProperty []int64         `json:"quantity_on_property"`
	SkuOnProperty      []int64         `json:"sku_on_property"`
}

type ProductUpdate struct {
	SKU            string                `json:"sku"`
	PropertyValues []PropertyValueUpdate `json:"property_values"`
	Offerings      []OfferingUpdate      `json:"offerings"`
	IsDeleted      bool                  `json:"is_deleted"`
}

type PropertyValueUpdate struct {
	PropertyID   int64    `json:"property_id"`
	PropertyName string   `json:"property_name,omitempty"`
	ScaleID      *int64   `json:"scale_id,omitempty"`
	ValueIDs     []int64  `json:"value_ids"`
	Values       []string `json:"values"`
}

type OfferingUpdate struct {
	Price            float64 `json:"price"`
	Quantity         int     `json:"quantity"`
	IsEnabled        bool    `json:"is_enabled"`
	ReadinessStateID int64   `json:"readiness_state_id,omitempty"`
}
