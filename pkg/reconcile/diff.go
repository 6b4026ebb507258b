// Package reconcile compares a decoded listing with the remote one and builds
// the typed write payloads. Preview and apply share it so the preview shows
// exactly what apply will send.
package reconcile

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopsheet/shopsheet/pkg/catalog"
	"github.com/shopsheet/shopsheet/pkg/etsy"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
)

// Field names used in FieldChange.Field.
const (
	FieldTitle             = "title"
	FieldDescription       = "description"
	FieldState             = "state"
	FieldTags              = "tags"
	FieldMaterials         = "materials"
	FieldPrice             = "price"
	FieldCurrency          = "currency_code"
	FieldQuantity          = "quantity"
	FieldSKU               = "sku"
	FieldShippingProfileID = "shipping_profile_id"
	FieldProcessingMin     = "processing_min"
	FieldProcessingMax     = "processing_max"
)

// PriceEpsilon is the smallest price difference treated as a change.
var PriceEpsilon = decimal.New(1, -2)

type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// DiffListing lists the listing-level fields whose sheet value differs from the
// remote value. Blank sheet values mean "not specified" and never differ.
// Price and quantity are skipped when the inventory varies them by property.
func DiffListing(parsed catalog.Listing, remote *etsy.Listing, inv *etsy.Inventory) []FieldChange {
	var out []FieldChange
	add := func(field, before, after string) {
		out = append(out, FieldChange{Field: field, Before: before, After: after})
	}

	if before := html.UnescapeString(remote.Title); parsed.Title != "" && !SameText(parsed.Title, before) {
		add(FieldTitle, before, parsed.Title)
	}
	if before := html.UnescapeString(remote.Description); parsed.Description != "" && !SameText(parsed.Description, before) {
		add(FieldDescription, before, parsed.Description)
	}
	if parsed.State != "" && string(parsed.State) != remote.State {
		add(FieldState, remote.State, string(parsed.State))
	}
	if parsed.Tags != nil && !SameSet(parsed.Tags, remote.Tags) {
		add(FieldTags, strings.Join(remote.Tags, ", "), strings.Join(parsed.Tags, ", "))
	}
	if parsed.Materials != nil && !SameSet(parsed.Materials, remote.Materials) {
		add(FieldMaterials, strings.Join(remote.Materials, ", "), strings.Join(parsed.Materials, ", "))
	}
	if parsed.Price != nil && !PriceOnProperty(inv) {
		before := remote.Price.Decimal()
		if PriceDiffers(*parsed.Price, before) {
			add(FieldPrice, before.StringFixed(2), parsed.Price.StringFixed(2))
		}
	}
	if parsed.CurrencyCode != "" && !strings.EqualFold(parsed.CurrencyCode, remote.Price.CurrencyCode) {
		add(FieldCurrency, remote.Price.CurrencyCode, parsed.CurrencyCode)
	}
	if parsed.Quantity != nil && !QuantityOnProperty(inv) && *parsed.Quantity != remote.Quantity {
		add(FieldQuantity, strconv.Itoa(remote.Quantity), strconv.Itoa(*parsed.Quantity))
	}
	if parsed.ShippingProfileID != 0 && parsed.ShippingProfileID != remote.ShippingProfileID {
		add(FieldShippingProfileID, formatID(remote.ShippingProfileID), formatID(parsed.ShippingProfileID))
	}
	if parsed.ProcessingMin != nil && !sameIntPtr(parsed.ProcessingMin, remote.ProcessingMin) {
		add(FieldProcessingMin, formatIntPtr(remote.ProcessingMin), formatIntPtr(parsed.ProcessingMin))
	}
	if parsed.ProcessingMax != nil && !sameIntPtr(parsed.ProcessingMax, remote.ProcessingMax) {
		add(FieldProcessingMax, formatIntPtr(remote.ProcessingMax), formatIntPtr(parsed.ProcessingMax))
	}
	return out
}

// Additions describes a listing that does not exist yet: every specified field
// shows up as an addition with an empty before value.
func Additions(parsed catalog.Listing) []FieldChange {
	var out []FieldChange
	add := func(field, after string) {
		if after != "" {
			out = append(out, FieldChange{Field: field, After: after})
		}
	}
	add(FieldTitle, parsed.Title)
	add(FieldDescription, parsed.Description)
	add(FieldState, string(parsed.State))
	add(FieldTags, strings.Join(parsed.Tags, ", "))
	add(FieldMaterials, strings.Join(parsed.Materials, ", "))
	if parsed.Price != nil {
		add(FieldPrice, parsed.Price.StringFixed(2))
	}
	add(FieldCurrency, parsed.CurrencyCode)
	add(FieldQuantity, formatIntPtr(parsed.Quantity))
	add(FieldSKU, parsed.SKU)
	if parsed.ShippingProfileID != 0 {
		add(FieldShippingProfileID, formatID(parsed.ShippingProfileID))
	}
	add(FieldProcessingMin, formatIntPtr(parsed.ProcessingMin))
	add(FieldProcessingMax, formatIntPtr(parsed.ProcessingMax))
	return out
}

// PatchFromDiff builds the listing update from the diffed fields only.
func PatchFromDiff(parsed catalog.Listing, diffs []FieldChange) etsy.ListingPatch {
	var p etsy.ListingPatch
	for _, d := range diffs {
		switch d.Field {
		case FieldTitle:
			v := parsed.Title
			p.Title = &v
		case FieldDescription:
			v := parsed.Description
			p.Description = &v
		case FieldState:
			v := string(parsed.State)
			p.State = &v
		case FieldTags:
			p.Tags = append([]string(nil), parsed.Tags...)
		case FieldMaterials:
			p.Materials = append([]string(nil), parsed.Materials...)
		case FieldPrice:
			v := parsed.Price.InexactFloat64()
			p.Price = &v
		case FieldCurrency:
			v := parsed.CurrencyCode
			p.CurrencyCode = &v
		case FieldQuantity:
			v := *parsed.Quantity
			p.Quantity = &v
		case FieldShippingProfileID:
			v := parsed.ShippingProfileID
			p.ShippingProfileID = &v
		case FieldProcessingMin:
			v := *parsed.ProcessingMin
			p.ProcessingMin = &v
		case FieldProcessingMax:
			v := *parsed.ProcessingMax
			p.ProcessingMax = &v
		}
	}
	return p
}

// CreateRequest builds the create payload for a new listing. Unspecified
// quantity defaults to 1 and unspecified price to zero.
func CreateRequest(parsed catalog.Listing, taxonomyID int64) etsy.CreateListingRequest {
	req := etsy.CreateListingRequest{
		Title:             parsed.Title,
		Description:       parsed.Description,
		Quantity:          1,
		WhoMade:           "i_did",
		WhenMade:          "made_to_order",
		TaxonomyID:        taxonomyID,
		State:             string(parsed.State),
		Tags:              parsed.Tags,
		Materials:         parsed.Materials,
		ShippingProfileID: parsed.ShippingProfileID,
		ProcessingMin:     parsed.ProcessingMin,
		ProcessingMax:     parsed.ProcessingMax,
	}
	if parsed.Quantity != nil {
		req.Quantity = *parsed.Quantity
	}
	if parsed.Price != nil {
		req.Price = parsed.Price.InexactFloat64()
	}
	if req.Description == "" {
		req.Description = parsed.Title
	}
	return req
}

func PriceOnProperty(inv *etsy.Inventory) bool    { return inv != nil && len(inv.PriceOnProperty) > 0 }
func QuantityOnProperty(inv *etsy.Inventory) bool { return inv != nil && len(inv.QuantityOnProperty) > 0 }
func SkuOnProperty(inv *etsy.Inventory) bool      { return inv != nil && len(inv.SkuOnProperty) > 0 }

// PriceDiffers compares two prices with PriceEpsilon tolerance.
func PriceDiffers(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThanOrEqual(PriceEpsilon)
}

// SameText compares free text ignoring surrounding whitespace and CRLF line endings.
func SameText(a, b string) bool {
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }
	return norm(a) == norm(b)
}

// SameSet compares string slices as sets, ignoring order, surrounding
// whitespace and duplicates. Case is significant.
func SameSet(a, b []string) bool {
	norm := func(s []string) []string {
		m := make(map[string]struct{}, len(s))
		for _, v := range s {
			m[strings.TrimSpace(v)] = struct{}{}
		}
		out := make([]string, 0, len(m))
		for v := range m {
			out = append(out, v)
		}
		sort.Strings(out)
		return out
	}
	na, nb := norm(a), norm(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

func sameIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func formatIntPtr(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
