// Package catalog holds the editable listing model that the spreadsheet decodes into
// and that the preview and apply engines reconcile against the remote catalog.
package catalog

import (
	"strings"

	"github.com/shopspring/decimal"
)

// State is a listing lifecycle state as understood by the remote catalog.
type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
	StateDraft    State = "draft"
	StateSoldOut  State = "sold_out"
	StateExpired  State = "expired"
)

// ParseState maps free text typed into the Status column to a known state.
// Unknown or blank input returns "" and false.
func ParseState(s string) (State, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch State(norm) {
	case StateActive, StateInactive, StateDraft, StateSoldOut, StateExpired:
		return State(norm), true
	case "soldout":
		return StateSoldOut, true
	}
	return "", false
}

// Listing is one sellable catalog entry as decoded from a row-group.
// Pointer fields are nil when the sheet left them blank ("not specified").
type Listing struct {
	ID            int64
	Title         string
	Description   string
	State         State
	Quantity      *int
	Price         *decimal.Decimal
	CurrencyCode  string
	Tags          []string
	SKU           string
	HasVariations bool
	Variations    []Variation

	Materials         []string
	ShippingProfileID int64
	ProcessingMin     *int
	ProcessingMax     *int

	Deleted bool

	// Line is the 1-based sheet line of the row that opened this listing.
	Line int
}

// IsNew reports whether the listing does not exist remotely yet.
func (l Listing) IsNew() bool { return l.ID == 0 }

// Variation is one SKU-level combination of up to two properties.
type Variation struct {
	ProductID  int64
	Properties []PropertyValue
	SKU        string
	Price      *decimal.Decimal
	Quantity   *int
	Deleted    bool
}

// Label renders the variation as "Size: L / Color: Red".
func (v Variation) Label() string {
	parts := make([]string, 0, len(v.Properties))
	for _, p := range v.Properties {
		if p.Name == "" {
			parts = append(parts, p.Value)
			continue
		}
		parts = append(parts, p.Name+": "+p.Value)
	}
	return strings.Join(parts, " / ")
}

// PropertyValue is the selected option of one variation property.
type PropertyValue struct {
	PropertyID int64
	Name       string
	Value      string
	ValueIDs   []int64
}

// IntPtr and DecimalPtr are small helpers for building listings in code and tests.
func IntPtr(i int) *int { return &i }

func DecimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }
