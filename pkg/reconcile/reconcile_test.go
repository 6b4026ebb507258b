package reconcile

import (
	"testing"

	"github.com/shopsheet/shopsheet/pkg/catalog"
	"github.com/shopsheet/shopsheet/pkg/etsy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func remoteListing() *etsy.Listing {
	return &etsy.Listing{
		ListingID: 7,
		Title:     "A",
		State:     "active",
		Quantity:  5,
		Tags:      []string{"red", "mug"},
		Price:     etsy.Price{Amount: 1250, Divisor: 100, CurrencyCode: "USD"},
	}
}

func TestDiffGatedTitle(t *testing.T) {
	same := catalog.Listing{ID: 7, Title: "A"}
	diffs := DiffListing(same, remoteListing(), nil)
	assert.Empty(t, diffs)
	patch := PatchFromDiff(same, diffs)
	assert.True(t, patch.IsEmpty())
	assert.Nil(t, patch.Title)

	changed := catalog.Listing{ID: 7, Title: "B"}
	diffs = DiffListing(changed, remoteListing(), nil)
	require.Len(t, diffs, 1)
	assert.Equal(t, FieldChange{Field: FieldTitle, Before: "A", After: "B"}, diffs[0])
	patch = PatchFromDiff(changed, diffs)
	require.NotNil(t, patch.Title)
	assert.Equal(t, "B", *patch.Title)
	assert.Nil(t, patch.Price)
	assert.Nil(t, patch.Tags)
}

func TestDiffListingRules(t *testing.T) {
	tests := []struct {
		name   string
		parsed catalog.Listing
		inv    *etsy.Inventory
		want   []string
	}{
		{"blank means unspecified", catalog.Listing{}, nil, nil},
		{"tags as set", catalog.Listing{Tags: []string{"mug ", "red", "mug"}}, nil, nil},
		{"tag case edit", catalog.Listing{Tags: []string{"mug", "Red"}}, nil, []string{FieldTags}},
		{"title surrounding whitespace", catalog.Listing{Title: " A\n"}, nil, nil},
		{"tags changed", catalog.Listing{Tags: []string{"mug"}}, nil, []string{FieldTags}},
		{"price within epsilon", catalog.Listing{Price: dec("12.504")}, nil, nil},
		{"price cent change", catalog.Listing{Price: dec("12.51")}, nil, []string{FieldPrice}},
		{"price on property skipped", catalog.Listing{Price: dec("99")}, &etsy.Inventory{PriceOnProperty: []int64{100}}, nil},
		{"quantity changed", catalog.Listing{Quantity: catalog.IntPtr(6)}, nil, []string{FieldQuantity}},
		{"quantity on property skipped", catalog.Listing{Quantity: catalog.IntPtr(6)}, &etsy.Inventory{QuantityOnProperty: []int64{100}}, nil},
		{"state and currency", catalog.Listing{State: catalog.StateDraft, CurrencyCode: "EUR"}, nil, []string{FieldState, FieldCurrency}},
		{"currency case", catalog.Listing{CurrencyCode: "usd"}, nil, nil},
		{"processing set", catalog.Listing{ProcessingMin: catalog.IntPtr(1), ShippingProfileID: 9}, nil, []string{FieldShippingProfileID, FieldProcessingMin}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, d := range DiffListing(tt.parsed, remoteListing(), tt.inv) {
				got = append(got, d.Field)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiffUnescapesRemoteText(t *testing.T) {
	r := remoteListing()
	r.Title = "Salt &amp; Pepper"
	assert.Empty(t, DiffListing(catalog.Listing{Title: "Salt & Pepper"}, r, nil))
}

func TestSameText(t *testing.T) {
	assert.True(t, SameText("Handmade mug.\n", "Handmade mug."))
	assert.True(t, SameText("line one\r\nline two", "line one\nline two"))
	assert.False(t, SameText("Handmade mug", "Handmade Mug"))
}

func TestPatchFromDiffPrice(t *testing.T) {
	parsed := catalog.Listing{Price: dec("13.00"), Quantity: catalog.IntPtr(2)}
	patch := PatchFromDiff(parsed, DiffListing(parsed, remoteListing(), nil))
	require.NotNil(t, patch.Price)
	assert.Equal(t, 13.0, *patch.Price)
	require.NotNil(t, patch.Quantity)
	assert.Equal(t, 2, *patch.Quantity)
	assert.Nil(t, patch.Title)
}

func sizeProduct(id int64, size string, valueID int64, amount int64, sku string) etsy.Product {
	return etsy.Product{
		ProductID: id,
		SKU:       sku,
		Offerings: []etsy.Offering{{Price: etsy.Price{Amount: amount, Divisor: 100}, Quantity: 4, IsEnabled: true, ReadinessStateID: 77}},
		PropertyValues: []etsy.PropertyValue{
			{PropertyID: 100, PropertyName: "Size", Values: []string{size}, ValueIDs: []int64{valueID}},
		},
	}
}

func remoteInventory() *etsy.Inventory {
	return &etsy.Inventory{
		Products: []etsy.Product{
			sizeProduct(1, "X", 11, 1000, "X-1"),
			sizeProduct(2, "Y", 12, 1100, "Y-1"),
		},
		PriceOnProperty: []int64{100},
	}
}

func sizeVariation(size string, valueID int64) catalog.Variation {
	return catalog.Variation{
		Properties: []catalog.PropertyValue{{PropertyID: 100, Name: "Size", Value: size, ValueIDs: []int64{valueID}}},
	}
}

func TestMergeKeepsUnmentionedVariations(t *testing.T) {
	x := sizeVariation("X", 11)
	x.Price = dec("15.00")
	parsed := catalog.Listing{ID: 7, HasVariations: true, Variations: []catalog.Variation{x}}

	plan := BuildInventory(parsed, remoteInventory(), 0)
	require.Len(t, plan.Payload.Products, 2)
	assert.True(t, plan.Changed())
	assert.Equal(t, 1, plan.Carried)

	gotX := plan.Payload.Products[0]
	assert.Equal(t, "X-1", gotX.SKU)
	assert.Equal(t, 15.0, gotX.Offerings[0].Price)
	assert.Equal(t, 4, gotX.Offerings[0].Quantity)
	assert.Equal(t, int64(77), gotX.Offerings[0].ReadinessStateID)
	assert.False(t, gotX.IsDeleted)

	gotY := plan.Payload.Products[1]
	assert.Equal(t, "Y-1", gotY.SKU)
	assert.Equal(t, 11.0, gotY.Offerings[0].Price)
	assert.Equal(t, []int64{12}, gotY.PropertyValues[0].ValueIDs)

	require.Len(t, plan.Variations, 1)
	assert.Equal(t, VariationUpdated, plan.Variations[0].Kind)
	assert.Equal(t, []FieldChange{{Field: FieldPrice, Before: "10.00", After: "15.00"}}, plan.Variations[0].Fields)
	assert.Equal(t, []int64{100}, plan.Payload.PriceOnProperty)
}

func TestMergeUnchangedIsNotAWrite(t *testing.T) {
	x := sizeVariation("X", 11)
	x.Price = dec("10")
	y := sizeVariation("Y", 12)
	parsed := catalog.Listing{ID: 7, Quantity: catalog.IntPtr(30), Variations: []catalog.Variation{x, y}}

	plan := BuildInventory(parsed, remoteInventory(), 0)
	assert.False(t, plan.Changed())
	assert.Len(t, plan.Payload.Products, 2)
	assert.Equal(t, 0, plan.Carried)
}

func TestMergeDeletedVariationIsFlagged(t *testing.T) {
	y := sizeVariation("Y", 12)
	y.Deleted = true
	parsed := catalog.Listing{ID: 7, Variations: []catalog.Variation{y}}

	plan := BuildInventory(parsed, remoteInventory(), 0)
	require.Len(t, plan.Payload.Products, 2)
	assert.True(t, plan.Payload.Products[0].IsDeleted)
	assert.Equal(t, "Y-1", plan.Payload.Products[0].SKU)
	assert.False(t, plan.Payload.Products[1].IsDeleted)
	assert.Equal(t, VariationDeleted, plan.Variations[0].Kind)
	assert.True(t, plan.Changed())
}

func TestMergeMatchesByNameWhenIDsMissing(t *testing.T) {
	x := catalog.Variation{
		Properties: []catalog.PropertyValue{{Name: "size", Value: "x"}},
		SKU:        "X-2",
	}
	plan := BuildInventory(catalog.Listing{ID: 7, Variations: []catalog.Variation{x}}, remoteInventory(), 0)
	require.Len(t, plan.Payload.Products, 2)
	assert.Equal(t, "X-2", plan.Payload.Products[0].SKU)
	assert.Equal(t, int64(1), plan.Variations[0].ProductID)
	assert.Equal(t, []int64{100}, plan.Payload.SkuOnProperty)
}

func TestMergeAddsNewVariationAndUnionsOnProperty(t *testing.T) {
	z := catalog.Variation{
		Properties: []catalog.PropertyValue{
			{Name: "Size", Value: "Z"},
			{Name: "Color", Value: "Red"},
		},
		Quantity: catalog.IntPtr(9),
	}
	plan := BuildInventory(catalog.Listing{ID: 7, Price: dec("20"), Variations: []catalog.Variation{z}}, remoteInventory(), 0)
	require.Len(t, plan.Payload.Products, 3)

	added := plan.Payload.Products[0]
	require.Len(t, added.PropertyValues, 2)
	assert.Equal(t, int64(100), added.PropertyValues[0].PropertyID)
	assert.Equal(t, int64(514), added.PropertyValues[1].PropertyID)
	assert.Equal(t, []int64{}, added.PropertyValues[0].ValueIDs)
	assert.Equal(t, 9, added.Offerings[0].Quantity)
	// price varies by property remotely, so the listing price does not apply
	assert.Equal(t, 10.0, added.Offerings[0].Price)
	assert.Equal(t, int64(77), added.Offerings[0].ReadinessStateID)

	assert.Equal(t, []int64{100}, plan.Payload.PriceOnProperty)
	assert.Equal(t, []int64{100, 514}, plan.Payload.QuantityOnProperty)
	assert.Equal(t, VariationAdded, plan.Variations[0].Kind)
}

func sizeColorProduct(id int64, size, color string, amount int64) etsy.Product {
	return etsy.Product{
		ProductID: id,
		SKU:       "MUG",
		Offerings: []etsy.Offering{{Price: etsy.Price{Amount: amount, Divisor: 100}, Quantity: 4, IsEnabled: true}},
		PropertyValues: []etsy.PropertyValue{
			{PropertyID: 100, PropertyName: "Size", Values: []string{size}},
			{PropertyID: 200, PropertyName: "Color", Values: []string{color}},
		},
	}
}

func sizeColorVariation(size, color, price string) catalog.Variation {
	return catalog.Variation{
		Properties: []catalog.PropertyValue{
			{PropertyID: 100, Name: "Size", Value: size},
			{PropertyID: 200, Name: "Color", Value: color},
		},
		Price: dec(price),
	}
}

func TestMergeKeepsRemoteOnPropertyForSameValues(t *testing.T) {
	current := &etsy.Inventory{
		Products:        []etsy.Product{sizeColorProduct(1, "S", "Red", 1000), sizeColorProduct(2, "L", "Red", 1500)},
		PriceOnProperty: []int64{100},
	}
	parsed := catalog.Listing{ID: 7, HasVariations: true, Variations: []catalog.Variation{
		sizeColorVariation("S", "Red", "10.00"),
		sizeColorVariation("L", "Red", "15.00"),
	}}

	plan := BuildInventory(parsed, current, 0)
	assert.False(t, plan.Changed())
	assert.Equal(t, []int64{100}, plan.Payload.PriceOnProperty)
	assert.Empty(t, plan.Payload.QuantityOnProperty)
	assert.Empty(t, plan.Payload.SkuOnProperty)
}

func TestMergeWidensOnPropertyWhenValuesNeedIt(t *testing.T) {
	current := &etsy.Inventory{
		Products:        []etsy.Product{sizeColorProduct(1, "S", "Red", 1000), sizeColorProduct(2, "S", "Blue", 1000)},
		PriceOnProperty: []int64{100},
	}
	parsed := catalog.Listing{ID: 7, HasVariations: true, Variations: []catalog.Variation{
		sizeColorVariation("S", "Red", "10.00"),
		sizeColorVariation("S", "Blue", "12.00"),
	}}

	plan := BuildInventory(parsed, current, 0)
	assert.True(t, plan.Changed())
	assert.Equal(t, []int64{100, 200}, plan.Payload.PriceOnProperty)
}

func TestBuildInventoryForNewSimpleListing(t *testing.T) {
	parsed := catalog.Listing{Title: "New Mug", Price: dec("12.50"), SKU: "M-1"}
	plan := BuildInventory(parsed, nil, 3)
	require.Len(t, plan.Payload.Products, 1)
	p := plan.Payload.Products[0]
	assert.Equal(t, "M-1", p.SKU)
	assert.Empty(t, p.PropertyValues)
	assert.Equal(t, etsy.OfferingUpdate{Price: 12.5, Quantity: 1, IsEnabled: true, ReadinessStateID: 3}, p.Offerings[0])
	assert.True(t, plan.Changed())
}

func TestBuildInventorySimpleUpdate(t *testing.T) {
	current := &etsy.Inventory{Products: []etsy.Product{{
		ProductID: 5,
		SKU:       "OLD",
		Offerings: []etsy.Offering{{Price: etsy.Price{Amount: 100, Divisor: 100}, Quantity: 1, IsEnabled: true}},
	}}}
	assert.False(t, BuildInventory(catalog.Listing{ID: 7, SKU: "OLD"}, current, 0).Changed())
	assert.False(t, BuildInventory(catalog.Listing{ID: 7}, current, 0).Changed())

	plan := BuildInventory(catalog.Listing{ID: 7, SKU: "NEW"}, current, 0)
	assert.True(t, plan.Changed())
	assert.Equal(t, "NEW", plan.Payload.Products[0].SKU)
}

func TestCreateRequest(t *testing.T) {
	req := CreateRequest(catalog.Listing{Title: "New Mug", Price: dec("12.50")}, 1234)
	assert.Equal(t, "New Mug", req.Title)
	assert.Equal(t, "New Mug", req.Description)
	assert.Equal(t, 12.5, req.Price)
	assert.Equal(t, 1, req.Quantity)
	assert.Equal(t, int64(1234), req.TaxonomyID)
}

func TestAdditions(t *testing.T) {
	got := Additions(catalog.Listing{Title: "New Mug", Price: dec("12.5")})
	assert.Equal(t, []FieldChange{
		{Field: FieldTitle, After: "New Mug"},
		{Field: FieldPrice, After: "12.50"},
	}, got)
}
