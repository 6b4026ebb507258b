package preview

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopsheet/shopsheet/pkg/changeset"
	"github.com/shopsheet/shopsheet/pkg/etsy"
	"github.com/shopsheet/shopsheet/pkg/etsy/etsytest"
	"github.com/shopsheet/shopsheet/pkg/reconcile"
	"github.com/shopsheet/shopsheet/pkg/sheet"
	"github.com/shopsheet/shopsheet/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func csvFile(rows ...string) []byte {
	return []byte(strings.Join(append([]string{strings.Join(sheet.Header, ",")}, rows...), "\r\n") + "\r\n")
}

func mug() etsy.Listing {
	return etsy.Listing{
		ListingID: 555,
		Title:     "Old Mug",
		State:     "active",
		Quantity:  3,
		Tags:      []string{"mug"},
		Price:     etsy.Price{Amount: 1000, Divisor: 100, CurrencyCode: "USD"},
	}
}

func TestPreviewCreate(t *testing.T) {
	fake := etsytest.New()
	data := csvFile(",New Mug,,,,N/A,,,,,12.50")
	resp, err := (&Engine{Catalog: fake}).Preview(context.Background(), data)
	require.NoError(t, err)

	require.Len(t, resp.Changes, 1)
	c := resp.Changes[0]
	assert.Equal(t, "change_1", c.ChangeID)
	assert.Equal(t, ChangeCreate, c.Type)
	assert.Equal(t, int64(0), c.ListingID)
	assert.Equal(t, []reconcile.FieldChange{
		{Field: reconcile.FieldTitle, After: "New Mug"},
		{Field: reconcile.FieldPrice, After: "12.50"},
	}, c.Fields)
	assert.Equal(t, Summary{Total: 1, Creates: 1}, resp.Summary)
	assert.Equal(t, storage.FileHash(data), resp.FileHash)
	assert.Empty(t, fake.Calls, "creates need no remote reads")
}

func TestPreviewDelete(t *testing.T) {
	fake := etsytest.New()
	fake.Add(mug(), nil)
	resp, err := (&Engine{Catalog: fake}).Preview(context.Background(), csvFile("555,,,,,N/A,,,,,,,,DELETE"))
	require.NoError(t, err)

	require.Len(t, resp.Changes, 1)
	c := resp.Changes[0]
	assert.Equal(t, ChangeDelete, c.Type)
	assert.Equal(t, int64(555), c.ListingID)
	assert.Equal(t, "Old Mug", c.Title)
	assert.False(t, c.Unavailable)
	assert.Equal(t, 1, resp.Summary.Deletes)
	assert.Zero(t, fake.CallsTo("DeleteListing"))
}

func TestPreviewUpdateDiffs(t *testing.T) {
	fake := etsytest.New()
	fake.Add(mug(), nil)
	resp, err := (&Engine{Catalog: fake}).Preview(context.Background(), csvFile("555,New Mug,,active,mug,N/A,,,,,10.00,USD,3"))
	require.NoError(t, err)

	c := resp.Changes[0]
	assert.Equal(t, ChangeUpdate, c.Type)
	assert.Equal(t, []reconcile.FieldChange{{Field: reconcile.FieldTitle, Before: "Old Mug", After: "New Mug"}}, c.Fields)
	assert.False(t, c.Unchanged)
	assert.Equal(t, 1, resp.Summary.Updates)
	assert.Zero(t, fake.CallsTo("UpdateListing"))
}

func sizeColor(id int64, size, color, sku string, amount int64) etsy.Product {
	return etsy.Product{
		ProductID: id,
		SKU:       sku,
		Offerings: []etsy.Offering{{Price: etsy.Price{Amount: amount, Divisor: 100, CurrencyCode: "USD"}, Quantity: 2, IsEnabled: true}},
		PropertyValues: []etsy.PropertyValue{
			{PropertyID: 100, PropertyName: "Size", Values: []string{size}, ValueIDs: []int64{id*10 + 1}},
			{PropertyID: 200, PropertyName: "Color", Values: []string{color}, ValueIDs: []int64{id*10 + 2}},
		},
	}
}

func TestPreviewUnchangedRoundTrip(t *testing.T) {
	simple := mug()
	simpleInv := &etsy.Inventory{Products: []etsy.Product{{ProductID: 1, Offerings: []etsy.Offering{{Price: simple.Price, Quantity: 3, IsEnabled: true}}}}}

	described := mug()
	described.Description = "  Handmade mug.\nDishwasher safe.\n"

	shirt := etsy.Listing{
		ListingID:     556,
		Title:         "Shirt",
		State:         "active",
		Quantity:      4,
		HasVariations: true,
		Price:         etsy.Price{Amount: 1000, Divisor: 100, CurrencyCode: "USD"},
	}

	tests := []struct {
		name    string
		listing etsy.Listing
		inv     *etsy.Inventory
	}{
		{"no variations", simple, simpleInv},
		{"description with surrounding whitespace", described, simpleInv},
		{"two properties, price on one", shirt, &etsy.Inventory{
			Products: []etsy.Product{
				sizeColor(1, "S", "Red", "SHIRT", 1000),
				sizeColor(2, "L", "Red", "SHIRT", 1500),
			},
			PriceOnProperty: []int64{100},
		}},
		{"price and sku on property", shirt, &etsy.Inventory{
			Products: []etsy.Product{
				sizeColor(1, "S", "Red", "SHIRT-S", 1000),
				sizeColor(2, "L", "Red", "SHIRT-L", 1500),
				sizeColor(3, "L", "Blue", "SHIRT-L", 1500),
			},
			PriceOnProperty: []int64{100},
			SkuOnProperty:   []int64{100},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := etsytest.New()
			fake.Add(tt.listing, tt.inv)
			remote, _, err := FetchListing(context.Background(), fake, tt.listing.ListingID)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, sheet.WriteCSV(&buf, []etsy.Listing{*remote}))
			resp, err := (&Engine{Catalog: fake}).Preview(context.Background(), buf.Bytes())
			require.NoError(t, err)
			require.Len(t, resp.Changes, 1)
			c := resp.Changes[0]
			assert.True(t, c.Unchanged, "%+v", c)
			assert.Empty(t, c.Fields)
			assert.Empty(t, c.Variations)
			assert.Equal(t, 1, resp.Summary.Unchanged)
		})
	}
}

func TestPreviewMarksUnavailable(t *testing.T) {
	fake := etsytest.New()
	fake.Add(mug(), nil)
	fake.Fail("GetInventory", 555, errors.New("connection reset"))

	resp, err := (&Engine{Catalog: fake}).Preview(context.Background(), csvFile(
		"555,New Mug",
		"777,Gone",
		",Fresh",
	))
	require.NoError(t, err)
	require.Len(t, resp.Changes, 3)
	assert.True(t, resp.Changes[0].Unavailable)
	assert.Contains(t, resp.Changes[0].Error, "connection reset")
	assert.True(t, resp.Changes[1].Unavailable)
	assert.Contains(t, resp.Changes[1].Error, "not found")
	assert.False(t, resp.Changes[2].Unavailable)
	assert.Equal(t, Summary{Total: 3, Creates: 1, Updates: 2, Unavailable: 2}, resp.Summary)
}

func TestPreviewVariationDiffs(t *testing.T) {
	fake := etsytest.New()
	fake.Add(etsy.Listing{ListingID: 9, Title: "Shirt", State: "active", HasVariations: true}, &etsy.Inventory{
		Products: []etsy.Product{
			{ProductID: 1, SKU: "S", Offerings: []etsy.Offering{{Price: etsy.Price{Amount: 2000, Divisor: 100}, Quantity: 1, IsEnabled: true}},
				PropertyValues: []etsy.PropertyValue{{PropertyID: 100, PropertyName: "Size", Values: []string{"S"}, ValueIDs: []int64{1}}}},
			{ProductID: 2, SKU: "M", Offerings: []etsy.Offering{{Price: etsy.Price{Amount: 2000, Divisor: 100}, Quantity: 1, IsEnabled: true}},
				PropertyValues: []etsy.PropertyValue{{PropertyID: 100, PropertyName: "Size", Values: []string{"M"}, ValueIDs: []int64{2}}}},
		},
		PriceOnProperty: []int64{100},
	})

	resp, err := (&Engine{Catalog: fake}).Preview(context.Background(), csvFile(
		"9,Shirt,,,,Size: S,Size,S,,,,,,,25.00,,,,,,,1,100,1",
	))
	require.NoError(t, err)
	c := resp.Changes[0]
	assert.Empty(t, c.Fields)
	require.Len(t, c.Variations, 1)
	assert.Equal(t, reconcile.VariationUpdated, c.Variations[0].Kind)
	assert.Equal(t, "Size: S", c.Variations[0].Label)
	assert.Equal(t, []reconcile.FieldChange{{Field: reconcile.FieldPrice, Before: "20.00", After: "25.00"}}, c.Variations[0].Fields)
}

func TestPreviewMalformedFile(t *testing.T) {
	_, err := (&Engine{Catalog: etsytest.New()}).Preview(context.Background(), []byte("just,some\r\nwords,here\r\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, sheet.ErrNoHeader))
}

func TestResponseAccepted(t *testing.T) {
	resp := &Response{Changes: []Change{{ChangeID: "change_1"}, {ChangeID: "change_2"}}}
	got := resp.Accepted(changeset.NewAccepted("change_2"))
	require.Len(t, got, 1)
	assert.Equal(t, "change_2", got[0].ChangeID)
}
