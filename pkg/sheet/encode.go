package sheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopsheet/shopsheet/pkg/etsy"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"
)

// SheetName is the worksheet name used for XLSX exports.
const SheetName = "Listings"

// Encode renders listings as sheet rows: the advisory rows, the header, then
// one row per variation (or one row for a listing without variations).
func Encode(listings []etsy.Listing) [][]string {
	rows := make([][]string, 0, len(listings)+len(advisoryRows)+1)
	for _, a := range advisoryRows {
		rows = append(rows, []string{a})
	}
	rows = append(rows, append([]string(nil), Header...))
	for i := range listings {
		rows = append(rows, encodeListing(&listings[i])...)
	}
	return rows
}

// WriteCSV writes the encoded listings as CRLF-terminated CSV.
func WriteCSV(w io.Writer, listings []etsy.Listing) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.WriteAll(Encode(listings)); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

// WriteXLSX writes the encoded listings as a single-sheet workbook. Every cell
// is a string so values like 12.50 keep their formatting.
func WriteXLSX(w io.Writer, listings []etsy.Listing) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	headerRow := len(advisoryRows)
	for i, row := range Encode(listings) {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			if i == headerRow {
				cells[j] = excelize.Cell{StyleID: bold, Value: v}
			} else {
				cells[j] = v
			}
		}
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := sw.SetRow(axis, cells); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

func encodeListing(l *etsy.Listing) [][]string {
	products := activeProducts(l)
	if !l.HasVariations || len(products) == 0 {
		row := listingRow(l)
		row[ColVariation] = NoVariation
		row[ColPrice] = formatMoney(l.Price)
		row[ColQuantity] = strconv.Itoa(l.Quantity)
		row[ColSKU] = listingSKU(l)
		return [][]string{row}
	}

	inv := l.Inventory
	priceVaries := len(inv.PriceOnProperty) > 0
	qtyVaries := len(inv.QuantityOnProperty) > 0
	skuVaries := len(inv.SkuOnProperty) > 0

	rows := make([][]string, 0, len(products))
	for i, p := range products {
		var row []string
		if i == 0 {
			row = listingRow(l)
			if !priceVaries {
				row[ColPrice] = formatMoney(l.Price)
			}
			if !qtyVaries {
				row[ColQuantity] = strconv.Itoa(l.Quantity)
			}
			if !skuVaries {
				row[ColSKU] = p.SKU
			}
		} else {
			row = make([]string, NumColumns)
			row[ColListingID] = strconv.FormatInt(l.ListingID, 10)
		}

		off, _ := p.Offering()
		if priceVaries {
			row[ColVariationPrice] = formatMoney(off.Price)
		}
		if qtyVaries {
			row[ColVariationQuantity] = strconv.Itoa(off.Quantity)
		}
		if skuVaries {
			row[ColVariationSKU] = p.SKU
		}

		row[ColVariation] = variationLabel(p.PropertyValues)
		row[ColProductID] = strconv.FormatInt(p.ProductID, 10)
		propCols := [2][4]int{
			{ColProp1Name, ColProp1Value, ColProp1ID, ColProp1OptionIDs},
			{ColProp2Name, ColProp2Value, ColProp2ID, ColProp2OptionIDs},
		}
		for j, pv := range p.PropertyValues {
			if j >= len(propCols) {
				break
			}
			c := propCols[j]
			row[c[0]] = pv.PropertyName
			row[c[1]] = strings.Join(pv.Values, listSep)
			row[c[2]] = strconv.FormatInt(pv.PropertyID, 10)
			row[c[3]] = joinIDs(pv.ValueIDs)
		}
		rows = append(rows, row)
	}
	return rows
}

// listingRow fills the listing-level columns that appear on the first row only.
func listingRow(l *etsy.Listing) []string {
	row := make([]string, NumColumns)
	row[ColListingID] = strconv.FormatInt(l.ListingID, 10)
	row[ColTitle] = html.UnescapeString(l.Title)
	row[ColDescription] = html.UnescapeString(l.Description)
	row[ColStatus] = l.State
	row[ColTags] = strings.Join(l.Tags, listSep)
	row[ColCurrency] = l.Price.CurrencyCode
	row[ColMaterials] = strings.Join(l.Materials, listSep)
	if l.ShippingProfileID != 0 {
		row[ColShippingProfileID] = strconv.FormatInt(l.ShippingProfileID, 10)
	}
	if l.ProcessingMin != nil {
		row[ColProcessingMin] = strconv.Itoa(*l.ProcessingMin)
	}
	if l.ProcessingMax != nil {
		row[ColProcessingMax] = strconv.Itoa(*l.ProcessingMax)
	}
	return row
}

// activeProducts keeps non-deleted products whose first offering is enabled.
func activeProducts(l *etsy.Listing) []etsy.Product {
	if l.Inventory == nil {
		return nil
	}
	var out []etsy.Product
	for _, p := range l.Inventory.Products {
		if p.IsDeleted || len(p.PropertyValues) == 0 {
			continue
		}
		off, ok := p.Offering()
		if !ok || !off.IsEnabled || off.IsDeleted {
			continue
		}
		out = append(out, p)
	}
	return out
}

func listingSKU(l *etsy.Listing) string {
	if len(l.Skus) > 0 {
		return l.Skus[0]
	}
	if l.Inventory != nil && len(l.Inventory.Products) > 0 {
		return l.Inventory.Products[0].SKU
	}
	return ""
}

func variationLabel(pvs []etsy.PropertyValue) string {
	parts := make([]string, 0, len(pvs))
	for _, pv := range pvs {
		v := strings.Join(pv.Values, listSep)
		if pv.PropertyName == "" {
			parts = append(parts, v)
			continue
		}
		parts = append(parts, pv.PropertyName+": "+v)
	}
	return strings.Join(parts, " / ")
}

func formatMoney(p etsy.Price) string {
	return p.Decimal().StringFixed(2)
}

func joinIDs(ids []int64) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(s, listSep)
}
