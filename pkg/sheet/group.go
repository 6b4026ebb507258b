package sheet

import (
	"strings"

	"github.com/shopsheet/shopsheet/pkg/catalog"
)

type rowGroup struct {
	id    int64
	title string
	rows  []row
}

// orphan groups have rows but nothing identifying which listing they belong to.
func (g rowGroup) orphan() bool { return g.id == 0 && g.title == "" }

// groupRows folds contiguous rows into listing groups. A row opens a new group
// when there is no group yet, when it carries a nonzero id different from the
// group's id, or when it has no id and a nonblank title different from the
// group's title. Every other row joins the current group.
func groupRows(rows []row) []rowGroup {
	var groups []rowGroup
	for _, r := range rows {
		id := parseID(r.get(ColListingID))
		title := r.get(ColTitle)

		if n := len(groups); n > 0 {
			cur := &groups[n-1]
			switch {
			case id != 0 && id != cur.id:
			case id == 0 && title != "" && title != cur.title:
			default:
				cur.rows = append(cur.rows, r)
				continue
			}
		}
		groups = append(groups, rowGroup{id: id, title: title, rows: []row{r}})
	}
	return groups
}

// buildListing maps one group to a listing. Listing-level fields come from the
// opening row and are backfilled from later rows when the opening row left
// them blank. Rows carrying property values become variations.
func buildListing(g rowGroup) catalog.Listing {
	l := catalog.Listing{ID: g.id, Line: g.rows[0].line}

	first := func(col int) string {
		for _, r := range g.rows {
			if v := r.get(col); v != "" {
				return v
			}
		}
		return ""
	}

	firstText := func(col int) string {
		for _, r := range g.rows {
			if v := r.text(col); v != "" {
				return v
			}
		}
		return ""
	}

	l.Title = firstText(ColTitle)
	l.Description = firstText(ColDescription)
	if st, ok := catalog.ParseState(first(ColStatus)); ok {
		l.State = st
	}
	l.Tags = splitList(first(ColTags))
	l.Materials = splitList(first(ColMaterials))
	l.Price = ParsePrice(first(ColPrice))
	l.CurrencyCode = strings.ToUpper(first(ColCurrency))
	l.Quantity = parseQuantity(first(ColQuantity))
	l.ShippingProfileID = parseID(first(ColShippingProfileID))
	l.ProcessingMin = parseQuantity(first(ColProcessingMin))
	l.ProcessingMax = parseQuantity(first(ColProcessingMax))

	if sku := first(ColSKU); strings.EqualFold(sku, DeleteSentinel) {
		l.Deleted = true
	} else {
		l.SKU = sku
	}

	for _, r := range g.rows {
		if v, ok := buildVariation(r); ok {
			l.Variations = append(l.Variations, v)
		}
	}
	l.HasVariations = len(l.Variations) > 0
	return l
}

func buildVariation(r row) (catalog.Variation, bool) {
	var v catalog.Variation
	propCols := [2][4]int{
		{ColProp1Name, ColProp1Value, ColProp1ID, ColProp1OptionIDs},
		{ColProp2Name, ColProp2Value, ColProp2ID, ColProp2OptionIDs},
	}
	for _, c := range propCols {
		value := r.get(c[1])
		if value == "" {
			continue
		}
		v.Properties = append(v.Properties, catalog.PropertyValue{
			PropertyID: parseID(r.get(c[2])),
			Name:       r.get(c[0]),
			Value:      value,
			ValueIDs:   parseIDList(r.get(c[3])),
		})
	}
	// A variation without property values cannot exist remotely.
	if len(v.Properties) == 0 {
		return catalog.Variation{}, false
	}

	v.ProductID = parseID(r.get(ColProductID))
	v.Price = ParsePrice(r.get(ColVariationPrice))
	v.Quantity = parseQuantity(r.get(ColVariationQuantity))
	if sku := r.get(ColVariationSKU); strings.EqualFold(sku, DeleteSentinel) {
		v.Deleted = true
	} else {
		v.SKU = sku
	}
	return v, true
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
