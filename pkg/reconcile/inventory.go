package reconcile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopsheet/shopsheet/pkg/catalog"
	"github.com/shopsheet/shopsheet/pkg/etsy"
	"github.com/shopsheet/shopsheet/pkg/sheet"
	"github.com/shopspring/decimal"
)

type VariationKind string

const (
	VariationAdded     VariationKind = "added"
	VariationUpdated   VariationKind = "updated"
	VariationDeleted   VariationKind = "deleted"
	VariationUnchanged VariationKind = "unchanged"
)

type VariationChange struct {
	Label     string        `json:"label"`
	ProductID int64         `json:"product_id,omitempty"`
	Kind      VariationKind `json:"kind"`
	Fields    []FieldChange `json:"fields,omitempty"`
}

// InventoryPlan is the full inventory write for one listing plus a per-variation
// account of what it changes.
type InventoryPlan struct {
	Payload    etsy.InventoryUpdate
	Variations []VariationChange
	// Carried counts remote products kept as-is because the sheet did not mention them.
	Carried int

	onPropertyChanged bool
	skuChanged        bool
}

// Changed reports whether writing Payload would alter the remote inventory.
func (p InventoryPlan) Changed() bool {
	if p.onPropertyChanged || p.skuChanged {
		return true
	}
	for _, v := range p.Variations {
		if v.Kind != VariationUnchanged {
			return true
		}
	}
	return false
}

// BuildInventory merges the sheet's variations into the current remote
// inventory. The remote endpoint replaces the whole product list, so every
// existing product the sheet does not mention is carried forward unchanged and
// deleted variations are sent with is_deleted set instead of being left out.
// current is nil for listings that do not exist yet.
func BuildInventory(parsed catalog.Listing, current *etsy.Inventory, readinessStateID int64) InventoryPlan {
	b := inventoryBuilder{
		parsed:    parsed,
		current:   current,
		readiness: readinessStateID,
		isNew:     current == nil,
	}
	if b.isNew {
		b.current = &etsy.Inventory{}
	}
	if b.readiness == 0 {
		b.readiness = existingReadiness(b.current)
	}
	if len(parsed.Variations) == 0 {
		return b.single()
	}
	return b.merge()
}

type inventoryBuilder struct {
	parsed    catalog.Listing
	current   *etsy.Inventory
	readiness int64
	isNew     bool
}

// single handles listings without variations: one product without property values.
func (b inventoryBuilder) single() InventoryPlan {
	var plan InventoryPlan
	plan.Payload = etsy.InventoryUpdate{
		PriceOnProperty:    nonNil(b.current.PriceOnProperty),
		QuantityOnProperty: nonNil(b.current.QuantityOnProperty),
		SkuOnProperty:      nonNil(b.current.SkuOnProperty),
	}

	if b.isNew {
		price := decimal.Zero
		if b.parsed.Price != nil {
			price = *b.parsed.Price
		}
		qty := 1
		if b.parsed.Quantity != nil {
			qty = *b.parsed.Quantity
		}
		plan.Payload.Products = []etsy.ProductUpdate{{
			SKU:            b.parsed.SKU,
			PropertyValues: []etsy.PropertyValueUpdate{},
			Offerings:      []etsy.OfferingUpdate{b.offering(price, qty, true, 0)},
		}}
		plan.Variations = []VariationChange{{Label: sheet.NoVariation, Kind: VariationAdded, Fields: additions(price, qty, b.parsed.SKU)}}
		return plan
	}

	for _, p := range b.current.Products {
		up := b.carry(p)
		if len(b.current.Products) == 1 && len(p.PropertyValues) == 0 && b.parsed.SKU != "" && b.parsed.SKU != p.SKU {
			up.SKU = b.parsed.SKU
			plan.skuChanged = true
			plan.Variations = append(plan.Variations, VariationChange{
				Label:     sheet.NoVariation,
				ProductID: p.ProductID,
				Kind:      VariationUpdated,
				Fields:    []FieldChange{{Field: FieldSKU, Before: p.SKU, After: b.parsed.SKU}},
			})
		}
		plan.Payload.Products = append(plan.Payload.Products, up)
	}
	return plan
}

func (b inventoryBuilder) merge() InventoryPlan {
	var plan InventoryPlan

	existing := make([]etsy.Product, 0, len(b.current.Products))
	for _, p := range b.current.Products {
		// A bare product is the inventory of a listing without variations; the
		// sheet's variations replace it.
		if len(p.PropertyValues) == 0 || p.IsDeleted {
			continue
		}
		existing = append(existing, p)
	}
	byID := make(map[string]int, len(existing))
	byName := make(map[string]int, len(existing))
	for i, p := range existing {
		if sig, ok := wireIDSignature(p.PropertyValues); ok {
			byID[sig] = i
		}
		byName[wireNameSignature(p.PropertyValues)] = i
	}

	priceOn := toSet(b.current.PriceOnProperty)
	qtyOn := toSet(b.current.QuantityOnProperty)
	skuOn := toSet(b.current.SkuOnProperty)
	priceVaries := len(priceOn) > 0
	qtyVaries := len(qtyOn) > 0

	matched := make(map[int]bool, len(existing))
	seen := make(map[string]bool, len(b.parsed.Variations))

	for _, v := range b.parsed.Variations {
		props := b.resolveProperties(v.Properties, existing)
		if len(props) == 0 {
			continue
		}
		nameSig := propNameSignature(props)
		if seen[nameSig] {
			continue
		}
		seen[nameSig] = true

		idx, found := -1, false
		if sig, ok := propIDSignature(props); ok {
			idx, found = byID[sig]
		}
		if !found {
			idx, found = byName[nameSig]
		}
		if found && matched[idx] {
			found = false
		}

		if !found {
			if v.Deleted {
				continue
			}
			price := firstDecimal(v.Price, b.listingPrice(priceVaries), b.anyExistingPrice(existing))
			qty := firstInt(v.Quantity, b.listingQuantity(qtyVaries), catalog.IntPtr(1))
			plan.Payload.Products = append(plan.Payload.Products, etsy.ProductUpdate{
				SKU:            v.SKU,
				PropertyValues: propertyUpdates(props),
				Offerings:      []etsy.OfferingUpdate{b.offering(price, qty, true, 0)},
			})
			plan.Variations = append(plan.Variations, VariationChange{
				Label:  v.Label(),
				Kind:   VariationAdded,
				Fields: additions(price, qty, v.SKU),
			})
			continue
		}

		matched[idx] = true
		e := existing[idx]
		off, _ := e.Offering()
		before := off.Price.Decimal()
		// Listing-level price and quantity only seed new variations; existing
		// ones change through their own columns.
		price := firstDecimal(v.Price, &before)
		qty := firstInt(v.Quantity, &off.Quantity)
		sku := e.SKU
		if v.SKU != "" {
			sku = v.SKU
		}

		up := etsy.ProductUpdate{
			SKU:            sku,
			PropertyValues: wirePropertyUpdates(e.PropertyValues),
			Offerings:      []etsy.OfferingUpdate{b.offering(price, qty, off.IsEnabled || len(e.Offerings) == 0, off.ReadinessStateID)},
			IsDeleted:      v.Deleted,
		}
		plan.Payload.Products = append(plan.Payload.Products, up)

		change := VariationChange{Label: v.Label(), ProductID: e.ProductID, Kind: VariationUnchanged}
		if v.Deleted {
			change.Kind = VariationDeleted
		} else {
			if PriceDiffers(price, before) {
				change.Fields = append(change.Fields, FieldChange{Field: FieldPrice, Before: before.StringFixed(2), After: price.StringFixed(2)})
			}
			if qty != off.Quantity {
				change.Fields = append(change.Fields, FieldChange{Field: FieldQuantity, Before: strconv.Itoa(off.Quantity), After: strconv.Itoa(qty)})
			}
			if sku != e.SKU {
				change.Fields = append(change.Fields, FieldChange{Field: FieldSKU, Before: e.SKU, After: sku})
			}
			if len(change.Fields) > 0 {
				change.Kind = VariationUpdated
			}
		}
		plan.Variations = append(plan.Variations, change)
	}

	for i, e := range existing {
		if matched[i] {
			continue
		}
		plan.Payload.Products = append(plan.Payload.Products, b.carry(e))
		plan.Carried++
	}

	widenOnProperty(priceOn, plan.Payload.Products, func(p etsy.ProductUpdate) string {
		return decimal.NewFromFloat(p.Offerings[0].Price).StringFixed(2)
	})
	widenOnProperty(qtyOn, plan.Payload.Products, func(p etsy.ProductUpdate) string {
		return strconv.Itoa(p.Offerings[0].Quantity)
	})
	widenOnProperty(skuOn, plan.Payload.Products, func(p etsy.ProductUpdate) string { return p.SKU })

	plan.Payload.PriceOnProperty = sortedKeys(priceOn)
	plan.Payload.QuantityOnProperty = sortedKeys(qtyOn)
	plan.Payload.SkuOnProperty = sortedKeys(skuOn)
	plan.onPropertyChanged = !sameIDs(plan.Payload.PriceOnProperty, b.current.PriceOnProperty) ||
		!sameIDs(plan.Payload.QuantityOnProperty, b.current.QuantityOnProperty) ||
		!sameIDs(plan.Payload.SkuOnProperty, b.current.SkuOnProperty)
	return plan
}

// widenOnProperty adds to set the properties needed to explain why two live
// products carry different values. A pair already told apart by a property in
// set adds nothing, so the remote set survives an unedited round trip.
func widenOnProperty(set map[int64]struct{}, products []etsy.ProductUpdate, value func(etsy.ProductUpdate) string) {
	var live []etsy.ProductUpdate
	for _, p := range products {
		if !p.IsDeleted && len(p.Offerings) > 0 && len(p.PropertyValues) > 0 {
			live = append(live, p)
		}
	}
	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			if value(live[i]) == value(live[j]) {
				continue
			}
			differing := differingProperties(live[i].PropertyValues, live[j].PropertyValues)
			explained := false
			for _, id := range differing {
				if _, ok := set[id]; ok {
					explained = true
					break
				}
			}
			if explained {
				continue
			}
			for _, id := range differing {
				set[id] = struct{}{}
			}
		}
	}
}

// differingProperties returns the property ids whose values differ between a
// and b, including properties present on only one side.
func differingProperties(a, b []etsy.PropertyValueUpdate) []int64 {
	values := func(pvs []etsy.PropertyValueUpdate) map[int64]string {
		m := make(map[int64]string, len(pvs))
		for _, pv := range pvs {
			m[pv.PropertyID] = strings.ToLower(strings.Join(pv.Values, "|"))
		}
		return m
	}
	va, vb := values(a), values(b)
	var out []int64
	for id, v := range va {
		if w, ok := vb[id]; !ok || w != v {
			out = append(out, id)
		}
	}
	for id := range vb {
		if _, ok := va[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// resolveProperties fills missing property and option ids from the existing
// products. A property without a known id gets one of the custom ids.
func (b inventoryBuilder) resolveProperties(props []catalog.PropertyValue, existing []etsy.Product) []catalog.PropertyValue {
	out := make([]catalog.PropertyValue, 0, len(props))
	for i, p := range props {
		if strings.TrimSpace(p.Value) == "" || i >= 2 {
			continue
		}
		if p.PropertyID == 0 {
			p.PropertyID = propertyIDByName(existing, p.Name)
		}
		if p.PropertyID == 0 {
			p.PropertyID = sheet.CustomPropertyID1
			if i == 1 {
				p.PropertyID = sheet.CustomPropertyID2
			}
		}
		if len(p.ValueIDs) == 0 {
			p.ValueIDs = valueIDsByValue(existing, p.PropertyID, p.Value)
		}
		out = append(out, p)
	}
	return out
}

func (b inventoryBuilder) listingPrice(varies bool) *decimal.Decimal {
	if varies {
		return nil
	}
	return b.parsed.Price
}

func (b inventoryBuilder) listingQuantity(varies bool) *int {
	if varies {
		return nil
	}
	return b.parsed.Quantity
}

func (b inventoryBuilder) anyExistingPrice(existing []etsy.Product) *decimal.Decimal {
	for _, p := range existing {
		if off, ok := p.Offering(); ok {
			d := off.Price.Decimal()
			return &d
		}
	}
	return nil
}

func (b inventoryBuilder) offering(price decimal.Decimal, qty int, enabled bool, readiness int64) etsy.OfferingUpdate {
	if readiness == 0 {
		readiness = b.readiness
	}
	return etsy.OfferingUpdate{
		Price:            price.InexactFloat64(),
		Quantity:         qty,
		IsEnabled:        enabled,
		ReadinessStateID: readiness,
	}
}

// carry copies an existing product into the write payload unchanged.
func (b inventoryBuilder) carry(p etsy.Product) etsy.ProductUpdate {
	up := etsy.ProductUpdate{
		SKU:            p.SKU,
		PropertyValues: wirePropertyUpdates(p.PropertyValues),
		IsDeleted:      p.IsDeleted,
	}
	if off, ok := p.Offering(); ok {
		up.Offerings = []etsy.OfferingUpdate{b.offering(off.Price.Decimal(), off.Quantity, off.IsEnabled, off.ReadinessStateID)}
	}
	return up
}

func existingReadiness(inv *etsy.Inventory) int64 {
	for _, p := range inv.Products {
		if off, ok := p.Offering(); ok && off.ReadinessStateID != 0 {
			return off.ReadinessStateID
		}
	}
	return 0
}

func propertyIDByName(existing []etsy.Product, name string) int64 {
	if name == "" {
		return 0
	}
	for _, p := range existing {
		for _, pv := range p.PropertyValues {
			if strings.EqualFold(pv.PropertyName, name) {
				return pv.PropertyID
			}
		}
	}
	return 0
}

func valueIDsByValue(existing []etsy.Product, propertyID int64, value string) []int64 {
	for _, p := range existing {
		for _, pv := range p.PropertyValues {
			if pv.PropertyID == propertyID && strings.EqualFold(strings.Join(pv.Values, ", "), value) {
				return append([]int64(nil), pv.ValueIDs...)
			}
		}
	}
	return nil
}

// Signatures. The id form is sorted (property id, sorted option ids) pairs and
// is only available when every property carries option ids. The name form is
// the fallback and matches on lowercased name and value.

func propIDSignature(props []catalog.PropertyValue) (string, bool) {
	parts := make([]string, 0, len(props))
	for _, p := range props {
		if p.PropertyID == 0 || len(p.ValueIDs) == 0 {
			return "", false
		}
		parts = append(parts, idPair(p.PropertyID, p.ValueIDs))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|"), true
}

func wireIDSignature(pvs []etsy.PropertyValue) (string, bool) {
	parts := make([]string, 0, len(pvs))
	for _, p := range pvs {
		if len(p.ValueIDs) == 0 {
			return "", false
		}
		parts = append(parts, idPair(p.PropertyID, p.ValueIDs))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|"), true
}

func propNameSignature(props []catalog.PropertyValue) string {
	parts := make([]string, 0, len(props))
	for _, p := range props {
		parts = append(parts, namePair(p.Name, p.Value))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

func wireNameSignature(pvs []etsy.PropertyValue) string {
	parts := make([]string, 0, len(pvs))
	for _, p := range pvs {
		parts = append(parts, namePair(p.PropertyName, strings.Join(p.Values, ", ")))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

func idPair(propertyID int64, valueIDs []int64) string {
	ids := append([]int64(nil), valueIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("%d:%s", propertyID, strings.Join(s, ","))
}

func namePair(name, value string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "=" + strings.ToLower(strings.TrimSpace(value))
}

func propertyUpdates(props []catalog.PropertyValue) []etsy.PropertyValueUpdate {
	out := make([]etsy.PropertyValueUpdate, len(props))
	for i, p := range props {
		out[i] = etsy.PropertyValueUpdate{
			PropertyID:   p.PropertyID,
			PropertyName: p.Name,
			ValueIDs:     nonNil(p.ValueIDs),
			Values:       []string{p.Value},
		}
	}
	return out
}

func wirePropertyUpdates(pvs []etsy.PropertyValue) []etsy.PropertyValueUpdate {
	out := make([]etsy.PropertyValueUpdate, len(pvs))
	for i, p := range pvs {
		out[i] = etsy.PropertyValueUpdate{
			PropertyID:   p.PropertyID,
			PropertyName: p.PropertyName,
			ScaleID:      p.ScaleID,
			ValueIDs:     nonNil(p.ValueIDs),
			Values:       append([]string{}, p.Values...),
		}
	}
	return out
}

func additions(price decimal.Decimal, qty int, sku string) []FieldChange {
	out := []FieldChange{
		{Field: FieldPrice, After: price.StringFixed(2)},
		{Field: FieldQuantity, After: strconv.Itoa(qty)},
	}
	if sku != "" {
		out = append(out, FieldChange{Field: FieldSKU, After: sku})
	}
	return out
}

func firstDecimal(vals ...*decimal.Decimal) decimal.Decimal {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return decimal.Zero
}

func firstInt(vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

func toSet(ids []int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func sortedKeys(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sameIDs(a, b []int64) bool {
	sa, sb := toSet(a), toSet(b)
	if len(sa) != len(sb) {
		return false
	}
	for id := range sa {
		if _, ok := sb[id]; !ok {
			return false
		}
	}
	return true
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
