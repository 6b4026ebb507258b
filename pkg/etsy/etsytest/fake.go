// Package etsytest provides an in-memory etsy.Catalog for tests.
package etsytest

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"

	"github.com/shopsheet/shopsheet/pkg/etsy"
)

type Call struct {
	Method    string
	ListingID int64
}

// Fake is a goroutine-safe in-memory catalog that records every call.
type Fake struct {
	mu sync.Mutex

	Listings    map[int64]*etsy.Listing
	Inventories map[int64]*etsy.Inventory
	NextID      int64

	Calls           []Call
	Created         []etsy.CreateListingRequest
	Patches         map[int64][]etsy.ListingPatch
	InventoryWrites map[int64][]etsy.InventoryUpdate

	failures map[string]error
}

var _ etsy.Catalog = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		Listings:        map[int64]*etsy.Listing{},
		Inventories:     map[int64]*etsy.Inventory{},
		NextID:          1000,
		Patches:         map[int64][]etsy.ListingPatch{},
		InventoryWrites: map[int64][]etsy.InventoryUpdate{},
		failures:        map[string]error{},
	}
}

// Add stores a listing and its inventory.
func (f *Fake) Add(l etsy.Listing, inv *etsy.Inventory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inv == nil {
		inv = &etsy.Inventory{}
	}
	f.Listings[l.ListingID] = &l
	f.Inventories[l.ListingID] = inv
}

// Fail makes every call of method for listingID return err. A listingID of 0
// matches calls without a listing id (ListListings, CreateListing).
func (f *Fake) Fail(method string, listingID int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key(method, listingID)] = err
}

// Clear removes every injected failure.
func (f *Fake) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = map[string]error{}
}

// CallsTo counts calls of method.
func (f *Fake) CallsTo(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// CalledIDs lists the listing ids method was called with, in call order.
func (f *Fake) CalledIDs(method string) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, c := range f.Calls {
		if c.Method == method {
			out = append(out, c.ListingID)
		}
	}
	return out
}

func key(method string, id int64) string { return fmt.Sprintf("%s:%d", method, id) }

// record must be called with f.mu held.
func (f *Fake) record(method string, id int64) error {
	f.Calls = append(f.Calls, Call{Method: method, ListingID: id})
	if err, ok := f.failures[key(method, id)]; ok {
		return err
	}
	return nil
}

func notFound(method string, id int64) error {
	return &etsy.APIError{StatusCode: http.StatusNotFound, Method: method, Path: fmt.Sprintf("/listings/%d", id), Message: "listing not found"}
}

func (f *Fake) GetListing(ctx context.Context, id int64) (*etsy.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetListing", id); err != nil {
		return nil, err
	}
	l, ok := f.Listings[id]
	if !ok {
		return nil, notFound(http.MethodGet, id)
	}
	cp := *l
	cp.Inventory = nil
	return &cp, nil
}

func (f *Fake) GetInventory(ctx context.Context, id int64) (*etsy.Inventory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetInventory", id); err != nil {
		return nil, err
	}
	inv, ok := f.Inventories[id]
	if !ok {
		return nil, notFound(http.MethodGet, id)
	}
	cp := *inv
	cp.Products = append([]etsy.Product(nil), inv.Products...)
	return &cp, nil
}

func (f *Fake) ListListings(ctx context.Context, opts etsy.ListOptions) (*etsy.ListingsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListListings", 0); err != nil {
		return nil, err
	}
	var ids []int64
	for id, l := range f.Listings {
		if opts.State == "" || l.State == opts.State {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	page := &etsy.ListingsPage{Count: len(ids)}
	if opts.Offset < len(ids) {
		ids = ids[opts.Offset:]
	} else {
		ids = nil
	}
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	for _, id := range ids {
		cp := *f.Listings[id]
		cp.Inventory = nil
		page.Results = append(page.Results, cp)
	}
	return page, nil
}

func (f *Fake) CreateListing(ctx context.Context, req etsy.CreateListingRequest) (*etsy.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateListing", 0); err != nil {
		return nil, err
	}
	f.NextID++
	l := &etsy.Listing{
		ListingID:   f.NextID,
		Title:       req.Title,
		Description: req.Description,
		State:       "draft",
		Quantity:    req.Quantity,
		Tags:        req.Tags,
		Materials:   req.Materials,
		TaxonomyID:  req.TaxonomyID,
		Price:       toPrice(req.Price),
	}
	f.Created = append(f.Created, req)
	f.Listings[l.ListingID] = l
	f.Inventories[l.ListingID] = &etsy.Inventory{}
	cp := *l
	return &cp, nil
}

func (f *Fake) UpdateListing(ctx context.Context, id int64, patch etsy.ListingPatch) (*etsy.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateListing", id); err != nil {
		return nil, err
	}
	l, ok := f.Listings[id]
	if !ok {
		return nil, notFound(http.MethodPatch, id)
	}
	f.Patches[id] = append(f.Patches[id], patch)
	if patch.Title != nil {
		l.Title = *patch.Title
	}
	if patch.Description != nil {
		l.Description = *patch.Description
	}
	if patch.State != nil {
		l.State = *patch.State
	}
	if patch.Tags != nil {
		l.Tags = patch.Tags
	}
	if patch.Materials != nil {
		l.Materials = patch.Materials
	}
	if patch.Price != nil {
		l.Price = toPrice(*patch.Price)
	}
	if patch.Quantity != nil {
		l.Quantity = *patch.Quantity
	}
	cp := *l
	return &cp, nil
}

func (f *Fake) DeleteListing(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteListing", id); err != nil {
		return err
	}
	if _, ok := f.Listings[id]; !ok {
		return notFound(http.MethodDelete, id)
	}
	delete(f.Listings, id)
	delete(f.Inventories, id)
	return nil
}

func (f *Fake) UpdateInventory(ctx context.Context, id int64, up etsy.InventoryUpdate) (*etsy.Inventory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateInventory", id); err != nil {
		return nil, err
	}
	if _, ok := f.Listings[id]; !ok {
		return nil, notFound(http.MethodPut, id)
	}
	f.InventoryWrites[id] = append(f.InventoryWrites[id], up)

	inv := &etsy.Inventory{
		PriceOnProperty:    up.PriceOnProperty,
		QuantityOnProperty: up.QuantityOnProperty,
		SkuOnProperty:      up.SkuOnProperty,
	}
	for i, p := range up.Products {
		if p.IsDeleted {
			continue
		}
		prod := etsy.Product{ProductID: id*100 + int64(i) + 1, SKU: p.SKU}
		for _, pv := range p.PropertyValues {
			prod.PropertyValues = append(prod.PropertyValues, etsy.PropertyValue{
				PropertyID: pv.PropertyID, PropertyName: pv.PropertyName, ScaleID: pv.ScaleID, ValueIDs: pv.ValueIDs, Values: pv.Values,
			})
		}
		for _, o := range p.Offerings {
			prod.Offerings = append(prod.Offerings, etsy.Offering{
				Price: toPrice(o.Price), Quantity: o.Quantity, IsEnabled: o.IsEnabled, ReadinessStateID: o.ReadinessStateID,
			})
		}
		inv.Products = append(inv.Products, prod)
	}
	f.Inventories[id] = inv
	cp := *inv
	return &cp, nil
}

func toPrice(v float64) etsy.Price {
	return etsy.Price{Amount: int64(math.Round(v * 100)), Divisor: 100, CurrencyCode: "USD"}
}
