// Package preview computes the change-set an uploaded sheet would produce,
// without writing anything remotely.
package preview

import (
	"context"
	"fmt"

	"github.com/shopsheet/shopsheet/pkg/catalog"
	"github.com/shopsheet/shopsheet/pkg/changeset"
	"github.com/shopsheet/shopsheet/pkg/etsy"
	"github.com/shopsheet/shopsheet/pkg/reconcile"
	"github.com/shopsheet/shopsheet/pkg/sheet"
	"github.com/shopsheet/shopsheet/pkg/storage"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// DefaultConcurrency bounds remote fetches in flight during a preview.
const DefaultConcurrency = 10

// Change is the reviewable description of one decoded listing.
type Change struct {
	ChangeID   string                      `json:"change_id"`
	Type       ChangeType                  `json:"type"`
	ListingID  int64                       `json:"listing_id"`
	Title      string                      `json:"title"`
	Line       int                         `json:"line"`
	Fields     []reconcile.FieldChange     `json:"fields,omitempty"`
	Variations []reconcile.VariationChange `json:"variations,omitempty"`
	// Unchanged is set for updates that would not write anything.
	Unchanged bool `json:"unchanged,omitempty"`
	// Unavailable is set when the remote listing could not be fetched.
	Unavailable bool   `json:"unavailable,omitempty"`
	Error       string `json:"error,omitempty"`
}

type Summary struct {
	Total       int `json:"total"`
	Creates     int `json:"creates"`
	Updates     int `json:"updates"`
	Deletes     int `json:"deletes"`
	Unchanged   int `json:"unchanged"`
	Unavailable int `json:"unavailable"`
}

type Response struct {
	FileHash string   `json:"file_hash"`
	Changes  []Change `json:"changes"`
	Summary  Summary  `json:"summary"`
}

// Accepted returns the changes whose ids are in the accepted set.
func (r *Response) Accepted(accepted changeset.Accepted) []Change {
	var out []Change
	for _, c := range r.Changes {
		if accepted.Has(c.ChangeID) {
			out = append(out, c)
		}
	}
	return out
}

type Engine struct {
	Catalog     etsy.Catalog
	Concurrency int
	Log         catalog.Logger
}

// Preview decodes data and describes every listing in it. Decode failures are
// returned as is; remote fetch failures only mark the affected change.
func (e *Engine) Preview(ctx context.Context, data []byte) (*Response, error) {
	log := catalog.OrNop(e.Log)
	listings, err := sheet.Decode(data, sheet.WithLogger(log))
	if err != nil {
		return nil, err
	}
	entries := changeset.Assign(listings)

	changes := make([]Change, len(entries))
	limit := e.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, entry := range entries {
		i, entry := i, entry
		l := entry.Listing
		changes[i] = Change{ChangeID: entry.ChangeID, ListingID: l.ID, Title: l.Title, Line: l.Line}

		switch {
		case l.Deleted && l.IsNew():
			changes[i].Type = ChangeDelete
			changes[i].Error = "no listing id, nothing to delete"
		case l.IsNew():
			changes[i].Type = ChangeCreate
			describeCreate(&changes[i], l)
		case l.Deleted:
			changes[i].Type = ChangeDelete
			g.Go(func() error {
				describeDelete(gctx, e.Catalog, &changes[i])
				return nil
			})
		default:
			changes[i].Type = ChangeUpdate
			g.Go(func() error {
				describeUpdate(gctx, e.Catalog, &changes[i], entry.Listing)
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := &Response{FileHash: storage.FileHash(data), Changes: changes}
	resp.Summary = summarize(changes)
	log.Infof("Preview of %d listing(s): %d create, %d update, %d delete, %d unchanged, %d unavailable",
		resp.Summary.Total, resp.Summary.Creates, resp.Summary.Updates, resp.Summary.Deletes, resp.Summary.Unchanged, resp.Summary.Unavailable)
	return resp, nil
}

func describeCreate(c *Change, l catalog.Listing) {
	c.Fields = reconcile.Additions(l)
	if l.HasVariations {
		plan := reconcile.BuildInventory(l, nil, 0)
		c.Variations = plan.Variations
	}
}

func describeDelete(ctx context.Context, cat etsy.Catalog, c *Change) {
	remote, err := cat.GetListing(ctx, c.ListingID)
	if err != nil {
		c.Unavailable = true
		c.Error = err.Error()
		return
	}
	if c.Title == "" {
		c.Title = html.UnescapeString(remote.Title)
	}
}

func describeUpdate(ctx context.Context, cat etsy.Catalog, c *Change, l catalog.Listing) {
	remote, inv, err := FetchListing(ctx, cat, l.ID)
	if err != nil {
		c.Unavailable = true
		c.Error = err.Error()
		return
	}
	if c.Title == "" {
		c.Title = html.UnescapeString(remote.Title)
	}
	c.Fields = reconcile.DiffListing(l, remote, inv)
	plan := reconcile.BuildInventory(l, inv, 0)
	for _, v := range plan.Variations {
		if v.Kind != reconcile.VariationUnchanged {
			c.Variations = append(c.Variations, v)
		}
	}
	c.Unchanged = len(c.Fields) == 0 && !plan.Changed()
}

// FetchListing loads a listing and its inventory.
func FetchListing(ctx context.Context, cat etsy.Catalog, id int64) (*etsy.Listing, *etsy.Inventory, error) {
	remote, err := cat.GetListing(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching listing %d: %w", id, err)
	}
	inv, err := cat.GetInventory(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching inventory of listing %d: %w", id, err)
	}
	remote.Inventory = inv
	return remote, inv, nil
}

func summarize(changes []Change) Summary {
	s := Summary{Total: len(changes)}
	for _, c := range changes {
		switch c.Type {
		case ChangeCreate:
			s.Creates++
		case ChangeDelete:
			s.Deletes++
		case ChangeUpdate:
			s.Updates++
		}
		if c.Unchanged {
			s.Unchanged++
		}
		if c.Unavailable {
			s.Unavailable++
		}
	}
	return s
}
