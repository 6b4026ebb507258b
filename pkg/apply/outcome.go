package apply

import (
	"context"
	"fmt"
	"time"

	"github.com/shopsheet/shopsheet/pkg/catalog"
	"github.com/shopsheet/shopsheet/pkg/changeset"
	"github.com/shopsheet/shopsheet/pkg/etsy"
	"github.com/shopsheet/shopsheet/pkg/preview"
	"github.com/shopsheet/shopsheet/pkg/reconcile"
	"github.com/shopsheet/shopsheet/pkg/storage"
)

// outcome is what processing one listing produced. The batch driver merges
// outcomes into the checkpoint; process itself touches no shared state.
type outcome struct {
	entry     changeset.Entry
	action    string
	listingID int64
	created   bool
	// skipped marks a no-op that is neither a success nor a failure.
	skipped bool
	warning string
	err     error
	at      time.Time
}

func (o outcome) mergeInto(p *storage.UploadProgress, res *Result) {
	if o.warning != "" {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", o.entry.ChangeID, o.warning))
	}
	if o.created {
		p.Created = append(p.Created, o.listingID)
	}
	switch {
	case o.err != nil:
		p.Failed = append(p.Failed, storage.FailedEntity{
			ListingID: o.listingID,
			ChangeID:  o.entry.ChangeID,
			Title:     o.entry.Listing.Title,
			Error:     o.err.Error(),
		})
	case o.skipped, o.created:
	default:
		p.Succeeded = append(p.Succeeded, o.listingID)
	}
}

func (o outcome) record(runID, hash string) storage.Outcome {
	rec := storage.Outcome{
		OccurredAt: o.at,
		RunID:      runID,
		FileHash:   hash,
		ChangeID:   o.entry.ChangeID,
		ListingID:  o.listingID,
		Action:     o.action,
		Status:     storage.StatusOK,
	}
	if o.err != nil {
		rec.Status = storage.StatusFailed
		rec.Error = o.err.Error()
	}
	return rec
}

func (e *Engine) process(ctx context.Context, en changeset.Entry, pre *remoteState, d CreateDefaults) outcome {
	l := en.Listing
	var o outcome
	switch {
	case l.Deleted:
		o = e.deleteListing(ctx, l)
	case l.IsNew():
		o = e.createListing(ctx, l, d)
	default:
		o = e.updateListing(ctx, l, pre, d)
	}
	o.entry = en
	o.at = time.Now().UTC()
	if o.err != nil {
		catalog.OrNop(e.Log).Warnf("%s %s (line %d) failed: %v", en.ChangeID, o.action, l.Line, o.err)
	}
	return o
}

func (e *Engine) deleteListing(ctx context.Context, l catalog.Listing) outcome {
	o := outcome{action: storage.ActionDelete, listingID: l.ID}
	if l.ID == 0 {
		o.skipped = true
		o.warning = "delete requested for a row without a listing id, nothing to do"
		catalog.OrNop(e.Log).Warnf("Line %d: %s", l.Line, o.warning)
		return o
	}
	if err := e.Catalog.DeleteListing(ctx, l.ID); err != nil {
		// Already gone, most likely deleted by an interrupted earlier run.
		if etsy.IsNotFound(err) {
			o.warning = fmt.Sprintf("listing %d was already deleted", l.ID)
			return o
		}
		o.err = fmt.Errorf("deleting listing %d: %w", l.ID, err)
	}
	return o
}

func (e *Engine) createListing(ctx context.Context, l catalog.Listing, d CreateDefaults) outcome {
	o := outcome{action: storage.ActionCreate}
	if d.TaxonomyID == 0 {
		o.err = fmt.Errorf("creating %q: no taxonomy id available", l.Title)
		return o
	}
	created, err := e.Catalog.CreateListing(ctx, reconcile.CreateRequest(l, d.TaxonomyID))
	if err != nil {
		o.err = fmt.Errorf("creating %q: %w", l.Title, err)
		return o
	}
	o.listingID = created.ListingID
	o.created = true

	plan := reconcile.BuildInventory(l, nil, d.ReadinessStateID)
	if _, err := e.Catalog.UpdateInventory(ctx, created.ListingID, plan.Payload); err != nil {
		o.err = fmt.Errorf("listing %d was created but its inventory could not be written, variations may be incomplete: %w", created.ListingID, err)
	}
	return o
}

func (e *Engine) updateListing(ctx context.Context, l catalog.Listing, pre *remoteState, d CreateDefaults) outcome {
	o := outcome{action: storage.ActionUpdate, listingID: l.ID}

	var st remoteState
	if pre != nil {
		st = *pre
	} else {
		remote, inv, err := preview.FetchListing(ctx, e.Catalog, l.ID)
		if err != nil {
			o.err = err
			return o
		}
		st = remoteState{listing: remote, inv: inv}
	}

	diffs := reconcile.DiffListing(l, st.listing, st.inv)
	if patch := reconcile.PatchFromDiff(l, diffs); !patch.IsEmpty() {
		if _, err := e.Catalog.UpdateListing(ctx, l.ID, patch); err != nil {
			o.err = fmt.Errorf("updating listing %d: %w", l.ID, err)
			return o
		}
	}

	plan := reconcile.BuildInventory(l, st.inv, d.ReadinessStateID)
	if plan.Changed() {
		if _, err := e.Catalog.UpdateInventory(ctx, l.ID, plan.Payload); err != nil {
			o.err = fmt.Errorf("writing inventory of listing %d: %w", l.ID, err)
		}
	}
	return o
}
