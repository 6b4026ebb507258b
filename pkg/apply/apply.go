// Package apply writes the accepted part of an uploaded sheet to the remote
// catalog in small batches, checkpointing after every batch so an interrupted
// run resumes where it stopped.
package apply

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopsheet/shopsheet/pkg/catalog"
	"github.com/shopsheet/shopsheet/pkg/changeset"
	"github.com/shopsheet/shopsheet/pkg/etsy"
	"github.com/shopsheet/shopsheet/pkg/preview"
	"github.com/shopsheet/shopsheet/pkg/sheet"
	"github.com/shopsheet/shopsheet/pkg/storage"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize           = 5
	DefaultPrefetchConcurrency = 10
)

// ErrNoCreateDefaults means the sheet creates listings but no taxonomy or
// readiness state id is configured or can be found on an existing listing.
var ErrNoCreateDefaults = errors.New("no defaults available for creating listings: configure defaults.taxonomy_id or keep at least one active listing")

// ProgressFunc is called after every batch.
type ProgressFunc func(processed, total, failed int)

// CreateDefaults are the shop-specific values every new listing needs.
type CreateDefaults struct {
	TaxonomyID       int64
	ReadinessStateID int64
}

type Engine struct {
	Catalog etsy.Catalog
	// Store keeps checkpoints. Without one, runs are not resumable.
	Store storage.ProgressStore
	// Audit, when set, receives one record per attempted write.
	Audit storage.AuditLog

	BatchSize           int
	PrefetchConcurrency int
	// BatchDelay is slept between batches to stay under the remote rate limit.
	BatchDelay time.Duration
	Defaults   CreateDefaults
	Log        catalog.Logger
}

type Result struct {
	RunID    string `json:"run_id"`
	FileHash string `json:"file_hash"`
	Resumed  bool   `json:"resumed"`

	// Total is the number of accepted changes, Skipped how many of them a
	// previous run already completed.
	Total     int `json:"total"`
	Skipped   int `json:"skipped"`
	Processed int `json:"processed"`

	Succeeded []int64                `json:"succeeded"`
	Created   []int64                `json:"created"`
	Failed    []storage.FailedEntity `json:"failed"`
	Warnings  []string               `json:"warnings,omitempty"`
}

// Apply writes the accepted changes of data. Per-listing failures are collected
// in the result; only malformed input, missing create defaults, checkpoint
// failures and cancellation are returned as errors.
func (e *Engine) Apply(ctx context.Context, data []byte, accepted changeset.Accepted, onProgress ProgressFunc) (*Result, error) {
	log := catalog.OrNop(e.Log)
	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	hash := storage.FileHash(data)
	progress, err := e.loadProgress(ctx, hash)
	if err != nil {
		return nil, err
	}
	res := &Result{RunID: progress.RunID, FileHash: hash, Resumed: len(progress.Succeeded) > 0 || len(progress.Failed) > 0}
	done := make(map[int64]bool, len(progress.Succeeded))
	for _, id := range progress.Succeeded {
		done[id] = true
	}

	listings, err := sheet.Decode(data, sheet.WithLogger(log))
	if err != nil {
		return nil, err
	}
	selected := changeset.Filter(changeset.Assign(listings), accepted)

	// Creates have no id before they succeed, so they are never skipped.
	var pending []changeset.Entry
	for _, en := range selected {
		if en.Listing.ID != 0 && done[en.Listing.ID] {
			continue
		}
		pending = append(pending, en)
	}
	res.Total = len(selected)
	res.Skipped = len(selected) - len(pending)
	if res.Resumed {
		log.Infof("Resuming run %s: %d of %d change(s) already applied", progress.RunID, res.Skipped, res.Total)
	}

	progress.TotalUnits = res.Total
	progress.AcceptedChangeIDs = acceptedIDs(accepted)
	// Previous failures are retried below and re-recorded if they fail again.
	progress.Failed = nil

	defaults, err := e.createDefaults(ctx, pending)
	if err != nil {
		return nil, err
	}
	prefetched := e.prefetch(ctx, pending)

	if onProgress == nil {
		onProgress = func(int, int, int) {}
	}
	for start := 0; start < len(pending); start += batchSize {
		if err := ctx.Err(); err != nil {
			e.mergeResult(res, progress)
			return res, err
		}
		if start > 0 && e.BatchDelay > 0 {
			select {
			case <-time.After(e.BatchDelay):
			case <-ctx.Done():
				e.mergeResult(res, progress)
				return res, ctx.Err()
			}
		}

		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		outcomes := e.runBatch(ctx, batch, prefetched, defaults)

		audit := make([]storage.Outcome, 0, len(outcomes))
		for _, o := range outcomes {
			o.mergeInto(progress, res)
			audit = append(audit, o.record(progress.RunID, hash))
		}
		res.Processed += len(batch)
		log.Debugf("Batch %d-%d of %d done, %d failed so far", start+1, end, len(pending), len(progress.Failed))

		// The batch's writes happened, so record them even if ctx was cancelled meanwhile.
		persistCtx := context.WithoutCancel(ctx)
		if e.Audit != nil {
			if err := e.Audit.LogOutcomes(persistCtx, audit); err != nil {
				log.Warnf("Could not write apply log: %v", err)
			}
		}
		if err := e.saveProgress(persistCtx, progress); err != nil {
			e.mergeResult(res, progress)
			return res, fmt.Errorf("saving checkpoint: %w", err)
		}
		onProgress(res.Skipped+res.Processed, res.Total, len(progress.Failed))
	}

	e.mergeResult(res, progress)
	if len(progress.Failed) == 0 && e.Store != nil {
		if err := e.Store.DeleteProgress(ctx, hash); err != nil {
			log.Warnf("Could not delete checkpoint %s: %v", hash, err)
		}
	}
	log.Infof("Applied %d change(s): %d succeeded, %d created, %d failed", res.Processed, len(res.Succeeded), len(res.Created), len(res.Failed))
	return res, nil
}

func (e *Engine) loadProgress(ctx context.Context, hash string) (*storage.UploadProgress, error) {
	if e.Store != nil {
		p, err := e.Store.LoadProgress(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("loading checkpoint: %w", err)
		}
		if p != nil {
			return p, nil
		}
	}
	return &storage.UploadProgress{
		FileHash:  hash,
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}, nil
}

func (e *Engine) saveProgress(ctx context.Context, p *storage.UploadProgress) error {
	if e.Store == nil {
		return nil
	}
	p.UpdatedAt = time.Now().UTC()
	return e.Store.SaveProgress(ctx, p)
}

func (e *Engine) mergeResult(res *Result, p *storage.UploadProgress) {
	res.Succeeded = append([]int64(nil), p.Succeeded...)
	res.Created = append([]int64(nil), p.Created...)
	res.Failed = append([]storage.FailedEntity(nil), p.Failed...)
}

// createDefaults resolves what new listings need, only when something is created.
// Configured values win; missing ones are taken from one active listing.
func (e *Engine) createDefaults(ctx context.Context, pending []changeset.Entry) (CreateDefaults, error) {
	needed := false
	for _, en := range pending {
		if en.Listing.IsNew() && !en.Listing.Deleted {
			needed = true
			break
		}
	}
	d := e.Defaults
	if !needed || (d.TaxonomyID != 0 && d.ReadinessStateID != 0) {
		return d, nil
	}

	page, err := e.Catalog.ListListings(ctx, etsy.ListOptions{State: string(catalog.StateActive), Limit: 1})
	if err != nil {
		if d.TaxonomyID != 0 {
			return d, nil
		}
		return d, fmt.Errorf("%w: %v", ErrNoCreateDefaults, err)
	}
	if len(page.Results) > 0 {
		sample := page.Results[0]
		if d.TaxonomyID == 0 {
			d.TaxonomyID = sample.TaxonomyID
		}
		if d.ReadinessStateID == 0 {
			if inv, err := e.Catalog.GetInventory(ctx, sample.ListingID); err == nil {
				for _, p := range inv.Products {
					if off, ok := p.Offering(); ok && off.ReadinessStateID != 0 {
						d.ReadinessStateID = off.ReadinessStateID
						break
					}
				}
			} else {
				catalog.OrNop(e.Log).Warnf("Could not read inventory of listing %d for defaults: %v", sample.ListingID, err)
			}
		}
	}
	if d.TaxonomyID == 0 && d.ReadinessStateID == 0 {
		return d, ErrNoCreateDefaults
	}
	return d, nil
}

type remoteState struct {
	listing *etsy.Listing
	inv     *etsy.Inventory
}

// prefetch loads every listing that will be updated. Failures are left for the
// per-listing step to retry and report.
func (e *Engine) prefetch(ctx context.Context, pending []changeset.Entry) map[int64]remoteState {
	var (
		mu  sync.Mutex
		out = make(map[int64]remoteState)
	)
	limit := e.PrefetchConcurrency
	if limit <= 0 {
		limit = DefaultPrefetchConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, en := range pending {
		l := en.Listing
		if l.IsNew() || l.Deleted {
			continue
		}
		g.Go(func() error {
			remote, inv, err := preview.FetchListing(gctx, e.Catalog, l.ID)
			if err != nil {
				catalog.OrNop(e.Log).Debugf("Prefetch of listing %d failed: %v", l.ID, err)
				return nil
			}
			mu.Lock()
			out[l.ID] = remoteState{listing: remote, inv: inv}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// runBatch processes a batch concurrently and waits for every listing, failed or not.
func (e *Engine) runBatch(ctx context.Context, batch []changeset.Entry, prefetched map[int64]remoteState, d CreateDefaults) []outcome {
	outcomes := make([]outcome, len(batch))
	var wg sync.WaitGroup
	for i, en := range batch {
		wg.Add(1)
		go func(i int, en changeset.Entry) {
			defer wg.Done()
			st, ok := prefetched[en.Listing.ID]
			var pre *remoteState
			if ok {
				pre = &st
			}
			outcomes[i] = e.process(ctx, en, pre, d)
		}(i, en)
	}
	wg.Wait()
	return outcomes
}

func acceptedIDs(a changeset.Accepted) []string {
	if a.IsAll() {
		return []string{"all"}
	}
	return a.IDs()
}
