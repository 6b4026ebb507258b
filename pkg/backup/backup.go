// Package backup snapshots remote listings into the sheet format.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopsheet/shopsheet/pkg/catalog"
	"github.com/shopsheet/shopsheet/pkg/changeset"
	"github.com/shopsheet/shopsheet/pkg/etsy"
	"github.com/shopsheet/shopsheet/pkg/preview"
	"github.com/shopsheet/shopsheet/pkg/sheet"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 10
	pageSize           = 100
)

type options struct {
	log catalog.Logger
}

type Option func(*options)

// WithLogger receives warnings about listings left out of a snapshot.
func WithLogger(l catalog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Snapshot fetches the current remote state of every accepted update or
// delete in resp. Creates have nothing to back up. Changes the preview could
// not fetch and listings that no longer exist are left out with a warning,
// so a resumed run whose deletes already happened can still be backed up.
func Snapshot(ctx context.Context, cat etsy.Catalog, resp *preview.Response, accepted changeset.Accepted, opts ...Option) ([]etsy.Listing, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := catalog.OrNop(o.log)

	var ids []int64
	for _, c := range resp.Accepted(accepted) {
		if c.Type == preview.ChangeCreate || c.ListingID == 0 {
			continue
		}
		if c.Unavailable {
			log.Warnf("Not backing up listing %d (%s): %s", c.ListingID, c.ChangeID, c.Error)
			continue
		}
		ids = append(ids, c.ListingID)
	}
	return fetchAll(ctx, cat, ids, DefaultConcurrency, log)
}

// Export writes the snapshot of resp to dir/backup_<timestamp>.csv. It returns
// the file path and the number of listings written.
func Export(ctx context.Context, cat etsy.Catalog, resp *preview.Response, accepted changeset.Accepted, dir string, opts ...Option) (string, int, error) {
	listings, err := Snapshot(ctx, cat, resp, accepted, opts...)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	path := filepath.Join(dir, FileName(time.Now()))
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	if err := sheet.WriteCSV(f, listings); err != nil {
		f.Close()
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		return "", 0, err
	}
	return path, len(listings), nil
}

func FileName(t time.Time) string {
	return "backup_" + t.Format("20060102_150405") + ".csv"
}

// FetchShop pages through every listing in state and loads their inventories.
func FetchShop(ctx context.Context, cat etsy.Catalog, state string, concurrency int) ([]etsy.Listing, error) {
	var ids []int64
	for offset := 0; ; offset += pageSize {
		page, err := cat.ListListings(ctx, etsy.ListOptions{State: state, Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("listing %s listings: %w", state, err)
		}
		for _, l := range page.Results {
			ids = append(ids, l.ListingID)
		}
		if len(page.Results) < pageSize || offset+len(page.Results) >= page.Count {
			break
		}
	}
	return fetchAll(ctx, cat, ids, concurrency, nil)
}

// fetchAll loads listings with their inventories, keeping the order of ids.
// Unlike preview, a failed fetch fails the whole snapshot: an incomplete backup
// must not look complete. With a logger, listings that are gone (404) are
// skipped with a warning instead.
func fetchAll(ctx context.Context, cat etsy.Catalog, ids []int64, concurrency int, log catalog.Logger) ([]etsy.Listing, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	var (
		mu  sync.Mutex
		got = make(map[int64]etsy.Listing, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			remote, _, err := preview.FetchListing(gctx, cat, id)
			if err != nil {
				if log != nil && etsy.IsNotFound(err) {
					log.Warnf("Not backing up listing %d: it no longer exists", id)
					return nil
				}
				return err
			}
			mu.Lock()
			got[id] = *remote
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]etsy.Listing, 0, len(got))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		l, ok := got[id]
		if seen[id] || !ok {
			continue
		}
		seen[id] = true
		out = append(out, l)
	}
	return out, nil
}
