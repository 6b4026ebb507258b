package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopsheet/shopsheet/pkg/apply"
	"github.com/shopsheet/shopsheet/pkg/catalog"
	"github.com/shopsheet/shopsheet/pkg/changeset"
	"github.com/shopsheet/shopsheet/pkg/etsy"
	"github.com/shopsheet/shopsheet/pkg/etsy/etsytest"
	"github.com/shopsheet/shopsheet/pkg/preview"
	"github.com/shopsheet/shopsheet/pkg/sheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listing(id int64, title, state string) etsy.Listing {
	return etsy.Listing{ListingID: id, Title: title, State: state, Quantity: 1, Price: etsy.Price{Amount: 500, Divisor: 100, CurrencyCode: "USD"}}
}

func TestExportBacksUpUpdatesAndDeletesOnly(t *testing.T) {
	fake := etsytest.New()
	fake.Add(listing(1, "Kept", "active"), nil)
	fake.Add(listing(2, "Removed", "active"), nil)
	fake.Add(listing(3, "Not accepted", "active"), nil)

	resp := &preview.Response{Changes: []preview.Change{
		{ChangeID: "change_1", Type: preview.ChangeUpdate, ListingID: 1},
		{ChangeID: "change_2", Type: preview.ChangeDelete, ListingID: 2},
		{ChangeID: "change_3", Type: preview.ChangeUpdate, ListingID: 3},
		{ChangeID: "change_4", Type: preview.ChangeCreate},
	}}
	dir := t.TempDir()
	path, n, err := Export(context.Background(), fake, resp, changeset.NewAccepted("change_1", "change_2", "change_4"), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "backup_"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	got, err := sheet.Decode(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Kept", got[0].Title)
	assert.Equal(t, "Removed", got[1].Title)
	assert.Zero(t, fake.CallsTo("UpdateListing"))
	assert.Zero(t, fake.CallsTo("DeleteListing"))
}

type recordingLogger struct {
	catalog.NopLogger
	warnings []string
}

func (l *recordingLogger) Warnf(format string, args ...interface{}) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

func TestExportFailsOnFetchError(t *testing.T) {
	fake := etsytest.New()
	fake.Add(listing(1, "Kept", "active"), nil)
	fake.Fail("GetInventory", 1, &etsy.APIError{StatusCode: 500, Method: "GET", Path: "/listings/1/inventory", Message: "boom"})

	resp := &preview.Response{Changes: []preview.Change{{ChangeID: "change_1", Type: preview.ChangeUpdate, ListingID: 1}}}
	_, _, err := Export(context.Background(), fake, resp, changeset.All(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestSnapshotSkipsUnavailableAndGoneListings(t *testing.T) {
	fake := etsytest.New()
	fake.Add(listing(1, "Kept", "active"), nil)

	resp := &preview.Response{Changes: []preview.Change{
		{ChangeID: "change_1", Type: preview.ChangeUpdate, ListingID: 1},
		{ChangeID: "change_2", Type: preview.ChangeDelete, ListingID: 555},
		{ChangeID: "change_3", Type: preview.ChangeUpdate, ListingID: 7, Unavailable: true, Error: "timeout"},
	}}
	log := &recordingLogger{}
	got, err := Snapshot(context.Background(), fake, resp, changeset.All(), WithLogger(log))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ListingID)
	assert.ElementsMatch(t, []int64{1, 555}, fake.CalledIDs("GetListing"))
	require.Len(t, log.warnings, 2)
	assert.Contains(t, log.warnings[0], "listing 7")
	assert.Contains(t, log.warnings[1], "listing 555")
}

func TestExportAfterDeletesAlreadyApplied(t *testing.T) {
	ctx := context.Background()
	fake := etsytest.New()
	fake.Add(listing(555, "Old Mug", "active"), nil)
	data := []byte(strings.Join(sheet.Header, ",") + "\r\n555,,,,,N/A,,,,,,,,DELETE\r\n")

	res, err := (&apply.Engine{Catalog: fake}).Apply(ctx, data, changeset.All(), nil)
	require.NoError(t, err)
	require.Equal(t, []int64{555}, res.Succeeded)

	resp, err := (&preview.Engine{Catalog: fake}).Preview(ctx, data)
	require.NoError(t, err)
	_, n, err := Export(ctx, fake, resp, changeset.All(), t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "backup_20260102_030405.csv", FileName(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestFetchShopPages(t *testing.T) {
	fake := etsytest.New()
	for i := int64(1); i <= 150; i++ {
		fake.Add(listing(i, "L", "active"), nil)
	}
	fake.Add(listing(500, "Draft", "draft"), nil)

	got, err := FetchShop(context.Background(), fake, "active", 4)
	require.NoError(t, err)
	require.Len(t, got, 150)
	assert.Equal(t, int64(1), got[0].ListingID)
	assert.Equal(t, int64(150), got[149].ListingID)
	assert.NotNil(t, got[0].Inventory)
	assert.Equal(t, 2, fake.CallsTo("ListListings"))
}
