package cmd

import (
	"context"
	"testing"

	"github.com/shopsheet/shopsheet/pkg/preview"
	"github.com/shopsheet/shopsheet/pkg/reconcile"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name   string
		change preview.Change
		want   string
	}{
		{
			name:   "unavailable",
			change: preview.Change{Type: preview.ChangeUpdate, Unavailable: true, Error: "boom"},
			want:   "unavailable: boom",
		},
		{
			name:   "unchanged",
			change: preview.Change{Type: preview.ChangeUpdate, Unchanged: true},
			want:   "no changes",
		},
		{
			name: "create",
			change: preview.Change{Type: preview.ChangeCreate, Fields: []reconcile.FieldChange{
				{Field: reconcile.FieldTitle, After: "Mug"},
			}},
			want: "title=Mug",
		},
		{
			name: "update with variations",
			change: preview.Change{
				Type:   preview.ChangeUpdate,
				Fields: []reconcile.FieldChange{{Field: reconcile.FieldTitle, Before: "Old", After: "New"}},
				Variations: []reconcile.VariationChange{
					{Label: "Size: L", Kind: reconcile.VariationAdded},
					{Label: "Size: S", Kind: reconcile.VariationDeleted},
					{Label: "Size: M", Kind: reconcile.VariationUpdated},
				},
			},
			want: "title: Old -> New; +Size: L; -Size: S; ~Size: M",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describe(tt.change))
		})
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	viper.Set("storage.backend", "sqlite")
	viper.Set("storage.dbpath", t.TempDir()+"/cmd.sqlite")
	t.Cleanup(viper.Reset)

	store, audit, err := openStore(context.Background())
	require.NoError(t, err)
	defer store.Close()
	assert.NotNil(t, audit)
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	viper.Set("storage.backend", "mongo")
	t.Cleanup(viper.Reset)

	_, _, err := openStore(context.Background())
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "abc", shortHash("abc"))
	assert.Equal(t, "0123456789ab", shortHash("0123456789abcdef"))
}
