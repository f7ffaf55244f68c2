package refresher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/mgo/v3/bson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockfeed/internal/docstore"
	"github.com/ternarybob/stockfeed/internal/docstore/docstoretest"
	"github.com/ternarybob/stockfeed/internal/models"
	"github.com/ternarybob/stockfeed/internal/snapshot"
)

var refreshTime = time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

func newTestRefresher(t *testing.T, store *docstoretest.MemoryStore, databases ...string) (*Refresher, string) {
	t.Helper()
	base := t.TempDir()
	config := Config{
		Databases:        databases,
		CollectionPrefix: "Net_Data_",
		Layout: snapshot.Layout{
			BaseDir:      base,
			Prefix:       "mongodb_data",
			MarketStates: []string{"BB", "UD"},
			OtherDir:     "Other",
		},
		Clock: testclock.NewClock(refreshTime),
	}
	refresher, err := New(context.Background(), store, config, arbor.NewLogger())
	require.NoError(t, err)
	return refresher, base
}

func rows(n int) []bson.D {
	var records []bson.D
	for i := 0; i < n; i++ {
		records = append(records, bson.D{{Name: "Ticker", Value: string(rune('A' + i))}, {Name: "Correct", Value: i%2 == 0}})
	}
	return records
}

func TestRefreshAll_Success(t *testing.T) {
	store := docstoretest.NewMemoryStore()
	store.Put("BACHV_BB_STOCKS", "Net_Data_20240101", rows(2)...)
	store.Put("BACHV_BB_STOCKS", "Net_Data_20240301", rows(3)...)
	store.Put("BACHV_UD_STOCKS", "Net_Data_20240301", rows(1)...)
	store.Put("BACHV_XX_STOCKS", "Net_Data_20240301", rows(4)...)

	refresher, base := newTestRefresher(t, store, "BACHV_BB_STOCKS", "BACHV_UD_STOCKS", "BACHV_XX_STOCKS")
	summary := refresher.RefreshAll(context.Background())

	require.NoError(t, summary.Err)
	assert.Equal(t, models.RefreshSuccess, summary.Status)
	assert.True(t, summary.OK())
	require.Len(t, summary.Results, 3)

	bb := summary.Results[0]
	assert.Equal(t, "Net_Data_20240301", bb.Collection)
	assert.Equal(t, filepath.Join(base, "BB", "mongodb_data_20240601_123000.csv"), bb.Path)
	assert.Equal(t, 3, bb.Records)

	assert.Equal(t, filepath.Join(base, "UD", "mongodb_data_20240601_123000.csv"), summary.Results[1].Path)
	assert.Equal(t, filepath.Join(base, "Other", "mongodb_data_20240601_123000.csv"), summary.Results[2].Path)

	table, err := snapshot.Read(bb.Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ticker", "Correct"}, table.Header)
	assert.Equal(t, [][]string{{"A", "true"}, {"B", "false"}, {"C", "true"}}, table.Rows)
}

func TestRefreshAll_MissingCollectionTolerated(t *testing.T) {
	store := docstoretest.NewMemoryStore()
	store.Put("BACHV_BB_STOCKS", "Scratch", rows(1)...)
	store.Put("BACHV_UD_STOCKS", "Net_Data_20240301", rows(2)...)

	refresher, base := newTestRefresher(t, store, "BACHV_BB_STOCKS", "BACHV_UD_STOCKS")
	summary := refresher.RefreshAll(context.Background())

	assert.NoError(t, summary.Err)
	assert.Equal(t, models.RefreshPartial, summary.Status)
	assert.True(t, summary.OK())
	assert.ErrorIs(t, summary.Results[0].Err, ErrNoCollection)
	assert.NoError(t, summary.Results[1].Err)

	latest, err := snapshot.Latest(filepath.Join(base, "UD"), "mongodb_data")
	require.NoError(t, err)
	assert.Equal(t, summary.Results[1].Path, latest)

	_, err = snapshot.Latest(filepath.Join(base, "BB"), "mongodb_data")
	assert.ErrorIs(t, err, snapshot.ErrNoSnapshot)
}

func TestRefreshAll_EmptyCollectionIsFailure(t *testing.T) {
	store := docstoretest.NewMemoryStore()
	store.Put("BACHV_BB_STOCKS", "Net_Data_20240301")

	refresher, _ := newTestRefresher(t, store, "BACHV_BB_STOCKS")
	summary := refresher.RefreshAll(context.Background())

	assert.Equal(t, models.RefreshFailure, summary.Status)
	assert.False(t, summary.OK())
	assert.NoError(t, summary.Err)
	assert.ErrorIs(t, summary.Results[0].Err, ErrNoRecords)
}

func TestRefreshAll_StoreFailureAborts(t *testing.T) {
	store := docstoretest.NewMemoryStore()
	store.Put("BACHV_BB_STOCKS", "Net_Data_20240301", rows(1)...)
	store.Put("BACHV_UD_STOCKS", "Net_Data_20240301", rows(1)...)

	refresher, _ := newTestRefresher(t, store, "BACHV_BB_STOCKS", "BACHV_UD_STOCKS")
	store.FailReads("BACHV_BB_STOCKS", errors.Join(docstore.ErrUnreachable, errors.New("connection reset")))

	summary := refresher.RefreshAll(context.Background())

	assert.ErrorIs(t, summary.Err, docstore.ErrUnreachable)
	assert.Equal(t, models.RefreshFailure, summary.Status)
	assert.Len(t, summary.Results, 1, "batch stops at the store failure")
}

func TestRefreshAll_SameSecondDoesNotOverwrite(t *testing.T) {
	store := docstoretest.NewMemoryStore()
	store.Put("BACHV_BB_STOCKS", "Net_Data_20240301", rows(1)...)

	refresher, base := newTestRefresher(t, store, "BACHV_BB_STOCKS")
	first := refresher.RefreshAll(context.Background())
	second := refresher.RefreshAll(context.Background())

	assert.Equal(t, filepath.Join(base, "BB", "mongodb_data_20240601_123000.csv"), first.Results[0].Path)
	assert.Equal(t, filepath.Join(base, "BB", "mongodb_data_20240601_123000_2.csv"), second.Results[0].Path)
}

func TestNew_UnreachableStore(t *testing.T) {
	store := docstoretest.NewMemoryStore()
	store.SetUnreachable(true)

	_, err := New(context.Background(), store, Config{}, arbor.NewLogger())
	assert.ErrorIs(t, err, docstore.ErrUnreachable)
}
