package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/mgo/v3/bson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLayout(base string) Layout {
	return Layout{
		BaseDir:      base,
		Prefix:       "mongodb_data",
		MarketStates: []string{"BB", "UD"},
		OtherDir:     "Other",
	}
}

func TestLayout_Classify(t *testing.T) {
	layout := testLayout("Get_Data")

	assert.Equal(t, "BB", layout.Classify("BACHV_BB_STOCKS"))
	assert.Equal(t, "UD", layout.Classify("BACHV_UD_STOCKS"))
	assert.Equal(t, "Other", layout.Classify("BACHV_XX_STOCKS"))
	// first configured state wins when several match
	assert.Equal(t, "BB", layout.Classify("BB_UD_MIXED"))

	assert.Equal(t, filepath.Join("Get_Data", "UD"), layout.Dir("UD"))
	assert.True(t, layout.IsMarketState("BB"))
	assert.False(t, layout.IsMarketState("Other"))
}

func TestLayout_FileName(t *testing.T) {
	layout := testLayout("Get_Data")
	ts := time.Date(2024, 5, 17, 9, 3, 7, 0, time.UTC)

	assert.Equal(t, "mongodb_data_20240517_090307.csv", layout.FileName(ts))
}

func TestFlatten_HeaderUnionFirstSeenOrder(t *testing.T) {
	records := []bson.D{
		{{Name: "Ticker", Value: "AAA"}, {Name: "Actual", Value: 1}},
		{{Name: "Ticker", Value: "BBB"}, {Name: "Model", Value: "m1"}, {Name: "Actual", Value: 0}},
		{{Name: "Correct", Value: true}},
	}

	header, rows := Flatten(records)

	assert.Equal(t, []string{"Ticker", "Actual", "Model", "Correct"}, header)
	assert.Equal(t, [][]string{
		{"AAA", "1", "", ""},
		{"BBB", "0", "m1", ""},
		{"", "", "", "true"},
	}, rows)
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "0.25", FormatValue(0.25))
	assert.Equal(t, "3", FormatValue(3.0))
	assert.Equal(t, "42", FormatValue(int64(42)))
	assert.Equal(t, "false", FormatValue(false))
	assert.Equal(t, "2024-01-02T03:04:05Z", FormatValue(ts))
	assert.Equal(t, `{"a":1,"b":"x"}`, FormatValue(bson.D{{Name: "b", Value: "x"}, {Name: "a", Value: 1}}))
	assert.Equal(t, `[1,"two"]`, FormatValue([]interface{}{1, "two"}))
}

func TestWriteAndRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "BB")
	header := []string{"Ticker", "Note"}
	rows := [][]string{{"AAA", "plain"}, {"BBB", "has, comma"}, {"CCC", "has \"quotes\""}}

	path, err := Write(dir, "mongodb_data_20240101_000000.csv", header, rows)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mongodb_data_20240101_000000.csv"), path)

	table, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, header, table.Header)
	assert.Equal(t, rows, table.Rows)
	assert.Equal(t, "has, comma", table.Value(table.Rows[1], "Note"))
	assert.Equal(t, "", table.Value(table.Rows[1], "Missing"))
	assert.Equal(t, []string{"Missing"}, table.Missing([]string{"Ticker", "Missing"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not remain")
}

func TestWrite_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	name := "mongodb_data_20240101_000000.csv"

	first, err := Write(dir, name, []string{"v"}, [][]string{{"1"}})
	require.NoError(t, err)
	second, err := Write(dir, name, []string{"v"}, [][]string{{"2"}})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, filepath.Join(dir, "mongodb_data_20240101_000000_2.csv"), second)

	table, err := Read(first)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1"}}, table.Rows)
}

func TestLatest_ByModificationTime(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)

	// names sort in the opposite order of their modification times
	files := map[string]time.Time{
		"mongodb_data_20240103_000000.csv": base,
		"mongodb_data_20240102_000000.csv": base.Add(20 * time.Minute),
		"mongodb_data_20240101_000000.csv": base.Add(10 * time.Minute),
	}
	for name, mtime := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("v\n1\n"), 0644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	// not snapshots
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.csv"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mongodb_data_x.csv.tmp-1"), []byte("x"), 0644))

	latest, err := Latest(dir, "mongodb_data")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mongodb_data_20240102_000000.csv"), latest)
}

func TestLatest_TieBreaksOnName(t *testing.T) {
	dir := t.TempDir()
	mtime := time.Now().Add(-time.Minute)
	for _, name := range []string{"mongodb_data_b.csv", "mongodb_data_c.csv", "mongodb_data_a.csv"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("v\n"), 0644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	latest, err := Latest(dir, "mongodb_data")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mongodb_data_c.csv"), latest)
}

func TestLatest_Empty(t *testing.T) {
	_, err := Latest(t.TempDir(), "mongodb_data")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = Latest(filepath.Join(t.TempDir(), "missing"), "mongodb_data")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestRead_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mongodb_data_x.csv")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	_, err := Read(path)
	assert.Error(t, err)
}

func TestLayout_CurrentSnapshots(t *testing.T) {
	layout := testLayout(t.TempDir())
	dir := layout.Dir("BB")
	require.NoError(t, os.MkdirAll(dir, 0755))

	older := filepath.Join(dir, "mongodb_data_20240101_000000.csv")
	newer := filepath.Join(dir, "mongodb_data_20240102_000000.csv")
	require.NoError(t, os.WriteFile(older, []byte("a\n1\n"), 0644))
	require.NoError(t, os.WriteFile(newer, []byte("a,b\n1,2\n"), 0644))
	mtime := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(older, mtime.Add(-time.Hour), mtime.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(newer, mtime, mtime))

	current := layout.CurrentSnapshots()
	require.Len(t, current, 2)

	assert.Equal(t, "BB", current[0].Class)
	require.NoError(t, current[0].Err)
	assert.Equal(t, newer, current[0].Path)
	assert.Equal(t, int64(8), current[0].Size)
	assert.True(t, current[0].ModTime.Equal(mtime))

	assert.Equal(t, "UD", current[1].Class)
	assert.ErrorIs(t, current[1].Err, ErrNoSnapshot)
}
