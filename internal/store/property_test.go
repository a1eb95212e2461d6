package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/resilience"
)

func sampleRecord(address string) *model.PropertyRecord {
	rec := model.NewPropertyRecord(address)
	now := time.Date(2025, 12, 1, 12, 0, 0, 0, time.UTC)
	rec.Fields["beds"] = model.FieldValue{Value: 4.0, Source: model.SourceCountyAssessor, ObservedAt: now}
	rec.History["beds"] = []model.FieldValue{
		{Value: 3.0, Source: model.SourceVisualAI, ObservedAt: now.Add(-time.Hour)},
		{Value: 4.0, Source: model.SourceCountyAssessor, ObservedAt: now},
	}
	rec.Extra = map[string]any{"parcel_note": "kept verbatim"}
	return rec
}

func TestOpenPropertiesMissingFileIsEmpty(t *testing.T) {
	s, err := OpenProperties(filepath.Join(t.TempDir(), "properties.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestPropertySaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "properties.json")

	s, err := OpenProperties(path)
	require.NoError(t, err)
	s.Upsert(sampleRecord("123 Main St"))
	s.Upsert(sampleRecord("456 Oak Ave"))
	require.NoError(t, s.Save())

	loaded, err := OpenProperties(path)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Len())

	rec := loaded.Get("123 Main St")
	require.NotNil(t, rec)
	assert.Equal(t, "123 Main St", rec.FullAddress)
	assert.Equal(t, 4.0, rec.Fields["beds"].Value)
	assert.Equal(t, "kept verbatim", rec.Extra["parcel_note"])

	// Lineage survives the per-source disk layout, ordered by observation time.
	require.Len(t, rec.History["beds"], 2)
	assert.Equal(t, model.SourceVisualAI, rec.History["beds"][0].Source)
	assert.Equal(t, model.SourceCountyAssessor, rec.History["beds"][1].Source)

	// Disk order is stable.
	all := loaded.All()
	assert.Equal(t, "123 main st", all[0].Normalized)
	assert.Equal(t, "456 oak ave", all[1].Normalized)
}

func TestPropertyStagedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "properties.json")
	s, err := OpenProperties(path)
	require.NoError(t, err)

	rec := model.NewPropertyRecord("123 Main St")
	rec.Stage(model.SourceMLSListing, map[string]model.FieldValue{
		"price": {Value: 500000.0, Source: model.SourceMLSListing},
	})
	s.Upsert(rec)
	require.NoError(t, s.Save())

	loaded, err := OpenProperties(path)
	require.NoError(t, err)
	got := loaded.Get("123 Main St")
	require.NotNil(t, got)
	require.Contains(t, got.Staged, model.SourceMLSListing)
	assert.Equal(t, 500000.0, got.Staged[model.SourceMLSListing]["price"].Value)
}

func TestLineageOrderStableOnEqualTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "properties.json")
	when := time.Date(2025, 12, 1, 12, 0, 0, 0, time.UTC)

	rec := model.NewPropertyRecord("123 Main St")
	rec.History["beds"] = []model.FieldValue{
		{Value: 3.0, Source: model.SourceVisualAI, ObservedAt: when},
		{Value: 4.0, Source: model.SourceMLSListing, ObservedAt: when},
		{Value: 4.0, Source: model.SourceCountyAssessor, ObservedAt: when},
	}

	s, err := OpenProperties(path)
	require.NoError(t, err)
	s.Upsert(rec)
	require.NoError(t, s.Save())

	// The disk layout groups lineage per source, so equal observation times
	// must reload in precedence order on every load, not map order.
	for i := 0; i < 5; i++ {
		loaded, err := OpenProperties(path)
		require.NoError(t, err)
		got := loaded.Get("123 Main St")
		require.Len(t, got.History["beds"], 3)
		assert.Equal(t, model.SourceVisualAI, got.History["beds"][0].Source)
		assert.Equal(t, model.SourceMLSListing, got.History["beds"][1].Source)
		assert.Equal(t, model.SourceCountyAssessor, got.History["beds"][2].Source)
	}
}

func TestUpsertReplacesNotAppends(t *testing.T) {
	s, err := OpenProperties(filepath.Join(t.TempDir(), "properties.json"))
	require.NoError(t, err)

	s.Upsert(sampleRecord("123 Main St"))
	updated := sampleRecord("123 Main St.") // same normalized key
	updated.Fields["beds"] = model.FieldValue{Value: 5.0, Source: model.SourceUserEntry}
	s.Upsert(updated)

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 5.0, s.Get("123 main st").Fields["beds"].Value)
}

func TestGetReturnsCopy(t *testing.T) {
	s, err := OpenProperties(filepath.Join(t.TempDir(), "properties.json"))
	require.NoError(t, err)
	s.Upsert(sampleRecord("123 Main St"))

	got := s.Get("123 Main St")
	got.Fields["beds"] = model.FieldValue{Value: 99.0, Source: "tampered"}

	assert.Equal(t, 4.0, s.Get("123 Main St").Fields["beds"].Value)
}

func TestOpenPropertiesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "properties.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := OpenProperties(path)
	require.Error(t, err)
	var ie *resilience.IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, path, ie.Path)
}

func TestOpenPropertiesVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "properties.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99,"properties":[{"address":"a"},{"address":"b"}]}`), 0o644))

	_, err := OpenProperties(path)
	var ie *resilience.IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 2, ie.CompletedLost)
}

func TestSaveKeepsBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "properties.json")

	s, err := OpenProperties(path)
	require.NoError(t, err)
	s.Upsert(sampleRecord("123 Main St"))
	require.NoError(t, s.Save())
	require.NoError(t, s.Save()) // second save backs up the first

	matches, err := filepath.Glob(path + ".bak-*")
	require.NoError(t, err)
	assert.NotEmpty(t, matches)
}
