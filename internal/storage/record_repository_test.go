package storage

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/ahmedxxzz/doctoralia-scraper/config"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStorage(t *testing.T) *SqliteStorage {
	t.Helper()
	s, err := New(&config.DatabaseConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(ref string) *model.Record {
	return &model.Record{
		Name:            "María García",
		Title:           "Dra.",
		Category:        "dermatologo",
		Location:        "madrid",
		SubSpecialties:  []string{"Dermatología estética"},
		Rating:          4.5,
		ReviewCount:     27,
		ScrapedAt:       "2026-08-25T10:00:00Z",
		SourceReference: model.Reference(ref),
	}
}

func TestCommitInsertsNewRecord(t *testing.T) {
	s := testStorage(t)

	inserted, err := s.Commit(testRecord("https://example.com/maria-garcia/dermatologo/madrid"))
	require.NoError(t, err)
	assert.True(t, inserted)

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCommitIsIdempotentAndKeepsLatest(t *testing.T) {
	s := testStorage(t)
	ref := "https://example.com/maria-garcia/dermatologo/madrid"

	inserted, err := s.Commit(testRecord(ref))
	require.NoError(t, err)
	assert.True(t, inserted)

	updated := testRecord(ref)
	updated.Rating = 4.9
	inserted, err = s.Commit(updated)
	require.NoError(t, err)
	assert.False(t, inserted, "re-commit of a known reference is an update")

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var rating float64
	err = s.db.QueryRow(`SELECT rating FROM doctors WHERE profile_url = ?`, ref).Scan(&rating)
	require.NoError(t, err)
	assert.Equal(t, 4.9, rating)
}

func TestContains(t *testing.T) {
	s := testStorage(t)
	ref := "https://example.com/maria-garcia/dermatologo/madrid"

	assert.False(t, s.Contains(model.Reference(ref)))
	_, err := s.Commit(testRecord(ref))
	require.NoError(t, err)
	assert.True(t, s.Contains(model.Reference(ref)))
}

func TestExistingReferences(t *testing.T) {
	s := testStorage(t)
	refs := []string{
		"https://example.com/maria-garcia/dermatologo/madrid",
		"https://example.com/juan-lopez/dentista/barcelona",
	}
	for _, ref := range refs {
		_, err := s.Commit(testRecord(ref))
		require.NoError(t, err)
	}

	existing, err := s.ExistingReferences()
	require.NoError(t, err)
	assert.Len(t, existing, 2)
	for _, ref := range refs {
		assert.Contains(t, existing, model.Reference(ref))
	}
}

func TestExportCSV(t *testing.T) {
	s := testStorage(t)
	_, err := s.Commit(testRecord("https://example.com/maria-garcia/dermatologo/madrid"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, s.ExportCSV(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "María García", rows[1][0])
	assert.Equal(t, "dermatologo", rows[1][2])
}

func TestStorageIsResumableAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	ref := "https://example.com/maria-garcia/dermatologo/madrid"

	s, err := New(&config.DatabaseConfig{Dir: dir})
	require.NoError(t, err)
	_, err = s.Commit(testRecord(ref))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := New(&config.DatabaseConfig{Dir: dir})
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.Contains(model.Reference(ref)))
}
