package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
)

func TestFileStoreMissingFile(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoState)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := NewFileStore(path).Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoState)
}

func TestFileStoreRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99}`), 0o644))
	_, err := NewFileStore(path).Load()
	assert.Error(t, err)
}

func TestFileStoreSaveCreatesDirAndLeavesNoTemp(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	path := filepath.Join(dir, "state.json")
	s := NewFileStore(path)

	start := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	state := &model.State{
		Rollups: model.Rollups{AllTimeProfit: 12.5, CurrentDay: "2025-06-11"},
		Pending: []model.Slot{{Start: start, End: start.Add(model.SlotLength), Signal: model.SignalUp, EnergyKWh: 0.4}},
	}
	require.NoError(t, s.Save(state))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, model.StateVersion, got.Version)
	assert.Equal(t, 12.5, got.Rollups.AllTimeProfit)
	require.Len(t, got.Pending, 1)
	assert.True(t, got.Pending[0].Pending())
	assert.Equal(t, 0.4, got.Pending[0].EnergyKWh)
}

func TestMemoryStoreIsolatesSavedCopy(t *testing.T) {
	var m MemoryStore
	_, err := m.Load()
	assert.ErrorIs(t, err, ErrNoState)

	state := &model.State{Rollups: model.Rollups{DayProfit: 1}}
	require.NoError(t, m.Save(state))
	state.Rollups.DayProfit = 99

	got, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Rollups.DayProfit)
}
