package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
)

func TestStreamSnapshotRoundTrip(t *testing.T) {
	store, err := NewFileSnapshotStore(t.TempDir())
	require.NoError(t, err)

	snap := &models.StreamSnapshot{
		Schema:  models.StreamSnapshotSchema,
		Version: models.SnapshotVersion,
		Profile: "btc-usd",
		SavedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		LastTS:  time.Date(2025, 6, 1, 11, 59, 58, 0, time.UTC),
		ACIEMA:  0.04,
		Calibration: models.CalibrationSnapshot{
			AlphaTarget: 0.12,
			CoverageEMA: 0.88,
			MissStreak:  2,
			ScoreCount:  340,
		},
		Acceptance: models.AcceptanceSnapshot{
			Posture:           "DERISK",
			CleanDwell:        4,
			ViolationsByGuard: map[string]int64{"kappa": 7},
		},
	}
	require.NoError(t, store.SaveStream(context.Background(), snap))

	got, err := store.LoadStream(context.Background(), "btc-usd")
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestLoadMissingStreamIsNotAnError(t *testing.T) {
	store, err := NewFileSnapshotStore(t.TempDir())
	require.NoError(t, err)

	got, err := store.LoadStream(context.Background(), "never-saved")
	require.NoError(t, err)
	assert.Nil(t, got)

	proc, err := store.LoadProcess(context.Background())
	require.NoError(t, err)
	assert.Nil(t, proc)
}

func TestProcessSnapshotRoundTrip(t *testing.T) {
	store, err := NewFileSnapshotStore(t.TempDir())
	require.NoError(t, err)

	snap := &models.ProcessSnapshot{
		Schema:  models.ProcessSnapshotSchema,
		Version: models.SnapshotVersion,
		SavedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Ledger: models.LedgerSnapshot{
			TotalBudget: 0.05,
			Cumulative:  0.02,
			Entries: []models.AlphaLedgerEntry{
				{TestID: "p1", AlphaSpent: 0.02, CumulativeAlpha: 0.02, EventType: "ACCEPT_H1", At: time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC)},
			},
		},
		Policies: []models.PolicyRecord{
			{PolicyID: "p1", Version: 1, Status: models.StatusLive},
		},
	}
	require.NoError(t, store.SaveProcess(context.Background(), snap))

	got, err := store.LoadProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestRejectsForeignSchemaOnLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSnapshotStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.stream.json"),
		[]byte(`{"schema":"other.thing","version":1,"profile":"x"}`), 0o644))

	_, err = store.LoadStream(context.Background(), "x")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSnapshotStore(dir)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		snap := &models.StreamSnapshot{
			Schema:  models.StreamSnapshotSchema,
			Version: models.SnapshotVersion,
			Profile: "eth",
			SavedAt: time.Unix(int64(i), 0).UTC(),
		}
		require.NoError(t, store.SaveStream(context.Background(), snap))
	}

	got, err := store.LoadStream(context.Background(), "eth")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(4, 0).UTC(), got.SavedAt)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no stray temp files left behind")
}

func TestProfileNameSanitizedToFlatFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSnapshotStore(dir)
	require.NoError(t, err)

	snap := &models.StreamSnapshot{
		Schema:  models.StreamSnapshotSchema,
		Version: models.SnapshotVersion,
		Profile: "../evil/path",
	}
	require.NoError(t, store.SaveStream(context.Background(), snap))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")

	got, err := store.LoadStream(context.Background(), "../evil/path")
	require.NoError(t, err)
	assert.Equal(t, "../evil/path", got.Profile)
}
