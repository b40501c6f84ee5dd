package ml

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func writeTestSnapshot(t *testing.T, dir, version string) {
	t.Helper()

	err := WriteSnapshot(dir, SnapshotManifest{
		Version:   version,
		UserIDs:   []int64{10, 20},
		ItemIDs:   []int64{100, 200, 300},
		TrainedOn: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	},
		mat.NewDense(2, 2, []float64{1, 0, 0.5, 0.5}),
		mat.NewDense(3, 2, []float64{0.9, 0.1, 0.25, 0.75, 0.5, 0.5}),
	)
	require.NoError(t, err)
}

func TestLoadSnapshot_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeTestSnapshot(t, dir, "2026-09-01")

	s, err := LoadSnapshot(dir)
	require.NoError(t, err)

	info := s.Info()
	assert.Equal(t, "2026-09-01", info.Version)
	assert.Equal(t, 2, info.Factors)
	assert.Equal(t, 3, info.Items)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), info.TrainedOn)

	scores, err := s.Predict(context.Background(), 20, []int64{200})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, scores[200], 1e-6)
}

func TestParseManifest(t *testing.T) {
	t.Run("defaults factor file names", func(t *testing.T) {
		m, err := ParseManifest([]byte(`{"version":"v1","factors":8,"user_ids":[1],"item_ids":[2]}`))
		require.NoError(t, err)
		assert.Equal(t, DefaultUserFactors, m.UserFactors)
		assert.Equal(t, DefaultItemFactors, m.ItemFactors)
	})

	invalid := map[string]string{
		"not json":        `{"version":`,
		"missing version": `{"factors":8,"user_ids":[1],"item_ids":[2]}`,
		"zero factors":    `{"version":"v1","factors":0,"user_ids":[1],"item_ids":[2]}`,
		"no items":        `{"version":"v1","factors":8,"user_ids":[1],"item_ids":[]}`,
		"path traversal":  `{"version":"v1","factors":8,"user_ids":[1],"item_ids":[2],"user_factors":"../etc/passwd"}`,
	}
	for name, raw := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
		})
	}
}

func TestLoadSnapshot_Failures(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		_, err := LoadSnapshot(filepath.Join(t.TempDir(), "absent"))
		assert.Error(t, err)
	})

	t.Run("truncated factor file", func(t *testing.T) {
		dir := t.TempDir()
		writeTestSnapshot(t, dir, "v1")
		require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultItemFactors), []byte{1, 2, 3}, 0o644))

		_, err := LoadSnapshot(dir)
		assert.ErrorIs(t, err, ErrInvalidSnapshot)
	})

	t.Run("duplicate user ids", func(t *testing.T) {
		dir := t.TempDir()
		err := WriteSnapshot(dir, SnapshotManifest{Version: "v1", UserIDs: []int64{1, 1}, ItemIDs: []int64{2}},
			mat.NewDense(2, 1, []float64{1, 1}), mat.NewDense(1, 1, []float64{1}))
		require.NoError(t, err)

		_, err = LoadSnapshot(dir)
		assert.ErrorIs(t, err, ErrInvalidSnapshot)
	})
}
