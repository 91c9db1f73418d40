package data

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/service/config"
)

func newTestDB(t *testing.T) (IService, string) {
	t.Helper()
	s := config.Defaults()
	s.DataFolder = filepath.Join(t.TempDir(), "data")
	return NewFilesDB(config.New(s)), s.DataFolder
}

func TestPredictionsNewestFirst(t *testing.T) {
	db, _ := newTestDB(t)

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		require.NoError(t, db.NewPrediction(model.PredictionRecord{ID: name, Filename: name}))
	}

	records, err := db.RetrievePredictions(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c.jpg", records[0].Filename)
	assert.Equal(t, "b.jpg", records[1].Filename)
	assert.NotZero(t, records[0].Timestamp)

	all, err := db.RetrievePredictions(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRetrievePredictionsWithoutFile(t *testing.T) {
	db, _ := newTestDB(t)

	records, err := db.RetrievePredictions(10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestNewErrorAcceptsCustomAndPlainErrors(t *testing.T) {
	db, folder := newTestDB(t)

	require.NoError(t, db.NewError(model.GenError("predictor", errors.New("boom"), nil, "predict %s", "x.jpg")))
	require.NoError(t, db.NewError(errors.New("plain")))

	data, err := os.ReadFile(filepath.Join(folder, "errors.json"))
	require.NoError(t, err)

	var stored []map[string]any
	require.NoError(t, json.Unmarshal(data, &stored))
	require.Len(t, stored, 2)
	assert.Equal(t, "predictor", stored[0]["processor"])
	assert.Equal(t, "predict x.jpg", stored[0]["message"])
	assert.Equal(t, "boom", stored[0]["innerError"])
	assert.Equal(t, "N/A", stored[1]["processor"])
	assert.Equal(t, "plain", stored[1]["message"])
}

func TestStatsAreAppended(t *testing.T) {
	db, folder := newTestDB(t)

	require.NoError(t, db.NewPredictorStats(model.PredictorStats{Name: "ensemble", Models: 4}))
	require.NoError(t, db.NewPredictorStats(model.PredictorStats{Name: "ensemble", Models: 4, Cached: true}))
	require.NoError(t, db.NewSamplerStats(model.SamplerStats{Name: "video", Sampled: 5}))
	require.NoError(t, db.NewServerStats(model.ServerStats{TotalRequests: 3}))

	stats, err := retrieveEntites[model.PredictorStats]("predictor-stats", config.New(config.Settings{DataFolder: folder}))
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.True(t, stats[1].Cached)

	for _, name := range []string{"sampler-stats.json", "server-stats.json"} {
		_, err := os.Stat(filepath.Join(folder, name))
		assert.NoError(t, err, name)
	}
}
