package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsWriteFile(t *testing.T) {
	s := NewStats()
	s.IncReceived("telemetry")
	s.IncReceived("telemetry")
	s.IncReceived("alarm")
	s.ObserveQueueMax(7, 3)
	s.ObserveQueueMax(2, 9)
	s.SetDropped(4, 1)

	path := filepath.Join(t.TempDir(), "run_stats.json")
	require.NoError(t, s.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	received := got["received"].(map[string]interface{})
	assert.Equal(t, float64(2), received["telemetry"])
	assert.Equal(t, float64(1), received["alarm"])
	assert.Equal(t, float64(0), received["status"])
	assert.Equal(t, float64(4), got["dropped_pipeline"])
	assert.Equal(t, float64(1), got["dropped_db"])
	// The maxima fold across observations, never reset.
	assert.Equal(t, float64(7), got["queue_max_pipeline"])
	assert.Equal(t, float64(9), got["queue_max_db"])
}
