package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pyrowatch/pyrowatch/internal/config"
)

func TestDeviceIDsAreZeroPadded(t *testing.T) {
	cfg := config.Default()
	cfg.SensorSim.DeviceCount = 11

	sim := newSimulator(cfg, nil, "")

	assert.Len(t, sim.deviceIDs, 11)
	assert.Equal(t, "esp32-01", sim.deviceIDs[0])
	assert.Equal(t, "esp32-11", sim.deviceIDs[10])
}

func TestBuildValuesMatchClassifierThresholds(t *testing.T) {
	for i := 0; i < 100; i++ {
		v := buildValues(true)
		assert.GreaterOrEqual(t, v["temp"], 70.0)
		assert.GreaterOrEqual(t, v["smoke"], 0.8)
		assert.GreaterOrEqual(t, v["gas"], 0.8)
		assert.Equal(t, 1.0, v["flame"])

		v = buildValues(false)
		assert.Less(t, v["temp"], 60.0)
		assert.Less(t, v["smoke"], 0.7)
		assert.Less(t, v["gas"], 0.7)
		assert.Equal(t, 0.0, v["flame"])
	}
}
