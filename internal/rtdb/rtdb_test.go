package rtdb

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mock_rtdb.jsonl")
	m, err := NewMock(path, 0)
	require.NoError(t, err)

	ack1 := m.WriteState("esp32-01", map[string]interface{}{"severity": "NORMAL"})
	ack2 := m.WriteAlarm("m-9", map[string]interface{}{"ack": false})
	ack3 := m.WriteTelemetry("esp32-01", map[string]interface{}{"ts_ms": 1000})
	require.NoError(t, m.Close())

	assert.Positive(t, ack1)
	assert.GreaterOrEqual(t, ack2, ack1)
	assert.GreaterOrEqual(t, ack3, ack2)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line struct {
			Path string `json:"path"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		paths = append(paths, line.Path)
	}
	assert.Equal(t, []string{"/devices/esp32-01/state", "/alarms/m-9", "/telemetry/esp32-01"}, paths)
	assert.True(t, m.Healthcheck())
}

func TestFirebaseFallsBackToMock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mock_rtdb.jsonl")
	mock, err := NewMock(path, 0)
	require.NoError(t, err)
	defer mock.Close()

	fb := NewFirebase("", "", mock)
	assert.True(t, fb.Healthcheck())

	ack := fb.WriteState("esp32-01", map[string]interface{}{"severity": "WARN"})
	assert.Positive(t, ack)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "/devices/esp32-01/state")
}

func TestRedisFallsBackToMock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mock_rtdb.jsonl")
	mock, err := NewMock(path, 0)
	require.NoError(t, err)
	defer mock.Close()

	r := NewRedis("", "", 0, mock)
	assert.True(t, r.Healthcheck())

	ack := r.WriteTelemetry("esp32-02", map[string]interface{}{"ts_ms": 5})
	assert.Positive(t, ack)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "/telemetry/esp32-02")
}
