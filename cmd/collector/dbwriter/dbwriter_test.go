package dbwriter

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyrowatch/pyrowatch/internal/config"
	"github.com/pyrowatch/pyrowatch/internal/trace"
	"github.com/pyrowatch/pyrowatch/pkg/datamodel"
)

// fakeBackend records every write it sees.
type fakeBackend struct {
	mu         sync.Mutex
	states     []string
	alarms     []string
	telemetry  map[string][]map[string]interface{}
	writeOrder []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{telemetry: map[string][]map[string]interface{}{}}
}

func (f *fakeBackend) WriteState(deviceID string, state map[string]interface{}) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, deviceID)
	return 1
}

func (f *fakeBackend) WriteAlarm(alarmID string, alarm map[string]interface{}) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alarms = append(f.alarms, alarmID)
	f.writeOrder = append(f.writeOrder, alarmID)
	return 2
}

func (f *fakeBackend) WriteTelemetry(deviceID string, telemetry map[string]interface{}) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.telemetry[deviceID] = append(f.telemetry[deviceID], telemetry)
	f.writeOrder = append(f.writeOrder, deviceID)
	return 3
}

func (f *fakeBackend) Healthcheck() bool { return true }

func (f *fakeBackend) telemetryWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, writes := range f.telemetry {
		n += len(writes)
	}
	return n
}

func telemetryRecord(msgID string, deviceID string, seq int64) *datamodel.Record {
	return &datamodel.Record{
		MsgID:        msgID,
		DeviceID:     deviceID,
		MsgType:      datamodel.MessageTypeTelemetry,
		State:        map[string]interface{}{"severity": "NORMAL"},
		Telemetry:    map[string]interface{}{"seq": seq},
		TDbEnqueueMs: 1000,
	}
}

func writerConfig(policy string, telemetryMax int) config.Writer {
	return config.Writer{
		FlushIntervalMs:     50,
		BatchLimit:          100,
		TelemetryDropPolicy: policy,
		TelemetryQueueMax:   telemetryMax,
		AlarmQueueMax:       16,
		StateQueueMax:       16,
	}
}

func newAckWriter(t *testing.T) *trace.AckWriter {
	t.Helper()
	w, err := trace.NewAckWriter(filepath.Join(t.TempDir(), "acks.csv"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestCoalescingKeepsLatestPerDevice(t *testing.T) {
	backend := newFakeBackend()
	w := New(writerConfig(config.DropPolicyKeepLatest, 16), backend, newAckWriter(t))

	assert.True(t, w.Enqueue(telemetryRecord("m-1", "esp32-01", 1)))
	assert.True(t, w.Enqueue(telemetryRecord("m-2", "esp32-01", 2)))
	w.Stop()

	require.Len(t, backend.telemetry["esp32-01"], 1)
	assert.Equal(t, int64(2), backend.telemetry["esp32-01"][0]["seq"])
	assert.Zero(t, w.DropCountTelemetry())
}

func TestKeepLatestEvictsOldestDevice(t *testing.T) {
	backend := newFakeBackend()
	w := New(writerConfig(config.DropPolicyKeepLatest, 3), backend, newAckWriter(t))

	for i := 1; i <= 4; i++ {
		assert.True(t, w.Enqueue(telemetryRecord(fmt.Sprintf("m-%d", i), fmt.Sprintf("esp32-%02d", i), int64(i))))
	}
	assert.Equal(t, int64(1), w.DropCountTelemetry())

	w.Stop()
	assert.NotContains(t, backend.telemetry, "esp32-01")
	assert.Contains(t, backend.telemetry, "esp32-02")
	assert.Contains(t, backend.telemetry, "esp32-04")
}

func TestDropPolicyRejectsNewDevices(t *testing.T) {
	backend := newFakeBackend()
	w := New(writerConfig(config.DropPolicyDrop, 2), backend, newAckWriter(t))

	assert.True(t, w.Enqueue(telemetryRecord("m-1", "esp32-01", 1)))
	assert.True(t, w.Enqueue(telemetryRecord("m-2", "esp32-02", 1)))
	assert.False(t, w.Enqueue(telemetryRecord("m-3", "esp32-03", 1)))
	// Existing devices are still replaceable at capacity.
	assert.True(t, w.Enqueue(telemetryRecord("m-4", "esp32-02", 2)))
	assert.Equal(t, int64(1), w.DropCountTelemetry())
	assert.Equal(t, int64(2), w.QueueMaxObserved())
}

func TestStopDrainsEverything(t *testing.T) {
	backend := newFakeBackend()
	w := New(writerConfig(config.DropPolicyKeepLatest, 16), backend, newAckWriter(t))

	// Writer never started: nothing flushes until Stop.
	for i := 1; i <= 5; i++ {
		require.True(t, w.Enqueue(telemetryRecord(fmt.Sprintf("m-%d", i), fmt.Sprintf("esp32-%02d", i), int64(i))))
	}
	require.True(t, w.Enqueue(&datamodel.Record{
		MsgID:   "m-alarm",
		MsgType: datamodel.MessageTypeAlarm,
		Alarm:   map[string]interface{}{"ack": false},
	}))
	require.True(t, w.Enqueue(&datamodel.Record{
		MsgID:   "m-status",
		MsgType: datamodel.MessageTypeStatus,
		State:   map[string]interface{}{"severity": "NORMAL"},
	}))

	w.Stop()

	assert.Equal(t, 5, backend.telemetryWrites())
	assert.Equal(t, []string{"m-alarm"}, backend.alarms)
	// One state write per record: 5 telemetry + 1 alarm + 1 status.
	assert.Len(t, backend.states, 7)
}

func TestFlushOrderIsOldestDeviceFirst(t *testing.T) {
	backend := newFakeBackend()
	w := New(writerConfig(config.DropPolicyKeepLatest, 16), backend, newAckWriter(t))

	require.True(t, w.Enqueue(telemetryRecord("m-1", "esp32-03", 1)))
	require.True(t, w.Enqueue(telemetryRecord("m-2", "esp32-01", 1)))
	require.True(t, w.Enqueue(telemetryRecord("m-3", "esp32-02", 1)))
	// Re-enqueueing an already pending device must not change its slot.
	require.True(t, w.Enqueue(telemetryRecord("m-4", "esp32-03", 2)))

	w.Stop()
	assert.Equal(t, []string{"esp32-03", "esp32-01", "esp32-02"}, backend.writeOrder)
}

func TestWorkerFlushesOnInterval(t *testing.T) {
	backend := newFakeBackend()
	cfg := writerConfig(config.DropPolicyKeepLatest, 16)
	cfg.FlushIntervalMs = 20
	w := New(cfg, backend, newAckWriter(t))
	w.Start()
	defer w.Stop()

	require.True(t, w.Enqueue(telemetryRecord("m-1", "esp32-01", 1)))

	assert.Eventually(t, func() bool {
		return backend.telemetryWrites() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerFlushesOnBatchLimit(t *testing.T) {
	backend := newFakeBackend()
	cfg := writerConfig(config.DropPolicyKeepLatest, 64)
	cfg.FlushIntervalMs = 60_000
	cfg.BatchLimit = 3
	w := New(cfg, backend, newAckWriter(t))
	w.Start()
	defer w.Stop()

	for i := 1; i <= 3; i++ {
		require.True(t, w.Enqueue(telemetryRecord(fmt.Sprintf("m-%d", i), fmt.Sprintf("esp32-%02d", i), 1)))
	}

	assert.Eventually(t, func() bool {
		return backend.telemetryWrites() == 3
	}, 2*time.Second, 10*time.Millisecond)
}
