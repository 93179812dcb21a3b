package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyrowatch/pyrowatch/cmd/collector/dbwriter"
	"github.com/pyrowatch/pyrowatch/internal/clock"
	"github.com/pyrowatch/pyrowatch/internal/config"
	"github.com/pyrowatch/pyrowatch/internal/feedback"
	"github.com/pyrowatch/pyrowatch/internal/rtdb"
	"github.com/pyrowatch/pyrowatch/internal/trace"
	"github.com/pyrowatch/pyrowatch/pkg/datamodel"
)

type recordingBackend struct {
	mu     sync.Mutex
	ackMs  int64
	states int
	alarms int
	tel    int
}

func (b *recordingBackend) WriteState(string, map[string]interface{}) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states++
	return b.ackMs
}

func (b *recordingBackend) WriteAlarm(string, map[string]interface{}) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alarms++
	return b.ackMs
}

func (b *recordingBackend) WriteTelemetry(string, map[string]interface{}) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tel++
	return b.ackMs
}

func (b *recordingBackend) Healthcheck() bool { return true }

type dispatchEnv struct {
	dir     string
	backend *recordingBackend
	events  *trace.EventWriter
	acks    *trace.AckWriter
	cfg     *config.Config
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()
	dir := t.TempDir()
	events, err := trace.NewEventWriter(filepath.Join(dir, "trace_events.csv"), 50)
	require.NoError(t, err)
	acks, err := trace.NewAckWriter(filepath.Join(dir, "trace_db_ack.csv"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = events.Close()
		_ = acks.Close()
	})
	return &dispatchEnv{
		dir:     dir,
		backend: &recordingBackend{ackMs: 12345},
		events:  events,
		acks:    acks,
		cfg:     config.Default(),
	}
}

func (e *dispatchEnv) traceRows(t *testing.T) [][]string {
	t.Helper()
	f, err := os.Open(filepath.Join(e.dir, "trace_events.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func telemetryTestItem(msgID string, tSensorMs int64) *datamodel.Item {
	return &datamodel.Item{
		Message: &datamodel.Message{
			MsgID:     msgID,
			DeviceID:  "esp32-01",
			MsgType:   datamodel.MessageTypeTelemetry,
			TSensorMs: tSensorMs,
			Values:    map[string]float64{"temp": 21},
		},
		TPcRxMs:      tSensorMs + 10,
		TProcStartMs: tSensorMs + 11,
		TProcEndMs:   tSensorMs + 12,
		Severity:     datamodel.SeverityNormal,
		RuleNote:     "ok",
	}
}

func TestDispatchSyncWritesAndTraces(t *testing.T) {
	env := newDispatchEnv(t)
	d := NewDispatcher(env.cfg, env.backend, nil, env.events, env.acks, nil)

	d.OnProcessed(telemetryTestItem("m-1", clock.WallMs()))

	assert.Equal(t, 1, env.backend.states)
	assert.Equal(t, 1, env.backend.tel)
	assert.Zero(t, env.backend.alarms)

	rows := env.traceRows(t)
	require.Len(t, rows, 2)
	row := rows[1]
	assert.Equal(t, "m-1", row[0])
	assert.Equal(t, "telemetry", row[2])
	assert.Equal(t, "300", row[9])
	assert.Equal(t, "5000", row[10])
	assert.Equal(t, "ok", row[11])

	ackData, err := os.ReadFile(filepath.Join(env.dir, "trace_db_ack.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(ackData), "m-1,12345")
}

func TestDispatchSyncAlarmUsesAlarmClass(t *testing.T) {
	env := newDispatchEnv(t)
	d := NewDispatcher(env.cfg, env.backend, nil, env.events, env.acks, nil)

	item := telemetryTestItem("m-2", clock.WallMs())
	item.Message.MsgType = datamodel.MessageTypeAlarm
	item.Severity = datamodel.SeverityAlarm
	item.RuleNote = "alarm_type"
	d.OnProcessed(item)

	assert.Equal(t, 1, env.backend.alarms)
	rows := env.traceRows(t)
	require.Len(t, rows, 2)
	assert.Equal(t, "150", rows[1][9])
	assert.Equal(t, "10000", rows[1][10])
}

func TestDispatchMissingAckIsNoted(t *testing.T) {
	env := newDispatchEnv(t)
	env.backend.ackMs = rtdb.AckMissing
	d := NewDispatcher(env.cfg, env.backend, nil, env.events, env.acks, nil)

	d.OnProcessed(telemetryTestItem("m-3", clock.WallMs()))

	rows := env.traceRows(t)
	require.Len(t, rows, 2)
	assert.Equal(t, "ok;db_ack_missing", rows[1][11])
}

func TestDispatchAsyncDropIsNoted(t *testing.T) {
	env := newDispatchEnv(t)
	writerCfg := env.cfg.Rtdb.Writer
	writerCfg.TelemetryDropPolicy = config.DropPolicyDrop
	writerCfg.TelemetryQueueMax = 1
	w := dbwriter.New(writerCfg, env.backend, env.acks)
	d := NewDispatcher(env.cfg, env.backend, w, env.events, env.acks, nil)

	now := clock.WallMs()
	item1 := telemetryTestItem("m-4", now)
	item2 := telemetryTestItem("m-5", now)
	item2.Message.DeviceID = "esp32-02"
	d.OnProcessed(item1)
	d.OnProcessed(item2)

	rows := env.traceRows(t)
	require.Len(t, rows, 3)
	assert.Equal(t, "ok", rows[1][11])
	assert.Equal(t, "ok;db_drop", rows[2][11])

	// Nothing was written synchronously; the drain flushes the surviving record.
	assert.Zero(t, env.backend.tel)
	w.Stop()
	assert.Equal(t, 1, env.backend.tel)
}

func TestDispatchFeedsFreshnessController(t *testing.T) {
	env := newDispatchEnv(t)
	fb := feedback.NewController(filepath.Join(env.dir, "feedback.json"), time.Hour, 0.8, 0.5)
	d := NewDispatcher(env.cfg, env.backend, nil, env.events, env.acks, fb)

	// Emitted well within the 5000 ms telemetry budget.
	d.OnProcessed(telemetryTestItem("m-6", clock.WallMs()))
	// Sensor timestamp far in the past: stale on arrival.
	d.OnProcessed(telemetryTestItem("m-7", clock.WallMs()-60_000))
	// Alarms never count toward telemetry freshness.
	alarm := telemetryTestItem("m-8", clock.WallMs()-60_000)
	alarm.Message.MsgType = datamodel.MessageTypeAlarm
	d.OnProcessed(alarm)

	p := fb.Snapshot()
	assert.InDelta(t, 0.5, p.FreshnessRatioTelemetry, 1e-9)
	assert.Equal(t, 0.5, p.TelemetryRateScale)
}
