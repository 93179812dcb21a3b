package rtdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pyrowatch/pyrowatch/internal/clock"
)

// Mock is a file-backed stand-in for the real-time database. Every write is
// appended as one JSON line, acks are delayed by a configurable amount to
// emulate remote round-trip time.
type Mock struct {
	path       string
	ackDelayMs int
	mu         sync.Mutex
	file       *os.File
}

type mockLine struct {
	Path string                 `json:"path"`
	Data map[string]interface{} `json:"data"`
}

// NewMock opens (or creates) the JSONL sink at path.
func NewMock(path string, ackDelayMs int) (*Mock, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return nil, fmt.Errorf("failed to create mock rtdb dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open mock rtdb %s: %w", path, err)
	}
	return &Mock{path: path, ackDelayMs: ackDelayMs, file: file}, nil
}

func (m *Mock) writeLine(path string, data map[string]interface{}) {
	line, err := json.Marshal(mockLine{Path: path, Data: data})
	if err != nil {
		zap.S().Warnf("Failed to marshal mock rtdb line for %s: %s", path, err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err = m.file.Write(append(line, '\n'))
	if err != nil {
		zap.S().Warnf("Failed to append mock rtdb line for %s: %s", path, err)
	}
}

func (m *Mock) ack() int64 {
	if m.ackDelayMs > 0 {
		time.Sleep(time.Duration(m.ackDelayMs) * time.Millisecond)
	}
	return clock.WallMs()
}

func (m *Mock) WriteState(deviceID string, state map[string]interface{}) int64 {
	m.writeLine(fmt.Sprintf("/devices/%s/state", deviceID), state)
	return m.ack()
}

func (m *Mock) WriteAlarm(alarmID string, alarm map[string]interface{}) int64 {
	m.writeLine(fmt.Sprintf("/alarms/%s", alarmID), alarm)
	return m.ack()
}

func (m *Mock) WriteTelemetry(deviceID string, telemetry map[string]interface{}) int64 {
	m.writeLine(fmt.Sprintf("/telemetry/%s", deviceID), telemetry)
	return m.ack()
}

func (m *Mock) Healthcheck() bool {
	return true
}

// Close closes the underlying file.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}
