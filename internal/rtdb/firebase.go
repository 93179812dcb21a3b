package rtdb

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pyrowatch/pyrowatch/internal/clock"
)

// Firebase talks to a Firebase-style realtime database over its REST API.
// It composes a Mock instance as its fallback path: when initialization or a
// write fails, the data goes to the mock instead and the process keeps
// running.
type Firebase struct {
	baseURL   string
	authToken string
	client    *http.Client
	enabled   bool
	fallback  *Mock
}

// NewFirebase probes the database URL and returns a backend that either talks
// to it or, on any initialization failure, transparently uses the fallback.
func NewFirebase(databaseURL string, authToken string, fallback *Mock) *Firebase {
	f := &Firebase{
		baseURL:   strings.TrimRight(databaseURL, "/"),
		authToken: authToken,
		client:    &http.Client{Timeout: 5 * time.Second},
		fallback:  fallback,
	}
	if f.baseURL == "" {
		zap.S().Warnf("Firebase database URL not configured, using mock backend")
		return f
	}
	resp, err := f.client.Get(f.url("/.json?shallow=true"))
	if err != nil {
		zap.S().Warnf("Firebase unreachable, using mock backend: %s", err)
		return f
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		zap.S().Warnf("Firebase probe returned %d, using mock backend", resp.StatusCode)
		return f
	}
	f.enabled = true
	zap.S().Infof("Firebase backend initialized: %s", f.baseURL)
	return f
}

func (f *Firebase) url(path string) string {
	u := f.baseURL + path
	if f.authToken != "" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		u += sep + "auth=" + f.authToken
	}
	return u
}

func (f *Firebase) request(method string, path string, data map[string]interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, f.url(path+".json"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("firebase %s %s returned %d", method, path, resp.StatusCode)
	}
	return nil
}

func (f *Firebase) write(method string, path string, data map[string]interface{}, mockWrite func() int64) int64 {
	if !f.enabled {
		if f.fallback != nil {
			return mockWrite()
		}
		return clock.WallMs()
	}
	err := f.request(method, path, data)
	if err != nil {
		zap.S().Warnf("Firebase write failed, falling back to mock: %s", err)
		if f.fallback != nil {
			return mockWrite()
		}
		return AckMissing
	}
	return clock.WallMs()
}

func (f *Firebase) WriteState(deviceID string, state map[string]interface{}) int64 {
	return f.write(http.MethodPatch, fmt.Sprintf("/devices/%s/state", deviceID), state, func() int64 {
		return f.fallback.WriteState(deviceID, state)
	})
}

func (f *Firebase) WriteAlarm(alarmID string, alarm map[string]interface{}) int64 {
	return f.write(http.MethodPut, fmt.Sprintf("/alarms/%s", alarmID), alarm, func() int64 {
		return f.fallback.WriteAlarm(alarmID, alarm)
	})
}

func (f *Firebase) WriteTelemetry(deviceID string, telemetry map[string]interface{}) int64 {
	return f.write(http.MethodPost, fmt.Sprintf("/telemetry/%s", deviceID), telemetry, func() int64 {
		return f.fallback.WriteTelemetry(deviceID, telemetry)
	})
}

func (f *Firebase) Healthcheck() bool {
	return f.enabled || f.fallback != nil
}
