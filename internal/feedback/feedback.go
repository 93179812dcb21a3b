// Package feedback implements the closed-loop throttle between the collector
// and the telemetry producer. The collector records per-message freshness,
// recomputes a rolling ratio every interval and publishes a rate scale to a
// small JSON file; the producer polls that file and slows its publish rate
// when freshness degrades.
package feedback

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Payload is the shared contract, last-write-wins, no history.
type Payload struct {
	FreshnessRatioTelemetry float64 `json:"freshness_ratio_telemetry"`
	TelemetryRateScale      float64 `json:"telemetry_rate_scale"`
}

// Controller keeps the rolling fresh/total counters and derives the scale.
// Observe is called from the pipeline worker, so the computation is gated on
// wall-clock elapsed time, not message count.
type Controller struct {
	path      string
	interval  time.Duration
	minRatio  float64
	rateScale float64

	mu       sync.Mutex
	fresh    int
	total    int
	lastCalc time.Time
}

// NewController returns a controller that persists to path every interval.
func NewController(path string, interval time.Duration, minRatio float64, rateScale float64) *Controller {
	return &Controller{
		path:      path,
		interval:  interval,
		minRatio:  minRatio,
		rateScale: rateScale,
		lastCalc:  time.Now(),
	}
}

// Observe records one telemetry delivery. When the interval has elapsed it
// computes the ratio, persists the payload and resets the rolling window.
func (c *Controller) Observe(isFresh bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if isFresh {
		c.fresh++
	}
	c.total++

	if time.Since(c.lastCalc) < c.interval {
		return
	}
	payload := c.computeLocked()
	c.fresh = 0
	c.total = 0
	c.lastCalc = time.Now()

	err := writePayload(c.path, payload)
	if err != nil {
		zap.S().Warnf("Failed to persist feedback payload: %s", err)
		return
	}
	zap.S().Debugf("Feedback recomputed: ratio=%.3f scale=%.2f", payload.FreshnessRatioTelemetry, payload.TelemetryRateScale)
}

// Snapshot computes the payload for the current window without resetting it.
func (c *Controller) Snapshot() Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.computeLocked()
}

func (c *Controller) computeLocked() Payload {
	ratio := 1.0
	if c.total > 0 {
		ratio = float64(c.fresh) / float64(c.total)
	}
	scale := 1.0
	if ratio < c.minRatio {
		scale = c.rateScale
	}
	return Payload{
		FreshnessRatioTelemetry: math.Round(ratio*1000) / 1000,
		TelemetryRateScale:      scale,
	}
}

func writePayload(path string, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	err = os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return err
	}
	// Write-then-rename so the producer never reads a torn file.
	tmp := path + ".tmp"
	err = os.WriteFile(tmp, data, 0o640)
	if err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadScale is the producer side of the contract: it returns the last
// published rate scale, or 1.0 when the file does not exist yet or cannot be
// parsed.
func ReadScale(path string) float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 1.0
	}
	var payload Payload
	err = json.Unmarshal(data, &payload)
	if err != nil || payload.TelemetryRateScale <= 0 {
		return 1.0
	}
	return payload.TelemetryRateScale
}

// Validate guards against a contract file path that cannot be created.
func Validate(path string) error {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf("feedback path %s not writable: %w", path, err)
	}
	return nil
}
