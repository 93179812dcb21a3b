package main

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"

	"github.com/pyrowatch/pyrowatch/internal/clock"
	"github.com/pyrowatch/pyrowatch/internal/config"
	"github.com/pyrowatch/pyrowatch/internal/feedback"
	"github.com/pyrowatch/pyrowatch/internal/mqttclient"
	"github.com/pyrowatch/pyrowatch/internal/shutdown"
)

const feedbackCheckMs = 1000

func main() {
	InitLogging()

	configPath, _ := env.GetAsString("CONFIG_FILE", false, "config/collector.yaml") //nolint:errcheck
	resultsDir, _ := env.GetAsString("RESULTS_DIR", false, filepath.Join("results", "run")) //nolint:errcheck
	durationS, _ := env.GetAsInt("RUN_DURATION_S", false, 0)                       //nolint:errcheck

	cfg, err := config.Load(configPath)
	if err != nil {
		zap.S().Fatalf("Error loading config: %s", err)
	}
	if durationS == 0 {
		durationS = cfg.Benchmark.DurationS
	}

	mqtt := mqttclient.New("pyrowatch-sensorsim", cfg.MQTT)
	err = mqtt.Connect()
	if err != nil {
		zap.S().Fatalf("Error connecting to broker: %s", err)
	}

	gs := shutdown.NewGracefulShutdown(func() error {
		mqtt.Disconnect()
		return nil
	})

	sim := newSimulator(cfg, mqtt, filepath.Join(resultsDir, "feedback.json"))

	zap.S().Infof("Sensor simulator running for %d seconds", durationS)
	sim.run(time.Duration(durationS)*time.Second, gs)
	mqtt.Disconnect()
	zap.S().Infof("Sensor simulator stopped")
}

type simulator struct {
	cfg          *config.Config
	mqtt         *mqttclient.Client
	feedbackPath string

	deviceIDs   []string
	seqByDevice map[string]int64
	rateScale   float64
}

func newSimulator(cfg *config.Config, mqtt *mqttclient.Client, feedbackPath string) *simulator {
	deviceIDs := make([]string, 0, cfg.SensorSim.DeviceCount)
	seqByDevice := make(map[string]int64, cfg.SensorSim.DeviceCount)
	for i := 0; i < cfg.SensorSim.DeviceCount; i++ {
		id := fmt.Sprintf("%s%02d", cfg.SensorSim.DeviceIDPrefix, i+1)
		deviceIDs = append(deviceIDs, id)
		seqByDevice[id] = 0
	}
	return &simulator{
		cfg:          cfg,
		mqtt:         mqtt,
		feedbackPath: feedbackPath,
		deviceIDs:    deviceIDs,
		seqByDevice:  seqByDevice,
		rateScale:    1.0,
	}
}

// run drives the two publish schedules off the monotonic clock until the
// duration elapses or a shutdown starts.
func (s *simulator) run(duration time.Duration, gs shutdown.Handler) {
	sim := s.cfg.SensorSim

	startMs := clock.MonotonicMs()
	endMs := startMs + duration.Milliseconds()
	nextTelemetryMs := startMs
	nextAlarmMs := startMs
	nextFeedbackMs := startMs + feedbackCheckMs

	var alarmPeriodMs int64
	if sim.AlarmRate > 0 {
		alarmPeriodMs = maxMs(1, int64(1000/sim.AlarmRate))
	}

	telemetryIndex := 0
	adaptive := sim.Adaptive && s.cfg.Feedback.Enabled

	for {
		if gs.ShuttingDown() {
			return
		}

		nowMs := clock.MonotonicMs()
		if nowMs >= endMs {
			return
		}
		elapsedS := float64(nowMs-startMs) / 1000.0

		if adaptive && nowMs >= nextFeedbackMs {
			s.rateScale = feedback.ReadScale(s.feedbackPath)
			nextFeedbackMs = nowMs + feedbackCheckMs
		}

		currentRate := sim.TelemetryRate
		if sim.BurstDurationS > 0 && elapsedS >= sim.BurstStartS && elapsedS < sim.BurstStartS+sim.BurstDurationS {
			currentRate = sim.BurstRate
		}
		currentRate = currentRate * s.rateScale
		if currentRate < 0.1 {
			currentRate = 0.1
		}
		telemetryPeriodMs := maxMs(1, int64(1000/currentRate))

		if nowMs >= nextTelemetryMs {
			s.publishTelemetry(s.deviceIDs[telemetryIndex%len(s.deviceIDs)])
			telemetryIndex++
			nextTelemetryMs = nowMs + telemetryPeriodMs
		}

		if alarmPeriodMs > 0 && nowMs >= nextAlarmMs {
			s.publishAlarm(s.deviceIDs[rand.Intn(len(s.deviceIDs))])
			nextAlarmMs = nowMs + alarmPeriodMs
		}

		time.Sleep(time.Millisecond)
	}
}

func (s *simulator) publishTelemetry(deviceID string) {
	s.seqByDevice[deviceID]++
	payload := map[string]interface{}{
		"msg_id":      uuid.New().String(),
		"device_id":   deviceID,
		"type":        "telemetry",
		"t_sensor_ms": clock.WallMs(),
		"seq":         s.seqByDevice[deviceID],
		"values":      buildValues(false),
	}
	err := s.mqtt.Publish(s.cfg.MQTT.TelemetryTopic, 0, payload)
	if err != nil {
		zap.S().Warnf("Failed to publish telemetry for %s: %s", deviceID, err)
	}
}

func (s *simulator) publishAlarm(deviceID string) {
	s.seqByDevice[deviceID]++
	payload := map[string]interface{}{
		"msg_id":      uuid.New().String(),
		"device_id":   deviceID,
		"type":        "alarm",
		"t_sensor_ms": clock.WallMs(),
		"seq":         s.seqByDevice[deviceID],
		"values":      buildValues(true),
		"alarm": map[string]interface{}{
			"fire_detected": true,
			"level":         "ALARM",
		},
	}
	err := s.mqtt.Publish(s.cfg.MQTT.AlertTopic, 1, payload)
	if err != nil {
		zap.S().Warnf("Failed to publish alarm for %s: %s", deviceID, err)
	}
}

// buildValues produces one reading set. Alarm readings sit above every
// classification threshold, normal readings below.
func buildValues(alarm bool) map[string]float64 {
	if alarm {
		return map[string]float64{
			"temp":  70 + rand.Float64()*20,
			"smoke": 0.8 + rand.Float64()*0.2,
			"gas":   0.8 + rand.Float64()*0.2,
			"flame": 1.0,
		}
	}
	return map[string]float64{
		"temp":  20 + rand.Float64()*20,
		"smoke": 0.1 + rand.Float64()*0.5,
		"gas":   0.05 + rand.Float64()*0.35,
		"flame": 0.0,
	}
}

func maxMs(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func InitLogging() {
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	_ = logger.New(logLevel)
}
