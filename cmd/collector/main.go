package main

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"

	"github.com/pyrowatch/pyrowatch/cmd/collector/dbwriter"
	"github.com/pyrowatch/pyrowatch/cmd/collector/pipeline"
	"github.com/pyrowatch/pyrowatch/internal/config"
	"github.com/pyrowatch/pyrowatch/internal/debug"
	"github.com/pyrowatch/pyrowatch/internal/feedback"
	"github.com/pyrowatch/pyrowatch/internal/mqttclient"
	"github.com/pyrowatch/pyrowatch/internal/rtdb"
	"github.com/pyrowatch/pyrowatch/internal/shutdown"
	"github.com/pyrowatch/pyrowatch/internal/trace"
)

func main() {
	InitLogging()
	InitPrometheus()
	debug.Initfgtrace()

	configPath, _ := env.GetAsString("CONFIG_FILE", false, "config/collector.yaml") //nolint:errcheck
	resultsDir, _ := env.GetAsString("RESULTS_DIR", false, filepath.Join("results", "run")) //nolint:errcheck
	durationS, _ := env.GetAsInt("RUN_DURATION_S", false, 0)                       //nolint:errcheck

	cfg, err := config.Load(configPath)
	if err != nil {
		zap.S().Fatalf("Error loading config: %s", err)
	}

	events, err := trace.NewEventWriter(filepath.Join(resultsDir, "trace_events.csv"), 50)
	if err != nil {
		zap.S().Fatalf("Error opening trace writer: %s", err)
	}
	acks, err := trace.NewAckWriter(filepath.Join(resultsDir, "trace_db_ack.csv"))
	if err != nil {
		zap.S().Fatalf("Error opening ack writer: %s", err)
	}

	zap.S().Debugf("Setting up storage backend")
	mock, err := rtdb.NewMock(filepath.Join(resultsDir, "mock_rtdb.jsonl"), cfg.Rtdb.Mock.AckDelayMs)
	if err != nil {
		zap.S().Fatalf("Error opening mock rtdb: %s", err)
	}
	backend := selectBackend(cfg, mock)

	var writer *dbwriter.Writer
	if cfg.Rtdb.WriteMode == config.WriteModeAsync {
		zap.S().Debugf("Setting up async db writer")
		writer = dbwriter.New(cfg.Rtdb.Writer, backend, acks)
		writer.Start()
	}

	var fb *feedback.Controller
	feedbackPath := filepath.Join(resultsDir, "feedback.json")
	if cfg.Feedback.Enabled {
		err = feedback.Validate(feedbackPath)
		if err != nil {
			zap.S().Fatalf("Error preparing feedback contract: %s", err)
		}
		fb = feedback.NewController(
			feedbackPath,
			time.Duration(cfg.Feedback.IntervalS)*time.Second,
			cfg.Feedback.MinFreshnessRatio,
			cfg.Feedback.RateScale,
		)
	}

	stats := NewStats()
	dispatcher := NewDispatcher(cfg, backend, writer, events, acks, fb)

	zap.S().Debugf("Setting up pipeline")
	pipe := pipeline.New(cfg.Pipeline, dispatcher.OnProcessed)
	pipe.Start()

	zap.S().Debugf("Setting up MQTT")
	mqtt := mqttclient.New("pyrowatch-collector", cfg.MQTT)
	InitHealthCheck(mqtt, backend)

	err = mqtt.Connect()
	if err != nil {
		zap.S().Fatalf("Error connecting to MQTT broker: %s", err)
	}

	handler := newMessageHandler(pipe, writer, stats)
	for _, sub := range []struct {
		topic string
		qos   byte
	}{
		{cfg.MQTT.AlertTopic, 1},
		{cfg.MQTT.TelemetryTopic, 0},
		{cfg.MQTT.StatusTopic, 0},
	} {
		err = mqtt.Subscribe(sub.topic, sub.qos, handler)
		if err != nil {
			zap.S().Fatalf("Error subscribing: %s", err)
		}
	}

	// Allow graceful shutdown
	gs := shutdown.NewGracefulShutdown(func() error {
		zap.S().Infof("Shutting down collector")
		mqtt.Disconnect()
		pipe.Stop()
		if writer != nil {
			writer.Stop()
		}

		dbDropped, dbMax := int64(0), int64(0)
		if writer != nil {
			dbDropped = writer.DropCountTelemetry()
			dbMax = writer.QueueMaxObserved()
		}
		stats.SetDropped(pipe.DropCountTelemetry(), dbDropped)
		stats.ObserveQueueMax(pipe.QueueMaxObserved(), dbMax)
		err := stats.WriteFile(filepath.Join(resultsDir, "run_stats.json"))
		if err != nil {
			zap.S().Errorf("Error writing run stats: %s", err)
		}

		_ = events.Close()
		_ = acks.Close()
		_ = mock.Close()
		zap.S().Infof("Successful shutdown. Exiting.")
		return nil
	})

	zap.S().Infof("Collector running")
	if durationS > 0 {
		go func() {
			time.Sleep(time.Duration(durationS) * time.Second)
			zap.S().Infof("Run duration elapsed")
			gs.Shutdown()
		}()
	}
	gs.Wait()
}

func selectBackend(cfg *config.Config, mock *rtdb.Mock) rtdb.Backend {
	switch cfg.Rtdb.Mode {
	case config.RtdbModeFirebase:
		return rtdb.NewFirebase(cfg.Rtdb.Firebase.DatabaseURL, cfg.Rtdb.Firebase.AuthToken, mock)
	case config.RtdbModeRedis:
		return rtdb.NewRedis(cfg.Rtdb.Redis.URI, cfg.Rtdb.Redis.Password, cfg.Rtdb.Redis.DB, mock)
	default:
		return mock
	}
}

func InitLogging() {
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	_ = logger.New(logLevel)
}

func InitPrometheus() {
	metricsPath := "/metrics"
	metricsPort := ":2112"
	zap.S().Debugf("Setting up metrics %s %v", metricsPath, metricsPort)

	http.Handle(metricsPath, promhttp.Handler())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(metricsPort, nil)
		if err != nil {
			zap.S().Errorf("Error starting metrics: %s", err)
		}
	}()
}

func InitHealthCheck(mqtt *mqttclient.Client, backend rtdb.Backend) {
	zap.S().Debugf("Setting up healthcheck")

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))
	health.AddReadinessCheck("mqtt-check", mqtt.Check())
	health.AddReadinessCheck("rtdb", func() error {
		if backend.Healthcheck() {
			return nil
		}
		return fmt.Errorf("storage backend unhealthy")
	})
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe("0.0.0.0:8086", health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()
}
