// Package config loads the collector configuration from a YAML file, applies
// defaults and validates every enum up front so that a typo in a drop policy
// fails the process at startup instead of silently behaving like "drop".
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Drop policies for bounded telemetry queues.
const (
	DropPolicyNone       = "none"
	DropPolicyKeepLatest = "keep_latest"
	DropPolicyDrop       = "drop"
)

// Storage backend modes.
const (
	RtdbModeMock     = "mock"
	RtdbModeFirebase = "firebase"
	RtdbModeRedis    = "redis"
)

// Write modes.
const (
	WriteModeSync  = "sync"
	WriteModeAsync = "async"
)

type MQTT struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	KeepaliveS     int    `yaml:"keepalive_s"`
	AlertTopic     string `yaml:"alert_topic"`
	TelemetryTopic string `yaml:"telemetry_topic"`
	StatusTopic    string `yaml:"status_topic"`
}

type Deadlines struct {
	AlarmDeadlineMs     int64 `yaml:"alarm_deadline_ms"`
	TelemetryDeadlineMs int64 `yaml:"telemetry_deadline_ms"`
}

type Pipeline struct {
	InjectJitterTelemetryMs int    `yaml:"inject_jitter_telemetry_ms"`
	TelemetryQueueMax       int    `yaml:"telemetry_queue_max"`
	TelemetryDropPolicy     string `yaml:"telemetry_drop_policy"`
	AlarmQueueMax           int    `yaml:"alarm_queue_max"`
}

type Mock struct {
	AckDelayMs int `yaml:"ack_delay_ms"`
}

type Firebase struct {
	DatabaseURL string `yaml:"database_url"`
	AuthToken   string `yaml:"auth_token"`
}

type Redis struct {
	URI      string `yaml:"uri"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Writer struct {
	FlushIntervalMs     int64  `yaml:"flush_interval_ms"`
	BatchLimit          int    `yaml:"batch_limit"`
	TelemetryDropPolicy string `yaml:"telemetry_drop_policy"`
	TelemetryQueueMax   int    `yaml:"telemetry_queue_max"`
	AlarmQueueMax       int    `yaml:"alarm_queue_max"`
	StateQueueMax       int    `yaml:"state_queue_max"`
}

type Rtdb struct {
	Mode      string   `yaml:"mode"`
	WriteMode string   `yaml:"write_mode"`
	Mock      Mock     `yaml:"mock"`
	Firebase  Firebase `yaml:"firebase"`
	Redis     Redis    `yaml:"redis"`
	Writer    Writer   `yaml:"writer"`
}

type Freshness struct {
	AviStateMs     int64 `yaml:"avi_state_ms"`
	AviTelemetryMs int64 `yaml:"avi_telemetry_ms"`
	AviAlarmMs     int64 `yaml:"avi_alarm_ms"`
}

type SensorSim struct {
	TelemetryRate  float64 `yaml:"telemetry_rate"`
	AlarmRate      float64 `yaml:"alarm_rate"`
	DeviceCount    int     `yaml:"device_count"`
	DeviceIDPrefix string  `yaml:"device_id_prefix"`
	BurstRate      float64 `yaml:"burst_rate"`
	BurstDurationS float64 `yaml:"burst_duration_s"`
	BurstStartS    float64 `yaml:"burst_start_s"`
	Adaptive       bool    `yaml:"adaptive"`
}

type Feedback struct {
	Enabled           bool    `yaml:"enabled"`
	IntervalS         int     `yaml:"interval_s"`
	MinFreshnessRatio float64 `yaml:"min_freshness_ratio"`
	RateScale         float64 `yaml:"rate_scale"`
}

type Benchmark struct {
	DurationS int `yaml:"duration_s"`
	WarmupS   int `yaml:"warmup_s"`
}

type Config struct {
	MQTT      MQTT      `yaml:"mqtt"`
	Deadlines Deadlines `yaml:"deadlines"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Rtdb      Rtdb      `yaml:"rtdb"`
	Freshness Freshness `yaml:"freshness"`
	SensorSim SensorSim `yaml:"sensor_sim"`
	Feedback  Feedback  `yaml:"feedback"`
	Benchmark Benchmark `yaml:"benchmark"`
}

// Default returns a fully populated configuration matching the documented
// defaults. Load starts from this and overlays the file on top.
func Default() *Config {
	return &Config{
		MQTT: MQTT{
			Host:           "localhost",
			Port:           1883,
			KeepaliveS:     60,
			AlertTopic:     "fire_system/alert",
			TelemetryTopic: "fire_system/sensor/data",
			StatusTopic:    "fire_system/status",
		},
		Deadlines: Deadlines{
			AlarmDeadlineMs:     150,
			TelemetryDeadlineMs: 300,
		},
		Pipeline: Pipeline{
			InjectJitterTelemetryMs: 0,
			TelemetryQueueMax:       10000,
			TelemetryDropPolicy:     DropPolicyNone,
			AlarmQueueMax:           1000,
		},
		Rtdb: Rtdb{
			Mode:      RtdbModeMock,
			WriteMode: WriteModeSync,
			Mock:      Mock{AckDelayMs: 20},
			Writer: Writer{
				FlushIntervalMs:     200,
				BatchLimit:          100,
				TelemetryDropPolicy: DropPolicyKeepLatest,
				TelemetryQueueMax:   2000,
				AlarmQueueMax:       1000,
				StateQueueMax:       1000,
			},
		},
		Freshness: Freshness{
			AviStateMs:     2000,
			AviTelemetryMs: 5000,
			AviAlarmMs:     10000,
		},
		SensorSim: SensorSim{
			TelemetryRate:  50,
			AlarmRate:      0.2,
			DeviceCount:    3,
			DeviceIDPrefix: "esp32-",
			BurstRate:      200,
			BurstDurationS: 5,
			BurstStartS:    10,
		},
		Feedback: Feedback{
			Enabled:           true,
			IntervalS:         5,
			MinFreshnessRatio: 0.8,
			RateScale:         0.5,
		},
		Benchmark: Benchmark{
			DurationS: 30,
			WarmupS:   3,
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := Default()
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown enum values and nonsensical limits.
func (c *Config) Validate() error {
	if c.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host must be set")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port)
	}
	if c.Deadlines.AlarmDeadlineMs <= 0 || c.Deadlines.TelemetryDeadlineMs <= 0 {
		return fmt.Errorf("deadlines must be positive")
	}

	switch c.Rtdb.Mode {
	case RtdbModeMock, RtdbModeFirebase, RtdbModeRedis:
	default:
		return fmt.Errorf("rtdb.mode must be one of mock, firebase, redis, got %q", c.Rtdb.Mode)
	}
	switch c.Rtdb.WriteMode {
	case WriteModeSync, WriteModeAsync:
	default:
		return fmt.Errorf("rtdb.write_mode must be sync or async, got %q", c.Rtdb.WriteMode)
	}

	err := validateDropPolicy("pipeline.telemetry_drop_policy", c.Pipeline.TelemetryDropPolicy)
	if err != nil {
		return err
	}
	err = validateDropPolicy("rtdb.writer.telemetry_drop_policy", c.Rtdb.Writer.TelemetryDropPolicy)
	if err != nil {
		return err
	}

	if c.Pipeline.AlarmQueueMax <= 0 || c.Pipeline.TelemetryQueueMax <= 0 {
		return fmt.Errorf("pipeline queue sizes must be positive")
	}
	if c.Rtdb.Writer.TelemetryQueueMax <= 0 || c.Rtdb.Writer.AlarmQueueMax <= 0 || c.Rtdb.Writer.StateQueueMax <= 0 {
		return fmt.Errorf("rtdb.writer queue sizes must be positive")
	}
	if c.Rtdb.Writer.BatchLimit <= 0 {
		return fmt.Errorf("rtdb.writer.batch_limit must be positive")
	}
	if c.Feedback.IntervalS <= 0 {
		return fmt.Errorf("feedback.interval_s must be positive")
	}
	if c.Feedback.RateScale <= 0 || c.Feedback.RateScale > 1 {
		return fmt.Errorf("feedback.rate_scale must be in (0, 1]")
	}
	return nil
}

func validateDropPolicy(field string, policy string) error {
	switch policy {
	case DropPolicyNone, DropPolicyKeepLatest, DropPolicyDrop:
		return nil
	default:
		return fmt.Errorf("%s must be one of none, keep_latest, drop, got %q", field, policy)
	}
}
