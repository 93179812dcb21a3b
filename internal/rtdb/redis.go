package rtdb

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pyrowatch/pyrowatch/internal/clock"
)

// telemetry lists are capped per device, newest entries win
const telemetryListMax = 1000

// Redis persists device state and alarms as JSON values and telemetry as a
// capped per-device list. Like Firebase it composes the Mock as fallback.
type Redis struct {
	client   *redis.Client
	enabled  bool
	fallback *Mock
}

// NewRedis connects to the given URI and pings it once; on failure the
// returned backend routes everything to the fallback.
func NewRedis(uri string, password string, db int, fallback *Mock) *Redis {
	r := &Redis{fallback: fallback}
	if uri == "" {
		zap.S().Warnf("Redis URI not configured, using mock backend")
		return r
	}
	r.client = redis.NewClient(&redis.Options{
		Addr:     uri,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.client.Ping(ctx).Err()
	if err != nil {
		zap.S().Warnf("Redis unreachable, using mock backend: %s", err)
		return r
	}
	r.enabled = true
	zap.S().Infof("Redis backend initialized: %s", uri)
	return r
}

func (r *Redis) write(op func(ctx context.Context, payload []byte) error, data map[string]interface{}, mockWrite func() int64) int64 {
	if !r.enabled {
		if r.fallback != nil {
			return mockWrite()
		}
		return clock.WallMs()
	}
	payload, err := json.Marshal(data)
	if err != nil {
		zap.S().Warnf("Failed to marshal redis payload: %s", err)
		return AckMissing
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = op(ctx, payload)
	if err != nil {
		zap.S().Warnf("Redis write failed, falling back to mock: %s", err)
		if r.fallback != nil {
			return mockWrite()
		}
		return AckMissing
	}
	return clock.WallMs()
}

func (r *Redis) WriteState(deviceID string, state map[string]interface{}) int64 {
	return r.write(func(ctx context.Context, payload []byte) error {
		return r.client.Set(ctx, fmt.Sprintf("devices:%s:state", deviceID), payload, 0).Err()
	}, state, func() int64 {
		return r.fallback.WriteState(deviceID, state)
	})
}

func (r *Redis) WriteAlarm(alarmID string, alarm map[string]interface{}) int64 {
	return r.write(func(ctx context.Context, payload []byte) error {
		return r.client.Set(ctx, fmt.Sprintf("alarms:%s", alarmID), payload, 0).Err()
	}, alarm, func() int64 {
		return r.fallback.WriteAlarm(alarmID, alarm)
	})
}

func (r *Redis) WriteTelemetry(deviceID string, telemetry map[string]interface{}) int64 {
	return r.write(func(ctx context.Context, payload []byte) error {
		key := fmt.Sprintf("telemetry:%s", deviceID)
		pipe := r.client.TxPipeline()
		pipe.RPush(ctx, key, payload)
		pipe.LTrim(ctx, key, -telemetryListMax, -1)
		_, err := pipe.Exec(ctx)
		return err
	}, telemetry, func() int64 {
		return r.fallback.WriteTelemetry(deviceID, telemetry)
	})
}

func (r *Redis) Healthcheck() bool {
	if r.enabled {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return r.client.Ping(ctx).Err() == nil
	}
	return r.fallback != nil
}
