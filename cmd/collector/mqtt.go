package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/pyrowatch/pyrowatch/cmd/collector/dbwriter"
	"github.com/pyrowatch/pyrowatch/cmd/collector/pipeline"
	"github.com/pyrowatch/pyrowatch/internal/clock"
	"github.com/pyrowatch/pyrowatch/internal/dedup"
	"github.com/pyrowatch/pyrowatch/pkg/datamodel"
)

// Prometheus metrics
var (
	mqttReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_mqtt_received_total",
			Help: "The total number of incoming MQTT messages",
		},
		[]string{"msg_type"},
	)
	mqttDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_mqtt_duplicates_total",
			Help: "The total number of redelivered MQTT messages that were skipped",
		},
	)
	mqttInvalid = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_mqtt_invalid_total",
			Help: "The total number of undecodable MQTT payloads",
		},
	)
)

const dedupCacheSize = 1_000_000

// newMessageHandler builds the transport-facing ingest handler: stamp receipt
// time, skip QoS-1 redeliveries, decode, count and admit into the pipeline.
// Drops under the configured policy are counted inside the pipeline; the
// handler only refreshes the high-water marks for the run statistics.
func newMessageHandler(pipe *pipeline.Pipeline, writer *dbwriter.Writer, stats *Stats) func(topic string, payload []byte) {
	seen, err := dedup.New(dedupCacheSize)
	if err != nil {
		zap.S().Fatalf("Failed to create dedup cache: %s", err)
	}

	return func(topic string, payload []byte) {
		tPcRxMs := clock.WallMs()

		if seen.CheckAndMark(topic, payload) {
			mqttDuplicates.Inc()
			return
		}

		msg, err := datamodel.MessageFromPayload(topic, payload)
		if err != nil {
			mqttInvalid.Inc()
			zap.S().Warnf("Discarding malformed payload on %s: %s", topic, err)
			return
		}

		stats.IncReceived(msg.MsgType)
		mqttReceived.WithLabelValues(msg.MsgType).Inc()

		pipe.Enqueue(&datamodel.Item{Message: msg, TPcRxMs: tPcRxMs})

		dbMax := int64(0)
		if writer != nil {
			dbMax = writer.QueueMaxObserved()
		}
		stats.ObserveQueueMax(pipe.QueueMaxObserved(), dbMax)
	}
}
