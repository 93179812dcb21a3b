// Package pipeline is the ingest stage: it admits inbound messages into two
// bounded queues, classifies them on a single worker goroutine and hands the
// annotated item to a downstream callback. Alarms are never dropped — when
// their queue is full the producer blocks. Telemetry and status share a
// second queue governed by a configurable drop policy.
package pipeline

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/pyrowatch/pyrowatch/cmd/collector/rules"
	"github.com/pyrowatch/pyrowatch/internal/clock"
	"github.com/pyrowatch/pyrowatch/internal/config"
	"github.com/pyrowatch/pyrowatch/pkg/datamodel"
)

// Prometheus metrics
var (
	pipelineProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_pipeline_processed_total",
			Help: "The total number of messages processed by the ingest pipeline",
		},
		[]string{"msg_type"},
	)
	pipelineDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_pipeline_dropped_total",
			Help: "The total number of telemetry/status messages dropped at admission",
		},
	)
)

const pollInterval = 50 * time.Millisecond

// Callback receives each fully annotated item, synchronously on the worker
// goroutine. Latency here directly backpressures the pipeline, which is
// intentional.
type Callback func(item *datamodel.Item)

type Pipeline struct {
	onProcessed Callback

	jitterMs   int
	dropPolicy string

	alarmCh     chan *datamodel.Item
	telemetryCh chan *datamodel.Item

	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	stopOnce sync.Once

	dropCount atomic.Int64
	queueMax  atomic.Int64
}

// New builds a pipeline from the config section. Start must be called before
// messages are enqueued.
func New(cfg config.Pipeline, onProcessed Callback) *Pipeline {
	return &Pipeline{
		onProcessed: onProcessed,
		jitterMs:    cfg.InjectJitterTelemetryMs,
		dropPolicy:  cfg.TelemetryDropPolicy,
		alarmCh:     make(chan *datamodel.Item, cfg.AlarmQueueMax),
		telemetryCh: make(chan *datamodel.Item, cfg.TelemetryQueueMax),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start spawns the worker goroutine.
func (p *Pipeline) Start() {
	if p.started {
		return
	}
	p.started = true
	go p.run()
}

// Stop signals the worker and waits for it to drain its current item. Safe to
// call more than once; the join is bounded.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	select {
	case <-p.doneCh:
	case <-time.After(2 * time.Second):
		zap.S().Warnf("Pipeline worker did not stop in time")
	}
}

// Enqueue admits one item. Alarms block until the alarm queue has room and
// always succeed. Telemetry/status behavior depends on the drop policy; a
// false return means the message was rejected and should be counted as a
// drop by the caller.
func (p *Pipeline) Enqueue(item *datamodel.Item) bool {
	if item.Message.MsgType == datamodel.MessageTypeAlarm {
		p.alarmCh <- item
		return true
	}

	select {
	case p.telemetryCh <- item:
		p.observeQueueDepth()
		return true
	default:
	}

	// Queue is saturated.
	switch p.dropPolicy {
	case config.DropPolicyNone:
		// Backpressure the producer instead of dropping.
		p.telemetryCh <- item
		p.observeQueueDepth()
		return true
	case config.DropPolicyKeepLatest:
		// Evict the oldest queued item, newest wins.
		select {
		case <-p.telemetryCh:
		default:
		}
		p.dropCount.Add(1)
		pipelineDropped.Inc()
		p.telemetryCh <- item
		p.observeQueueDepth()
		return true
	default:
		p.dropCount.Add(1)
		pipelineDropped.Inc()
		return false
	}
}

func (p *Pipeline) observeQueueDepth() {
	depth := int64(len(p.telemetryCh))
	for {
		seen := p.queueMax.Load()
		if depth <= seen || p.queueMax.CompareAndSwap(seen, depth) {
			return
		}
	}
}

// DropCountTelemetry is the cumulative number of telemetry/status drops.
func (p *Pipeline) DropCountTelemetry() int64 {
	return p.dropCount.Load()
}

// QueueMaxObserved is the high-water mark of the telemetry queue depth.
func (p *Pipeline) QueueMaxObserved() int64 {
	return p.queueMax.Load()
}

func (p *Pipeline) run() {
	defer close(p.doneCh)
	zap.S().Debugf("Pipeline worker started")
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		// Alarms are served ahead of telemetry even if telemetry was
		// enqueued earlier.
		select {
		case item := <-p.alarmCh:
			p.process(item)
			continue
		default:
		}

		select {
		case <-p.stopCh:
			return
		case item := <-p.alarmCh:
			p.process(item)
		case item := <-p.telemetryCh:
			p.process(item)
		case <-time.After(pollInterval):
		}
	}
}

func (p *Pipeline) process(item *datamodel.Item) {
	item.TProcStartMs = clock.WallMs()

	if item.Message.MsgType != datamodel.MessageTypeAlarm && p.jitterMs > 0 {
		// Emulate variable processing cost for low-priority classes.
		time.Sleep(time.Duration(rand.Intn(p.jitterMs+1)) * time.Millisecond)
	}

	item.Severity, item.RuleNote = rules.Classify(item.Message)
	item.TProcEndMs = clock.WallMs()

	pipelineProcessed.WithLabelValues(item.Message.MsgType).Inc()
	p.onProcessed(item)
}
