// Package dbwriter is the persistence stage used in asynchronous write mode.
// Alarm and state records go through bounded blocking queues; telemetry is
// coalesced to the latest record per device and flushed in batches, oldest
// device first. Shutdown performs one final full drain so buffered records
// are never silently lost — runtime drops are an explicit, counted policy.
package dbwriter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/pyrowatch/pyrowatch/internal/clock"
	"github.com/pyrowatch/pyrowatch/internal/config"
	"github.com/pyrowatch/pyrowatch/internal/rtdb"
	"github.com/pyrowatch/pyrowatch/internal/trace"
	"github.com/pyrowatch/pyrowatch/pkg/datamodel"
)

// Prometheus metrics
var (
	dbWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_db_written_total",
			Help: "The total number of records written to the storage backend",
		},
		[]string{"msg_type"},
	)
	dbDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_db_dropped_total",
			Help: "The total number of telemetry records dropped by the coalescing queue",
		},
	)
)

const idleSleep = 10 * time.Millisecond

type Writer struct {
	backend rtdb.Backend
	acks    *trace.AckWriter

	flushIntervalMs int64
	batchLimit      int
	dropPolicy      string
	telemetryMax    int

	alarmCh chan *datamodel.Record
	stateCh chan *datamodel.Record

	// latest and order form one coalescing structure; the capacity check,
	// eviction and insert must happen under a single lock.
	mu     sync.Mutex
	latest map[string]*datamodel.Record
	order  []string

	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	stopOnce sync.Once

	dropCount atomic.Int64
	queueMax  atomic.Int64
}

// New builds a writer over the given backend. Start must be called before
// records are enqueued.
func New(cfg config.Writer, backend rtdb.Backend, acks *trace.AckWriter) *Writer {
	return &Writer{
		backend:         backend,
		acks:            acks,
		flushIntervalMs: cfg.FlushIntervalMs,
		batchLimit:      cfg.BatchLimit,
		dropPolicy:      cfg.TelemetryDropPolicy,
		telemetryMax:    cfg.TelemetryQueueMax,
		alarmCh:         make(chan *datamodel.Record, cfg.AlarmQueueMax),
		stateCh:         make(chan *datamodel.Record, cfg.StateQueueMax),
		latest:          make(map[string]*datamodel.Record),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Start spawns the writer goroutine.
func (w *Writer) Start() {
	if w.started {
		return
	}
	w.started = true
	go w.run()
}

// Stop signals the worker, waits for it with a bounded join, then drains
// everything that is still buffered.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	if w.started {
		select {
		case <-w.doneCh:
		case <-time.After(2 * time.Second):
			zap.S().Warnf("DB writer worker did not stop in time")
		}
	}
	w.flushAll()
}

// Enqueue routes a record by message type. Alarm and state records block when
// their queue is full and always succeed. Telemetry is coalesced per device;
// a false return means the record was rejected under the drop policy.
func (w *Writer) Enqueue(record *datamodel.Record) bool {
	switch record.MsgType {
	case datamodel.MessageTypeAlarm:
		w.alarmCh <- record
		return true
	case datamodel.MessageTypeStatus:
		w.stateCh <- record
		return true
	}

	// Telemetry path: latest record per device wins.
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.latest[record.DeviceID]; exists {
		w.latest[record.DeviceID] = record
	} else {
		if len(w.latest) >= w.telemetryMax {
			if w.dropPolicy != config.DropPolicyKeepLatest {
				w.dropCount.Add(1)
				dbDropped.Inc()
				return false
			}
			if len(w.order) == 0 {
				w.dropCount.Add(1)
				dbDropped.Inc()
				return false
			}
			oldest := w.order[0]
			w.order = w.order[1:]
			delete(w.latest, oldest)
			w.dropCount.Add(1)
			dbDropped.Inc()
		}
		w.latest[record.DeviceID] = record
		w.order = append(w.order, record.DeviceID)
	}

	depth := int64(len(w.latest))
	if depth > w.queueMax.Load() {
		w.queueMax.Store(depth)
	}
	return true
}

// DropCountTelemetry is the cumulative number of telemetry records dropped.
func (w *Writer) DropCountTelemetry() int64 {
	return w.dropCount.Load()
}

// QueueMaxObserved is the high-water mark of the coalescing map size.
func (w *Writer) QueueMaxObserved() int64 {
	return w.queueMax.Load()
}

func (w *Writer) pendingTelemetry() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.latest)
}

func (w *Writer) run() {
	defer close(w.doneCh)
	zap.S().Debugf("DB writer worker started")
	nextFlush := clock.MonotonicMs() + w.flushIntervalMs
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		// Alarms first, then state, then batched telemetry.
		select {
		case record := <-w.alarmCh:
			w.writeRecord(record)
			continue
		default:
		}
		select {
		case record := <-w.stateCh:
			w.writeRecord(record)
			continue
		default:
		}

		pending := w.pendingTelemetry()
		now := clock.MonotonicMs()
		if pending > 0 && (now >= nextFlush || pending >= w.batchLimit) {
			w.flushBatch(w.batchLimit)
			nextFlush = clock.MonotonicMs() + w.flushIntervalMs
			continue
		}

		select {
		case <-w.stopCh:
			return
		case <-time.After(idleSleep):
		}
	}
}

func (w *Writer) popOldest() *datamodel.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.order) > 0 {
		deviceID := w.order[0]
		w.order = w.order[1:]
		record, ok := w.latest[deviceID]
		if !ok {
			continue
		}
		delete(w.latest, deviceID)
		return record
	}
	return nil
}

func (w *Writer) flushBatch(limit int) {
	for count := 0; count < limit; count++ {
		record := w.popOldest()
		if record == nil {
			return
		}
		w.writeRecord(record)
	}
}

func (w *Writer) flushAll() {
	w.flushBatch(w.pendingTelemetry())
	for {
		select {
		case record := <-w.alarmCh:
			w.writeRecord(record)
			continue
		default:
		}
		select {
		case record := <-w.stateCh:
			w.writeRecord(record)
		default:
			return
		}
	}
}

// writeRecord writes the state entry, then the type-specific entry; the last
// ack supersedes the state ack and is logged for the message.
func (w *Writer) writeRecord(record *datamodel.Record) {
	ackMs := w.backend.WriteState(record.DeviceID, record.State)
	switch record.MsgType {
	case datamodel.MessageTypeAlarm:
		ackMs = w.backend.WriteAlarm(record.MsgID, record.Alarm)
	case datamodel.MessageTypeTelemetry:
		ackMs = w.backend.WriteTelemetry(record.DeviceID, record.Telemetry)
	}
	dbWritten.WithLabelValues(record.MsgType).Inc()

	err := w.acks.WriteAck(record.MsgID, ackMs)
	if err != nil {
		zap.S().Warnf("Failed to log db ack for %s: %s", record.MsgID, err)
	}
}
