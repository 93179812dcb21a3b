package main

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/pyrowatch/pyrowatch/pkg/datamodel"
)

// Stats is the run-scoped statistics object: created once at startup, mutated
// only through its methods, snapshotted once at shutdown.
type Stats struct {
	mu               sync.Mutex
	received         map[string]int64
	droppedPipeline  int64
	droppedDb        int64
	queueMaxPipeline int64
	queueMaxDb       int64
}

type statsSnapshot struct {
	Received        map[string]int64 `json:"received"`
	DroppedPipeline int64            `json:"dropped_pipeline"`
	DroppedDb       int64            `json:"dropped_db"`
	QueueMaxPipe    int64            `json:"queue_max_pipeline"`
	QueueMaxDb      int64            `json:"queue_max_db"`
}

func NewStats() *Stats {
	return &Stats{
		received: map[string]int64{
			datamodel.MessageTypeAlarm:     0,
			datamodel.MessageTypeTelemetry: 0,
			datamodel.MessageTypeStatus:    0,
		},
	}
}

// IncReceived counts one inbound message of the given type.
func (s *Stats) IncReceived(msgType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received[msgType]++
}

// ObserveQueueMax folds current high-water marks into the run maxima.
func (s *Stats) ObserveQueueMax(pipeline int64, db int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pipeline > s.queueMaxPipeline {
		s.queueMaxPipeline = pipeline
	}
	if db > s.queueMaxDb {
		s.queueMaxDb = db
	}
}

// SetDropped overwrites the drop totals with the components' final counters.
func (s *Stats) SetDropped(pipeline int64, db int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.droppedPipeline = pipeline
	s.droppedDb = db
}

// WriteFile persists the snapshot as JSON.
func (s *Stats) WriteFile(path string) error {
	s.mu.Lock()
	snapshot := statsSnapshot{
		Received:        make(map[string]int64, len(s.received)),
		DroppedPipeline: s.droppedPipeline,
		DroppedDb:       s.droppedDb,
		QueueMaxPipe:    s.queueMaxPipeline,
		QueueMaxDb:      s.queueMaxDb,
	}
	for k, v := range s.received {
		snapshot.Received[k] = v
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	err = os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o640)
}
