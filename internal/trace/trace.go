// Package trace appends per-message stage timestamps and storage acks to CSV
// files for the external joiner. Writers are serialized with a lock; the event
// file rotates once to <path>.1 when it grows past its size limit.
package trace

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pyrowatch/pyrowatch/pkg/datamodel"
)

const defaultMaxMb = 50

// EventWriter writes trace events for processed messages.
type EventWriter struct {
	path     string
	maxBytes int64
	mu       sync.Mutex
	file     *os.File
	csv      *csv.Writer
	written  int64
}

// NewEventWriter creates the trace file (and its directory) and writes the
// header. maxMb <= 0 disables rotation.
func NewEventWriter(path string, maxMb int) (*EventWriter, error) {
	if maxMb == 0 {
		maxMb = defaultMaxMb
	}
	w := &EventWriter{
		path:     path,
		maxBytes: int64(maxMb) * 1024 * 1024,
	}
	err := w.open()
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (w *EventWriter) open() error {
	err := os.MkdirAll(filepath.Dir(w.path), 0o750)
	if err != nil {
		return fmt.Errorf("failed to create trace dir: %w", err)
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open trace file %s: %w", w.path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	w.file = file
	w.csv = csv.NewWriter(file)
	w.written = info.Size()
	if w.written == 0 {
		err = w.csv.Write(datamodel.TraceEventFields)
		if err != nil {
			_ = file.Close()
			return err
		}
		w.csv.Flush()
		w.written = currentSize(file)
	}
	return w.csv.Error()
}

// WriteEvent appends one trace row, rotating first if the file is over limit.
func (w *EventWriter) WriteEvent(event *datamodel.TraceEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.maybeRotate()
	if err != nil {
		return err
	}
	err = w.csv.Write(event.Row())
	if err != nil {
		return err
	}
	w.csv.Flush()
	w.written = currentSize(w.file)
	return w.csv.Error()
}

func (w *EventWriter) maybeRotate() error {
	if w.maxBytes <= 0 || w.written <= w.maxBytes {
		return nil
	}
	err := w.file.Close()
	if err != nil {
		return err
	}
	rotated := w.path + ".1"
	_ = os.Remove(rotated)
	err = os.Rename(w.path, rotated)
	if err != nil {
		return err
	}
	return w.open()
}

// Close flushes and closes the underlying file.
func (w *EventWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.csv.Flush()
	return w.file.Close()
}

func currentSize(file *os.File) int64 {
	info, err := file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

var ackFields = []string{"msg_id", "t_db_ack_ms"}

// AckWriter records the storage acknowledgment timestamp per message id.
// A missing ack is written as -1.
type AckWriter struct {
	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
}

// NewAckWriter creates the ack file (and its directory) and writes the header.
func NewAckWriter(path string) (*AckWriter, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return nil, fmt.Errorf("failed to create ack dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open ack file %s: %w", path, err)
	}
	w := &AckWriter{file: file, csv: csv.NewWriter(file)}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.Size() == 0 {
		err = w.csv.Write(ackFields)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		w.csv.Flush()
	}
	return w, w.csv.Error()
}

// WriteAck appends one ack row.
func (w *AckWriter) WriteAck(msgID string, ackMs int64) error {
	if ackMs <= 0 {
		ackMs = -1
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.csv.Write([]string{msgID, strconv.FormatInt(ackMs, 10)})
	if err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close flushes and closes the underlying file.
func (w *AckWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.csv.Flush()
	return w.file.Close()
}
