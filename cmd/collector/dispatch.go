package main

import (
	"go.uber.org/zap"

	"github.com/pyrowatch/pyrowatch/cmd/collector/dbwriter"
	"github.com/pyrowatch/pyrowatch/internal/clock"
	"github.com/pyrowatch/pyrowatch/internal/config"
	"github.com/pyrowatch/pyrowatch/internal/feedback"
	"github.com/pyrowatch/pyrowatch/internal/rtdb"
	"github.com/pyrowatch/pyrowatch/internal/trace"
	"github.com/pyrowatch/pyrowatch/pkg/datamodel"
)

const stateSource = "sim"

// Dispatcher terminates the pipeline: it persists each processed item (either
// synchronously against the backend or through the async writer), emits the
// dashboard event, records the trace row and feeds the freshness controller.
// It runs on the pipeline worker goroutine.
type Dispatcher struct {
	cfg      *config.Config
	backend  rtdb.Backend
	writer   *dbwriter.Writer // nil in sync write mode
	events   *trace.EventWriter
	acks     *trace.AckWriter
	feedback *feedback.Controller // nil when feedback is disabled
}

func NewDispatcher(
	cfg *config.Config,
	backend rtdb.Backend,
	writer *dbwriter.Writer,
	events *trace.EventWriter,
	acks *trace.AckWriter,
	fb *feedback.Controller,
) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		backend:  backend,
		writer:   writer,
		events:   events,
		acks:     acks,
		feedback: fb,
	}
}

func buildState(msg *datamodel.Message, severity string, aviStateMs int64) map[string]interface{} {
	return map[string]interface{}{
		"ts_ms":    tsOrNow(msg),
		"severity": severity,
		"values":   msg.Values,
		"avi_ms":   aviStateMs,
		"src":      stateSource,
	}
}

func buildAlarm(msg *datamodel.Message, severity string) map[string]interface{} {
	return map[string]interface{}{
		"deviceId": msg.DeviceID,
		"ts_ms":    tsOrNow(msg),
		"severity": severity,
		"values":   msg.Values,
		"ack":      false,
		"note":     "",
	}
}

func buildTelemetry(msg *datamodel.Message) map[string]interface{} {
	return map[string]interface{}{
		"ts_ms":  tsOrNow(msg),
		"values": msg.Values,
	}
}

func tsOrNow(msg *datamodel.Message) int64 {
	if msg.TSensorMs > 0 {
		return msg.TSensorMs
	}
	return clock.WallMs()
}

func appendNote(notes string, note string) string {
	if notes == "" {
		return note
	}
	return notes + ";" + note
}

// OnProcessed is the pipeline callback.
func (d *Dispatcher) OnProcessed(item *datamodel.Item) {
	msg := item.Message

	deadlineMs := d.cfg.Deadlines.TelemetryDeadlineMs
	aviMs := d.cfg.Freshness.AviTelemetryMs
	if msg.MsgType == datamodel.MessageTypeAlarm {
		deadlineMs = d.cfg.Deadlines.AlarmDeadlineMs
		aviMs = d.cfg.Freshness.AviAlarmMs
	}

	tDbEnqueueMs := clock.WallMs()
	state := buildState(msg, item.Severity, d.cfg.Freshness.AviStateMs)
	alarm := buildAlarm(msg, item.Severity)
	telemetry := buildTelemetry(msg)
	notes := item.RuleNote

	if d.writer == nil {
		notes = d.writeSync(msg, state, alarm, telemetry, notes)
	} else {
		ok := d.writer.Enqueue(&datamodel.Record{
			MsgID:        msg.MsgID,
			DeviceID:     msg.DeviceID,
			MsgType:      msg.MsgType,
			State:        state,
			Alarm:        alarm,
			Telemetry:    telemetry,
			TDbEnqueueMs: tDbEnqueueMs,
		})
		if !ok {
			notes = appendNote(notes, "db_drop")
		}
	}

	tDashboardEmitMs := clock.WallMs()
	zap.S().Infow("DASHBOARD",
		"msg_id", msg.MsgID,
		"type", msg.MsgType,
		"severity", item.Severity,
	)

	err := d.events.WriteEvent(&datamodel.TraceEvent{
		MsgID:            msg.MsgID,
		DeviceID:         msg.DeviceID,
		MsgType:          msg.MsgType,
		TSensorMs:        msg.TSensorMs,
		TPcRxMs:          item.TPcRxMs,
		TProcStartMs:     item.TProcStartMs,
		TProcEndMs:       item.TProcEndMs,
		TDbEnqueueMs:     tDbEnqueueMs,
		TDashboardEmitMs: tDashboardEmitMs,
		DeadlineMs:       deadlineMs,
		AviMs:            aviMs,
		Notes:            notes,
	})
	if err != nil {
		zap.S().Errorf("Failed to write trace event for %s: %s", msg.MsgID, err)
	}

	if d.feedback != nil && msg.MsgType == datamodel.MessageTypeTelemetry {
		base := msg.TSensorMs
		if base <= 0 {
			base = item.TPcRxMs
		}
		d.feedback.Observe(tDashboardEmitMs-base <= aviMs)
	}
}

// writeSync performs the synchronous write path: state always, then the
// type-specific write whose ack supersedes the state ack.
func (d *Dispatcher) writeSync(
	msg *datamodel.Message,
	state map[string]interface{},
	alarm map[string]interface{},
	telemetry map[string]interface{},
	notes string,
) string {
	ackMs := d.backend.WriteState(msg.DeviceID, state)
	switch msg.MsgType {
	case datamodel.MessageTypeAlarm:
		ackMs = d.backend.WriteAlarm(msg.MsgID, alarm)
	case datamodel.MessageTypeTelemetry:
		ackMs = d.backend.WriteTelemetry(msg.DeviceID, telemetry)
	}
	err := d.acks.WriteAck(msg.MsgID, ackMs)
	if err != nil {
		zap.S().Warnf("Failed to log db ack for %s: %s", msg.MsgID, err)
	}
	if ackMs <= 0 {
		return appendNote(notes, "db_ack_missing")
	}
	return notes
}
