package datamodel

import "strconv"

// TraceEventFields is the column order of the trace CSV, consumed by the
// external joiner.
var TraceEventFields = []string{
	"msg_id",
	"device_id",
	"msg_type",
	"t_sensor_ms",
	"t_pc_rx_ms",
	"t_proc_start_ms",
	"t_proc_end_ms",
	"t_db_enqueue_ms",
	"t_dashboard_emit_ms",
	"deadline_ms",
	"avi_ms",
	"notes",
}

// TraceEvent captures every stage timestamp of one processed message plus its
// assigned deadline and freshness budget. Written once per message.
type TraceEvent struct {
	MsgID            string
	DeviceID         string
	MsgType          string
	TSensorMs        int64
	TPcRxMs          int64
	TProcStartMs     int64
	TProcEndMs       int64
	TDbEnqueueMs     int64
	TDashboardEmitMs int64
	DeadlineMs       int64
	AviMs            int64
	Notes            string
}

// Row renders the event in TraceEventFields order. Timestamps that were never
// stamped (<= 0) render as empty cells.
func (e *TraceEvent) Row() []string {
	return []string{
		e.MsgID,
		e.DeviceID,
		e.MsgType,
		optionalMs(e.TSensorMs),
		strconv.FormatInt(e.TPcRxMs, 10),
		strconv.FormatInt(e.TProcStartMs, 10),
		strconv.FormatInt(e.TProcEndMs, 10),
		optionalMs(e.TDbEnqueueMs),
		optionalMs(e.TDashboardEmitMs),
		strconv.FormatInt(e.DeadlineMs, 10),
		strconv.FormatInt(e.AviMs, 10),
		e.Notes,
	}
}

func optionalMs(v int64) string {
	if v <= 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}
