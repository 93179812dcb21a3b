// Package rtdb abstracts the real-time database the collector persists to.
// Every write returns an acknowledgment timestamp in unix milliseconds, or
// AckMissing when the backend could not confirm the write. Writes never
// return errors to the pipeline; a failing remote backend falls back to the
// local mock.
package rtdb

// AckMissing marks a write whose acknowledgment was not observed.
const AckMissing int64 = -1

// Backend is the storage collaborator contract.
type Backend interface {
	// WriteState upserts the device state under /devices/<id>/state.
	WriteState(deviceID string, state map[string]interface{}) int64
	// WriteAlarm stores an alarm under /alarms/<id>.
	WriteAlarm(alarmID string, alarm map[string]interface{}) int64
	// WriteTelemetry appends a telemetry sample under /telemetry/<id>.
	WriteTelemetry(deviceID string, telemetry map[string]interface{}) int64
	// Healthcheck reports whether the backend can accept writes.
	Healthcheck() bool
}
