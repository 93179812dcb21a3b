package datamodel

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Message types as they appear on the wire.
const (
	MessageTypeAlarm     = "alarm"
	MessageTypeTelemetry = "telemetry"
	MessageTypeStatus    = "status"
)

// Severity levels assigned by the classifier, ordered ALARM > WARN > NORMAL.
const (
	SeverityAlarm  = "ALARM"
	SeverityWarn   = "WARN"
	SeverityNormal = "NORMAL"
)

// Message is a single inbound sensor message. It is immutable once decoded.
type Message struct {
	MsgID     string                 `json:"msg_id"`
	DeviceID  string                 `json:"device_id"`
	MsgType   string                 `json:"type"`
	TSensorMs int64                  `json:"t_sensor_ms,omitempty"`
	Seq       int64                  `json:"seq"`
	Values    map[string]float64     `json:"values"`
	Alarm     map[string]interface{} `json:"alarm,omitempty"`
}

// MessageFromPayload decodes a raw MQTT payload into a Message. When the
// payload carries no type field, the type is inferred from the topic suffix
// (alert -> alarm, status -> status, everything else -> telemetry).
func MessageFromPayload(topic string, payload []byte) (*Message, error) {
	var msg Message
	err := json.Unmarshal(payload, &msg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload on %s: %w", topic, err)
	}
	if msg.MsgType == "" {
		switch {
		case strings.HasSuffix(topic, "alert"):
			msg.MsgType = MessageTypeAlarm
		case strings.HasSuffix(topic, "status"):
			msg.MsgType = MessageTypeStatus
		default:
			msg.MsgType = MessageTypeTelemetry
		}
	}
	if msg.Values == nil {
		msg.Values = map[string]float64{}
	}
	return &msg, nil
}

// Value returns the named sensor reading, treating missing fields as 0.
func (m *Message) Value(name string) float64 {
	return m.Values[name]
}

// Item wraps a Message with the pipeline-assigned timestamps and
// classification. Ownership moves stage to stage, there is no concurrent
// mutation once a stage hands it off.
type Item struct {
	Message      *Message
	TPcRxMs      int64
	TProcStartMs int64
	TProcEndMs   int64
	Severity     string
	RuleNote     string
}

// Record is the persistence-writer input built from a processed Item.
// Immutable after construction.
type Record struct {
	MsgID        string
	DeviceID     string
	MsgType      string
	State        map[string]interface{}
	Alarm        map[string]interface{}
	Telemetry    map[string]interface{}
	TDbEnqueueMs int64
}
