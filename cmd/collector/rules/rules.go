// Package rules maps a sensor message to a severity level. The rule order is
// fixed: message type, embedded alarm payload, then sensor thresholds from
// most to least specific. First match wins.
package rules

import "github.com/pyrowatch/pyrowatch/pkg/datamodel"

// Default sensor thresholds for the fire-detection ruleset.
const (
	ThresholdFlame = 1.0
	ThresholdSmoke = 0.7
	ThresholdGas   = 0.7
	ThresholdTemp  = 60.0
)

// Classify returns the severity of a message and the rule that fired.
// Missing sensor values compare as 0, so a message without readings is NORMAL.
func Classify(msg *datamodel.Message) (severity string, note string) {
	if msg.MsgType == datamodel.MessageTypeAlarm {
		return datamodel.SeverityAlarm, "alarm_type"
	}

	if fireDetected, ok := msg.Alarm["fire_detected"].(bool); ok && fireDetected {
		return datamodel.SeverityAlarm, "alarm_payload"
	}
	if level, ok := msg.Alarm["level"].(string); ok && level == datamodel.SeverityAlarm {
		return datamodel.SeverityAlarm, "alarm_payload"
	}

	if msg.Value("flame") >= ThresholdFlame {
		return datamodel.SeverityAlarm, "flame"
	}
	if msg.Value("smoke") >= ThresholdSmoke {
		return datamodel.SeverityWarn, "smoke"
	}
	if msg.Value("gas") >= ThresholdGas {
		return datamodel.SeverityWarn, "gas"
	}
	if msg.Value("temp") >= ThresholdTemp {
		return datamodel.SeverityWarn, "temp"
	}

	return datamodel.SeverityNormal, "ok"
}
