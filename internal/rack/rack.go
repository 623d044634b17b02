// v1
// internal/rack/rack.go
package rack

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Actuator identifies one controllable output on a rack. The value is
// also the topic segment used on the wire.
type Actuator string

const (
	// ActuatorDoor drives the electromagnetic door lock.
	ActuatorDoor Actuator = "door"
	// ActuatorVentilation drives the ventilation relay.
	ActuatorVentilation Actuator = "ventilation"
	// ActuatorAlarm drives the audible buzzer.
	ActuatorAlarm Actuator = "buzzer"
)

// ParseActuator maps a topic segment to an Actuator.
func ParseActuator(s string) (Actuator, error) {
	switch Actuator(strings.TrimSpace(s)) {
	case ActuatorDoor:
		return ActuatorDoor, nil
	case ActuatorVentilation:
		return ActuatorVentilation, nil
	case ActuatorAlarm:
		return ActuatorAlarm, nil
	default:
		return "", fmt.Errorf("unknown actuator %q", s)
	}
}

// AlarmState is the buzzer cause. The numeric value is both the wire
// encoding and the precedence rank: a cause may only replace one with a
// lower value.
type AlarmState int

const (
	AlarmOff AlarmState = iota
	AlarmDoorOpen
	AlarmBreakIn
	AlarmOverheat
)

// String names the state for logs and JSON-adjacent surfaces.
func (s AlarmState) String() string {
	switch s {
	case AlarmOff:
		return "off"
	case AlarmDoorOpen:
		return "door_open"
	case AlarmBreakIn:
		return "break_in"
	case AlarmOverheat:
		return "overheat"
	default:
		return "unknown"
	}
}

// Wire renders the state as its command/ack payload.
func (s AlarmState) Wire() string {
	return strconv.Itoa(int(s))
}

// Outranks reports whether s takes precedence over other.
func (s AlarmState) Outranks(other AlarmState) bool {
	return s > other
}

// ParseAlarmState decodes a command/ack payload into an AlarmState.
func ParseAlarmState(s string) (AlarmState, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return AlarmOff, fmt.Errorf("invalid alarm payload %q: %w", s, err)
	}
	st := AlarmState(n)
	if st < AlarmOff || st > AlarmOverheat {
		return AlarmOff, fmt.Errorf("alarm payload %d out of range", n)
	}
	return st, nil
}

// Boolean payloads travel as "0"/"1" only.
var errBoolPayload = errors.New("boolean payload must be \"0\" or \"1\"")

// FormatBool renders a boolean payload.
func FormatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// ParseBool decodes a boolean payload.
func ParseBool(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("%w, got %q", errBoolPayload, s)
	}
}

// FormatFloat renders a metric payload with two decimals, matching what
// the rack firmware publishes.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Snapshot is one rack's last confirmed state. Actuator fields change
// only when the dispatcher applies an acknowledgment; sensor fields
// follow the rack's own telemetry.
type Snapshot struct {
	ID            string     `json:"rackId"`
	Temperature   *float64   `json:"temperature,omitempty"`
	Humidity      *float64   `json:"humidity,omitempty"`
	DoorOpen      bool       `json:"doorOpen"`
	VentilationOn bool       `json:"ventilationOn"`
	Alarm         AlarmState `json:"alarmState"`
	Latitude      *float64   `json:"latitude,omitempty"`
	Longitude     *float64   `json:"longitude,omitempty"`
	FirstSeen     time.Time  `json:"firstSeen"`
	LastSeen      time.Time  `json:"lastSeen"`
}
