// v2
// internal/transport/topics.go
package transport

import (
	"fmt"
	"strings"
)

// Kind classifies an inbound topic.
type Kind int

const (
	KindUnknown Kind = iota
	KindCommand
	KindAck
	KindEnvironment
	KindStatus
	KindGPS
	KindTilt
)

// Address is one parsed rack topic. Actuator carries the last segment
// for command/ack topics, Metric for environment topics; both are
// empty otherwise.
type Address struct {
	Kind     Kind
	RackID   string
	Actuator string
	Metric   string
}

// Topics renders and parses the hierarchical topic layout rooted at a
// single base segment:
//
//	{base}/{rackId}/command/{actuator}
//	{base}/{rackId}/ack/{actuator}
//	{base}/{rackId}/environment/{metric}
//	{base}/{rackId}/status
//	{base}/{rackId}/gps
//	{base}/{rackId}/tilt
type Topics struct {
	base string
}

// NewTopics builds the codec for one base segment.
func NewTopics(base string) Topics {
	return Topics{base: strings.Trim(base, "/")}
}

func (t Topics) Command(rackID, actuator string) string {
	return fmt.Sprintf("%s/%s/command/%s", t.base, rackID, actuator)
}

func (t Topics) Ack(rackID, actuator string) string {
	return fmt.Sprintf("%s/%s/ack/%s", t.base, rackID, actuator)
}

func (t Topics) Environment(rackID, metric string) string {
	return fmt.Sprintf("%s/%s/environment/%s", t.base, rackID, metric)
}

func (t Topics) Status(rackID string) string {
	return fmt.Sprintf("%s/%s/status", t.base, rackID)
}

func (t Topics) GPS(rackID string) string {
	return fmt.Sprintf("%s/%s/gps", t.base, rackID)
}

func (t Topics) Tilt(rackID string) string {
	return fmt.Sprintf("%s/%s/tilt", t.base, rackID)
}

// Subscription filters for the controller (everything rack-originated)
// and for one simulated rack (its own commands).

func (t Topics) AckFilter() string         { return fmt.Sprintf("%s/+/ack/+", t.base) }
func (t Topics) EnvironmentFilter() string { return fmt.Sprintf("%s/+/environment/+", t.base) }
func (t Topics) StatusFilter() string      { return fmt.Sprintf("%s/+/status", t.base) }
func (t Topics) GPSFilter() string         { return fmt.Sprintf("%s/+/gps", t.base) }
func (t Topics) TiltFilter() string        { return fmt.Sprintf("%s/+/tilt", t.base) }

func (t Topics) CommandFilter(rackID string) string {
	return fmt.Sprintf("%s/%s/command/+", t.base, rackID)
}

// Parse decodes one topic into an Address. Topics outside the layout
// yield an error; callers log and drop them.
func (t Topics) Parse(topic string) (Address, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != t.base || parts[1] == "" {
		return Address{}, fmt.Errorf("topic %q outside layout %s/...", topic, t.base)
	}
	addr := Address{RackID: parts[1]}
	switch {
	case len(parts) == 3 && parts[2] == "status":
		addr.Kind = KindStatus
	case len(parts) == 3 && parts[2] == "gps":
		addr.Kind = KindGPS
	case len(parts) == 3 && parts[2] == "tilt":
		addr.Kind = KindTilt
	case len(parts) == 4 && parts[2] == "command" && parts[3] != "":
		addr.Kind = KindCommand
		addr.Actuator = parts[3]
	case len(parts) == 4 && parts[2] == "ack" && parts[3] != "":
		addr.Kind = KindAck
		addr.Actuator = parts[3]
	case len(parts) == 4 && parts[2] == "environment" && parts[3] != "":
		addr.Kind = KindEnvironment
		addr.Metric = parts[3]
	default:
		return Address{}, fmt.Errorf("topic %q outside layout %s/...", topic, t.base)
	}
	return addr, nil
}

// MatchFilter reports whether topic matches an MQTT-style filter. The
// in-memory transport uses it; the broker does its own matching for
// the MQTT adapter.
func MatchFilter(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, seg := range fp {
		if seg == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if seg != "+" && seg != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
