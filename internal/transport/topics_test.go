// v1
// internal/transport/topics_test.go
package transport

import "testing"

func TestTopicRoundTrip(t *testing.T) {
	tp := NewTopics("racks")
	cases := []struct {
		name  string
		topic string
		want  Address
	}{
		{"command", tp.Command("R1", "ventilation"), Address{Kind: KindCommand, RackID: "R1", Actuator: "ventilation"}},
		{"ack", tp.Ack("R1", "buzzer"), Address{Kind: KindAck, RackID: "R1", Actuator: "buzzer"}},
		{"environment", tp.Environment("R2", "temperature"), Address{Kind: KindEnvironment, RackID: "R2", Metric: "temperature"}},
		{"status", tp.Status("R3"), Address{Kind: KindStatus, RackID: "R3"}},
		{"gps", tp.GPS("R3"), Address{Kind: KindGPS, RackID: "R3"}},
		{"tilt", tp.Tilt("R3"), Address{Kind: KindTilt, RackID: "R3"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tp.Parse(tc.topic)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.topic, err)
			}
			if got != tc.want {
				t.Fatalf("parse %q: got %+v want %+v", tc.topic, got, tc.want)
			}
		})
	}
}

func TestParseRejectsForeignTopics(t *testing.T) {
	tp := NewTopics("racks")
	for _, topic := range []string{
		"other/R1/status",
		"racks/R1/bogus",
		"racks/R1/command",
		"racks/R1/command/door/extra",
		"racks//status",
		"racks",
	} {
		if _, err := tp.Parse(topic); err == nil {
			t.Errorf("expected parse error for %q", topic)
		}
	}
}

func TestMatchFilter(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"racks/+/ack/+", "racks/R1/ack/door", true},
		{"racks/+/ack/+", "racks/R1/command/door", false},
		{"racks/+/status", "racks/R9/status", true},
		{"racks/+/status", "racks/R9/status/extra", false},
		{"racks/#", "racks/R1/environment/humidity", true},
		{"racks/R1/command/+", "racks/R2/command/door", false},
	}
	for _, tc := range cases {
		if got := MatchFilter(tc.filter, tc.topic); got != tc.want {
			t.Errorf("MatchFilter(%q, %q) = %v, want %v", tc.filter, tc.topic, got, tc.want)
		}
	}
}

func TestMemoryTransportDelivers(t *testing.T) {
	m := NewMemory()
	var got []string
	if err := m.Subscribe("racks/+/ack/+", func(topic, payload string) {
		got = append(got, topic+"="+payload)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := m.Publish("racks/R1/ack/door", "1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := m.Publish("racks/R1/environment/temperature", "30.00"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 || got[0] != "racks/R1/ack/door=1" {
		t.Fatalf("unexpected deliveries %v", got)
	}
}
