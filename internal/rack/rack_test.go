// v1
// internal/rack/rack_test.go
package rack

import "testing"

func TestParseActuator(t *testing.T) {
	cases := []struct {
		in      string
		want    Actuator
		wantErr bool
	}{
		{"door", ActuatorDoor, false},
		{"ventilation", ActuatorVentilation, false},
		{"buzzer", ActuatorAlarm, false},
		{" door ", ActuatorDoor, false},
		{"fan", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := ParseActuator(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseActuator(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseActuator(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseActuator(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAlarmStateWireRoundTrip(t *testing.T) {
	for st := AlarmOff; st <= AlarmOverheat; st++ {
		got, err := ParseAlarmState(st.Wire())
		if err != nil {
			t.Fatalf("ParseAlarmState(%q): %v", st.Wire(), err)
		}
		if got != st {
			t.Fatalf("round trip of %v produced %v", st, got)
		}
	}
}

func TestParseAlarmStateRejectsOutOfRange(t *testing.T) {
	for _, in := range []string{"-1", "4", "99", "x", ""} {
		if _, err := ParseAlarmState(in); err == nil {
			t.Errorf("ParseAlarmState(%q): expected error", in)
		}
	}
}

func TestAlarmPriorityOrder(t *testing.T) {
	ordered := []AlarmState{AlarmOff, AlarmDoorOpen, AlarmBreakIn, AlarmOverheat}
	for i, lower := range ordered {
		for _, higher := range ordered[i+1:] {
			if !higher.Outranks(lower) {
				t.Errorf("%v should outrank %v", higher, lower)
			}
			if lower.Outranks(higher) {
				t.Errorf("%v must not outrank %v", lower, higher)
			}
		}
		if lower.Outranks(lower) {
			t.Errorf("%v must not outrank itself", lower)
		}
	}
}

func TestParseBoolStrict(t *testing.T) {
	if v, err := ParseBool("1"); err != nil || !v {
		t.Fatalf("ParseBool(\"1\") = %v, %v", v, err)
	}
	if v, err := ParseBool("0"); err != nil || v {
		t.Fatalf("ParseBool(\"0\") = %v, %v", v, err)
	}
	for _, in := range []string{"true", "2", "", "on"} {
		if _, err := ParseBool(in); err == nil {
			t.Errorf("ParseBool(%q): expected error", in)
		}
	}
}

func TestFormatFloat(t *testing.T) {
	if got := FormatFloat(36.1); got != "36.10" {
		t.Fatalf("FormatFloat(36.1) = %q", got)
	}
	if got := FormatFloat(-3.5); got != "-3.50" {
		t.Fatalf("FormatFloat(-3.5) = %q", got)
	}
}
