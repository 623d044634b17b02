// v3
// internal/engine/engine.go
// Package engine holds the hysteresis decision rules. Evaluate reads a
// rack's confirmed state plus trend estimates and emits action
// intents; it never mutates the rack. Confirmation flows back through
// the dispatcher, so the next tick sees what actually happened.
package engine

import (
	"fmt"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/config"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/rack"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/telemetry"
)

// Intent asks the dispatcher to drive one actuator to a desired wire
// value. Kind names the decision for logs and counters.
type Intent struct {
	RackID   string
	Actuator rack.Actuator
	Desired  string
	Kind     string
}

// Input is everything one evaluation reads. Estimates are nil while a
// window has insufficient data. TiltLatched is set by the controller
// when the rack reported a tilt event that has not yet been absorbed
// into a confirmed alarm.
type Input struct {
	Rack        rack.Snapshot
	Temperature *telemetry.Estimate
	Humidity    *telemetry.Estimate
	TiltLatched bool
}

// Engine applies the dual-threshold rules. It carries no mutable
// state; all memory lives in the confirmed rack snapshot, which is
// what makes the dead-band hold across ticks.
type Engine struct {
	temp config.Thresholds
	hum  config.Thresholds
	// risingRate enables anticipatory ventilation when the temperature
	// slope (degrees per minute) reaches it. Zero disables the policy.
	risingRate float64
}

// New builds an engine over immutable threshold configuration.
func New(temp, hum config.Thresholds, risingRate float64) *Engine {
	return &Engine{temp: temp, hum: hum, risingRate: risingRate}
}

// Evaluate derives the intents warranted by the current state. Idempotent
// conditions produce no intent: an actuator already confirmed in the
// desired position is left alone.
func (e *Engine) Evaluate(in Input) []Intent {
	var intents []Intent
	r := in.Rack

	overheat := r.Temperature != nil && *r.Temperature >= e.temp.Critical

	// Alarm resolution: one authoritative pass over the closed set of
	// causes. A cause may only replace a lower-ranked active one;
	// de-escalation happens solely through that cause's own reset
	// condition.
	if target, ok := e.resolveAlarm(r, overheat, in.TiltLatched); ok {
		kind := "alarm_" + target.String()
		if target == rack.AlarmOff {
			kind = "alarm_clear"
		}
		intents = append(intents, Intent{
			RackID:   r.ID,
			Actuator: rack.ActuatorAlarm,
			Desired:  target.Wire(),
			Kind:     kind,
		})
	}

	if intent, ok := e.resolveVentilation(in, overheat); ok {
		intents = append(intents, intent)
	}
	return intents
}

func (e *Engine) resolveAlarm(r rack.Snapshot, overheat, tilt bool) (rack.AlarmState, bool) {
	// Highest candidate cause currently observable.
	candidate := rack.AlarmOff
	if r.DoorOpen {
		candidate = rack.AlarmDoorOpen
	}
	if tilt {
		candidate = rack.AlarmBreakIn
	}
	if overheat {
		candidate = rack.AlarmOverheat
	}

	if candidate.Outranks(r.Alarm) {
		return candidate, true
	}

	switch r.Alarm {
	case rack.AlarmOverheat:
		// Hold through the [criticalReset, critical) band; only a
		// reading below the reset boundary releases the alarm.
		if r.Temperature != nil && *r.Temperature < e.temp.CriticalReset {
			return rack.AlarmOff, true
		}
	case rack.AlarmDoorOpen:
		if !r.DoorOpen {
			return rack.AlarmOff, true
		}
	case rack.AlarmBreakIn:
		// Break-in clears only through an operator silence command.
	}
	return rack.AlarmOff, false
}

func (e *Engine) resolveVentilation(in Input, overheat bool) (Intent, bool) {
	r := in.Rack

	on := func(kind string) (Intent, bool) {
		if r.VentilationOn {
			return Intent{}, false
		}
		return Intent{RackID: r.ID, Actuator: rack.ActuatorVentilation, Desired: rack.FormatBool(true), Kind: kind}, true
	}

	humCritical := r.Humidity != nil && *r.Humidity >= e.hum.Critical
	if overheat || humCritical {
		return on("ventilation_critical")
	}
	if r.Temperature != nil && *r.Temperature >= e.temp.High {
		return on("ventilation_on")
	}
	if r.Humidity != nil && *r.Humidity >= e.hum.High {
		return on("ventilation_on")
	}
	if e.risingRate > 0 && in.Temperature != nil && in.Temperature.RatePerMinute >= e.risingRate {
		return on("ventilation_anticipated")
	}

	// Deactivation: both metrics must sit below their low thresholds
	// and no critical condition may still be latched. A metric with no
	// reading yet does not hold the fan on by itself.
	if !r.VentilationOn {
		return Intent{}, false
	}
	critical := overheat || humCritical || r.Alarm == rack.AlarmOverheat ||
		(r.Temperature != nil && *r.Temperature >= e.temp.CriticalReset) ||
		(r.Humidity != nil && *r.Humidity >= e.hum.CriticalReset)
	if critical {
		return Intent{}, false
	}
	tempLow := r.Temperature == nil || *r.Temperature <= e.temp.Low
	humLow := r.Humidity == nil || *r.Humidity <= e.hum.Low
	anyReading := r.Temperature != nil || r.Humidity != nil
	if anyReading && tempLow && humLow {
		return Intent{RackID: r.ID, Actuator: rack.ActuatorVentilation, Desired: rack.FormatBool(false), Kind: "ventilation_off"}, true
	}
	return Intent{}, false
}

// Describe renders an intent for logs.
func (i Intent) Describe() string {
	return fmt.Sprintf("%s %s=%s (%s)", i.RackID, i.Actuator, i.Desired, i.Kind)
}
