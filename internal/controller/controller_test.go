// v2
// internal/controller/controller_test.go
package controller

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/config"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/dispatch"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/engine"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/rack"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/telemetry"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/transport"
)

var (
	testTemp = config.Thresholds{High: 35, Low: 28, Critical: 45, CriticalReset: 40}
	testHum  = config.Thresholds{High: 80, Low: 60, Critical: 95, CriticalReset: 90}
)

type fixture struct {
	bus      *transport.Memory
	topics   transport.Topics
	disp     *dispatch.Dispatcher
	ctrl     *Controller
	commands []string
}

// newFixture builds a controller on an in-memory transport with an
// auto-acking device stub. Everything runs synchronously: deliveries
// land in the intake queue and drain() processes them on the test
// goroutine.
func newFixture(t *testing.T, ack bool) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := transport.NewMemory()
	topics := transport.NewTopics("racks")
	f := &fixture{bus: bus, topics: topics}

	if err := bus.Subscribe("racks/+/command/+", func(topic, payload string) {
		f.commands = append(f.commands, topic+"="+payload)
		if !ack {
			return
		}
		addr, err := topics.Parse(topic)
		if err != nil {
			t.Fatalf("command topic: %v", err)
		}
		_ = bus.Publish(topics.Ack(addr.RackID, addr.Actuator), payload)
	}); err != nil {
		t.Fatalf("subscribe device stub: %v", err)
	}

	disp := dispatch.New(rack.NewStore(log), bus, topics, 5*time.Second, log)
	est := telemetry.NewEstimator(time.Hour, 100)
	eng := engine.New(testTemp, testHum, 0)
	ctrl := New(est, eng, disp, topics, 64, log)
	if err := ctrl.Subscribe(bus); err != nil {
		t.Fatalf("subscribe controller: %v", err)
	}
	f.disp = disp
	f.ctrl = ctrl
	return f
}

// drain processes everything queued so far, including messages queued
// by the processing itself (acks triggered by issued commands).
func (f *fixture) drain() {
	for {
		select {
		case m := <-f.ctrl.intake:
			f.ctrl.process(m)
		default:
			return
		}
	}
}

func (f *fixture) feedTemperature(rackID string, value float64) {
	_ = f.bus.Publish(f.topics.Environment(rackID, "temperature"), rack.FormatFloat(value))
	f.drain()
}

func TestTelemetryIntakeUpdatesStore(t *testing.T) {
	f := newFixture(t, true)

	f.feedTemperature("R1", 31.5)
	_ = f.bus.Publish(f.topics.Environment("R1", "humidity"), "55.00")
	_ = f.bus.Publish(f.topics.Status("R1"), "1")
	_ = f.bus.Publish(f.topics.GPS("R1"), `{"latitude":-3.73,"longitude":-38.52}`)
	f.drain()

	snap, ok := f.disp.Store().Snapshot("R1")
	if !ok {
		t.Fatal("rack not created from telemetry")
	}
	if snap.Temperature == nil || *snap.Temperature != 31.5 {
		t.Fatalf("temperature not stored: %+v", snap)
	}
	if snap.Humidity == nil || *snap.Humidity != 55 {
		t.Fatalf("humidity not stored: %+v", snap)
	}
	if !snap.DoorOpen {
		t.Fatal("door state not stored")
	}
	if snap.Latitude == nil || *snap.Latitude != -3.73 {
		t.Fatalf("location not stored: %+v", snap)
	}
}

func TestMalformedPayloadsAreAbsorbed(t *testing.T) {
	f := newFixture(t, true)
	_ = f.bus.Publish(f.topics.Environment("R1", "temperature"), "hot")
	_ = f.bus.Publish(f.topics.Status("R1"), "maybe")
	_ = f.bus.Publish(f.topics.GPS("R1"), "{")
	f.drain()

	if snap, ok := f.disp.Store().Snapshot("R1"); ok && snap.Temperature != nil {
		t.Fatalf("malformed payload stored: %+v", snap)
	}
}

func TestClosedLoopVentilation(t *testing.T) {
	f := newFixture(t, true)

	f.feedTemperature("R1", 36)
	f.ctrl.Tick()
	// The ack for the issued command is already on the bus.
	f.drain()

	snap, _ := f.disp.Store().Snapshot("R1")
	if !snap.VentilationOn {
		t.Fatalf("ventilation not confirmed after closed loop: %+v", snap)
	}
	if len(f.commands) != 1 {
		t.Fatalf("expected one command, got %v", f.commands)
	}

	// Confirmed state now satisfies the engine; no further commands.
	f.ctrl.Tick()
	f.drain()
	if len(f.commands) != 1 {
		t.Fatalf("engine re-issued against confirmed state: %v", f.commands)
	}
}

func TestTimeoutThenReissue(t *testing.T) {
	f := newFixture(t, false) // device never acks

	f.feedTemperature("R1", 36)
	f.ctrl.Tick()
	if len(f.commands) != 1 {
		t.Fatalf("expected one command, got %v", f.commands)
	}

	// While pending, the next tick defers instead of duplicating.
	f.ctrl.Tick()
	if len(f.commands) != 1 {
		t.Fatalf("duplicate command issued while pending: %v", f.commands)
	}

	// After expiry the key is free and the condition still holds.
	f.disp.SweepExpired(time.Now().Add(6 * time.Second))
	f.ctrl.Tick()
	if len(f.commands) != 2 {
		t.Fatalf("expected reissue after expiry, got %v", f.commands)
	}
}

func TestTiltLatchRaisesBreakInOnce(t *testing.T) {
	f := newFixture(t, true)

	f.feedTemperature("R1", 30)
	_ = f.bus.Publish(f.topics.Tilt("R1"), "1")
	f.drain()

	f.ctrl.Tick()
	f.drain()

	snap, _ := f.disp.Store().Snapshot("R1")
	if snap.Alarm != rack.AlarmBreakIn {
		t.Fatalf("expected confirmed break-in alarm, got %v", snap.Alarm)
	}
	commandsAfterRaise := len(f.commands)

	// Latch absorbed; later ticks do not re-raise.
	f.ctrl.Tick()
	f.drain()
	if len(f.commands) != commandsAfterRaise {
		t.Fatalf("break-in re-raised: %v", f.commands)
	}

	// Operator silence: alarm goes off and stays off.
	if _, err := f.disp.Issue("R1", rack.ActuatorAlarm, rack.AlarmOff.Wire(), nil); err != nil {
		t.Fatalf("silence failed: %v", err)
	}
	f.drain()
	snap, _ = f.disp.Store().Snapshot("R1")
	if snap.Alarm != rack.AlarmOff {
		t.Fatalf("silence not confirmed, alarm %v", snap.Alarm)
	}
	f.ctrl.Tick()
	f.drain()
	snap, _ = f.disp.Store().Snapshot("R1")
	if snap.Alarm != rack.AlarmOff {
		t.Fatalf("alarm re-raised after silence: %v", snap.Alarm)
	}
}
