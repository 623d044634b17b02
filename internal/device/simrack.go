// v3
// internal/device/simrack.go
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/rack"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/transport"
)

// Physical clamps of the simulated sensors.
const (
	minTemperature = -10.0
	maxTemperature = 120.0
	minHumidity    = 0.0
	maxHumidity    = 100.0
)

// Door schedule and anomaly episode bounds, matching the reference
// deployment's firmware simulator.
const (
	doorIntervalMin  = 14 * time.Minute
	doorIntervalMax  = 16 * time.Minute
	doorOpenMin      = 45 * time.Second
	doorOpenMax      = 150 * time.Second
	anomalyDurMin    = 18 * time.Second
	anomalyDurMax    = 22 * time.Second
	tiltProbability  = 0.002
	gpsRepublishEach = 64
)

// anomaly is one bounded excursion toward a target value, shaped by a
// logarithmic envelope so it ramps up and back down.
type anomaly struct {
	start    time.Time
	duration time.Duration
	baseline float64
	target   float64
}

func (a *anomaly) value(now time.Time) (float64, bool) {
	progress := now.Sub(a.start).Seconds() / a.duration.Seconds()
	if progress >= 1 {
		return 0, false
	}
	return a.baseline + (a.target-a.baseline)*logEnvelope(progress), true
}

// logEnvelope ramps 0→1→0 over progress [0,1] with log1p shaping.
func logEnvelope(progress float64) float64 {
	scaled := progress / 0.5
	if progress > 0.5 {
		scaled = (1 - progress) / 0.5
	}
	scaled = math.Max(0, math.Min(1, scaled))
	return math.Log1p(9*scaled) / math.Log1p(9)
}

// SimRack is one simulated rack: the Hardware behind an Executor plus
// a telemetry generator. The mutex covers both sides, so the actuation
// worker and the telemetry loop never race on state.
type SimRack struct {
	mu          sync.Mutex
	id          string
	rng         *rand.Rand
	temperature float64
	humidity    float64
	doorOpen    bool
	ventOn      bool
	alarm       rack.AlarmState
	latitude    float64
	longitude   float64

	tempAnomaly   *anomaly
	humAnomaly    *anomaly
	nextDoorOpen  time.Time
	doorOpenUntil time.Time
	anomalyProb   float64
	cycles        int

	pub    transport.Publisher
	topics transport.Topics
	log    *slog.Logger
}

// NewSimRack seeds one rack with plausible ambient readings and a
// fixed location.
func NewSimRack(id string, lat, lon, anomalyProb float64, seed int64, pub transport.Publisher, topics transport.Topics, log *slog.Logger) *SimRack {
	rng := rand.New(rand.NewSource(seed))
	now := time.Now()
	return &SimRack{
		id:           id,
		rng:          rng,
		temperature:  22 + rng.Float64()*8,
		humidity:     40 + rng.Float64()*20,
		latitude:     lat,
		longitude:    lon,
		anomalyProb:  anomalyProb,
		nextDoorOpen: now.Add(doorIntervalMin + time.Duration(rng.Int63n(int64(doorIntervalMax-doorIntervalMin)))),
		pub:          pub,
		topics:       topics,
		log:          log,
	}
}

// Apply implements Hardware. A redundant command leaves state alone;
// the achieved value returned is always the current state, so the ack
// the executor publishes doubles as a state confirmation.
func (s *SimRack) Apply(cmd Command) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd.Actuator {
	case rack.ActuatorDoor:
		open, err := rack.ParseBool(cmd.Payload)
		if err != nil {
			return "", fmt.Errorf("door command: %w", err)
		}
		if open != s.doorOpen {
			s.doorOpen = open
			if open {
				s.doorOpenUntil = time.Now().Add(s.durationBetween(doorOpenMin, doorOpenMax))
			} else {
				s.doorOpenUntil = time.Time{}
				s.nextDoorOpen = time.Now().Add(s.durationBetween(doorIntervalMin, doorIntervalMax))
			}
		}
		return rack.FormatBool(s.doorOpen), nil
	case rack.ActuatorVentilation:
		on, err := rack.ParseBool(cmd.Payload)
		if err != nil {
			return "", fmt.Errorf("ventilation command: %w", err)
		}
		s.ventOn = on
		return rack.FormatBool(s.ventOn), nil
	case rack.ActuatorAlarm:
		state, err := rack.ParseAlarmState(cmd.Payload)
		if err != nil {
			return "", fmt.Errorf("alarm command: %w", err)
		}
		s.alarm = state
		return s.alarm.Wire(), nil
	default:
		return "", fmt.Errorf("unknown actuator %q", cmd.Actuator)
	}
}

func (s *SimRack) durationBetween(min, max time.Duration) time.Duration {
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}

// Run publishes telemetry until ctx ends. Each cycle advances the
// door schedule, steps both metrics (possibly inside an anomaly
// episode), and publishes environment, status, and the occasional tilt
// event. The period is jittered so racks drift apart.
func (s *SimRack) Run(ctx context.Context, period time.Duration) {
	s.publishGPS()
	for {
		s.mu.Lock()
		jitter := time.Duration(s.rng.Int63n(int64(period))) - period/2
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-time.After(period + jitter/2):
		}
		s.step(time.Now())
	}
}

func (s *SimRack) step(now time.Time) {
	s.mu.Lock()
	s.processDoorSchedule(now)
	temp := s.nextTemperature(now)
	hum := s.nextHumidity(now)
	doorOpen := s.doorOpen
	tilt := s.rng.Float64() < tiltProbability
	s.cycles++
	republishGPS := s.cycles%gpsRepublishEach == 0
	s.mu.Unlock()

	s.publish(s.topics.Environment(s.id, string(telemetryTemperature)), rack.FormatFloat(temp))
	s.publish(s.topics.Environment(s.id, string(telemetryHumidity)), rack.FormatFloat(hum))
	s.publish(s.topics.Status(s.id), rack.FormatBool(doorOpen))
	if tilt {
		s.log.Info("tilt_event", slog.String("rack", s.id))
		s.publish(s.topics.Tilt(s.id), "1")
	}
	if republishGPS {
		s.publishGPS()
	}
}

const (
	telemetryTemperature = "temperature"
	telemetryHumidity    = "humidity"
)

func (s *SimRack) processDoorSchedule(now time.Time) {
	if !s.doorOpen && now.After(s.nextDoorOpen) {
		s.doorOpen = true
		s.doorOpenUntil = now.Add(s.durationBetween(doorOpenMin, doorOpenMax))
		s.log.Info("door_opened_scheduled", slog.String("rack", s.id))
		return
	}
	if s.doorOpen && !s.doorOpenUntil.IsZero() && now.After(s.doorOpenUntil) {
		s.doorOpen = false
		s.doorOpenUntil = time.Time{}
		s.nextDoorOpen = now.Add(s.durationBetween(doorIntervalMin, doorIntervalMax))
		s.log.Info("door_closed_scheduled", slog.String("rack", s.id))
	}
}

func (s *SimRack) nextTemperature(now time.Time) float64 {
	if s.tempAnomaly != nil {
		if v, live := s.tempAnomaly.value(now); live {
			s.temperature = clamp(v+s.rng.NormFloat64()*0.2, minTemperature, maxTemperature)
			return s.temperature
		}
		s.tempAnomaly = nil
	}

	// An open door or running fan keeps the rack out of anomaly
	// territory, like the firmware's safe mode.
	safe := s.doorOpen || s.ventOn
	if !safe && s.rng.Float64() < s.anomalyProb {
		target := 60 + s.rng.Float64()*30
		if s.rng.Float64() < 0.5 {
			target = -5 + s.rng.Float64()*10
		}
		s.tempAnomaly = &anomaly{
			start:    now,
			duration: s.durationBetween(anomalyDurMin, anomalyDurMax),
			baseline: s.temperature,
			target:   target,
		}
		s.log.Info("temperature_anomaly_start",
			slog.String("rack", s.id),
			slog.Float64("target", target),
		)
		v, _ := s.tempAnomaly.value(now.Add(time.Second))
		s.temperature = clamp(v, minTemperature, maxTemperature)
		return s.temperature
	}

	mean := 27.0
	dev := 2.0
	switch {
	case s.doorOpen:
		mean, dev = 20, 1
	case s.ventOn:
		mean, dev = 25, 1
	}
	s.temperature = clamp(mean+s.rng.NormFloat64()*dev, minTemperature, maxTemperature)
	return s.temperature
}

func (s *SimRack) nextHumidity(now time.Time) float64 {
	if s.humAnomaly != nil {
		if v, live := s.humAnomaly.value(now); live {
			s.humidity = clamp(v+s.rng.NormFloat64()*0.5, minHumidity, maxHumidity)
			return s.humidity
		}
		s.humAnomaly = nil
	}

	safe := s.doorOpen || s.ventOn
	if !safe && s.rng.Float64() < s.anomalyProb {
		target := 80 + s.rng.Float64()*20
		if s.rng.Float64() < 0.5 {
			target = s.rng.Float64() * 20
		}
		s.humAnomaly = &anomaly{
			start:    now,
			duration: s.durationBetween(anomalyDurMin, anomalyDurMax),
			baseline: s.humidity,
			target:   target,
		}
		s.log.Info("humidity_anomaly_start",
			slog.String("rack", s.id),
			slog.Float64("target", target),
		)
		v, _ := s.humAnomaly.value(now.Add(time.Second))
		s.humidity = clamp(v, minHumidity, maxHumidity)
		return s.humidity
	}

	mean := 50.0
	dev := 7.0
	if s.ventOn {
		mean, dev = 46, 3
	}
	s.humidity = clamp(mean+s.rng.NormFloat64()*dev, minHumidity, maxHumidity)
	return s.humidity
}

func (s *SimRack) publishGPS() {
	payload, err := json.Marshal(map[string]float64{
		"latitude":  s.latitude,
		"longitude": s.longitude,
	})
	if err != nil {
		return
	}
	s.publish(s.topics.GPS(s.id), string(payload))
}

func (s *SimRack) publish(topic, payload string) {
	if err := s.pub.Publish(topic, payload); err != nil {
		s.log.Error("telemetry_publish_failed", slog.String("topic", topic), slog.Any("err", err))
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
