// v3
// internal/controller/controller.go
// Package controller owns the fleet-side loops: telemetry intake from
// the transport into the store and trend estimator, and the periodic
// decision tick that turns engine intents into dispatched commands.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/dispatch"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/engine"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/metrics"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/rack"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/telemetry"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/transport"
)

type message struct {
	topic   string
	payload string
}

// gpsPayload is the JSON body on the gps topic.
type gpsPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Controller connects the transport to the store, estimator, engine,
// and dispatcher. Delivery callbacks only enqueue; the intake worker
// performs all side effects.
type Controller struct {
	store  *rack.Store
	est    *telemetry.Estimator
	eng    *engine.Engine
	disp   *dispatch.Dispatcher
	topics transport.Topics
	intake chan message
	log    *slog.Logger

	tiltMu  sync.Mutex
	tilted  map[string]bool
	nowFunc func() time.Time
}

// New wires a controller over an already-built dispatcher.
func New(est *telemetry.Estimator, eng *engine.Engine, disp *dispatch.Dispatcher, topics transport.Topics, intakeSize int, log *slog.Logger) *Controller {
	return &Controller{
		store:   disp.Store(),
		est:     est,
		eng:     eng,
		disp:    disp,
		topics:  topics,
		intake:  make(chan message, intakeSize),
		log:     log,
		tilted:  make(map[string]bool),
		nowFunc: time.Now,
	}
}

// Subscribe attaches the controller to every rack-originated topic.
func (c *Controller) Subscribe(sub transport.Subscriber) error {
	for _, filter := range []string{
		c.topics.EnvironmentFilter(),
		c.topics.StatusFilter(),
		c.topics.GPSFilter(),
		c.topics.TiltFilter(),
		c.topics.AckFilter(),
	} {
		if err := sub.Subscribe(filter, c.HandleDelivery); err != nil {
			return err
		}
	}
	return nil
}

// HandleDelivery runs in the transport's delivery context. It only
// enqueues; a full intake queue drops the message, which at-least-once
// delivery and periodic telemetry both tolerate.
func (c *Controller) HandleDelivery(topic, payload string) {
	select {
	case c.intake <- message{topic: topic, payload: payload}:
	default:
		metrics.IncQueueDrop("controller_intake")
		c.log.Warn("intake_overflow", slog.String("topic", topic))
	}
}

// RunIntake drains the intake queue until ctx ends.
func (c *Controller) RunIntake(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.intake:
			c.process(m)
		}
	}
}

func (c *Controller) process(m message) {
	addr, err := c.topics.Parse(m.topic)
	if err != nil {
		c.log.Warn("inbound_topic_invalid", slog.String("topic", m.topic))
		return
	}
	now := c.nowFunc()

	switch addr.Kind {
	case transport.KindEnvironment:
		value, err := strconv.ParseFloat(m.payload, 64)
		if err != nil {
			c.log.Warn("telemetry_payload_invalid",
				slog.String("topic", m.topic),
				slog.String("payload", m.payload),
			)
			return
		}
		switch telemetry.Metric(addr.Metric) {
		case telemetry.MetricTemperature:
			c.store.SetTemperature(addr.RackID, value, now)
		case telemetry.MetricHumidity:
			c.store.SetHumidity(addr.RackID, value, now)
		default:
			c.log.Debug("telemetry_metric_unknown", slog.String("metric", addr.Metric))
			return
		}
		c.est.Ingest(addr.RackID, telemetry.Metric(addr.Metric), value, now)
		metrics.IncTelemetrySample(addr.Metric)

	case transport.KindStatus:
		open, err := rack.ParseBool(m.payload)
		if err != nil {
			c.log.Warn("status_payload_invalid", slog.String("topic", m.topic), slog.Any("err", err))
			return
		}
		c.store.SetDoorOpen(addr.RackID, open, now)
		metrics.IncTelemetrySample("door")

	case transport.KindGPS:
		var gps gpsPayload
		if err := json.Unmarshal([]byte(m.payload), &gps); err != nil {
			c.log.Warn("gps_payload_invalid", slog.String("topic", m.topic), slog.Any("err", err))
			return
		}
		c.store.SetLocation(addr.RackID, gps.Latitude, gps.Longitude, now)

	case transport.KindTilt:
		c.store.Observe(addr.RackID, now)
		c.setTilt(addr.RackID, true)
		metrics.IncTelemetrySample("tilt")
		c.log.Warn("tilt_detected", slog.String("rack", addr.RackID))

	case transport.KindAck:
		actuator, err := rack.ParseActuator(addr.Actuator)
		if err != nil {
			c.log.Warn("ack_actuator_unknown", slog.String("topic", m.topic))
			return
		}
		c.disp.OnAckReceived(addr.RackID, actuator, m.payload)

	default:
		c.log.Debug("inbound_ignored", slog.String("topic", m.topic))
	}
}

func (c *Controller) setTilt(rackID string, v bool) {
	c.tiltMu.Lock()
	defer c.tiltMu.Unlock()
	if v {
		c.tilted[rackID] = true
	} else {
		delete(c.tilted, rackID)
	}
}

func (c *Controller) tiltLatched(rackID string) bool {
	c.tiltMu.Lock()
	defer c.tiltMu.Unlock()
	return c.tilted[rackID]
}

// RunDecisionLoop evaluates the whole fleet on a fixed tick.
func (c *Controller) RunDecisionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick runs one evaluation pass over every known rack.
func (c *Controller) Tick() {
	for _, snap := range c.store.Snapshots() {
		c.evaluateRack(snap)
	}
}

func (c *Controller) evaluateRack(snap rack.Snapshot) {
	// A tilt latch is absorbed once the confirmed alarm reached at
	// least break-in priority; until then the engine keeps asking.
	if c.tiltLatched(snap.ID) && !rack.AlarmBreakIn.Outranks(snap.Alarm) {
		c.setTilt(snap.ID, false)
	}

	in := engine.Input{Rack: snap, TiltLatched: c.tiltLatched(snap.ID)}
	if est, err := c.est.Estimate(snap.ID, telemetry.MetricTemperature); err == nil {
		e := est
		in.Temperature = &e
	}
	if est, err := c.est.Estimate(snap.ID, telemetry.MetricHumidity); err == nil {
		e := est
		in.Humidity = &e
	}

	for _, intent := range c.eng.Evaluate(in) {
		metrics.IncIntent(intent.Kind)
		id, err := c.disp.Issue(intent.RackID, intent.Actuator, intent.Desired, c.logOutcome)
		if errors.Is(err, dispatch.ErrDuplicatePending) {
			// The previous command has not resolved; the next tick
			// re-evaluates against whatever it confirmed.
			c.log.Debug("intent_deferred", slog.String("intent", intent.Describe()))
			continue
		}
		if err != nil {
			c.log.Error("intent_issue_failed", slog.String("intent", intent.Describe()), slog.Any("err", err))
			continue
		}
		c.log.Info("intent_issued",
			slog.String("command", id),
			slog.String("intent", intent.Describe()),
		)
	}
}

// logOutcome is the controller's result sink: a timeout is only
// logged, because the next tick re-evaluates and reissues if the
// condition still holds.
func (c *Controller) logOutcome(r dispatch.Result) {
	if r.Outcome == dispatch.OutcomeExpired {
		c.log.Warn("intent_unconfirmed",
			slog.String("command", r.CommandID),
			slog.String("rack", r.RackID),
			slog.String("actuator", string(r.Actuator)),
		)
		return
	}
	c.log.Debug("intent_confirmed",
		slog.String("command", r.CommandID),
		slog.String("rack", r.RackID),
		slog.String("actuator", string(r.Actuator)),
		slog.String("achieved", r.Achieved),
	)
}
