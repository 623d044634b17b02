// v2
// internal/device/executor.go
package device

import (
	"context"
	"log/slog"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/rack"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/transport"
)

// Hardware applies one actuation and reports the value actually
// achieved, which may differ from the request when the device clamps.
// Applying an already-achieved value must be a safe no-op.
type Hardware interface {
	Apply(cmd Command) (achieved string, err error)
}

// Executor hosts the device side of the command protocol for one rack.
// HandleDelivery runs in the transport's delivery context and only
// enqueues; Run is the single actuation worker.
type Executor struct {
	rackID string
	queue  *Queue
	hw     Hardware
	pub    transport.Publisher
	topics transport.Topics
	log    *slog.Logger
}

// NewExecutor wires an executor for one rack.
func NewExecutor(rackID string, queueSize int, hw Hardware, pub transport.Publisher, topics transport.Topics, log *slog.Logger) *Executor {
	return &Executor{
		rackID: rackID,
		queue:  NewQueue(queueSize, "device:"+rackID, log),
		hw:     hw,
		pub:    pub,
		topics: topics,
		log:    log,
	}
}

// Subscribe attaches the executor to its command topics.
func (e *Executor) Subscribe(sub transport.Subscriber) error {
	return sub.Subscribe(e.topics.CommandFilter(e.rackID), e.HandleDelivery)
}

// HandleDelivery is the transport callback. It must not actuate, block,
// or perform I/O; malformed topics and overflow are absorbed here so a
// broken message can never stall the delivery goroutine.
func (e *Executor) HandleDelivery(topic, payload string) {
	addr, err := e.topics.Parse(topic)
	if err != nil || addr.Kind != transport.KindCommand || addr.RackID != e.rackID {
		e.log.Warn("cmd_topic_invalid", slog.String("topic", topic))
		return
	}
	if err := e.queue.Enqueue(Command{Actuator: actuatorOrRaw(addr.Actuator), Payload: payload}); err != nil {
		e.log.Error("cmd_dropped",
			slog.String("rack", e.rackID),
			slog.String("topic", topic),
			slog.Any("err", err),
		)
	}
}

// actuatorOrRaw preserves the topic segment when it names no known
// actuator; the hardware rejects it with a useful error instead of the
// parse swallowing it silently.
func actuatorOrRaw(s string) rack.Actuator {
	a, err := rack.ParseActuator(s)
	if err != nil {
		return rack.Actuator(s)
	}
	return a
}

// Run dequeues and applies commands until ctx ends. Every applied
// command is acknowledged with the achieved value; a redundant command
// re-publishes the current state's ack.
func (e *Executor) Run(ctx context.Context) {
	for {
		cmd, ok := e.queue.Dequeue(ctx)
		if !ok {
			return
		}
		achieved, err := e.hw.Apply(cmd)
		if err != nil {
			e.log.Warn("actuation_failed",
				slog.String("rack", e.rackID),
				slog.String("actuator", string(cmd.Actuator)),
				slog.String("payload", cmd.Payload),
				slog.Any("err", err),
			)
			continue
		}
		ackTopic := e.topics.Ack(e.rackID, string(cmd.Actuator))
		if err := e.pub.Publish(ackTopic, achieved); err != nil {
			e.log.Error("ack_publish_failed", slog.String("topic", ackTopic), slog.Any("err", err))
			continue
		}
		e.log.Debug("cmd_applied",
			slog.String("rack", e.rackID),
			slog.String("actuator", string(cmd.Actuator)),
			slog.String("achieved", achieved),
		)
	}
}
