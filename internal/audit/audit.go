// v2
// internal/audit/audit.go
// Package audit appends one record per terminal command outcome to a
// Kafka topic, hash-balanced by rack id so one rack's history stays on
// one partition. Auditing is optional: with no brokers configured the
// trail is a no-op.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/dispatch"
)

// Record is the JSON document appended per resolved command.
type Record struct {
	CommandID  string    `json:"commandId"`
	RackID     string    `json:"rackId"`
	Actuator   string    `json:"actuator"`
	Desired    string    `json:"desired"`
	Achieved   string    `json:"achieved,omitempty"`
	Outcome    string    `json:"outcome"`
	IssuedAt   time.Time `json:"issuedAt"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Trail buffers outcomes on a channel and writes them from its own
// goroutine, so a slow broker never stalls the dispatcher's ack path.
type Trail struct {
	writer  messageWriter
	closer  func() error
	log     *slog.Logger
	queue   chan Record
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	enabled bool
}

const trailQueueSize = 256

// New builds the trail. Empty brokers disable it.
func New(brokers []string, topic string, log *slog.Logger) *Trail {
	if len(brokers) == 0 {
		log.Info("audit_disabled")
		return &Trail{log: log}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	t := &Trail{
		writer:  w,
		closer:  w.Close,
		log:     log,
		queue:   make(chan Record, trailQueueSize),
		enabled: true,
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.wg.Add(1)
	go t.run(ctx)
	log.Info("audit_enabled", slog.String("topic", topic))
	return t
}

// Sink adapts the trail to the dispatcher's observer interface.
func (t *Trail) Sink() dispatch.Sink {
	return func(r dispatch.Result) {
		if !t.enabled {
			return
		}
		rec := Record{
			CommandID:  r.CommandID,
			RackID:     r.RackID,
			Actuator:   string(r.Actuator),
			Desired:    r.Desired,
			Achieved:   r.Achieved,
			Outcome:    r.Outcome.String(),
			IssuedAt:   r.IssuedAt,
			ResolvedAt: r.ResolvedAt,
		}
		select {
		case t.queue <- rec:
		default:
			t.log.Warn("audit_queue_full", slog.String("command", rec.CommandID))
		}
	}
}

func (t *Trail) run(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued before leaving.
			for {
				select {
				case rec := <-t.queue:
					t.write(context.Background(), rec)
				default:
					return
				}
			}
		case rec := <-t.queue:
			t.write(ctx, rec)
		}
	}
}

func (t *Trail) write(ctx context.Context, rec Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		t.log.Error("audit_marshal_failed", slog.Any("err", err))
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = t.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(rec.RackID),
		Value: payload,
	})
	if err != nil {
		t.log.Error("audit_write_failed",
			slog.String("command", rec.CommandID),
			slog.Any("err", err),
		)
	}
}

// Close stops the worker and releases the Kafka writer.
func (t *Trail) Close() error {
	if !t.enabled {
		return nil
	}
	t.cancel()
	t.wg.Wait()
	return t.closer()
}
