// v2
// internal/device/queue.go
// Package device holds the rack-resident side of the protocol: a
// bounded handoff queue fed by the transport's delivery callback and a
// worker that is the only writer of hardware state.
package device

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/metrics"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/rack"
)

// ErrQueueFull reports that a command record could not be queued. The
// controller observes the drop as a command timeout.
var ErrQueueFull = errors.New("command queue full")

// Command is the compact record handed from the delivery context to
// the actuation worker.
type Command struct {
	Actuator rack.Actuator
	Payload  string
}

// Queue is a bounded producer-consumer handoff. Enqueue never blocks:
// when the queue is full the oldest record is dropped so the freshest
// command wins, which matches how an operator retries.
type Queue struct {
	ch   chan Command
	name string
	log  *slog.Logger
}

// NewQueue builds a queue with the given capacity.
func NewQueue(capacity int, name string, log *slog.Logger) *Queue {
	return &Queue{ch: make(chan Command, capacity), name: name, log: log}
}

// Enqueue hands one record to the worker without blocking. On
// overflow it evicts the oldest record, logs the capacity error, and
// retries once; ErrQueueFull is returned only if the record still does
// not fit (a racing producer refilled the slot).
func (q *Queue) Enqueue(c Command) error {
	select {
	case q.ch <- c:
		return nil
	default:
	}

	select {
	case dropped := <-q.ch:
		metrics.IncQueueDrop(q.name)
		q.log.Warn("queue_overflow",
			slog.String("queue", q.name),
			slog.String("actuator", string(dropped.Actuator)),
			slog.String("payload", dropped.Payload),
		)
	default:
	}

	select {
	case q.ch <- c:
		return nil
	default:
		metrics.IncQueueDrop(q.name)
		return ErrQueueFull
	}
}

// Dequeue blocks until a record is available or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (Command, bool) {
	select {
	case <-ctx.Done():
		return Command{}, false
	case c := <-q.ch:
		return c, true
	}
}

// Len reports the records currently queued.
func (q *Queue) Len() int { return len(q.ch) }
