// v3
// internal/dispatch/dispatch.go
// Package dispatch turns the fire-and-forget transport into a protocol
// with per-command completion. Every accepted command is tracked as a
// pending entry keyed by (rack, actuator) until a matching ack arrives
// or the deadline passes; either way it resolves exactly once.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/metrics"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/rack"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/transport"
)

// ErrDuplicatePending rejects a second command for a key that already
// has one in flight. The caller waits for resolution and reissues.
var ErrDuplicatePending = errors.New("command already pending for this rack and actuator")

// Outcome is the terminal state of one accepted command.
type Outcome int

const (
	// OutcomeAcknowledged means the device confirmed the command.
	OutcomeAcknowledged Outcome = iota
	// OutcomeExpired means no ack arrived within the timeout.
	OutcomeExpired
)

func (o Outcome) String() string {
	if o == OutcomeAcknowledged {
		return "acknowledged"
	}
	return "expired"
}

// Result describes how one command resolved. Achieved carries the
// value the device reports, which may differ from Desired when the
// hardware clamps; it is empty on expiry.
type Result struct {
	CommandID  string
	RackID     string
	Actuator   rack.Actuator
	Desired    string
	Achieved   string
	Outcome    Outcome
	IssuedAt   time.Time
	ResolvedAt time.Time
}

// Sink receives a command's terminal result. Invoked exactly once per
// accepted command, never under the dispatcher lock.
type Sink func(Result)

type key struct {
	rackID   string
	actuator rack.Actuator
}

type pendingCommand struct {
	id       string
	desired  string
	issuedAt time.Time
	deadline time.Time
	sink     Sink
}

// Dispatcher owns the pending table and the fleet's confirmed state.
// One mutex guards the table; the issuing path, the ack path, and the
// sweeper all serialize on it.
type Dispatcher struct {
	mu        sync.Mutex
	pending   map[key]*pendingCommand
	store     *rack.Store
	pub       transport.Publisher
	topics    transport.Topics
	timeout   time.Duration
	log       *slog.Logger
	now       func() time.Time
	observers []Sink
}

// New builds a dispatcher publishing through pub with the given
// per-command timeout.
func New(store *rack.Store, pub transport.Publisher, topics transport.Topics, timeout time.Duration, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		pending: make(map[key]*pendingCommand),
		store:   store,
		pub:     pub,
		topics:  topics,
		timeout: timeout,
		log:     log,
		now:     time.Now,
	}
}

// Store exposes the fleet state the dispatcher confirms into.
func (d *Dispatcher) Store() *rack.Store { return d.store }

// Observe registers an additional sink notified of every terminal
// result, after the per-command sink. The audit trail and the state
// mirror hang off this.
func (d *Dispatcher) Observe(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, s)
}

// Issue publishes one command and tracks it until resolution. It
// returns the command id on acceptance, or ErrDuplicatePending while a
// command for the same (rack, actuator) is still in flight. sink may
// be nil when the caller does not care about the outcome.
func (d *Dispatcher) Issue(rackID string, actuator rack.Actuator, desired string, sink Sink) (string, error) {
	now := d.now()
	k := key{rackID: rackID, actuator: actuator}
	p := &pendingCommand{
		id:       uuid.NewString(),
		desired:  desired,
		issuedAt: now,
		deadline: now.Add(d.timeout),
		sink:     sink,
	}

	d.mu.Lock()
	if _, exists := d.pending[k]; exists {
		d.mu.Unlock()
		metrics.IncCommandRejected(string(actuator))
		return "", fmt.Errorf("%s/%s: %w", rackID, actuator, ErrDuplicatePending)
	}
	d.pending[k] = p
	d.mu.Unlock()

	if err := d.pub.Publish(d.topics.Command(rackID, string(actuator)), desired); err != nil {
		// Nothing can ack a command that never left; drop the entry so
		// the caller may retry immediately.
		d.mu.Lock()
		delete(d.pending, k)
		d.mu.Unlock()
		return "", fmt.Errorf("publish command: %w", err)
	}

	metrics.IncCommandIssued(string(actuator))
	d.log.Info("cmd_issued",
		slog.String("command", p.id),
		slog.String("rack", rackID),
		slog.String("actuator", string(actuator)),
		slog.String("desired", desired),
	)
	return p.id, nil
}

// Pending reports whether a command is in flight for the key.
func (d *Dispatcher) Pending(rackID string, actuator rack.Actuator) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key{rackID: rackID, actuator: actuator}]
	return ok
}

// OnAckReceived matches one inbound acknowledgment to its pending
// entry. The achieved value becomes the rack's confirmed state. An ack
// with no live entry (late, duplicate, unsolicited) is logged and
// discarded without touching any state.
func (d *Dispatcher) OnAckReceived(rackID string, actuator rack.Actuator, achieved string) {
	now := d.now()
	k := key{rackID: rackID, actuator: actuator}

	d.mu.Lock()
	p, ok := d.pending[k]
	if ok {
		delete(d.pending, k)
	}
	d.mu.Unlock()

	if !ok {
		metrics.IncAckUnmatched()
		d.log.Warn("ack_unmatched",
			slog.String("rack", rackID),
			slog.String("actuator", string(actuator)),
			slog.String("achieved", achieved),
		)
		return
	}

	if err := d.store.ApplyAck(rackID, actuator, achieved, now); err != nil {
		d.log.Warn("ack_payload_invalid",
			slog.String("rack", rackID),
			slog.String("actuator", string(actuator)),
			slog.Any("err", err),
		)
	}

	metrics.IncAckMatched(string(actuator))
	metrics.ObserveCommandLatency(string(actuator), now.Sub(p.issuedAt))
	d.log.Info("cmd_acknowledged",
		slog.String("command", p.id),
		slog.String("rack", rackID),
		slog.String("actuator", string(actuator)),
		slog.String("achieved", achieved),
		slog.Duration("latency", now.Sub(p.issuedAt)),
	)

	d.resolve(Result{
		CommandID:  p.id,
		RackID:     rackID,
		Actuator:   actuator,
		Desired:    p.desired,
		Achieved:   achieved,
		Outcome:    OutcomeAcknowledged,
		IssuedAt:   p.issuedAt,
		ResolvedAt: now,
	}, p.sink)
}

// SweepExpired resolves every pending entry whose deadline has passed.
// It returns how many entries expired.
func (d *Dispatcher) SweepExpired(now time.Time) int {
	type expired struct {
		k key
		p *pendingCommand
	}
	var out []expired

	d.mu.Lock()
	for k, p := range d.pending {
		if !p.deadline.After(now) {
			out = append(out, expired{k: k, p: p})
			delete(d.pending, k)
		}
	}
	d.mu.Unlock()

	for _, e := range out {
		metrics.IncCommandExpired(string(e.k.actuator))
		d.log.Warn("cmd_expired",
			slog.String("command", e.p.id),
			slog.String("rack", e.k.rackID),
			slog.String("actuator", string(e.k.actuator)),
			slog.String("desired", e.p.desired),
		)
		d.resolve(Result{
			CommandID:  e.p.id,
			RackID:     e.k.rackID,
			Actuator:   e.k.actuator,
			Desired:    e.p.desired,
			Outcome:    OutcomeExpired,
			IssuedAt:   e.p.issuedAt,
			ResolvedAt: now,
		}, e.p.sink)
	}
	return len(out)
}

// RunSweeper drives SweepExpired on a fixed interval until ctx ends.
func (d *Dispatcher) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := d.SweepExpired(now); n > 0 {
				d.log.Debug("sweep_expired", slog.Int("count", n))
			}
		}
	}
}

func (d *Dispatcher) resolve(r Result, sink Sink) {
	if sink != nil {
		sink(r)
	}
	d.mu.Lock()
	observers := make([]Sink, len(d.observers))
	copy(observers, d.observers)
	d.mu.Unlock()
	for _, o := range observers {
		o(r)
	}
}
