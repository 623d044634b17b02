// v2
// internal/dispatch/dispatch_test.go
package dispatch

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/rack"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// capturePublisher records published messages and can be told to fail.
type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	fail   error
}

func (c *capturePublisher) Publish(topic, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.topics = append(c.topics, topic+"="+payload)
	return nil
}

func (c *capturePublisher) published() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.topics))
	copy(out, c.topics)
	return out
}

func newTestDispatcher(t *testing.T, timeout time.Duration) (*Dispatcher, *capturePublisher, *time.Time) {
	t.Helper()
	log := quietLogger()
	pub := &capturePublisher{}
	d := New(rack.NewStore(log), pub, transport.NewTopics("racks"), timeout, log)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }
	return d, pub, &clock
}

func TestIssueRejectsDuplicateKey(t *testing.T) {
	d, pub, _ := newTestDispatcher(t, 5*time.Second)

	if _, err := d.Issue("R1", rack.ActuatorVentilation, "1", nil); err != nil {
		t.Fatalf("first issue failed: %v", err)
	}
	if _, err := d.Issue("R1", rack.ActuatorVentilation, "0", nil); !errors.Is(err, ErrDuplicatePending) {
		t.Fatalf("expected ErrDuplicatePending, got %v", err)
	}
	// A different actuator on the same rack is a different key.
	if _, err := d.Issue("R1", rack.ActuatorDoor, "1", nil); err != nil {
		t.Fatalf("issue for other actuator failed: %v", err)
	}
	// A different rack is too.
	if _, err := d.Issue("R2", rack.ActuatorVentilation, "1", nil); err != nil {
		t.Fatalf("issue for other rack failed: %v", err)
	}
	if got := pub.published(); len(got) != 3 {
		t.Fatalf("expected 3 publishes, got %v", got)
	}
}

func TestAckResolvesAndConfirmsState(t *testing.T) {
	d, _, clock := newTestDispatcher(t, 5*time.Second)

	var results []Result
	if _, err := d.Issue("R1", rack.ActuatorVentilation, "1", func(r Result) {
		results = append(results, r)
	}); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	*clock = clock.Add(200 * time.Millisecond)
	d.OnAckReceived("R1", rack.ActuatorVentilation, "1")

	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	r := results[0]
	if r.Outcome != OutcomeAcknowledged || r.Achieved != "1" {
		t.Fatalf("unexpected result %+v", r)
	}
	snap, ok := d.Store().Snapshot("R1")
	if !ok || !snap.VentilationOn {
		t.Fatalf("confirmed state not applied: %+v", snap)
	}
	if d.Pending("R1", rack.ActuatorVentilation) {
		t.Fatal("entry still pending after ack")
	}
}

func TestUnmatchedAckIsDiscarded(t *testing.T) {
	d, _, _ := newTestDispatcher(t, 5*time.Second)
	d.Store().Observe("R1", time.Now())
	before, _ := d.Store().Snapshot("R1")

	d.OnAckReceived("R1", rack.ActuatorDoor, "1")

	after, _ := d.Store().Snapshot("R1")
	if after.DoorOpen != before.DoorOpen || after.VentilationOn != before.VentilationOn || after.Alarm != before.Alarm {
		t.Fatalf("unmatched ack altered rack state: %+v -> %+v", before, after)
	}
}

func TestSweepExpiresOnlyPastDeadline(t *testing.T) {
	d, _, clock := newTestDispatcher(t, 5*time.Second)

	var outcome atomic.Int32
	outcome.Store(-1)
	if _, err := d.Issue("R1", rack.ActuatorVentilation, "1", func(r Result) {
		outcome.Store(int32(r.Outcome))
	}); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if n := d.SweepExpired(clock.Add(4999 * time.Millisecond)); n != 0 {
		t.Fatalf("swept %d entries before deadline", n)
	}
	if outcome.Load() != -1 {
		t.Fatal("sink fired before deadline")
	}

	*clock = clock.Add(6 * time.Second)
	if n := d.SweepExpired(*clock); n != 1 {
		t.Fatalf("expected one expiry, got %d", n)
	}
	if Outcome(outcome.Load()) != OutcomeExpired {
		t.Fatalf("expected expired outcome, got %v", outcome.Load())
	}

	// The key is free again after expiry.
	if _, err := d.Issue("R1", rack.ActuatorVentilation, "1", nil); err != nil {
		t.Fatalf("reissue after expiry failed: %v", err)
	}
}

func TestLateAckAfterExpiryIsUnmatched(t *testing.T) {
	d, _, clock := newTestDispatcher(t, 5*time.Second)

	var calls atomic.Int32
	if _, err := d.Issue("R1", rack.ActuatorDoor, "1", func(Result) {
		calls.Add(1)
	}); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	*clock = clock.Add(6 * time.Second)
	d.SweepExpired(*clock)

	d.OnAckReceived("R1", rack.ActuatorDoor, "1")

	if calls.Load() != 1 {
		t.Fatalf("sink invoked %d times, want exactly once", calls.Load())
	}
	snap, ok := d.Store().Snapshot("R1")
	if ok && snap.DoorOpen {
		t.Fatal("late ack resurrected terminal entry into confirmed state")
	}
}

func TestPublishFailureFreesKey(t *testing.T) {
	d, pub, _ := newTestDispatcher(t, 5*time.Second)
	pub.fail = errors.New("broker down")

	if _, err := d.Issue("R1", rack.ActuatorVentilation, "1", nil); err == nil {
		t.Fatal("expected publish error")
	}
	pub.fail = nil
	if _, err := d.Issue("R1", rack.ActuatorVentilation, "1", nil); err != nil {
		t.Fatalf("key not freed after publish failure: %v", err)
	}
}

func TestAtMostOnePendingUnderContention(t *testing.T) {
	d, _, _ := newTestDispatcher(t, 5*time.Second)

	const attempts = 64
	var accepted atomic.Int32
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			if _, err := d.Issue("R1", rack.ActuatorAlarm, "3", nil); err == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 1 {
		t.Fatalf("expected exactly one accepted issue, got %d", accepted.Load())
	}
}

func TestObserversSeeEveryTerminalResult(t *testing.T) {
	d, _, clock := newTestDispatcher(t, 5*time.Second)

	var seen []Result
	d.Observe(func(r Result) { seen = append(seen, r) })

	if _, err := d.Issue("R1", rack.ActuatorVentilation, "1", nil); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	d.OnAckReceived("R1", rack.ActuatorVentilation, "1")

	if _, err := d.Issue("R1", rack.ActuatorVentilation, "0", nil); err != nil {
		t.Fatalf("second issue failed: %v", err)
	}
	*clock = clock.Add(6 * time.Second)
	d.SweepExpired(*clock)

	if len(seen) != 2 {
		t.Fatalf("expected 2 observed results, got %d", len(seen))
	}
	if seen[0].Outcome != OutcomeAcknowledged || seen[1].Outcome != OutcomeExpired {
		t.Fatalf("unexpected outcomes %v %v", seen[0].Outcome, seen[1].Outcome)
	}
}
