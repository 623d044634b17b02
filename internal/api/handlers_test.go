// v2
// internal/api/handlers_test.go
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/dispatch"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/rack"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/transport"
)

// newTestAPI wires the handlers over an in-memory transport. With ack
// true a device stub confirms every command immediately.
func newTestAPI(t *testing.T, ack bool, timeout time.Duration) (*Server, http.Handler, *dispatch.Dispatcher) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := transport.NewMemory()
	topics := transport.NewTopics("racks")
	disp := dispatch.New(rack.NewStore(log), bus, topics, timeout, log)

	if ack {
		if err := bus.Subscribe("racks/+/command/+", func(topic, payload string) {
			addr, err := topics.Parse(topic)
			if err != nil {
				t.Errorf("command topic: %v", err)
				return
			}
			_ = bus.Publish(topics.Ack(addr.RackID, addr.Actuator), payload)
		}); err != nil {
			t.Fatalf("subscribe stub: %v", err)
		}
		if err := bus.Subscribe(topics.AckFilter(), func(topic, payload string) {
			addr, err := topics.Parse(topic)
			if err != nil {
				return
			}
			actuator, err := rack.ParseActuator(addr.Actuator)
			if err != nil {
				return
			}
			disp.OnAckReceived(addr.RackID, actuator, payload)
		}); err != nil {
			t.Fatalf("subscribe acks: %v", err)
		}
	}

	srv := NewServer(disp, 2*time.Second, log)
	srv.SetReady(true)
	return srv, NewRouter(srv, io.Discard), disp
}

func TestHealthProbes(t *testing.T) {
	srv, h, _ := newTestAPI(t, true, time.Second)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("live: %d", rec.Code)
	}

	srv.SetReady(false)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready while not ready: %d", rec.Code)
	}
}

func TestGetRackNotFound(t *testing.T) {
	_, h, _ := newTestAPI(t, true, time.Second)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/racks/ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCommandAcceptedAndConfirmed(t *testing.T) {
	_, h, disp := newTestAPI(t, true, time.Second)
	disp.Store().Observe("R1", time.Now())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/racks/R1/ventilation/on", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body %s", rec.Code, rec.Body.String())
	}
	var resp commandResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CommandID == "" || resp.Actuator != "ventilation" || resp.Desired != "1" {
		t.Fatalf("unexpected response %+v", resp)
	}

	snap, _ := disp.Store().Snapshot("R1")
	if !snap.VentilationOn {
		t.Fatalf("ventilation not confirmed: %+v", snap)
	}
}

func TestCommandWaitAcknowledged(t *testing.T) {
	_, h, disp := newTestAPI(t, true, time.Second)
	disp.Store().Observe("R1", time.Now())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/racks/R1/alarm/silence?wait=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}
	var resp commandResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome != "acknowledged" || resp.Achieved != "0" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCommandWaitTimesOut(t *testing.T) {
	_, h, disp := newTestAPI(t, false, 50*time.Millisecond)
	disp.Store().Observe("R1", time.Now())

	go func() {
		time.Sleep(120 * time.Millisecond)
		disp.SweepExpired(time.Now())
	}()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/racks/R1/door/open?wait=1", nil))
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestDuplicatePendingConflicts(t *testing.T) {
	_, h, disp := newTestAPI(t, false, time.Second)
	disp.Store().Observe("R1", time.Now())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/racks/R1/door/open", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first command: %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/racks/R1/door/close", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestDoorToggleUsesConfirmedState(t *testing.T) {
	_, h, disp := newTestAPI(t, true, time.Second)
	disp.Store().SetDoorOpen("R1", true, time.Now())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/racks/R1/door/toggle?wait=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle: %d body %s", rec.Code, rec.Body.String())
	}
	var resp commandResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Desired != "0" {
		t.Fatalf("toggle of open door should close, got %+v", resp)
	}
	snap, _ := disp.Store().Snapshot("R1")
	if snap.DoorOpen {
		t.Fatalf("door still open after confirmed toggle: %+v", snap)
	}
}

func TestListRacks(t *testing.T) {
	_, h, disp := newTestAPI(t, true, time.Second)
	disp.Store().Observe("R2", time.Now())
	disp.Store().Observe("R1", time.Now())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/racks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var got []rack.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].ID != "R1" || got[1].ID != "R2" {
		t.Fatalf("unexpected fleet %+v", got)
	}
}
