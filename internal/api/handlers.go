// v3
// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/dispatch"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/rack"
)

// Server carries the handlers' dependencies.
type Server struct {
	disp *dispatch.Dispatcher
	log  *slog.Logger
	// waitBound caps how long ?wait=1 blocks; expiry resolves every
	// command within timeout+sweep, so this only guards against a
	// stalled sweeper.
	waitBound time.Duration
	ready     atomic.Bool
}

// NewServer builds the handler set over a dispatcher.
func NewServer(disp *dispatch.Dispatcher, waitBound time.Duration, log *slog.Logger) *Server {
	return &Server{disp: disp, log: log, waitBound: waitBound}
}

// SetReady flips the readiness probe once the transport is up.
func (s *Server) SetReady(v bool) { s.ready.Store(v) }

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRacks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.disp.Store().Snapshots())
}

func (s *Server) handleGetRack(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["rackId"]
	snap, ok := s.disp.Store().Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown rack")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// action resolves one control route into an actuator and desired wire
// value, given the rack's current confirmed state.
type action func(snap rack.Snapshot) (rack.Actuator, string)

func doorOpen(rack.Snapshot) (rack.Actuator, string)  { return rack.ActuatorDoor, "1" }
func doorClose(rack.Snapshot) (rack.Actuator, string) { return rack.ActuatorDoor, "0" }

func doorToggle(snap rack.Snapshot) (rack.Actuator, string) {
	if snap.DoorOpen {
		return rack.ActuatorDoor, "0"
	}
	return rack.ActuatorDoor, "1"
}

func ventilationOn(rack.Snapshot) (rack.Actuator, string)  { return rack.ActuatorVentilation, "1" }
func ventilationOff(rack.Snapshot) (rack.Actuator, string) { return rack.ActuatorVentilation, "0" }

func alarmOverheat(rack.Snapshot) (rack.Actuator, string) {
	return rack.ActuatorAlarm, rack.AlarmOverheat.Wire()
}
func alarmDoorOpen(rack.Snapshot) (rack.Actuator, string) {
	return rack.ActuatorAlarm, rack.AlarmDoorOpen.Wire()
}
func alarmBreakIn(rack.Snapshot) (rack.Actuator, string) {
	return rack.ActuatorAlarm, rack.AlarmBreakIn.Wire()
}
func alarmSilence(rack.Snapshot) (rack.Actuator, string) {
	return rack.ActuatorAlarm, rack.AlarmOff.Wire()
}

type commandResponse struct {
	CommandID string `json:"commandId"`
	RackID    string `json:"rackId"`
	Actuator  string `json:"actuator"`
	Desired   string `json:"desired"`
	Achieved  string `json:"achieved,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// command builds the handler for one control route. The default answer
// is 202 with the command id; ?wait=1 blocks for the terminal outcome
// and answers 200 on acknowledgment or 504 on expiry.
func (s *Server) command(a action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["rackId"]
		snap, ok := s.disp.Store().Snapshot(id)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown rack")
			return
		}
		actuator, desired := a(snap)
		wait := r.URL.Query().Get("wait") == "1"

		var resultCh chan dispatch.Result
		var sink dispatch.Sink
		if wait {
			resultCh = make(chan dispatch.Result, 1)
			sink = func(res dispatch.Result) { resultCh <- res }
		}

		cmdID, err := s.disp.Issue(id, actuator, desired, sink)
		if errors.Is(err, dispatch.ErrDuplicatePending) {
			writeError(w, http.StatusConflict, "command already pending for this actuator")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadGateway, "command publish failed")
			return
		}

		resp := commandResponse{
			CommandID: cmdID,
			RackID:    id,
			Actuator:  string(actuator),
			Desired:   desired,
		}
		if !wait {
			writeJSON(w, http.StatusAccepted, resp)
			return
		}

		select {
		case res := <-resultCh:
			resp.Outcome = res.Outcome.String()
			resp.Achieved = res.Achieved
			if res.Outcome == dispatch.OutcomeExpired {
				writeJSON(w, http.StatusGatewayTimeout, resp)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		case <-time.After(s.waitBound):
			s.log.Error("wait_bound_exceeded", slog.String("command", cmdID))
			writeError(w, http.StatusInternalServerError, "command resolution stalled")
		case <-r.Context().Done():
			// The client went away; the command still resolves through
			// the dispatcher on its own.
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
