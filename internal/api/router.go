// v2
// internal/api/router.go
// Package api exposes the controller's HTTP surface: health probes,
// metrics, fleet snapshots, and manual actuator control driving the
// dispatcher.
package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/metrics"
)

// NewRouter wires every route. accessLog receives Apache-style request
// lines in addition to the structured slog output.
func NewRouter(s *Server, accessLog io.Writer) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health/live", s.handleLive).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/racks", s.handleListRacks).Methods(http.MethodGet)
	r.HandleFunc("/racks/{rackId}", s.handleGetRack).Methods(http.MethodGet)

	r.HandleFunc("/racks/{rackId}/door/open", s.command(doorOpen)).Methods(http.MethodPost)
	r.HandleFunc("/racks/{rackId}/door/close", s.command(doorClose)).Methods(http.MethodPost)
	r.HandleFunc("/racks/{rackId}/door/toggle", s.command(doorToggle)).Methods(http.MethodPost)
	r.HandleFunc("/racks/{rackId}/ventilation/on", s.command(ventilationOn)).Methods(http.MethodPost)
	r.HandleFunc("/racks/{rackId}/ventilation/off", s.command(ventilationOff)).Methods(http.MethodPost)
	r.HandleFunc("/racks/{rackId}/alarm/overheat", s.command(alarmOverheat)).Methods(http.MethodPost)
	r.HandleFunc("/racks/{rackId}/alarm/dooropen", s.command(alarmDoorOpen)).Methods(http.MethodPost)
	r.HandleFunc("/racks/{rackId}/alarm/breakin", s.command(alarmBreakIn)).Methods(http.MethodPost)
	r.HandleFunc("/racks/{rackId}/alarm/silence", s.command(alarmSilence)).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return handlers.LoggingHandler(accessLog, wrapWithSlog(s.log, r))
}

// wrapWithSlog records structured access logs next to the Apache-style
// ones gorilla/handlers emits.
func wrapWithSlog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Debug("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
