// v3
// internal/app/app.go
// Package app assembles the controller daemon: transport, dispatcher,
// decision loops, HTTP surface, audit trail, and state mirror, with
// graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/api"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/audit"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/config"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/controller"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/dispatch"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/engine"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/logging"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/mirror"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/rack"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/telemetry"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/transport"
)

// Application is the fully wired controller daemon.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
	bus      transport.Transport
	disp     *dispatch.Dispatcher
	ctrl     *controller.Controller
	apiSrv   *api.Server
	server   *http.Server
	trail    *audit.Trail
	mirror   *mirror.Mirror
}

// New prepares the daemon from validated configuration.
func New(cfg config.Config) (*Application, error) {
	logger, closeLog, err := logging.Setup(cfg.LogFilePath)
	if err != nil {
		return nil, err
	}

	clientID := cfg.MQTTClientID
	if clientID == "" {
		clientID = "rackctl-controller-" + uuid.NewString()[:8]
	}
	bus, err := transport.ConnectMQTT(transport.MQTTOptions{
		BrokerURL: cfg.MQTTBroker,
		ClientID:  clientID,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
	}, logger.With(slog.String("component", "transport")))
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("transport init: %w", err)
	}

	topics := transport.NewTopics(cfg.BaseTopic)
	store := rack.NewStore(logger.With(slog.String("component", "fleet")))
	disp := dispatch.New(store, bus, topics, cfg.CommandTimeout,
		logger.With(slog.String("component", "dispatch")))

	est := telemetry.NewEstimator(cfg.TrendWindow, cfg.TrendMaxSamples)
	eng := engine.New(cfg.Temperature, cfg.Humidity, cfg.TrendRateThreshold)
	ctrl := controller.New(est, eng, disp, topics, cfg.IntakeQueueSize,
		logger.With(slog.String("component", "controller")))

	trail := audit.New(cfg.KafkaBrokers, cfg.AuditTopic,
		logger.With(slog.String("component", "audit")))
	disp.Observe(trail.Sink())

	mirrorCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mir, err := mirror.New(mirrorCtx, mirror.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.MirrorTTL,
	}, store, logger.With(slog.String("component", "mirror")))
	if err != nil {
		bus.Close()
		_ = trail.Close()
		_ = closeLog()
		return nil, fmt.Errorf("mirror init: %w", err)
	}
	disp.Observe(mir.Sink())

	// The wait bound only guards a stalled sweeper; resolution
	// normally lands within timeout + sweep.
	waitBound := cfg.CommandTimeout + 2*cfg.SweepInterval + time.Second
	apiSrv := api.NewServer(disp, waitBound, logger.With(slog.String("component", "api")))
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.NewRouter(apiSrv, os.Stdout),
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		WriteTimeout:      waitBound + cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPWriteTimeout,
	}

	return &Application{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		bus:      bus,
		disp:     disp,
		ctrl:     ctrl,
		apiSrv:   apiSrv,
		server:   server,
		trail:    trail,
		mirror:   mir,
	}, nil
}

// Logger exposes the configured logger for main.
func (a *Application) Logger() *slog.Logger { return a.logger }

// Run blocks until ctx is cancelled or the HTTP server fails.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.ctrl.Subscribe(a.bus); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	go a.ctrl.RunIntake(ctx)
	go a.ctrl.RunDecisionLoop(ctx, a.cfg.DecisionInterval)
	go a.disp.RunSweeper(ctx, a.cfg.SweepInterval)

	httpCh := make(chan error, 1)
	go func() {
		a.apiSrv.SetReady(true)
		a.logger.Info("service_boot",
			slog.String("address", a.cfg.ListenAddress),
			slog.String("broker", a.cfg.MQTTBroker),
			slog.String("base_topic", a.cfg.BaseTopic),
			slog.String("kafka", strings.Join(a.cfg.KafkaBrokers, ",")),
		)
		err := a.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-httpCh:
		a.shutdown()
		return fmt.Errorf("http server: %w", err)
	}

	a.shutdown()
	return nil
}

func (a *Application) shutdown() {
	a.logger.Info("service_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http_shutdown_failed", slog.Any("err", err))
	}
	a.bus.Close()
	if err := a.trail.Close(); err != nil {
		a.logger.Error("audit_close_failed", slog.Any("err", err))
	}
	if err := a.mirror.Close(); err != nil {
		a.logger.Error("mirror_close_failed", slog.Any("err", err))
	}
	if err := a.closeLog(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
}
