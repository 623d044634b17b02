// v2
// cmd/simulator/main.go
// Rack device simulator: hosts the command executor and telemetry
// generator for N simulated racks against a real broker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/config"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/device"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/logging"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/transport"
)

// Fixed rack locations in Fortaleza-CE; racks do not move.
var rackCoordinates = [][2]float64{
	{-3.7319, -38.5267},
	{-3.7403, -38.4993},
	{-3.7648, -38.4712},
	{-3.7271, -38.4909},
	{-3.7191, -38.5089},
	{-3.7456, -38.5302},
	{-3.7589, -38.4834},
	{-3.7744, -38.5566},
	{-3.7505, -38.5124},
	{-3.7380, -38.5189},
	{-3.7612, -38.4563},
	{-3.7283, -38.5434},
	{-3.7834, -38.5912},
	{-3.7422, -38.4621},
	{-3.7956, -38.5234},
	{-3.9012, -38.3876},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.Setup("logs/rack-simulator.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	bus, err := transport.ConnectMQTT(transport.MQTTOptions{
		BrokerURL: cfg.MQTTBroker,
		ClientID:  "rackctl-simulator-" + uuid.NewString()[:8],
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
	}, logger.With(slog.String("component", "transport")))
	if err != nil {
		logger.Error("transport_init_failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer bus.Close()

	topics := transport.NewTopics(cfg.BaseTopic)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < cfg.SimRacks; i++ {
		rackID := fmt.Sprintf("RACK-%02d", i+1)
		coord := rackCoordinates[i%len(rackCoordinates)]
		rackLog := logger.With(slog.String("rack", rackID))

		sim := device.NewSimRack(rackID, coord[0], coord[1], cfg.SimAnomalyProbability,
			time.Now().UnixNano()+int64(i), bus, topics, rackLog)
		ex := device.NewExecutor(rackID, cfg.SimQueueSize, sim, bus, topics, rackLog)
		if err := ex.Subscribe(bus); err != nil {
			logger.Error("subscribe_failed", slog.String("rack", rackID), slog.Any("err", err))
			os.Exit(1)
		}

		wg.Add(2)
		go func() {
			defer wg.Done()
			ex.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			sim.Run(ctx, cfg.SimPublishPeriod)
		}()
	}

	logger.Info("simulator_boot",
		slog.Int("racks", cfg.SimRacks),
		slog.String("broker", cfg.MQTTBroker),
		slog.String("base_topic", cfg.BaseTopic),
	)

	<-ctx.Done()
	wg.Wait()
	logger.Info("simulator_shutdown")
}
