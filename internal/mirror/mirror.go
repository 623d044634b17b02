// v2
// internal/mirror/mirror.go
// Package mirror keeps the latest confirmed rack state in Redis so
// dashboards poll a hash instead of this process. Each resolution
// pipelines HSET + EXPIRE + PUBLISH; the TTL lets stale racks age out
// of the cache even though the process keeps them forever.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/dispatch"
	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/rack"
)

// Options selects the Redis endpoint. An empty Addr disables the
// mirror entirely.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Mirror writes confirmed rack snapshots to Redis.
type Mirror struct {
	client  *redis.Client
	store   *rack.Store
	ttl     time.Duration
	log     *slog.Logger
	enabled bool
}

// New connects to Redis, or returns a disabled mirror when no address
// is configured.
func New(ctx context.Context, opts Options, store *rack.Store, log *slog.Logger) (*Mirror, error) {
	if opts.Addr == "" {
		log.Info("mirror_disabled")
		return &Mirror{log: log, store: store}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info("mirror_enabled", slog.String("addr", opts.Addr))
	return &Mirror{client: client, store: store, ttl: opts.TTL, log: log, enabled: true}, nil
}

// Sink adapts the mirror to the dispatcher's observer interface: every
// acknowledged command pushes the rack's fresh confirmed snapshot.
func (m *Mirror) Sink() dispatch.Sink {
	return func(r dispatch.Result) {
		if !m.enabled || r.Outcome != dispatch.OutcomeAcknowledged {
			return
		}
		snap, ok := m.store.Snapshot(r.RackID)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.write(ctx, snap); err != nil {
			m.log.Error("mirror_write_failed", slog.String("rack", r.RackID), slog.Any("err", err))
		}
	}
}

func (m *Mirror) write(ctx context.Context, snap rack.Snapshot) error {
	fields := map[string]any{
		"doorOpen":      rack.FormatBool(snap.DoorOpen),
		"ventilationOn": rack.FormatBool(snap.VentilationOn),
		"alarmState":    snap.Alarm.String(),
		"lastSeen":      snap.LastSeen.Unix(),
	}
	if snap.Temperature != nil {
		fields["temperature"] = rack.FormatFloat(*snap.Temperature)
	}
	if snap.Humidity != nil {
		fields["humidity"] = rack.FormatFloat(*snap.Humidity)
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := fmt.Sprintf("rack:%s:state", snap.ID)
	pipe := m.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, m.ttl)
	pipe.Publish(ctx, "rackctl:state", payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (m *Mirror) Close() error {
	if !m.enabled {
		return nil
	}
	return m.client.Close()
}
