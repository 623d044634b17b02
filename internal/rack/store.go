// v2
// internal/rack/store.go
package rack

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ArvoreDosSaberes/Embarcatech-Etapa-2---Projeto-Final/internal/metrics"
)

// Store owns the fleet's confirmed state. Racks appear when first
// observed and live for the process lifetime. All access goes through
// the locked methods; callers get value copies, never interior
// pointers they could mutate.
type Store struct {
	mu    sync.RWMutex
	racks map[string]*Snapshot
	log   *slog.Logger
}

// NewStore builds an empty fleet store.
func NewStore(log *slog.Logger) *Store {
	return &Store{
		racks: make(map[string]*Snapshot),
		log:   log,
	}
}

// ensure returns the live record for id, creating it on first sight.
// Callers must hold the write lock.
func (s *Store) ensure(id string, now time.Time) *Snapshot {
	r, ok := s.racks[id]
	if !ok {
		r = &Snapshot{ID: id, FirstSeen: now}
		s.racks[id] = r
		metrics.SetRacksTracked(len(s.racks))
		s.log.Info("rack_discovered", slog.String("rack", id))
	}
	r.LastSeen = now
	return r
}

// Observe records that the rack produced traffic at now, creating it if
// it has never been seen before.
func (s *Store) Observe(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(id, now)
}

// SetTemperature updates the rack's reported temperature.
func (s *Store) SetTemperature(id string, value float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensure(id, now)
	v := value
	r.Temperature = &v
}

// SetHumidity updates the rack's reported relative humidity.
func (s *Store) SetHumidity(id string, value float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensure(id, now)
	v := value
	r.Humidity = &v
}

// SetDoorOpen updates the door state from the rack's status topic,
// which is authoritative over commanded transitions.
func (s *Store) SetDoorOpen(id string, open bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensure(id, now)
	r.DoorOpen = open
}

// SetLocation updates the rack's reported coordinates.
func (s *Store) SetLocation(id string, lat, lon float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensure(id, now)
	la, lo := lat, lon
	r.Latitude = &la
	r.Longitude = &lo
}

// ApplyAck moves an acknowledged value into the confirmed actuator
// field it belongs to. Only the dispatcher calls this.
func (s *Store) ApplyAck(id string, actuator Actuator, achieved string, now time.Time) error {
	switch actuator {
	case ActuatorDoor:
		open, err := ParseBool(achieved)
		if err != nil {
			return fmt.Errorf("door ack: %w", err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.ensure(id, now).DoorOpen = open
	case ActuatorVentilation:
		on, err := ParseBool(achieved)
		if err != nil {
			return fmt.Errorf("ventilation ack: %w", err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.ensure(id, now).VentilationOn = on
	case ActuatorAlarm:
		st, err := ParseAlarmState(achieved)
		if err != nil {
			return fmt.Errorf("alarm ack: %w", err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.ensure(id, now).Alarm = st
	default:
		return fmt.Errorf("unknown actuator %q", actuator)
	}
	return nil
}

// Snapshot returns a copy of one rack's confirmed state.
func (s *Store) Snapshot(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.racks[id]
	if !ok {
		return Snapshot{}, false
	}
	return *r, true
}

// Snapshots returns a copy of the whole fleet, ordered by rack id.
func (s *Store) Snapshots() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.racks))
	for _, r := range s.racks {
		out = append(out, *r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count reports how many racks have been observed so far.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.racks)
}
