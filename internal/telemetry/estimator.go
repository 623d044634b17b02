// v2
// internal/telemetry/estimator.go
// Package telemetry keeps a bounded rolling window of samples per
// (rack, metric) and derives short-term trend estimates from it.
package telemetry

import (
	"errors"
	"sync"
	"time"
)

// Metric names a monitored environmental quantity. The value doubles
// as the topic segment on the wire.
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
)

// ErrInsufficientData signals that a window holds fewer samples than a
// trend needs.
var ErrInsufficientData = errors.New("insufficient samples for trend estimate")

// Estimate is the derived view over one window: the arithmetic mean of
// the retained samples and the slope in value units per minute,
// obtained by least-squares regression over sample timestamps.
type Estimate struct {
	Mean          float64
	RatePerMinute float64
	Samples       int
}

type sample struct {
	value float64
	at    time.Time
}

type window struct {
	samples []sample
}

type key struct {
	rack   string
	metric Metric
}

// Estimator owns the rolling windows. Retention is bounded both by age
// and by sample count; whichever bound is hit first evicts the oldest
// samples. A single lock serializes same-key ingestion against
// estimation; windows for different keys share it too, which is fine
// at fleet scale.
type Estimator struct {
	mu         sync.Mutex
	windows    map[key]*window
	retention  time.Duration
	maxSamples int
}

// NewEstimator builds an estimator retaining at most maxSamples per key
// and nothing older than retention.
func NewEstimator(retention time.Duration, maxSamples int) *Estimator {
	return &Estimator{
		windows:    make(map[key]*window),
		retention:  retention,
		maxSamples: maxSamples,
	}
}

// Ingest appends one sample and evicts everything that fell outside
// the retention bounds.
func (e *Estimator) Ingest(rackID string, metric Metric, value float64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := key{rack: rackID, metric: metric}
	w, ok := e.windows[k]
	if !ok {
		w = &window{}
		e.windows[k] = w
	}
	w.samples = append(w.samples, sample{value: value, at: at})
	w.evict(at.Add(-e.retention), e.maxSamples)
}

// evict drops samples before cutoff, then trims from the front down to
// maxSamples. Samples arrive roughly in order; a late sample is kept
// where it landed since regression does not care about order.
func (w *window) evict(cutoff time.Time, maxSamples int) {
	idx := 0
	for idx < len(w.samples) && w.samples[idx].at.Before(cutoff) {
		idx++
	}
	if over := len(w.samples) - idx - maxSamples; over > 0 {
		idx += over
	}
	if idx > 0 {
		// Copy to release the old backing array.
		w.samples = append([]sample(nil), w.samples[idx:]...)
	}
}

// Estimate computes the current mean and slope for one key. It returns
// ErrInsufficientData when fewer than two samples are retained.
func (e *Estimator) Estimate(rackID string, metric Metric) (Estimate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.windows[key{rack: rackID, metric: metric}]
	if !ok || len(w.samples) < 2 {
		return Estimate{}, ErrInsufficientData
	}

	n := float64(len(w.samples))
	origin := w.samples[0].at
	var sumX, sumY, sumXY, sumXX float64
	for _, s := range w.samples {
		x := s.at.Sub(origin).Minutes()
		sumX += x
		sumY += s.value
		sumXY += x * s.value
		sumXX += x * x
	}

	est := Estimate{Mean: sumY / n, Samples: len(w.samples)}
	denom := n*sumXX - sumX*sumX
	if denom != 0 {
		est.RatePerMinute = (n*sumXY - sumX*sumY) / denom
	}
	return est, nil
}

// Latest returns the most recent sample for one key, if any.
func (e *Estimator) Latest(rackID string, metric Metric) (float64, time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.windows[key{rack: rackID, metric: metric}]
	if !ok || len(w.samples) == 0 {
		return 0, time.Time{}, false
	}
	last := w.samples[len(w.samples)-1]
	return last.value, last.at, true
}
