// v2
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Thresholds holds the Schmitt-trigger boundaries for one metric. High
// activates ventilation, Low releases it, Critical escalates to an
// alarm, and CriticalReset de-escalates. The ordering invariant
// Low < High <= CriticalReset < Critical is enforced by Validate.
type Thresholds struct {
	High          float64
	Low           float64
	Critical      float64
	CriticalReset float64
}

// Validate checks the dead-band ordering for one metric.
func (t Thresholds) Validate(metric string) error {
	if !(t.Low < t.High) {
		return fmt.Errorf("%s thresholds: low (%.2f) must be below high (%.2f)", metric, t.Low, t.High)
	}
	if !(t.High <= t.CriticalReset) {
		return fmt.Errorf("%s thresholds: high (%.2f) must not exceed critical reset (%.2f)", metric, t.High, t.CriticalReset)
	}
	if !(t.CriticalReset < t.Critical) {
		return fmt.Errorf("%s thresholds: critical reset (%.2f) must be below critical (%.2f)", metric, t.CriticalReset, t.Critical)
	}
	return nil
}

// Config captures all runtime settings for the controller and the rack
// simulator. Values can come from environment variables, a properties
// file, or fall back to the defaults of the reference deployment so
// both binaries boot with minimal setup.
type Config struct {
	// ListenAddress defines the TCP address used by the HTTP server.
	ListenAddress string
	// LogFilePath is the absolute or relative path to the log file.
	LogFilePath string
	// HTTPReadTimeout bounds the time to read incoming requests.
	HTTPReadTimeout time.Duration
	// HTTPWriteTimeout bounds the time to write responses.
	HTTPWriteTimeout time.Duration
	// ShutdownTimeout limits graceful shutdown attempts.
	ShutdownTimeout time.Duration
	// PropertiesPath records the path used to load property values.
	PropertiesPath string

	// MQTTBroker is the broker URL shared by controller and simulator.
	MQTTBroker string
	// MQTTClientID identifies this process on the broker.
	MQTTClientID string
	// MQTTUsername and MQTTPassword are optional broker credentials.
	MQTTUsername string
	MQTTPassword string
	// BaseTopic is the first segment of every rack topic.
	BaseTopic string

	// CommandTimeout is how long an issued command may wait for its ack.
	CommandTimeout time.Duration
	// SweepInterval is the period of the pending-command expiry sweep.
	SweepInterval time.Duration
	// DecisionInterval is the period of the decision-engine tick.
	DecisionInterval time.Duration
	// IntakeQueueSize bounds the controller-side delivery handoff queue.
	IntakeQueueSize int

	// Temperature and Humidity are the per-metric hysteresis boundaries.
	Temperature Thresholds
	Humidity    Thresholds
	// TrendWindow bounds sample retention in the trend estimator.
	TrendWindow time.Duration
	// TrendMaxSamples caps retained samples per (rack, metric).
	TrendMaxSamples int
	// TrendRateThreshold enables anticipatory ventilation when the
	// temperature slope (degrees per minute) exceeds it. Zero disables
	// the policy.
	TrendRateThreshold float64

	// KafkaBrokers lists bootstrap brokers for the audit trail. Empty
	// disables auditing.
	KafkaBrokers []string
	// AuditTopic receives one record per terminal command outcome.
	AuditTopic string

	// RedisAddr enables the latest-state mirror when non-empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// MirrorTTL is the expiry applied to mirrored rack hashes.
	MirrorTTL time.Duration

	// SimRacks is how many racks the simulator hosts.
	SimRacks int
	// SimPublishPeriod is the simulator's mean telemetry period.
	SimPublishPeriod time.Duration
	// SimAnomalyProbability is the chance per cycle of starting an
	// anomaly episode on an idle metric.
	SimAnomalyProbability float64
	// SimQueueSize bounds each simulated rack's command queue.
	SimQueueSize int
}

const (
	defaultListenAddress    = ":8089"
	defaultLogFile          = "logs/rackctl.log"
	defaultReadTimeout      = 5 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultShutdown         = 5 * time.Second
	defaultPropsPath        = "rackctl.properties"
	defaultMQTTBroker       = "tcp://localhost:1883"
	defaultBaseTopic        = "racks"
	defaultCommandTimeout   = 5 * time.Second
	defaultSweepInterval    = 500 * time.Millisecond
	defaultDecisionInterval = 1 * time.Second
	defaultIntakeQueue      = 1024
	defaultTrendWindow      = time.Hour
	defaultTrendMaxSamples  = 3600
	defaultAuditTopic       = "rackctl.command.outcomes"
	defaultMirrorTTL        = 30 * time.Second
	defaultSimRacks         = 3
	defaultSimPeriod        = 2 * time.Second
	defaultSimAnomalyProb   = 0.07
	defaultSimQueue         = 16
)

// Load resolves configuration by layering defaults, an optional .env
// file, an optional properties file, and finally environment
// variables. The properties file location can be overridden with
// RACKCTL_PROPERTIES_PATH.
func Load() (Config, error) {
	// The .env file is optional; a missing file is the common case.
	_ = godotenv.Load()

	cfg := Config{
		ListenAddress:         defaultListenAddress,
		LogFilePath:           filepath.Clean(defaultLogFile),
		HTTPReadTimeout:       defaultReadTimeout,
		HTTPWriteTimeout:      defaultWriteTimeout,
		ShutdownTimeout:       defaultShutdown,
		MQTTBroker:            defaultMQTTBroker,
		BaseTopic:             defaultBaseTopic,
		CommandTimeout:        defaultCommandTimeout,
		SweepInterval:         defaultSweepInterval,
		DecisionInterval:      defaultDecisionInterval,
		IntakeQueueSize:       defaultIntakeQueue,
		Temperature:           Thresholds{High: 35, Low: 28, Critical: 45, CriticalReset: 40},
		Humidity:              Thresholds{High: 80, Low: 60, Critical: 95, CriticalReset: 90},
		TrendWindow:           defaultTrendWindow,
		TrendMaxSamples:       defaultTrendMaxSamples,
		AuditTopic:            defaultAuditTopic,
		MirrorTTL:             defaultMirrorTTL,
		SimRacks:              defaultSimRacks,
		SimPublishPeriod:      defaultSimPeriod,
		SimAnomalyProbability: defaultSimAnomalyProb,
		SimQueueSize:          defaultSimQueue,
	}

	propsPath := strings.TrimSpace(os.Getenv("RACKCTL_PROPERTIES_PATH"))
	if propsPath == "" {
		propsPath = defaultPropsPath
	}
	cfg.PropertiesPath = propsPath

	if err := applyProperties(&cfg, propsPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the invariants the rest of the system assumes.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("listen address cannot be empty")
	}
	if strings.TrimSpace(c.MQTTBroker) == "" {
		return errors.New("mqtt broker cannot be empty")
	}
	if strings.TrimSpace(c.BaseTopic) == "" || strings.Contains(c.BaseTopic, "/") {
		return fmt.Errorf("base topic %q must be a single non-empty segment", c.BaseTopic)
	}
	if c.CommandTimeout <= 0 {
		return errors.New("command timeout must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if c.DecisionInterval <= 0 {
		return errors.New("decision interval must be positive")
	}
	if c.IntakeQueueSize <= 0 {
		return errors.New("intake queue size must be positive")
	}
	if c.TrendWindow <= 0 || c.TrendMaxSamples < 2 {
		return errors.New("trend window must be positive and retain at least two samples")
	}
	if c.TrendRateThreshold < 0 {
		return errors.New("trend rate threshold cannot be negative")
	}
	if err := c.Temperature.Validate("temperature"); err != nil {
		return err
	}
	if err := c.Humidity.Validate("humidity"); err != nil {
		return err
	}
	if c.SimRacks <= 0 || c.SimQueueSize <= 0 || c.SimPublishPeriod <= 0 {
		return errors.New("simulator settings must be positive")
	}
	if c.SimAnomalyProbability < 0 || c.SimAnomalyProbability > 1 {
		return errors.New("simulator anomaly probability must be within [0,1]")
	}
	return nil
}

func applyProperties(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		// Close errors are ignored because configuration loading has
		// already completed and there is no logger available at this
		// stage of initialization.
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, ";") {
			continue
		}
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid properties entry on line %d", line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := setProperty(cfg, key, value); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	return nil
}

func setProperty(cfg *Config, key, value string) error {
	switch key {
	case "listen_address":
		cfg.ListenAddress = value
	case "log_path":
		cfg.LogFilePath = filepath.Clean(value)
	case "http_read_timeout_ms":
		return setMillis(&cfg.HTTPReadTimeout, value)
	case "http_write_timeout_ms":
		return setMillis(&cfg.HTTPWriteTimeout, value)
	case "shutdown_timeout_ms":
		return setMillis(&cfg.ShutdownTimeout, value)
	case "mqtt_broker":
		cfg.MQTTBroker = value
	case "mqtt_client_id":
		cfg.MQTTClientID = value
	case "mqtt_username":
		cfg.MQTTUsername = value
	case "mqtt_password":
		cfg.MQTTPassword = value
	case "base_topic":
		cfg.BaseTopic = strings.Trim(value, "/")
	case "command_timeout_ms":
		return setMillis(&cfg.CommandTimeout, value)
	case "sweep_interval_ms":
		return setMillis(&cfg.SweepInterval, value)
	case "decision_interval_ms":
		return setMillis(&cfg.DecisionInterval, value)
	case "intake_queue_size":
		return setPositiveInt(&cfg.IntakeQueueSize, value)
	case "temperature_high":
		return setFloat(&cfg.Temperature.High, value)
	case "temperature_low":
		return setFloat(&cfg.Temperature.Low, value)
	case "temperature_critical":
		return setFloat(&cfg.Temperature.Critical, value)
	case "temperature_critical_reset":
		return setFloat(&cfg.Temperature.CriticalReset, value)
	case "humidity_high":
		return setFloat(&cfg.Humidity.High, value)
	case "humidity_low":
		return setFloat(&cfg.Humidity.Low, value)
	case "humidity_critical":
		return setFloat(&cfg.Humidity.Critical, value)
	case "humidity_critical_reset":
		return setFloat(&cfg.Humidity.CriticalReset, value)
	case "trend_window_ms":
		return setMillis(&cfg.TrendWindow, value)
	case "trend_max_samples":
		return setPositiveInt(&cfg.TrendMaxSamples, value)
	case "trend_rate_threshold":
		return setFloat(&cfg.TrendRateThreshold, value)
	case "kafka_brokers":
		cfg.KafkaBrokers = splitAndTrim(value)
	case "audit_topic":
		cfg.AuditTopic = value
	case "redis_addr":
		cfg.RedisAddr = value
	case "redis_password":
		cfg.RedisPassword = value
	case "redis_db":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid redis_db: %w", err)
		}
		cfg.RedisDB = n
	case "mirror_ttl_ms":
		return setMillis(&cfg.MirrorTTL, value)
	case "sim_racks":
		return setPositiveInt(&cfg.SimRacks, value)
	case "sim_publish_period_ms":
		return setMillis(&cfg.SimPublishPeriod, value)
	case "sim_anomaly_probability":
		return setFloat(&cfg.SimAnomalyProbability, value)
	case "sim_queue_size":
		return setPositiveInt(&cfg.SimQueueSize, value)
	default:
		// Unknown keys are ignored to keep the loader forward-compatible.
	}
	return nil
}

// envString applies an environment override. The prefixed name wins over
// the unprefixed fallback so shared variables like MQTT_BROKER keep
// working next to RACKCTL_* ones.
func envString(dst *string, names ...string) {
	for _, name := range names {
		if v, ok := lookupEnvTrimmed(name); ok {
			*dst = v
			return
		}
	}
}

func applyEnv(cfg *Config) error {
	envString(&cfg.ListenAddress, "RACKCTL_LISTEN_ADDRESS")
	envString(&cfg.MQTTBroker, "RACKCTL_MQTT_BROKER", "MQTT_BROKER")
	envString(&cfg.MQTTClientID, "RACKCTL_MQTT_CLIENT_ID")
	envString(&cfg.MQTTUsername, "RACKCTL_MQTT_USERNAME", "MQTT_USERNAME")
	envString(&cfg.MQTTPassword, "RACKCTL_MQTT_PASSWORD", "MQTT_PASSWORD")
	envString(&cfg.AuditTopic, "RACKCTL_AUDIT_TOPIC")
	envString(&cfg.RedisAddr, "RACKCTL_REDIS_ADDR", "REDIS_ADDR")
	envString(&cfg.RedisPassword, "RACKCTL_REDIS_PASSWORD", "REDIS_PASSWORD")

	if v, ok := lookupEnvTrimmed("RACKCTL_LOG_PATH"); ok {
		cfg.LogFilePath = filepath.Clean(v)
	}
	if v, ok := lookupEnvTrimmed("RACKCTL_BASE_TOPIC"); ok {
		cfg.BaseTopic = strings.Trim(v, "/")
	} else if v, ok := lookupEnvTrimmed("MQTT_BASE_TOPIC"); ok {
		cfg.BaseTopic = strings.Trim(v, "/")
	}
	if v, ok := lookupEnvTrimmed("RACKCTL_KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitAndTrim(v)
	} else if v, ok := lookupEnvTrimmed("KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitAndTrim(v)
	}

	millisVars := []struct {
		name string
		dst  *time.Duration
	}{
		{"RACKCTL_HTTP_READ_TIMEOUT_MS", &cfg.HTTPReadTimeout},
		{"RACKCTL_HTTP_WRITE_TIMEOUT_MS", &cfg.HTTPWriteTimeout},
		{"RACKCTL_SHUTDOWN_TIMEOUT_MS", &cfg.ShutdownTimeout},
		{"RACKCTL_COMMAND_TIMEOUT_MS", &cfg.CommandTimeout},
		{"RACKCTL_SWEEP_INTERVAL_MS", &cfg.SweepInterval},
		{"RACKCTL_DECISION_INTERVAL_MS", &cfg.DecisionInterval},
		{"RACKCTL_TREND_WINDOW_MS", &cfg.TrendWindow},
		{"RACKCTL_MIRROR_TTL_MS", &cfg.MirrorTTL},
		{"RACKCTL_SIM_PUBLISH_PERIOD_MS", &cfg.SimPublishPeriod},
	}
	for _, v := range millisVars {
		if raw, ok := lookupEnvTrimmed(v.name); ok {
			if err := setMillis(v.dst, raw); err != nil {
				return fmt.Errorf("%s: %w", v.name, err)
			}
		}
	}

	floatVars := []struct {
		name string
		dst  *float64
	}{
		{"RACKCTL_TEMPERATURE_HIGH", &cfg.Temperature.High},
		{"RACKCTL_TEMPERATURE_LOW", &cfg.Temperature.Low},
		{"RACKCTL_TEMPERATURE_CRITICAL", &cfg.Temperature.Critical},
		{"RACKCTL_TEMPERATURE_CRITICAL_RESET", &cfg.Temperature.CriticalReset},
		{"RACKCTL_HUMIDITY_HIGH", &cfg.Humidity.High},
		{"RACKCTL_HUMIDITY_LOW", &cfg.Humidity.Low},
		{"RACKCTL_HUMIDITY_CRITICAL", &cfg.Humidity.Critical},
		{"RACKCTL_HUMIDITY_CRITICAL_RESET", &cfg.Humidity.CriticalReset},
		{"RACKCTL_TREND_RATE_THRESHOLD", &cfg.TrendRateThreshold},
		{"RACKCTL_SIM_ANOMALY_PROBABILITY", &cfg.SimAnomalyProbability},
	}
	for _, v := range floatVars {
		if raw, ok := lookupEnvTrimmed(v.name); ok {
			if err := setFloat(v.dst, raw); err != nil {
				return fmt.Errorf("%s: %w", v.name, err)
			}
		}
	}

	intVars := []struct {
		name string
		dst  *int
	}{
		{"RACKCTL_INTAKE_QUEUE_SIZE", &cfg.IntakeQueueSize},
		{"RACKCTL_TREND_MAX_SAMPLES", &cfg.TrendMaxSamples},
		{"RACKCTL_SIM_RACKS", &cfg.SimRacks},
		{"RACKCTL_SIM_QUEUE_SIZE", &cfg.SimQueueSize},
	}
	for _, v := range intVars {
		if raw, ok := lookupEnvTrimmed(v.name); ok {
			if err := setPositiveInt(v.dst, raw); err != nil {
				return fmt.Errorf("%s: %w", v.name, err)
			}
		}
	}

	if raw, ok := lookupEnvTrimmed("RACKCTL_REDIS_DB"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("RACKCTL_REDIS_DB: %w", err)
		}
		cfg.RedisDB = n
	}
	return nil
}

func lookupEnvTrimmed(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitAndTrim(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func setMillis(dst *time.Duration, v string) error {
	if strings.TrimSpace(v) == "" {
		return errors.New("value cannot be empty")
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if ms <= 0 {
		return errors.New("value must be greater than zero")
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

func setPositiveInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return errors.New("value must be greater than zero")
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	*dst = f
	return nil
}
