// internal/config/config.go
// Package config resolves runtime settings for the login stream
// processor by layering defaults, an optional properties file, and
// environment variables.
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
)

// Config captures all runtime settings required by the processor.
// Values can be provided by environment variables, a properties file,
// or fall back to defaults so the service can boot with minimal setup.
type Config struct {
	// Brokers lists the Kafka bootstrap addresses.
	Brokers []string
	// InputTopic is the topic carrying raw user-login events.
	InputTopic string
	// OutputTopic receives transformed events.
	OutputTopic string
	// GroupID is the consumer group identifier shared by pipeline instances.
	GroupID string
	// AllowedAppVersions restricts accepted events; empty accepts all.
	AllowedAppVersions []string
	// PollTimeout bounds a single wait for new messages.
	PollTimeout time.Duration
	// Linger is the maximum time the sink waits to fill a batch.
	Linger time.Duration
	// BatchSize flushes the sink batch when reached before Linger elapses.
	BatchSize int
	// PublishQueueSize bounds the in-flight events waiting to be batched.
	PublishQueueSize int
	// InsightEvery emits an insight snapshot every N accepted events.
	InsightEvery int
	// HistogramRetention evicts traffic buckets older than this; 0 keeps all.
	HistogramRetention time.Duration
	// BreakerMaxFailures opens the publish breaker after this many
	// consecutive batch failures.
	BreakerMaxFailures int
	// BreakerResetTimeout is how long the breaker stays open before probing.
	BreakerResetTimeout time.Duration
	// ListenAddress defines the TCP address used by the HTTP server.
	ListenAddress string
	// LogFilePath is the path to the log file.
	LogFilePath string
	// ShutdownTimeout limits graceful shutdown attempts.
	ShutdownTimeout time.Duration
	// PropertiesPath records the path used to load property values.
	PropertiesPath string
}

const (
	defaultBrokers       = "localhost:9092"
	defaultInputTopic    = "user-login"
	defaultOutputTopic   = "processed-user-login"
	defaultGroupID       = "user-login-processor-group"
	defaultPollTimeout   = time.Second
	defaultLinger        = 100 * time.Millisecond
	defaultBatchSize     = 1000
	defaultQueueSize     = 4096
	defaultInsightEvery  = 10
	defaultRetention     = 24 * time.Hour
	defaultBreakerFails  = 5
	defaultBreakerReset  = 30 * time.Second
	defaultListenAddress = ":8087"
	defaultLogFile       = "logs/processor.log"
	defaultShutdown      = 10 * time.Second
	defaultPropsPath     = "processor.properties"
)

// Load resolves configuration by layering defaults, an optional
// properties file, and finally environment variables. The properties
// file location can be overridden with LOGIN_PROPERTIES_PATH.
func Load() (Config, error) {
	cfg := Config{
		Brokers:             splitAndTrim(defaultBrokers),
		InputTopic:          defaultInputTopic,
		OutputTopic:         defaultOutputTopic,
		GroupID:             defaultGroupID,
		AllowedAppVersions:  nil,
		PollTimeout:         defaultPollTimeout,
		Linger:              defaultLinger,
		BatchSize:           defaultBatchSize,
		PublishQueueSize:    defaultQueueSize,
		InsightEvery:        defaultInsightEvery,
		HistogramRetention:  defaultRetention,
		BreakerMaxFailures:  defaultBreakerFails,
		BreakerResetTimeout: defaultBreakerReset,
		ListenAddress:       defaultListenAddress,
		LogFilePath:         filepath.Clean(defaultLogFile),
		ShutdownTimeout:     defaultShutdown,
	}

	propsPath := strings.TrimSpace(os.Getenv("LOGIN_PROPERTIES_PATH"))
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

// Validate ensures the configuration is internally consistent before use.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("at least one kafka broker is required")
	}
	if strings.TrimSpace(c.InputTopic) == "" {
		return errors.New("input topic must not be empty")
	}
	if strings.TrimSpace(c.OutputTopic) == "" {
		return errors.New("output topic must not be empty")
	}
	if strings.TrimSpace(c.GroupID) == "" {
		return errors.New("consumer group id must not be empty")
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("poll timeout must be positive: %s", c.PollTimeout)
	}
	if c.Linger <= 0 {
		return fmt.Errorf("linger must be positive: %s", c.Linger)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive: %d", c.BatchSize)
	}
	if c.PublishQueueSize <= 0 {
		return fmt.Errorf("publish queue size must be positive: %d", c.PublishQueueSize)
	}
	if c.InsightEvery <= 0 {
		return fmt.Errorf("insight cadence must be positive: %d", c.InsightEvery)
	}
	if c.HistogramRetention < 0 {
		return fmt.Errorf("histogram retention must not be negative: %s", c.HistogramRetention)
	}
	if c.BreakerMaxFailures <= 0 {
		return fmt.Errorf("breaker max failures must be positive: %d", c.BreakerMaxFailures)
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("listen address must not be empty")
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
		// No logger exists yet at this stage of initialization.
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
			return fmt.Errorf("%s:%d: malformed property line", path, line)
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		if err := applyKey(cfg, key, val); err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
	}
	return scanner.Err()
}

func applyEnv(cfg *Config) error {
	for key, envKey := range map[string]string{
		"brokers":               "LOGIN_BROKERS",
		"input_topic":           "LOGIN_INPUT_TOPIC",
		"output_topic":          "LOGIN_OUTPUT_TOPIC",
		"group_id":              "LOGIN_GROUP_ID",
		"allowed_app_versions":  "LOGIN_ALLOWED_APP_VERSIONS",
		"poll_timeout_ms":       "LOGIN_POLL_TIMEOUT_MS",
		"linger_ms":             "LOGIN_LINGER_MS",
		"batch_size":            "LOGIN_BATCH_SIZE",
		"publish_queue_size":    "LOGIN_PUBLISH_QUEUE_SIZE",
		"insight_every":         "LOGIN_INSIGHT_EVERY",
		"histogram_retention":   "LOGIN_HISTOGRAM_RETENTION",
		"breaker_max_failures":  "LOGIN_BREAKER_MAX_FAILURES",
		"breaker_reset_timeout": "LOGIN_BREAKER_RESET_TIMEOUT",
		"listen_address":        "LOGIN_LISTEN_ADDRESS",
		"log_file":              "LOGIN_LOG_FILE",
		"shutdown_timeout":      "LOGIN_SHUTDOWN_TIMEOUT",
	} {
		val, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}
		if err := applyKey(cfg, key, strings.TrimSpace(val)); err != nil {
			return fmt.Errorf("%s: %w", envKey, err)
		}
	}
	return nil
}

func applyKey(cfg *Config, key, val string) error {
	switch key {
	case "brokers":
		out := splitAndTrim(val)
		if len(out) == 0 {
			return errors.New("brokers must not be empty")
		}
		cfg.Brokers = out
	case "input_topic":
		cfg.InputTopic = val
	case "output_topic":
		cfg.OutputTopic = val
	case "group_id":
		cfg.GroupID = val
	case "allowed_app_versions":
		cfg.AllowedAppVersions = splitAndTrim(val)
	case "poll_timeout_ms":
		d, err := parseMillis(val)
		if err != nil {
			return err
		}
		cfg.PollTimeout = d
	case "linger_ms":
		d, err := parseMillis(val)
		if err != nil {
			return err
		}
		cfg.Linger = d
	case "batch_size":
		n, err := parsePositiveInt(val)
		if err != nil {
			return err
		}
		cfg.BatchSize = n
	case "publish_queue_size":
		n, err := parsePositiveInt(val)
		if err != nil {
			return err
		}
		cfg.PublishQueueSize = n
	case "insight_every":
		n, err := parsePositiveInt(val)
		if err != nil {
			return err
		}
		cfg.InsightEvery = n
	case "histogram_retention":
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		if d < 0 {
			return fmt.Errorf("duration must not be negative: %s", d)
		}
		cfg.HistogramRetention = d
	case "breaker_max_failures":
		n, err := parsePositiveInt(val)
		if err != nil {
			return err
		}
		cfg.BreakerMaxFailures = n
	case "breaker_reset_timeout":
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		cfg.BreakerResetTimeout = d
	case "listen_address":
		cfg.ListenAddress = val
	case "log_file":
		cfg.LogFilePath = filepath.Clean(val)
	case "shutdown_timeout":
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		cfg.ShutdownTimeout = d
	default:
		return fmt.Errorf("unknown configuration key %q", key)
	}
	return nil
}

func parseMillis(val string) (time.Duration, error) {
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("expected positive millisecond count, got %q", val)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func parsePositiveInt(val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("expected positive integer, got %q", val)
	}
	return n, nil
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
