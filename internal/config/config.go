// v1
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures all runtime settings of the sensor hub. Values come from
// defaults, an optional properties or YAML file, .env files and finally the
// process environment, each layer overriding the previous one.
type Config struct {
	ListenAddress    string
	LogFilePath      string
	LogLevel         string
	LogFormat        string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	ShutdownTimeout  time.Duration
	// ConfigPath records the file the values were loaded from, if any.
	ConfigPath string

	// Source selects the reading source: serial, mqtt or file.
	Source string

	SerialPort       string
	SerialOverride   string
	SerialBaud       int
	SerialAutoDetect bool
	SerialMatch      string
	SerialResetDelay time.Duration

	FilePath string

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	MQTTQoS      byte

	HistoryCapacity int
	HeartRate       bool
	StreamBuffer    int

	// ReconnectMaxRetries is the number of consecutive retries before the
	// supervisor gives up; 0 means never retry.
	ReconnectMaxRetries     int
	ReconnectInitialBackoff time.Duration
	ReconnectMaxBackoff     time.Duration

	// KafkaBrokers enables the republisher when non-empty.
	KafkaBrokers        []string
	KafkaTopic          string
	CircuitMaxFailures  int
	CircuitResetTimeout time.Duration
}

const (
	SourceSerial = "serial"
	SourceMQTT   = "mqtt"
	SourceFile   = "file"
)

const (
	defaultListenAddress  = ":4002"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultReadTimeout    = 5 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultShutdown       = 5 * time.Second
	defaultConfigPath     = "sensorhub.properties"
	defaultSerialPort     = "/dev/ttyACM0"
	defaultSerialBaud     = 9600
	defaultSerialMatch    = "arduino"
	defaultResetDelay     = 2 * time.Second
	defaultMQTTBroker     = "tcp://localhost:1883"
	defaultMQTTTopic      = "sensors/arduino"
	defaultMQTTClientID   = "sensorhub"
	defaultCapacity       = 100
	defaultStreamBuffer   = 16
	defaultMaxRetries     = 5
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultKafkaTopic     = "sensors.readings"
	defaultCBFailures     = 5
	defaultCBOpen         = 30 * time.Second
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ListenAddress:           defaultListenAddress,
		LogLevel:                defaultLogLevel,
		LogFormat:               defaultLogFormat,
		HTTPReadTimeout:         defaultReadTimeout,
		HTTPWriteTimeout:        defaultWriteTimeout,
		ShutdownTimeout:         defaultShutdown,
		Source:                  SourceSerial,
		SerialPort:              defaultSerialPort,
		SerialBaud:              defaultSerialBaud,
		SerialMatch:             defaultSerialMatch,
		SerialResetDelay:        defaultResetDelay,
		FilePath:                "-",
		MQTTBroker:              defaultMQTTBroker,
		MQTTTopic:               defaultMQTTTopic,
		MQTTClientID:            defaultMQTTClientID,
		HistoryCapacity:         defaultCapacity,
		HeartRate:               true,
		StreamBuffer:            defaultStreamBuffer,
		ReconnectMaxRetries:     defaultMaxRetries,
		ReconnectInitialBackoff: defaultInitialBackoff,
		ReconnectMaxBackoff:     defaultMaxBackoff,
		KafkaTopic:              defaultKafkaTopic,
		CircuitMaxFailures:      defaultCBFailures,
		CircuitResetTimeout:     defaultCBOpen,
	}
}

// envKeys maps environment variables onto file keys. Earlier entries for
// the same key win, which gives SENSORHUB_* precedence over the legacy
// names.
var envKeys = []struct {
	env string
	key string
}{
	{"SENSORHUB_LISTEN_ADDRESS", "listen_address"},
	{"SENSORHUB_LOG_PATH", "log_path"},
	{"SENSORHUB_LOG_LEVEL", "log_level"},
	{"SENSORHUB_LOG_FORMAT", "log_format"},
	{"SENSORHUB_HTTP_READ_TIMEOUT_MS", "http_read_timeout_ms"},
	{"SENSORHUB_HTTP_WRITE_TIMEOUT_MS", "http_write_timeout_ms"},
	{"SENSORHUB_SHUTDOWN_TIMEOUT_MS", "shutdown_timeout_ms"},
	{"SENSORHUB_SOURCE", "source"},
	{"SENSORHUB_SERIAL_PORT", "serial_port"},
	{"SERIAL_PORT", "serial_port"},
	{"SENSORHUB_SERIAL_OVERRIDE", "serial_override"},
	{"SENSORHUB_SERIAL_BAUD", "serial_baud"},
	{"SENSORHUB_SERIAL_AUTO_DETECT", "serial_auto_detect"},
	{"SENSORHUB_SERIAL_MATCH", "serial_match"},
	{"SENSORHUB_SERIAL_RESET_DELAY_MS", "serial_reset_delay_ms"},
	{"SENSORHUB_FILE_PATH", "file_path"},
	{"SENSORHUB_MQTT_BROKER", "mqtt_broker"},
	{"SENSORHUB_MQTT_TOPIC", "mqtt_topic"},
	{"SENSORHUB_MQTT_CLIENT_ID", "mqtt_client_id"},
	{"SENSORHUB_MQTT_QOS", "mqtt_qos"},
	{"SENSORHUB_HISTORY_CAPACITY", "history_capacity"},
	{"SENSORHUB_HEART_RATE", "heart_rate"},
	{"SENSORHUB_STREAM_BUFFER", "stream_buffer"},
	{"SENSORHUB_RECONNECT_MAX_RETRIES", "reconnect_max_retries"},
	{"SENSORHUB_RECONNECT_INITIAL_BACKOFF_MS", "reconnect_initial_backoff_ms"},
	{"SENSORHUB_RECONNECT_MAX_BACKOFF_MS", "reconnect_max_backoff_ms"},
	{"SENSORHUB_KAFKA_BROKERS", "kafka_brokers"},
	{"KAFKA_BROKERS", "kafka_brokers"},
	{"SENSORHUB_KAFKA_TOPIC", "kafka_topic"},
	{"CB_KAFKA_FAILURE_THRESHOLD", "circuit.maxfailures"},
	{"CB_KAFKA_OPEN_SECONDS", "circuit.resetseconds"},
}

// Load resolves configuration by layering defaults, the config file, .env
// files and the environment. An empty path falls back to
// SENSORHUB_CONFIG_PATH and then to sensorhub.properties; only a missing
// default file is tolerated.
func Load(path string) (Config, error) {
	cfg := Default()

	if v, _ := lookupEnvTrimmed("SENSORHUB_DOTENV"); !strings.EqualFold(v, "off") {
		if err := loadDotenv(".env.local", ".env"); err != nil {
			return Config{}, err
		}
	}

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		if v, ok := lookupEnvTrimmed("SENSORHUB_CONFIG_PATH"); ok && v != "" {
			path, explicit = v, true
		} else {
			path = defaultConfigPath
		}
	}

	err := applyFile(&cfg, path)
	switch {
	case err == nil:
		cfg.ConfigPath = path
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return Config{}, err
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotenv loads each file that exists. godotenv never overrides
// variables already present in the environment.
func loadDotenv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return applyYAML(cfg, path)
	default:
		return applyProperties(cfg, path)
	}
}

func applyProperties(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
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

// applyYAML accepts the same keys as the properties file. Nested mappings
// are flattened with dots, so circuit: {maxfailures: 3} sets
// circuit.maxfailures; sequences are joined with commas.
func applyYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	flat := make(map[string]string)
	flatten("", doc, flat)

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := setProperty(cfg, k, flat[k]); err != nil {
			return fmt.Errorf("property %s: %w", k, err)
		}
	}
	return nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]any:
			flatten(key, t, out)
		case []any:
			parts := make([]string, 0, len(t))
			for _, item := range t {
				parts = append(parts, fmt.Sprint(item))
			}
			out[key] = strings.Join(parts, ",")
		case nil:
			out[key] = ""
		default:
			out[key] = strings.TrimSpace(fmt.Sprint(t))
		}
	}
}

func applyEnv(cfg *Config) error {
	seen := make(map[string]bool, len(envKeys))
	for _, e := range envKeys {
		if seen[e.key] {
			continue
		}
		v, ok := lookupEnvTrimmed(e.env)
		if !ok {
			continue
		}
		seen[e.key] = true
		if err := setProperty(cfg, e.key, v); err != nil {
			return fmt.Errorf("%s: %w", e.env, err)
		}
	}
	return nil
}

func setProperty(cfg *Config, key, value string) error {
	var err error
	switch key {
	case "listen_address":
		cfg.ListenAddress, err = nonEmpty(value)
	case "log_path":
		if value != "" {
			value = filepath.Clean(value)
		}
		cfg.LogFilePath = value
	case "log_level":
		switch strings.ToLower(value) {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = strings.ToLower(value)
		default:
			err = fmt.Errorf("unknown level %q", value)
		}
	case "log_format":
		switch strings.ToLower(value) {
		case "text", "json":
			cfg.LogFormat = strings.ToLower(value)
		default:
			err = fmt.Errorf("unknown format %q", value)
		}
	case "http_read_timeout_ms":
		cfg.HTTPReadTimeout, err = parsePositiveMillis(value)
	case "http_write_timeout_ms":
		cfg.HTTPWriteTimeout, err = parsePositiveMillis(value)
	case "shutdown_timeout_ms":
		cfg.ShutdownTimeout, err = parsePositiveMillis(value)
	case "source":
		switch strings.ToLower(value) {
		case SourceSerial, SourceMQTT, SourceFile:
			cfg.Source = strings.ToLower(value)
		default:
			err = fmt.Errorf("unknown source %q (want serial, mqtt or file)", value)
		}
	case "serial_port":
		cfg.SerialPort, err = nonEmpty(value)
	case "serial_override":
		cfg.SerialOverride = value
	case "serial_baud":
		cfg.SerialBaud, err = parsePositiveInt(value)
	case "serial_auto_detect":
		cfg.SerialAutoDetect, err = strconv.ParseBool(value)
	case "serial_match":
		cfg.SerialMatch = value
	case "serial_reset_delay_ms":
		cfg.SerialResetDelay, err = parseMillis(value)
	case "file_path":
		cfg.FilePath, err = nonEmpty(value)
	case "mqtt_broker":
		cfg.MQTTBroker, err = nonEmpty(value)
	case "mqtt_topic":
		cfg.MQTTTopic, err = nonEmpty(value)
	case "mqtt_client_id":
		cfg.MQTTClientID = value
	case "mqtt_qos":
		var n int
		n, err = strconv.Atoi(value)
		if err == nil && (n < 0 || n > 2) {
			err = errors.New("must be 0, 1 or 2")
		}
		cfg.MQTTQoS = byte(n)
	case "history_capacity":
		cfg.HistoryCapacity, err = parsePositiveInt(value)
	case "heart_rate":
		cfg.HeartRate, err = strconv.ParseBool(value)
	case "stream_buffer":
		cfg.StreamBuffer, err = parsePositiveInt(value)
	case "reconnect_max_retries":
		var n int
		n, err = strconv.Atoi(value)
		if err == nil && n < 0 {
			err = errors.New("must not be negative")
		}
		cfg.ReconnectMaxRetries = n
	case "reconnect_initial_backoff_ms":
		cfg.ReconnectInitialBackoff, err = parsePositiveMillis(value)
	case "reconnect_max_backoff_ms":
		cfg.ReconnectMaxBackoff, err = parsePositiveMillis(value)
	case "kafka_brokers":
		cfg.KafkaBrokers = splitAndTrim(value)
	case "kafka_topic":
		cfg.KafkaTopic, err = nonEmpty(value)
	case "circuit.maxfailures":
		cfg.CircuitMaxFailures, err = parsePositiveInt(value)
	case "circuit.resetseconds":
		var n int
		n, err = parsePositiveInt(value)
		cfg.CircuitResetTimeout = time.Duration(n) * time.Second
	default:
		// Unknown keys are ignored to keep the loader forward-compatible.
	}
	return err
}

func (c Config) validate() error {
	if c.ReconnectMaxBackoff < c.ReconnectInitialBackoff {
		return fmt.Errorf("reconnect_max_backoff_ms (%s) is below reconnect_initial_backoff_ms (%s)",
			c.ReconnectMaxBackoff, c.ReconnectInitialBackoff)
	}
	if c.Source == SourceMQTT && strings.TrimSpace(c.MQTTTopic) == "" {
		return errors.New("mqtt_topic cannot be empty when source is mqtt")
	}
	return nil
}

// KafkaEnabled reports whether the republisher should run.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
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

func nonEmpty(v string) (string, error) {
	if strings.TrimSpace(v) == "" {
		return "", errors.New("value cannot be empty")
	}
	return v, nil
}

func parsePositiveInt(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return n, nil
}

func parseMillis(v string) (time.Duration, error) {
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if ms < 0 {
		return 0, errors.New("value must not be negative")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parsePositiveMillis(v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, errors.New("value cannot be empty")
	}
	d, err := parseMillis(v)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return d, nil
}
