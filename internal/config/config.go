package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"climatecloud/internal/modules/climate/policy"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	HistoryCapacity            int
	HistoryDefaultLimit        int
	ChangeThresholdTemperature float64
	ChangeThresholdHumidity    float64
	DefaultSourceID            string

	// PersistenceBackend is "memory" (no durable writes) or "sqlite".
	PersistenceBackend string

	SQLiteDriver          string
	SQLiteDSN             string
	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration
	SQLiteLogQueries      bool

	PersistQueueSize    int
	PersistWriteTimeout time.Duration
	PersistMaxAttempts  int

	MQTTEnabled  bool
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string

	// KafkaBrokers empty disables the change-event publisher.
	KafkaBrokers      []string
	KafkaChangesTopic string

	CORSAllowedOrigins []string
}

func (c Config) SQLiteEnabled() bool {
	return c.PersistenceBackend == BackendSQLite
}

func LoadFromEnv() (Config, error) {
	appEnv, level, err := loadBase()
	if err != nil {
		return Config{}, err
	}

	httpAddr := envString("HTTP_ADDR", ":8080")

	capacity, err := envInt("HISTORY_CAPACITY", 500)
	if err != nil {
		return Config{}, err
	}
	if capacity <= 0 {
		return Config{}, fmt.Errorf("invalid HISTORY_CAPACITY %q: must be positive", strings.TrimSpace(os.Getenv("HISTORY_CAPACITY")))
	}

	defaultLimit, err := envInt("HISTORY_DEFAULT_LIMIT", min(200, capacity))
	if err != nil {
		return Config{}, err
	}
	if defaultLimit <= 0 || defaultLimit > capacity {
		return Config{}, fmt.Errorf("invalid HISTORY_DEFAULT_LIMIT %d (allowed: 1..%d)", defaultLimit, capacity)
	}

	thresholdTemp, err := envThreshold("CHANGE_THRESHOLD_TEMPERATURE", policy.DefaultTemperatureThreshold)
	if err != nil {
		return Config{}, err
	}
	thresholdHum, err := envThreshold("CHANGE_THRESHOLD_HUMIDITY", policy.DefaultHumidityThreshold)
	if err != nil {
		return Config{}, err
	}

	backend := strings.ToLower(envString("PERSISTENCE_BACKEND", BackendMemory))
	switch backend {
	case BackendMemory, BackendSQLite:
	default:
		return Config{}, fmt.Errorf("invalid PERSISTENCE_BACKEND %q (allowed: memory, sqlite)", backend)
	}

	maxOpenConns, err := envInt("SQLITE_MAX_OPEN_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := envInt("SQLITE_MAX_IDLE_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := envDuration("SQLITE_CONN_MAX_LIFETIME", 0)
	if err != nil {
		return Config{}, err
	}
	logQueries, err := envBool("SQLITE_LOG_QUERIES", false)
	if err != nil {
		return Config{}, err
	}

	queueSize, err := envInt("PERSIST_QUEUE_SIZE", 256)
	if err != nil {
		return Config{}, err
	}
	if queueSize <= 0 {
		return Config{}, fmt.Errorf("invalid PERSIST_QUEUE_SIZE %d: must be positive", queueSize)
	}
	writeTimeout, err := envDuration("PERSIST_WRITE_TIMEOUT", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	if writeTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid PERSIST_WRITE_TIMEOUT %s: must be positive", writeTimeout)
	}
	maxAttempts, err := envInt("PERSIST_MAX_ATTEMPTS", 3)
	if err != nil {
		return Config{}, err
	}
	if maxAttempts <= 0 {
		return Config{}, fmt.Errorf("invalid PERSIST_MAX_ATTEMPTS %d: must be positive", maxAttempts)
	}

	mqttEnabled, err := envBool("MQTT_ENABLED", true)
	if err != nil {
		return Config{}, err
	}
	mqttPort, err := envInt("MQTT_PORT", 1883)
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:   appEnv,
		LogLevel: level,
		HTTPAddr: httpAddr,

		HistoryCapacity:            capacity,
		HistoryDefaultLimit:        defaultLimit,
		ChangeThresholdTemperature: thresholdTemp,
		ChangeThresholdHumidity:    thresholdHum,
		DefaultSourceID:            envString("DEFAULT_SOURCE_ID", "esp32-s3"),

		PersistenceBackend: backend,

		SQLiteDriver:          envString("SQLITE_DRIVER", "sqlite3"),
		SQLiteDSN:             envString("SQLITE_DSN", ""),
		SQLitePath:            envString("SQLITE_PATH", "data/climate.db"),
		SQLiteMaxOpenConns:    maxOpenConns,
		SQLiteMaxIdleConns:    maxIdleConns,
		SQLiteConnMaxLifetime: connMaxLifetime,
		SQLiteLogQueries:      logQueries,

		PersistQueueSize:    queueSize,
		PersistWriteTimeout: writeTimeout,
		PersistMaxAttempts:  maxAttempts,

		MQTTEnabled:  mqttEnabled,
		MQTTBroker:   envString("MQTT_BROKER", "localhost"),
		MQTTPort:     mqttPort,
		MQTTClientID: envString("MQTT_CLIENT_ID", "climatecloud-server"),
		MQTTTopic:    envString("MQTT_TOPIC", "climate/+/readings"),

		KafkaBrokers:      envList("KAFKA_BROKERS"),
		KafkaChangesTopic: envString("KAFKA_CHANGES_TOPIC", "climate.changes"),

		CORSAllowedOrigins: envList("CORS_ALLOWED_ORIGINS"),
	}, nil
}

// SimulatorConfig configures cmd/simulator.
type SimulatorConfig struct {
	AppEnv   string
	LogLevel slog.Level

	// Target is "http" or "mqtt".
	Target   string
	HTTPURL  string
	Interval time.Duration
	SourceID string

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
}

func LoadSimulatorFromEnv() (SimulatorConfig, error) {
	appEnv, level, err := loadBase()
	if err != nil {
		return SimulatorConfig{}, err
	}

	target := strings.ToLower(envString("SIM_TARGET", "http"))
	switch target {
	case "http", "mqtt":
	default:
		return SimulatorConfig{}, fmt.Errorf("invalid SIM_TARGET %q (allowed: http, mqtt)", target)
	}

	interval, err := envDuration("SIM_INTERVAL", 2*time.Second)
	if err != nil {
		return SimulatorConfig{}, err
	}
	if interval <= 0 {
		return SimulatorConfig{}, fmt.Errorf("invalid SIM_INTERVAL %s: must be positive", interval)
	}

	mqttPort, err := envInt("MQTT_PORT", 1883)
	if err != nil {
		return SimulatorConfig{}, err
	}

	return SimulatorConfig{
		AppEnv:       appEnv,
		LogLevel:     level,
		Target:       target,
		HTTPURL:      envString("SIM_HTTP_URL", "http://localhost:8080/api/sensor"),
		Interval:     interval,
		SourceID:     envString("SIM_SOURCE_ID", "esp32-s3"),
		MQTTBroker:   envString("MQTT_BROKER", "localhost"),
		MQTTPort:     mqttPort,
		MQTTClientID: envString("MQTT_CLIENT_ID", "climatecloud-simulator"),
	}, nil
}

func loadBase() (string, slog.Level, error) {
	appEnv := envString("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return "", slog.LevelInfo, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envString("LOG_LEVEL", "info"))
	if err != nil {
		return "", slog.LevelInfo, err
	}
	return appEnv, level, nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func envThreshold(key string, def float64) (float64, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid %s %q: must be a finite non-negative number", key, s)
	}
	return f, nil
}

// envList splits a comma separated value, dropping empty items.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
