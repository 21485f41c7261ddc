// Package config loads the bridge configuration: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/cache"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/model"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/storage"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/timeseries"
	"github.com/LeonardoBeccarini/hydroponics_bridge/pkg/broker"
)

type Config struct {
	Port     string `yaml:"port"`
	GRPCPort string `yaml:"grpc_port"`
	LogLevel string `yaml:"log_level"`

	DevicePrefix string           `yaml:"device_prefix"`
	Topics       model.TopicNames `yaml:"topics"`

	MQTT     broker.Config         `yaml:"mqtt"`
	Database storage.Config        `yaml:"database"`
	Breaker  storage.BreakerConfig `yaml:"breaker"`
	Influx   timeseries.Config     `yaml:"influx"`
	Redis    cache.Config          `yaml:"redis"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func Default() Config {
	return Config{
		Port:         "5000",
		LogLevel:     "info",
		DevicePrefix: model.DefaultDevicePrefix,
		Topics:       model.DefaultTopicNames(),
		MQTT: broker.Config{
			Host:           "localhost",
			Port:           1883,
			ClientPrefix:   "Backend_Hidroponik_",
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 5 * time.Second,
			KeepAlive:      30 * time.Second,
			InitialRetries: 5,
		},
		Database: storage.Config{
			Driver:       "sqlite",
			DSN:          "hydroponics.db",
			MaxOpenConns: 10,
			ScanWindow:   storage.DefaultScanWindow,
			WriteTimeout: 5 * time.Second,
			Timezone:     "UTC",
		},
		Breaker: storage.BreakerConfig{
			Name:     "storage",
			Failures: 5,
			Open:     30 * time.Second,
			Interval: time.Minute,
		},
		Influx: timeseries.Config{
			Org:         "hidroponik",
			Bucket:      "readings",
			Measurement: "hydroponic_reading",
		},
		Redis: cache.Config{
			TTL: 24 * time.Hour,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load builds the configuration. path may be empty; CONFIG_FILE is used
// in that case.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.Redis.Key == "" {
		cfg.Redis.Key = cache.Key(cfg.DevicePrefix)
	}
	return cfg, cfg.Validate()
}

func applyEnv(c *Config) error {
	c.Port = getenv("PORT", c.Port)
	c.GRPCPort = getenv("GRPC_PORT", c.GRPCPort)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.DevicePrefix = getenv("DEVICE_PREFIX", c.DevicePrefix)
	c.ShutdownTimeout = getenvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.Topics.Temperature = getenv("TOPIC_TEMPERATURE", c.Topics.Temperature)
	c.Topics.Humidity = getenv("TOPIC_HUMIDITY", c.Topics.Humidity)
	c.Topics.Status = getenv("TOPIC_STATUS", c.Topics.Status)
	c.Topics.RelayControl = getenv("TOPIC_RELAY_CONTROL", c.Topics.RelayControl)
	c.Topics.RelayStatus = getenv("TOPIC_RELAY_STATUS", c.Topics.RelayStatus)

	c.MQTT.Host = getenv("MQTT_BROKER", c.MQTT.Host)
	c.MQTT.Port = getenvInt("MQTT_PORT", c.MQTT.Port)
	c.MQTT.User = getenv("MQTT_USER", c.MQTT.User)
	c.MQTT.Password = getenv("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.ClientPrefix = getenv("MQTT_CLIENT_PREFIX", c.MQTT.ClientPrefix)
	// range-checked before the byte conversion, 256 would wrap to 0
	qos := getenvInt("MQTT_QOS", int(c.MQTT.QoS))
	if qos < 0 || qos > 2 {
		return fmt.Errorf("MQTT_QOS %d out of range", qos)
	}
	c.MQTT.QoS = byte(qos)
	c.MQTT.PublishTimeout = getenvDuration("MQTT_PUBLISH_TIMEOUT", c.MQTT.PublishTimeout)

	c.Database.Driver = getenv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getenv("DB_DSN", c.Database.DSN)
	c.Database.ScanWindow = getenvInt("DB_SCAN_WINDOW", c.Database.ScanWindow)
	c.Database.MaxOpenConns = getenvInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.WriteTimeout = getenvDuration("DB_WRITE_TIMEOUT", c.Database.WriteTimeout)
	c.Database.Timezone = getenv("DB_TIMEZONE", c.Database.Timezone)
	// DB_HOST & co. build a postgres DSN when no explicit DSN is given
	if os.Getenv("DB_DSN") == "" && os.Getenv("DB_HOST") != "" {
		c.Database.Driver = getenv("DB_DRIVER", "pgx")
		c.Database.DSN = postgresDSN(
			os.Getenv("DB_HOST"),
			getenv("DB_PORT", "5432"),
			os.Getenv("DB_USER"),
			os.Getenv("DB_PASSWORD"),
			getenv("DB_NAME", "hidroponik"),
		)
	}

	c.Breaker.Failures = getenvInt("BREAKER_FAILURES", c.Breaker.Failures)
	c.Breaker.Open = getenvDuration("BREAKER_OPEN", c.Breaker.Open)

	c.Influx.URL = getenv("INFLUX_URL", c.Influx.URL)
	c.Influx.Token = getenv("INFLUX_TOKEN", c.Influx.Token)
	c.Influx.Org = getenv("INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = getenv("INFLUX_BUCKET", c.Influx.Bucket)
	c.Influx.Measurement = getenv("INFLUX_MEASUREMENT", c.Influx.Measurement)

	c.Redis.Addr = getenv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getenvInt("REDIS_DB", c.Redis.DB)
	c.Redis.Key = getenv("REDIS_KEY", c.Redis.Key)
	return nil
}

// Validate rejects configurations the bridge cannot start with.
func (c Config) Validate() error {
	if _, err := storage.ParseDialect(c.Database.Driver); err != nil {
		return err
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is empty")
	}
	if c.MQTT.Host == "" || c.MQTT.Port <= 0 {
		return fmt.Errorf("mqtt broker address is incomplete")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos %d out of range", c.MQTT.QoS)
	}
	if _, err := time.LoadLocation(c.Database.Timezone); err != nil {
		return fmt.Errorf("database timezone: %w", err)
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func postgresDSN(host, port, user, password, name string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   host + ":" + port,
		Path:   "/" + name,
	}
	q := u.Query()
	q.Set("sslmode", getenv("DB_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func getenvDuration(k string, d time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			return dur
		}
	}
	return d
}
