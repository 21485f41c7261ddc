// Package broker wraps the paho MQTT client: connection with backoff,
// multi-topic consumer and publisher.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	ClientID       string        `yaml:"-"`
	ClientPrefix   string        `yaml:"client_prefix"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	// InitialRetries bounds the blocking connect phase; after that the
	// client keeps retrying in the background.
	InitialRetries int `yaml:"initial_retries"`
}

// Addr returns the broker URL in paho format.
func (c *Config) Addr() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// NewClientID appends 8 random hex chars to prefix, unique per process start.
func NewClientID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + id[:8]
}

// ConnectionError reports that the broker was not reachable within the
// blocking connect phase. The client returned alongside it is still usable
// and keeps reconnecting.
type ConnectionError struct {
	Broker string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mqtt broker %s unreachable: %v", e.Broker, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func newOptions(cfg *Config, onConnect mqtt.OnConnectHandler, logger *slog.Logger) *mqtt.ClientOptions {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = NewClientID(cfg.ClientPrefix)
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Addr())
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Addr(), "client_id", clientID)
		if onConnect != nil {
			onConnect(c)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("mqtt reconnecting", "broker", cfg.Addr())
	})
	return opts
}

// NewConn creates the client and connects with exponential backoff.
// onConnect runs after every successful (re)connection, which is where
// subscriptions belong. If the broker stays down for the initial phase the
// client is returned together with a *ConnectionError and a background loop
// keeps trying until ctx ends.
func NewConn(ctx context.Context, cfg *Config, onConnect mqtt.OnConnectHandler, logger *slog.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := mqtt.NewClient(newOptions(cfg, onConnect, logger))

	connect := func() error {
		tok := client.Connect()
		if !tok.WaitTimeout(connectWait(cfg)) {
			return fmt.Errorf("connect to %s timed out", cfg.Addr())
		}
		if err := tok.Error(); err != nil {
			logger.Warn("failed to connect to mqtt broker", "broker", cfg.Addr(), "error", err)
			return err
		}
		return nil
	}

	// Exponential backoff per i retry in caso di fail
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	retries := cfg.InitialRetries
	if retries <= 0 {
		retries = 5
	}
	err := backoff.Retry(connect, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err == nil {
		return client, nil
	}

	go func() {
		forever := backoff.NewExponentialBackOff()
		forever.MaxElapsedTime = 0
		forever.MaxInterval = 30 * time.Second
		if err := backoff.Retry(connect, backoff.WithContext(forever, ctx)); err != nil {
			logger.Info("mqtt background connect stopped", "error", err)
		}
	}()
	return client, &ConnectionError{Broker: cfg.Addr(), Err: err}
}

func connectWait(cfg *Config) time.Duration {
	if cfg.ConnectTimeout > 0 {
		return cfg.ConnectTimeout + time.Second
	}
	return 31 * time.Second
}

// Close disconnects the client, letting in-flight work complete for 250ms.
func Close(client mqtt.Client) {
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}
