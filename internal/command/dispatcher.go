// Package command validates relay commands and publishes them to the device.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/metrics"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/model"
)

// ErrInvalidCommand is matched by every ValidationError.
var ErrInvalidCommand = errors.New(`command must be "ON" or "OFF"`)

// ValidationError rejects a command before anything is published.
type ValidationError struct {
	Action string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid relay command %q: %v", e.Action, ErrInvalidCommand)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidCommand }

// PublishError reports that the broker did not accept the command.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish relay command on %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Publisher sends a payload on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}

type Dispatcher struct {
	pub     Publisher
	topic   string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(pub Publisher, topics model.TopicMap, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		pub:     pub,
		topic:   topics.Topic(model.FieldRelayControl),
		logger:  logger,
		metrics: m,
	}
}

// Dispatch publishes action on the control topic. Only the exact strings
// "ON" and "OFF" are accepted. There is no retry.
func (d *Dispatcher) Dispatch(ctx context.Context, action string) (model.RelayState, error) {
	var state model.RelayState
	switch action {
	case string(model.RelayOn):
		state = model.RelayOn
	case string(model.RelayOff):
		state = model.RelayOff
	default:
		d.metrics.CommandResult("invalid", "rejected")
		return "", &ValidationError{Action: action}
	}

	if err := d.pub.Publish(ctx, d.topic, string(state)); err != nil {
		d.metrics.CommandResult(string(state), "error")
		d.logger.Error("relay command not published", "command", state, "topic", d.topic, "error", err)
		return "", &PublishError{Topic: d.topic, Err: err}
	}
	d.metrics.CommandResult(string(state), "ok")
	d.logger.Info("relay command published", "command", state, "topic", d.topic)
	return state, nil
}
