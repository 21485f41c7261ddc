// Package metrics exposes bridge counters in Prometheus format.
// All methods are safe on a nil *Metrics so components can run without it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hydroponics"

type Metrics struct {
	registry *prometheus.Registry

	messages    *prometheus.CounterVec
	ignored     prometheus.Counter
	persisted   *prometheus.CounterVec
	commands    *prometheus.CounterVec
	mqttUp      prometheus.Gauge
	breakerOpen *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "mqtt_messages_total",
			Help: "Sensor messages applied to the snapshot, by field.",
		}, []string{"field"}),
		ignored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "mqtt_messages_ignored_total",
			Help: "Messages received on topics outside the topic map.",
		}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reading_writes_total",
			Help: "Asynchronous reading writes, by sink and result.",
		}, []string{"sink", "result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "relay_commands_total",
			Help: "Relay commands received over HTTP, by action and result.",
		}, []string{"action", "result"}),
		mqttUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "mqtt_connected",
			Help: "1 while the MQTT session is open.",
		}),
		breakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_open",
			Help: "1 while the named circuit breaker is not closed.",
		}, []string{"name"}),
	}
	m.registry.MustRegister(
		m.messages, m.ignored, m.persisted, m.commands, m.mqttUp, m.breakerOpen,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is exposed for tests and for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MessageApplied(field string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(field).Inc()
}

func (m *Metrics) MessageIgnored() {
	if m == nil {
		return
	}
	m.ignored.Inc()
}

func (m *Metrics) WriteResult(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.persisted.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) CommandResult(action, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(action, result).Inc()
}

func (m *Metrics) SetMQTTConnected(up bool) {
	if m == nil {
		return
	}
	m.mqttUp.Set(boolToFloat(up))
}

func (m *Metrics) SetBreakerOpen(name string, open bool) {
	if m == nil {
		return
	}
	m.breakerOpen.WithLabelValues(name).Set(boolToFloat(open))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
